package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"shopsync/pkg/api"

	"github.com/spf13/viper"
)

func TestCancelCommand(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST method, got %s", r.Method)
		}
		if r.URL.Path != "/jobs/scrape%2Fproducts:ww-1234/cancel" && r.URL.Path != "/jobs/scrape/products:ww-1234/cancel" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		json.NewEncoder(w).Encode(api.CancelJobResponse{JobID: "scrape/products:ww-1234"})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"cancel", "scrape/products:ww-1234"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(stdout.String(), "Cancelled scrape/products:ww-1234") {
		t.Errorf("expected cancellation confirmation, got: %s", stdout.String())
	}
}
