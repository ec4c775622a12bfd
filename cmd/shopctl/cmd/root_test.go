package cmd

import (
	"testing"

	"github.com/spf13/viper"
)

func resetViper() {
	viper.Reset()
	viper.SetEnvPrefix("SHOPSYNC")
	viper.AutomaticEnv()
}

func TestRoot_EnvVars(t *testing.T) {
	resetViper()

	t.Setenv("SHOPSYNC_TOKEN", "env-token-value")
	t.Setenv("SHOPSYNC_URL", "http://custom-url:6060")

	if got := viper.GetString("token"); got != "env-token-value" {
		t.Errorf("expected token from env var, got: %s", got)
	}
	if got := viper.GetString("url"); got != "http://custom-url:6060" {
		t.Errorf("expected url from env var, got: %s", got)
	}
}
