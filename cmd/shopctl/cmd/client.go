package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"shopsync/pkg/api"
)

// AdminClient handles API calls to the syncd admin API.
type AdminClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewAdminClient creates a new client with the given base URL and token.
func NewAdminClient(baseURL, token string) *AdminClient {
	return &AdminClient{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

func (c *AdminClient) do(method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, rd)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.Token != "" {
		req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.Token))
	}
	req.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// TriggerWorkflow sends POST /workflows/run.
func (c *AdminClient) TriggerWorkflow(req api.TriggerWorkflowRequest) (*api.TriggerWorkflowResponse, error) {
	var resp api.TriggerWorkflowResponse
	if err := c.do(http.MethodPost, "/workflows/run", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelJob sends POST /jobs/{id}/cancel.
func (c *AdminClient) CancelJob(jobID string) (*api.CancelJobResponse, error) {
	var resp api.CancelJobResponse
	if err := c.do(http.MethodPost, "/jobs/"+url.PathEscape(jobID)+"/cancel", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetJob sends GET /jobs/{id}.
func (c *AdminClient) GetJob(jobID string) (*api.JobResponse, error) {
	var resp api.JobResponse
	if err := c.do(http.MethodGet, "/jobs/"+url.PathEscape(jobID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RecentJobs sends GET /jobs.
func (c *AdminClient) RecentJobs(limit int) ([]api.JobResponse, error) {
	var resp api.RecentJobsResponse
	if err := c.do(http.MethodGet, fmt.Sprintf("/jobs?limit=%d", limit), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// Stores sends GET /stores, or GET /stores/pending when pending is set.
func (c *AdminClient) Stores(pending bool) ([]api.StoreResponse, error) {
	path := "/stores"
	if pending {
		path = "/stores/pending"
	}
	var resp api.StoresResponse
	if err := c.do(http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Stores, nil
}

// SetFallbackStore sends PUT /stores/{retailer}/{id}/fallback.
func (c *AdminClient) SetFallbackStore(retailer, storeID, fallbackID string) error {
	path := fmt.Sprintf("/stores/%s/%s/fallback", url.PathEscape(retailer), url.PathEscape(storeID))
	return c.do(http.MethodPut, path, api.SetFallbackRequest{FallbackStoreID: fallbackID}, nil)
}

// Prices sends POST /prices.
func (c *AdminClient) Prices(req api.PricesRequest) ([]api.PriceRow, error) {
	var resp api.PricesResponse
	if err := c.do(http.MethodPost, "/prices", req, &resp); err != nil {
		return nil, err
	}
	return resp.Prices, nil
}
