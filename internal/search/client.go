// Package search is a minimal Meilisearch client covering what the index
// rebuild needs: scratch index lifecycle, document batches, and the atomic
// index swap that makes rebuilds blue/green.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"shopsync/internal/store"
)

// Config holds the Meilisearch connection settings.
type Config struct {
	URL    string
	APIKey string

	// Timeout bounds individual HTTP calls (default: 30s).
	Timeout time.Duration
}

// StoreDocument is the projection written to the stores index.
type StoreDocument struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Retailer string   `json:"retailer"`
	Lat      *float64 `json:"lat,omitempty"`
	Lng      *float64 `json:"lng,omitempty"`
}

// Client talks to one Meilisearch instance. Methods that enqueue async tasks
// block until the task settles, so callers observe real completion.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger

	liveIndex    string
	scratchIndex string
	storesIndex  string
}

// New creates a client. The live products index is "products", rebuilt via
// the "products-tmp" scratch index.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	base := cfg.URL
	if len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	return &Client{
		baseURL:      base,
		apiKey:       cfg.APIKey,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		logger:       logger,
		liveIndex:    "products",
		scratchIndex: "products-tmp",
		storesIndex:  "stores",
	}
}

type taskRef struct {
	TaskUID int64 `json:"taskUid"`
}

type taskStatus struct {
	Status string `json:"status"`
	Error  *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// ResetScratch drops and recreates the scratch index so a rebuild always
// starts from empty.
func (c *Client) ResetScratch(ctx context.Context) error {
	exists, err := c.indexExists(ctx, c.scratchIndex)
	if err != nil {
		return err
	}
	if exists {
		var task taskRef
		if err := c.do(ctx, http.MethodDelete, "/indexes/"+c.scratchIndex, nil, &task); err != nil {
			return fmt.Errorf("delete scratch index: %w", err)
		}
		if err := c.waitTask(ctx, task.TaskUID); err != nil {
			return fmt.Errorf("delete scratch index: %w", err)
		}
	}

	body := map[string]string{"uid": c.scratchIndex, "primaryKey": "id"}
	var task taskRef
	if err := c.do(ctx, http.MethodPost, "/indexes", body, &task); err != nil {
		return fmt.Errorf("create scratch index: %w", err)
	}
	return c.waitTask(ctx, task.TaskUID)
}

// AddProducts writes one batch of documents into the scratch index.
func (c *Client) AddProducts(ctx context.Context, docs []store.SearchDocument) error {
	if len(docs) == 0 {
		return nil
	}
	var task taskRef
	if err := c.do(ctx, http.MethodPost, "/indexes/"+c.scratchIndex+"/documents", docs, &task); err != nil {
		return fmt.Errorf("add %d documents: %w", len(docs), err)
	}
	return c.waitTask(ctx, task.TaskUID)
}

// Swap promotes the scratch index to live in one atomic step; readers see
// either the fully-old or the fully-new index.
func (c *Client) Swap(ctx context.Context) error {
	body := []map[string][]string{
		{"indexes": {c.liveIndex, c.scratchIndex}},
	}
	var task taskRef
	if err := c.do(ctx, http.MethodPost, "/swap-indexes", body, &task); err != nil {
		return fmt.Errorf("swap indexes: %w", err)
	}
	if err := c.waitTask(ctx, task.TaskUID); err != nil {
		return fmt.Errorf("swap indexes: %w", err)
	}
	c.logger.Info("search index swapped", "live", c.liveIndex)
	return nil
}

// ReplaceStores overwrites the stores index with the given documents.
func (c *Client) ReplaceStores(ctx context.Context, docs []StoreDocument) error {
	exists, err := c.indexExists(ctx, c.storesIndex)
	if err != nil {
		return err
	}
	if !exists {
		body := map[string]string{"uid": c.storesIndex, "primaryKey": "id"}
		var task taskRef
		if err := c.do(ctx, http.MethodPost, "/indexes", body, &task); err != nil {
			return fmt.Errorf("create stores index: %w", err)
		}
		if err := c.waitTask(ctx, task.TaskUID); err != nil {
			return fmt.Errorf("create stores index: %w", err)
		}
	}

	var task taskRef
	if err := c.do(ctx, http.MethodDelete, "/indexes/"+c.storesIndex+"/documents", nil, &task); err != nil {
		return fmt.Errorf("clear stores index: %w", err)
	}
	if err := c.waitTask(ctx, task.TaskUID); err != nil {
		return fmt.Errorf("clear stores index: %w", err)
	}

	if len(docs) == 0 {
		return nil
	}
	if err := c.do(ctx, http.MethodPost, "/indexes/"+c.storesIndex+"/documents", docs, &task); err != nil {
		return fmt.Errorf("add store documents: %w", err)
	}
	return c.waitTask(ctx, task.TaskUID)
}

func (c *Client) indexExists(ctx context.Context, uid string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/indexes/"+uid, nil)
	if err != nil {
		return false, err
	}
	c.auth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, fmt.Errorf("get index %s: status %d", uid, resp.StatusCode)
}

// waitTask polls an async Meilisearch task until it settles.
func (c *Client) waitTask(ctx context.Context, uid int64) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		var st taskStatus
		if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/tasks/%d", uid), nil, &st); err != nil {
			return err
		}
		switch st.Status {
		case "succeeded":
			return nil
		case "failed", "canceled":
			if st.Error != nil {
				return fmt.Errorf("task %d %s: %s (%s)", uid, st.Status, st.Error.Message, st.Error.Code)
			}
			return fmt.Errorf("task %d %s", uid, st.Status)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.auth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%s %s: decode response: %w", method, path, err)
		}
	}
	return nil
}

func (c *Client) auth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
