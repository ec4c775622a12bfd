// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and the admin API.
package api

import "time"

// TriggerWorkflowRequest is the request body for triggering a workflow run.
// Retailer, StoreID and Mode are only read by the per-store scrape workflow.
type TriggerWorkflowRequest struct {
	Workflow string `json:"workflow"`
	Retailer string `json:"retailer,omitempty"`
	StoreID  string `json:"store_id,omitempty"`
	Mode     string `json:"mode,omitempty"`
}

// TriggerWorkflowResponse is the response body after triggering a workflow.
type TriggerWorkflowResponse struct {
	JobID string `json:"job_id"`
	RunID string `json:"run_id"`
}

// JobResponse represents one job ledger row in API responses.
type JobResponse struct {
	ID          string     `json:"id"`
	Workflow    string     `json:"workflow"`
	Title       string     `json:"title,omitempty"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	ParentJobID *string    `json:"parent_job_id,omitempty"`
	RunID       string     `json:"run_id"`
}

// RecentJobsResponse is the response body for the recent jobs listing.
type RecentJobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// CancelJobResponse is the response body after cancelling a job.
type CancelJobResponse struct {
	JobID string `json:"job_id"`
}

// StoreResponse represents one registered store in API responses.
type StoreResponse struct {
	Retailer        string     `json:"retailer"`
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	SyncSchedule    string     `json:"sync_schedule"`
	LastSyncedAt    *time.Time `json:"last_synced_at,omitempty"`
	FallbackStoreID *string    `json:"fallback_store_id,omitempty"`
	Lat             *float64   `json:"lat,omitempty"`
	Lng             *float64   `json:"lng,omitempty"`
}

// StoresResponse is the response body for store listings.
type StoresResponse struct {
	Stores []StoreResponse `json:"stores"`
}

// SetFallbackRequest is the request body for setting a store's explicit
// fallback. An empty id clears the mapping.
type SetFallbackRequest struct {
	FallbackStoreID string `json:"fallback_store_id"`
}

// PricesRequest is the request body for resolving prices.
type PricesRequest struct {
	ProductIDs     []string `json:"product_ids"`
	Stores         []string `json:"stores"` // "<retailer>-<storeId>" keys
	AllowFallbacks bool     `json:"allow_fallbacks"`
}

// PriceRow is one resolved price in API responses. Prices are NZD cents.
type PriceRow struct {
	ProductID       string     `json:"product_id"`
	Retailer        string     `json:"retailer"`
	StoreID         string     `json:"store_id"`
	StoreName       string     `json:"store_name"`
	SKU             string     `json:"sku"`
	IsFallbackPrice bool       `json:"is_fallback_price"`
	LastSynced      *time.Time `json:"last_synced,omitempty"`

	OriginalPrice     int      `json:"original_price"`
	OriginalUnitPrice *int     `json:"original_unit_price,omitempty"`
	SalePrice         *int     `json:"sale_price,omitempty"`
	ClubPrice         *int     `json:"club_price,omitempty"`
	MultiBuyPrice     *int     `json:"multi_buy_price,omitempty"`
	MultiBuyThreshold *int     `json:"multi_buy_threshold,omitempty"`
	UnitQty           *float64 `json:"unit_qty,omitempty"`
	UnitQtyUOM        *string  `json:"unit_qty_uom,omitempty"`
	UnitDisplay       *string  `json:"unit_display,omitempty"`
}

// PricesResponse is the response body for price resolution.
type PricesResponse struct {
	Prices []PriceRow `json:"prices"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
