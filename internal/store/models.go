// Package store contains the database layer for shopsync.
package store

import (
	"encoding/json"
	"time"

	"shopsync/internal/retailer"
)

// JobStatus represents the state of a workflow run in the ledger.
type JobStatus string

const (
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCancelled JobStatus = "CANCELLED"
)

// Job is one row of the job ledger. The id is derived deterministically from
// the workflow name (plus a workflow-specific key), so concurrent duplicate
// triggers collapse onto the same row.
type Job struct {
	ID          string
	Workflow    string
	Title       string
	Status      JobStatus
	StartedAt   time.Time
	EndedAt     *time.Time
	ParentJobID *string

	// Correlation ids for the individual run.
	RunID   string
	EventID string

	// Message handle for update-in-place lifecycle notifications.
	NotifyMessageID *string
}

// SyncSchedule controls how often a store is scraped.
type SyncSchedule string

const (
	SyncNever   SyncSchedule = "never"
	SyncDaily   SyncSchedule = "daily"
	SyncWeekly  SyncSchedule = "weekly"
	SyncMonthly SyncSchedule = "monthly"
)

// LatLng is a geographic location.
type LatLng struct {
	Lat float64
	Lng float64
}

// Store is one physical retailer store.
type Store struct {
	Retailer        retailer.Retailer
	ID              string
	Name            string
	SyncSchedule    SyncSchedule
	LastSyncedAt    *time.Time
	FallbackStoreID *string // same retailer; substitutes when no direct data exists
	Location        *LatLng
}

// Key returns the canonical store key.
func (s Store) Key() string {
	return retailer.StoreKey(s.Retailer, s.ID)
}

// ProductInStore is a retailer's product as observed at one specific store.
type ProductInStore struct {
	Retailer    retailer.Retailer
	SKU         string
	StoreID     string
	Payload     retailer.Payload
	CategoryIDs []string
	LastSynced  time.Time
}

// Key returns the canonical product-in-store key.
func (p ProductInStore) Key() string {
	return string(p.Retailer) + "-" + p.StoreID + "-" + p.SKU
}

// Product is the store-independent record of a retailer product, keyed
// (retailer, sku). Barcode is nil until resolution is attempted and "" when
// resolution found no valid barcode; MetaProductID is only ever set, never
// cleared, once resolved.
type Product struct {
	Retailer      retailer.Retailer
	SKU           string
	Barcode       *string
	MetaProductID *string
	Payload       retailer.Payload
	CategoryIDs   []string
}

// MetaProduct is the canonical, retailer-agnostic product record, keyed by
// barcode.
type MetaProduct struct {
	ID          string // the barcode
	Barcode     string
	Title       string
	BrandID     *string
	ImageURL    *string
	CategoryIDs []string
}

// MetaProductSnapshots pairs a meta product with the raw payloads of every
// retailer product backing it, used when recomputing derived fields.
type MetaProductSnapshots struct {
	Meta MetaProduct

	// Snapshots, decoded; one per backing retailer product.
	Payloads []retailer.Payload

	// Category ids as observed per retailer (the unified mapping happens
	// during reindexing).
	CategoryIDs map[retailer.Retailer][]string
}

// MetaProductUpdate carries the recomputed derived fields of a meta product.
type MetaProductUpdate struct {
	ID          string
	Title       string
	BrandID     *string
	BrandName   *string
	ImageURL    *string
	CategoryIDs []string
}

// Brand is an auto-created brand entry; the id is a slug of the name.
type Brand struct {
	ID   string
	Name string
}

// BarcodeUpdate records the outcome of one barcode resolution attempt.
// An empty Barcode is the "attempted, nothing found" sentinel.
type BarcodeUpdate struct {
	Retailer retailer.Retailer
	SKU      string
	Barcode  string
}

// CategoryNode is one node of the unified category tree.
type CategoryNode struct {
	ID       string
	Name     string
	Children []CategoryNode
}

// CategoryMapping links a retailer-specific category id to a unified
// category id.
type CategoryMapping struct {
	Retailer   retailer.Retailer
	RetailerID string
	CategoryID string
}

// StorePriceRecord is the read-side projection used by price resolution:
// one product-in-store row joined with its store.
type StorePriceRecord struct {
	MetaProductID string
	Retailer      retailer.Retailer
	SKU           string
	StoreID       string
	StoreName     string
	Payload       retailer.Payload
	LastSynced    *time.Time
}

// StoreKey returns the key of the store holding the record.
func (r StorePriceRecord) StoreKey() string {
	return retailer.StoreKey(r.Retailer, r.StoreID)
}

// SearchDocument is the projection written to the search index.
type SearchDocument struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Brand      string   `json:"brand"`
	ImageURL   string   `json:"image,omitempty"`
	Categories []string `json:"categories"`
	Stores     []string `json:"stores"`

	// Concatenations that improve relevance; not displayed.
	SearchTitle    string `json:"_title"`
	SearchCategory string `json:"_category"`
}

// CacheEntry is a durable cached value with an optional TTL.
type CacheEntry struct {
	Key       string
	Value     json.RawMessage
	UpdatedAt time.Time
	TTL       *time.Duration // nil caches forever
}
