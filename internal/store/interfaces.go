package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"shopsync/internal/retailer"
)

// ErrJobRunning is returned by Ledger.StartJob when the job id already has a
// RUNNING row. It is a control signal, not a failure; callers must not retry.
var ErrJobRunning = errors.New("job already running")

// Ledger is the durable record of workflow runs. The orchestrator is the
// only component that writes it.
type Ledger interface {
	// StartJob upserts the row for job.ID to RUNNING as one atomic unit: a
	// race between two starts for the same id yields exactly one winner, the
	// loser gets ErrJobRunning. Starting resets timestamps and clears any
	// previous notification message id.
	StartJob(ctx context.Context, job *Job) error

	// FinishJob transitions a RUNNING job to status and returns the row,
	// or nil if no row exists. Settlement is first-writer-wins: an already
	// settled row is returned unchanged with its original status.
	FinishJob(ctx context.Context, id string, status JobStatus, endedAt time.Time) (*Job, error)

	// GetJob returns a job by id, or nil if absent.
	GetJob(ctx context.Context, id string) (*Job, error)

	// RecentJobs returns the most recently started jobs.
	RecentJobs(ctx context.Context, limit int) ([]Job, error)

	// RunningChildren returns all RUNNING jobs whose parent is id.
	RunningChildren(ctx context.Context, id string) ([]Job, error)

	// SetJobNotifyMessageID records the notification message handle.
	SetJobNotifyMessageID(ctx context.Context, id, messageID string) error

	// GetStepResult returns the memoized result of a step within a run.
	GetStepResult(ctx context.Context, jobID, runID, step string) (json.RawMessage, bool, error)

	// PutStepResult persists a step result before it is acted upon.
	PutStepResult(ctx context.Context, jobID, runID, step string, result json.RawMessage) error
}

// Registry holds the per-store sync configuration.
type Registry interface {
	// StoresPendingSync returns stores due for a sync: schedule is not
	// "never" and the store was never synced or synced over 12h ago.
	// Oldest first, never-synced first.
	StoresPendingSync(ctx context.Context) ([]Store, error)

	// GetStore returns one store, or nil if unknown.
	GetStore(ctx context.Context, r retailer.Retailer, storeID string) (*Store, error)

	// StoresByKeys returns the stores matching the given keys; unknown keys
	// are silently absent from the result.
	StoresByKeys(ctx context.Context, keys []string) ([]Store, error)

	// StoresWithLocation returns every store that has a geographic location.
	StoresWithLocation(ctx context.Context) ([]Store, error)

	// AllStores returns every registered store.
	AllStores(ctx context.Context) ([]Store, error)

	// UpdateLastSyncedAt stamps a store after a completed scrape.
	UpdateLastSyncedAt(ctx context.Context, r retailer.Retailer, storeID string, now time.Time) error

	// SetFallbackStore records the administrative fallback mapping.
	SetFallbackStore(ctx context.Context, r retailer.Retailer, storeID, fallbackStoreID string) error
}

// Catalog is durable storage for scraped products and the canonical meta
// product table. All methods are safe for concurrent use; upserts from
// parallel scrape steps target disjoint or safely-mergeable keys.
type Catalog interface {
	// UpsertProductsInStore writes one page of scraped products. Category
	// ids are merged, the snapshot is replaced with the newer one, and a
	// daily extracted price row is recorded per product.
	UpsertProductsInStore(ctx context.Context, rows []ProductInStore) error

	// ReindexProducts collapses product_in_store into one product row per
	// (retailer, sku), keeping the best snapshot and merged categories.
	ReindexProducts(ctx context.Context) error

	// ProductsMissingBarcode pages products whose barcode was never
	// attempted (NULL, not the "" sentinel), ordered by sku.
	ProductsMissingBarcode(ctx context.Context, limit int) ([]Product, error)

	// SetBarcodes writes resolution outcomes.
	SetBarcodes(ctx context.Context, updates []BarcodeUpdate) error

	// AllocateMetaProducts creates meta product rows for every resolved
	// barcode and links products to them. Linking is append-only: an
	// existing meta product id is never overwritten.
	AllocateMetaProducts(ctx context.Context) (inserted, linked int, err error)

	// MetaProductPage loads one page of meta products with their backing
	// snapshots for reindexing.
	MetaProductPage(ctx context.Context, page, size int) ([]MetaProductSnapshots, error)

	// UpdateMetaProducts bulk-writes recomputed derived fields.
	UpdateMetaProducts(ctx context.Context, updates []MetaProductUpdate) error

	// DeleteMetaProducts removes meta products with no backing snapshots.
	DeleteMetaProducts(ctx context.Context, ids []string) error

	// EnsureBrands inserts any brands not yet known.
	EnsureBrands(ctx context.Context, brands []Brand) error

	// ReindexBrands recomputes per-brand product counts.
	ReindexBrands(ctx context.Context) error

	// CategoryTree returns the unified category tree.
	CategoryTree(ctx context.Context) ([]CategoryNode, error)

	// CategoryMappings returns the retailer-to-unified category links.
	CategoryMappings(ctx context.Context) ([]CategoryMapping, error)

	// SearchDocumentPage loads one page of search-index projections.
	SearchDocumentPage(ctx context.Context, page, size int) ([]SearchDocument, error)

	// ProductsInStores returns, for the given meta product ids, every
	// product-in-store record held by any of the given stores.
	ProductsInStores(ctx context.Context, metaProductIDs, storeKeys []string) ([]StorePriceRecord, error)

	// MetaProductIDsForSKUs maps (retailer, sku) pairs onto resolved meta
	// product ids; unresolved products are absent from the result.
	MetaProductIDsForSKUs(ctx context.Context, keys []string) (map[string]string, error)
}

// Cache is a durable keyed cache with per-entry TTLs. A nil TTL caches
// indefinitely.
type Cache interface {
	Get(ctx context.Context, key string) (*CacheEntry, error)
	Put(ctx context.Context, entry CacheEntry) error
	Delete(ctx context.Context, key string) error
}
