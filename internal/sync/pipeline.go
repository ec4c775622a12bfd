// Package sync contains the concrete workflows built on the orchestrator:
// the daily driver, per-store catalog scraping, barcode resolution,
// canonical-product reindexing, and the blue/green search index rebuild.
package sync

import (
	"context"
	"log/slog"

	"shopsync/internal/job"
	"shopsync/internal/retailer"
	"shopsync/internal/search"
	"shopsync/internal/store"
)

// Config holds the pipeline's tuning knobs.
type Config struct {
	// StoreConcurrency bounds concurrent store scrapes per retailer (default: 4).
	StoreConcurrency int

	// GroupConcurrency bounds concurrent category groups within one store
	// scrape (default: 6).
	GroupConcurrency int

	// BarcodeConcurrency bounds concurrent barcode lookups (default: 20).
	BarcodeConcurrency int

	// BarcodeBatch is the page size when scanning unresolved products
	// (default: 200).
	BarcodeBatch int

	// PageSize is the page size for meta product and search document paging
	// (default: 500).
	PageSize int

	// MaxPages caps pagination per category so a misbehaving upstream cannot
	// loop a scrape forever (default: 100).
	MaxPages int
}

func (c *Config) applyDefaults() {
	if c.StoreConcurrency <= 0 {
		c.StoreConcurrency = 4
	}
	if c.GroupConcurrency <= 0 {
		c.GroupConcurrency = 6
	}
	if c.BarcodeConcurrency <= 0 {
		c.BarcodeConcurrency = 20
	}
	if c.BarcodeBatch <= 0 {
		c.BarcodeBatch = 200
	}
	if c.PageSize <= 0 {
		c.PageSize = 500
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 100
	}
}

// SearchIndex is the slice of the search client the pipeline depends on.
// The swap is atomic from a reader's perspective.
type SearchIndex interface {
	ResetScratch(ctx context.Context) error
	AddProducts(ctx context.Context, docs []store.SearchDocument) error
	Swap(ctx context.Context) error
	ReplaceStores(ctx context.Context, docs []search.StoreDocument) error
}

// Pipeline wires the sync workflows to their collaborators and registers
// them on the orchestrator.
type Pipeline struct {
	orch     *job.Orchestrator
	registry store.Registry
	catalog  store.Catalog
	cache    store.Cache
	search   SearchIndex
	adapters map[retailer.Retailer]retailer.Adapter
	names    *StoreNames
	logger   *slog.Logger
	config   Config

	// The registered workflows, exported for triggering.
	DailySync       *job.Workflow
	ScrapeStore     *job.Workflow
	ResolveBarcodes *job.Workflow
	ReindexProducts *job.Workflow
	RebuildSearch   *job.Workflow
}

// New builds the pipeline and registers its workflows.
func New(
	orch *job.Orchestrator,
	registry store.Registry,
	catalog store.Catalog,
	cache store.Cache,
	searchIndex SearchIndex,
	adapters map[retailer.Retailer]retailer.Adapter,
	logger *slog.Logger,
	config Config,
) *Pipeline {
	config.applyDefaults()

	p := &Pipeline{
		orch:     orch,
		registry: registry,
		catalog:  catalog,
		cache:    cache,
		search:   searchIndex,
		adapters: adapters,
		names:    NewStoreNames(registry, 256),
		logger:   logger,
		config:   config,
	}

	p.DailySync = p.newDailySync()
	p.ScrapeStore = p.newScrapeStore()
	p.ResolveBarcodes = p.newResolveBarcodes()
	p.ReindexProducts = p.newReindexProducts()
	p.RebuildSearch = p.newRebuildSearch()

	for _, wf := range []*job.Workflow{
		p.DailySync,
		p.ScrapeStore,
		p.ResolveBarcodes,
		p.ReindexProducts,
		p.RebuildSearch,
	} {
		orch.Register(wf)
	}

	return p
}
