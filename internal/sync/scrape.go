package sync

import (
	"context"
	"fmt"
	"time"

	"shopsync/internal/job"
	"shopsync/internal/observability"
	"shopsync/internal/retailer"
	"shopsync/internal/store"

	"golang.org/x/sync/errgroup"
)

// ScrapeMode selects how much of a store's category tree a scrape walks.
type ScrapeMode string

const (
	// ModeFull enumerates every leaf category and paginates each to
	// exhaustion.
	ModeFull ScrapeMode = "full"

	// ModeFast samples one leaf per category group at the aisle level,
	// trading completeness for speed. Used for on-demand syncs.
	ModeFast ScrapeMode = "fast"
)

// ScrapeInput is the trigger payload of the per-store scrape workflow.
type ScrapeInput struct {
	Retailer retailer.Retailer `json:"retailer"`
	StoreID  string            `json:"storeId"`
	Mode     ScrapeMode        `json:"mode"`
}

func scrapeInput(ev job.Event) (ScrapeInput, error) {
	in, ok := ev.Payload.(ScrapeInput)
	if !ok {
		return ScrapeInput{}, job.NonRetriable(fmt.Errorf("scrape trigger has payload %T, want ScrapeInput", ev.Payload))
	}
	if in.Mode == "" {
		in.Mode = ModeFull
	}
	return in, nil
}

func (p *Pipeline) newScrapeStore() *job.Workflow {
	return &job.Workflow{
		Name: "scrape/products",
		DeriveID: func(ev job.Event) string {
			in, err := scrapeInput(ev)
			if err != nil {
				return "invalid"
			}
			return retailer.StoreKey(in.Retailer, in.StoreID)
		},
		Title: func(ctx context.Context, ev job.Event) (string, error) {
			in, err := scrapeInput(ev)
			if err != nil {
				return "", err
			}
			name, err := p.names.Get(ctx, in.Retailer, in.StoreID)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Syncing %s", name), nil
		},
		Run: p.runScrapeStore,
	}
}

func (p *Pipeline) runScrapeStore(rc *job.Run, ev job.Event) error {
	in, err := scrapeInput(ev)
	if err != nil {
		return err
	}

	adapter, ok := p.adapters[in.Retailer]
	if !ok {
		return job.NonRetriable(fmt.Errorf("no adapter for retailer %q", in.Retailer))
	}

	leaves, err := job.Step(rc, "categories", func(ctx context.Context) ([]retailer.CategoryLeaf, error) {
		return adapter.Categories(ctx, in.StoreID)
	})
	if err != nil {
		return err
	}

	targets := scrapeTargets(leaves, in.Mode)
	rc.Logger().Info("scraping store",
		"store", retailer.StoreKey(in.Retailer, in.StoreID),
		"mode", string(in.Mode),
		"categories", len(targets),
	)

	g, _ := errgroup.WithContext(rc.Context())
	g.SetLimit(p.config.GroupConcurrency)
	for _, t := range targets {
		g.Go(func() error {
			n, err := p.scrapeLeaf(rc, adapter, in, t)
			if err != nil {
				return err
			}
			rc.Logger().Debug("category scraped", "category", t.Leaf.ID, "products", n)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return rc.Do("update-last-synced", func(ctx context.Context) error {
		return p.registry.UpdateLastSyncedAt(ctx, in.Retailer, in.StoreID, time.Now().UTC())
	})
}

// scrapeTarget is one category fetch unit: a leaf plus the query depth.
type scrapeTarget struct {
	Leaf       retailer.CategoryLeaf
	ExactShelf bool
}

// scrapeTargets selects which leaves to walk. Full mode takes every leaf at
// shelf depth; fast mode takes the first leaf of each department>aisle group
// at aisle depth, which returns a superset per query but far fewer queries.
func scrapeTargets(leaves []retailer.CategoryLeaf, mode ScrapeMode) []scrapeTarget {
	if mode != ModeFast {
		out := make([]scrapeTarget, 0, len(leaves))
		for _, l := range leaves {
			out = append(out, scrapeTarget{Leaf: l, ExactShelf: true})
		}
		return out
	}

	seen := make(map[string]bool)
	var out []scrapeTarget
	for _, l := range leaves {
		if seen[l.GroupKey()] {
			continue
		}
		seen[l.GroupKey()] = true
		out = append(out, scrapeTarget{Leaf: l, ExactShelf: false})
	}
	return out
}

// scrapeLeaf paginates one category to the first empty page, upserting every
// page immediately so partial progress survives a retry. The whole category
// is one memoized step keyed by its leaf id.
func (p *Pipeline) scrapeLeaf(rc *job.Run, adapter retailer.Adapter, in ScrapeInput, t scrapeTarget) (int, error) {
	return job.Step(rc, "scrape:"+t.Leaf.ID, func(ctx context.Context) (int, error) {
		total := 0
		for page := 0; page < p.config.MaxPages; page++ {
			res, err := adapter.FetchPage(ctx, retailer.PageQuery{
				StoreID:    in.StoreID,
				Leaf:       t.Leaf,
				Page:       page,
				ExactShelf: t.ExactShelf,
			})
			if err != nil {
				if retailer.IsEmptyResultQuirk(err) {
					break
				}
				return 0, fmt.Errorf("fetch %s page %d: %w", t.Leaf.ID, page, err)
			}
			observability.PagesScraped.WithLabelValues(string(in.Retailer)).Inc()
			if len(res.Products) == 0 {
				break
			}

			now := time.Now().UTC()
			rows := make([]store.ProductInStore, 0, len(res.Products))
			for _, rec := range res.Products {
				rows = append(rows, store.ProductInStore{
					Retailer:    in.Retailer,
					SKU:         rec.SKU,
					StoreID:     in.StoreID,
					Payload:     rec.Payload,
					CategoryIDs: rec.CategoryIDs,
					LastSynced:  now,
				})
			}
			if err := p.catalog.UpsertProductsInStore(ctx, rows); err != nil {
				return 0, fmt.Errorf("upsert %s page %d: %w", t.Leaf.ID, page, err)
			}
			observability.ProductsUpserted.WithLabelValues(string(in.Retailer)).Add(float64(len(rows)))
			total += len(rows)
		}
		return total, nil
	})
}
