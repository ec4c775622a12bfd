package sync

import (
	"context"
	"fmt"

	"shopsync/internal/job"
	"shopsync/internal/search"
)

func (p *Pipeline) newRebuildSearch() *job.Workflow {
	return &job.Workflow{
		Name: "index/search",
		Title: func(context.Context, job.Event) (string, error) {
			return "Rebuilding search index", nil
		},
		Run: p.runRebuildSearch,
	}
}

// runRebuildSearch rebuilds the product index blue/green: fill a scratch
// index from scratch, then atomically swap it live. The stores index is
// small and refreshed in place afterwards.
func (p *Pipeline) runRebuildSearch(rc *job.Run, ev job.Event) error {
	if err := rc.Do("reset-scratch", p.search.ResetScratch); err != nil {
		return err
	}

	total, err := job.Step(rc, "fill-scratch", func(ctx context.Context) (int, error) {
		count := 0
		for page := 0; ; page++ {
			docs, err := p.catalog.SearchDocumentPage(ctx, page, p.config.PageSize)
			if err != nil {
				return 0, fmt.Errorf("search document page %d: %w", page, err)
			}
			if len(docs) == 0 {
				return count, nil
			}
			if err := p.search.AddProducts(ctx, docs); err != nil {
				return 0, err
			}
			count += len(docs)
		}
	})
	if err != nil {
		return err
	}
	rc.Logger().Info("scratch index filled", "documents", total)

	if err := rc.Do("swap", p.search.Swap); err != nil {
		return err
	}

	return rc.Do("refresh-store-index", func(ctx context.Context) error {
		stores, err := p.registry.AllStores(ctx)
		if err != nil {
			return err
		}
		docs := make([]search.StoreDocument, 0, len(stores))
		for _, s := range stores {
			doc := search.StoreDocument{
				ID:       s.Key(),
				Name:     s.Name,
				Retailer: string(s.Retailer),
			}
			if s.Location != nil {
				lat, lng := s.Location.Lat, s.Location.Lng
				doc.Lat = &lat
				doc.Lng = &lng
			}
			docs = append(docs, doc)
		}
		return p.search.ReplaceStores(ctx, docs)
	})
}
