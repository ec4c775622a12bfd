package sync

import (
	"context"
	"errors"

	"shopsync/internal/job"
	"shopsync/internal/retailer"
	"shopsync/internal/store"

	"golang.org/x/sync/errgroup"
)

func (p *Pipeline) newDailySync() *job.Workflow {
	return &job.Workflow{
		Name: "daily-sync",
		Title: func(context.Context, job.Event) (string, error) {
			return "Daily sync", nil
		},
		Run: p.runDailySync,
	}
}

// runDailySync fans out per-store scrapes for every due store, bounded per
// retailer, then chains the reindex and search rebuild. A child that is
// already running is skipped, not failed: another trigger owns it.
func (p *Pipeline) runDailySync(rc *job.Run, ev job.Event) error {
	due, err := job.Step(rc, "stores-pending-sync", func(ctx context.Context) ([]store.Store, error) {
		return p.registry.StoresPendingSync(ctx)
	})
	if err != nil {
		return err
	}

	byRetailer := make(map[retailer.Retailer][]store.Store)
	for _, s := range due {
		byRetailer[s.Retailer] = append(byRetailer[s.Retailer], s)
	}
	rc.Logger().Info("daily sync starting", "due_stores", len(due), "retailers", len(byRetailer))

	// Retailers scrape in parallel with independent per-retailer store gates.
	outer, _ := errgroup.WithContext(rc.Context())
	for r, stores := range byRetailer {
		outer.Go(func() error {
			inner, _ := errgroup.WithContext(rc.Context())
			inner.SetLimit(p.config.StoreConcurrency)
			for _, s := range stores {
				inner.Go(func() error {
					return p.invokeChild(rc, p.ScrapeStore, ScrapeInput{
						Retailer: r,
						StoreID:  s.ID,
						Mode:     ModeFull,
					})
				})
			}
			return inner.Wait()
		})
	}
	if err := outer.Wait(); err != nil {
		return err
	}

	if err := p.invokeChild(rc, p.ReindexProducts, nil); err != nil {
		return err
	}
	return p.invokeChild(rc, p.RebuildSearch, nil)
}

// invokeChild runs a child workflow and treats the duplicate-start control
// signal as a skip.
func (p *Pipeline) invokeChild(rc *job.Run, wf *job.Workflow, payload any) error {
	err := rc.Invoke(wf, payload)
	if errors.Is(err, job.ErrAlreadyRunning) {
		rc.Logger().Info("child already running, skipping", "workflow", wf.Name)
		return nil
	}
	return err
}
