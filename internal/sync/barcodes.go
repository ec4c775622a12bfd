package sync

import (
	"context"
	"encoding/json"
	"errors"
	gosync "sync"
	"time"

	"shopsync/internal/job"
	"shopsync/internal/observability"
	"shopsync/internal/retailer"
	"shopsync/internal/store"

	"golang.org/x/sync/errgroup"
)

func (p *Pipeline) newResolveBarcodes() *job.Workflow {
	return &job.Workflow{
		Name:     "scrape/barcodes",
		Internal: true,
		Run:      p.runResolveBarcodes,
	}
}

// runResolveBarcodes is one long step rather than a step per batch: partial
// progress is persisted as it goes, so re-running from the top is both
// correct and cheap once most barcodes are known.
func (p *Pipeline) runResolveBarcodes(rc *job.Run, ev job.Event) error {
	return rc.Do("resolve-all", func(ctx context.Context) error {
		resolved := 0
		deferred := make(map[string]bool)
		for {
			// Products that fail transiently stay NULL and keep their place
			// in the deterministic missing order, so fetch enough rows to see
			// past the ones this run has already given up on.
			prods, err := p.catalog.ProductsMissingBarcode(ctx, p.config.BarcodeBatch+len(deferred))
			if err != nil {
				return err
			}

			batch := make([]store.Product, 0, p.config.BarcodeBatch)
			for _, prod := range prods {
				if deferred[retailer.ProductKey(prod.Retailer, prod.SKU)] {
					continue
				}
				batch = append(batch, prod)
				if len(batch) == p.config.BarcodeBatch {
					break
				}
			}
			if len(batch) == 0 {
				break // everything left was already attempted this run
			}

			var mu gosync.Mutex
			var updates []store.BarcodeUpdate

			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(p.config.BarcodeConcurrency)
			for _, prod := range batch {
				g.Go(func() error {
					barcode, ok := p.resolveBarcode(gctx, rc, prod)
					if !ok {
						observability.BarcodesResolved.WithLabelValues("deferred").Inc()
						return nil // transient, retry next run
					}
					if barcode == "" {
						observability.BarcodesResolved.WithLabelValues("missing").Inc()
					} else {
						observability.BarcodesResolved.WithLabelValues("resolved").Inc()
					}
					mu.Lock()
					updates = append(updates, store.BarcodeUpdate{
						Retailer: prod.Retailer,
						SKU:      prod.SKU,
						Barcode:  barcode,
					})
					mu.Unlock()
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			settled := make(map[string]bool, len(updates))
			for _, u := range updates {
				settled[retailer.ProductKey(u.Retailer, u.SKU)] = true
			}
			for _, prod := range batch {
				if key := retailer.ProductKey(prod.Retailer, prod.SKU); !settled[key] {
					deferred[key] = true
				}
			}

			if len(updates) > 0 {
				if err := p.catalog.SetBarcodes(ctx, updates); err != nil {
					return err
				}
				resolved += len(updates)
			}
		}

		rc.Logger().Info("barcode resolution finished", "resolved", resolved, "deferred", len(deferred))
		return nil
	})
}

// resolveBarcode returns the barcode outcome for one product. The empty
// string is the "attempted, nothing valid found" sentinel. ok=false means
// the attempt failed transiently and the product must stay unresolved.
func (p *Pipeline) resolveBarcode(ctx context.Context, rc *job.Run, prod store.Product) (string, bool) {
	if prod.Retailer == retailer.Woolworths {
		// Woolworths carries the barcode in the listing payload.
		if ww, ok := prod.Payload.(*retailer.WWProduct); ok && retailer.ValidGTIN(ww.Barcode) {
			return ww.Barcode, true
		}
		return "", true
	}

	cacheKey := "barcode:" + retailer.ProductKey(prod.Retailer, prod.SKU)
	if entry, err := p.cache.Get(ctx, cacheKey); err == nil && entry != nil {
		var cached string
		if json.Unmarshal(entry.Value, &cached) == nil && retailer.ValidGTIN(cached) {
			return cached, true
		}
	}

	adapter, ok := p.adapters[prod.Retailer]
	if !ok {
		return "", true
	}

	barcode, err := adapter.ResolveBarcode(ctx, "", prod.SKU)
	if err != nil {
		var ue *retailer.UpstreamError
		if errors.As(err, &ue) && ue.StatusCode == 404 {
			return "", true // product gone upstream, do not retry forever
		}
		rc.Logger().Warn("barcode lookup failed",
			"product", retailer.ProductKey(prod.Retailer, prod.SKU),
			"error", err,
		)
		return "", false
	}

	if !retailer.ValidGTIN(barcode) {
		return "", true
	}

	if raw, err := json.Marshal(barcode); err == nil {
		// Barcodes never change; cache indefinitely.
		putErr := p.cache.Put(ctx, store.CacheEntry{
			Key:       cacheKey,
			Value:     raw,
			UpdatedAt: time.Now().UTC(),
		})
		if putErr != nil {
			rc.Logger().Warn("barcode cache write failed", "key", cacheKey, "error", putErr)
		}
	}
	return barcode, true
}
