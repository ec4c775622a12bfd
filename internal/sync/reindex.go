package sync

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"shopsync/internal/job"
	"shopsync/internal/retailer"
	"shopsync/internal/store"
)

func (p *Pipeline) newReindexProducts() *job.Workflow {
	return &job.Workflow{
		Name:     "index/products",
		Internal: true,
		Run:      p.runReindexProducts,
	}
}

// snapshotPriority orders backing snapshots when recomputing derived meta
// product fields: Foodstuffs data is cleaner, so it wins ties.
var snapshotPriority = map[retailer.Retailer]int{
	retailer.PakNSave:   0,
	retailer.NewWorld:   1,
	retailer.Woolworths: 2,
}

func (p *Pipeline) runReindexProducts(rc *job.Run, ev job.Event) error {
	if err := rc.Do("reindex-products", p.catalog.ReindexProducts); err != nil {
		return err
	}

	if err := p.invokeChild(rc, p.ResolveBarcodes, nil); err != nil {
		return err
	}

	allocated, err := job.Step(rc, "allocate-meta-products", func(ctx context.Context) ([2]int, error) {
		inserted, linked, err := p.catalog.AllocateMetaProducts(ctx)
		return [2]int{inserted, linked}, err
	})
	if err != nil {
		return err
	}
	rc.Logger().Info("meta products allocated", "inserted", allocated[0], "linked", allocated[1])

	if err := rc.Do("recompute-meta-products", p.recomputeMetaProducts); err != nil {
		return err
	}

	return rc.Do("reindex-brands", p.catalog.ReindexBrands)
}

// recomputeMetaProducts pages every meta product, regenerates its derived
// fields from the backing snapshots, and deletes the ones nothing backs
// anymore.
func (p *Pipeline) recomputeMetaProducts(ctx context.Context) error {
	mappings, err := p.categoryMapping(ctx)
	if err != nil {
		return err
	}

	var orphans []string
	for page := 0; ; page++ {
		metas, err := p.catalog.MetaProductPage(ctx, page, p.config.PageSize)
		if err != nil {
			return fmt.Errorf("meta product page %d: %w", page, err)
		}
		if len(metas) == 0 {
			break
		}

		updates := make([]store.MetaProductUpdate, 0, len(metas))
		brandSet := make(map[string]store.Brand)
		for _, m := range metas {
			if len(m.Payloads) == 0 {
				orphans = append(orphans, m.Meta.ID)
				continue
			}
			upd := recomputeMeta(m, mappings)
			if upd.BrandID != nil && upd.BrandName != nil {
				brandSet[*upd.BrandID] = store.Brand{ID: *upd.BrandID, Name: *upd.BrandName}
			}
			updates = append(updates, upd)
		}

		if len(brandSet) > 0 {
			brands := make([]store.Brand, 0, len(brandSet))
			for _, b := range brandSet {
				brands = append(brands, b)
			}
			if err := p.catalog.EnsureBrands(ctx, brands); err != nil {
				return err
			}
		}
		if len(updates) > 0 {
			if err := p.catalog.UpdateMetaProducts(ctx, updates); err != nil {
				return err
			}
		}
	}

	if len(orphans) > 0 {
		if err := p.catalog.DeleteMetaProducts(ctx, orphans); err != nil {
			return err
		}
	}
	return nil
}

// categoryMapping loads the retailer-category to unified-category links as a
// lookup keyed "retailer|retailerCategoryID".
func (p *Pipeline) categoryMapping(ctx context.Context) (map[string]string, error) {
	rows, err := p.catalog.CategoryMappings(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, m := range rows {
		out[string(m.Retailer)+"|"+m.RetailerID] = m.CategoryID
	}
	return out, nil
}

// recomputeMeta derives title, brand, image and unified categories from the
// backing snapshots, first non-empty field in snapshot priority order.
func recomputeMeta(m store.MetaProductSnapshots, mappings map[string]string) store.MetaProductUpdate {
	payloads := append([]retailer.Payload(nil), m.Payloads...)
	sort.SliceStable(payloads, func(i, j int) bool {
		return snapshotPriority[payloads[i].Retailer()] < snapshotPriority[payloads[j].Retailer()]
	})

	upd := store.MetaProductUpdate{ID: m.Meta.ID}
	for _, pl := range payloads {
		title, brand, image := snapshotFields(pl)
		if upd.Title == "" && title != "" {
			upd.Title = title
		}
		if upd.BrandID == nil && brand != "" {
			id := slugify(brand)
			upd.BrandID = &id
			upd.BrandName = &brand
		}
		if upd.ImageURL == nil && image != "" {
			img := image
			upd.ImageURL = &img
		}
	}

	seen := make(map[string]bool)
	for r, ids := range m.CategoryIDs {
		for _, id := range ids {
			unified, ok := mappings[string(r)+"|"+id]
			if !ok || seen[unified] {
				continue
			}
			seen[unified] = true
			upd.CategoryIDs = append(upd.CategoryIDs, unified)
		}
	}
	sort.Strings(upd.CategoryIDs)

	return upd
}

func snapshotFields(pl retailer.Payload) (title, brand, image string) {
	switch v := pl.(type) {
	case *retailer.FoodstuffsProduct:
		if id, _, ok := strings.Cut(v.ProductID, "-"); ok && id != "" {
			image = "https://a.fsimg.co.nz/product/retail/fan/image/500x500/" + id + ".png"
		}
		return v.Name, v.Brand, image
	case *retailer.WWProduct:
		return v.Name, v.Brand, v.Images.Big
	}
	return "", "", ""
}

// slugify turns a brand name into a stable id.
func slugify(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
