// Package price implements the read-time price resolution engine: given
// canonical product ids and requested stores, it produces a ranked,
// deduplicated price list with a three-tier fallback strategy. It has no
// dependency on the orchestrator.
package price

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"shopsync/internal/retailer"
	"shopsync/internal/store"
)

// GeoFallbackLimit caps how many nearby stores a geographic fallback may
// surface per requested store.
const GeoFallbackLimit = 5

// StoreRef names one requested store.
type StoreRef struct {
	Retailer retailer.Retailer
	StoreID  string
}

// Key returns the canonical store key of the reference.
func (r StoreRef) Key() string { return retailer.StoreKey(r.Retailer, r.StoreID) }

// Row is one resolved price. Callers see the extracted pricing snapshot,
// never the raw retailer payload.
type Row struct {
	MetaProductID string
	Retailer      retailer.Retailer
	StoreID       string
	StoreName     string
	SKU           string

	// IsFallbackPrice marks rows not backed by a direct record at the
	// requested store.
	IsFallbackPrice bool

	Price      retailer.PriceInfo
	LastSynced *time.Time
}

// StoreDirectory is the slice of the store registry the resolver reads.
type StoreDirectory interface {
	StoresByKeys(ctx context.Context, keys []string) ([]store.Store, error)
	StoresWithLocation(ctx context.Context) ([]store.Store, error)
}

// PriceSource is the slice of the catalog the resolver reads.
type PriceSource interface {
	ProductsInStores(ctx context.Context, metaProductIDs, storeKeys []string) ([]store.StorePriceRecord, error)
}

// Config tunes the resolver.
type Config struct {
	// GeoLimit overrides GeoFallbackLimit when positive.
	GeoLimit int
}

// Resolver answers price queries against the catalog and store registry.
type Resolver struct {
	directory StoreDirectory
	source    PriceSource
	geoLimit  int
}

// New creates a resolver.
func New(directory StoreDirectory, source PriceSource, config Config) *Resolver {
	limit := config.GeoLimit
	if limit <= 0 {
		limit = GeoFallbackLimit
	}
	return &Resolver{directory: directory, source: source, geoLimit: limit}
}

// tier ranks how a row was matched; lower wins.
const (
	tierDirect = iota
	tierExplicit
	tierGeo
)

type candidateRow struct {
	Row
	tier int

	// rank preserves distance order within the geo tier.
	rank int
}

// Resolve computes the best available prices for the given canonical product
// ids at the requested stores. Per requested store and product the tiers are
// tried in order: direct record, explicit fallback store, nearest located
// stores. A direct match always beats both fallback tiers. When
// allowFallbacks is false, rows for stores outside the request are filtered
// after computation.
func (r *Resolver) Resolve(ctx context.Context, productIDs []string, refs []StoreRef, allowFallbacks bool) ([]Row, error) {
	if len(productIDs) == 0 || len(refs) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(refs))
	for _, ref := range refs {
		keys = append(keys, ref.Key())
	}
	requested, err := r.directory.StoresByKeys(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("load requested stores: %w", err)
	}
	if len(requested) == 0 {
		return nil, nil
	}

	requestedKeys := make(map[string]bool, len(requested))
	for _, s := range requested {
		requestedKeys[s.Key()] = true
	}

	// Candidate set: the requested stores, their declared fallbacks, and
	// (when fallbacks are on) every located store near a located requested
	// store. Records are fetched for all candidates in one query, then
	// tiered per store.
	candidates := make(map[string]store.Store, len(requested))
	for _, s := range requested {
		candidates[s.Key()] = s
	}
	for _, s := range requested {
		if s.FallbackStoreID == nil {
			continue
		}
		key := retailer.StoreKey(s.Retailer, *s.FallbackStoreID)
		if _, ok := candidates[key]; ok {
			continue
		}
		fb, err := r.directory.StoresByKeys(ctx, []string{key})
		if err != nil {
			return nil, fmt.Errorf("load fallback store %s: %w", key, err)
		}
		if len(fb) == 1 {
			candidates[key] = fb[0]
		}
	}

	var located []store.Store
	if allowFallbacks {
		located, err = r.directory.StoresWithLocation(ctx)
		if err != nil {
			return nil, fmt.Errorf("load located stores: %w", err)
		}
		for _, s := range located {
			if _, ok := candidates[s.Key()]; !ok {
				candidates[s.Key()] = s
			}
		}
	}

	candidateKeys := make([]string, 0, len(candidates))
	for key := range candidates {
		candidateKeys = append(candidateKeys, key)
	}
	sort.Strings(candidateKeys)

	records, err := r.source.ProductsInStores(ctx, productIDs, candidateKeys)
	if err != nil {
		return nil, fmt.Errorf("load price records: %w", err)
	}

	// product id -> store key -> record
	byProduct := make(map[string]map[string]store.StorePriceRecord)
	for _, rec := range records {
		perStore, ok := byProduct[rec.MetaProductID]
		if !ok {
			perStore = make(map[string]store.StorePriceRecord)
			byProduct[rec.MetaProductID] = perStore
		}
		perStore[rec.StoreKey()] = rec
	}

	var rows []candidateRow
	for _, s := range requested {
		nearby := nearestStores(s, located, requestedKeys)
		for _, productID := range productIDs {
			perStore := byProduct[productID]
			if len(perStore) == 0 {
				continue
			}
			rows = append(rows, r.resolveStore(s, productID, perStore, nearby)...)
		}
	}

	return finalize(rows, requestedKeys, allowFallbacks), nil
}

// resolveStore applies the tier ladder for one (store, product) pair.
func (r *Resolver) resolveStore(s store.Store, productID string, perStore map[string]store.StorePriceRecord, nearby []store.Store) []candidateRow {
	if rec, ok := perStore[s.Key()]; ok {
		return []candidateRow{{tier: tierDirect, Row: rowFromRecord(rec, false)}}
	}

	if s.FallbackStoreID != nil {
		key := retailer.StoreKey(s.Retailer, *s.FallbackStoreID)
		if rec, ok := perStore[key]; ok {
			// The requested store's identity is retained; only the price
			// data comes from the fallback.
			row := rowFromRecord(rec, true)
			row.StoreID = s.ID
			row.StoreName = s.Name
			return []candidateRow{{tier: tierExplicit, Row: row}}
		}
	}

	var out []candidateRow
	for _, near := range nearby {
		if len(out) == r.geoLimit {
			break
		}
		if rec, ok := perStore[near.Key()]; ok {
			out = append(out, candidateRow{tier: tierGeo, rank: len(out), Row: rowFromRecord(rec, true)})
		}
	}
	return out
}

func rowFromRecord(rec store.StorePriceRecord, fallback bool) Row {
	return Row{
		MetaProductID:   rec.MetaProductID,
		Retailer:        rec.Retailer,
		StoreID:         rec.StoreID,
		StoreName:       rec.StoreName,
		SKU:             rec.SKU,
		IsFallbackPrice: fallback,
		Price:           retailer.ExtractPricing(rec.Payload),
		LastSynced:      rec.LastSynced,
	}
}

// nearestStores ranks located stores by distance from s, excluding s itself
// and the other requested stores. Any retailer qualifies. Empty when s has
// no location.
func nearestStores(s store.Store, located []store.Store, requestedKeys map[string]bool) []store.Store {
	if s.Location == nil || len(located) == 0 {
		return nil
	}

	type distStore struct {
		store.Store
		dist float64
	}
	out := make([]distStore, 0, len(located))
	for _, cand := range located {
		if requestedKeys[cand.Key()] || cand.Location == nil {
			continue
		}
		out = append(out, distStore{
			Store: cand,
			dist:  haversineKm(*s.Location, *cand.Location),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].dist < out[j].dist })

	ranked := make([]store.Store, len(out))
	for i, ds := range out {
		ranked[i] = ds.Store
	}
	return ranked
}

// finalize orders rows best-first, deduplicates, and applies the
// allowFallbacks boundary filter.
func finalize(rows []candidateRow, requestedKeys map[string]bool, allowFallbacks bool) []Row {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].tier != rows[j].tier {
			return rows[i].tier < rows[j].tier
		}
		// Geo rows keep their distance ranking.
		if rows[i].rank != rows[j].rank {
			return rows[i].rank < rows[j].rank
		}
		// Fresher data wins within a tier.
		ti, tj := rows[i].LastSynced, rows[j].LastSynced
		switch {
		case ti == nil:
			return false
		case tj == nil:
			return true
		}
		return ti.After(*tj)
	})

	seen := make(map[string]bool, len(rows))
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		if !allowFallbacks && !requestedKeys[retailer.StoreKey(row.Retailer, row.StoreID)] {
			continue
		}
		key := row.MetaProductID + "|" + string(row.Retailer) + "|" + row.StoreID
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, row.Row)
	}
	return out
}

// haversineKm is the great-circle distance between two points.
func haversineKm(a, b store.LatLng) float64 {
	const earthRadiusKm = 6371.0

	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLng*sinLng
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}
