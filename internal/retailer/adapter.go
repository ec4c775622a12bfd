package retailer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// CategoryLeaf is one scrapable leaf of a retailer's category tree
// (department > aisle > shelf for Woolworths; two levels for Foodstuffs,
// with Shelf left empty).
type CategoryLeaf struct {
	Department string
	Aisle      string
	Shelf      string
	ID         string
}

// GroupKey buckets leaves that can share one scraping pass. Fast-mode syncs
// sample a single leaf per group instead of walking every shelf.
func (c CategoryLeaf) GroupKey() string {
	return c.Department + ">" + c.Aisle
}

// PageQuery asks an adapter for one page of a category listing.
type PageQuery struct {
	StoreID string
	Leaf    CategoryLeaf
	Page    int

	// ExactShelf filters down to the shelf level. When false the adapter
	// queries at the aisle level, which returns a superset of products but
	// loses per-shelf category attribution.
	ExactShelf bool
}

// ProductRecord is one product as observed on a listing page, already
// decoded into its payload variant at the adapter boundary.
type ProductRecord struct {
	SKU         string
	Payload     Payload
	CategoryIDs []string
}

// ProductPage is one page of listing results. An empty Products slice
// terminates pagination for the category.
type ProductPage struct {
	Products []ProductRecord
}

// Adapter fetches catalog data from one retailer's API. Implementations
// own request shaping, auth, and token refresh; they must be safe to retry
// and must return UpstreamError for non-success responses so callers can
// distinguish rate/auth failures from "no more data".
type Adapter interface {
	// Categories enumerates the leaf categories visible at a store.
	Categories(ctx context.Context, storeID string) ([]CategoryLeaf, error)

	// FetchPage loads one page of products for a category.
	FetchPage(ctx context.Context, q PageQuery) (*ProductPage, error)

	// ResolveBarcode loads the barcode for a single product. Only the
	// Foodstuffs platform needs this; Woolworths carries barcodes in the
	// listing payload.
	ResolveBarcode(ctx context.Context, storeID, sku string) (string, error)
}

// UpstreamError is a non-success response from a retailer API.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, e.Body)
}

// The Foodstuffs search backend intermittently fails with a 400 naming its
// internal search service. Nothing on our side causes or fixes it.
const foodstuffsSearchErrMarker = "nz.co.foodstuffs.retailproductsearch"

// IsEmptyResultQuirk reports whether err is one of the two documented
// upstream responses that actually mean "no results": the Foodstuffs
// internal search error, and the recurring 400 with an empty message body.
// Both are treated as empty pages, not failures.
func IsEmptyResultQuirk(err error) bool {
	var ue *UpstreamError
	if !errors.As(err, &ue) || ue.StatusCode != 400 {
		return false
	}

	if strings.Contains(ue.Body, foodstuffsSearchErrMarker) {
		return true
	}

	var probe struct {
		Message *string `json:"message"`
	}
	if jsonErr := json.Unmarshal([]byte(ue.Body), &probe); jsonErr == nil {
		if probe.Message != nil && *probe.Message == "" {
			return true
		}
	}
	return false
}
