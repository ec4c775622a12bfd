// Package retailer defines the retailer identities, the per-retailer product
// payload variants, and the pricing extraction rules shared by the sync
// pipeline and the price resolution engine.
package retailer

import (
	"fmt"
	"strings"
)

// Retailer identifies an upstream retailer platform.
type Retailer string

const (
	// Woolworths runs its own platform.
	Woolworths Retailer = "ww"

	// PakNSave and NewWorld share the Foodstuffs platform; they use the same
	// payload shape and barcode lookup but are separate catalogs.
	PakNSave Retailer = "pns"
	NewWorld Retailer = "nw"
)

// All lists every supported retailer. Update this when adding retailers.
var All = []Retailer{Woolworths, PakNSave, NewWorld}

// Parse validates a retailer code.
func Parse(s string) (Retailer, error) {
	switch r := Retailer(s); r {
	case Woolworths, PakNSave, NewWorld:
		return r, nil
	}
	return "", fmt.Errorf("unknown retailer %q", s)
}

// DisplayName returns the human name of the retailer.
func (r Retailer) DisplayName() string {
	switch r {
	case Woolworths:
		return "Woolworths"
	case PakNSave:
		return "Pak'nSave"
	case NewWorld:
		return "New World"
	}
	return string(r)
}

// IsFoodstuffs reports whether the retailer runs on the Foodstuffs platform.
func (r Retailer) IsFoodstuffs() bool {
	return r == PakNSave || r == NewWorld
}

// StoreKey derives the canonical store key used across the catalog tables.
func StoreKey(r Retailer, storeID string) string {
	return string(r) + "-" + storeID
}

// ProductKey derives the canonical product key, unique per retailer.
func ProductKey(r Retailer, sku string) string {
	return string(r) + "-" + sku
}

// ParseStoreKey splits a store key back into retailer and store id.
// Store ids may themselves contain dashes, so only the first dash splits.
func ParseStoreKey(key string) (Retailer, string, error) {
	code, id, ok := strings.Cut(key, "-")
	if !ok || id == "" {
		return "", "", fmt.Errorf("malformed store key %q", key)
	}
	r, err := Parse(code)
	if err != nil {
		return "", "", fmt.Errorf("malformed store key %q: %w", key, err)
	}
	return r, id, nil
}
