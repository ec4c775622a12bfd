package retailer

import (
	"fmt"
	"math"
	"strings"
)

// UOM is the unified unit of measure used for comparative pricing.
type UOM string

const (
	UOMGram   UOM = "g"
	UOMKilo   UOM = "kg"
	UOMLitre  UOM = "l"
	UOMMilli  UOM = "ml"
	UOMMetre  UOM = "m"
	UOMEach   UOM = "ea"
	UOMSheets UOM = "sheets"
)

// PriceInfo is the retailer-agnostic pricing snapshot extracted from a
// product payload. All prices are NZD cents; nil means "not offered".
type PriceInfo struct {
	UnitQty     *float64
	UnitQtyUOM  *UOM
	UnitDisplay *string

	OriginalPrice     int
	OriginalUnitPrice *int
	SalePrice         *int
	ClubPrice         *int
	MultiBuyPrice     *int
	MultiBuyThreshold *int
}

// ExtractPricing computes the pricing snapshot for any payload variant.
// Callers never see retailer-specific field shapes.
func ExtractPricing(p Payload) PriceInfo {
	switch v := p.(type) {
	case *WWProduct:
		return extractPricingWW(v)
	case *FoodstuffsProduct:
		return extractPricingFoodstuffs(v)
	}
	// The payload set is closed; DecodePayload cannot produce other types.
	panic(fmt.Sprintf("retailer: unhandled payload type %T", p))
}

// toNZDCents converts a dollar amount into cents.
func toNZDCents(dollars float64) int {
	return int(math.Round(dollars * 100))
}

// Woolworths "cup" comparative-price measures mapped onto unified units.
var wwUOMMap = map[string]struct {
	uom UOM
	qty float64
}{
	"1m":    {UOMMetre, 1},
	"100mm": {UOMMetre, 0.1},
	"1kg":   {UOMKilo, 1},
	"10g":   {UOMGram, 10},
	"100g":  {UOMGram, 100},
	"10mL":  {UOMMilli, 10},
	"100mL": {UOMMilli, 100},
	"100ss": {UOMSheets, 100},
	"100ea": {UOMEach, 100},
	"1ea":   {UOMEach, 1},
	"1L":    {UOMLitre, 1},
}

func extractPricingWW(p *WWProduct) PriceInfo {
	out := PriceInfo{
		OriginalPrice: toNZDCents(p.Price.OriginalPrice),
	}

	if p.Unit != "" {
		unit := p.Unit
		out.UnitDisplay = &unit
	}

	if p.Size != nil {
		if m, ok := wwUOMMap[p.Size.CupMeasure]; ok {
			qty := m.qty
			uom := m.uom
			out.UnitQty = &qty
			out.UnitQtyUOM = &uom
		}
		if p.Size.CupListPrice > 0 {
			unitPrice := toNZDCents(p.Size.CupListPrice)
			out.OriginalUnitPrice = &unitPrice
		}
	}

	// A special price is either a plain sale or a club-card price, never both.
	if p.Price.IsSpecial && !p.Price.IsClubPrice {
		sale := toNZDCents(p.Price.SalePrice)
		out.SalePrice = &sale
	}
	if p.Price.IsClubPrice {
		club := toNZDCents(p.Price.SalePrice)
		out.ClubPrice = &club
	}

	if p.ProductTag != nil && p.ProductTag.MultiBuy != nil {
		price := toNZDCents(p.ProductTag.MultiBuy.Value)
		threshold := p.ProductTag.MultiBuy.Quantity
		out.MultiBuyPrice = &price
		out.MultiBuyThreshold = &threshold
	}

	return out
}

func extractPricingFoodstuffs(p *FoodstuffsProduct) PriceInfo {
	out := PriceInfo{
		OriginalPrice: p.SinglePrice.Price,
	}

	if p.DisplayName != "" {
		display := p.DisplayName
		out.UnitDisplay = &display
	}

	if cp := p.SinglePrice.ComparativePrice; cp != nil {
		qty := cp.UnitQuantity
		out.UnitQty = &qty
		if cp.UnitQuantityUOM != "" {
			uom := UOM(strings.ToLower(cp.UnitQuantityUOM))
			out.UnitQtyUOM = &uom
		}
		unitPrice := cp.PricePerUnit
		out.OriginalUnitPrice = &unitPrice
	}

	// Only NEW_PRICE promotions carry a usable shelf price. Threshold > 1 is
	// a multi-buy deal; otherwise card-dependent promotions are club prices.
	var best *FoodstuffsPromotion
	for i := range p.Promotions {
		if p.Promotions[i].BestPromotion {
			best = &p.Promotions[i]
			break
		}
	}
	if best == nil || best.RewardType != "NEW_PRICE" {
		return out
	}

	if best.Threshold > 1 {
		price := best.RewardValue
		threshold := best.Threshold
		out.MultiBuyPrice = &price
		out.MultiBuyThreshold = &threshold
		return out
	}

	if best.RewardValue == p.SinglePrice.Price {
		return out // not actually discounted
	}
	if best.CardDependencyFlag {
		club := best.RewardValue
		out.ClubPrice = &club
	} else {
		sale := best.RewardValue
		out.SalePrice = &sale
	}
	return out
}
