package retailer

import (
	"encoding/json"
	"fmt"
)

// PayloadVersion guards the stored snapshot shape against upstream API
// changes. Snapshots are written with the current version and refused on
// decode if the version does not match, rather than silently reinterpreted.
const PayloadVersion = 1

// Payload is the decoded per-retailer product snapshot. It is a closed set:
// one variant per retailer platform, validated once at the adapter boundary
// so downstream code can type-switch exhaustively instead of re-checking
// fields ad hoc.
type Payload interface {
	Retailer() Retailer
	SKU() string

	sealed()
}

// WWProduct is the Woolworths catalog payload.
type WWProduct struct {
	RetailerCode Retailer `json:"retailer"`
	Codec        int      `json:"codec"`

	SKUField string `json:"sku"`
	Name     string `json:"name"`
	Barcode  string `json:"barcode"`
	Brand    string `json:"brand,omitempty"`
	Unit     string `json:"unit,omitempty"`

	Price struct {
		OriginalPrice float64 `json:"originalPrice"`
		SalePrice     float64 `json:"salePrice"`
		IsSpecial     bool    `json:"isSpecial"`
		IsClubPrice   bool    `json:"isClubPrice"`
	} `json:"price"`

	Size *struct {
		CupMeasure   string  `json:"cupMeasure,omitempty"`
		CupListPrice float64 `json:"cupListPrice,omitempty"`
	} `json:"size,omitempty"`

	ProductTag *struct {
		MultiBuy *struct {
			Quantity int     `json:"quantity"`
			Value    float64 `json:"value"`
		} `json:"multiBuy,omitempty"`
	} `json:"productTag,omitempty"`

	Images struct {
		Big string `json:"big,omitempty"`
	} `json:"images"`
}

func (p *WWProduct) Retailer() Retailer { return Woolworths }
func (p *WWProduct) SKU() string        { return p.SKUField }
func (p *WWProduct) sealed()            {}

// FoodstuffsProduct is the shared Pak'nSave / New World catalog payload.
type FoodstuffsProduct struct {
	RetailerCode Retailer `json:"retailer"`
	Codec        int      `json:"codec"`

	ProductID   string `json:"productId"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName,omitempty"`
	Brand       string `json:"brand,omitempty"`

	// Prices are NZD cents as returned by the platform.
	SinglePrice struct {
		Price            int `json:"price"`
		ComparativePrice *struct {
			PricePerUnit    int     `json:"pricePerUnit"`
			UnitQuantity    float64 `json:"unitQuantity"`
			UnitQuantityUOM string  `json:"unitQuantityUom"`
		} `json:"comparativePrice,omitempty"`
	} `json:"singlePrice"`

	Promotions []FoodstuffsPromotion `json:"promotions,omitempty"`

	CategoryTrees []struct {
		Level0 string `json:"level0,omitempty"`
		Level1 string `json:"level1,omitempty"`
		Level2 string `json:"level2,omitempty"`
	} `json:"categoryTrees,omitempty"`
}

// FoodstuffsPromotion is one promotion attached to a Foodstuffs product.
type FoodstuffsPromotion struct {
	RewardType         string `json:"rewardType"`
	RewardValue        int    `json:"rewardValue"`
	Threshold          int    `json:"threshold"`
	CardDependencyFlag bool   `json:"cardDependencyFlag"`
	BestPromotion      bool   `json:"bestPromotion"`
}

func (p *FoodstuffsProduct) Retailer() Retailer { return p.RetailerCode }
func (p *FoodstuffsProduct) SKU() string        { return p.ProductID }
func (p *FoodstuffsProduct) sealed()            {}

// DecodePayload decodes a stored snapshot into its retailer variant.
// The retailer tag and codec version are checked before the full decode.
func DecodePayload(raw json.RawMessage) (Payload, error) {
	var probe struct {
		Retailer Retailer `json:"retailer"`
		Codec    int      `json:"codec"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("decode payload envelope: %w", err)
	}
	if probe.Codec != PayloadVersion {
		return nil, fmt.Errorf("unsupported payload codec %d for retailer %q", probe.Codec, probe.Retailer)
	}

	switch probe.Retailer {
	case Woolworths:
		var p WWProduct
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode ww payload: %w", err)
		}
		if p.SKUField == "" {
			return nil, fmt.Errorf("ww payload missing sku")
		}
		return &p, nil

	case PakNSave, NewWorld:
		var p FoodstuffsProduct
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode foodstuffs payload: %w", err)
		}
		if p.ProductID == "" {
			return nil, fmt.Errorf("foodstuffs payload missing productId")
		}
		return &p, nil
	}
	return nil, fmt.Errorf("unknown payload retailer %q", probe.Retailer)
}

// EncodePayload serializes a payload for storage, stamping the retailer tag
// and codec version so DecodePayload can route it later.
func EncodePayload(p Payload) (json.RawMessage, error) {
	switch v := p.(type) {
	case *WWProduct:
		v.RetailerCode = Woolworths
		v.Codec = PayloadVersion
		return json.Marshal(v)
	case *FoodstuffsProduct:
		if v.RetailerCode != PakNSave && v.RetailerCode != NewWorld {
			return nil, fmt.Errorf("foodstuffs payload has retailer %q", v.RetailerCode)
		}
		v.Codec = PayloadVersion
		return json.Marshal(v)
	}
	return nil, fmt.Errorf("unknown payload type %T", p)
}
