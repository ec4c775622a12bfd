package handlers

import (
	"encoding/json"
	"net/http"

	"shopsync/internal/price"
	"shopsync/internal/retailer"
	"shopsync/pkg/api"
)

// Prices handles POST /prices.
// Requested stores are "<retailer>-<storeId>" keys.
func (h *Handlers) Prices(w http.ResponseWriter, r *http.Request) {
	var req api.PricesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	refs := make([]price.StoreRef, 0, len(req.Stores))
	for _, key := range req.Stores {
		rt, id, err := retailer.ParseStoreKey(key)
		if err != nil {
			h.httpError(w, "Invalid store key "+key, http.StatusBadRequest)
			return
		}
		refs = append(refs, price.StoreRef{Retailer: rt, StoreID: id})
	}

	rows, err := h.resolver.Resolve(r.Context(), req.ProductIDs, refs, req.AllowFallbacks)
	if err != nil {
		h.httpError(w, "Failed to resolve prices", http.StatusInternalServerError)
		return
	}

	resp := api.PricesResponse{Prices: make([]api.PriceRow, 0, len(rows))}
	for _, row := range rows {
		out := api.PriceRow{
			ProductID:       row.MetaProductID,
			Retailer:        string(row.Retailer),
			StoreID:         row.StoreID,
			StoreName:       row.StoreName,
			SKU:             row.SKU,
			IsFallbackPrice: row.IsFallbackPrice,
			LastSynced:      row.LastSynced,

			OriginalPrice:     row.Price.OriginalPrice,
			OriginalUnitPrice: row.Price.OriginalUnitPrice,
			SalePrice:         row.Price.SalePrice,
			ClubPrice:         row.Price.ClubPrice,
			MultiBuyPrice:     row.Price.MultiBuyPrice,
			MultiBuyThreshold: row.Price.MultiBuyThreshold,
			UnitQty:           row.Price.UnitQty,
			UnitDisplay:       row.Price.UnitDisplay,
		}
		if row.Price.UnitQtyUOM != nil {
			uom := string(*row.Price.UnitQtyUOM)
			out.UnitQtyUOM = &uom
		}
		resp.Prices = append(resp.Prices, out)
	}
	h.respondJson(w, http.StatusOK, resp)
}
