package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"shopsync/internal/retailer"
	"shopsync/internal/store"
	"shopsync/pkg/api"
)

// Stores handles GET /stores.
func (h *Handlers) Stores(w http.ResponseWriter, r *http.Request) {
	rows, err := h.registry.AllStores(r.Context())
	if err != nil {
		h.httpError(w, "Internal database error", http.StatusInternalServerError)
		return
	}
	h.respondJson(w, http.StatusOK, storesToAPI(rows))
}

// StoresPendingSync handles GET /stores/pending.
func (h *Handlers) StoresPendingSync(w http.ResponseWriter, r *http.Request) {
	rows, err := h.registry.StoresPendingSync(r.Context())
	if err != nil {
		h.httpError(w, "Internal database error", http.StatusInternalServerError)
		return
	}
	h.respondJson(w, http.StatusOK, storesToAPI(rows))
}

// SetFallbackStore handles PUT /stores/{retailer}/{id}/fallback.
func (h *Handlers) SetFallbackStore(w http.ResponseWriter, r *http.Request) {
	var req api.SetFallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ret := retailer.Retailer(r.PathValue("retailer"))
	storeID := r.PathValue("id")

	err := h.registry.SetFallbackStore(r.Context(), ret, storeID, req.FallbackStoreID)
	if err != nil {
		if strings.Contains(err.Error(), "unknown store") {
			h.httpError(w, "Store not found", http.StatusNotFound)
			return
		}
		h.httpError(w, "Failed to set fallback store", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusOK, map[string]string{"status": "ok"})
}

func storesToAPI(rows []store.Store) api.StoresResponse {
	resp := api.StoresResponse{Stores: make([]api.StoreResponse, 0, len(rows))}
	for _, s := range rows {
		out := api.StoreResponse{
			Retailer:        string(s.Retailer),
			ID:              s.ID,
			Name:            s.Name,
			SyncSchedule:    string(s.SyncSchedule),
			LastSyncedAt:    s.LastSyncedAt,
			FallbackStoreID: s.FallbackStoreID,
		}
		if s.Location != nil {
			lat, lng := s.Location.Lat, s.Location.Lng
			out.Lat, out.Lng = &lat, &lng
		}
		resp.Stores = append(resp.Stores, out)
	}
	return resp
}
