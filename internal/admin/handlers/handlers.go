// Package handlers contains HTTP handlers for the admin API.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"shopsync/internal/job"
	"shopsync/internal/price"
	"shopsync/internal/store"
	"shopsync/pkg/api"
)

// Orchestrator is the slice of the job orchestrator the API drives.
type Orchestrator interface {
	Workflow(name string) (*job.Workflow, bool)
	Start(ctx context.Context, wf *job.Workflow, ev job.Event) (*job.Handle, error)
	Cancel(ctx context.Context, jobID string) error
}

// PriceResolver answers price queries.
type PriceResolver interface {
	Resolve(ctx context.Context, productIDs []string, refs []price.StoreRef, allowFallbacks bool) ([]price.Row, error)
}

// Pinger reports database liveness for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	orch     Orchestrator
	ledger   store.Ledger
	registry store.Registry
	resolver PriceResolver
	pinger   Pinger
}

// New creates a new Handlers instance with the given dependencies.
func New(orch Orchestrator, ledger store.Ledger, registry store.Registry, resolver PriceResolver, pinger Pinger) *Handlers {
	return &Handlers{
		orch:     orch,
		ledger:   ledger,
		registry: registry,
		resolver: resolver,
		pinger:   pinger,
	}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}
