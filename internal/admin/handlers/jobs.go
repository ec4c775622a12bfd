package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"shopsync/internal/job"
	"shopsync/internal/retailer"
	"shopsync/internal/store"
	synp "shopsync/internal/sync"
	"shopsync/pkg/api"
)

// TriggerWorkflow handles POST /workflows/run.
// It starts a registered workflow and returns without waiting for the run.
func (h *Handlers) TriggerWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.TriggerWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Workflow == "" {
		h.httpError(w, "Workflow is required", http.StatusBadRequest)
		return
	}

	wf, ok := h.orch.Workflow(req.Workflow)
	if !ok {
		h.httpError(w, "Unknown workflow", http.StatusNotFound)
		return
	}
	if wf.Internal {
		h.httpError(w, "Workflow is not externally triggerable", http.StatusForbidden)
		return
	}

	ev := job.Event{}
	if req.Workflow == "scrape/products" {
		if req.Retailer == "" || req.StoreID == "" {
			h.httpError(w, "Retailer and store_id are required", http.StatusBadRequest)
			return
		}
		rt, err := retailer.Parse(req.Retailer)
		if err != nil {
			h.httpError(w, "Unknown retailer", http.StatusBadRequest)
			return
		}
		ev.Payload = synp.ScrapeInput{
			Retailer: rt,
			StoreID:  req.StoreID,
			Mode:     synp.ScrapeMode(req.Mode),
		}
	}

	handle, err := h.orch.Start(ctx, wf, ev)
	if err != nil {
		if errors.Is(err, job.ErrAlreadyRunning) {
			h.httpError(w, "Job is already running", http.StatusConflict)
			return
		}
		h.httpError(w, "Failed to start workflow", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusAccepted, api.TriggerWorkflowResponse{
		JobID: handle.JobID,
		RunID: handle.RunID,
	})
}

// CancelJob handles POST /jobs/{id}/cancel.
// Cancellation fans out to running child jobs asynchronously.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		h.httpError(w, "Job id is required", http.StatusBadRequest)
		return
	}

	if err := h.orch.Cancel(r.Context(), jobID); err != nil {
		if strings.Contains(err.Error(), "unknown job") {
			h.httpError(w, "Job not found", http.StatusNotFound)
			return
		}
		if errors.Is(err, job.ErrJobSettled) {
			h.httpError(w, "Job already settled", http.StatusConflict)
			return
		}
		h.httpError(w, "Failed to cancel job", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusOK, api.CancelJobResponse{JobID: jobID})
}

// GetJob handles GET /jobs/{id}.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	row, err := h.ledger.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Internal database error", http.StatusInternalServerError)
		return
	}
	if row == nil {
		h.httpError(w, "Job not found", http.StatusNotFound)
		return
	}

	h.respondJson(w, http.StatusOK, jobToAPI(*row))
}

// RecentJobs handles GET /jobs.
func (h *Handlers) RecentJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.httpError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	rows, err := h.ledger.RecentJobs(r.Context(), limit)
	if err != nil {
		h.httpError(w, "Internal database error", http.StatusInternalServerError)
		return
	}

	resp := api.RecentJobsResponse{Jobs: make([]api.JobResponse, 0, len(rows))}
	for _, row := range rows {
		resp.Jobs = append(resp.Jobs, jobToAPI(row))
	}
	h.respondJson(w, http.StatusOK, resp)
}

func jobToAPI(row store.Job) api.JobResponse {
	return api.JobResponse{
		ID:          row.ID,
		Workflow:    row.Workflow,
		Title:       row.Title,
		Status:      string(row.Status),
		StartedAt:   row.StartedAt,
		EndedAt:     row.EndedAt,
		ParentJobID: row.ParentJobID,
		RunID:       row.RunID,
	}
}
