// Package admin contains the operational HTTP API of the sync daemon.
package admin

import (
	"context"
	"net/http"
	"time"

	"shopsync/internal/admin/handlers"
	"shopsync/internal/admin/middleware"
)

// Server is the HTTP server for the admin API.
type Server struct {
	httpServer *http.Server
}

// New creates a new admin server. tokenHash is the SHA-256 digest of the
// admin bearer token; empty disables authentication.
func New(addr, tokenHash string, h *handlers.Handlers) *Server {
	rateMW := middleware.RateLimitMiddleware(10, 20)
	authMW := middleware.AuthMiddleware(tokenHash)

	protected := http.NewServeMux()

	protected.HandleFunc("POST /workflows/run", h.TriggerWorkflow)
	protected.HandleFunc("POST /jobs/{id}/cancel", h.CancelJob)
	protected.HandleFunc("GET /jobs/{id}", h.GetJob)
	protected.HandleFunc("GET /jobs", h.RecentJobs)

	protected.HandleFunc("GET /stores", h.Stores)
	protected.HandleFunc("GET /stores/pending", h.StoresPendingSync)
	protected.HandleFunc("PUT /stores/{retailer}/{id}/fallback", h.SetFallbackStore)

	protected.HandleFunc("POST /prices", h.Prices)

	// Probes stay unauthenticated for orchestration platforms.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.Handle("/", authMW(protected))

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      rateMW(mux),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
