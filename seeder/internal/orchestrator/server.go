package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/seeder/seeder/internal/state"
	"github.com/hazyhaar/seeder/shield"
)

// Router exposes a running sync over HTTP:
//
//	GET /healthz   liveness
//	GET /status    run progress and per-status counts
//	GET /metrics   Prometheus exposition (when metrics are enabled)
func (o *Orchestrator) Router() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.StatusStack(o.logger) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		counts, err := o.store.Counts(req.Context(), o.opts.Namespace)
		if err != nil {
			shield.GetLogger(req.Context()).Error("status: counts", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "state unavailable"})
			return
		}
		byStatus := make(map[string]int, len(counts))
		for _, st := range state.Statuses {
			byStatus[string(st)] = counts[st]
		}
		progress := o.Progress()
		writeJSON(w, http.StatusOK, map[string]any{
			"run":    &progress,
			"counts": byStatus,
		})
	})
	if o.metrics != nil {
		r.Method(http.MethodGet, "/metrics", o.metrics.Handler())
	}
	return r
}

// Serve runs the status server on addr until ctx ends.
func (o *Orchestrator) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           o.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		o.logger.Info("status server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		o.logger.Error("status server shutdown", "error", err)
		return err
	}
	o.logger.Info("status server stopped")
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write json", "error", err)
	}
}
