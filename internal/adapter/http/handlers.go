package http

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"corral/internal/port/cache"
	"corral/internal/port/spool"
	"corral/internal/service"
)

// statusProvider is the dispatcher surface the API needs.
type statusProvider interface {
	Status(ctx context.Context) (service.Snapshot, error)
}

// Handlers holds the status API's dependencies.
type Handlers struct {
	status   statusProvider
	spool    spool.Spool
	cache    cache.Cache
	cacheTTL time.Duration
}

// NewHandlers creates the status API handlers. cache may be nil, in which
// case result reads always hit the spool.
func NewHandlers(status statusProvider, sp spool.Spool, c cache.Cache, cacheTTL time.Duration) *Handlers {
	return &Handlers{status: status, spool: sp, cache: c, cacheTTL: cacheTTL}
}

// Healthz reports liveness.
func (h *Handlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetStatus returns the full coordinator snapshot.
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := h.status.Status(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ListAgents returns only the per-agent detail of the snapshot.
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	snap, err := h.status.Status(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active":        snap.Active,
		"maxConcurrent": snap.MaxConcurrent,
		"agents":        snap.Agents,
	})
}

// GetStats returns only the counters of the snapshot.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	snap, err := h.status.Status(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"counters":          snap.Counters,
		"contextEfficiency": snap.ContextEfficiency,
	})
}

// GetResult serves the terminal result document for a request ID. Results
// are immutable once written, so they are served through the cache.
func (h *Handlers) GetResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !sanitizeID(id) {
		writeError(w, http.StatusBadRequest, "invalid request id")
		return
	}

	if h.cache != nil {
		if data, ok, err := h.cache.Get(r.Context(), id); err == nil && ok {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(data)
			return
		}
	}

	data, err := h.spool.ReadResult(id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeError(w, http.StatusNotFound, "result not found")
			return
		}
		writeInternalError(w, err)
		return
	}

	if h.cache != nil {
		_ = h.cache.Set(r.Context(), id, data, h.cacheTTL)
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}
