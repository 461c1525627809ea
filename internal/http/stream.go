package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// StreamStatus pushes newline-delimited JSON status events for one reference.
// The cached status, if any, is emitted first; the stream closes after a
// terminal status. Client disconnect is detected via the request context and
// always releases the subscription, even with messages still pending.
func (h *Handler) StreamStatus(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	if reference == "" {
		reference = r.URL.Query().Get("reference")
	}
	if reference == "" {
		http.Error(w, "reference is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()

	// Subscribe before reading the cache so a status published in between
	// is not missed.
	msgs, cancel, err := h.subscriber.Subscribe(ctx, reference)
	if err != nil {
		h.logger.Printf("subscribe %s: %v", reference, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	write := func(v any) {
		_ = enc.Encode(v)
		flusher.Flush()
	}

	// A cache miss just means no status yet; the loop below waits for the
	// first publish.
	if status, ok := h.cache.GetStatus(reference); ok {
		write(statusLine{Reference: reference, Status: string(status)})
		if status.Terminal() {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-msgs:
			if !ok {
				return
			}
			write(ev)
			if ev.Status.Terminal() {
				return
			}
		}
	}
}

type statusLine struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}
