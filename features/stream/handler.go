package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"finsight/internal/middleware"
	"finsight/monitor"
)

type Handler struct {
	broadcaster Broadcaster
}

func NewHandler(b Broadcaster) *Handler {
	return &Handler{broadcaster: b}
}

// Events serves the per-upload SSE stream: history replay first, then live
// frames, with periodic keepalive comments.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "Missing upload id", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	// Subscribe before replaying so no frame falls between history and the
	// live feed. A frame landing in both is harmless; consumers merge by max.
	live, cancel, err := h.broadcaster.Subscribe(r.Context(), id)
	if err != nil {
		slog.Error("failed to subscribe to event stream", "error", err, "upload_id", id)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Failed to open stream", http.StatusInternalServerError)
		return
	}
	defer cancel()

	history, err := h.broadcaster.History(r.Context(), id)
	if err != nil {
		slog.Warn("failed to load event history", "error", err, "upload_id", id)
	}
	for _, f := range history {
		h.writeFrame(w, f)
	}
	flusher.Flush()

	slog.Info("event stream attached", "upload_id", id)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case f, ok := <-live:
			if !ok {
				return
			}
			h.writeFrame(w, f)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			slog.Info("event stream detached", "upload_id", id)
			return
		}
	}
}

func (h *Handler) writeFrame(w http.ResponseWriter, f monitor.Frame) {
	raw, err := json.Marshal(f)
	if err != nil {
		slog.Error("failed to encode frame", "error", err)
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", raw)
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
