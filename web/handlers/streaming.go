package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// handleDebateStream streams transcript entries using Server-Sent Events.
// Entries already stored are sent first, then storage is polled until the
// debate completes or the client goes away.
func (h *Handler) handleDebateStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	slog.Debug("New debate stream connection", "id", id, "remote_addr", r.RemoteAddr)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	flusher, ok := w.(http.Flusher)
	if !ok {
		slog.Error("Streaming unsupported: ResponseWriter does not implement http.Flusher")
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), DebateTimeout)
	defer cancel()

	ticker := time.NewTicker(h.streamInterval)
	defer ticker.Stop()

	sent := 0
	for {
		debate, err := h.storage.GetDebate(id)
		if err != nil {
			slog.Error("Stream error loading debate", "id", id, "error", err)
			h.sendSSEError(w, flusher, "Failed to get debate")
			return
		}
		if debate == nil {
			slog.Warn("Debate not found for stream", "id", id)
			h.sendSSEError(w, flusher, "Debate not found")
			return
		}

		entries, err := h.storage.GetEntries(id)
		if err != nil {
			slog.Error("Stream error loading entries", "id", id, "error", err)
			h.sendSSEError(w, flusher, "Failed to get entries")
			return
		}
		for ; sent < len(entries); sent++ {
			h.sendSSEEvent(w, flusher, "entry", entries[sent])
		}

		if debate.IsCompleted() {
			slog.Debug("Debate completed", "id", id)
			h.sendSSEEvent(w, flusher, "debate_complete", debate)
			return
		}

		select {
		case <-ctx.Done():
			slog.Debug("Stream context done", "id", id)
			return
		case <-ticker.C:
		}
	}
}

// sendSSEEvent sends a server-sent event.
func (h *Handler) sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		slog.Error("Failed to marshal SSE data", "error", err)
		return
	}

	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		slog.Error("Failed to write SSE event", "error", err)
		return
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", jsonData); err != nil {
		slog.Error("Failed to write SSE data", "error", err)
		return
	}
	flusher.Flush()
}

func (h *Handler) sendSSEError(w http.ResponseWriter, flusher http.Flusher, message string) {
	h.sendSSEEvent(w, flusher, "error", map[string]string{"message": message})
}
