package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/asyncinfer/internal/infer"
	"github.com/seantiz/asyncinfer/internal/model"
	"github.com/seantiz/asyncinfer/internal/store"
)

// handleStreamEvents streams a batch's result events followed by its finish
// event as server-sent events, then a closing "done" event. Results settled
// before the client connected are replayed from the store first.
func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.store.GetBatch(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "batch not found")
			return
		}
		s.logger.Error("get batch for events", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get batch")
		return
	}

	// Subscribe before reading history: a result is persisted before it is
	// published, so it is either in the history or still to arrive on ch.
	ch, unsub := s.service.Broker().Subscribe(id)
	defer unsub()

	b, err := s.store.GetBatch(r.Context(), id)
	if err != nil {
		s.logger.Error("get batch history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get batch")
		return
	}

	eventStreamsOpen.Inc()
	defer eventStreamsOpen.Dec()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	flush := func() {
		if canFlush {
			flusher.Flush()
		}
	}
	flush()

	sent := make(map[int]bool, b.Size)
	for _, res := range b.Results {
		if err := writeSSEJSON(w, string(infer.CategoryResult), res); err != nil {
			return
		}
		sent[res.Index] = true
	}
	flush()

	if model.Terminal(b.Status) {
		s.finishStream(w, b)
		flush()
		return
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				// The finish event may have been dropped for a slow client;
				// the store has the final state.
				final, err := s.store.GetBatch(r.Context(), id)
				if err != nil {
					s.logger.Error("get finished batch", "batch_id", id, "error", err)
					_ = writeSSEEvent(w, "done", "stream complete")
				} else {
					s.finishStream(w, final)
				}
				flush()
				return
			}
			switch ev.Category {
			case infer.CategoryResult:
				if ev.Result == nil || sent[ev.Result.Index] {
					continue
				}
				sent[ev.Result.Index] = true
				if err := writeSSEJSON(w, string(ev.Category), ev.Result); err != nil {
					return // Write failed (e.g. client gone).
				}
			case infer.CategoryFinish:
				s.finishStream(w, ev.Batch)
				flush()
				return
			}
			flush()
		case <-r.Context().Done():
			return // Client disconnected.
		}
	}
}

// finishStream writes the finish event for b and the closing done event.
func (s *Server) finishStream(w http.ResponseWriter, b *model.Batch) {
	if err := writeSSEJSON(w, string(infer.CategoryFinish), b); err != nil {
		return
	}
	_ = writeSSEEvent(w, "done", "stream complete")
}

// writeSSEJSON writes v as the JSON data of a named SSE event.
func writeSSEJSON(w http.ResponseWriter, eventType string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", eventType, err)
	}
	return writeSSEEvent(w, eventType, string(data))
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
