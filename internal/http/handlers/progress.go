package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"omnishot/internal/domain"
)

func (a *App) JobProgress(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	rec, err := a.Service.GetProgress(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("progress lookup failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load progress")
		return
	}
	a.json(w, http.StatusOK, rec)
}

// JobEvents streams progress transitions as server-sent events until the job
// reaches a terminal state or the client disconnects.
func (a *App) JobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		a.error(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	// Buffered so a slow client never blocks the tracker's publish path;
	// dropped intermediate states are fine, the terminal one is what matters.
	events := make(chan domain.ProgressRecord, 16)
	unsub, err := a.Service.Subscribe(r.Context(), jobID, func(rec domain.ProgressRecord) {
		select {
		case events <- rec:
		default:
		}
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to subscribe")
		return
	}
	defer unsub()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeEvent := func(rec domain.ProgressRecord) bool {
		payload, err := json.Marshal(rec)
		if err != nil {
			return false
		}
		fmt.Fprintf(w, "event: progress\ndata: %s\n\n", payload)
		flusher.Flush()
		return !rec.Terminal()
	}

	// Subscription replays the current state first, so even a stream opened
	// after the terminal transition delivers one event before closing.
	for {
		select {
		case <-r.Context().Done():
			return
		case rec := <-events:
			if !writeEvent(rec) {
				return
			}
		}
	}
}
