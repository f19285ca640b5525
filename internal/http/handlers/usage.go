package handlers

import (
	"net/http"
	"time"
)

func (a *App) UsageReport(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	from := now.AddDate(0, -1, 0)
	to := now
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "from must be RFC3339")
			return
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "to must be RFC3339")
			return
		}
		to = t
	}
	report, err := a.Service.UsageReport(r.Context(), from, to)
	if err != nil {
		a.Logger.Error().Err(err).Msg("usage report failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to build report")
		return
	}
	a.json(w, http.StatusOK, report)
}

func (a *App) UsageRecommendations(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{
		"recommendations": a.Service.Recommendations(),
	})
}
