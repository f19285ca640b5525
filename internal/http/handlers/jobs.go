package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"omnishot/internal/domain"
	"omnishot/internal/orchestrator"
)

type submitJobRequest struct {
	Type       string            `json:"type"`
	ImageKey   string            `json:"image_key"`
	Style      string            `json:"style"`
	Platforms  []string          `json:"platforms"`
	BudgetTier string            `json:"budget_tier"`
	Options    *submitJobOptions `json:"options,omitempty"`
}

type submitJobOptions struct {
	Strategy     string `json:"strategy,omitempty"`
	Goal         string `json:"goal,omitempty"`
	Fast         bool   `json:"fast,omitempty"`
	Premium      bool   `json:"premium,omitempty"`
	PreserveFace bool   `json:"preserve_face,omitempty"`
}

type submitJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

func (a *App) SubmitJob(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing owner context")
		return
	}
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	spec := orchestrator.JobSpec{
		OwnerID:    owner,
		Type:       domain.JobType(req.Type),
		ImageKey:   req.ImageKey,
		Style:      req.Style,
		Platforms:  req.Platforms,
		BudgetTier: domain.BudgetTier(req.BudgetTier),
	}
	if spec.Type == "" {
		spec.Type = domain.JobTypeSingle
	}
	if spec.BudgetTier == "" {
		spec.BudgetTier = domain.BudgetTierFree
	}
	if req.Options != nil {
		spec.Options = domain.JobOptions{
			Strategy:     domain.StrategyName(req.Options.Strategy),
			Goal:         req.Options.Goal,
			Fast:         req.Options.Fast,
			Premium:      req.Options.Premium,
			PreserveFace: req.Options.PreserveFace,
		}
	}

	jobID, err := a.Service.SubmitJob(r.Context(), spec)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrQuotaExceeded):
			a.error(w, http.StatusForbidden, "quota_exceeded", err.Error())
		case errors.Is(err, domain.ErrValidation):
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		default:
			a.Logger.Error().Err(err).Msg("submit job failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to submit job")
		}
		return
	}
	a.json(w, http.StatusAccepted, submitJobResponse{JobID: jobID, Status: string(domain.JobStatusCreated)})
}

func (a *App) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	if !a.Service.Cancel(jobID) {
		a.error(w, http.StatusNotFound, "not_found", "job not found or already finished")
		return
	}
	a.json(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "cancelling"})
}
