package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"omnishot/internal/orchestrator"
)

type App struct {
	Service *orchestrator.Service
	Logger  zerolog.Logger
}

func NewApp(svc *orchestrator.Service, logger zerolog.Logger) *App {
	return &App{Service: svc, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}

// ownerID identifies the calling tenant. Gateway-level auth resolves the
// bearer token and forwards the owner in a trusted header.
func ownerID(r *http.Request) string {
	return r.Header.Get("X-Owner-ID")
}
