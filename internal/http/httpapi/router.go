package httpapi

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"omnishot/internal/http/handlers"
	"omnishot/internal/middleware"
)

// Options bundles router wiring that differs between environments.
type Options struct {
	AllowedOrigins  []string
	RateLimitPerMin int
	StaticDir       string
}

func NewRouter(app *handlers.App, opts Options) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP, chimw.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(app.Logger))
	if len(opts.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(opts.AllowedOrigins))
	}
	if opts.RateLimitPerMin > 0 {
		r.Use(middleware.RateLimit(opts.RateLimitPerMin))
	}

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/jobs", func(r chi.Router) {
		r.Post("/", app.SubmitJob)
		r.Get("/{job_id}/progress", app.JobProgress)
		r.Get("/{job_id}/events", app.JobEvents)
		r.Delete("/{job_id}", app.CancelJob)
	})

	r.Route("/v1/usage", func(r chi.Router) {
		r.Get("/report", app.UsageReport)
		r.Get("/recommendations", app.UsageRecommendations)
	})

	if opts.StaticDir != "" {
		fs := stdhttp.StripPrefix("/static/", stdhttp.FileServer(stdhttp.Dir(opts.StaticDir)))
		r.Get("/static/*", fs.ServeHTTP)
	}

	return r
}
