package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"clownify/internal/http/handlers"
	"clownify/internal/middleware"
	"clownify/internal/ws"
)

// NewRouter mounts the pipeline API and the notification stream.
func NewRouter(app *handlers.App, hub *ws.Hub) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
		middleware.CORS(app.Cfg.AllowedOrigins),
	)

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/pipeline", func(r chi.Router) {
		r.Get("/", app.State)
		r.Post("/upload", app.Upload)
		r.With(middleware.RateLimit(app.Cfg.RateLimitPerMin, time.Minute)).
			Post("/generate", app.Generate)
		r.Post("/reset", app.Reset)
		r.Post("/download", app.Download)
	})

	r.Get("/v1/ws", hub.Handle)

	return r
}
