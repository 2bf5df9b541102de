package handlers

import (
	"io/fs"
	"log/slog"
	"net/http"

	chatrelay "github.com/comfortillo/chat-relay"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// Routes builds the HTTP handler for the relay. Guards only apply to the /api routes.
func (m Main) Routes(g Guards) (http.Handler, error) {
	staticFS, err := fs.Sub(chatrelay.StaticFS, "static")
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.RequestLogger(&chimiddleware.DefaultLogFormatter{
		Logger:  slog.NewLogLogger(m.logger.Handler(), slog.LevelInfo),
		NoColor: true,
	}))
	r.Use(chimiddleware.Recoverer)

	r.Get("/", m.HandleHome)
	r.Get("/health", m.HandleHealth)
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))

	r.Route("/api", func(r chi.Router) {
		if g.MaxBodyBytes > 0 {
			r.Use(bodyLimit(g.MaxBodyBytes))
		}
		if g.Limiter != nil {
			r.Use(m.rateLimit(g.Limiter))
		}
		if g.JWTSecret != "" {
			r.Use(m.jwtAuth(g.JWTSecret))
		}

		r.Post("/chat", m.HandleChat)
		r.Get("/exchanges", m.HandleExchanges)
	})

	return r, nil
}
