package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/nordfire/munikb/internal/api"
	"github.com/nordfire/munikb/internal/api/handlers"
	"github.com/nordfire/munikb/internal/api/middleware"
)

type RouterConfig struct {
	APIToken        string
	ChunkHandler    *handlers.ChunkHandler
	SearchHandler   *handlers.SearchHandler
	FeedbackHandler *handlers.FeedbackHandler
	ResponseHandler *handlers.ResponseHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 5 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.TokenAuth(cfg.APIToken))

		r.Route("/chunks", func(r chi.Router) {
			r.Post("/batch", cfg.ChunkHandler.AddBatch)
		})

		r.Post("/examples", cfg.ChunkHandler.IngestExample)
		r.Put("/regulations/{version}", cfg.ChunkHandler.ReplaceRegulation)

		r.Post("/search", cfg.SearchHandler.Search)
		r.Get("/golden-records", cfg.ChunkHandler.GoldenRecords)
		r.Get("/negative-constraints", cfg.ChunkHandler.NegativeConstraints)
		r.Get("/stats", cfg.ChunkHandler.Stats)

		r.Post("/feedback", cfg.FeedbackHandler.Submit)
		r.Post("/feedback/analyze", cfg.FeedbackHandler.Analyze)

		r.Post("/responses/rejection", cfg.ResponseHandler.ParseRejection)
		r.Post("/responses/approval", cfg.ResponseHandler.ParseApproval)
	})

	return r
}
