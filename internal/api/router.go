package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted on h.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(h *Handler, authEnabled bool, token string, sseHandler http.Handler) chi.Router {

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Route("/items", func(r chi.Router) {
		r.Get("/", h.ListItems)
		r.Post("/", h.CreateItem)
		r.Post("/duplicates", h.CheckDuplicate)
		r.Get("/trash", h.Trash)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetItem)
			r.Put("/", h.UpdateItem)
			r.Delete("/", h.DeleteItem)
			r.Post("/restore", h.RestoreItem)
			r.Delete("/permanent", h.PurgeItem)
			r.Get("/references", h.LinkedReferences)
			r.Get("/usage", h.Usage)
			r.Get("/tracking", h.TrackingPosts)
			r.Post("/tracking", h.AddTrackingPost)
		})
	})

	r.Post("/maintenance/hash-backfill", h.HashBackfill)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
