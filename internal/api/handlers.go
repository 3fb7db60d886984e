package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/starford/refdraft/internal/apperr"
	"github.com/starford/refdraft/internal/backfill"
	"github.com/starford/refdraft/internal/duplicate"
	"github.com/starford/refdraft/internal/itemservice"
	"github.com/starford/refdraft/internal/models"
	"github.com/starford/refdraft/internal/refgraph"
	"github.com/starford/refdraft/internal/viewcache"
)

// ItemService is the domain surface the handlers use.
type ItemService interface {
	List(ctx context.Context, f viewcache.Filter) ([]models.SavedItem, error)
	Get(ctx context.Context, id string) (models.SavedItem, error)
	Save(ctx context.Context, in itemservice.SaveInput) (itemservice.SaveResult, error)
	Edit(ctx context.Context, id string, in itemservice.EditInput) (models.SavedItem, error)
	SoftDelete(ctx context.Context, id string) (itemservice.DeleteResult, error)
	Restore(ctx context.Context, id string) (models.SavedItem, error)
	Purge(ctx context.Context, id string) (itemservice.PurgeResult, error)
	Trash() []models.SavedItem
	CheckDuplicate(content string, live bool) *duplicate.Prompt
	LinkedReferences(ctx context.Context, id string) ([]models.SavedItem, error)
	Usage(ctx context.Context, id string) (refgraph.Usage, error)
	UsageCounts() map[string]int
	AddTrackingPost(ctx context.Context, p models.TrackingPost) (models.TrackingPost, error)
	TrackingPosts(ctx context.Context, id string) ([]models.TrackingPost, error)
	BackfillHashes(ctx context.Context) (backfill.Result, error)
	StartBackfill(ctx context.Context, done func(backfill.Result, error)) error
}

var _ ItemService = (*itemservice.Service)(nil)

// Handler holds API route handlers.
type Handler struct {
	svc ItemService
	// ctx bounds work that outlives a request, such as background backfills.
	ctx context.Context
	bg  sync.WaitGroup
}

// NewHandler creates a new Handler. Background work started by the handlers
// is cancelled when ctx is done.
func NewHandler(ctx context.Context, svc ItemService) *Handler {
	return &Handler{svc: svc, ctx: ctx}
}

// Wait blocks until background work started by the handlers has returned.
func (h *Handler) Wait() {
	h.bg.Wait()
}

func filterFromQuery(r *http.Request) viewcache.Filter {
	q := r.URL.Query()
	return viewcache.Filter{
		Kind:          models.Kind(q.Get("kind")),
		ReferenceType: models.ReferenceType(q.Get("reference_type")),
		Topic:         q.Get("topic"),
		PlatformMode:  viewcache.PlatformMode(q.Get("platform_mode")),
		Platform:      q.Get("platform"),
		Search:        q.Get("q"),
		Usage:         viewcache.UsageFilter(q.Get("usage")),
	}
}

// ListItems handles GET /api/items.
//
//	@Summary		List live items matching the active filter, newest first
//	@Tags			items
//	@Produce		json
//	@Param			kind			query		string	false	"Item kind"	Enums(authored, reference)
//	@Param			reference_type	query		string	false	"Reference type"	Enums(structure, idea, unspecified)
//	@Param			topic			query		string	false	"Exact topic"
//	@Param			platform_mode	query		string	false	"Platform predicate"	Enums(has, not_has)
//	@Param			platform		query		string	false	"Platform tag"
//	@Param			q				query		string	false	"Search terms (all must match)"
//	@Param			usage			query		string	false	"Reference usage"	Enums(used, unused)
//	@Success		200				{object}	ItemListResponse
//	@Failure		400				{object}	errResponse
//	@Security		BearerAuth
//	@Router			/items [get]
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.List(r.Context(), filterFromQuery(r))
	if err != nil {
		writeError(w, "list items", err)
		return
	}

	resp := ItemListResponse{Items: items, Total: len(items)}
	all := h.svc.UsageCounts()
	for _, it := range items {
		if n, ok := all[it.ID]; ok {
			if resp.UsageCounts == nil {
				resp.UsageCounts = make(map[string]int)
			}
			resp.UsageCounts[it.ID] = n
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetItem handles GET /api/items/{id}.
//
//	@Summary		Get a single item by id
//	@Tags			items
//	@Produce		json
//	@Param			id	path		string	true	"Item id"
//	@Success		200	{object}	Item
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/items/{id} [get]
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	it, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get item", err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

// CreateItem handles POST /api/items.
//
//	@Summary		Save a draft or reference
//	@Description	A reference duplicating a stored one is not saved unless save_anyway is set.
//	@Tags			items
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateItemRequest	true	"Item to save"
//	@Success		201		{object}	CreateItemResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	DuplicateResponse
//	@Security		BearerAuth
//	@Router			/items [post]
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req CreateItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.Save(r.Context(), req)
	if err != nil {
		writeError(w, "create item", err)
		return
	}
	if res.Duplicate != nil {
		writeJSON(w, http.StatusConflict, DuplicateResponse{Error: "duplicate", Duplicate: res.Duplicate})
		return
	}
	writeJSON(w, http.StatusCreated, CreateItemResponse{Item: *res.Item, DroppedLinks: res.DroppedLinks})
}

// UpdateItem handles PUT /api/items/{id}.
//
//	@Summary		Edit an item; omitted fields are kept
//	@Tags			items
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Item id"
//	@Param			body	body		UpdateItemRequest	true	"Fields to change"
//	@Success		200		{object}	Item
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/items/{id} [put]
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var req UpdateItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	it, err := h.svc.Edit(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, "update item", err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

// DeleteItem handles DELETE /api/items/{id}.
//
//	@Summary		Move an item to the trash
//	@Tags			items
//	@Produce		json
//	@Param			id	path		string	true	"Item id"
//	@Success		200	{object}	itemservice.DeleteResult
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/items/{id} [delete]
func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.SoftDelete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "delete item", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// RestoreItem handles POST /api/items/{id}/restore.
//
//	@Summary		Restore an item from the trash
//	@Tags			items
//	@Produce		json
//	@Param			id	path		string	true	"Item id"
//	@Success		200	{object}	Item
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/items/{id}/restore [post]
func (h *Handler) RestoreItem(w http.ResponseWriter, r *http.Request) {
	it, err := h.svc.Restore(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "restore item", err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

// PurgeItem handles DELETE /api/items/{id}/permanent.
//
//	@Summary		Permanently delete an item and its tracking posts
//	@Tags			items
//	@Produce		json
//	@Param			id	path		string	true	"Item id"
//	@Success		200	{object}	itemservice.PurgeResult
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/items/{id}/permanent [delete]
func (h *Handler) PurgeItem(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Purge(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "purge item", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Trash handles GET /api/items/trash.
//
//	@Summary		List soft-deleted items, most recently deleted first
//	@Tags			items
//	@Produce		json
//	@Success		200	{object}	ItemListResponse
//	@Security		BearerAuth
//	@Router			/items/trash [get]
func (h *Handler) Trash(w http.ResponseWriter, _ *http.Request) {
	items := h.svc.Trash()
	writeJSON(w, http.StatusOK, ItemListResponse{Items: items, Total: len(items)})
}

// CheckDuplicate handles POST /api/items/duplicates.
//
//	@Summary		Check whether content duplicates a stored reference
//	@Tags			items
//	@Accept			json
//	@Produce		json
//	@Param			body	body		DuplicateCheckRequest	true	"Candidate content"
//	@Success		200		{object}	DuplicateCheckResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/items/duplicates [post]
func (h *Handler) CheckDuplicate(w http.ResponseWriter, r *http.Request) {
	var req DuplicateCheckRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, DuplicateCheckResponse{Duplicate: h.svc.CheckDuplicate(req.Content, req.Live)})
}

// LinkedReferences handles GET /api/items/{id}/references.
//
//	@Summary		List the live references a draft cites, in link order
//	@Tags			references
//	@Produce		json
//	@Param			id	path		string	true	"Draft id"
//	@Success		200	{object}	ReferencesResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/items/{id}/references [get]
func (h *Handler) LinkedReferences(w http.ResponseWriter, r *http.Request) {
	refs, err := h.svc.LinkedReferences(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "linked references", err)
		return
	}
	writeJSON(w, http.StatusOK, ReferencesResponse{References: refs})
}

// Usage handles GET /api/items/{id}/usage.
//
//	@Summary		List the live drafts citing a reference, newest first
//	@Tags			references
//	@Produce		json
//	@Param			id	path		string	true	"Reference id"
//	@Success		200	{object}	refgraph.Usage
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/items/{id}/usage [get]
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.Usage(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "usage", err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// AddTrackingPost handles POST /api/items/{id}/tracking.
//
//	@Summary		Record a published post derived from an item
//	@Tags			tracking
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Source item id"
//	@Param			body	body		TrackingPostRequest	true	"Post"
//	@Success		201		{object}	models.TrackingPost
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/items/{id}/tracking [post]
func (h *Handler) AddTrackingPost(w http.ResponseWriter, r *http.Request) {
	var req TrackingPostRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	post, err := h.svc.AddTrackingPost(r.Context(), models.TrackingPost{
		SourceItemID: chi.URLParam(r, "id"),
		Platform:     req.Platform,
		URL:          req.URL,
	})
	if err != nil {
		writeError(w, "add tracking post", err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

// TrackingPosts handles GET /api/items/{id}/tracking.
//
//	@Summary		List tracking posts of an item
//	@Tags			tracking
//	@Produce		json
//	@Param			id	path		string	true	"Source item id"
//	@Success		200	{object}	TrackingPostsResponse
//	@Security		BearerAuth
//	@Router			/items/{id}/tracking [get]
func (h *Handler) TrackingPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := h.svc.TrackingPosts(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "tracking posts", err)
		return
	}
	writeJSON(w, http.StatusOK, TrackingPostsResponse{Posts: posts})
}

// HashBackfill handles POST /api/maintenance/hash-backfill.
//
//	@Summary		Hash legacy references that have no content hash
//	@Description	Runs in the background and reports progress as backfill.progress events.
//	@Description	With wait=true the request blocks until the run finishes.
//	@Tags			maintenance
//	@Produce		json
//	@Param			wait	query		bool	false	"Block until finished"
//	@Success		200		{object}	backfill.Result
//	@Success		202		{object}	BackfillStartedResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/maintenance/hash-backfill [post]
func (h *Handler) HashBackfill(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("wait") == "true" {
		res, err := h.svc.BackfillHashes(r.Context())
		if err != nil {
			var chunkErr *backfill.ChunkError
			if errors.As(err, &chunkErr) {
				slog.Error("hash backfill failed", slog.Int("chunk", chunkErr.Chunk), slog.String("error", err.Error()))
			}
			writeError(w, "hash backfill", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	h.bg.Add(1)
	err := h.svc.StartBackfill(h.ctx, func(_ backfill.Result, err error) {
		defer h.bg.Done()
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("hash backfill failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		h.bg.Done()
		writeError(w, "hash backfill", err)
		return
	}
	writeJSON(w, http.StatusAccepted, BackfillStartedResponse{Status: "started"})
}
