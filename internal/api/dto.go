package api

import (
	"github.com/starford/refdraft/internal/duplicate"
	"github.com/starford/refdraft/internal/itemservice"
	"github.com/starford/refdraft/internal/models"
)

// CreateItemRequest is the request body for saving an item (aliased from the domain layer).
type CreateItemRequest = itemservice.SaveInput

// UpdateItemRequest is the request body for editing an item. Omitted fields are kept.
type UpdateItemRequest = itemservice.EditInput

// Item is the item response type (aliased from the domain layer).
type Item = models.SavedItem

// CreateItemResponse is returned after a successful save.
type CreateItemResponse struct {
	Item         Item     `json:"item" validate:"required"`
	DroppedLinks []string `json:"dropped_links,omitempty" example:"3f2a..."`
}

// DuplicateResponse is returned with 409 when a reference save would
// duplicate a stored one. Resend with save_anyway to store it regardless.
type DuplicateResponse struct {
	Error     string            `json:"error" example:"duplicate" validate:"required"`
	Duplicate *duplicate.Prompt `json:"duplicate" validate:"required"`
}

// ItemListResponse wraps filtered item listings.
type ItemListResponse struct {
	Items []Item `json:"items" validate:"required"`
	Total int    `json:"total" example:"42" validate:"required"`
	// UsageCounts maps each listed reference id to the number of live drafts citing it.
	UsageCounts map[string]int `json:"usage_counts,omitempty"`
}

// DuplicateCheckRequest is the request body for POST /items/duplicates.
type DuplicateCheckRequest struct {
	Content string `json:"content" example:"Open with the ending." validate:"required"`
	// Live applies the minimum length used for as-you-type hints.
	Live bool `json:"live,omitempty"`
}

// DuplicateCheckResponse carries the prompt, or null when the content is unique.
type DuplicateCheckResponse struct {
	Duplicate *duplicate.Prompt `json:"duplicate"`
}

// ReferencesResponse lists the live references a draft cites, in link order.
type ReferencesResponse struct {
	References []Item `json:"references" validate:"required"`
}

// TrackingPostRequest is the request body for POST /items/{id}/tracking.
type TrackingPostRequest struct {
	Platform string `json:"platform" example:"threads" validate:"required"`
	URL      string `json:"url,omitempty" example:"https://www.threads.net/@me/post/1"`
}

// TrackingPostsResponse lists tracking posts of an item.
type TrackingPostsResponse struct {
	Posts []models.TrackingPost `json:"posts" validate:"required"`
}

// BackfillStartedResponse is returned when a backfill is started in the background.
type BackfillStartedResponse struct {
	Status string `json:"status" example:"started" validate:"required"`
}
