// Package models defines the domain types for refdraft.
package models

import (
	"slices"
	"time"

	"github.com/starford/refdraft/internal/checksum"
)

// Kind distinguishes drafts from saved references.
type Kind string

const (
	KindAuthored  Kind = "authored"
	KindReference Kind = "reference"
)

// ReferenceType classifies a reference item.
type ReferenceType string

const (
	ReferenceStructure   ReferenceType = "structure"
	ReferenceIdea        ReferenceType = "idea"
	ReferenceUnspecified ReferenceType = "unspecified"
)

// SavedItem is a draft or a reference snippet.
type SavedItem struct {
	ID                 string        `json:"id"`
	Kind               Kind          `json:"kind"`
	Content            string        `json:"content"`
	ContentHash        string        `json:"content_hash,omitempty"`
	HashVersion        int           `json:"hash_version,omitempty"`
	ReferenceType      ReferenceType `json:"reference_type,omitempty"`
	LinkedReferenceIDs []string      `json:"linked_reference_ids,omitempty"`
	Topic              string        `json:"topic,omitempty"`
	Platforms          []string      `json:"platforms,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	IsDeleted          bool          `json:"is_deleted"`
	DeletedAt          *time.Time    `json:"deleted_at,omitempty"`
}

// IsReference reports whether the item is a reference snippet.
func (it SavedItem) IsReference() bool { return it.Kind == KindReference }

// IsAuthored reports whether the item is a draft.
func (it SavedItem) IsAuthored() bool { return it.Kind == KindAuthored }

// NormalizedContent is the comparison form of Content. It is never stored.
func (it SavedItem) NormalizedContent() string {
	return checksum.Normalize(it.Content)
}

// Digest returns the stored content hash as a tagged digest.
func (it SavedItem) Digest() checksum.Digest {
	return checksum.DigestFrom(it.HashVersion, it.ContentHash)
}

// HasHash reports whether the item carries a usable content hash.
func (it SavedItem) HasHash() bool {
	return !it.Digest().IsZero()
}

// EffectiveReferenceType maps an empty reference type to unspecified.
func (it SavedItem) EffectiveReferenceType() ReferenceType {
	if it.ReferenceType == "" {
		return ReferenceUnspecified
	}
	return it.ReferenceType
}

// HasPlatform reports whether the item is tagged with platform.
func (it SavedItem) HasPlatform(platform string) bool {
	return slices.Contains(it.Platforms, platform)
}

// Clone returns a copy that shares no slices with it.
func (it SavedItem) Clone() SavedItem {
	out := it
	out.LinkedReferenceIDs = slices.Clone(it.LinkedReferenceIDs)
	out.Platforms = slices.Clone(it.Platforms)
	if it.DeletedAt != nil {
		t := *it.DeletedAt
		out.DeletedAt = &t
	}
	return out
}

// CloneItems deep-copies a slice of items.
func CloneItems(items []SavedItem) []SavedItem {
	if items == nil {
		return nil
	}
	out := make([]SavedItem, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}

// TrackingPost records a published post derived from a saved item. It is
// removed together with its source on permanent deletion.
type TrackingPost struct {
	ID           string    `json:"id"`
	SourceItemID string    `json:"source_item_id"`
	Platform     string    `json:"platform"`
	URL          string    `json:"url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// HashUpdate is one pending content hash write.
type HashUpdate struct {
	ID     string
	Digest checksum.Digest
}

// FileMetadata describes one file in the import inbox.
type FileMetadata struct {
	Path      string    `json:"path"`
	UpdatedAt time.Time `json:"updated_at"`
}
