// Package refgraph resolves the links between drafts and the references
// they cite. The reverse direction (reference usage) is recomputed by
// scanning drafts on every call; nothing is persisted.
package refgraph

import (
	"slices"

	"github.com/starford/refdraft/internal/models"
)

// Graph is a read-only view over one snapshot of items.
type Graph struct {
	items []models.SavedItem
	byID  map[string]int
}

// Usage describes which drafts cite a reference.
type Usage struct {
	Count int                `json:"count"`
	Users []models.SavedItem `json:"users"`
}

// New indexes items by id. The slice is not copied and must not be mutated
// while the graph is in use.
func New(items []models.SavedItem) *Graph {
	byID := make(map[string]int, len(items))
	for i, it := range items {
		if _, dup := byID[it.ID]; !dup {
			byID[it.ID] = i
		}
	}
	return &Graph{items: items, byID: byID}
}

// resolve returns the live reference with the given id.
func (g *Graph) resolve(id string) (*models.SavedItem, bool) {
	i, ok := g.byID[id]
	if !ok {
		return nil, false
	}
	it := &g.items[i]
	if !it.IsReference() || it.IsDeleted {
		return nil, false
	}
	return it, true
}

// LinkedReferences returns the references cited by the draft authoredID, in
// link order. Ids that no longer resolve to a live reference are dropped;
// repeated ids are kept.
func (g *Graph) LinkedReferences(authoredID string) []models.SavedItem {
	i, ok := g.byID[authoredID]
	if !ok {
		return []models.SavedItem{}
	}
	out := make([]models.SavedItem, 0, len(g.items[i].LinkedReferenceIDs))
	for _, id := range g.items[i].LinkedReferenceIDs {
		if ref, ok := g.resolve(id); ok {
			out = append(out, ref.Clone())
		}
	}
	return out
}

// Usage returns the live drafts citing referenceID, most recent first.
func (g *Graph) Usage(referenceID string) Usage {
	users := []models.SavedItem{}
	for _, it := range g.items {
		if !it.IsAuthored() || it.IsDeleted {
			continue
		}
		if slices.Contains(it.LinkedReferenceIDs, referenceID) {
			users = append(users, it.Clone())
		}
	}
	slices.SortStableFunc(users, func(a, b models.SavedItem) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return Usage{Count: len(users), Users: users}
}

// UsageCount is Usage(referenceID).Count without copying the drafts.
func (g *Graph) UsageCount(referenceID string) int {
	n := 0
	for _, it := range g.items {
		if it.IsAuthored() && !it.IsDeleted && slices.Contains(it.LinkedReferenceIDs, referenceID) {
			n++
		}
	}
	return n
}

// UsageCounts returns the usage count of every live reference in one pass.
// A draft citing the same reference twice counts once.
func (g *Graph) UsageCounts() map[string]int {
	counts := make(map[string]int)
	for _, it := range g.items {
		if it.IsReference() && !it.IsDeleted {
			counts[it.ID] += 0
		}
	}
	for _, it := range g.items {
		if !it.IsAuthored() || it.IsDeleted {
			continue
		}
		seen := make(map[string]struct{}, len(it.LinkedReferenceIDs))
		for _, id := range it.LinkedReferenceIDs {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			if _, ok := counts[id]; ok {
				counts[id]++
			}
		}
	}
	return counts
}

// ValidLinks filters candidate reference ids down to those that resolve to a
// live reference in this snapshot, preserving order and repeats.
func (g *Graph) ValidLinks(candidates []string) []string {
	out := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if _, ok := g.resolve(id); ok {
			out = append(out, id)
		}
	}
	return out
}
