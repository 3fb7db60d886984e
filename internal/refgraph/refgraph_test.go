package refgraph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/starford/refdraft/internal/models"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func ref(id string) models.SavedItem {
	return models.SavedItem{ID: id, Kind: models.KindReference, Content: id, CreatedAt: t0}
}

func draft(id string, at time.Time, links ...string) models.SavedItem {
	return models.SavedItem{ID: id, Kind: models.KindAuthored, Content: id, CreatedAt: at, LinkedReferenceIDs: links}
}

func ids(items []models.SavedItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestLinkedReferences_DropsUnresolved(t *testing.T) {
	items := []models.SavedItem{
		ref("R1"), ref("R3"),
		draft("D", t0, "R1", "R2", "R3"),
	}
	g := New(items)
	assert.Equal(t, []string{"R1", "R3"}, ids(g.LinkedReferences("D")))
}

func TestLinkedReferences_KeepsOrderAndRepeats(t *testing.T) {
	items := []models.SavedItem{ref("A"), ref("B"), draft("D", t0, "B", "A", "B")}
	assert.Equal(t, []string{"B", "A", "B"}, ids(New(items).LinkedReferences("D")))
}

func TestLinkedReferences_SoftDeletedAndNonReferences(t *testing.T) {
	deleted := ref("R1")
	deleted.IsDeleted = true
	items := []models.SavedItem{
		deleted,
		draft("other", t0),
		ref("R2"),
		draft("D", t0, "R1", "other", "R2"),
	}
	assert.Equal(t, []string{"R2"}, ids(New(items).LinkedReferences("D")))
}

func TestLinkedReferences_UnknownDraft(t *testing.T) {
	got := New(nil).LinkedReferences("missing")
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestUsage_CountsLiveDraftsNewestFirst(t *testing.T) {
	deletedDraft := draft("gone", t0.Add(3*time.Hour), "R")
	deletedDraft.IsDeleted = true
	items := []models.SavedItem{
		ref("R"),
		draft("old", t0, "R"),
		draft("new", t0.Add(2*time.Hour), "R", "R"),
		draft("mid", t0.Add(time.Hour), "R"),
		draft("unrelated", t0, "X"),
		deletedDraft,
	}
	u := New(items).Usage("R")
	assert.Equal(t, 3, u.Count)
	assert.Equal(t, []string{"new", "mid", "old"}, ids(u.Users))
}

func TestUsage_TiesKeepSnapshotOrder(t *testing.T) {
	items := []models.SavedItem{draft("a", t0, "R"), draft("b", t0, "R"), ref("R")}
	assert.Equal(t, []string{"a", "b"}, ids(New(items).Usage("R").Users))
}

func TestUsage_ReflectsEditRemovingLink(t *testing.T) {
	items := []models.SavedItem{ref("R"), draft("D1", t0, "R"), draft("D2", t0, "R")}
	assert.Equal(t, 2, New(items).Usage("R").Count)

	edited := append([]models.SavedItem(nil), items...)
	edited[1] = draft("D1", t0)
	assert.Equal(t, 1, New(edited).Usage("R").Count)
	assert.Equal(t, 1, New(edited).UsageCount("R"))
}

func TestUsageCounts(t *testing.T) {
	items := []models.SavedItem{
		ref("A"), ref("B"), ref("C"),
		draft("D1", t0, "A", "A", "B"),
		draft("D2", t0, "A", "ghost"),
	}
	got := New(items).UsageCounts()
	assert.Equal(t, map[string]int{"A": 2, "B": 1, "C": 0}, got)
}

func TestValidLinks(t *testing.T) {
	deleted := ref("dead")
	deleted.IsDeleted = true
	items := []models.SavedItem{ref("A"), ref("B"), deleted, draft("D", t0)}
	got := New(items).ValidLinks([]string{"B", "missing", "dead", "D", "A", "B"})
	assert.Equal(t, []string{"B", "A", "B"}, got)
}
