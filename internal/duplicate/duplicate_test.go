package duplicate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/refdraft/internal/checksum"
	"github.com/starford/refdraft/internal/models"
)

type countingRecorder struct{ found, missed int }

func (r *countingRecorder) RecordDuplicateCheck(found bool) {
	if found {
		r.found++
	} else {
		r.missed++
	}
}

func reference(id, content string, hashed bool) models.SavedItem {
	it := models.SavedItem{ID: id, Kind: models.KindReference, Content: content, CreatedAt: time.Now()}
	if hashed {
		d, _ := checksum.NewHasher().SumContent(content)
		it.ContentHash = d.Value
		it.HashVersion = d.Version()
	}
	return it
}

func TestCheck_WhitespaceVariantFindsHashedReference(t *testing.T) {
	d := New(nil, nil, nil)
	items := []models.SavedItem{reference("A", "abc", true)}

	p := d.Prompt(" abc ", items)
	require.NotNil(t, p)
	assert.Equal(t, "A", p.Existing.ID)
	assert.Equal(t, MatchHash, p.MatchedBy)
	assert.Equal(t, []Choice{ChoiceCancel, ChoiceViewExisting, ChoiceSaveAnyway}, p.Choices)
}

func TestCheck_FallsBackToNormalizedContent(t *testing.T) {
	d := New(nil, nil, nil)
	items := []models.SavedItem{reference("legacy", "line one\n\nline two", false)}

	p := d.Prompt("line one line two", items)
	require.NotNil(t, p)
	assert.Equal(t, "legacy", p.Existing.ID)
	assert.Equal(t, MatchNormalized, p.MatchedBy)
}

func TestCheck_HashVersionMismatchUsesContentCompare(t *testing.T) {
	d := New(nil, nil, nil)
	fb, _ := checksum.NewHasher(checksum.WithoutCrypto()).SumContent("same text")
	it := reference("fb", "same text", false)
	it.ContentHash, it.HashVersion = fb.Value, fb.Version()

	p := d.Prompt("same text", []models.SavedItem{it})
	require.NotNil(t, p)
	assert.Equal(t, MatchNormalized, p.MatchedBy)
}

func TestCheck_FirstMatchInCallerOrder(t *testing.T) {
	d := New(nil, nil, nil)
	items := []models.SavedItem{
		reference("second", "dup", false),
		reference("first", "dup", false),
	}
	got := d.Check("dup", items)
	require.NotNil(t, got)
	assert.Equal(t, "second", got.ID)
}

func TestCheck_HashMatchWinsOverEarlierContentMatch(t *testing.T) {
	d := New(nil, nil, nil)
	items := []models.SavedItem{
		reference("plain", "dup", false),
		reference("hashed", "dup", true),
	}
	got := d.Check("dup", items)
	require.NotNil(t, got)
	assert.Equal(t, "hashed", got.ID)
}

func TestCheck_IgnoresDraftsAndDeleted(t *testing.T) {
	d := New(nil, nil, nil)
	deleted := reference("gone", "text", true)
	deleted.IsDeleted = true
	draft := models.SavedItem{ID: "draft", Kind: models.KindAuthored, Content: "text"}

	assert.Nil(t, d.Check("text", []models.SavedItem{deleted, draft}))
}

func TestCheck_EmptyCandidate(t *testing.T) {
	d := New(nil, nil, nil)
	assert.Nil(t, d.Check("   \n", []models.SavedItem{reference("e", "", false)}))
}

func TestCheck_ReturnsCopy(t *testing.T) {
	d := New(nil, nil, nil)
	items := []models.SavedItem{reference("A", "abc", false)}
	items[0].Platforms = []string{"x"}
	got := d.Check("abc", items)
	require.NotNil(t, got)
	got.Platforms[0] = "mutated"
	assert.Equal(t, "x", items[0].Platforms[0])
}

func TestCheck_FailsOpenOnPanic(t *testing.T) {
	rec := &countingRecorder{}
	d := New(nil, nil, rec)
	d.normalize = func(string) string { panic("boom") }

	assert.Nil(t, d.Check("abc", []models.SavedItem{reference("A", "abc", true)}))
	assert.Equal(t, 1, rec.missed)
}

func TestCheck_RecordsOutcome(t *testing.T) {
	rec := &countingRecorder{}
	d := New(nil, nil, rec)
	items := []models.SavedItem{reference("A", "abc", true)}
	d.Check("abc", items)
	d.Check("xyz", items)
	assert.Equal(t, 1, rec.found)
	assert.Equal(t, 1, rec.missed)
}

func TestHint_SkipsShortCandidates(t *testing.T) {
	d := New(nil, nil, nil)
	items := []models.SavedItem{reference("A", "short", true), reference("B", "a much longer reference", true)}

	assert.Nil(t, d.Hint("short", items))
	p := d.Hint("a much longer reference", items)
	require.NotNil(t, p)
	assert.Equal(t, "B", p.Existing.ID)
}
