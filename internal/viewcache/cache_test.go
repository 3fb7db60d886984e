package viewcache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/refdraft/internal/models"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type store struct {
	mu    sync.Mutex
	items []models.SavedItem
	gate  chan struct{}
}

func (s *store) source(ctx context.Context) ([]models.SavedItem, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items, nil
}

func (s *store) set(items []models.SavedItem) {
	s.mu.Lock()
	s.items = items
	s.mu.Unlock()
}

func ids(items []models.SavedItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func sample() []models.SavedItem {
	deleted := models.SavedItem{ID: "ref-deleted", Kind: models.KindReference, Content: "old idea", IsDeleted: true}
	return []models.SavedItem{
		{ID: "d1", Kind: models.KindAuthored, Content: "Morning routine thread", Topic: "habits",
			Platforms: []string{"threads"}, LinkedReferenceIDs: []string{"r1"}, CreatedAt: t0},
		{ID: "d2", Kind: models.KindAuthored, Content: "Pricing lessons", Topic: "business",
			Platforms: []string{"x", "threads"}, LinkedReferenceIDs: []string{"r1", "r2"}, CreatedAt: t0},
		{ID: "r1", Kind: models.KindReference, Content: "Hook: start with a question", Topic: "copy",
			ReferenceType: models.ReferenceStructure, CreatedAt: t0},
		{ID: "r2", Kind: models.KindReference, Content: "Idea about morning pages", Topic: "habits",
			ReferenceType: models.ReferenceIdea, CreatedAt: t0},
		{ID: "r3", Kind: models.KindReference, Content: "Unused quote", CreatedAt: t0},
		deleted,
	}
}

func TestGet_FilterScenarios(t *testing.T) {
	s := &store{items: sample()}
	c := New(s.source, 0, nil)
	ctx := context.Background()

	cases := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all live", Filter{}, []string{"d1", "d2", "r1", "r2", "r3"}},
		{"drafts", Filter{Kind: models.KindAuthored}, []string{"d1", "d2"}},
		{"idea refs", Filter{Kind: models.KindReference, ReferenceType: models.ReferenceIdea}, []string{"r2"}},
		{"unspecified default", Filter{ReferenceType: models.ReferenceUnspecified}, []string{"r3"}},
		{"topic", Filter{Topic: "habits"}, []string{"d1", "r2"}},
		{"has platform", Filter{PlatformMode: PlatformHas, Platform: "x"}, []string{"d2"}},
		{"not has platform", Filter{Kind: models.KindAuthored, PlatformMode: PlatformNotHas, Platform: "x"}, []string{"d1"}},
		{"search tokens AND", Filter{Search: "  MORNING   habits "}, []string{"d1", "r2"}},
		{"search no match", Filter{Search: "morning pricing"}, []string{}},
		{"unused refs", Filter{Kind: models.KindReference, Usage: UsageUnused}, []string{"r3"}},
		{"used refs", Filter{Kind: models.KindReference, Usage: UsageUsed}, []string{"r1", "r2"}},
		{"usage excludes drafts", Filter{Usage: UsageUsed}, []string{"r1", "r2"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := c.Get(ctx, tc.filter)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ids(got))
		})
	}
}

func TestGet_SameKeyComputesOnce(t *testing.T) {
	s := &store{items: sample()}
	c := New(s.source, 0, nil)
	f := Filter{Kind: models.KindReference}

	first, err := c.Get(context.Background(), f)
	require.NoError(t, err)
	second, err := c.Get(context.Background(), Filter{Kind: models.KindReference})
	require.NoError(t, err)

	assert.Equal(t, int64(1), c.Computations())
	assert.Equal(t, ids(first), ids(second))
}

func TestGet_ResultIsACopy(t *testing.T) {
	s := &store{items: sample()}
	c := New(s.source, 0, nil)

	got, _ := c.Get(context.Background(), Filter{})
	got[0].Content = "mutated"
	again, _ := c.Get(context.Background(), Filter{})
	assert.Equal(t, "Morning routine thread", again[0].Content)
	assert.Equal(t, "Morning routine thread", s.items[0].Content)
}

func TestGet_KeyChangeRecomputes(t *testing.T) {
	s := &store{items: sample()}
	c := New(s.source, 0, nil)
	_, _ = c.Get(context.Background(), Filter{Kind: models.KindAuthored})
	_, _ = c.Get(context.Background(), Filter{Kind: models.KindReference})
	_, _ = c.Get(context.Background(), Filter{Kind: models.KindAuthored})
	assert.Equal(t, int64(3), c.Computations(), "single entry cache")
}

func TestInvalidate_NextGetSeesMutation(t *testing.T) {
	s := &store{items: sample()}
	c := New(s.source, 0, nil)
	f := Filter{Kind: models.KindReference, Usage: UsageUnused}

	got, _ := c.Get(context.Background(), f)
	assert.Equal(t, []string{"r3"}, ids(got))

	items := sample()
	items[0].LinkedReferenceIDs = []string{"r3"}
	s.set(items)
	c.Invalidate()

	got, _ = c.Get(context.Background(), f)
	assert.Empty(t, got)
	assert.Equal(t, int64(2), c.Computations())
}

func TestGet_ConcurrentMissesCoalesce(t *testing.T) {
	s := &store{items: sample(), gate: make(chan struct{})}
	c := New(s.source, 0, nil)

	var wg sync.WaitGroup
	results := make([][]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := c.Get(context.Background(), Filter{Kind: models.KindAuthored})
			if err == nil {
				results[i] = ids(got)
			}
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(s.gate)
	wg.Wait()

	assert.Equal(t, int64(1), c.Computations())
	for _, r := range results {
		assert.Equal(t, []string{"d1", "d2"}, r)
	}
}

func TestGet_StaleComputationNotStored(t *testing.T) {
	s := &store{items: sample(), gate: make(chan struct{})}
	c := New(s.source, 0, nil)

	done := make(chan struct{})
	go func() {
		_, _ = c.Get(context.Background(), Filter{})
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	c.Invalidate()
	close(s.gate)
	<-done

	_, _ = c.Get(context.Background(), Filter{})
	assert.Equal(t, int64(2), c.Computations(), "result computed before invalidation must not be reused")
}

func TestGet_DebounceCollapsesBurst(t *testing.T) {
	s := &store{items: sample()}
	c := New(s.source, 40*time.Millisecond, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		c.Invalidate()
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Get(ctx, Filter{})
		}()
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()

	assert.Equal(t, int64(1), c.Computations())
}

func TestGet_DebounceHonoursContext(t *testing.T) {
	s := &store{items: sample()}
	c := New(s.source, time.Hour, nil)
	c.Invalidate()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.Get(ctx, Filter{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGet_SourceError(t *testing.T) {
	c := New(func(context.Context) ([]models.SavedItem, error) { return nil, errors.New("boom") }, 0, nil)
	_, err := c.Get(context.Background(), Filter{})
	assert.Error(t, err)
	assert.Zero(t, c.Computations())
}

func TestFilterKey(t *testing.T) {
	a := Filter{Kind: models.KindReference, Search: "Hello   World"}
	b := Filter{Kind: models.KindReference, Search: " hello world "}
	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), Filter{Kind: models.KindReference, Search: "hello"}.Key())
	assert.NotEqual(t, Filter{Usage: UsageUsed}.Key(), Filter{Usage: UsageUnused}.Key())
	assert.Equal(t, Filter{Platform: "x"}.Key(), Filter{}.Key(), "platform without mode is inactive")
}

func TestFilterValidate(t *testing.T) {
	assert.NoError(t, Filter{}.Validate())
	assert.NoError(t, Filter{Kind: models.KindReference, Usage: UsageUnused}.Validate())
	assert.Error(t, Filter{Kind: "script"}.Validate())
	assert.Error(t, Filter{PlatformMode: "maybe", Platform: "x"}.Validate())
	assert.Error(t, Filter{PlatformMode: PlatformHas}.Validate())
	assert.Error(t, Filter{Usage: "sometimes"}.Validate())
}

func TestGet_DebounceBoundedUnderContinuousInvalidation(t *testing.T) {
	s := &store{items: sample()}
	debounce := 50 * time.Millisecond
	c := New(s.source, debounce, nil)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				c.Invalidate()
			}
		}
	}()
	defer func() {
		close(stop)
		<-done
	}()

	time.Sleep(30 * time.Millisecond)
	start := time.Now()
	got, err := c.Get(context.Background(), Filter{})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.NotEmpty(t, got)
	assert.Less(t, elapsed, 10*maxWaitFactor*debounce, "Get must not wait for the invalidations to stop")
}
