package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordDuplicateCheck(true)
	c.RecordDuplicateCheck(false)
	c.RecordDuplicateCheck(false)
	c.RecordViewCacheHit()
	c.RecordViewCacheMiss()
	c.RecordViewComputation(5 * time.Millisecond)
	c.RecordBackfillChunk(500)
	c.RecordBackfillChunk(200)
	c.RecordBackfillFailure()

	if got := testutil.ToFloat64(c.duplicateChecks.WithLabelValues("unique")); got != 2 {
		t.Errorf("unique checks = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.backfillHashed); got != 700 {
		t.Errorf("hashed = %v, want 700", got)
	}
	if got := testutil.ToFloat64(c.backfillChunks); got != 2 {
		t.Errorf("chunks = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.backfillFailures); got != 1 {
		t.Errorf("failures = %v, want 1", got)
	}
}

func TestHandler_ExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordViewCacheHit()

	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `refdraft_view_cache_requests_total{result="hit"} 1`) {
		t.Errorf("metrics output missing cache hit counter:\n%s", w.Body.String())
	}
}
