package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	r := New()
	r.RunFinished("COMPLETE")
	r.RunFinished("COMPLETE")
	r.RunFinished("HALTED")
	r.Finding("CRITICAL", "negative_monetary")
	r.Records("financial", 97, 3)
	r.Retried("api:financial", 2)
	r.Retried("api:financial", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.runs.WithLabelValues("COMPLETE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("HALTED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.findings.WithLabelValues("CRITICAL", "negative_monetary")))
	assert.Equal(t, 97.0, testutil.ToFloat64(r.records.WithLabelValues("financial", "accepted")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.records.WithLabelValues("financial", "quarantined")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.retries.WithLabelValues("api:financial")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := New()
	r.StageFinished("validate", "ok", 20*time.Millisecond)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "affordability_stage_duration_seconds_count")
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.RunFinished("FAILED")
		r.StageFinished("ingest", "failed", time.Second)
		r.Finding("INFO", "x")
		r.Records("product", 1, 0)
		r.Retried("s", 1)
	})
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
