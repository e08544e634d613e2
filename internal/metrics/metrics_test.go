package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetricsExposition(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SubmissionsFound.Add(3)
	m.StageErrors.WithLabelValues("download").Inc()
	m.CountUsage("subscription_add")
	m.ObserveStage("fetch", time.Now().Add(-10*time.Millisecond))
	m.PoolSize.Set(7)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		"subwatch_submissions_found_total 3",
		`subwatch_stage_errors_total{stage="download"} 1`,
		`subwatch_command_usage_total{function="subscription_add"} 1`,
		"subwatch_pool_size 7",
		"subwatch_stage_duration_seconds_count",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
