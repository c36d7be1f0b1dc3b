package jobmetrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, registry *prometheus.Registry) string {
	t.Helper()
	rr := httptest.NewRecorder()
	promhttp.HandlerFor(registry, promhttp.HandlerOpts{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestTrackerRecordsOutcome(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	require.NoError(t, m.Track("stock:reconcile").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("stock:reconcile").End(boom), boom)

	body := scrape(t, registry)
	require.Contains(t, body, `retailpos_jobs_total{job="stock:reconcile",status="success"} 1`)
	require.Contains(t, body, `retailpos_jobs_total{job="stock:reconcile",status="failure"} 1`)
	require.Contains(t, body, `retailpos_jobs_failures_total{job="stock:reconcile"} 1`)
	require.Contains(t, body, `retailpos_job_duration_seconds_count{job="stock:reconcile"} 2`)
}

func TestLedgerMismatchGaugeAndCleanup(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.SetLedgerMismatches(3)
	require.Contains(t, scrape(t, registry), "retailpos_stock_ledger_mismatches 3")
	m.SetLedgerMismatches(0)
	require.Contains(t, scrape(t, registry), "retailpos_stock_ledger_mismatches 0")

	m.AddIdempotencyCleaned(4)
	m.AddIdempotencyCleaned(-1)
	require.True(t, strings.Contains(scrape(t, registry), "retailpos_idempotency_keys_cleaned_total 4"))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.SetLedgerMismatches(1)
	m.AddIdempotencyCleaned(1)
	require.NoError(t, m.Track("x").End(nil))
}
