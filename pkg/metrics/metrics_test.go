package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mshafei721/AIAG-P/pkg/schema"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	return New(WithRegistry(prometheus.NewRegistry()))
}

func TestObserveCommandCountsByStatus(t *testing.T) {
	m := newTestMetrics(t)

	m.ObserveCommand("navigate", nil, 10*time.Millisecond)
	m.ObserveCommand("navigate", nil, 20*time.Millisecond)
	notFound := schema.NewCommandError(schema.ErrCodeElementNotFound, schema.ErrTypeElement, "no match")
	m.ObserveCommand("click", notFound, time.Millisecond)

	if got := testutil.ToFloat64(m.commandsTotal.WithLabelValues("navigate", "success")); got != 2 {
		t.Errorf("navigate success = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.commandsTotal.WithLabelValues("click", "error")); got != 1 {
		t.Errorf("click error = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.commandErrors.WithLabelValues("click", schema.ErrTypeElement)); got != 1 {
		t.Errorf("click element errors = %v, want 1", got)
	}
}

func TestObserveCommandCategorizesOpaqueErrors(t *testing.T) {
	m := newTestMetrics(t)

	m.ObserveCommand("extract", errors.New("chrome went away"), time.Millisecond)

	if got := testutil.ToFloat64(m.commandErrors.WithLabelValues("extract", schema.ErrTypeInternal)); got != 1 {
		t.Errorf("internal errors = %v, want 1", got)
	}
}

func TestSessionAndConnectionGauges(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordSessionCreate()
	m.RecordSessionCreate()
	m.RecordSessionClose(true)
	m.RecordConnOpen()

	if got := testutil.ToFloat64(m.sessionsActive); got != 1 {
		t.Errorf("sessions_active = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.sessionsReaped); got != 1 {
		t.Errorf("sessions_reaped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.connectionsActive); got != 1 {
		t.Errorf("connections_active = %v, want 1", got)
	}
}

func TestCacheCounters(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordCacheHit()
	m.RecordCacheMiss()
	m.RecordCacheMiss()
	m.RecordInvalidations(3)
	m.RecordInvalidations(0)

	if got := testutil.ToFloat64(m.cacheHits); got != 1 {
		t.Errorf("cache_hits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.cacheMisses); got != 2 {
		t.Errorf("cache_misses = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.cacheInvalidations); got != 3 {
		t.Errorf("cache_invalidations = %v, want 3", got)
	}
}

func TestPoolGauges(t *testing.T) {
	m := newTestMetrics(t)

	m.SetPoolGauges(2, 5)
	if got := testutil.ToFloat64(m.poolAvailable); got != 2 {
		t.Errorf("pool_contexts_available = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.poolLeased); got != 5 {
		t.Errorf("pool_contexts_leased = %v, want 5", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveCommand("navigate", nil, time.Second)
	m.RecordCacheHit()
	m.RecordCacheMiss()
	m.RecordInvalidations(4)
	m.RecordSessionCreate()
	m.RecordSessionClose(false)
	m.RecordConnOpen()
	m.RecordConnClose()
	m.RecordRateLimited()
	m.RecordWebSocketError("read")
	m.SetPoolGauges(1, 2)
}
