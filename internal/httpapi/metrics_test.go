package httpapi

import (
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsMiddleware_RoutePattern(t *testing.T) {
	h := NewMux(&mockService{})
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/sessions/{id}/stop", http.MethodPost, "202"))
	do(t, h, http.MethodPost, "/sessions/abc/stop", "")
	do(t, h, http.MethodPost, "/sessions/def/stop", "")
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/sessions/{id}/stop", http.MethodPost, "202"))
	if after-before != 2 {
		t.Fatalf("expected 2 requests under the route pattern, got %v", after-before)
	}
}

func TestIncrementBackpressure(t *testing.T) {
	before := testutil.ToFloat64(backpressureTotal.WithLabelValues("unspecified"))
	IncrementBackpressure("")
	if got := testutil.ToFloat64(backpressureTotal.WithLabelValues("unspecified")); got-before != 1 {
		t.Fatalf("backpressure delta=%v", got-before)
	}
}

func TestItoa(t *testing.T) {
	for n, want := range map[int]string{0: "0", 7: "7", 200: "200", 503: "503"} {
		if got := itoa(n); got != want {
			t.Fatalf("itoa(%d)=%q", n, got)
		}
	}
}

func TestMetricsMiddleware_SeriesBoundedAcrossSessions(t *testing.T) {
	h := NewMux(&mockService{})
	do(t, h, http.MethodGet, "/sessions/warmup/output", "")
	do(t, h, http.MethodGet, "/sessions/warmup", "")
	inflight := testutil.CollectAndCount(httpInflight)
	requests := testutil.CollectAndCount(httpRequestsTotal)

	for _, id := range []string{"a1", "b2", "c3", "d4", "e5"} {
		do(t, h, http.MethodGet, "/sessions/"+id+"/output", "")
		do(t, h, http.MethodGet, "/sessions/"+id, "")
	}
	if got := testutil.CollectAndCount(httpInflight); got != inflight || got != 1 {
		t.Fatalf("inflight series grew: %d -> %d", inflight, got)
	}
	if got := testutil.CollectAndCount(httpRequestsTotal); got != requests {
		t.Fatalf("request series grew: %d -> %d", requests, got)
	}
	if v := testutil.ToFloat64(httpInflight); v != 0 {
		t.Fatalf("inflight not back to zero: %v", v)
	}
}
