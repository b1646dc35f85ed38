package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInstrumentRecordsStatus(t *testing.T) {
	Init()
	Init()

	h := Instrument("/teapot", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/teapot", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected 418, got %d", rec.Code)
	}

	if n := testutil.CollectAndCount(httpRequestDuration); n < 1 {
		t.Errorf("expected histogram series, got %d", n)
	}
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(PolicyDecisions.WithLabelValues("policy_prompt_too_long"))
	PolicyDecisions.WithLabelValues("policy_prompt_too_long").Inc()
	after := testutil.ToFloat64(PolicyDecisions.WithLabelValues("policy_prompt_too_long"))
	if after != before+1 {
		t.Errorf("expected counter to advance by 1, got %v -> %v", before, after)
	}

	Init()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "chatgate_policy_decisions_total") {
		t.Error("expected policy decision counter in exposition")
	}
}
