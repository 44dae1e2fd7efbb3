package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStatusCodeClass(t *testing.T) {
	tests := map[int]string{200: "2xx", 204: "2xx", 302: "3xx", 406: "4xx", 503: "5xx", 100: "1xx"}
	for code, want := range tests {
		if got := statusCodeClass(code); got != want {
			t.Errorf("statusCodeClass(%d) = %s, want %s", code, got, want)
		}
	}
}

func TestRecorders(t *testing.T) {
	before := testutil.ToFloat64(submissionsTotal.WithLabelValues("pacs.008", "failure"))
	RecordSubmission("pacs.008", false)
	if got := testutil.ToFloat64(submissionsTotal.WithLabelValues("pacs.008", "failure")); got != before+1 {
		t.Errorf("expected submission counter to advance, got %v", got)
	}

	before = testutil.ToFloat64(alertsTotal.WithLabelValues("unclassified"))
	RecordAlert("")
	if got := testutil.ToFloat64(alertsTotal.WithLabelValues("unclassified")); got != before+1 {
		t.Errorf("expected unclassified alert counter to advance, got %v", got)
	}

	RecordTransport("pacs.008.001.10", 0, 5*time.Millisecond)
	RecordSimulation("006", "BLOCKED", time.Second)
	RecordVerdict("pacs.008.001.10", "rejected")
	RecordFinding("901", true)
	RecordHTTPRequest(http.MethodPost, "/api/v1/pacs008", 200, time.Millisecond)
}

func TestHandlerExposesMetrics(t *testing.T) {
	RecordFinding("902", false)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "verify_mock_rule_findings_total") {
		t.Error("expected rule findings metric in scrape output")
	}
}
