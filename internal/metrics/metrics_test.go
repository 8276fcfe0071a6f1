package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordHTTPRequest(t *testing.T) {
	before := testutil.ToFloat64(HTTPRequests.WithLabelValues("GET", "/api/v1/notebooks", "200"))
	RecordHTTPRequest("GET", "/api/v1/notebooks", 200, 15*time.Millisecond)
	after := testutil.ToFloat64(HTTPRequests.WithLabelValues("GET", "/api/v1/notebooks", "200"))
	if after-before != 1 {
		t.Fatalf("expected counter to increase by 1, got %v", after-before)
	}
}

func TestRecordHTTPRequestUnmatchedRoute(t *testing.T) {
	before := testutil.ToFloat64(HTTPRequests.WithLabelValues("GET", "unmatched", "404"))
	RecordHTTPRequest("GET", "", 404, time.Millisecond)
	if got := testutil.ToFloat64(HTTPRequests.WithLabelValues("GET", "unmatched", "404")); got-before != 1 {
		t.Fatalf("expected unmatched label, delta=%v", got-before)
	}
}

func TestResultLabels(t *testing.T) {
	RecordMail("smtp", errors.New("boom"))
	RecordMail("smtp", nil)
	if testutil.ToFloat64(MailDeliveries.WithLabelValues("smtp", "error")) < 1 {
		t.Fatalf("expected error delivery to be counted")
	}
	if testutil.ToFloat64(MailDeliveries.WithLabelValues("smtp", "ok")) < 1 {
		t.Fatalf("expected ok delivery to be counted")
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	RecordGeneration("gemini", "ok", time.Second)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "studium_ai_generations_total") {
		t.Fatalf("expected generation metric in exposition")
	}
}
