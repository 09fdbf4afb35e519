package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestInstrumentHandlerUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(InstrumentHandler)
	r.Get("/submissions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Handle("/metrics", Handler())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/submissions/6f1c1c38", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected 418, got %d", rec.Code)
	}

	RecordLedgerEntry("penalty", -15)
	RecordSettlementCall("verify", "confirmed", 0)

	scrape := httptest.NewRecorder()
	r.ServeHTTP(scrape, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(scrape.Body)
	text := string(body)

	for _, want := range []string{
		`rewards_http_requests_total{method="GET",route="/submissions/{id}",status="418"}`,
		`rewards_ledger_points_total{kind="penalty"} 15`,
		`rewards_settlement_call_duration_seconds_count{op="verify",outcome="confirmed"}`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected scrape to contain %s", want)
		}
	}
}
