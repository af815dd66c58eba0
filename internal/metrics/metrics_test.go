package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                               "/",
		"/metrics":                       "/metrics",
		"/api/receipts":                  "/api/receipts",
		"/api/receipts/abc":              "/api/receipts/{id}",
		"/api/receipts/abc/export":       "/api/receipts/{id}/export",
		"/api/receipts?limit=10":         "/api/receipts",
		"/api/process-receipt":           "/api/process-receipt",
		"/api/receipts/abc/split?mode=x": "/api/receipts/{id}/split",
	}
	for input, expected := range cases {
		assert.Equal(t, expected, CanonicalPath(input), input)
	}
}

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestInstrumentUsesRouteTemplate(t *testing.T) {
	Init()
	Init()

	r := mux.NewRouter()
	r.HandleFunc("/api/receipts/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Use(Instrument)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/receipts/0b7c", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	body := scrape(t)
	assert.Contains(t, body, `http_requests_total{method="GET",path="/api/receipts/{id}",status="404"}`)
	assert.NotContains(t, body, "0b7c")
}

func TestPipelineCounters(t *testing.T) {
	Init()

	RecordReceipt("item")
	RecordReceipt("")
	RecordDiscounts(2, 1)
	RecordDiscounts(0, 0)
	RecordTotalMismatch()
	ObserveStage("reconcile", 20*time.Millisecond)

	body := scrape(t)
	assert.Contains(t, body, `receipts_processed_total{mode="item"}`)
	assert.Contains(t, body, `receipts_processed_total{mode="none"}`)
	assert.Contains(t, body, `receipt_discounts_total{state="attributed"}`)
	assert.Contains(t, body, `receipt_discounts_total{state="floating"}`)
	assert.Contains(t, body, "receipt_total_mismatch_total")
	assert.Contains(t, body, `receipt_stage_duration_seconds_count{stage="reconcile"}`)
}
