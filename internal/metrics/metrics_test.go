package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyStatus(t *testing.T) {
	cases := map[int]string{
		0:   "error",
		200: "2xx",
		204: "2xx",
		304: "3xx",
		401: "4xx",
		409: "4xx",
		503: "5xx",
		700: "unknown",
	}
	for code, want := range cases {
		assert.Equal(t, want, classifyStatus(code), "status %d", code)
	}
}

func TestRecordRequest(t *testing.T) {
	before := testutil.ToFloat64(remoteRequestsTotal.WithLabelValues("POST", "/v2/catalog/object", "4xx"))
	RecordRequest("POST", "/v2/catalog/object", 409, 20*time.Millisecond)
	after := testutil.ToFloat64(remoteRequestsTotal.WithLabelValues("POST", "/v2/catalog/object", "4xx"))
	assert.Equal(t, before+1, after)
}

func TestHandlerExposesCounters(t *testing.T) {
	RecordResult("sync_product", "ok")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "catalogsync_sync_results_total")
}
