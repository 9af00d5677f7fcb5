package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareCountsByRouteAndStatus(t *testing.T) {
	r := New()
	h := r.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	for range 2 {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/purchase-orders/po-123/entries", nil)
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	got := testutil.ToFloat64(r.HTTPRequests.WithLabelValues(http.MethodPost, "/api/v1/purchase-orders", "409"))
	assert.Equal(t, float64(2), got)
}

func TestHandlerExposesDomainCounters(t *testing.T) {
	r := New()
	r.PurchaseEntries.WithLabelValues("recorded").Inc()
	r.LossValueCents.WithLabelValues("spoiled").Add(27500)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `grocerp_purchase_entries_total{result="recorded"} 1`)
	assert.Contains(t, string(body), `grocerp_loss_value_cents_total{reason="spoiled"} 27500`)
}

func TestRouteLabel(t *testing.T) {
	assert.Equal(t, "/healthz", RouteLabel("/healthz"))
	assert.Equal(t, "/api/v1/transfers", RouteLabel("/api/v1/transfers/trf-1/receive"))
	assert.Equal(t, "/", RouteLabel("/"))
}
