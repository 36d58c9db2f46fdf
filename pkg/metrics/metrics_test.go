package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAreLabelled(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Reservation("worker", "confirmed", time.Now())
	m.Reservation("worker", "confirmed", time.Now())
	m.Transition("CONFIRMED", true)
	m.Message("reservation.requests", "ok", time.Now())
	m.Dispatch("reservation.outcomes", "sent")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.reservations.WithLabelValues("worker", "confirmed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("CONFIRMED", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messages.WithLabelValues("reservation.requests", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outboxDispatches.WithLabelValues("reservation.outcomes", "sent")))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Transition("FAILED_STOCK", false)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "order_status_transitions_total"))
}
