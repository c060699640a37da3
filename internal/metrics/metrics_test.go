package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/flag-arbiter/internal/domain/flag"
)

// TestRecorder counts decisions by outcome, winner changes and failures.
func TestRecorder(t *testing.T) {
	t.Parallel()

	r := NewRecorder()

	winner := &flag.Decision{Winner: &flag.WinnerView{ID: "eew"}, ActiveUpper: 2}
	idle := &flag.Decision{}

	r.Decided(winner, true)
	r.Decided(winner, false)
	r.Decided(idle, true)
	r.DeliveryFailed(idle, errors.New("offline"))

	require.InDelta(t, 2, testutil.ToFloat64(r.decisions.WithLabelValues(OutcomeWinner)), 0)
	require.InDelta(t, 1, testutil.ToFloat64(r.decisions.WithLabelValues(OutcomeIdle)), 0)
	require.InDelta(t, 2, testutil.ToFloat64(r.winnerChanges), 0)
	require.InDelta(t, 1, testutil.ToFloat64(r.emissionFailed), 0)
	require.InDelta(t, 0, testutil.ToFloat64(r.activeUpper), 0)
}

// TestRecorder_Handler serves the registered metrics.
func TestRecorder_Handler(t *testing.T) {
	t.Parallel()

	r := NewRecorder()
	r.Decided(&flag.Decision{Winner: &flag.WinnerView{ID: "eew"}, ActiveUpper: 1}, true)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	require.Contains(t, body, `flag_arbiter_decisions_total{outcome="winner"} 1`)
	require.Contains(t, body, "flag_arbiter_active_upper_flags 1")
}
