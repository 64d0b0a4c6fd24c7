package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesPlanningSeries(t *testing.T) {
	PlanRuns.WithLabelValues("greedy", "ok").Inc()
	ReservationConflicts.WithLabelValues("greedy").Add(2)

	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.True(t, strings.Contains(body, `plan_runs_total{status="ok",strategy="greedy"}`), body)
	assert.Contains(t, body, `calendar_reservation_conflicts_total{strategy="greedy"} 2`)
	assert.Contains(t, body, "go_goroutines")

	// registering twice is harmless
	RegisterDefault()
}
