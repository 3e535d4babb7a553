package metrics_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/nfse-issuer/internal/metrics"
	"github.com/rezonia/nfse-issuer/internal/model"
)

func TestMetrics_Counters(t *testing.T) {
	m := metrics.New()

	m.IncrementEmission("authorized")
	m.IncrementEmission("authorized")
	m.IncrementEmission("rejected")
	m.IncrementReturnCode("alert")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Emissions.WithLabelValues("authorized")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Emissions.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReturnCodes.WithLabelValues("alert")))
}

func TestMetrics_Transitioned(t *testing.T) {
	m := metrics.New()
	ctx := context.Background()

	m.Transitioned(ctx, &model.Document{State: model.StateDraft}, "")
	m.Transitioned(ctx, &model.Document{State: model.StateBuilt}, model.StateDraft)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("none", "draft")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("draft", "built")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.IncrementEmission("authorized")
		m.IncrementReturnCode("error")
		m.ObserveAttempts(2)
		m.ObserveStage("sign", time.Now())
		m.Transitioned(context.Background(), &model.Document{}, "")
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := metrics.New()
	m.ObserveAttempts(3)
	m.ObserveStage("transmit", time.Now())

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "nfse_transmission_attempts_count 1")
	assert.Contains(t, string(body), `nfse_stage_duration_seconds_count{stage="transmit"} 1`)
}
