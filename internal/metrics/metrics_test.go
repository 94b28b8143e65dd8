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

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.InfraInit("postgres", "container", OutcomeSuccess)
	m.InfraInit("postgres", "container", OutcomeSuccess)
	m.InfraInit("kafka", "compose", OutcomeFailure)
	m.ServiceStart("api", OutcomeSuccess)
	m.PortCollision("api")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.infraInits.WithLabelValues("postgres", "container", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.infraInits.WithLabelValues("kafka", "compose", OutcomeFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.serviceStarts.WithLabelValues("api", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.portCollisions.WithLabelValues("api")))
}

func TestMetrics_RunningGauge(t *testing.T) {
	m := New()
	m.UnitRunning("service", 300*time.Millisecond)
	m.UnitRunning("service", time.Second)
	m.UnitStopped("service")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.unitsRunning.WithLabelValues("service")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.unitStartup))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.InfraInit("x", "container", OutcomeSuccess)
		m.ServiceStart("x", OutcomeFailure)
		m.PortCollision("x")
		m.UnitRunning("infra", time.Second)
		m.UnitStopped("infra")
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ServiceStart("api", OutcomeSuccess)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `devenv_service_starts_total{outcome="success",service="api"} 1`)
}
