package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveSend("SUCCESS", 150*time.Millisecond)
	m.ObserveSend("", time.Second)
	m.ObserveForward("accepted")
	m.ObserveReporting("stored")
	m.ObserveReporting("stored")
	m.SetReportingQueue(3)
	m.SetBreakerState(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutboundSends.WithLabelValues("SUCCESS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutboundSends.WithLabelValues("none")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InboundForwards.WithLabelValues("accepted")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReportingItems.WithLabelValues("stored")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ReportingQueue))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BreakerState))
	assert.Equal(t, 1, testutil.CollectAndCount(m.SendDuration))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveSend("SUCCESS", time.Second)
		m.ObserveForward("rejected")
		m.ObserveReporting("dropped")
		m.SetReportingQueue(1)
		m.SetBreakerState(0)
	})
}
