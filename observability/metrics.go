package observability

import (
	"strings"

	gu "github.com/xraph/go-utils/metrics"
)

// Metrics holds metric instruments for Courier, backed by any go-utils MetricFactory
// (e.g. the forge-managed metrics system via fapp.Metrics()).
// A nil *Metrics records nothing.
//
// go-utils collectors cache instruments by name, so per-protocol and
// per-status series get their own names instead of labels.
type Metrics struct {
	factory gu.MetricFactory

	MessagesTotal    gu.Counter
	SendLatency      gu.Histogram
	BrokerHealth     gu.Counter
	ContainersActive gu.Gauge
}

// NewMetrics creates Courier metric instruments using the supplied factory.
// Pass fapp.Metrics() from a forge extension, or metrics.NewMetricsCollector("courier")
// for standalone usage.
func NewMetrics(factory gu.MetricFactory) *Metrics {
	return &Metrics{
		factory:          factory,
		MessagesTotal:    factory.Counter("courier_messages_total", gu.WithDescription("relay attempts")),
		SendLatency:      factory.Histogram("courier_send_latency_seconds", gu.WithUnit("seconds")),
		BrokerHealth:     factory.Counter("courier_broker_health_checks_total"),
		ContainersActive: factory.Gauge("courier_containers_active"),
	}
}

// MessagesByProtocol returns the attempt counter of one protocol.
func (m *Metrics) MessagesByProtocol(protocol string) gu.Counter {
	return m.factory.Counter("courier_messages_" + series(protocol) + "_total")
}

// MessagesByStatus returns the counter of attempts that ended in status.
func (m *Metrics) MessagesByStatus(status string) gu.Counter {
	return m.factory.Counter("courier_messages_" + series(status) + "_status_total")
}

// BrokerHealthBy returns the health observation counter for a family and state.
func (m *Metrics) BrokerHealthBy(family, status string) gu.Counter {
	return m.factory.Counter("courier_broker_" + series(family) + "_" + series(status) + "_total")
}

// RecordSend records one relay attempt with its protocol, final status and latency.
func (m *Metrics) RecordSend(protocol, status string, latencySeconds float64) {
	if m == nil {
		return
	}
	m.MessagesTotal.Inc()
	m.MessagesByProtocol(protocol).Inc()
	m.MessagesByStatus(status).Inc()
	m.SendLatency.Observe(latencySeconds)
}

// RecordHealth records a broker health observation.
func (m *Metrics) RecordHealth(family, status string) {
	if m == nil {
		return
	}
	m.BrokerHealth.Inc()
	m.BrokerHealthBy(family, status).Inc()
}

// ContainerCreated increments the managed container gauge.
func (m *Metrics) ContainerCreated() {
	if m == nil {
		return
	}
	m.ContainersActive.Inc()
}

// ContainerRemoved decrements the managed container gauge.
func (m *Metrics) ContainerRemoved() {
	if m == nil {
		return
	}
	m.ContainersActive.Dec()
}

// Snapshot returns the aggregate values, for shutdown logs and tests.
func (m *Metrics) Snapshot() map[string]float64 {
	if m == nil {
		return nil
	}
	return map[string]float64{
		"messages_total":       m.MessagesTotal.Value(),
		"sends_observed":       float64(m.SendLatency.Count()),
		"send_latency_mean":    m.SendLatency.Mean(),
		"broker_health_checks": m.BrokerHealth.Value(),
		"containers_active":    m.ContainersActive.Value(),
	}
}

func series(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "-", "_"))
}
