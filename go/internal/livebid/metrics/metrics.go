package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector defines the interface for collecting engine metrics
type Collector interface {
	RecordUnrecognizedEvent(reason string)
	RecordEventApplied(kind string, applied bool)
	RecordReconnect(transport string)
	RecordBidOutcome(outcome string)
}

// NoOpCollector is a no-op implementation for when metrics aren't needed
type NoOpCollector struct{}

func (NoOpCollector) RecordUnrecognizedEvent(reason string)        {}
func (NoOpCollector) RecordEventApplied(kind string, applied bool) {}
func (NoOpCollector) RecordReconnect(transport string)             {}
func (NoOpCollector) RecordBidOutcome(outcome string)              {}

// PrometheusCollector implements Collector using Prometheus
type PrometheusCollector struct {
	unrecognized *prometheus.CounterVec
	applied      *prometheus.CounterVec
	reconnects   *prometheus.CounterVec
	bidOutcomes  *prometheus.CounterVec
}

// NewPrometheusCollector creates the collectors and registers them with reg.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	c := &PrometheusCollector{
		unrecognized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "livebid",
			Name:      "unrecognized_events_total",
			Help:      "Push payloads dropped because they matched no known event shape.",
		}, []string{"reason"}),
		applied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "livebid",
			Name:      "events_total",
			Help:      "Classified push events by kind and whether the store accepted them.",
		}, []string{"kind", "applied"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "livebid",
			Name:      "transport_reconnects_total",
			Help:      "Transport reconnect attempts.",
		}, []string{"transport"}),
		bidOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "livebid",
			Name:      "bid_outcomes_total",
			Help:      "Bid submissions by outcome.",
		}, []string{"outcome"}),
	}

	for _, collector := range []prometheus.Collector{c.unrecognized, c.applied, c.reconnects, c.bidOutcomes} {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func (c *PrometheusCollector) RecordUnrecognizedEvent(reason string) {
	c.unrecognized.WithLabelValues(reason).Inc()
}

func (c *PrometheusCollector) RecordEventApplied(kind string, applied bool) {
	label := "false"
	if applied {
		label = "true"
	}
	c.applied.WithLabelValues(kind, label).Inc()
}

func (c *PrometheusCollector) RecordReconnect(transport string) {
	c.reconnects.WithLabelValues(transport).Inc()
}

func (c *PrometheusCollector) RecordBidOutcome(outcome string) {
	c.bidOutcomes.WithLabelValues(outcome).Inc()
}
