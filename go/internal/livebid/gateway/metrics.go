package gateway

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mcdev12/livebid/go/internal/livebid/transport"
)

// Metrics instruments the gateway. A nil *Metrics records nothing.
type Metrics struct {
	connections prometheus.Gauge
	frames      *prometheus.CounterVec
	drops       *prometheus.CounterVec
	consumed    *prometheus.CounterVec
}

// NewMetrics creates the gateway collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "livebid",
			Subsystem: "gateway",
			Name:      "connections",
			Help:      "Open WebSocket connections.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "livebid",
			Subsystem: "gateway",
			Name:      "frames_sent_total",
			Help:      "Frames queued to subscribers, by topic kind.",
		}, []string{"topic_kind"}),
		drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "livebid",
			Subsystem: "gateway",
			Name:      "dropped_total",
			Help:      "Payloads the gateway could not relay.",
		}, []string{"reason"}),
		consumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "livebid",
			Subsystem: "gateway",
			Name:      "messages_consumed_total",
			Help:      "JetStream messages consumed, by result.",
		}, []string{"result"}),
	}

	for _, c := range []prometheus.Collector{m.connections, m.frames, m.drops, m.consumed} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) setConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}

func (m *Metrics) relayed(topic transport.Topic, subscribers int) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(topicKind(topic)).Add(float64(subscribers))
}

func (m *Metrics) dropped(reason string) {
	if m == nil {
		return
	}
	m.drops.WithLabelValues(reason).Inc()
}

func (m *Metrics) consumedMessage(result string) {
	if m == nil {
		return
	}
	m.consumed.WithLabelValues(result).Inc()
}

// topicKind keeps label cardinality bounded.
func topicKind(topic transport.Topic) string {
	s := string(topic)
	switch {
	case strings.HasPrefix(s, "auction:"):
		return "auction"
	case strings.HasSuffix(s, ":notifications"):
		return "notifications"
	case strings.HasPrefix(s, "user:"):
		return "user"
	default:
		return "other"
	}
}
