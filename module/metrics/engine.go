package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/umbra-net/umbra-go/module"
)

// EngineCollector counts protocol message traffic per engine.
type EngineCollector struct {
	sent     *prometheus.CounterVec
	received *prometheus.CounterVec
	handled  *prometheus.CounterVec
	dropped  *prometheus.CounterVec
}

var _ module.EngineMetrics = (*EngineCollector)(nil)

func NewEngineCollector() *EngineCollector {

	ec := &EngineCollector{

		sent: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespacePipeline,
			Subsystem: subsystemEngine,
			Name:      "messages_sent_total",
			Help:      "the number of messages sent by engines",
		}, []string{LabelEngine, LabelMessage}),

		received: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespacePipeline,
			Subsystem: subsystemEngine,
			Name:      "messages_received_total",
			Help:      "the number of messages received by engines",
		}, []string{LabelEngine, LabelMessage}),

		handled: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespacePipeline,
			Subsystem: subsystemEngine,
			Name:      "messages_handled_total",
			Help:      "the number of messages handled by engines",
		}, []string{LabelEngine, LabelMessage}),

		dropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespacePipeline,
			Subsystem: subsystemEngine,
			Name:      "inbound_messages_dropped_total",
			Help:      "the number of inbound messages dropped by engines without processing",
		}, []string{LabelEngine, LabelMessage}),
	}

	return ec
}

func (ec *EngineCollector) MessageSent(engine string, message string) {
	ec.sent.With(prometheus.Labels{LabelEngine: engine, LabelMessage: message}).Inc()
}

func (ec *EngineCollector) MessageReceived(engine string, message string) {
	ec.received.With(prometheus.Labels{LabelEngine: engine, LabelMessage: message}).Inc()
}

func (ec *EngineCollector) MessageHandled(engine string, message string) {
	ec.handled.With(prometheus.Labels{LabelEngine: engine, LabelMessage: message}).Inc()
}

func (ec *EngineCollector) InboundMessageDropped(engine string, message string) {
	ec.dropped.With(prometheus.Labels{LabelEngine: engine, LabelMessage: message}).Inc()
}
