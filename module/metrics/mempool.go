package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/umbra-net/umbra-go/module"
)

// MempoolCollector gauges the sizes of in-memory pools and queues.
type MempoolCollector struct {
	entries *prometheus.GaugeVec
}

var _ module.MempoolMetrics = (*MempoolCollector)(nil)

func NewMempoolCollector() *MempoolCollector {

	mc := &MempoolCollector{

		entries: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespacePipeline,
			Subsystem: subsystemMempool,
			Name:      "entries_total",
			Help:      "the number of entries in the resource pool",
		}, []string{LabelResource}),
	}

	return mc
}

func (mc *MempoolCollector) MempoolEntries(resource string, entries uint) {
	mc.entries.With(prometheus.Labels{LabelResource: resource}).Set(float64(entries))
}
