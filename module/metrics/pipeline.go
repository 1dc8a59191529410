package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/umbra-net/umbra-go/module"
)

// PipelineCollector observes epochs moving through the submission
// pipeline end to end: admissions, seals, certificates, decryption and
// downstream dispatch.
type PipelineCollector struct {
	currentEpoch       prometheus.Gauge
	sealedBatchSize    prometheus.Histogram
	epochsExpired      *prometheus.CounterVec
	certificateLatency prometheus.Histogram
	decryptionLatency  prometheus.Histogram
	dispatchLatency    prometheus.Histogram

	intentsAdmitted     *prometheus.CounterVec
	intentsRejected     *prometheus.CounterVec
	commitmentsPoisoned prometheus.Counter
	relaySubmissions    *prometheus.CounterVec
}

var _ module.PipelineMetrics = (*PipelineCollector)(nil)

func NewPipelineCollector() *PipelineCollector {

	pc := &PipelineCollector{

		currentEpoch: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespacePipeline,
			Subsystem: subsystemEpoch,
			Name:      "current",
			Help:      "the counter of the epoch currently accepting commitments",
		}),

		sealedBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespacePipeline,
			Subsystem: subsystemEpoch,
			Buckets:   []float64{0, 1, 4, 16, 64, 256, 1024},
			Name:      "sealed_batch_size",
			Help:      "number of commitments in sealed epochs",
		}),

		epochsExpired: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespacePipeline,
			Subsystem: subsystemEpoch,
			Name:      "expired_total",
			Help:      "the number of epochs expired per pipeline stage",
		}, []string{LabelStage}),

		certificateLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespacePipeline,
			Subsystem: subsystemEpoch,
			Buckets:   []float64{.005, .02, .05, .1, .2, .5, 1, 2},
			Name:      "certificate_latency_seconds",
			Help:      "time from epoch seal to final ordering certificate",
		}),

		decryptionLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespacePipeline,
			Subsystem: subsystemEpoch,
			Buckets:   []float64{.005, .02, .05, .1, .2, .5, 1, 2},
			Name:      "decryption_latency_seconds",
			Help:      "time from ordering certificate to full plaintext recovery",
		}),

		dispatchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespacePipeline,
			Subsystem: subsystemEpoch,
			Buckets:   []float64{.005, .02, .05, .1, .2, .5, 1, 2, 5},
			Name:      "dispatch_latency_seconds",
			Help:      "time from plaintext recovery to dispatch completion",
		}),

		intentsAdmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespacePipeline,
			Subsystem: subsystemAdmission,
			Name:      "intents_admitted_total",
			Help:      "the number of admitted intents per routing strategy",
		}, []string{LabelStrategy}),

		intentsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespacePipeline,
			Subsystem: subsystemAdmission,
			Name:      "intents_rejected_total",
			Help:      "the number of refused intents per reason",
		}, []string{LabelReason}),

		commitmentsPoisoned: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespacePipeline,
			Subsystem: subsystemEpoch,
			Name:      "commitments_poisoned_total",
			Help:      "the number of sealed commitments whose ciphertext failed to decrypt",
		}),

		relaySubmissions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespacePipeline,
			Subsystem: subsystemRelay,
			Name:      "submissions_total",
			Help:      "the number of downstream submission attempts per lane and outcome",
		}, []string{LabelKind, LabelAccepted}),
	}

	return pc
}

func (pc *PipelineCollector) EpochOpened(epochID uint64) {
	pc.currentEpoch.Set(float64(epochID))
}

func (pc *PipelineCollector) EpochSealed(epochID uint64, batchSize uint) {
	pc.sealedBatchSize.Observe(float64(batchSize))
}

func (pc *PipelineCollector) EpochCertified(epochID uint64, sinceSeal time.Duration) {
	pc.certificateLatency.Observe(sinceSeal.Seconds())
}

func (pc *PipelineCollector) EpochDecrypted(epochID uint64, sinceCertified time.Duration) {
	pc.decryptionLatency.Observe(sinceCertified.Seconds())
}

func (pc *PipelineCollector) EpochPublished(epochID uint64, sinceDecrypted time.Duration) {
	pc.dispatchLatency.Observe(sinceDecrypted.Seconds())
}

func (pc *PipelineCollector) EpochExpired(epochID uint64, stage string) {
	pc.epochsExpired.With(prometheus.Labels{LabelStage: stage}).Inc()
}

func (pc *PipelineCollector) IntentAdmitted(strategy string) {
	pc.intentsAdmitted.With(prometheus.Labels{LabelStrategy: strategy}).Inc()
}

func (pc *PipelineCollector) IntentRejected(reason string) {
	pc.intentsRejected.With(prometheus.Labels{LabelReason: reason}).Inc()
}

func (pc *PipelineCollector) CommitmentPoisoned() {
	pc.commitmentsPoisoned.Inc()
}

func (pc *PipelineCollector) RelaySubmission(kind string, accepted bool) {
	accLabel := "false"
	if accepted {
		accLabel = "true"
	}
	pc.relaySubmissions.With(prometheus.Labels{LabelKind: kind, LabelAccepted: accLabel}).Inc()
}
