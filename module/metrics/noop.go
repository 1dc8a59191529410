package metrics

import (
	"time"
)

// NoopCollector implements all metrics interfaces with no-ops. It backs
// tests and tooling that runs pipeline components without a registry.
type NoopCollector struct{}

func NewNoopCollector() *NoopCollector {
	nc := &NoopCollector{}
	return nc
}

func (nc *NoopCollector) MessageSent(engine string, message string)           {}
func (nc *NoopCollector) MessageReceived(engine string, message string)       {}
func (nc *NoopCollector) MessageHandled(engine string, message string)        {}
func (nc *NoopCollector) InboundMessageDropped(engine string, message string) {}
func (nc *NoopCollector) MempoolEntries(resource string, entries uint)        {}
func (nc *NoopCollector) EpochOpened(epochID uint64)                          {}
func (nc *NoopCollector) EpochSealed(epochID uint64, batchSize uint)          {}
func (nc *NoopCollector) EpochCertified(epochID uint64, d time.Duration)      {}
func (nc *NoopCollector) EpochDecrypted(epochID uint64, d time.Duration)      {}
func (nc *NoopCollector) EpochPublished(epochID uint64, d time.Duration)      {}
func (nc *NoopCollector) EpochExpired(epochID uint64, stage string)           {}
func (nc *NoopCollector) IntentAdmitted(strategy string)                      {}
func (nc *NoopCollector) IntentRejected(reason string)                        {}
func (nc *NoopCollector) CommitmentPoisoned()                                 {}
func (nc *NoopCollector) RelaySubmission(kind string, accepted bool)          {}
