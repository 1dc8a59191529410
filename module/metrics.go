package module

import (
	"time"
)

// EngineMetrics counts protocol message traffic per engine.
type EngineMetrics interface {
	// MessageSent reports that the engine transmitted the message over the network.
	MessageSent(engine string, message string)
	// MessageReceived reports that the engine received the message over the network.
	MessageReceived(engine string, message string)
	// MessageHandled reports that the engine has finished processing the message.
	MessageHandled(engine string, message string)
	// InboundMessageDropped reports that the engine dropped an inbound message
	// without processing it.
	InboundMessageDropped(engine string, message string)
}

// MempoolMetrics exposes the sizes of in-memory pools and queues.
type MempoolMetrics interface {
	MempoolEntries(resource string, entries uint)
}

// PipelineMetrics observes epochs moving through the submission
// pipeline end to end.
type PipelineMetrics interface {
	// EpochOpened reports that a new epoch began accepting commitments.
	EpochOpened(epochID uint64)
	// EpochSealed reports the frozen batch size of a sealed epoch.
	EpochSealed(epochID uint64, batchSize uint)
	// EpochCertified reports the time from seal to final ordering certificate.
	EpochCertified(epochID uint64, sinceSeal time.Duration)
	// EpochDecrypted reports the time from certificate to full plaintext recovery.
	EpochDecrypted(epochID uint64, sinceCertified time.Duration)
	// EpochPublished reports the time from decryption to dispatch completion.
	EpochPublished(epochID uint64, sinceDecrypted time.Duration)
	// EpochExpired reports an epoch abandoned at the given pipeline stage.
	EpochExpired(epochID uint64, stage string)

	// IntentAdmitted reports an accepted intent and the strategy it was routed with.
	IntentAdmitted(strategy string)
	// IntentRejected reports a refused intent.
	IntentRejected(reason string)
	// CommitmentPoisoned reports a sealed commitment whose ciphertext failed to decrypt.
	CommitmentPoisoned()

	// RelaySubmission reports one downstream submission attempt outcome.
	RelaySubmission(kind string, accepted bool)
}
