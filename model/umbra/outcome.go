package umbra

import "fmt"

// OutcomeState records what finally happened to one commitment.
type OutcomeState uint8

const (
	// OutcomePublished means the payload was accepted downstream.
	OutcomePublished OutcomeState = iota + 1
	// OutcomeRejected means the downstream relay refused the payload.
	OutcomeRejected
	// OutcomePoisoned means share combination failed for the
	// commitment; it was skipped for the epoch to proceed.
	OutcomePoisoned
	// OutcomeExpired means the epoch expired before the commitment
	// could be published.
	OutcomeExpired
	// OutcomeCancelled means the sender withdrew the commitment before
	// its epoch sealed.
	OutcomeCancelled
)

func (s OutcomeState) String() string {
	switch s {
	case OutcomePublished:
		return "PUBLISHED"
	case OutcomeRejected:
		return "REJECTED"
	case OutcomePoisoned:
		return "POISONED"
	case OutcomeExpired:
		return "EXPIRED"
	case OutcomeCancelled:
		return "CANCELLED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
	}
}

// CommitOutcome is the persisted per-commitment result: enough to
// answer status queries and audit an epoch, without retaining the
// plaintext itself.
type CommitOutcome struct {
	EpochID  uint64
	CommitID Identifier
	// SeqIdx is the commitment's position in the ordering certificate.
	// Only meaningful when the epoch reached ORDERED.
	SeqIdx uint
	State  OutcomeState
	// PlaintextHash is the hash of the decrypted payload, set once
	// decryption succeeded. Zero otherwise.
	PlaintextHash Identifier
	// Reason carries the downstream rejection reason, when rejected.
	Reason string
}
