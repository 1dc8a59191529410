package admission

import (
	"context"

	"github.com/umbra-net/umbra-go/model/umbra"
)

// API is the wallet-facing admission surface, consumed in-process by
// whatever frontend terminates sender connections.
type API interface {

	// Submit classifies the intent and admits it onto the pipeline path
	// its decision dictates. Blocks only for classification, sealing and
	// (for bypassed intents) the direct downstream submission.
	// Error returns:
	//   - ErrExpired if the intent deadline already passed
	//   - ErrEpochClosed if no epoch currently accepts commitments
	//   - ErrRateLimited if the submission was shed
	//   - RejectedError if the classifier refused the intent
	Submit(ctx context.Context, intent *umbra.Intent) (*SubmitReceipt, error)

	// Status reports what the pipeline knows about a commitment.
	// Error returns:
	//   - ErrUnknownCID if the commitment was never admitted here
	Status(ctx context.Context, cid umbra.Identifier) (*StatusResponse, error)

	// Cancel withdraws a commitment before its epoch seals. The request
	// signature must verify under the sender key whose fingerprint the
	// commitment carries.
	// Error returns:
	//   - ErrUnknownCID if the commitment was never admitted here
	//   - ErrCancelUnauthorized if the signature does not verify or the
	//     epoch already sealed
	Cancel(ctx context.Context, req *umbra.CancelRequest) error
}

// SubmitReceipt acknowledges an admitted intent.
type SubmitReceipt struct {
	// CID identifies the admitted commitment. For split intents this is
	// the first child; for bypassed intents it is the intent identifier,
	// under which Status answers.
	CID umbra.Identifier
	// EpochID is the epoch the commitment was admitted into. Zero for
	// bypassed intents, which never enter an epoch.
	EpochID uint64
	// Decision is the classifier verdict that routed the intent.
	Decision *umbra.Decision
	// ChildCIDs lists all child commitments of a split intent, in chunk
	// order. Nil for unsplit intents.
	ChildCIDs umbra.IdentifierList
}

// Pipeline states reported by Status for intents that do not have a
// terminal epoch outcome: in-flight commitments, pre-seal withdrawals,
// and bypassed intents, which publish downstream without protection
// and never enter an epoch.
const (
	StatePending      = "PENDING"
	StateCancelled    = "CANCELLED"
	StateNotProtected = "not_protected"
)

// StatusResponse reports a commitment's pipeline state.
type StatusResponse struct {
	CID     umbra.Identifier
	EpochID uint64
	// State is StatePending while the epoch is in flight, StateCancelled
	// after a pre-seal withdrawal, StateNotProtected for bypassed
	// intents, and the terminal outcome state (PUBLISHED, REJECTED,
	// POISONED, EXPIRED) afterwards.
	State string
	// Decision is the admission verdict, if this node admitted the
	// commitment itself. Nil for commitments learned through gossip.
	Decision *umbra.Decision
	// Outcome is the persisted terminal record, once one exists.
	Outcome *umbra.CommitOutcome
}
