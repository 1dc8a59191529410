package storage

import (
	"github.com/umbra-net/umbra-go/model/umbra"
)

// Commitments persists the frozen commitment set of sealed epochs.
// Only sealed sets are ever written: commitments of an epoch that is
// still OPEN live in the in-memory ledger and die with the process.
type Commitments interface {

	// StoreSealedSet persists the complete frozen set of an epoch in
	// arrival order, atomically with nothing else.
	// Error returns:
	//   - storage.ErrAlreadyExists if a set was already stored for the epoch
	StoreSealedSet(epochID uint64, commitments []*umbra.Commitment) error

	// SealedSet retrieves the frozen set of an epoch, in arrival order.
	// Error returns:
	//   - storage.ErrNotFound if no set was stored for the epoch
	SealedSet(epochID uint64) ([]*umbra.Commitment, error)

	// ByCID retrieves a single sealed commitment.
	// Error returns:
	//   - storage.ErrNotFound if the commitment is not in any sealed set
	ByCID(cid umbra.Identifier) (*umbra.Commitment, error)
}

// Certificates persists ordering certificates, exactly one per epoch.
//
// The single-certificate rule is a safety property: a second, different
// certificate for an epoch means ordering agreement was violated, and
// the store must refuse it so the caller can halt.
type Certificates interface {

	// Store persists the certificate for its epoch. Storing the same
	// certificate again is a no-op.
	// Error returns:
	//   - storage.ErrDataMismatch if a DIFFERENT certificate is already
	//     stored for the epoch
	Store(cert *umbra.OrderingCertificate) error

	// ByEpoch retrieves the certificate of an epoch.
	// Error returns:
	//   - storage.ErrNotFound if the epoch has no certificate
	ByEpoch(epochID uint64) (*umbra.OrderingCertificate, error)
}

// Outcomes persists the per-commitment results of completed epochs.
type Outcomes interface {

	// Store persists the outcome for a commitment, overwriting any
	// previous record for the same commitment.
	Store(outcome *umbra.CommitOutcome) error

	// ByCID retrieves the outcome for a commitment.
	// Error returns:
	//   - storage.ErrNotFound if no outcome was recorded
	ByCID(cid umbra.Identifier) (*umbra.CommitOutcome, error)

	// ByEpoch retrieves all outcomes recorded for an epoch, in
	// ascending sequence order.
	ByEpoch(epochID uint64) ([]*umbra.CommitOutcome, error)
}
