package mempool

import (
	"github.com/umbra-net/umbra-go/model/umbra"
)

// CommitLedger is the in-memory pool of commitments for epochs that
// are still accepting. Each open epoch owns one partition; sealing an
// epoch freezes its membership and hands the frozen set to the
// ordering stage in arrival order.
type CommitLedger interface {

	// Open creates the partition for an epoch. Opening an already open
	// epoch is a no-op. Returns ErrEpochSealed if the epoch was sealed
	// before.
	Open(epochID uint64) error

	// Add admits a commitment into its epoch's partition. Re-adding a
	// commitment already in the partition is a no-op; acceptance is
	// idempotent per CID. Returns ErrEpochSealed when the partition is
	// frozen and ErrEpochUnknown when the epoch was never opened.
	Add(commitment *umbra.Commitment) error

	// Seal freezes the epoch's partition and returns its commitments
	// in arrival order. The next epoch's partition is opened within
	// the same critical section, so there is no instant at which no
	// partition accepts. Re-sealing returns ErrEpochSealed.
	Seal(epochID uint64) ([]*umbra.Commitment, error)

	// ByCID returns a commitment from any open partition.
	ByCID(cid umbra.Identifier) (*umbra.Commitment, bool)

	// Remove withdraws a commitment from its open partition, for
	// cancellation before seal. Returns false if the commitment is not
	// in any open partition.
	Remove(cid umbra.Identifier) bool

	// Size returns the number of commitments in the epoch's open
	// partition, zero if the epoch is not open.
	Size(epochID uint64) uint
}
