package module

import (
	"github.com/umbra-net/umbra-go/model/umbra"
)

// EpochManager is the controller surface other pipeline components
// interact with. The controller is the single writer of epoch state;
// everything else observes through the snapshot and signals events.
type EpochManager interface {

	// CurrentEpoch returns a read-only snapshot of the epoch currently
	// accepting commitments. The snapshot is updated atomically at
	// seal, so callers may hold it briefly but must not cache it
	// across submissions.
	CurrentEpoch() *umbra.Epoch

	// CommitmentAdmitted signals that the epoch's open partition grew
	// to the given size. The controller seals the epoch early once the
	// size reaches the epoch's batch limit.
	CommitmentAdmitted(epochID uint64, size uint)
}
