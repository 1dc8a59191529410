package storage

import (
	"github.com/umbra-net/umbra-go/model/umbra"
)

// Epochs persists epoch headers and their lifecycle statuses. Epoch
// records are the spine of crash recovery: on restart, the controller
// replays every epoch whose persisted status is past SEALED and not yet
// terminal.
type Epochs interface {

	// StoreEpoch persists a new epoch header.
	// Error returns:
	//   - storage.ErrAlreadyExists if an epoch with this ID exists
	StoreEpoch(epoch *umbra.Epoch) error

	// ByID retrieves the epoch header with the given counter.
	// Error returns:
	//   - storage.ErrNotFound if no epoch with this ID is known
	ByID(epochID uint64) (*umbra.Epoch, error)

	// StoreStatus persists the initial status record of an epoch.
	// Error returns:
	//   - storage.ErrAlreadyExists if a status for this epoch exists
	StoreStatus(status *umbra.EpochStatus) error

	// UpdateStatus overwrites the status record of an epoch. The caller
	// must have validated the state transition.
	// Error returns:
	//   - storage.ErrNotFound if no status for this epoch exists
	UpdateStatus(status *umbra.EpochStatus) error

	// Status retrieves the status record of an epoch.
	// Error returns:
	//   - storage.ErrNotFound if no status for this epoch is known
	Status(epochID uint64) (*umbra.EpochStatus, error)

	// SetLatest records the highest epoch counter ever opened.
	SetLatest(epochID uint64) error

	// Latest returns the highest epoch counter ever opened.
	// Error returns:
	//   - storage.ErrNotFound if no epoch was ever opened
	Latest() (uint64, error)

	// NonTerminal returns the IDs of all epochs whose persisted status
	// is not terminal, in ascending order.
	NonTerminal() ([]uint64, error)
}

// CommitteeViews persists committee view configurations.
type CommitteeViews interface {

	// Store persists a committee view keyed by its view ID. Storing the
	// same view twice is a no-op.
	Store(view *umbra.CommitteeView) error

	// ByID retrieves the view with the given ID.
	// Error returns:
	//   - storage.ErrNotFound if the view is not known
	ByID(viewID umbra.Identifier) (*umbra.CommitteeView, error)
}
