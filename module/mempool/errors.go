package mempool

import (
	"errors"
)

var (
	// ErrNotFound is returned when an entity is missing from the pool.
	ErrNotFound = errors.New("entity not found in memory pool")

	// ErrEpochSealed is returned when adding to or removing from an
	// epoch whose partition has already been frozen.
	ErrEpochSealed = errors.New("epoch partition already sealed")

	// ErrEpochUnknown is returned for an epoch the ledger does not
	// track: it was never opened and is not known to be sealed.
	ErrEpochUnknown = errors.New("epoch not tracked by ledger")
)
