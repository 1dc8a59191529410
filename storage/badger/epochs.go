package badger

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v2"

	"github.com/umbra-net/umbra-go/model/umbra"
	"github.com/umbra-net/umbra-go/storage"
	"github.com/umbra-net/umbra-go/storage/badger/operation"
)

// Epochs implements persistence for epoch headers and lifecycle
// statuses, backed by badger.
type Epochs struct {
	db *badger.DB
}

var _ storage.Epochs = (*Epochs)(nil)

func NewEpochs(db *badger.DB) *Epochs {
	return &Epochs{db: db}
}

func (e *Epochs) StoreEpoch(epoch *umbra.Epoch) error {
	return operation.RetryOnConflict(e.db.Update, operation.InsertEpoch(epoch))
}

func (e *Epochs) ByID(epochID uint64) (*umbra.Epoch, error) {
	var epoch umbra.Epoch
	err := e.db.View(operation.RetrieveEpoch(epochID, &epoch))
	if err != nil {
		return nil, fmt.Errorf("could not retrieve epoch %d: %w", epochID, err)
	}
	return &epoch, nil
}

func (e *Epochs) StoreStatus(status *umbra.EpochStatus) error {
	return operation.RetryOnConflict(e.db.Update, operation.InsertEpochStatus(status))
}

func (e *Epochs) UpdateStatus(status *umbra.EpochStatus) error {
	return operation.RetryOnConflict(e.db.Update, operation.UpdateEpochStatus(status))
}

func (e *Epochs) Status(epochID uint64) (*umbra.EpochStatus, error) {
	var status umbra.EpochStatus
	err := e.db.View(operation.RetrieveEpochStatus(epochID, &status))
	if err != nil {
		return nil, fmt.Errorf("could not retrieve status for epoch %d: %w", epochID, err)
	}
	return &status, nil
}

func (e *Epochs) SetLatest(epochID uint64) error {
	return operation.RetryOnConflict(e.db.Update, func(tx *badger.Txn) error {
		err := operation.InsertLatestEpoch(epochID)(tx)
		if errors.Is(err, storage.ErrAlreadyExists) {
			return operation.UpdateLatestEpoch(epochID)(tx)
		}
		return err
	})
}

func (e *Epochs) Latest() (uint64, error) {
	var epochID uint64
	err := e.db.View(operation.RetrieveLatestEpoch(&epochID))
	if err != nil {
		return 0, fmt.Errorf("could not retrieve latest epoch: %w", err)
	}
	return epochID, nil
}

func (e *Epochs) NonTerminal() ([]uint64, error) {
	var epochIDs []uint64
	err := e.db.View(operation.TraverseEpochStatuses(func(status *umbra.EpochStatus) error {
		if !status.State.Terminal() {
			epochIDs = append(epochIDs, status.EpochID)
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("could not traverse epoch statuses: %w", err)
	}
	return epochIDs, nil
}
