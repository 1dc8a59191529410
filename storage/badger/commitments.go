package badger

import (
	"fmt"

	"github.com/dgraph-io/badger/v2"

	"github.com/umbra-net/umbra-go/model/umbra"
	"github.com/umbra-net/umbra-go/storage"
	"github.com/umbra-net/umbra-go/storage/badger/operation"
)

// Commitments implements persistence for sealed commitment sets, backed
// by badger.
type Commitments struct {
	db *badger.DB
}

var _ storage.Commitments = (*Commitments)(nil)

func NewCommitments(db *badger.DB) *Commitments {
	return &Commitments{db: db}
}

// StoreSealedSet writes the sealed index and every commitment of the
// epoch in one transaction: either the whole frozen set is persisted or
// none of it is.
func (c *Commitments) StoreSealedSet(epochID uint64, commitments []*umbra.Commitment) error {
	cids := make(umbra.IdentifierList, 0, len(commitments))
	for _, commitment := range commitments {
		cids = append(cids, commitment.ID())
	}

	return operation.RetryOnConflict(c.db.Update, func(tx *badger.Txn) error {
		err := operation.InsertSealedIndex(epochID, cids)(tx)
		if err != nil {
			return fmt.Errorf("could not insert sealed index: %w", err)
		}
		for _, commitment := range commitments {
			err = operation.InsertCommitment(epochID, commitment)(tx)
			if err != nil {
				return fmt.Errorf("could not insert commitment: %w", err)
			}
			err = operation.IndexCommitmentEpoch(commitment.ID(), epochID)(tx)
			if err != nil {
				return fmt.Errorf("could not index commitment epoch: %w", err)
			}
		}
		return nil
	})
}

func (c *Commitments) SealedSet(epochID uint64) ([]*umbra.Commitment, error) {
	var commitments []*umbra.Commitment
	err := c.db.View(func(tx *badger.Txn) error {
		var cids umbra.IdentifierList
		err := operation.RetrieveSealedIndex(epochID, &cids)(tx)
		if err != nil {
			return fmt.Errorf("could not retrieve sealed index: %w", err)
		}
		for _, cid := range cids {
			var commitment umbra.Commitment
			err = operation.RetrieveCommitment(epochID, cid, &commitment)(tx)
			if err != nil {
				return fmt.Errorf("could not retrieve commitment %v: %w", cid, err)
			}
			commitments = append(commitments, &commitment)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return commitments, nil
}

func (c *Commitments) ByCID(cid umbra.Identifier) (*umbra.Commitment, error) {
	var commitment umbra.Commitment
	err := c.db.View(func(tx *badger.Txn) error {
		var epochID uint64
		err := operation.LookupCommitmentEpoch(cid, &epochID)(tx)
		if err != nil {
			return fmt.Errorf("could not look up commitment epoch: %w", err)
		}
		return operation.RetrieveCommitment(epochID, cid, &commitment)(tx)
	})
	if err != nil {
		return nil, err
	}
	return &commitment, nil
}
