package badger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v2"

	"github.com/umbra-net/umbra-go/model/umbra"
	"github.com/umbra-net/umbra-go/storage"
	"github.com/umbra-net/umbra-go/storage/badger/operation"
)

// Outcomes implements persistence for per-commitment results, backed by
// badger.
type Outcomes struct {
	db *badger.DB
}

var _ storage.Outcomes = (*Outcomes)(nil)

func NewOutcomes(db *badger.DB) *Outcomes {
	return &Outcomes{db: db}
}

func (o *Outcomes) Store(outcome *umbra.CommitOutcome) error {
	return operation.RetryOnConflict(o.db.Update, operation.UpsertOutcome(outcome))
}

func (o *Outcomes) ByCID(cid umbra.Identifier) (*umbra.CommitOutcome, error) {
	var outcome umbra.CommitOutcome
	err := o.db.View(operation.RetrieveOutcome(cid, &outcome))
	if err != nil {
		return nil, fmt.Errorf("could not retrieve outcome for %v: %w", cid, err)
	}
	return &outcome, nil
}

// ByEpoch returns the outcomes recorded for an epoch's sealed set, in
// ascending sequence order. Commitments with no recorded outcome yet
// are skipped.
func (o *Outcomes) ByEpoch(epochID uint64) ([]*umbra.CommitOutcome, error) {
	var outcomes []*umbra.CommitOutcome
	err := o.db.View(func(tx *badger.Txn) error {
		var cids umbra.IdentifierList
		err := operation.RetrieveSealedIndex(epochID, &cids)(tx)
		if err != nil {
			return fmt.Errorf("could not retrieve sealed index: %w", err)
		}
		for _, cid := range cids {
			var outcome umbra.CommitOutcome
			err = operation.RetrieveOutcome(cid, &outcome)(tx)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("could not retrieve outcome for %v: %w", cid, err)
			}
			outcomes = append(outcomes, &outcome)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(outcomes, func(i, j int) bool {
		return outcomes[i].SeqIdx < outcomes[j].SeqIdx
	})
	return outcomes, nil
}
