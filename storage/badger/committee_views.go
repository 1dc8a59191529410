package badger

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v2"

	"github.com/umbra-net/umbra-go/model/umbra"
	"github.com/umbra-net/umbra-go/storage"
	"github.com/umbra-net/umbra-go/storage/badger/operation"
)

// CommitteeViews implements persistence for committee view
// configurations, backed by badger. Views are immutable and keyed by
// their content-derived ID, so re-storing a view can never conflict.
type CommitteeViews struct {
	db *badger.DB
}

var _ storage.CommitteeViews = (*CommitteeViews)(nil)

func NewCommitteeViews(db *badger.DB) *CommitteeViews {
	return &CommitteeViews{db: db}
}

func (v *CommitteeViews) Store(view *umbra.CommitteeView) error {
	err := operation.RetryOnConflict(v.db.Update, operation.InsertCommitteeView(view))
	if errors.Is(err, storage.ErrAlreadyExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("could not store committee view: %w", err)
	}
	return nil
}

func (v *CommitteeViews) ByID(viewID umbra.Identifier) (*umbra.CommitteeView, error) {
	var view umbra.CommitteeView
	err := v.db.View(operation.RetrieveCommitteeView(viewID, &view))
	if err != nil {
		return nil, fmt.Errorf("could not retrieve committee view %v: %w", viewID, err)
	}
	return &view, nil
}
