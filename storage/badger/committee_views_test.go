package badger_test

import (
	"errors"
	"testing"

	"github.com/dgraph-io/badger/v2"
	"github.com/stretchr/testify/require"

	"github.com/umbra-net/umbra-go/storage"
	bstorage "github.com/umbra-net/umbra-go/storage/badger"
	"github.com/umbra-net/umbra-go/utils/unittest"
)

func TestCommitteeViewsStoreRetrieve(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badger.DB) {
		store := bstorage.NewCommitteeViews(db)

		view, _ := unittest.CommitteeFixture(2, 3)
		err := store.Store(view)
		require.NoError(t, err)

		actual, err := store.ByID(view.ID())
		require.NoError(t, err)
		require.Equal(t, view.ID(), actual.ID())
		require.Equal(t, view.Threshold, actual.Threshold)
		require.Len(t, actual.Members, 3)

		// views are immutable, re-storing is a no-op
		err = store.Store(view)
		require.NoError(t, err)
	})
}

func TestCommitteeViewsRetrieveNonExist(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badger.DB) {
		store := bstorage.NewCommitteeViews(db)

		_, err := store.ByID(unittest.IdentifierFixture())
		require.Error(t, err)
		require.True(t, errors.Is(err, storage.ErrNotFound))
	})
}
