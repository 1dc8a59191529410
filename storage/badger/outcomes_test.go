package badger_test

import (
	"errors"
	"testing"

	"github.com/dgraph-io/badger/v2"
	"github.com/stretchr/testify/require"

	"github.com/umbra-net/umbra-go/model/umbra"
	"github.com/umbra-net/umbra-go/storage"
	bstorage "github.com/umbra-net/umbra-go/storage/badger"
	"github.com/umbra-net/umbra-go/utils/unittest"
)

func TestOutcomesStoreRetrieve(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badger.DB) {
		store := bstorage.NewOutcomes(db)

		cid := unittest.IdentifierFixture()
		err := store.Store(unittest.OutcomeFixture(5, cid, 0, umbra.OutcomeExpired))
		require.NoError(t, err)

		actual, err := store.ByCID(cid)
		require.NoError(t, err)
		require.Equal(t, umbra.OutcomeExpired, actual.State)

		// a provisional outcome may be replaced by the final one
		err = store.Store(unittest.OutcomeFixture(5, cid, 0, umbra.OutcomePublished))
		require.NoError(t, err)

		actual, err = store.ByCID(cid)
		require.NoError(t, err)
		require.Equal(t, umbra.OutcomePublished, actual.State)
		require.NotEqual(t, umbra.ZeroID, actual.PlaintextHash)
	})
}

func TestOutcomesRetrieveNonExist(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badger.DB) {
		store := bstorage.NewOutcomes(db)

		_, err := store.ByCID(unittest.IdentifierFixture())
		require.Error(t, err)
		require.True(t, errors.Is(err, storage.ErrNotFound))
	})
}

func TestOutcomesByEpoch(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badger.DB) {
		commitments := bstorage.NewCommitments(db)
		outcomes := bstorage.NewOutcomes(db)

		commits := unittest.CommitmentListFixture(3, unittest.WithEpochID(5))
		err := commitments.StoreSealedSet(5, commits)
		require.NoError(t, err)

		// outcomes recorded out of order, one commitment still pending
		err = outcomes.Store(unittest.OutcomeFixture(5, commits[2].ID(), 2, umbra.OutcomePublished))
		require.NoError(t, err)
		err = outcomes.Store(unittest.OutcomeFixture(5, commits[0].ID(), 0, umbra.OutcomePoisoned))
		require.NoError(t, err)

		actual, err := outcomes.ByEpoch(5)
		require.NoError(t, err)
		require.Len(t, actual, 2)
		require.Equal(t, uint(0), actual[0].SeqIdx)
		require.Equal(t, umbra.OutcomePoisoned, actual[0].State)
		require.Equal(t, uint(2), actual[1].SeqIdx)
		require.Equal(t, umbra.OutcomePublished, actual[1].State)
	})
}
