package committee_test

import (
	"errors"
	"testing"

	"github.com/dgraph-io/badger/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umbra-net/umbra-go/crypto/authsig"
	"github.com/umbra-net/umbra-go/crypto/thresholdenc"
	"github.com/umbra-net/umbra-go/module/committee"
	"github.com/umbra-net/umbra-go/module/signature"
	"github.com/umbra-net/umbra-go/storage"
	bstorage "github.com/umbra-net/umbra-go/storage/badger"
	"github.com/umbra-net/umbra-go/utils/unittest"
)

func TestStatePersistsCurrentView(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badger.DB) {
		views := bstorage.NewCommitteeViews(db)
		view, _ := unittest.CommitteeFixture(2, 3)

		state, err := committee.NewState(view, views)
		require.NoError(t, err)
		assert.Equal(t, view, state.Current())

		// current view answered without storage, historical via storage
		got, err := state.ByID(view.ID())
		require.NoError(t, err)
		assert.Equal(t, view.ID(), got.ID())

		stored, err := views.ByID(view.ID())
		require.NoError(t, err)
		assert.Equal(t, view.ID(), stored.ID())

		_, err = state.ByID(unittest.IdentifierFixture())
		require.Error(t, err)
		assert.True(t, errors.Is(err, storage.ErrNotFound))
	})
}

func TestStateRejectsInvalidThreshold(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badger.DB) {
		views := bstorage.NewCommitteeViews(db)

		view, _ := unittest.CommitteeFixture(2, 3)
		view.Threshold = 4
		_, err := committee.NewState(view, views)
		require.Error(t, err)
	})
}

func TestLocalSigning(t *testing.T) {
	view, keys := unittest.CommitteeFixture(2, 3)

	local, err := committee.NewLocal(view.Members[1], keys[1].EncShare, keys[1].SigShare, keys[1].Auth)
	require.NoError(t, err)
	assert.Equal(t, view.Members[1].NodeID, local.NodeID())
	assert.Equal(t, 1, local.Index())

	t.Run("auth signatures verify against the member key", func(t *testing.T) {
		msg := unittest.RandomBytes(64)
		sig, err := local.Sign(signature.ArrivalVectorTag, msg)
		require.NoError(t, err)
		require.NoError(t, authsig.Verify(view.Members[1].AuthKey, signature.ArrivalVectorTag, msg, sig))
	})

	t.Run("decryption shares verify against the share commitment", func(t *testing.T) {
		ct, err := thresholdenc.Encrypt(view.EncryptionKey, unittest.RandomBytes(48), 1)
		require.NoError(t, err)
		ps, err := local.DecryptionShare(ct)
		require.NoError(t, err)
		require.NoError(t, thresholdenc.VerifyShare(view.Members[1].ShareCommit, ct, ps))
	})
}

func TestLocalIndexMismatch(t *testing.T) {
	view, keys := unittest.CommitteeFixture(2, 3)
	_, err := committee.NewLocal(view.Members[0], keys[1].EncShare, keys[0].SigShare, keys[0].Auth)
	require.Error(t, err)
}
