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

func TestCertificatesStoreRetrieve(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badger.DB) {
		store := bstorage.NewCertificates(db)

		cert := unittest.CertificateFixture(5, unittest.IdentifierListFixture(3))
		err := store.Store(cert)
		require.NoError(t, err)

		actual, err := store.ByEpoch(5)
		require.NoError(t, err)
		require.Equal(t, cert, actual)

		// re-storing the identical certificate is a no-op
		err = store.Store(cert)
		require.NoError(t, err)
	})
}

func TestCertificatesRetrieveNonExist(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badger.DB) {
		store := bstorage.NewCertificates(db)

		_, err := store.ByEpoch(42)
		require.Error(t, err)
		require.True(t, errors.Is(err, storage.ErrNotFound))
	})
}

// A second, different certificate for the same epoch is a safety
// violation and must be rejected with ErrDataMismatch.
func TestCertificatesConflicting(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badger.DB) {
		store := bstorage.NewCertificates(db)

		cids := unittest.IdentifierListFixture(3)
		err := store.Store(unittest.CertificateFixture(5, cids))
		require.NoError(t, err)

		conflicting := unittest.CertificateFixture(5, unittest.IdentifierListFixture(3))
		err = store.Store(conflicting)
		require.Error(t, err)
		require.True(t, errors.Is(err, storage.ErrDataMismatch))
	})
}
