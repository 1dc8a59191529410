package stdmap

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umbra-net/umbra-go/module/mempool"
	"github.com/umbra-net/umbra-go/utils/unittest"
)

func TestCommitLedgerAddSeal(t *testing.T) {
	ledger := NewCommitLedger()
	require.NoError(t, ledger.Open(1))

	commits := unittest.CommitmentListFixture(3, unittest.WithEpochID(1))
	for _, commit := range commits {
		require.NoError(t, ledger.Add(commit))
	}
	assert.EqualValues(t, 3, ledger.Size(1))

	t.Run("duplicate add is idempotent", func(t *testing.T) {
		require.NoError(t, ledger.Add(commits[0]))
		assert.EqualValues(t, 3, ledger.Size(1))
	})

	t.Run("lookup by cid", func(t *testing.T) {
		got, exists := ledger.ByCID(commits[1].ID())
		require.True(t, exists)
		assert.Equal(t, commits[1], got)
	})

	t.Run("seal returns arrival order", func(t *testing.T) {
		sealed, err := ledger.Seal(1)
		require.NoError(t, err)
		require.Len(t, sealed, 3)
		for i, commit := range commits {
			assert.Equal(t, commit.ID(), sealed[i].ID())
		}
	})

	t.Run("adds after seal are refused", func(t *testing.T) {
		err := ledger.Add(unittest.CommitmentFixture(unittest.WithEpochID(1)))
		require.Error(t, err)
		assert.True(t, errors.Is(err, mempool.ErrEpochSealed))
	})

	t.Run("seal opened the next epoch", func(t *testing.T) {
		require.NoError(t, ledger.Add(unittest.CommitmentFixture(unittest.WithEpochID(2))))
		assert.EqualValues(t, 1, ledger.Size(2))
	})

	t.Run("re-seal is refused", func(t *testing.T) {
		_, err := ledger.Seal(1)
		require.Error(t, err)
		assert.True(t, errors.Is(err, mempool.ErrEpochSealed))
	})
}

func TestCommitLedgerUnknownEpoch(t *testing.T) {
	ledger := NewCommitLedger()
	require.NoError(t, ledger.Open(1))

	err := ledger.Add(unittest.CommitmentFixture(unittest.WithEpochID(7)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, mempool.ErrEpochUnknown))

	_, err = ledger.Seal(7)
	require.Error(t, err)
	assert.True(t, errors.Is(err, mempool.ErrEpochUnknown))
}

func TestCommitLedgerRemove(t *testing.T) {
	ledger := NewCommitLedger()
	require.NoError(t, ledger.Open(1))

	commits := unittest.CommitmentListFixture(3, unittest.WithEpochID(1))
	for _, commit := range commits {
		require.NoError(t, ledger.Add(commit))
	}

	require.True(t, ledger.Remove(commits[1].ID()))
	assert.EqualValues(t, 2, ledger.Size(1))

	_, exists := ledger.ByCID(commits[1].ID())
	assert.False(t, exists)

	// removing again reports absence
	assert.False(t, ledger.Remove(commits[1].ID()))

	// removed commitments do not appear in the sealed set
	sealed, err := ledger.Seal(1)
	require.NoError(t, err)
	require.Len(t, sealed, 2)
	assert.Equal(t, commits[0].ID(), sealed[0].ID())
	assert.Equal(t, commits[2].ID(), sealed[1].ID())
}

func TestCommitLedgerEmptySeal(t *testing.T) {
	ledger := NewCommitLedger()
	require.NoError(t, ledger.Open(1))

	sealed, err := ledger.Seal(1)
	require.NoError(t, err)
	assert.Empty(t, sealed)
}

// Concurrent adds into the open epoch while another epoch seals must
// neither drop nor duplicate commitments.
func TestCommitLedgerConcurrentAddSeal(t *testing.T) {
	ledger := NewCommitLedger()
	require.NoError(t, ledger.Open(1))

	const writers = 8
	const perWriter = 25

	var wg sync.WaitGroup
	wg.Add(writers)
	for w := 0; w < writers; w++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				commit := unittest.CommitmentFixture(unittest.WithEpochID(1))
				_ = ledger.Add(commit)
			}
		}()
	}
	wg.Wait()

	sealed, err := ledger.Seal(1)
	require.NoError(t, err)
	require.Len(t, sealed, writers*perWriter)

	seen := make(map[string]struct{}, len(sealed))
	for _, commit := range sealed {
		cid := commit.ID()
		_, dup := seen[string(cid[:])]
		require.False(t, dup)
		seen[string(cid[:])] = struct{}{}
	}
}
