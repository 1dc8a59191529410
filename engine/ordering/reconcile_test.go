package ordering

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/umbra-net/umbra-go/model/messages"
	"github.com/umbra-net/umbra-go/model/umbra"
	"github.com/umbra-net/umbra-go/utils/unittest"
)

func TestReconcileArrivalsMedian(t *testing.T) {
	start := time.Now()
	epoch := unittest.EpochFixture(1, unittest.WithWindow(start, start.Add(time.Second)))
	cid := unittest.IdentifierFixture()

	vector := func(idx int, ns int64) *messages.ArrivalVector {
		return &messages.ArrivalVector{
			EpochID:      1,
			MemberIdx:    idx,
			CIDs:         umbra.IdentifierList{cid},
			ArrivalNanos: []int64{ns},
		}
	}

	base := start.UnixNano()
	vectors := map[int]*messages.ArrivalVector{
		0: vector(0, base+100),
		1: vector(1, base+300),
		2: vector(2, base+900),
	}

	reconciled := reconcileArrivals(epoch, umbra.IdentifierList{cid}, vectors)
	assert.Equal(t, base+300, reconciled[cid])
}

// One wildly lying member cannot move the reconciled timestamp outside
// the epoch window, and with an honest majority cannot move the median
// past the honest observations.
func TestReconcileArrivalsClampsOutliers(t *testing.T) {
	start := time.Now()
	epoch := unittest.EpochFixture(1, unittest.WithWindow(start, start.Add(time.Second)))
	cid := unittest.IdentifierFixture()

	base := start.UnixNano()
	hi := epoch.EndTS.UnixNano() - 1
	vectors := map[int]*messages.ArrivalVector{
		0: {EpochID: 1, MemberIdx: 0, CIDs: umbra.IdentifierList{cid}, ArrivalNanos: []int64{base + 100}},
		1: {EpochID: 1, MemberIdx: 1, CIDs: umbra.IdentifierList{cid}, ArrivalNanos: []int64{base + 200}},
		// a claim far outside the window clamps to the window edge
		2: {EpochID: 1, MemberIdx: 2, CIDs: umbra.IdentifierList{cid}, ArrivalNanos: []int64{base + int64(time.Hour)}},
	}

	reconciled := reconcileArrivals(epoch, umbra.IdentifierList{cid}, vectors)
	assert.Equal(t, base+200, reconciled[cid])
	assert.LessOrEqual(t, reconciled[cid], hi)

	t.Run("negative outlier clamps to window start", func(t *testing.T) {
		vectors[2].ArrivalNanos[0] = base - int64(time.Hour)
		reconciled := reconcileArrivals(epoch, umbra.IdentifierList{cid}, vectors)
		assert.Equal(t, base+100, reconciled[cid])
	})
}

// Arrival nanos exceed float64's 53-bit mantissa; the median must stay
// exact at full nanosecond resolution or distinct observations collapse.
func TestReconcileArrivalsIntegerPrecision(t *testing.T) {
	base := int64(1) << 60
	start := time.Unix(0, base)
	epoch := unittest.EpochFixture(1, unittest.WithWindow(start, start.Add(time.Second)))
	cid := unittest.IdentifierFixture()

	vectors := map[int]*messages.ArrivalVector{
		0: {EpochID: 1, MemberIdx: 0, CIDs: umbra.IdentifierList{cid}, ArrivalNanos: []int64{base + 1}},
		1: {EpochID: 1, MemberIdx: 1, CIDs: umbra.IdentifierList{cid}, ArrivalNanos: []int64{base + 2}},
		2: {EpochID: 1, MemberIdx: 2, CIDs: umbra.IdentifierList{cid}, ArrivalNanos: []int64{base + 4}},
	}

	reconciled := reconcileArrivals(epoch, umbra.IdentifierList{cid}, vectors)
	assert.Equal(t, base+2, reconciled[cid])

	t.Run("even sample count splits the middle pair exactly", func(t *testing.T) {
		delete(vectors, 2)
		reconciled := reconcileArrivals(epoch, umbra.IdentifierList{cid}, vectors)
		assert.Equal(t, base+1, reconciled[cid])
	})
}

// A commitment no vector observed sorts to the end of the window.
func TestReconcileArrivalsMissingSamples(t *testing.T) {
	start := time.Now()
	epoch := unittest.EpochFixture(1, unittest.WithWindow(start, start.Add(time.Second)))
	seen := unittest.IdentifierFixture()
	unseen := unittest.IdentifierFixture()

	vectors := map[int]*messages.ArrivalVector{
		0: {EpochID: 1, MemberIdx: 0, CIDs: umbra.IdentifierList{seen}, ArrivalNanos: []int64{start.UnixNano()}},
	}

	reconciled := reconcileArrivals(epoch, umbra.IdentifierList{seen, unseen}, vectors)
	assert.Equal(t, epoch.EndTS.UnixNano()-1, reconciled[unseen])
	assert.Less(t, reconciled[seen], reconciled[unseen])
}

func TestCanonicalOrderTieBreaks(t *testing.T) {
	commits := map[umbra.Identifier]*umbra.Commitment{}
	arrivals := map[umbra.Identifier]int64{}

	add := func(fee uint64, arrival int64) umbra.Identifier {
		commit := unittest.CommitmentFixture(unittest.WithCommitFeeBid(fee))
		cid := commit.ID()
		commits[cid] = commit
		arrivals[cid] = arrival
		return cid
	}

	lowFee := add(10, 0)
	highFeeLate := add(50, 200)
	highFeeEarly := add(50, 100)

	ordered := canonicalOrder(commits, arrivals)
	require.Len(t, ordered, 3)
	assert.Equal(t, highFeeEarly, ordered[0])
	assert.Equal(t, highFeeLate, ordered[1])
	assert.Equal(t, lowFee, ordered[2])
}

// The canonical order is a pure function of fees and reconciled
// arrivals: every member derives the same permutation, and the
// comparator invariants hold pairwise across the result.
func TestCanonicalOrderProperties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 12).Draw(rt, "n")

		commits := map[umbra.Identifier]*umbra.Commitment{}
		arrivals := map[umbra.Identifier]int64{}
		for i := 0; i < n; i++ {
			fee := rapid.Uint64Range(0, 5).Draw(rt, "fee")
			arrival := rapid.Int64Range(0, 3).Draw(rt, "arrival")
			commit := unittest.CommitmentFixture(unittest.WithCommitFeeBid(fee))
			commits[commit.ID()] = commit
			arrivals[commit.ID()] = arrival
		}

		ordered := canonicalOrder(commits, arrivals)
		require.Len(rt, ordered, len(commits))

		seen := make(map[umbra.Identifier]struct{}, len(ordered))
		for _, cid := range ordered {
			_, dup := seen[cid]
			require.False(rt, dup, "duplicate cid in canonical order")
			_, known := commits[cid]
			require.True(rt, known, "unknown cid in canonical order")
			seen[cid] = struct{}{}
		}

		for i := 1; i < len(ordered); i++ {
			a, b := ordered[i-1], ordered[i]
			feeA, feeB := commits[a].FeeBid, commits[b].FeeBid
			require.GreaterOrEqual(rt, feeA, feeB, "fee order violated")
			if feeA == feeB {
				require.LessOrEqual(rt, arrivals[a], arrivals[b], "arrival tie-break violated")
				if arrivals[a] == arrivals[b] {
					require.Negative(rt, bytes.Compare(a[:], b[:]), "cid tie-break violated")
				}
			}
		}

		// deriving again yields the identical permutation
		again := canonicalOrder(commits, arrivals)
		require.Equal(rt, ordered, again)
	})
}

func TestIsPermutation(t *testing.T) {
	commits := unittest.CommitmentListFixture(3)
	sealed := make(map[umbra.Identifier]*umbra.Commitment, len(commits))
	cids := make(umbra.IdentifierList, 0, len(commits))
	for _, commit := range commits {
		sealed[commit.ID()] = commit
		cids = append(cids, commit.ID())
	}

	assert.True(t, isPermutation(sealed, cids))
	assert.True(t, isPermutation(sealed, umbra.IdentifierList{cids[2], cids[0], cids[1]}))

	assert.False(t, isPermutation(sealed, cids[:2]))
	assert.False(t, isPermutation(sealed, umbra.IdentifierList{cids[0], cids[1], cids[1]}))
	assert.False(t, isPermutation(sealed, umbra.IdentifierList{cids[0], cids[1], unittest.IdentifierFixture()}))
}
