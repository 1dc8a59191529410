package epochmgr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umbra-net/umbra-go/model/umbra"
	"github.com/umbra-net/umbra-go/utils/unittest"
)

// seedEpoch persists an epoch history up to the given state, the way a
// previous run would have left it, and returns the sealed set.
func seedEpoch(t *testing.T, h *controllerHarness, state umbra.EpochState) []*umbra.Commitment {
	require.NoError(t, h.state.Bootstrap(unittest.EpochFixture(1)))
	if state == umbra.EpochStateOpen {
		return nil
	}

	sealed := unittest.CommitmentListFixture(2, unittest.WithEpochID(1))
	require.NoError(t, h.state.Seal(1, uint(len(sealed))))
	require.NoError(t, h.commits.StoreSealedSet(1, sealed))
	if state == umbra.EpochStateSealed {
		return sealed
	}

	require.NoError(t, h.state.Advance(1, umbra.EpochStateOrdered))
	if state == umbra.EpochStateOrdered {
		return sealed
	}

	require.NoError(t, h.state.Advance(1, umbra.EpochStateDecrypted))
	return sealed
}

func sealedCIDs(sealed []*umbra.Commitment) umbra.IdentifierList {
	cids := make(umbra.IdentifierList, 0, len(sealed))
	for _, commit := range sealed {
		cids = append(cids, commit.ID())
	}
	return cids
}

// An epoch still open when the process died lost its ledger partition;
// recovery retires it and opens a fresh successor.
func TestRecoveryDiscardsOpenEpoch(t *testing.T) {
	h := buildControllerHarness(t, quietConfig(), newMemEpochs())
	seedEpoch(t, h, umbra.EpochStateOpen)

	h.start(t)

	h.requireState(t, 1, umbra.EpochStateExpired)
	current := h.engine.CurrentEpoch()
	require.NotNil(t, current)
	assert.Equal(t, uint64(2), current.ID)

	// no commitments were sealed, so no outcomes are recorded
	outcomes, err := h.outcomes.ByEpoch(1)
	require.NoError(t, err)
	assert.Empty(t, outcomes)
}

// A sealed epoch without a persisted certificate cannot recover its
// agreement; it expires with outcomes for the persisted sealed set.
func TestRecoveryExpiresSealedWithoutCertificate(t *testing.T) {
	h := buildControllerHarness(t, quietConfig(), newMemEpochs())
	sealed := seedEpoch(t, h, umbra.EpochStateSealed)

	h.start(t)

	h.requireState(t, 1, umbra.EpochStateExpired)
	expectQuiet(t, h.decrypt.started, "decryption start without certificate")

	for _, commit := range sealed {
		outcome, err := h.outcomes.ByCID(commit.ID())
		require.NoError(t, err)
		assert.Equal(t, umbra.OutcomeExpired, outcome.State)
		assert.Equal(t, "epoch expired during ordering", outcome.Reason)
	}
}

// A sealed epoch whose certificate was persisted before the crash
// resumes at decryption and can still run to publication.
func TestRecoveryResumesSealedWithCertificate(t *testing.T) {
	h := buildControllerHarness(t, quietConfig(), newMemEpochs())
	sealed := seedEpoch(t, h, umbra.EpochStateSealed)
	cert := unittest.CertificateFixture(1, sealedCIDs(sealed))
	require.NoError(t, h.certs.Store(cert))

	h.start(t)

	ds := recv(t, h.decrypt.started, "resumed decryption start")
	assert.Equal(t, uint64(1), ds.epoch.ID)
	assert.Equal(t, cert.OrderedCIDs, ds.cert.OrderedCIDs)
	require.Len(t, ds.sealed, len(sealed))
	h.requireState(t, 1, umbra.EpochStateOrdered)

	// the resumed epoch completes the remaining stages normally
	h.engine.OnEpochDecrypted(ds.epoch, decryptResults(ds))
	release := recv(t, h.dispatch.released, "dispatch release of resumed epoch")
	require.Len(t, release.items, len(sealed))
	h.engine.OnEpochDispatched(1, true)
	h.requireState(t, 1, umbra.EpochStatePublished)
}

func TestRecoveryResumesOrderedEpoch(t *testing.T) {
	h := buildControllerHarness(t, quietConfig(), newMemEpochs())
	sealed := seedEpoch(t, h, umbra.EpochStateOrdered)
	require.NoError(t, h.certs.Store(unittest.CertificateFixture(1, sealedCIDs(sealed))))

	h.start(t)

	ds := recv(t, h.decrypt.started, "resumed decryption start")
	assert.Equal(t, uint64(1), ds.epoch.ID)
	h.requireState(t, 1, umbra.EpochStateOrdered)
}

// Plaintexts are never persisted, so an epoch that crashed after
// decryption cannot be dispatched faithfully; it expires.
func TestRecoveryExpiresDecryptedEpoch(t *testing.T) {
	h := buildControllerHarness(t, quietConfig(), newMemEpochs())
	sealed := seedEpoch(t, h, umbra.EpochStateDecrypted)

	h.start(t)

	h.requireState(t, 1, umbra.EpochStateExpired)
	expectQuiet(t, h.dispatch.released, "dispatch of unrecoverable plaintexts")

	for _, commit := range sealed {
		outcome, err := h.outcomes.ByCID(commit.ID())
		require.NoError(t, err)
		assert.Equal(t, "epoch expired during dispatch", outcome.Reason)
	}
}

// Terminal epochs are left alone and the counter keeps growing.
func TestRecoverySkipsTerminalEpochs(t *testing.T) {
	store := newMemEpochs()
	h := buildControllerHarness(t, quietConfig(), store)

	require.NoError(t, h.state.Bootstrap(unittest.EpochFixture(1)))
	require.NoError(t, h.state.Seal(1, 0))
	require.NoError(t, h.state.Advance(1, umbra.EpochStateExpired))

	h.start(t)

	status, err := h.state.Status(1)
	require.NoError(t, err)
	assert.Equal(t, umbra.EpochStateExpired, status.State)

	require.Eventually(t, func() bool {
		current := h.engine.CurrentEpoch()
		return current != nil && current.ID == 2
	}, 5*time.Second, 5*time.Millisecond)
	h.requireState(t, 2, umbra.EpochStateOpen)
}
