package epochmgr

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umbra-net/umbra-go/engine/decryption"
	"github.com/umbra-net/umbra-go/engine/dispatch"
	"github.com/umbra-net/umbra-go/model/umbra"
	"github.com/umbra-net/umbra-go/module/irrecoverable"
	"github.com/umbra-net/umbra-go/module/mempool/stdmap"
	"github.com/umbra-net/umbra-go/module/metrics"
	"github.com/umbra-net/umbra-go/state/epochs"
	"github.com/umbra-net/umbra-go/storage"
	"github.com/umbra-net/umbra-go/utils/unittest"
)

// ---------------------------------------------------------------------
// in-memory stores

type memEpochs struct {
	mu       sync.Mutex
	headers  map[uint64]*umbra.Epoch
	statuses map[uint64]*umbra.EpochStatus
	latest   uint64
	hasAny   bool
}

func newMemEpochs() *memEpochs {
	return &memEpochs{
		headers:  make(map[uint64]*umbra.Epoch),
		statuses: make(map[uint64]*umbra.EpochStatus),
	}
}

func (m *memEpochs) StoreEpoch(epoch *umbra.Epoch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.headers[epoch.ID]; ok {
		return storage.ErrAlreadyExists
	}
	m.headers[epoch.ID] = epoch
	return nil
}

func (m *memEpochs) ByID(epochID uint64) (*umbra.Epoch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	epoch, ok := m.headers[epochID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return epoch, nil
}

func (m *memEpochs) StoreStatus(status *umbra.EpochStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.statuses[status.EpochID]; ok {
		return storage.ErrAlreadyExists
	}
	cp := *status
	m.statuses[status.EpochID] = &cp
	return nil
}

func (m *memEpochs) UpdateStatus(status *umbra.EpochStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.statuses[status.EpochID]; !ok {
		return storage.ErrNotFound
	}
	cp := *status
	m.statuses[status.EpochID] = &cp
	return nil
}

func (m *memEpochs) Status(epochID uint64) (*umbra.EpochStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.statuses[epochID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *status
	return &cp, nil
}

func (m *memEpochs) SetLatest(epochID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest = epochID
	m.hasAny = true
	return nil
}

func (m *memEpochs) Latest() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasAny {
		return 0, storage.ErrNotFound
	}
	return m.latest, nil
}

func (m *memEpochs) NonTerminal() ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uint64
	for id, status := range m.statuses {
		if !status.State.Terminal() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

type memCommitments struct {
	mu   sync.Mutex
	sets map[uint64][]*umbra.Commitment
}

func newMemCommitments() *memCommitments {
	return &memCommitments{sets: make(map[uint64][]*umbra.Commitment)}
}

func (m *memCommitments) StoreSealedSet(epochID uint64, commitments []*umbra.Commitment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sets[epochID]; ok {
		return storage.ErrAlreadyExists
	}
	m.sets[epochID] = commitments
	return nil
}

func (m *memCommitments) SealedSet(epochID uint64) ([]*umbra.Commitment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[epochID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return set, nil
}

func (m *memCommitments) ByCID(cid umbra.Identifier) (*umbra.Commitment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, set := range m.sets {
		for _, commit := range set {
			if commit.ID() == cid {
				return commit, nil
			}
		}
	}
	return nil, storage.ErrNotFound
}

type memCertificates struct {
	mu    sync.Mutex
	certs map[uint64]*umbra.OrderingCertificate
}

func newMemCertificates() *memCertificates {
	return &memCertificates{certs: make(map[uint64]*umbra.OrderingCertificate)}
}

func (m *memCertificates) Store(cert *umbra.OrderingCertificate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.certs[cert.EpochID] = cert
	return nil
}

func (m *memCertificates) ByEpoch(epochID uint64) (*umbra.OrderingCertificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cert, ok := m.certs[epochID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cert, nil
}

type memOutcomes struct {
	mu       sync.Mutex
	outcomes map[umbra.Identifier]*umbra.CommitOutcome
}

func newMemOutcomes() *memOutcomes {
	return &memOutcomes{outcomes: make(map[umbra.Identifier]*umbra.CommitOutcome)}
}

func (m *memOutcomes) Store(outcome *umbra.CommitOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[outcome.CommitID] = outcome
	return nil
}

func (m *memOutcomes) ByCID(cid umbra.Identifier) (*umbra.CommitOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	outcome, ok := m.outcomes[cid]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return outcome, nil
}

func (m *memOutcomes) ByEpoch(epochID uint64) ([]*umbra.CommitOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*umbra.CommitOutcome
	for _, outcome := range m.outcomes {
		if outcome.EpochID == epochID {
			out = append(out, outcome)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeqIdx < out[j].SeqIdx })
	return out, nil
}

// ---------------------------------------------------------------------
// stage mocks

type orderingStart struct {
	epoch  *umbra.Epoch
	sealed []*umbra.Commitment
}

type mockOrderingStage struct {
	started   chan orderingStart
	abandoned chan uint64
}

func newMockOrderingStage() *mockOrderingStage {
	return &mockOrderingStage{
		started:   make(chan orderingStart, 8),
		abandoned: make(chan uint64, 8),
	}
}

func (m *mockOrderingStage) StartOrdering(epoch *umbra.Epoch, sealed []*umbra.Commitment) {
	m.started <- orderingStart{epoch: epoch, sealed: sealed}
}
func (m *mockOrderingStage) Abandon(epochID uint64) { m.abandoned <- epochID }

type decryptionStart struct {
	epoch  *umbra.Epoch
	cert   *umbra.OrderingCertificate
	sealed []*umbra.Commitment
}

type mockDecryptionStage struct {
	started   chan decryptionStart
	abandoned chan uint64
}

func newMockDecryptionStage() *mockDecryptionStage {
	return &mockDecryptionStage{
		started:   make(chan decryptionStart, 8),
		abandoned: make(chan uint64, 8),
	}
}

func (m *mockDecryptionStage) StartDecryption(epoch *umbra.Epoch, cert *umbra.OrderingCertificate, sealed []*umbra.Commitment) {
	m.started <- decryptionStart{epoch: epoch, cert: cert, sealed: sealed}
}
func (m *mockDecryptionStage) Abandon(epochID uint64) { m.abandoned <- epochID }

type dispatchRelease struct {
	epoch    *umbra.Epoch
	items    []*dispatch.Item
	deadline time.Time
}

type mockDispatchStage struct {
	released chan dispatchRelease
}

func newMockDispatchStage() *mockDispatchStage {
	return &mockDispatchStage{released: make(chan dispatchRelease, 8)}
}

func (m *mockDispatchStage) Dispatch(epoch *umbra.Epoch, items []*dispatch.Item, deadline time.Time) {
	m.released <- dispatchRelease{epoch: epoch, items: items, deadline: deadline}
}

type fixedView struct {
	view *umbra.CommitteeView
}

func (f *fixedView) Current() *umbra.CommitteeView { return f.view }
func (f *fixedView) ByID(viewID umbra.Identifier) (*umbra.CommitteeView, error) {
	if f.view.ID() != viewID {
		return nil, storage.ErrNotFound
	}
	return f.view, nil
}

// ---------------------------------------------------------------------
// harness

type controllerHarness struct {
	engine   *Engine
	state    *epochs.State
	ledger   *stdmap.CommitLedger
	commits  *memCommitments
	certs    *memCertificates
	outcomes *memOutcomes
	ordering *mockOrderingStage
	decrypt  *mockDecryptionStage
	dispatch *mockDispatchStage
}

func quietConfig() Config {
	// stage timers far beyond any test duration; tests drive every
	// transition explicitly
	return Config{
		EpochDuration:   time.Hour,
		MaxBatch:        64,
		AgreeTimeout:    time.Hour,
		DecryptTimeout:  time.Hour,
		DispatchTimeout: time.Hour,
	}
}

func buildControllerHarness(t *testing.T, conf Config, store *memEpochs) *controllerHarness {
	h := &controllerHarness{
		state:    epochs.NewState(store),
		ledger:   stdmap.NewCommitLedger(),
		commits:  newMemCommitments(),
		certs:    newMemCertificates(),
		outcomes: newMemOutcomes(),
		ordering: newMockOrderingStage(),
		decrypt:  newMockDecryptionStage(),
		dispatch: newMockDispatchStage(),
	}

	view := &umbra.CommitteeView{
		Members:   []umbra.Member{{Index: 0, NodeID: unittest.IdentifierFixture()}},
		Threshold: 1,
	}

	engine, err := New(
		zerolog.Nop(),
		metrics.NewNoopCollector(),
		conf,
		h.state,
		h.ledger,
		h.commits,
		h.certs,
		h.outcomes,
		&fixedView{view: view},
		h.ordering,
		h.decrypt,
		h.dispatch,
	)
	require.NoError(t, err)
	h.engine = engine
	return h
}

func (h *controllerHarness) start(t *testing.T) {
	ctx, cancel := irrecoverable.NewMockSignalerContextWithCancel(t, context.Background())
	h.engine.Start(ctx)
	unittest.RequireReturnsBefore(t, func() { <-h.engine.Ready() }, 5*time.Second)
	t.Cleanup(func() {
		cancel()
		unittest.RequireReturnsBefore(t, func() { <-h.engine.Done() }, 5*time.Second)
	})
}

func startControllerHarness(t *testing.T, conf Config, store *memEpochs) *controllerHarness {
	h := buildControllerHarness(t, conf, store)
	h.start(t)
	return h
}

func recv[T any](t *testing.T, ch chan T, what string) T {
	select {
	case v := <-ch:
		return v
	case <-time.After(10 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		var zero T
		return zero
	}
}

func expectQuiet[T any](t *testing.T, ch chan T, what string) {
	select {
	case <-ch:
		t.Fatalf("unexpected %s", what)
	case <-time.After(100 * time.Millisecond):
	}
}

// admitAndSeal fills the current epoch's ledger partition and triggers
// the batch-limit seal.
func (h *controllerHarness) admitAndSeal(t *testing.T, epochID uint64, n int) orderingStart {
	commits := unittest.CommitmentListFixture(n, unittest.WithEpochID(epochID))
	for _, commit := range commits {
		require.NoError(t, h.ledger.Add(commit))
	}
	h.engine.CommitmentAdmitted(epochID, h.engine.conf.MaxBatch)

	start := recv(t, h.ordering.started, "ordering start")
	require.Equal(t, epochID, start.epoch.ID)
	require.Len(t, start.sealed, n)
	return start
}

// certify hands a certificate over the sealed set to the controller and
// waits for the decryption stage handoff.
func (h *controllerHarness) certify(t *testing.T, start orderingStart) decryptionStart {
	cids := make(umbra.IdentifierList, 0, len(start.sealed))
	for _, commit := range start.sealed {
		cids = append(cids, commit.ID())
	}
	h.engine.OnOrderingCertificate(unittest.CertificateFixture(start.epoch.ID, cids))
	ds := recv(t, h.decrypt.started, "decryption start")
	require.Equal(t, start.epoch.ID, ds.epoch.ID)
	return ds
}

// decryptResults fabricates plaintext results in certificate order.
func decryptResults(ds decryptionStart) []*decryption.Result {
	results := make([]*decryption.Result, 0, len(ds.cert.OrderedCIDs))
	for seq, cid := range ds.cert.OrderedCIDs {
		results = append(results, &decryption.Result{
			CID:       cid,
			SeqIdx:    uint(seq),
			Plaintext: []byte{byte(seq)},
		})
	}
	return results
}

func (h *controllerHarness) requireState(t *testing.T, epochID uint64, expected umbra.EpochState) {
	require.Eventually(t, func() bool {
		status, err := h.state.Status(epochID)
		return err == nil && status.State == expected
	}, 5*time.Second, 5*time.Millisecond, "epoch %d never reached %s", epochID, expected)
}

// ---------------------------------------------------------------------
// tests

func TestControllerLifecycle(t *testing.T) {
	h := startControllerHarness(t, quietConfig(), newMemEpochs())

	t.Run("bootstrap opens epoch 1", func(t *testing.T) {
		epoch := h.engine.CurrentEpoch()
		require.NotNil(t, epoch)
		assert.Equal(t, uint64(1), epoch.ID)
		h.requireState(t, 1, umbra.EpochStateOpen)
	})

	start := h.admitAndSeal(t, 1, 3)

	t.Run("seal freezes the set and rotates the snapshot", func(t *testing.T) {
		h.requireState(t, 1, umbra.EpochStateSealed)

		require.Eventually(t, func() bool {
			current := h.engine.CurrentEpoch()
			return current != nil && current.ID == 2
		}, 5*time.Second, 5*time.Millisecond)

		// the frozen set is persisted for recovery
		persisted, err := h.commits.SealedSet(1)
		require.NoError(t, err)
		assert.Len(t, persisted, 3)
	})

	ds := h.certify(t, start)

	t.Run("certificate moves the epoch to ordered", func(t *testing.T) {
		h.requireState(t, 1, umbra.EpochStateOrdered)
		assert.Len(t, ds.sealed, 3)
	})

	h.engine.OnEpochDecrypted(ds.epoch, decryptResults(ds))
	release := recv(t, h.dispatch.released, "dispatch release")

	t.Run("decryption releases the batch to dispatch", func(t *testing.T) {
		h.requireState(t, 1, umbra.EpochStateDecrypted)
		require.Len(t, release.items, 3)
		for seq, cid := range ds.cert.OrderedCIDs {
			assert.Equal(t, cid, release.items[seq].CID)
			assert.Equal(t, uint(seq), release.items[seq].SeqIdx)
		}
	})

	h.engine.OnEpochDispatched(1, true)

	t.Run("drained dispatch publishes the epoch", func(t *testing.T) {
		h.requireState(t, 1, umbra.EpochStatePublished)
	})
}

// The wall clock seals an epoch even when no commitment ever arrived.
func TestControllerSealsOnClock(t *testing.T) {
	conf := quietConfig()
	conf.EpochDuration = 50 * time.Millisecond
	h := startControllerHarness(t, conf, newMemEpochs())

	start := recv(t, h.ordering.started, "clock-driven ordering start")
	assert.Equal(t, uint64(1), start.epoch.ID)
	assert.Empty(t, start.sealed)
	h.requireState(t, 1, umbra.EpochStateSealed)

	// the successor opened and will seal on its own clock too
	next := recv(t, h.ordering.started, "second clock-driven seal")
	assert.Equal(t, uint64(2), next.epoch.ID)
}

func TestControllerOrderingTimeout(t *testing.T) {
	conf := quietConfig()
	conf.AgreeTimeout = 50 * time.Millisecond
	h := startControllerHarness(t, conf, newMemEpochs())

	start := h.admitAndSeal(t, 1, 2)

	abandoned := recv(t, h.ordering.abandoned, "ordering abandon")
	assert.Equal(t, uint64(1), abandoned)
	h.requireState(t, 1, umbra.EpochStateExpired)

	for _, commit := range start.sealed {
		outcome, err := h.outcomes.ByCID(commit.ID())
		require.NoError(t, err)
		assert.Equal(t, umbra.OutcomeExpired, outcome.State)
		assert.Equal(t, "epoch expired during ordering", outcome.Reason)
	}

	t.Run("late certificate for the expired epoch is ignored", func(t *testing.T) {
		cids := umbra.IdentifierList{start.sealed[0].ID(), start.sealed[1].ID()}
		h.engine.OnOrderingCertificate(unittest.CertificateFixture(1, cids))
		expectQuiet(t, h.decrypt.started, "decryption start for expired epoch")
	})
}

func TestControllerDecryptionTimeout(t *testing.T) {
	conf := quietConfig()
	conf.DecryptTimeout = 50 * time.Millisecond
	h := startControllerHarness(t, conf, newMemEpochs())

	start := h.admitAndSeal(t, 1, 2)
	h.certify(t, start)

	abandoned := recv(t, h.decrypt.abandoned, "decryption abandon")
	assert.Equal(t, uint64(1), abandoned)
	h.requireState(t, 1, umbra.EpochStateExpired)

	outcomes, err := h.outcomes.ByEpoch(1)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	for _, outcome := range outcomes {
		assert.Equal(t, "epoch expired during decryption", outcome.Reason)
	}
}

// A dispatch deadline cut reports drained=false; the controller expires
// the epoch instead of publishing it.
func TestControllerDispatchFailure(t *testing.T) {
	h := startControllerHarness(t, quietConfig(), newMemEpochs())

	start := h.admitAndSeal(t, 1, 2)
	ds := h.certify(t, start)
	h.engine.OnEpochDecrypted(ds.epoch, decryptResults(ds))
	recv(t, h.dispatch.released, "dispatch release")

	h.engine.OnEpochDispatched(1, false)
	h.requireState(t, 1, umbra.EpochStateExpired)
}

// Decrypted batches are released to dispatch strictly in epoch order: a
// younger epoch that decrypts first waits for its predecessor.
func TestControllerReleasesInEpochOrder(t *testing.T) {
	h := startControllerHarness(t, quietConfig(), newMemEpochs())

	start1 := h.admitAndSeal(t, 1, 1)

	// epoch 2 opened after the first seal; fill and seal it too
	require.Eventually(t, func() bool {
		current := h.engine.CurrentEpoch()
		return current != nil && current.ID == 2
	}, 5*time.Second, 5*time.Millisecond)
	start2 := h.admitAndSeal(t, 2, 1)

	ds1 := h.certify(t, start1)
	ds2 := h.certify(t, start2)

	// epoch 2 decrypts first but must wait for epoch 1
	h.engine.OnEpochDecrypted(ds2.epoch, decryptResults(ds2))
	expectQuiet(t, h.dispatch.released, "early release of epoch 2")

	h.engine.OnEpochDecrypted(ds1.epoch, decryptResults(ds1))
	release1 := recv(t, h.dispatch.released, "release of epoch 1")
	assert.Equal(t, uint64(1), release1.epoch.ID)
	expectQuiet(t, h.dispatch.released, "release of epoch 2 before epoch 1 finished")

	h.engine.OnEpochDispatched(1, true)
	release2 := recv(t, h.dispatch.released, "release of epoch 2")
	assert.Equal(t, uint64(2), release2.epoch.ID)

	h.engine.OnEpochDispatched(2, true)
	h.requireState(t, 1, umbra.EpochStatePublished)
	h.requireState(t, 2, umbra.EpochStatePublished)
}

// An expired predecessor also unblocks its successors.
func TestControllerExpiryUnblocksSuccessors(t *testing.T) {
	conf := quietConfig()
	h := startControllerHarness(t, conf, newMemEpochs())

	start1 := h.admitAndSeal(t, 1, 1)
	require.Eventually(t, func() bool {
		current := h.engine.CurrentEpoch()
		return current != nil && current.ID == 2
	}, 5*time.Second, 5*time.Millisecond)
	start2 := h.admitAndSeal(t, 2, 1)

	ds2 := h.certify(t, start2)
	h.engine.OnEpochDecrypted(ds2.epoch, decryptResults(ds2))
	expectQuiet(t, h.dispatch.released, "release of epoch 2 behind live epoch 1")

	// epoch 1 reaches dispatch but its deadline cuts the batch short
	h.engine.OnOrderingCertificate(unittest.CertificateFixture(1, umbra.IdentifierList{start1.sealed[0].ID()}))
	ds1 := recv(t, h.decrypt.started, "decryption start for epoch 1")
	h.engine.OnEpochDecrypted(ds1.epoch, decryptResults(ds1))
	release1 := recv(t, h.dispatch.released, "release of epoch 1")
	h.engine.OnEpochDispatched(release1.epoch.ID, false)
	h.requireState(t, 1, umbra.EpochStateExpired)

	release2 := recv(t, h.dispatch.released, "release of epoch 2 after epoch 1 expired")
	assert.Equal(t, uint64(2), release2.epoch.ID)
}

// A commitment whose intent deadline has already passed when the epoch
// seals is dropped before ordering and reported expired to its sender.
func TestControllerDropsLapsedDeadlinesAtSeal(t *testing.T) {
	h := startControllerHarness(t, quietConfig(), newMemEpochs())

	live := unittest.CommitmentListFixture(2, unittest.WithEpochID(1))
	lapsed := unittest.CommitmentFixture(
		unittest.WithEpochID(1),
		unittest.WithCommitDeadline(time.Now().Add(-time.Second)),
	)
	for _, commit := range append(live, lapsed) {
		require.NoError(t, h.ledger.Add(commit))
	}
	h.engine.CommitmentAdmitted(1, h.engine.conf.MaxBatch)

	start := recv(t, h.ordering.started, "ordering start")
	require.Len(t, start.sealed, 2)
	for _, commit := range start.sealed {
		assert.NotEqual(t, lapsed.ID(), commit.ID())
	}

	outcome, err := h.outcomes.ByCID(lapsed.ID())
	require.NoError(t, err)
	assert.Equal(t, umbra.OutcomeExpired, outcome.State)
	assert.Equal(t, "intent deadline lapsed", outcome.Reason)

	// the persisted sealed set carries only the live commitments
	persisted, err := h.commits.SealedSet(1)
	require.NoError(t, err)
	assert.Len(t, persisted, 2)
	h.requireState(t, 1, umbra.EpochStateSealed)
}

// The dispatch items carry the intent deadlines of their commitments,
// so the dispatcher can drop any that lapse while the epoch is ordered
// and decrypted.
func TestControllerForwardsDeadlinesToDispatch(t *testing.T) {
	h := startControllerHarness(t, quietConfig(), newMemEpochs())

	deadline := time.Now().Add(time.Hour).UTC()
	commit := unittest.CommitmentFixture(
		unittest.WithEpochID(1),
		unittest.WithCommitDeadline(deadline),
	)
	require.NoError(t, h.ledger.Add(commit))
	h.engine.CommitmentAdmitted(1, h.engine.conf.MaxBatch)

	start := recv(t, h.ordering.started, "ordering start")
	ds := h.certify(t, start)
	h.engine.OnEpochDecrypted(ds.epoch, decryptResults(ds))

	release := recv(t, h.dispatch.released, "dispatch release")
	require.Len(t, release.items, 1)
	assert.True(t, release.items[0].Deadline.Equal(deadline))
}

func TestControllerIgnoresUnknownEvents(t *testing.T) {
	h := startControllerHarness(t, quietConfig(), newMemEpochs())

	h.engine.OnOrderingCertificate(unittest.CertificateFixture(42, nil))
	h.engine.OnEpochDispatched(42, true)
	h.engine.OnEpochDecrypted(unittest.EpochFixture(42), nil)

	expectQuiet(t, h.decrypt.started, "decryption start for unknown epoch")
	h.requireState(t, 1, umbra.EpochStateOpen)
}
