package dispatch

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umbra-net/umbra-go/model/umbra"
	"github.com/umbra-net/umbra-go/module/irrecoverable"
	"github.com/umbra-net/umbra-go/module/metrics"
	"github.com/umbra-net/umbra-go/network/relay/memory"
	"github.com/umbra-net/umbra-go/storage"
	"github.com/umbra-net/umbra-go/utils/unittest"
)

// memOutcomes is an in-memory outcome store.
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

type dispatchNote struct {
	epochID uint64
	drained bool
}

type noteConsumer struct {
	notes chan dispatchNote
}

func (c *noteConsumer) OnEpochDispatched(epochID uint64, drained bool) {
	c.notes <- dispatchNote{epochID: epochID, drained: drained}
}

type dispatchHarness struct {
	engine   *Engine
	relay    *memory.Relay
	outcomes *memOutcomes
	consumer *noteConsumer
}

func startDispatchHarness(t *testing.T, retryBudget uint64) *dispatchHarness {
	h := &dispatchHarness{
		relay:    memory.New(),
		outcomes: newMemOutcomes(),
		consumer: &noteConsumer{notes: make(chan dispatchNote, 8)},
	}

	engine, err := New(
		zerolog.Nop(),
		metrics.NewNoopCollector(),
		metrics.NewNoopCollector(),
		h.relay,
		h.outcomes,
		h.consumer,
		retryBudget,
	)
	require.NoError(t, err)
	h.engine = engine

	ctx, cancel := irrecoverable.NewMockSignalerContextWithCancel(t, context.Background())
	engine.Start(ctx)
	unittest.RequireReturnsBefore(t, func() { <-engine.Ready() }, time.Second)
	t.Cleanup(func() {
		cancel()
		unittest.RequireReturnsBefore(t, func() { <-engine.Done() }, time.Second)
	})
	return h
}

func (h *dispatchHarness) waitDispatched(t *testing.T) dispatchNote {
	select {
	case note := <-h.consumer.notes:
		return note
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for dispatch notification")
		return dispatchNote{}
	}
}

func items(n int) []*Item {
	out := make([]*Item, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, &Item{
			CID:     unittest.IdentifierFixture(),
			SeqIdx:  uint(i),
			Payload: unittest.RandomBytes(64),
		})
	}
	return out
}

func TestDispatchPublishesInOrder(t *testing.T) {
	h := startDispatchHarness(t, 3)
	epoch := unittest.EpochFixture(1)
	batch := items(4)

	h.engine.Dispatch(epoch, batch, time.Now().Add(5*time.Second))

	note := h.waitDispatched(t)
	assert.Equal(t, uint64(1), note.epochID)
	assert.True(t, note.drained)

	cids := h.relay.SubmittedCIDs()
	require.Len(t, cids, 4)
	for i, item := range batch {
		assert.Equal(t, item.CID, cids[i])
	}

	for _, item := range batch {
		outcome, err := h.outcomes.ByCID(item.CID)
		require.NoError(t, err)
		assert.Equal(t, umbra.OutcomePublished, outcome.State)
		assert.Equal(t, umbra.MakeIDFromData(item.Payload), outcome.PlaintextHash)
		assert.Equal(t, item.SeqIdx, outcome.SeqIdx)
	}
}

// A permanently rejected payload is recorded and skipped; its
// successors still publish.
func TestDispatchContinuesPastRejection(t *testing.T) {
	h := startDispatchHarness(t, 3)
	epoch := unittest.EpochFixture(1)
	batch := items(3)

	h.relay.Reject(batch[1].CID, "nonce too low")

	h.engine.Dispatch(epoch, batch, time.Now().Add(5*time.Second))
	note := h.waitDispatched(t)
	assert.True(t, note.drained)

	cids := h.relay.SubmittedCIDs()
	require.Len(t, cids, 2)
	assert.Equal(t, batch[0].CID, cids[0])
	assert.Equal(t, batch[2].CID, cids[1])

	outcome, err := h.outcomes.ByCID(batch[1].CID)
	require.NoError(t, err)
	assert.Equal(t, umbra.OutcomeRejected, outcome.State)
	assert.Equal(t, "nonce too low", outcome.Reason)
}

func TestDispatchSkipsPoisonedItems(t *testing.T) {
	h := startDispatchHarness(t, 3)
	epoch := unittest.EpochFixture(1)
	batch := items(3)
	batch[0].Poisoned = true
	batch[0].Payload = nil

	h.engine.Dispatch(epoch, batch, time.Now().Add(5*time.Second))
	note := h.waitDispatched(t)
	assert.True(t, note.drained)

	cids := h.relay.SubmittedCIDs()
	require.Len(t, cids, 2)
	assert.Equal(t, batch[1].CID, cids[0])
	assert.Equal(t, batch[2].CID, cids[1])

	outcome, err := h.outcomes.ByCID(batch[0].CID)
	require.NoError(t, err)
	assert.Equal(t, umbra.OutcomePoisoned, outcome.State)
	assert.Equal(t, umbra.Identifier{}, outcome.PlaintextHash)
}

// Transient relay failures within the retry budget are retried until
// the submission lands.
func TestDispatchRetriesTransientFailures(t *testing.T) {
	h := startDispatchHarness(t, 5)
	epoch := unittest.EpochFixture(1)
	batch := items(2)

	h.relay.FailTimes(batch[0].CID, 2)

	h.engine.Dispatch(epoch, batch, time.Now().Add(5*time.Second))
	note := h.waitDispatched(t)
	assert.True(t, note.drained)

	cids := h.relay.SubmittedCIDs()
	require.Len(t, cids, 2)
	assert.Equal(t, batch[0].CID, cids[0])
}

// When the retry budget is exhausted the batch is cut short: the
// failing item and everything after it expire, and the epoch reports
// not drained.
func TestDispatchExpiresOnExhaustedBudget(t *testing.T) {
	h := startDispatchHarness(t, 1)
	epoch := unittest.EpochFixture(1)
	batch := items(3)

	h.relay.FailTimes(batch[1].CID, 10)

	h.engine.Dispatch(epoch, batch, time.Now().Add(5*time.Second))
	note := h.waitDispatched(t)
	assert.False(t, note.drained)

	cids := h.relay.SubmittedCIDs()
	require.Len(t, cids, 1)
	assert.Equal(t, batch[0].CID, cids[0])

	for _, item := range batch[1:] {
		outcome, err := h.outcomes.ByCID(item.CID)
		require.NoError(t, err)
		assert.Equal(t, umbra.OutcomeExpired, outcome.State)
		assert.Equal(t, "dispatch deadline exceeded", outcome.Reason)
	}
}

// A batch released with its deadline already in the past publishes
// nothing: every item expires and the epoch reports not drained.
func TestDispatchExpiredDeadline(t *testing.T) {
	h := startDispatchHarness(t, 3)
	epoch := unittest.EpochFixture(1)
	batch := items(2)

	h.engine.Dispatch(epoch, batch, time.Now().Add(-time.Second))
	note := h.waitDispatched(t)
	assert.False(t, note.drained)

	assert.Empty(t, h.relay.SubmittedCIDs())
	for _, item := range batch {
		outcome, err := h.outcomes.ByCID(item.CID)
		require.NoError(t, err)
		assert.Equal(t, umbra.OutcomeExpired, outcome.State)
	}
}

// An item whose intent deadline lapsed between seal and release is
// never submitted; its successors still publish and the epoch drains.
func TestDispatchSkipsLapsedDeadline(t *testing.T) {
	h := startDispatchHarness(t, 3)
	epoch := unittest.EpochFixture(1)
	batch := items(3)
	batch[1].Deadline = time.Now().Add(-time.Second)

	h.engine.Dispatch(epoch, batch, time.Now().Add(5*time.Second))
	note := h.waitDispatched(t)
	assert.True(t, note.drained)

	cids := h.relay.SubmittedCIDs()
	require.Len(t, cids, 2)
	assert.Equal(t, batch[0].CID, cids[0])
	assert.Equal(t, batch[2].CID, cids[1])

	outcome, err := h.outcomes.ByCID(batch[1].CID)
	require.NoError(t, err)
	assert.Equal(t, umbra.OutcomeExpired, outcome.State)
	assert.Equal(t, "intent deadline lapsed", outcome.Reason)
}

func TestDispatchEmptyBatch(t *testing.T) {
	h := startDispatchHarness(t, 3)
	epoch := unittest.EpochFixture(1)

	h.engine.Dispatch(epoch, nil, time.Now().Add(time.Second))
	note := h.waitDispatched(t)
	assert.Equal(t, uint64(1), note.epochID)
	assert.True(t, note.drained)
	assert.Empty(t, h.relay.SubmittedCIDs())
}

// Batches queue behind each other: two epochs released back to back
// drain in release order.
func TestDispatchSequentialBatches(t *testing.T) {
	h := startDispatchHarness(t, 3)
	batchA := items(2)
	batchB := items(2)

	h.engine.Dispatch(unittest.EpochFixture(1), batchA, time.Now().Add(5*time.Second))
	h.engine.Dispatch(unittest.EpochFixture(2), batchB, time.Now().Add(5*time.Second))

	noteA := h.waitDispatched(t)
	noteB := h.waitDispatched(t)
	assert.Equal(t, uint64(1), noteA.epochID)
	assert.Equal(t, uint64(2), noteB.epochID)

	cids := h.relay.SubmittedCIDs()
	require.Len(t, cids, 4)
	assert.Equal(t, batchA[0].CID, cids[0])
	assert.Equal(t, batchA[1].CID, cids[1])
	assert.Equal(t, batchB[0].CID, cids[2])
	assert.Equal(t, batchB[1].CID, cids[3])
}
