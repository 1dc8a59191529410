package stdmap

import (
	"sync"

	"github.com/umbra-net/umbra-go/model/umbra"
	"github.com/umbra-net/umbra-go/module/mempool"
)

// partition holds one epoch's commitments plus their arrival order.
// Removed commitments leave a tombstone in the order slice; the slice
// is filtered against the map at seal time.
type partition struct {
	commits map[umbra.Identifier]*umbra.Commitment
	order   []umbra.Identifier
}

func newPartition() *partition {
	return &partition{
		commits: make(map[umbra.Identifier]*umbra.Commitment),
	}
}

// CommitLedger implements mempool.CommitLedger with one map-backed
// partition per open epoch. Sealing detaches the partition under the
// lock and reads it out afterwards, so a seal never blocks admissions
// into other epochs for longer than a map delete.
type CommitLedger struct {
	mu sync.RWMutex
	// open partitions keyed by epoch
	open map[uint64]*partition
	// cid -> epoch for all commitments in open partitions
	index map[umbra.Identifier]uint64
	// highest epoch ever sealed, to tell late adds from unknown epochs
	highestSealed uint64
	sealedAny     bool
}

var _ mempool.CommitLedger = (*CommitLedger)(nil)

func NewCommitLedger() *CommitLedger {
	return &CommitLedger{
		open:  make(map[uint64]*partition),
		index: make(map[umbra.Identifier]uint64),
	}
}

func (l *CommitLedger) Open(epochID uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.openPartition(epochID)
}

func (l *CommitLedger) openPartition(epochID uint64) error {
	if _, ok := l.open[epochID]; ok {
		return nil
	}
	if l.sealedAny && epochID <= l.highestSealed {
		return mempool.ErrEpochSealed
	}
	l.open[epochID] = newPartition()
	return nil
}

func (l *CommitLedger) Add(commitment *umbra.Commitment) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	part, ok := l.open[commitment.EpochID]
	if !ok {
		if l.sealedAny && commitment.EpochID <= l.highestSealed {
			return mempool.ErrEpochSealed
		}
		return mempool.ErrEpochUnknown
	}

	cid := commitment.ID()
	if _, ok := part.commits[cid]; ok {
		return nil
	}
	part.commits[cid] = commitment
	part.order = append(part.order, cid)
	l.index[cid] = commitment.EpochID
	return nil
}

func (l *CommitLedger) Seal(epochID uint64) ([]*umbra.Commitment, error) {
	l.mu.Lock()
	part, ok := l.open[epochID]
	if !ok {
		l.mu.Unlock()
		if l.sealedAny && epochID <= l.highestSealed {
			return nil, mempool.ErrEpochSealed
		}
		return nil, mempool.ErrEpochUnknown
	}

	delete(l.open, epochID)
	for cid := range part.commits {
		delete(l.index, cid)
	}
	if epochID > l.highestSealed {
		l.highestSealed = epochID
	}
	l.sealedAny = true
	err := l.openPartition(epochID + 1)
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}

	// the partition is detached; no lock needed to read it out
	sealed := make([]*umbra.Commitment, 0, len(part.commits))
	for _, cid := range part.order {
		commitment, ok := part.commits[cid]
		if !ok { // removed before seal
			continue
		}
		sealed = append(sealed, commitment)
	}
	return sealed, nil
}

func (l *CommitLedger) ByCID(cid umbra.Identifier) (*umbra.Commitment, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	epochID, ok := l.index[cid]
	if !ok {
		return nil, false
	}
	commitment, ok := l.open[epochID].commits[cid]
	return commitment, ok
}

func (l *CommitLedger) Remove(cid umbra.Identifier) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	epochID, ok := l.index[cid]
	if !ok {
		return false
	}
	delete(l.open[epochID].commits, cid)
	delete(l.index, cid)
	return true
}

func (l *CommitLedger) Size(epochID uint64) uint {
	l.mu.RLock()
	defer l.mu.RUnlock()
	part, ok := l.open[epochID]
	if !ok {
		return 0
	}
	return uint(len(part.commits))
}
