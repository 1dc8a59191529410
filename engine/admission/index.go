package admission

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/umbra-net/umbra-go/model/umbra"
	"github.com/umbra-net/umbra-go/module"
	"github.com/umbra-net/umbra-go/module/metrics"
)

// statusRecord is what the admitting node remembers about a commitment
// it accepted, so Status can answer after the commitment left the
// in-memory ledger.
type statusRecord struct {
	epochID  uint64
	decision *umbra.Decision
	// state overrides StatePending for records that never get a
	// persisted outcome: cancellations and bypass publications.
	state string
}

// statusIndex is the bounded cid -> admission record history. Eviction
// is LRU; a commitment evicted here is still answerable from the
// persisted outcome store.
type statusIndex struct {
	cache          *lru.Cache[umbra.Identifier, *statusRecord]
	mempoolMetrics module.MempoolMetrics
}

func newStatusIndex(size int, mempoolMetrics module.MempoolMetrics) (*statusIndex, error) {
	cache, err := lru.New[umbra.Identifier, *statusRecord](size)
	if err != nil {
		return nil, fmt.Errorf("could not create status cache: %w", err)
	}
	return &statusIndex{cache: cache, mempoolMetrics: mempoolMetrics}, nil
}

func (si *statusIndex) put(cid umbra.Identifier, record *statusRecord) {
	si.cache.Add(cid, record)
	si.mempoolMetrics.MempoolEntries(metrics.ResourceStatusIndex, uint(si.cache.Len()))
}

func (si *statusIndex) get(cid umbra.Identifier) (*statusRecord, bool) {
	return si.cache.Get(cid)
}

// markState updates the recorded state of a known commitment, keeping
// its decision.
func (si *statusIndex) markState(cid umbra.Identifier, state string) {
	record, ok := si.cache.Get(cid)
	if !ok {
		record = &statusRecord{}
	}
	record.state = state
	si.cache.Add(cid, record)
}
