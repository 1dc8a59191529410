// Package memory provides an in-memory relay for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/umbra-net/umbra-go/model/umbra"
	"github.com/umbra-net/umbra-go/network/relay"
)

// Relay records every submission it accepts. Individual CIDs can be
// programmed to fail transiently a number of times or to be rejected
// permanently.
type Relay struct {
	mu          sync.Mutex
	submissions []*relay.Submission
	rejections  map[umbra.Identifier]string
	failures    map[umbra.Identifier]int
}

var _ relay.Client = (*Relay)(nil)

// New returns an empty in-memory relay that accepts everything.
func New() *Relay {
	return &Relay{
		rejections: make(map[umbra.Identifier]string),
		failures:   make(map[umbra.Identifier]int),
	}
}

// Submit implements relay.Client.
func (r *Relay) Submit(ctx context.Context, sub *relay.Submission) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if n := r.failures[sub.CID]; n > 0 {
		r.failures[sub.CID] = n - 1
		return fmt.Errorf("transient relay failure for %x", sub.CID)
	}
	if reason, ok := r.rejections[sub.CID]; ok {
		return relay.NewRejectedError(sub.CID, reason)
	}

	cp := *sub
	cp.Payload = append([]byte(nil), sub.Payload...)
	r.submissions = append(r.submissions, &cp)
	return nil
}

// Reject programs the relay to permanently refuse the given CID.
func (r *Relay) Reject(cid umbra.Identifier, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejections[cid] = reason
}

// FailTimes programs the relay to fail transiently on the next n
// submissions of the given CID.
func (r *Relay) FailTimes(cid umbra.Identifier, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[cid] = n
}

// Submissions returns all accepted submissions in acceptance order.
func (r *Relay) Submissions() []*relay.Submission {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*relay.Submission(nil), r.submissions...)
}

// SubmittedCIDs returns the CIDs of accepted submissions in order.
func (r *Relay) SubmittedCIDs() umbra.IdentifierList {
	r.mu.Lock()
	defer r.mu.Unlock()
	cids := make(umbra.IdentifierList, 0, len(r.submissions))
	for _, sub := range r.submissions {
		cids = append(cids, sub.CID)
	}
	return cids
}
