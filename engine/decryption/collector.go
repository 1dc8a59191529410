package decryption

import (
	"github.com/umbra-net/umbra-go/crypto/thresholdenc"
	"github.com/umbra-net/umbra-go/model/umbra"
)

// shareCollector accumulates verified partial shares for one
// commitment until the committee threshold is reached. Verification is
// split from accumulation: Verify checks a share against the member's
// public share commitment, TrustedAdd stores a share that passed.
//
// Only touched from the engine's single worker; no locking.
type shareCollector struct {
	view   *umbra.CommitteeView
	ct     *thresholdenc.Ciphertext
	seqIdx uint
	shares map[int]*thresholdenc.PartialShare
	// combining marks that the collector was already handed to the
	// worker pool; late shares are ignored.
	combining bool
}

func newShareCollector(view *umbra.CommitteeView, ct *thresholdenc.Ciphertext, seqIdx uint) *shareCollector {
	return &shareCollector{
		view:   view,
		ct:     ct,
		seqIdx: seqIdx,
		shares: make(map[int]*thresholdenc.PartialShare),
	}
}

// Verify checks the share cryptographically against the member's share
// commitment. It does not modify the collector.
// Error returns:
//   - thresholdenc.ErrMalformedShare if the proof does not verify
func (sc *shareCollector) Verify(member *umbra.Member, share *thresholdenc.PartialShare) error {
	return thresholdenc.VerifyShare(member.ShareCommit, sc.ct, share)
}

// TrustedAdd stores a verified share. Returns false if a share from
// the same member was stored before.
func (sc *shareCollector) TrustedAdd(share *thresholdenc.PartialShare) bool {
	if _, ok := sc.shares[share.Index]; ok {
		return false
	}
	sc.shares[share.Index] = share
	return true
}

// EnoughShares reports whether the committee threshold is reached.
func (sc *shareCollector) EnoughShares() bool {
	return len(sc.shares) >= sc.view.Threshold
}

// CombineInput snapshots the collector state for a worker-pool combine.
func (sc *shareCollector) CombineInput() (*thresholdenc.Ciphertext, []*thresholdenc.PartialShare, int, int) {
	shares := make([]*thresholdenc.PartialShare, 0, len(sc.shares))
	for _, share := range sc.shares {
		shares = append(shares, share)
	}
	return sc.ct, shares, sc.view.Threshold, sc.view.Size()
}
