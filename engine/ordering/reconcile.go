package ordering

import (
	"bytes"

	"golang.org/x/exp/slices"

	"github.com/umbra-net/umbra-go/model/messages"
	"github.com/umbra-net/umbra-go/model/umbra"
)

// reconcileArrivals computes the committee-agreed arrival timestamp for
// every sealed commitment: the coordinate-wise median over the arrival
// vectors, with each sample clamped into the epoch window. A commitment
// missing from a vector simply contributes no sample for it.
func reconcileArrivals(epoch *umbra.Epoch, cids umbra.IdentifierList, vectors map[int]*messages.ArrivalVector) map[umbra.Identifier]int64 {
	lo := epoch.StartTS.UnixNano()
	hi := epoch.EndTS.UnixNano() - 1

	samples := make(map[umbra.Identifier][]int64, len(cids))
	for _, vector := range vectors {
		for i, cid := range vector.CIDs {
			if i >= len(vector.ArrivalNanos) {
				break
			}
			ns := vector.ArrivalNanos[i]
			if ns < lo {
				ns = lo
			}
			if ns > hi {
				ns = hi
			}
			samples[cid] = append(samples[cid], ns)
		}
	}

	reconciled := make(map[umbra.Identifier]int64, len(cids))
	for _, cid := range cids {
		obs := samples[cid]
		if len(obs) == 0 {
			reconciled[cid] = hi
			continue
		}
		reconciled[cid] = medianNanos(obs)
	}
	return reconciled
}

// medianNanos computes the median without leaving the integer domain:
// wall-clock nanos exceed float64's exact range, and the agreed
// timestamp must be bit-identical on every member.
func medianNanos(obs []int64) int64 {
	slices.Sort(obs)
	mid := len(obs) / 2
	if len(obs)%2 == 1 {
		return obs[mid]
	}
	lo, hi := obs[mid-1], obs[mid]
	return lo + (hi-lo)/2
}

// canonicalOrder sorts the sealed set into publication order: highest
// fee bid first, ties broken by earlier reconciled arrival, then by CID
// bytes. The result is a pure function of its inputs, so every member
// holding the same reconciled timestamps derives the same order.
func canonicalOrder(commits map[umbra.Identifier]*umbra.Commitment, arrivals map[umbra.Identifier]int64) umbra.IdentifierList {
	ordered := make(umbra.IdentifierList, 0, len(commits))
	for cid := range commits {
		ordered = append(ordered, cid)
	}

	slices.SortFunc(ordered, func(a, b umbra.Identifier) int {
		feeA, feeB := commits[a].FeeBid, commits[b].FeeBid
		if feeA != feeB {
			if feeA > feeB {
				return -1
			}
			return 1
		}
		tsA, tsB := arrivals[a], arrivals[b]
		if tsA != tsB {
			if tsA < tsB {
				return -1
			}
			return 1
		}
		return bytes.Compare(a[:], b[:])
	})
	return ordered
}

// isPermutation reports whether got contains exactly the CIDs of the
// sealed set, each once.
func isPermutation(sealed map[umbra.Identifier]*umbra.Commitment, got umbra.IdentifierList) bool {
	if len(got) != len(sealed) {
		return false
	}
	seen := make(map[umbra.Identifier]struct{}, len(got))
	for _, cid := range got {
		if _, dup := seen[cid]; dup {
			return false
		}
		if _, ok := sealed[cid]; !ok {
			return false
		}
		seen[cid] = struct{}{}
	}
	return true
}
