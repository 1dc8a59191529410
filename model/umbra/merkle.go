package umbra

import (
	"golang.org/x/crypto/sha3"
)

// Leaf and node hashes carry distinct domain prefixes.
const (
	merkleLeafPrefix = byte(0x00)
	merkleNodePrefix = byte(0x01)
)

// OrderedRoot computes the binary Merkle root over an ordered list of
// identifiers. The root commits to both membership and position. An
// empty list has a well-defined root so that empty epochs still carry
// a certificate.
func OrderedRoot(cids IdentifierList) Identifier {
	if len(cids) == 0 {
		return MakeIDFromData(nil)
	}

	level := make([]Identifier, 0, len(cids))
	for _, cid := range cids {
		h := sha3.New256()
		h.Write([]byte{merkleLeafPrefix})
		h.Write(cid[:])
		level = append(level, HashToID(h.Sum(nil)))
	}

	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}
		next := make([]Identifier, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			h := sha3.New256()
			h.Write([]byte{merkleNodePrefix})
			h.Write(level[i][:])
			h.Write(level[i+1][:])
			next = append(next, HashToID(h.Sum(nil)))
		}
		level = next
	}
	return level[0]
}
