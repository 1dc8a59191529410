package umbra

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"

	"github.com/umbra-net/umbra-go/model/encoding"
)

// Identifier represents a 32-byte unique identifier for an entity.
type Identifier [32]byte

// IdentifierLen is the length of an Identifier in bytes.
const IdentifierLen = 32

// ZeroID is the lowest value in the 32-byte ID space.
var ZeroID = Identifier{}

// HexStringToIdentifier converts a hex string to an identifier. The input
// must be 64 characters long and contain only valid hex characters.
func HexStringToIdentifier(hexString string) (Identifier, error) {
	var identifier Identifier
	i, err := hex.Decode(identifier[:], []byte(hexString))
	if err != nil {
		return identifier, err
	}
	if i != IdentifierLen {
		return identifier, fmt.Errorf("malformed input, expected %d bytes (%d characters), decoded %d", IdentifierLen, IdentifierLen*2, i)
	}
	return identifier, nil
}

// String returns the hex string representation of the identifier.
func (id Identifier) String() string {
	return hex.EncodeToString(id[:])
}

func (id Identifier) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *Identifier) UnmarshalText(text []byte) error {
	var err error
	*id, err = HexStringToIdentifier(string(text))
	return err
}

// HashToID returns the identifier corresponding to the given hash, which
// must be at least 32 bytes long.
func HashToID(hash []byte) Identifier {
	var id Identifier
	copy(id[:], hash)
	return id
}

// MakeID creates an ID from a hash of encoded data. MakeID uses the
// canonical encoding, which is guaranteed to produce the same bytes for
// the same entity on every node, then hashes with SHA3-256.
func MakeID(entity interface{}) Identifier {
	data := encoding.DefaultEncoder.MustEncode(entity)
	return MakeIDFromData(data)
}

// MakeIDFromData hashes raw bytes into an identifier.
func MakeIDFromData(data []byte) Identifier {
	sum := sha3.Sum256(data)
	return HashToID(sum[:])
}

// CompareIdentifiers provides a total order over identifiers,
// lexicographic on the raw bytes.
func CompareIdentifiers(a, b Identifier) int {
	return bytes.Compare(a[:], b[:])
}

// IdentifierList defines a sortable list of identifiers.
type IdentifierList []Identifier

// Contains returns whether this identifier list contains the target.
func (il IdentifierList) Contains(target Identifier) bool {
	for _, id := range il {
		if id == target {
			return true
		}
	}
	return false
}

// Copy returns a copy of the receiver.
func (il IdentifierList) Copy() IdentifierList {
	dup := make(IdentifierList, len(il))
	copy(dup, il)
	return dup
}

// Lookup returns a set representation of the list, for O(1) membership
// checks.
func (il IdentifierList) Lookup() map[Identifier]struct{} {
	set := make(map[Identifier]struct{}, len(il))
	for _, id := range il {
		set[id] = struct{}{}
	}
	return set
}

// Strings converts the list to a list of hex strings.
func (il IdentifierList) Strings() []string {
	var list []string
	for _, id := range il {
		list = append(list, id.String())
	}
	return list
}
