package operation

import (
	"encoding/binary"
	"fmt"

	"github.com/umbra-net/umbra-go/model/umbra"
)

const (

	// codes for bookkeeping singletons
	codeLatestEpoch = 1

	// codes for epoch records, keyed by epoch counter
	codeEpochHeader = 10
	codeEpochStatus = 11

	// codes for per-epoch pipeline artifacts
	codeSealedIndex = 20 // epoch counter -> cid list in arrival order
	codeCommitment  = 21 // epoch counter + cid -> commitment
	codeCertificate = 22 // epoch counter -> ordering certificate
	codeOutcome     = 23 // cid -> commitment outcome

	// codes for lookups
	codeCommitEpoch = 30 // cid -> epoch counter

	// codes for committee configuration
	codeCommitteeView = 40 // view id -> committee view
)

func makePrefix(code byte, keys ...interface{}) []byte {
	prefix := make([]byte, 1)
	prefix[0] = code
	for _, key := range keys {
		prefix = append(prefix, b(key)...)
	}
	return prefix
}

func b(v interface{}) []byte {
	switch i := v.(type) {
	case umbra.Identifier:
		return i[:]
	case uint8:
		return []byte{i}
	case uint32:
		val := make([]byte, 4)
		binary.BigEndian.PutUint32(val, i)
		return val
	case uint64:
		val := make([]byte, 8)
		binary.BigEndian.PutUint64(val, i)
		return val
	case uint:
		val := make([]byte, 8)
		binary.BigEndian.PutUint64(val, uint64(i))
		return val
	case string:
		return []byte(i)
	case []byte:
		return i
	default:
		panic(fmt.Sprintf("unsupported type to convert (%T)", v))
	}
}
