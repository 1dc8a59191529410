package operation

import (
	"github.com/dgraph-io/badger/v2"

	"github.com/umbra-net/umbra-go/model/umbra"
)

// InsertSealedIndex stores the frozen cid list of a sealed epoch, in
// arrival order.
func InsertSealedIndex(epochID uint64, cids umbra.IdentifierList) func(*badger.Txn) error {
	return insert(makePrefix(codeSealedIndex, epochID), cids)
}

func RetrieveSealedIndex(epochID uint64, cids *umbra.IdentifierList) func(*badger.Txn) error {
	return retrieve(makePrefix(codeSealedIndex, epochID), cids)
}

func InsertCommitment(epochID uint64, commitment *umbra.Commitment) func(*badger.Txn) error {
	return insert(makePrefix(codeCommitment, epochID, commitment.ID()), commitment)
}

func RetrieveCommitment(epochID uint64, cid umbra.Identifier, commitment *umbra.Commitment) func(*badger.Txn) error {
	return retrieve(makePrefix(codeCommitment, epochID, cid), commitment)
}

// IndexCommitmentEpoch maps a cid to the epoch whose sealed set contains
// it, so commitments can be located by cid alone.
func IndexCommitmentEpoch(cid umbra.Identifier, epochID uint64) func(*badger.Txn) error {
	return insert(makePrefix(codeCommitEpoch, cid), epochID)
}

func LookupCommitmentEpoch(cid umbra.Identifier, epochID *uint64) func(*badger.Txn) error {
	return retrieve(makePrefix(codeCommitEpoch, cid), epochID)
}
