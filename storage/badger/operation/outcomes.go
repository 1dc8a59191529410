package operation

import (
	"github.com/dgraph-io/badger/v2"

	"github.com/umbra-net/umbra-go/model/umbra"
)

// UpsertOutcome stores the outcome for a commitment, overwriting any
// previous record. Outcomes legitimately change once: from a
// provisional EXPIRED to the final terminal state reached on recovery.
func UpsertOutcome(outcome *umbra.CommitOutcome) func(*badger.Txn) error {
	return upsert(makePrefix(codeOutcome, outcome.CommitID), outcome)
}

func RetrieveOutcome(cid umbra.Identifier, outcome *umbra.CommitOutcome) func(*badger.Txn) error {
	return retrieve(makePrefix(codeOutcome, cid), outcome)
}
