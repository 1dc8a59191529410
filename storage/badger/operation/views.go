package operation

import (
	"github.com/dgraph-io/badger/v2"

	"github.com/umbra-net/umbra-go/model/umbra"
)

func InsertCommitteeView(view *umbra.CommitteeView) func(*badger.Txn) error {
	return insert(makePrefix(codeCommitteeView, view.ID()), view)
}

func RetrieveCommitteeView(viewID umbra.Identifier, view *umbra.CommitteeView) func(*badger.Txn) error {
	return retrieve(makePrefix(codeCommitteeView, viewID), view)
}
