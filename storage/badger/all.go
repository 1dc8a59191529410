package badger

import (
	"github.com/dgraph-io/badger/v2"

	"github.com/umbra-net/umbra-go/storage"
)

func InitAll(db *badger.DB) *storage.All {
	return &storage.All{
		Epochs:         NewEpochs(db),
		CommitteeViews: NewCommitteeViews(db),
		Commitments:    NewCommitments(db),
		Certificates:   NewCertificates(db),
		Outcomes:       NewOutcomes(db),
	}
}
