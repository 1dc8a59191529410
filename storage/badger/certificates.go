package badger

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v2"

	"github.com/umbra-net/umbra-go/model/umbra"
	"github.com/umbra-net/umbra-go/storage"
	"github.com/umbra-net/umbra-go/storage/badger/operation"
)

// Certificates implements persistence for ordering certificates, backed
// by badger. At most one certificate is ever stored per epoch.
type Certificates struct {
	db *badger.DB
}

var _ storage.Certificates = (*Certificates)(nil)

func NewCertificates(db *badger.DB) *Certificates {
	return &Certificates{db: db}
}

// Store persists the certificate for its epoch. Re-storing the identical
// certificate is a no-op. A different certificate for the same epoch
// returns storage.ErrDataMismatch; the caller must treat that as a
// safety violation and halt.
func (c *Certificates) Store(cert *umbra.OrderingCertificate) error {
	return operation.RetryOnConflict(c.db.Update, func(tx *badger.Txn) error {
		var stored umbra.OrderingCertificate
		err := operation.RetrieveCertificate(cert.EpochID, &stored)(tx)
		if errors.Is(err, storage.ErrNotFound) {
			return operation.InsertCertificate(cert)(tx)
		}
		if err != nil {
			return fmt.Errorf("could not check stored certificate: %w", err)
		}
		if stored.ID() != cert.ID() {
			return fmt.Errorf("conflicting certificate for epoch %d: %w", cert.EpochID, storage.ErrDataMismatch)
		}
		return nil
	})
}

func (c *Certificates) ByEpoch(epochID uint64) (*umbra.OrderingCertificate, error) {
	var cert umbra.OrderingCertificate
	err := c.db.View(operation.RetrieveCertificate(epochID, &cert))
	if err != nil {
		return nil, fmt.Errorf("could not retrieve certificate for epoch %d: %w", epochID, err)
	}
	return &cert, nil
}
