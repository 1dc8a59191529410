package operation

import (
	"github.com/dgraph-io/badger/v2"

	"github.com/umbra-net/umbra-go/model/umbra"
)

func InsertCertificate(cert *umbra.OrderingCertificate) func(*badger.Txn) error {
	return insert(makePrefix(codeCertificate, cert.EpochID), cert)
}

func RetrieveCertificate(epochID uint64, cert *umbra.OrderingCertificate) func(*badger.Txn) error {
	return retrieve(makePrefix(codeCertificate, epochID), cert)
}
