package operation

import (
	"github.com/dgraph-io/badger/v2"

	"github.com/umbra-net/umbra-go/model/umbra"
)

func InsertEpoch(epoch *umbra.Epoch) func(*badger.Txn) error {
	return insert(makePrefix(codeEpochHeader, epoch.ID), epoch)
}

func RetrieveEpoch(epochID uint64, epoch *umbra.Epoch) func(*badger.Txn) error {
	return retrieve(makePrefix(codeEpochHeader, epochID), epoch)
}

func InsertEpochStatus(status *umbra.EpochStatus) func(*badger.Txn) error {
	return insert(makePrefix(codeEpochStatus, status.EpochID), status)
}

func UpdateEpochStatus(status *umbra.EpochStatus) func(*badger.Txn) error {
	return update(makePrefix(codeEpochStatus, status.EpochID), status)
}

func RetrieveEpochStatus(epochID uint64, status *umbra.EpochStatus) func(*badger.Txn) error {
	return retrieve(makePrefix(codeEpochStatus, epochID), status)
}

// TraverseEpochStatuses iterates all persisted epoch statuses in ascending
// epoch order and invokes handle for each.
func TraverseEpochStatuses(handle func(*umbra.EpochStatus) error) func(*badger.Txn) error {
	return traverse(makePrefix(codeEpochStatus), func() (checkFunc, createFunc, handleFunc) {
		check := func(key []byte) bool {
			return true
		}
		var status umbra.EpochStatus
		create := func() interface{} {
			return &status
		}
		handleStatus := func() error {
			return handle(&status)
		}
		return check, create, handleStatus
	})
}

func InsertLatestEpoch(epochID uint64) func(*badger.Txn) error {
	return insert(makePrefix(codeLatestEpoch), epochID)
}

func UpdateLatestEpoch(epochID uint64) func(*badger.Txn) error {
	return update(makePrefix(codeLatestEpoch), epochID)
}

func RetrieveLatestEpoch(epochID *uint64) func(*badger.Txn) error {
	return retrieve(makePrefix(codeLatestEpoch), epochID)
}
