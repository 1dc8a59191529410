package operation

import (
	"errors"

	"github.com/dgraph-io/badger/v2"

	"github.com/umbra-net/umbra-go/storage"
)

// SkipDuplicates skips the operation if the data is already stored.
func SkipDuplicates(op func(*badger.Txn) error) func(tx *badger.Txn) error {
	return func(tx *badger.Txn) error {
		err := op(tx)
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil
		}
		return err
	}
}

// SkipNonExist skips the operation if the data does not exist.
func SkipNonExist(op func(*badger.Txn) error) func(tx *badger.Txn) error {
	return func(tx *badger.Txn) error {
		err := op(tx)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
}

// RetryOnConflict retries the transaction for as long as badger reports a
// serialization conflict.
func RetryOnConflict(action func(func(*badger.Txn) error) error, op func(tx *badger.Txn) error) error {
	for {
		err := action(op)
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		return err
	}
}
