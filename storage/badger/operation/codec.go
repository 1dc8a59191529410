package operation

import (
	"fmt"

	"github.com/golang/snappy"
	"github.com/vmihailenco/msgpack/v4"

	"github.com/umbra-net/umbra-go/module/irrecoverable"
)

// encodeEntity encodes the given entity using msgpack and compresses the
// value with Snappy.
// possible error to return is irrecoverable.exception
func encodeEntity(entity interface{}) ([]byte, error) {
	val, err := msgpack.Marshal(entity)
	if err != nil {
		return nil, irrecoverable.NewExceptionf("could not encode entity: %w", err)
	}
	return snappy.Encode(nil, val), nil
}

// decodeValue decodes the given value into the given entity using msgpack.
// possible error to return is irrecoverable.exception
func decodeValue(val []byte, entity interface{}) error {
	uncompressed, err := snappy.Decode(nil, val)
	if err != nil {
		return fmt.Errorf("could not uncompress data: %w", err)
	}
	err = msgpack.Unmarshal(uncompressed, entity)
	if err != nil {
		return irrecoverable.NewExceptionf("could not decode entity: %w", err)
	}
	return nil
}
