package cbor

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Encoder is a CBOR encoder/decoder in canonical (deterministic) mode.
// Canonical encoding is required wherever encoded bytes feed a content
// hash, so that two nodes encoding the same value always derive the
// same identifier.
type Encoder struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func NewEncoder() *Encoder {
	encOpts := cbor.CanonicalEncOptions()
	enc, err := encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("could not initialize cbor encoder: %s", err))
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("could not initialize cbor decoder: %s", err))
	}
	return &Encoder{enc: enc, dec: dec}
}

func (e *Encoder) Encode(val interface{}) ([]byte, error) {
	return e.enc.Marshal(val)
}

func (e *Encoder) Decode(data []byte, val interface{}) error {
	return e.dec.Unmarshal(data, val)
}

func (e *Encoder) MustEncode(val interface{}) []byte {
	data, err := e.Encode(val)
	if err != nil {
		panic(err)
	}
	return data
}

func (e *Encoder) MustDecode(data []byte, val interface{}) {
	err := e.Decode(data, val)
	if err != nil {
		panic(err)
	}
}
