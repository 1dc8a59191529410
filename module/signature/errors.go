package signature

import (
	"errors"
)

var (
	ErrInvalidSignerIdx   = errors.New("signer index outside the committee")
	ErrInsufficientShares = errors.New("insufficient threshold signature shares")
	ErrDuplicatedSigner   = errors.New("duplicated signer")
)
