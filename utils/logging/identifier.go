package logging

import (
	"encoding/hex"

	"github.com/umbra-net/umbra-go/model/umbra"
)

func Entity(entity umbra.Entity) []byte {
	id := entity.ID()
	return id[:]
}

func ID(id umbra.Identifier) []byte {
	return id[:]
}

func IDs(ids []umbra.Identifier) []string {
	ss := make([]string, 0, len(ids))
	for _, id := range ids {
		ss = append(ss, hex.EncodeToString(id[:]))
	}
	return ss
}
