package classifier

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"

	"github.com/umbra-net/umbra-go/model/umbra"
)

// gas price hints above this are treated as implausible and discarded
const maxPlausibleGasGwei = 1_000_000

// FeatureVector is the classifier's view of one intent at arrival.
type FeatureVector struct {
	// GasPrice in gwei. Meaningful only when GasKnown.
	GasPrice uint64
	GasKnown bool
	// Value transferred in gwei.
	Value uint64
	// TimeOfEpoch is the fraction of the epoch window elapsed at
	// arrival, in [0,1].
	TimeOfEpoch float64
	// ContractClass of the destination.
	ContractClass ContractClass
	// Velocity is the destination's recent arrival rate in intents
	// per second; Acceleration its change across the window.
	Velocity     float64
	Acceleration float64
	// ModelScores carries the external model's raw outputs when a
	// model scored this vector.
	ModelScores []float64
}

// evmFields are the classification inputs recovered from a raw
// Ethereum transaction payload.
type evmFields struct {
	gasPrice uint64
	value    uint64
	to       []byte
}

// decodeEVMPayload attempts to read the payload as a canonical
// Ethereum transaction. Payloads for other chains simply fail the
// decode and classification proceeds on hints.
func decodeEVMPayload(payload []byte) (*evmFields, bool) {
	if len(payload) == 0 {
		return nil, false
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(payload); err != nil {
		return nil, false
	}
	fields := &evmFields{
		gasPrice: weiToGwei(tx.GasPrice()),
		value:    weiToGwei(tx.Value()),
	}
	if to := tx.To(); to != nil {
		fields.to = to.Bytes()
	}
	return fields, true
}

func weiToGwei(wei *big.Int) uint64 {
	if wei == nil {
		return 0
	}
	gwei := new(big.Int).Div(wei, big.NewInt(params.GWei))
	if !gwei.IsUint64() {
		return ^uint64(0)
	}
	return gwei.Uint64()
}

// extract builds the feature vector for an intent arriving at ts into
// the given epoch, updating the sliding windows as a side effect. The
// payload is authoritative when it decodes as an EVM transaction;
// otherwise sender hints fill in, and whatever remains unknown takes
// the conservative default for that feature.
func (c *Classifier) extract(intent *umbra.Intent, epoch *umbra.Epoch, ts time.Time) *FeatureVector {
	fv := &FeatureVector{}

	var dest []byte
	if fields, ok := decodeEVMPayload(intent.Payload); ok {
		fv.GasPrice = fields.gasPrice
		fv.GasKnown = true
		fv.Value = fields.value
		dest = fields.to
	} else if hints := intent.Hints; hints != nil {
		if hints.GasPrice > 0 && hints.GasPrice <= maxPlausibleGasGwei {
			fv.GasPrice = hints.GasPrice
			fv.GasKnown = true
		}
		fv.Value = hints.Value
		if len(hints.To) == 20 {
			dest = hints.To
		}
	}

	fv.ContractClass = c.dex.Class(dest)

	window := epoch.EndTS.Sub(epoch.StartTS)
	if window > 0 {
		frac := float64(ts.Sub(epoch.StartTS)) / float64(window)
		fv.TimeOfEpoch = clamp01(frac)
	}

	if len(dest) > 0 {
		fv.Velocity, fv.Acceleration = c.windows.observe(string(dest), ts)
	}
	if fv.GasKnown {
		c.gas.observe(float64(fv.GasPrice))
	}
	return fv
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
