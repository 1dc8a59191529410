package classifier

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umbra-net/umbra-go/model/umbra"
	"github.com/umbra-net/umbra-go/utils/unittest"
)

var uniswapV2 = common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")

type stubModel struct {
	score      float64
	attack     umbra.AttackType
	confidence float64
	err        error
}

func (m *stubModel) Score(_ context.Context, _ *FeatureVector) (float64, umbra.AttackType, float64, error) {
	return m.score, m.attack, m.confidence, m.err
}

func newClassifier(t *testing.T, opts ...Option) *Classifier {
	c, err := New(zerolog.Nop(), DefaultThresholds(), 128, 16, opts...)
	require.NoError(t, err)
	return c
}

// legacyTxPayload builds a raw Ethereum transaction payload.
func legacyTxPayload(t *testing.T, to common.Address, gasPriceGwei, valueGwei int64) []byte {
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    1,
		To:       &to,
		Value:    new(big.Int).Mul(big.NewInt(valueGwei), big.NewInt(params.GWei)),
		Gas:      21000,
		GasPrice: new(big.Int).Mul(big.NewInt(gasPriceGwei), big.NewInt(params.GWei)),
	})
	payload, err := tx.MarshalBinary()
	require.NoError(t, err)
	return payload
}

func TestStrategyBands(t *testing.T) {
	epoch := unittest.EpochFixture(1)
	intent := unittest.IntentFixture()

	cases := []struct {
		score    float64
		value    uint64
		strategy umbra.Strategy
	}{
		{0.1, 0, umbra.StrategyPublic},
		{0.25, 0, umbra.StrategyPrivateBatch},
		{0.4, 0, umbra.StrategyPrivateBatch},
		{0.7, 0, umbra.StrategyDelay},
		{0.7, 2_000_000_000, umbra.StrategyPrivateBatchSplit},
		{0.85, 2_000_000_000, umbra.StrategyReject},
		{0.99, 0, umbra.StrategyReject},
	}
	for _, tc := range cases {
		model := &stubModel{score: tc.score, confidence: 0.9}
		c := newClassifier(t, WithModel(model))
		intent.Hints = &umbra.ClassifierHints{Value: tc.value}

		decision := c.Classify(context.Background(), intent, epoch, epoch.StartTS)
		assert.Equalf(t, tc.strategy, decision.Strategy, "score %v value %v", tc.score, tc.value)
		assert.Equal(t, tc.score, decision.RiskScore)
	}
}

func TestModelFailureDegradesToHeuristic(t *testing.T) {
	model := &stubModel{err: ErrModelUnavailable}
	c := newClassifier(t, WithModel(model))

	epoch := unittest.EpochFixture(1)
	decision := c.Classify(context.Background(), unittest.IntentFixture(), epoch, epoch.StartTS)

	// heuristic default for an opaque payload with no hints: protected
	require.NotNil(t, decision)
	assert.Equal(t, umbra.StrategyPrivateBatch, decision.Strategy)
	assert.InDelta(t, heuristicConfidence, decision.Confidence, 0.2)
}

func TestHeuristicTopGasToDEXIsFrontrun(t *testing.T) {
	c := newClassifier(t)
	epoch := unittest.EpochFixture(1, unittest.WithWindow(
		time.Now(), time.Now().Add(time.Minute),
	))

	// seed the gas window with ordinary traffic
	ts := epoch.StartTS
	for gwei := int64(10); gwei < 30; gwei++ {
		intent := unittest.IntentFixture(unittest.WithPayload(legacyTxPayload(t, uniswapV2, gwei, 100)))
		c.Classify(context.Background(), intent, epoch, ts)
		ts = ts.Add(time.Second)
	}

	// a bid far above the observed window, into a known DEX router
	intent := unittest.IntentFixture(unittest.WithPayload(legacyTxPayload(t, uniswapV2, 500, 100)))
	decision := c.Classify(context.Background(), intent, epoch, ts)

	assert.Equal(t, umbra.AttackFrontrun, decision.AttackType)
	assert.GreaterOrEqual(t, decision.RiskScore, 0.6)
	assert.NotEqual(t, umbra.StrategyPublic, decision.Strategy)
}

func TestHeuristicFloodIsAnomaly(t *testing.T) {
	c := newClassifier(t)
	epoch := unittest.EpochFixture(1, unittest.WithWindow(
		time.Now(), time.Now().Add(time.Minute),
	))

	dest := unittest.RandomBytes(20)
	ts := epoch.StartTS
	var decision *umbra.Decision
	for i := 0; i < 16; i++ {
		intent := unittest.IntentFixture()
		intent.Hints = &umbra.ClassifierHints{To: dest}
		decision = c.Classify(context.Background(), intent, epoch, ts)
		ts = ts.Add(5 * time.Millisecond)
	}
	assert.Equal(t, umbra.AttackAnomaly, decision.AttackType)
}

func TestExtractEVMPayload(t *testing.T) {
	c := newClassifier(t)
	epoch := unittest.EpochFixture(1, unittest.WithWindow(
		time.Now(), time.Now().Add(time.Minute),
	))

	intent := unittest.IntentFixture(unittest.WithPayload(legacyTxPayload(t, uniswapV2, 42, 1234)))
	mid := epoch.StartTS.Add(30 * time.Second)
	fv := c.extract(intent, epoch, mid)

	assert.True(t, fv.GasKnown)
	assert.EqualValues(t, 42, fv.GasPrice)
	assert.EqualValues(t, 1234, fv.Value)
	assert.Equal(t, ContractClassDEX, fv.ContractClass)
	assert.InDelta(t, 0.5, fv.TimeOfEpoch, 0.01)
}

func TestExtractFallsBackToHints(t *testing.T) {
	c := newClassifier(t)
	epoch := unittest.EpochFixture(1)

	t.Run("plausible hints are used", func(t *testing.T) {
		intent := unittest.IntentFixture() // random payload, not an EVM tx
		intent.Hints = &umbra.ClassifierHints{GasPrice: 55, Value: 777, To: uniswapV2.Bytes()}
		fv := c.extract(intent, epoch, epoch.StartTS)
		assert.True(t, fv.GasKnown)
		assert.EqualValues(t, 55, fv.GasPrice)
		assert.EqualValues(t, 777, fv.Value)
		assert.Equal(t, ContractClassDEX, fv.ContractClass)
	})

	t.Run("implausible gas hint is discarded", func(t *testing.T) {
		intent := unittest.IntentFixture()
		intent.Hints = &umbra.ClassifierHints{GasPrice: maxPlausibleGasGwei + 1}
		fv := c.extract(intent, epoch, epoch.StartTS)
		assert.False(t, fv.GasKnown)
	})

	t.Run("no hints yields conservative defaults", func(t *testing.T) {
		intent := unittest.IntentFixture()
		fv := c.extract(intent, epoch, epoch.StartTS)
		assert.False(t, fv.GasKnown)
		assert.Equal(t, ContractClassUnknown, fv.ContractClass)
	})
}

func TestDexRegistry(t *testing.T) {
	registry := NewDexRegistry()
	assert.Equal(t, ContractClassDEX, registry.Class(uniswapV2.Bytes()))
	assert.Equal(t, ContractClassUnknown, registry.Class(unittest.RandomBytes(20)))
	assert.Equal(t, ContractClassUnknown, registry.Class(nil))

	custom := unittest.RandomBytes(20)
	registry.Register(custom, ContractClassDEX)
	assert.Equal(t, ContractClassDEX, registry.Class(custom))
}

func TestModelTransientError(t *testing.T) {
	model := &stubModel{err: errors.New("connection refused")}
	c := newClassifier(t, WithModel(model))
	epoch := unittest.EpochFixture(1)

	// transient model errors must not surface to the caller
	decision := c.Classify(context.Background(), unittest.IntentFixture(), epoch, epoch.StartTS)
	require.NotNil(t, decision)
}
