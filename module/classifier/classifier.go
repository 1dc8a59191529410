// Package classifier maps an intent plus its arrival context to a
// protection decision: how much MEV risk the payload carries and which
// pipeline path it should take. Decisions are made per intent from
// thresholds and bounded sliding windows; the classifier holds no
// per-sender state.
//
// Scoring prefers an external model when one is configured. Model
// absence or failure degrades to a heuristic built from the gas-price
// percentile, the destination contract class and the destination's
// recent traffic shape. A classification request itself never fails.
package classifier

import (
	"context"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/rs/zerolog"

	"github.com/umbra-net/umbra-go/model/umbra"
)

// Thresholds is the decision policy configuration.
type Thresholds struct {
	// Low, Medium, High partition the risk score into the strategy
	// bands. Scores below Low bypass the pipeline entirely.
	Low    float64
	Medium float64
	High   float64
	// SplitMinValue is the transfer value in gwei above which a
	// medium-high risk intent is split into child commitments.
	SplitMinValue uint64
	// SplitChunks is the number of child intents a split produces.
	SplitChunks int
}

// DefaultThresholds mirror the recognized configuration defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Low:           0.25,
		Medium:        0.60,
		High:          0.85,
		SplitMinValue: 1_000_000_000, // 1 ETH
		SplitChunks:   4,
	}
}

// heuristic weights and anchors
const (
	gasWeight      = 0.45
	dexWeight      = 0.25
	velocityWeight = 0.20
	accelWeight    = 0.10

	// velocityRef is the arrival rate treated as fully saturated
	// traffic for one destination.
	velocityRef = 5.0
	// accelSpike marks a destination whose arrival rate is ramping
	// hard inside the window.
	accelSpike = 2.0
	// anomalyVelocity is a flood no organic destination reaches.
	anomalyVelocity = 50.0

	heuristicConfidence = 0.55
)

type Classifier struct {
	log        zerolog.Logger
	model      Model
	thresholds Thresholds
	dex        *DexRegistry
	windows    *destinationWindows
	gas        *gasWindow
}

type Option func(*Classifier)

// WithModel installs the external scoring model.
func WithModel(model Model) Option {
	return func(c *Classifier) {
		c.model = model
	}
}

// WithDexRegistry overrides the curated registry.
func WithDexRegistry(dex *DexRegistry) Option {
	return func(c *Classifier) {
		c.dex = dex
	}
}

// New builds a classifier with per-destination windows of windowSize
// samples across at most maxDestinations destinations.
func New(log zerolog.Logger, thresholds Thresholds, maxDestinations, windowSize int, opts ...Option) (*Classifier, error) {
	windows, err := newDestinationWindows(maxDestinations, windowSize)
	if err != nil {
		return nil, err
	}
	c := &Classifier{
		log:        log.With().Str("module", "classifier").Logger(),
		thresholds: thresholds,
		dex:        NewDexRegistry(),
		windows:    windows,
		gas:        newGasWindow(windowSize * 8),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Classify scores the intent arriving at ts into the given epoch and
// returns the protection decision. It never returns an error: model
// outages degrade to the heuristic path.
func (c *Classifier) Classify(ctx context.Context, intent *umbra.Intent, epoch *umbra.Epoch, ts time.Time) *umbra.Decision {
	fv := c.extract(intent, epoch, ts)

	score, attack, confidence := c.score(ctx, fv)
	strategy := c.strategy(score, fv)

	c.log.Debug().
		Float64("risk_score", score).
		Str("attack", attack.String()).
		Str("strategy", strategy.String()).
		Float64("confidence", confidence).
		Msg("intent classified")

	return &umbra.Decision{
		RiskScore:  score,
		AttackType: attack,
		Strategy:   strategy,
		Confidence: confidence,
	}
}

// SplitChunks returns the configured child count for split decisions.
func (c *Classifier) SplitChunks() int {
	return c.thresholds.SplitChunks
}

func (c *Classifier) score(ctx context.Context, fv *FeatureVector) (float64, umbra.AttackType, float64) {
	if c.model != nil {
		score, attack, confidence, err := c.model.Score(ctx, fv)
		if err == nil {
			fv.ModelScores = append(fv.ModelScores, score)
			return clamp01(score), attack, clamp01(confidence)
		}
		c.log.Warn().Err(err).Msg("model scoring failed, degrading to heuristic")
	}
	return c.heuristic(fv)
}

// heuristic scores without a model: gas-price percentile against the
// recent traffic, destination class, and traffic shape.
func (c *Classifier) heuristic(fv *FeatureVector) (float64, umbra.AttackType, float64) {
	gasPct := c.gasPercentile(fv)

	score := gasWeight * gasPct
	if fv.ContractClass == ContractClassDEX {
		score += dexWeight
	}
	score += velocityWeight * clamp01(fv.Velocity/velocityRef)
	if fv.Acceleration > 0 {
		score += accelWeight * clamp01(fv.Acceleration/accelSpike)
	}

	// an intent the heuristic cannot see into at all never takes the
	// public bypass
	if !fv.GasKnown && fv.ContractClass == ContractClassUnknown && score < c.thresholds.Low {
		score = c.thresholds.Low
	}

	attack := umbra.AttackNone
	switch {
	case fv.Velocity >= anomalyVelocity:
		attack = umbra.AttackAnomaly
	case fv.ContractClass == ContractClassDEX && fv.Acceleration >= accelSpike:
		attack = umbra.AttackSandwich
	case fv.ContractClass == ContractClassDEX && gasPct >= 0.9 && fv.TimeOfEpoch >= 0.85:
		attack = umbra.AttackBackrun
	case fv.ContractClass == ContractClassDEX && gasPct >= 0.9:
		attack = umbra.AttackFrontrun
	}

	confidence := heuristicConfidence
	if fv.ContractClass == ContractClassDEX {
		confidence += 0.15
	}
	return clamp01(score), attack, confidence
}

// gasPercentile estimates where the intent's gas price ranks within
// the recent window, anchored at the median and the 90th percentile.
// Unknown gas prices rank mid-window: the protection default, never
// the bypass.
func (c *Classifier) gasPercentile(fv *FeatureVector) float64 {
	if !fv.GasKnown {
		return 0.5
	}
	samples := c.gas.samples()
	if len(samples) < 8 {
		return 0.5
	}
	p50, err := stats.Median(samples)
	if err != nil {
		return 0.5
	}
	p90, err := stats.Percentile(samples, 90)
	if err != nil || p90 <= p50 {
		return 0.5
	}

	gas := float64(fv.GasPrice)
	switch {
	case gas >= p90:
		return 1.0
	case gas >= p50:
		return 0.5 + 0.5*(gas-p50)/(p90-p50)
	case p50 > 0:
		return 0.5 * gas / p50
	default:
		return 0.5
	}
}

// strategy applies the decision policy in order; the first match wins.
func (c *Classifier) strategy(score float64, fv *FeatureVector) umbra.Strategy {
	t := c.thresholds
	switch {
	case score < t.Low:
		return umbra.StrategyPublic
	case score < t.Medium:
		return umbra.StrategyPrivateBatch
	case score < t.High && fv.Value > t.SplitMinValue:
		return umbra.StrategyPrivateBatchSplit
	case score < t.High:
		return umbra.StrategyDelay
	default:
		return umbra.StrategyReject
	}
}
