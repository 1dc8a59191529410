package umbra

import "fmt"

// Strategy is the routing verdict the risk classifier assigns to an
// intent at admission.
type Strategy uint8

const (
	// StrategyPublic bypasses protection: the payload goes straight to
	// the downstream relay without commit/reveal.
	StrategyPublic Strategy = iota + 1
	// StrategyPrivateBatch routes through the standard protected path.
	StrategyPrivateBatch
	// StrategyPrivateBatchSplit shards a large intent into chunk
	// commitments that travel the protected path independently.
	StrategyPrivateBatchSplit
	// StrategyDelay defers admission to the next epoch.
	StrategyDelay
	// StrategyReject refuses the intent outright.
	StrategyReject
)

func (s Strategy) String() string {
	switch s {
	case StrategyPublic:
		return "PUBLIC"
	case StrategyPrivateBatch:
		return "PRIVATE_BATCH"
	case StrategyPrivateBatchSplit:
		return "PRIVATE_BATCH_SPLIT"
	case StrategyDelay:
		return "DELAY"
	case StrategyReject:
		return "REJECT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
	}
}

// AttackType labels the extraction pattern the classifier believes an
// intent is exposed to (or participating in).
type AttackType uint8

const (
	AttackNone AttackType = iota
	AttackSandwich
	AttackFrontrun
	AttackBackrun
	AttackAnomaly
)

func (a AttackType) String() string {
	switch a {
	case AttackNone:
		return "NONE"
	case AttackSandwich:
		return "SANDWICH"
	case AttackFrontrun:
		return "FRONTRUN"
	case AttackBackrun:
		return "BACKRUN"
	case AttackAnomaly:
		return "ANOMALY"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(a))
	}
}

// Decision is the classifier verdict attached to an admission receipt.
type Decision struct {
	// RiskScore is in [0, 1].
	RiskScore float64
	// AttackType is the dominant predicted extraction pattern.
	AttackType AttackType
	// Strategy is the routing decision derived from the score.
	Strategy Strategy
	// Confidence is in [0, 1]. Heuristic-only decisions carry reduced
	// confidence.
	Confidence float64
}
