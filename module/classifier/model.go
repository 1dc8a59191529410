package classifier

import (
	"context"
	"errors"

	"github.com/umbra-net/umbra-go/model/umbra"
)

// ErrModelUnavailable is returned by Model implementations that cannot
// currently score. The classifier degrades to its heuristic path; the
// request never fails on a model outage.
var ErrModelUnavailable = errors.New("scoring model unavailable")

// Model is an external scorer for feature vectors, typically a
// learned MEV pattern detector running out of process.
type Model interface {
	// Score returns the risk score in [0,1], the suspected attack
	// pattern, and the model's confidence in [0,1].
	Score(ctx context.Context, fv *FeatureVector) (score float64, attack umbra.AttackType, confidence float64, err error)
}
