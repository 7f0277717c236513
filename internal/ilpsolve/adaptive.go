package ilpsolve

import (
	"context"
	"time"

	"github.com/rawblock/joinmarket-unmix/internal/ilpmodel"
)

// Adaptive routes small residual models to BacktrackingBackend and
// everything else to GophersatBackend, so callers never have to decide
// which solver an arbitrary transaction's residual model deserves.
type Adaptive struct {
	Backtracking BacktrackingBackend
	Gophersat    GophersatBackend
	Threshold    int // residual variable count at or below which Backtracking is used
}

// NewAdaptive returns an Adaptive backend with DefaultMaxVars as the threshold.
func NewAdaptive() *Adaptive {
	return &Adaptive{Threshold: DefaultMaxVars}
}

// Solve implements Backend.
func (a *Adaptive) Solve(ctx context.Context, model *ilpmodel.Model, timeout time.Duration) (Result, error) {
	threshold := a.Threshold
	if threshold <= 0 {
		threshold = DefaultMaxVars
	}
	if model.NumVars <= threshold {
		return a.Backtracking.Solve(ctx, model, timeout)
	}
	return a.Gophersat.Solve(ctx, model, timeout)
}
