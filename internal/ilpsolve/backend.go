// Package ilpsolve abstracts over the MILP/PB solver used to resolve
// the residual assignment model the preprocessor could not fully
// determine. The enumeration loop in internal/enumerate talks only to
// the Backend interface; this indirection is what lets the program
// swap in a different solver without touching the model builder or
// the loop, resolving the "pluggable solver bindings" question left
// open by the original design.
package ilpsolve

import (
	"context"
	"time"

	"github.com/rawblock/joinmarket-unmix/internal/ilpmodel"
)

// Status is the outcome of a single Solve call.
type Status int

const (
	StatusOptimal Status = iota
	StatusInfeasible
	StatusTimeLimit
)

// Result carries a satisfying variable assignment, if any.
type Result struct {
	Status Status
	Values map[ilpmodel.VarID]bool
}

// Backend solves one residual model invocation within the given
// per-solve wall-clock budget. Implementations must respect ctx
// cancellation by returning promptly with ctx.Err().
type Backend interface {
	Solve(ctx context.Context, model *ilpmodel.Model, timeout time.Duration) (Result, error)
}
