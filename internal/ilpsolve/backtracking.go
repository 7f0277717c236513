package ilpsolve

import (
	"context"
	"fmt"
	"time"

	"github.com/rawblock/joinmarket-unmix/internal/ilpmodel"
)

// DefaultMaxVars bounds the residual variable count the backtracking
// backend will attempt. Above this, exhaustive search is no longer a
// reasonable default and the caller should be using GophersatBackend.
const DefaultMaxVars = 24

// BacktrackingBackend is a depth-first, constraint-pruned search over
// the residual boolean variable space, grounded on the reference
// recursive partition search (same shape as countValidPartitions):
// assign one variable at a time, reject a partial assignment the
// moment any fully-determined constraint is violated, backtrack
// otherwise. It exists as the small-instance reference backend --
// most transactions leave only a handful of residual variables after
// the preprocessor runs.
type BacktrackingBackend struct {
	// MaxVars overrides DefaultMaxVars; zero means use the default.
	MaxVars int
}

func (b *BacktrackingBackend) maxVars() int {
	if b.MaxVars > 0 {
		return b.MaxVars
	}
	return DefaultMaxVars
}

// Solve implements Backend.
func (b *BacktrackingBackend) Solve(ctx context.Context, model *ilpmodel.Model, timeout time.Duration) (Result, error) {
	if model.NumVars == 0 {
		return Result{Status: StatusOptimal, Values: map[ilpmodel.VarID]bool{}}, nil
	}
	if model.NumVars > b.maxVars() {
		return Result{}, fmt.Errorf("backtracking backend: %d residual variables exceeds limit %d", model.NumVars, b.maxVars())
	}

	deadline := time.Now().Add(timeout)
	values := make([]int8, model.NumVars)
	for i := range values {
		values[i] = -1
	}

	timedOut := false
	var search func(idx int) bool
	search = func(idx int) bool {
		if ctx.Err() != nil || time.Now().After(deadline) {
			timedOut = true
			return false
		}
		if idx == model.NumVars {
			return satisfies(model.Constraints, values)
		}
		for _, v := range [2]int8{0, 1} {
			values[idx] = v
			if partiallyConsistent(model.Constraints, values, idx) && search(idx+1) {
				return true
			}
		}
		values[idx] = -1
		return false
	}

	if !search(0) {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		if timedOut {
			return Result{Status: StatusTimeLimit}, nil
		}
		return Result{Status: StatusInfeasible}, nil
	}

	out := make(map[ilpmodel.VarID]bool, model.NumVars)
	for i, v := range values {
		out[ilpmodel.VarID(i)] = v == 1
	}
	return Result{Status: StatusOptimal, Values: out}, nil
}

func evalTerms(terms []ilpmodel.Term, values []int8) int64 {
	var sum int64
	for _, t := range terms {
		if values[t.Var] == 1 {
			sum += t.Coeff
		}
	}
	return sum
}

func checkConstraint(c ilpmodel.Constraint, values []int8) bool {
	sum := evalTerms(c.Terms, values)
	switch c.Op {
	case ilpmodel.OpEQ:
		return sum == c.RHS
	case ilpmodel.OpLE:
		return sum <= c.RHS
	case ilpmodel.OpGE:
		return sum >= c.RHS
	default:
		return false
	}
}

func satisfies(constraints []ilpmodel.Constraint, values []int8) bool {
	for _, c := range constraints {
		if !checkConstraint(c, values) {
			return false
		}
	}
	return true
}

// partiallyConsistent checks only the constraints whose every term is
// already assigned (var index <= idx); everything else is deferred.
func partiallyConsistent(constraints []ilpmodel.Constraint, values []int8, idx int) bool {
	for _, c := range constraints {
		allSet := true
		for _, t := range c.Terms {
			if int(t.Var) > idx {
				allSet = false
				break
			}
		}
		if !allSet {
			continue
		}
		if !checkConstraint(c, values) {
			return false
		}
	}
	return true
}
