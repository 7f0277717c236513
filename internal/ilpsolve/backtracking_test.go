package ilpsolve

import (
	"context"
	"testing"
	"time"

	"github.com/rawblock/joinmarket-unmix/internal/ilpmodel"
)

func TestBacktrackingBackend_EmptyModel(t *testing.T) {
	b := &BacktrackingBackend{}
	model := &ilpmodel.Model{}

	res, err := b.Solve(context.Background(), model, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusOptimal {
		t.Fatalf("expected StatusOptimal for an empty model, got %v", res.Status)
	}
}

// Two variables, exactly one must be true: a minimal partition constraint.
func TestBacktrackingBackend_SimplePartition(t *testing.T) {
	model := &ilpmodel.Model{
		NumVars: 2,
		Constraints: []ilpmodel.Constraint{
			{
				Terms: []ilpmodel.Term{{Var: 0, Coeff: 1}, {Var: 1, Coeff: 1}},
				Op:    ilpmodel.OpEQ,
				RHS:   1,
			},
		},
	}

	b := &BacktrackingBackend{}
	res, err := b.Solve(context.Background(), model, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusOptimal {
		t.Fatalf("expected StatusOptimal, got %v", res.Status)
	}
	trueCount := 0
	for _, v := range res.Values {
		if v {
			trueCount++
		}
	}
	if trueCount != 1 {
		t.Errorf("expected exactly one true variable, got %d", trueCount)
	}
}

func TestBacktrackingBackend_Infeasible(t *testing.T) {
	model := &ilpmodel.Model{
		NumVars: 1,
		Constraints: []ilpmodel.Constraint{
			{Terms: []ilpmodel.Term{{Var: 0, Coeff: 1}}, Op: ilpmodel.OpEQ, RHS: 1},
			{Terms: []ilpmodel.Term{{Var: 0, Coeff: 1}}, Op: ilpmodel.OpEQ, RHS: 0},
		},
	}

	b := &BacktrackingBackend{}
	res, err := b.Solve(context.Background(), model, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusInfeasible {
		t.Fatalf("expected StatusInfeasible, got %v", res.Status)
	}
}

func TestBacktrackingBackend_RefusesOversizedModel(t *testing.T) {
	b := &BacktrackingBackend{MaxVars: 4}
	model := &ilpmodel.Model{NumVars: 5}

	if _, err := b.Solve(context.Background(), model, time.Second); err == nil {
		t.Fatalf("expected an error for a model over the variable ceiling")
	}
}
