package enumerate

import (
	"context"
	"errors"
	"testing"

	"github.com/rawblock/joinmarket-unmix/internal/config"
	"github.com/rawblock/joinmarket-unmix/internal/errs"
	"github.com/rawblock/joinmarket-unmix/internal/ilpsolve"
	"github.com/rawblock/joinmarket-unmix/internal/solution"
	"github.com/rawblock/joinmarket-unmix/internal/txmodel"
)

func TestRun_FullyDeterministic_OneSolutionNoSolverCall(t *testing.T) {
	inputs := []txmodel.Amount{1_000_050, 1_000_100, 1_002_000}
	outputs := []txmodel.Amount{1_000_000, 1_000_000, 1_000_000, 50, 100}

	tx, err := txmodel.New("deterministic", inputs, outputs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg := config.Default()
	var emitted int
	sols, err := Run(context.Background(), tx, cfg, &ilpsolve.BacktrackingBackend{}, func(_ solution.Solution) {
		emitted++
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sols) != 1 {
		t.Fatalf("expected exactly 1 solution, got %d", len(sols))
	}
	if emitted != 1 {
		t.Errorf("expected sink invoked exactly once, got %d", emitted)
	}
}

func TestRun_AmbiguousTransaction_MultipleDistinctSolutions(t *testing.T) {
	inputs := []txmodel.Amount{1_000_010, 1_000_020, 1_002_000}
	outputs := []txmodel.Amount{1_000_000, 1_000_000, 1_000_000, 10, 20}

	tx, err := txmodel.New("ambiguous", inputs, outputs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg := config.Default()
	sols, err := Run(context.Background(), tx, cfg, &ilpsolve.BacktrackingBackend{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sols) == 0 {
		t.Fatalf("expected at least one solution")
	}

	seen := make(map[string]bool)
	for _, s := range sols {
		sig := signature(s)
		if seen[sig] {
			t.Fatalf("duplicate signature emitted: %s", sig)
		}
		seen[sig] = true
		if err := s.Validate(tx.NumInputs(), tx.NumChange()); err != nil {
			t.Errorf("invalid solution emitted: %v", err)
		}
	}
}

func TestRun_MaxSolutionsCap(t *testing.T) {
	inputs := []txmodel.Amount{1_000_010, 1_000_020, 1_002_000}
	outputs := []txmodel.Amount{1_000_000, 1_000_000, 1_000_000, 10, 20}

	tx, err := txmodel.New("ambiguous", inputs, outputs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg := config.Default()
	cfg.MaxSolutions = 1
	sols, err := Run(context.Background(), tx, cfg, &ilpsolve.BacktrackingBackend{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sols) != 1 {
		t.Fatalf("expected exactly 1 solution under the cap, got %d", len(sols))
	}
}

// TestRun_TakerAmbiguity_TwoSymmetricRoleAssignments covers a
// transaction where two equally-sized inputs are each individually
// admissible as the taker and neither the greedy preprocessor nor
// symmetry breaking can collapse them: they differ only in which
// participant is the taker.
func TestRun_TakerAmbiguity_TwoSymmetricRoleAssignments(t *testing.T) {
	inputs := []txmodel.Amount{1_000_600, 1_000_600}
	outputs := []txmodel.Amount{1_000_000, 1_000_000, 600}

	tx, err := txmodel.New("taker-ambiguous", inputs, outputs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg := config.Default()
	sols, err := Run(context.Background(), tx, cfg, &ilpsolve.BacktrackingBackend{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sols) != 2 {
		t.Fatalf("expected exactly 2 solutions, got %d", len(sols))
	}

	takerIndices := make(map[int]bool)
	for _, s := range sols {
		if err := s.Validate(tx.NumInputs(), tx.NumChange()); err != nil {
			t.Errorf("invalid solution emitted: %v", err)
		}
		takerIndices[s.TakerIndex] = true
	}
	if len(takerIndices) != 2 {
		t.Fatalf("expected the two solutions to disagree on the taker index, got %v", takerIndices)
	}
}

// TestRun_InfeasibleUnderTightMaxFeeRel covers a transaction whose true
// required fee transfer exceeds a deliberately tightened MaxFeeRel, so
// every candidate decomposition violates a fee-bound constraint and the
// loop reports infeasibility rather than returning no solutions silently.
func TestRun_InfeasibleUnderTightMaxFeeRel(t *testing.T) {
	inputs := []txmodel.Amount{1_000_880, 1_000_030}
	outputs := []txmodel.Amount{1_000_000, 1_000_000, 900}

	tx, err := txmodel.New("tight-fee", inputs, outputs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg := config.Default()
	cfg.MaxFeeRel = 0.000005 // every candidate taker fee (30 or 880 sats) exceeds this bound

	sols, err := Run(context.Background(), tx, cfg, &ilpsolve.BacktrackingBackend{}, nil)
	if len(sols) != 0 {
		t.Fatalf("expected zero solutions, got %d", len(sols))
	}
	var e *errs.Error
	if !errors.As(err, &e) || e.Kind != errs.KindInfeasible {
		t.Fatalf("expected a KindInfeasible error, got %v", err)
	}
}

// TestRun_CancellationMidRun_PreservesPartialResults covers cancelling
// the context after the first solution has been emitted: the loop must
// stop promptly, report KindCancelled, and still return the solution
// the sink already observed rather than discarding it.
func TestRun_CancellationMidRun_PreservesPartialResults(t *testing.T) {
	inputs := []txmodel.Amount{1_000_010, 1_000_020, 1_002_000}
	outputs := []txmodel.Amount{1_000_000, 1_000_000, 1_000_000, 10, 20}

	tx, err := txmodel.New("ambiguous", inputs, outputs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cfg := config.Default()

	var emitted []solution.Solution
	sols, err := Run(ctx, tx, cfg, &ilpsolve.BacktrackingBackend{}, func(s solution.Solution) {
		emitted = append(emitted, s)
		cancel()
	})

	var e *errs.Error
	if !errors.As(err, &e) || e.Kind != errs.KindCancelled {
		t.Fatalf("expected a KindCancelled error, got %v", err)
	}
	if len(emitted) != 1 {
		t.Fatalf("expected the sink to have observed exactly 1 solution before cancellation, got %d", len(emitted))
	}
	if len(sols) != 1 {
		t.Fatalf("expected Run to preserve the 1 solution found before cancellation, got %d", len(sols))
	}
	if err := sols[0].Validate(tx.NumInputs(), tx.NumChange()); err != nil {
		t.Errorf("invalid solution preserved across cancellation: %v", err)
	}
	if sols[0].TakerIndex != emitted[0].TakerIndex {
		t.Errorf("returned solution does not match the one the sink observed")
	}
}
