package ilpmodel

import (
	"testing"

	"github.com/rawblock/joinmarket-unmix/internal/config"
	"github.com/rawblock/joinmarket-unmix/internal/preprocess"
	"github.com/rawblock/joinmarket-unmix/internal/txmodel"
)

func TestBuild_FullyPreprocessed_NoResidualVars(t *testing.T) {
	inputs := []txmodel.Amount{1_000_050, 1_000_100, 1_002_000}
	outputs := []txmodel.Amount{1_000_000, 1_000_000, 1_000_000, 50, 100}

	tx, err := txmodel.New("abc", inputs, outputs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg := config.Default()
	assignment := preprocess.Run(tx, cfg.MaxFeeAbs(int64(tx.EqualAmount)))
	if !assignment.Complete() {
		t.Fatalf("expected greedy pass to fully resolve this transaction")
	}

	m, err := Build(tx, assignment, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.NumVars != 0 {
		t.Errorf("expected zero residual variables, got %d", m.NumVars)
	}
	if len(m.Constraints) != 0 {
		t.Errorf("expected zero residual constraints, got %d", len(m.Constraints))
	}
}

func TestBuild_AmbiguousTransaction_ProducesVariablesAndConstraints(t *testing.T) {
	inputs := []txmodel.Amount{1_000_010, 1_000_020, 1_002_000}
	outputs := []txmodel.Amount{1_000_000, 1_000_000, 1_000_000, 10, 20}

	tx, err := txmodel.New("abc", inputs, outputs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg := config.Default()
	assignment := preprocess.Run(tx, cfg.MaxFeeAbs(int64(tx.EqualAmount)))
	if assignment.Complete() {
		t.Fatalf("expected this transaction to remain ambiguous for the ILP")
	}

	m, err := Build(tx, assignment, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.NumVars == 0 {
		t.Fatalf("expected residual variables for the ambiguous inputs")
	}
	if len(m.X) == 0 {
		t.Errorf("expected x[i,p] variables to be populated")
	}

	for _, i := range assignment.UnassignedInputs {
		found := false
		for _, p := range assignment.UnassignedParticipants {
			if _, ok := m.X[[2]int{i, p}]; ok {
				found = true
			}
		}
		if !found {
			t.Errorf("input %d has no x[i,p] variable in the residual model", i)
		}
	}
}

func TestBuild_DustChangeIsBarredFromOwnership(t *testing.T) {
	inputs := []txmodel.Amount{1_000_010, 1_000_020, 1_002_000}
	outputs := []txmodel.Amount{1_000_000, 1_000_000, 1_000_000, 10, 20}

	tx, err := txmodel.New("abc", inputs, outputs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg := config.Default()
	cfg.DustThreshold = 25 // both change outputs (10, 20) now count as dust
	assignment := preprocess.Run(tx, cfg.MaxFeeAbs(int64(tx.EqualAmount)))

	m, err := Build(tx, assignment, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	foundDustGuard := false
	for _, c := range m.Constraints {
		if c.Op == 0 && c.RHS == 0 && len(c.Terms) == 1 {
			foundDustGuard = true
		}
	}
	if !foundDustGuard && len(assignment.UnassignedChanges) > 0 {
		t.Errorf("expected a dust-guard constraint forcing dust change ownership to zero")
	}
}
