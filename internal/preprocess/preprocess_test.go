package preprocess

import (
	"testing"

	"github.com/rawblock/joinmarket-unmix/internal/txmodel"
)

// A fully deterministic 2-maker-1-taker CoinJoin: change 50 can only
// belong to the first input and change 100 only to the second, and the
// third input fits only as a taker with no change, so the greedy pass
// alone should resolve every input.
func TestRun_FullyDeterministic(t *testing.T) {
	// equal = 1_000_000, network fee = 3,002,150 - 3,000,150 = 2,000.
	// Maker A: input 1,000,050 -> change 50 (fee 0).
	// Maker B: input 1,000,100 -> change 100 (fee 0).
	// Taker:  input 1,002,000 with no change: remaining = 2,000, minus
	// network fee 2,000 = 0 total maker fees owed, within bound
	// (2 * 50000 = 100000).
	inputs := []txmodel.Amount{1_000_050, 1_000_100, 1_002_000}
	outputs := []txmodel.Amount{1_000_000, 1_000_000, 1_000_000, 50, 100}

	tx, err := txmodel.New("deterministic", inputs, outputs)
	if err != nil {
		t.Fatalf("unexpected error building transaction: %v", err)
	}

	maxFeeAbs := int64(50_000) // 5% of 1,000,000
	assignment := Run(tx, maxFeeAbs)

	if !assignment.Complete() {
		t.Fatalf("expected fully resolved assignment, got unassigned inputs %v", assignment.UnassignedInputs)
	}
	if !assignment.TakerFound {
		t.Fatalf("expected a taker to be identified")
	}
	if len(assignment.ForcedInput) != 3 {
		t.Fatalf("expected all 3 inputs forced, got %d", len(assignment.ForcedInput))
	}
}

// When two inputs both sit within fee range of the same change output
// (or more generally when no candidate is uniquely theirs), the greedy
// pass must defer to the ILP rather than guessing.
func TestRun_AmbiguousDeferred(t *testing.T) {
	// Two inputs, each compatible with either of two nearly-identical
	// change outputs within the fee bound -- genuinely ambiguous.
	inputs := []txmodel.Amount{1_000_010, 1_000_020, 1_002_000}
	outputs := []txmodel.Amount{1_000_000, 1_000_000, 1_000_000, 10, 20}

	tx, err := txmodel.New("ambiguous", inputs, outputs)
	if err != nil {
		t.Fatalf("unexpected error building transaction: %v", err)
	}

	maxFeeAbs := int64(50_000)
	assignment := Run(tx, maxFeeAbs)

	if assignment.Complete() {
		t.Fatalf("expected ambiguity to remain for the ILP, got a fully resolved assignment")
	}
}

// No participant is ever double-booked: every change output the greedy
// pass locks in is removed from future candidate pools.
func TestRun_NoChangeDoubleAssignment(t *testing.T) {
	inputs := []txmodel.Amount{1_000_050, 1_000_100, 1_002_000}
	outputs := []txmodel.Amount{1_000_000, 1_000_000, 1_000_000, 50, 100}

	tx, err := txmodel.New("no-double", inputs, outputs)
	if err != nil {
		t.Fatalf("unexpected error building transaction: %v", err)
	}

	assignment := Run(tx, 50_000)

	seen := make(map[int]bool)
	for _, changeRel := range assignment.ForcedChange {
		if changeRel == nil {
			continue
		}
		if seen[*changeRel] {
			t.Fatalf("change index %d assigned to more than one participant", *changeRel)
		}
		seen[*changeRel] = true
	}
}
