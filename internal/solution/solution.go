// Package solution holds the canonical decomposition record emitted
// by the enumeration loop and the JSON encoding + atomic incremental
// writer it is persisted through, grounded on
// original_source/src/joinmarket_analyzer/output.py's solutions_to_json.
package solution

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rawblock/joinmarket-unmix/internal/txmodel"
)

// Participant is one owner of a CoinJoin round: some inputs, exactly
// one equal-valued output, and at most one change output.
type Participant struct {
	Role             string `json:"role"` // "taker" or "maker"
	InputIndices     []int  `json:"input_indices"`
	InputSum         int64  `json:"input_sum"`
	EqualOutput      int64  `json:"equal_output"`
	ChangeOutputIdx  *int   `json:"change_output_index"`
	ChangeAmount     int64  `json:"change_amount"`
	Fee              int64  `json:"fee"` // positive for the taker, zero or negative for makers
}

// Solution is one feasible decomposition of the inputs/outputs into
// participants, in canonical (ascending min-input-index) order.
type Solution struct {
	TakerIndex      int           `json:"taker_index"`
	TotalMakerFees  int64         `json:"total_maker_fees"`
	NetworkFee      int64         `json:"network_fee"`
	Discrepancy     int64         `json:"discrepancy"`
	Participants    []Participant `json:"participants"`
}

// Validate checks balance and uniqueness invariants against an
// already-built Solution and returns the first violation found, or
// nil. Callers should run this before emitting a solution.
func (s Solution) Validate(expectedInputs, expectedChanges int) error {
	seenInputs := make(map[int]bool)
	seenChanges := make(map[int]bool)
	takerCount := 0

	for i, p := range s.Participants {
		for _, idx := range p.InputIndices {
			if seenInputs[idx] {
				return fmt.Errorf("input %d assigned to more than one participant", idx)
			}
			seenInputs[idx] = true
		}
		if p.ChangeOutputIdx != nil {
			if seenChanges[*p.ChangeOutputIdx] {
				return fmt.Errorf("change output %d assigned to more than one participant", *p.ChangeOutputIdx)
			}
			seenChanges[*p.ChangeOutputIdx] = true
		}
		if p.Role == "taker" {
			takerCount++
			if p.Fee <= 0 {
				return fmt.Errorf("taker participant %d has non-positive fee %d", i, p.Fee)
			}
		} else if p.Fee > 0 {
			return fmt.Errorf("maker participant %d has positive fee %d", i, p.Fee)
		}
	}
	if takerCount != 1 {
		return fmt.Errorf("expected exactly one taker, found %d", takerCount)
	}
	if len(seenInputs) != expectedInputs {
		return fmt.Errorf("expected %d distinct inputs assigned, got %d", expectedInputs, len(seenInputs))
	}
	if len(seenChanges) != expectedChanges {
		return fmt.Errorf("expected %d distinct change outputs assigned, got %d", expectedChanges, len(seenChanges))
	}

	var sumFees int64
	for _, p := range s.Participants {
		sumFees += p.Fee
	}
	if sumFees != s.NetworkFee {
		return fmt.Errorf("sum of participant fees %d does not equal network fee %d", sumFees, s.NetworkFee)
	}
	return nil
}

// transactionSummary mirrors original_source/src/joinmarket_analyzer/
// output.py's embedded "transaction" object.
type transactionSummary struct {
	Txid            string `json:"txid"`
	NumParticipants int    `json:"num_participants"`
	EqualAmount     int64  `json:"equal_amount"`
	NetworkFee      int64  `json:"network_fee"`
	NumInputs       int    `json:"num_inputs"`
	NumOutputs      int    `json:"num_outputs"`
}

type document struct {
	Transaction  transactionSummary `json:"transaction"`
	NumSolutions int                `json:"num_solutions"`
	Solutions    []taggedSolution   `json:"solutions"`
}

// taggedSolution adds the 1-indexed solution_id and re-numbers
// participant_id to 1-indexed for the human-facing document, leaving
// taker_index as the 0-indexed position in the participants list.
type taggedSolution struct {
	SolutionID     int                  `json:"solution_id"`
	TakerIndex     int                  `json:"taker_index"`
	TotalMakerFees int64                `json:"total_maker_fees"`
	NetworkFee     int64                `json:"network_fee"`
	Discrepancy    int64                `json:"discrepancy"`
	Participants   []taggedParticipant  `json:"participants"`
}

type taggedParticipant struct {
	ParticipantID   int    `json:"participant_id"`
	Role            string `json:"role"`
	NumInputs       int    `json:"num_inputs"`
	InputIndices    []int  `json:"input_indices"`
	InputSum        int64  `json:"input_sum"`
	EqualOutput     int64  `json:"equal_output"`
	ChangeOutputIdx *int   `json:"change_output_index"`
	ChangeAmount    int64  `json:"change_amount"`
	Fee             int64  `json:"fee"`
}

// Document renders the full accumulated solution set for txid, in the
// shape the CLI writes to disk.
func Document(tx *txmodel.Transaction, solutions []Solution) []byte {
	doc := document{
		Transaction: transactionSummary{
			Txid:            tx.Txid,
			NumParticipants: tx.N,
			EqualAmount:     int64(tx.EqualAmount),
			NetworkFee:      int64(tx.NetworkFee),
			NumInputs:       tx.NumInputs(),
			NumOutputs:      tx.NumOutputs(),
		},
		NumSolutions: len(solutions),
		Solutions:    make([]taggedSolution, 0, len(solutions)),
	}

	for idx, s := range solutions {
		ts := taggedSolution{
			SolutionID:     idx + 1,
			TakerIndex:     s.TakerIndex,
			TotalMakerFees: s.TotalMakerFees,
			NetworkFee:     s.NetworkFee,
			Discrepancy:    s.Discrepancy,
			Participants:   make([]taggedParticipant, 0, len(s.Participants)),
		}
		for pIdx, p := range s.Participants {
			ts.Participants = append(ts.Participants, taggedParticipant{
				ParticipantID:   pIdx + 1,
				Role:            p.Role,
				NumInputs:       len(p.InputIndices),
				InputIndices:    p.InputIndices,
				InputSum:        p.InputSum,
				EqualOutput:     p.EqualOutput,
				ChangeOutputIdx: p.ChangeOutputIdx,
				ChangeAmount:    p.ChangeAmount,
				Fee:             p.Fee,
			})
		}
		doc.Solutions = append(doc.Solutions, ts)
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		// Document is built entirely from our own types; a marshal
		// failure here means a programming error, not a runtime condition.
		panic(fmt.Sprintf("solution: document marshal: %v", err))
	}
	return out
}

// WriteAtomic writes data to path by writing to a temp file in the
// same directory and renaming over the destination, so a process
// killed mid-write never leaves a truncated or partially-written file
// behind.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".solutions-*.tmp")
	if err != nil {
		return fmt.Errorf("solution: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("solution: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("solution: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("solution: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("solution: rename into place: %w", err)
	}
	return nil
}
