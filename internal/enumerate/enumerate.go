// Package enumerate drives the repeated solve -> extract -> canonicalize
// -> emit -> cut loop of section 4.4: each iteration asks the solver
// backend for one more feasible residual assignment, turns it into a
// canonical Solution, and excludes it (and, by construction via
// symmetry breaking, its participant permutations) before asking
// again.
package enumerate

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rawblock/joinmarket-unmix/internal/config"
	"github.com/rawblock/joinmarket-unmix/internal/errs"
	"github.com/rawblock/joinmarket-unmix/internal/ilpmodel"
	"github.com/rawblock/joinmarket-unmix/internal/ilpsolve"
	"github.com/rawblock/joinmarket-unmix/internal/preprocess"
	"github.com/rawblock/joinmarket-unmix/internal/solution"
	"github.com/rawblock/joinmarket-unmix/internal/txmodel"
)

// maxConsecutiveDuplicates bounds how many permutation-equivalent
// solutions the loop will silently cut before giving up on symmetry
// breaking and surfacing a SolverError -- a belt-and-suspenders check,
// since a correct model should never trip it.
const maxConsecutiveDuplicates = 10

// Sink receives each newly discovered Solution as soon as it is
// emitted, typically to flush an incremental, atomically-written
// output file.
type Sink func(solution.Solution)

// Run executes the enumeration loop to completion, cancellation, the
// configured solution cap, or a solver failure. The returned error, if
// any, is an *errs.Error identifying why the loop stopped; solutions
// already discovered are always returned regardless of how the loop
// ended.
func Run(ctx context.Context, tx *txmodel.Transaction, cfg config.Config, backend ilpsolve.Backend, sink Sink) ([]solution.Solution, error) {
	maxFeeAbs := cfg.MaxFeeAbs(int64(tx.EqualAmount))
	assignment := preprocess.Run(tx, maxFeeAbs)

	model, err := ilpmodel.Build(tx, assignment, cfg)
	if err != nil {
		return nil, errs.New(errs.KindSolverError, "enumerate.Run", err)
	}

	if model.NumVars == 0 {
		// The preprocessor already pinned every input, change, and the
		// taker: there is exactly one feasible decomposition and no
		// solver call is needed to find it.
		sol, err := extract(tx, assignment, model, map[ilpmodel.VarID]bool{})
		if err != nil {
			return nil, errs.New(errs.KindSolverError, "enumerate.Run", err)
		}
		if err := sol.Validate(tx.NumInputs(), tx.NumChange()); err != nil {
			return nil, errs.New(errs.KindSolverError, "enumerate.Run", fmt.Errorf("preprocessor produced an invalid decomposition: %w", err))
		}
		if sink != nil {
			sink(sol)
		}
		return []solution.Solution{sol}, nil
	}

	var solutions []solution.Solution
	seen := make(map[string]bool)
	consecutiveDuplicates := 0

	for {
		if ctx.Err() != nil {
			return solutions, errs.New(errs.KindCancelled, "enumerate.Run", ctx.Err())
		}
		if len(solutions) >= cfg.MaxSolutions {
			return solutions, nil
		}

		result, err := backend.Solve(ctx, model, cfg.PerSolveTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return solutions, errs.New(errs.KindCancelled, "enumerate.Run", ctx.Err())
			}
			return solutions, errs.New(errs.KindSolverError, "enumerate.Run", err)
		}

		switch result.Status {
		case ilpsolve.StatusInfeasible:
			if len(solutions) == 0 {
				return solutions, errs.New(errs.KindInfeasible, "enumerate.Run", fmt.Errorf("no feasible decomposition found"))
			}
			return solutions, nil

		case ilpsolve.StatusTimeLimit:
			if len(solutions) == 0 {
				return solutions, errs.New(errs.KindTimeLimit, "enumerate.Run", fmt.Errorf("solver exhausted its time budget without a solution"))
			}
			return solutions, nil
		}

		sol, err := extract(tx, assignment, model, result.Values)
		if err != nil {
			return solutions, errs.New(errs.KindSolverError, "enumerate.Run", err)
		}
		if err := sol.Validate(tx.NumInputs(), tx.NumChange()); err != nil {
			return solutions, errs.New(errs.KindSolverError, "enumerate.Run", fmt.Errorf("solver returned an invalid decomposition: %w", err))
		}

		sig := signature(sol)
		cut := noGoodCut(model, result.Values)
		model.Constraints = append(model.Constraints, cut)

		if seen[sig] {
			consecutiveDuplicates++
			if consecutiveDuplicates >= maxConsecutiveDuplicates {
				return solutions, errs.New(errs.KindSolverError, "enumerate.Run", fmt.Errorf("%d consecutive permutation-equivalent solutions despite symmetry breaking", consecutiveDuplicates))
			}
			continue
		}
		consecutiveDuplicates = 0
		seen[sig] = true

		solutions = append(solutions, sol)
		if sink != nil {
			sink(sol)
		}
	}
}

// extract turns the preprocessor's fixed assignments plus one residual
// solver result into a full, canonically-ordered Solution.
func extract(tx *txmodel.Transaction, assignment preprocess.Assignment, model *ilpmodel.Model, values map[ilpmodel.VarID]bool) (solution.Solution, error) {
	participants := make([]solution.Participant, tx.N)
	for p := range participants {
		participants[p].EqualOutput = int64(tx.EqualAmount)
	}

	for i, p := range assignment.ForcedInput {
		participants[p].InputIndices = append(participants[p].InputIndices, i)
	}
	for p, changeRel := range assignment.ForcedChange {
		if changeRel == nil {
			continue
		}
		idx := tx.ChangeIndices[*changeRel]
		participants[p].ChangeOutputIdx = &idx
		participants[p].ChangeAmount = int64(tx.ChangeAmount(*changeRel))
	}

	for key, varID := range model.X {
		if !values[varID] {
			continue
		}
		i, p := key[0], key[1]
		participants[p].InputIndices = append(participants[p].InputIndices, i)
	}
	for key, varID := range model.C {
		if !values[varID] {
			continue
		}
		p, j := key[0], key[1]
		idx := tx.ChangeIndices[j]
		participants[p].ChangeOutputIdx = &idx
		participants[p].ChangeAmount = int64(tx.ChangeAmount(j))
	}

	takerIndex := model.FixedTaker
	if takerIndex < 0 {
		for p, varID := range model.T {
			if values[varID] {
				takerIndex = p
			}
		}
	}
	if takerIndex < 0 {
		return solution.Solution{}, fmt.Errorf("no taker identified in solver result")
	}

	var totalMakerFees int64
	for p := range participants {
		pp := &participants[p]
		sort.Ints(pp.InputIndices)
		for _, i := range pp.InputIndices {
			pp.InputSum += int64(tx.Input(i))
		}
		pp.Fee = pp.InputSum - pp.EqualOutput - pp.ChangeAmount
		if p == takerIndex {
			pp.Role = "taker"
		} else {
			pp.Role = "maker"
			totalMakerFees += -pp.Fee
		}
	}

	sort.SliceStable(participants, func(a, b int) bool {
		return minInput(participants[a]) < minInput(participants[b])
	})
	newTakerIndex := 0
	for idx, p := range participants {
		if p.Role == "taker" {
			newTakerIndex = idx
			break
		}
	}

	var sumFees int64
	for _, p := range participants {
		sumFees += p.Fee
	}

	return solution.Solution{
		TakerIndex:     newTakerIndex,
		TotalMakerFees: totalMakerFees,
		NetworkFee:     int64(tx.NetworkFee),
		Discrepancy:    sumFees - int64(tx.NetworkFee),
		Participants:   participants,
	}, nil
}

func minInput(p solution.Participant) int {
	m := p.InputIndices[0]
	for _, i := range p.InputIndices[1:] {
		if i < m {
			m = i
		}
	}
	return m
}

// signature builds the canonical duplicate-detection key from a
// fully-canonicalized Solution: the sorted input-index tuples and
// change index per participant, plus which one holds the taker role.
func signature(s solution.Solution) string {
	var sb strings.Builder
	for _, p := range s.Participants {
		sb.WriteString(p.Role)
		sb.WriteByte(':')
		for _, i := range p.InputIndices {
			sb.WriteString(strconv.Itoa(i))
			sb.WriteByte(',')
		}
		sb.WriteByte(':')
		if p.ChangeOutputIdx != nil {
			sb.WriteString(strconv.Itoa(*p.ChangeOutputIdx))
		} else {
			sb.WriteString("none")
		}
		sb.WriteByte(';')
	}
	return sb.String()
}

// noGoodCut excludes exactly the variable valuation that produced this
// round's solution: at least one previously-set variable must flip.
func noGoodCut(model *ilpmodel.Model, values map[ilpmodel.VarID]bool) ilpmodel.Constraint {
	terms := make([]ilpmodel.Term, 0, len(values))
	trueCount := int64(0)
	for v := ilpmodel.VarID(0); v < ilpmodel.VarID(model.NumVars); v++ {
		if values[v] {
			terms = append(terms, ilpmodel.Term{Var: v, Coeff: -1})
			trueCount++
		} else {
			terms = append(terms, ilpmodel.Term{Var: v, Coeff: 1})
		}
	}
	return ilpmodel.Constraint{
		Terms: terms,
		Op:    ilpmodel.OpGE,
		RHS:   1 - trueCount,
		Name:  "no-good-cut",
	}
}
