// Package ilpmodel builds the pseudo-boolean integer-linear model for
// the residual assignment problem left open after the greedy
// preprocessor: which unassigned input belongs to which participant,
// which unassigned change output that participant owns, and who among
// the residual participants is the taker.
//
// The model is solver-agnostic -- it is a flat list of binary
// variables and linear constraints over them -- so any
// ilpsolve.Backend can consume it without this package knowing
// anything about a particular solver's API.
package ilpmodel

import (
	"fmt"

	"github.com/rawblock/joinmarket-unmix/internal/config"
	"github.com/rawblock/joinmarket-unmix/internal/preprocess"
	"github.com/rawblock/joinmarket-unmix/internal/txmodel"
)

// VarID indexes a binary decision variable within a Model.
type VarID int

// Op is a linear constraint's relational operator.
type Op int

const (
	OpEQ Op = iota
	OpLE
	OpGE
)

// Term is a single coefficient*variable summand of a linear expression.
type Term struct {
	Var   VarID
	Coeff int64
}

// Constraint is `Σ Terms.Coeff*Terms.Var {Op} RHS`.
type Constraint struct {
	Terms []Term
	Op    Op
	RHS   int64
	Name  string // for diagnostics only, e.g. "input-partition-3"
}

// Model is the full residual ILP: variables plus the builder's
// constraints (partition, change ownership, single taker,
// per-participant balance, maker fee bound, taker fee bound, dust
// guard, symmetry breaking). Global balance is not emitted as its own
// constraint: it follows from every input and change being assigned.
type Model struct {
	NumVars     int
	Constraints []Constraint

	// Variable lookups, keyed by the reduced indices they represent.
	X     map[[2]int]VarID // [inputIdx, participant] -> x[i,p]
	C     map[[2]int]VarID // [participant, changeIdx] -> c[p,j]
	H     map[int]VarID    // participant -> h[p]
	T     map[int]VarID    // participant -> t[p]; absent entirely if taker is pre-fixed
	First map[[2]int]VarID // [inputIdx, participant] -> first[i,p]

	// Participants carries every participant slot in the reduced
	// problem, in ascending order, matching preprocess.Assignment's
	// UnassignedParticipants.
	Participants []int
	// FixedTaker, if >= 0, is the participant the preprocessor already
	// identified as the taker; no T variables exist in that case.
	FixedTaker int

	EqualAmount   int64
	NetworkFee    int64
	MaxFeeAbs     int64
	DustThreshold int64
}

type builder struct {
	m       *Model
	nextVar VarID
}

func (b *builder) newVar() VarID {
	id := b.nextVar
	b.nextVar++
	b.m.NumVars++
	return id
}

// Build constructs the residual ILP over the inputs/changes/
// participants the preprocessor left unassigned.
func Build(tx *txmodel.Transaction, assignment preprocess.Assignment, cfg config.Config) (*Model, error) {
	equal := int64(tx.EqualAmount)
	maxFeeAbs := cfg.MaxFeeAbs(equal)

	m := &Model{
		X:             make(map[[2]int]VarID),
		C:             make(map[[2]int]VarID),
		H:             make(map[int]VarID),
		T:             make(map[int]VarID),
		First:         make(map[[2]int]VarID),
		Participants:  assignment.UnassignedParticipants,
		FixedTaker:    -1,
		EqualAmount:   equal,
		NetworkFee:    int64(tx.NetworkFee),
		MaxFeeAbs:     maxFeeAbs,
		DustThreshold: cfg.DustThreshold,
	}
	if assignment.TakerFound {
		m.FixedTaker = assignment.TakerParticipant
	}
	b := &builder{m: m}

	inputs := assignment.UnassignedInputs
	changes := assignment.UnassignedChanges
	parts := assignment.UnassignedParticipants

	if len(parts) == 0 {
		// Preprocessor fully resolved the transaction; nothing left to model.
		return m, nil
	}

	for _, i := range inputs {
		for _, p := range parts {
			m.X[[2]int{i, p}] = b.newVar()
		}
	}
	for _, p := range parts {
		for _, j := range changes {
			m.C[[2]int{p, j}] = b.newVar()
		}
		m.H[p] = b.newVar()
	}
	takerUnresolved := m.FixedTaker < 0
	if takerUnresolved {
		for _, p := range parts {
			m.T[p] = b.newVar()
		}
	}
	for _, i := range inputs {
		for _, p := range parts {
			m.First[[2]int{i, p}] = b.newVar()
		}
	}

	// Constraint 1: input partition. Each unassigned input belongs to
	// exactly one residual participant.
	for _, i := range inputs {
		terms := make([]Term, 0, len(parts))
		for _, p := range parts {
			terms = append(terms, Term{m.X[[2]int{i, p}], 1})
		}
		m.addConstraint(Constraint{Terms: terms, Op: OpEQ, RHS: 1, Name: fmt.Sprintf("input-partition-%d", i)})
	}

	// Constraint 2: change partition and has-change linkage.
	for _, j := range changes {
		terms := make([]Term, 0, len(parts))
		for _, p := range parts {
			terms = append(terms, Term{m.C[[2]int{p, j}], 1})
		}
		m.addConstraint(Constraint{Terms: terms, Op: OpEQ, RHS: 1, Name: fmt.Sprintf("change-partition-%d", j)})
	}
	for _, p := range parts {
		terms := make([]Term, 0, len(changes)+1)
		for _, j := range changes {
			terms = append(terms, Term{m.C[[2]int{p, j}], 1})
		}
		terms = append(terms, Term{m.H[p], -1})
		m.addConstraint(Constraint{Terms: terms, Op: OpEQ, RHS: 0, Name: fmt.Sprintf("has-change-link-%d", p)})
	}

	// Participant validity: every residual participant owns at least
	// one input -- otherwise the solver is free to leave a participant
	// empty, which violates the nonempty-input_set invariant and leaves
	// downstream ordering (minimum-input-index symmetry breaking,
	// extraction) without an input to key off of.
	for _, p := range parts {
		terms := make([]Term, 0, len(inputs))
		for _, i := range inputs {
			terms = append(terms, Term{m.X[[2]int{i, p}], 1})
		}
		m.addConstraint(Constraint{Terms: terms, Op: OpGE, RHS: 1, Name: fmt.Sprintf("participant-validity-%d", p)})
	}

	// Constraint 3: exactly one taker among the residual participants,
	// skipped entirely if the preprocessor already fixed one.
	if takerUnresolved {
		terms := make([]Term, 0, len(parts))
		for _, p := range parts {
			terms = append(terms, Term{m.T[p], 1})
		}
		m.addConstraint(Constraint{Terms: terms, Op: OpEQ, RHS: 1, Name: "single-taker"})
	}

	// Constraint 8: dust guard. A change output below the dust
	// threshold can never be owned by anyone.
	for _, j := range changes {
		if int64(tx.ChangeAmount(j)) >= cfg.DustThreshold {
			continue
		}
		for _, p := range parts {
			m.addConstraint(Constraint{
				Terms: []Term{{m.C[[2]int{p, j}], 1}},
				Op:    OpEQ,
				RHS:   0,
				Name:  fmt.Sprintf("dust-guard-%d-%d", p, j),
			})
		}
	}

	// Constraints 4-6: per-participant value balance and fee bounds.
	// fee_p = contributed_p - equal_amount - change_value_p is not
	// materialized as its own variable; it is folded directly into the
	// balance inequalities below. An unassigned participant owns no
	// forced input (the preprocessor never leaves a participant
	// partially resolved), so contributed_p is purely a sum over the
	// residual x[i,p] variables.
	bigM := sumUnassignedInputs(tx, inputs) + equal
	takerUpperRHS := equal + maxFeeAbs*int64(tx.N-1) + m.NetworkFee

	for _, p := range parts {
		changeTerms := make([]Term, 0, len(changes))
		for _, j := range changes {
			changeTerms = append(changeTerms, Term{m.C[[2]int{p, j}], int64(tx.ChangeAmount(j))})
		}
		contribTerms := make([]Term, 0, len(inputs))
		for _, i := range inputs {
			contribTerms = append(contribTerms, Term{m.X[[2]int{i, p}], int64(tx.Input(i))})
		}
		balance := append(append([]Term{}, contribTerms...), negate(changeTerms)...)

		switch {
		case !takerUnresolved && p == m.FixedTaker:
			// contributed - change <= takerUpperRHS
			m.addConstraint(Constraint{Terms: copyTerms(balance), Op: OpLE, RHS: takerUpperRHS, Name: fmt.Sprintf("taker-fee-upper-%d", p)})
			// contributed - change >= equal + 1 (taker fee strictly positive)
			m.addConstraint(Constraint{Terms: copyTerms(balance), Op: OpGE, RHS: equal + 1, Name: fmt.Sprintf("taker-fee-lower-%d", p)})

		case !takerUnresolved:
			// p is a fixed non-taker: plain maker bound, contributed - change <= equal.
			m.addConstraint(Constraint{Terms: copyTerms(balance), Op: OpLE, RHS: equal, Name: fmt.Sprintf("maker-fee-bound-%d", p)})

		default:
			// t[p] undetermined: relax each bound by bigM in the
			// direction that makes it vacuous when p turns out not to
			// hold that role.
			maker := append(copyTerms(balance), Term{m.T[p], -bigM})
			m.addConstraint(Constraint{Terms: maker, Op: OpLE, RHS: equal, Name: fmt.Sprintf("maker-fee-bound-%d", p)})

			takerUpper := append(copyTerms(balance), Term{m.T[p], bigM})
			m.addConstraint(Constraint{Terms: takerUpper, Op: OpLE, RHS: takerUpperRHS + bigM, Name: fmt.Sprintf("taker-fee-upper-%d", p)})

			takerLower := append(copyTerms(balance), Term{m.T[p], -bigM})
			m.addConstraint(Constraint{Terms: takerLower, Op: OpGE, RHS: equal + 1 - bigM, Name: fmt.Sprintf("taker-fee-lower-%d", p)})
		}
	}

	// Constraint 9: lexicographic symmetry breaking by minimum input
	// index, tying first[i,p] to x[i,p] and "no smaller index owned".
	for idx, p := range parts {
		for _, i := range inputs {
			fv := m.First[[2]int{i, p}]
			xv := m.X[[2]int{i, p}]
			// first[i,p] <= x[i,p]
			m.addConstraint(Constraint{Terms: []Term{{fv, 1}, {xv, -1}}, Op: OpLE, RHS: 0, Name: fmt.Sprintf("first-le-x-%d-%d", i, p)})
			// first[i,p] + Σ_{i'<i} x[i',p] >= x[i,p]  (if i is owned and no smaller
			// index is owned by p, first must be 1)
			terms := []Term{{fv, 1}, {xv, -1}}
			for _, ip := range inputs {
				if ip < i {
					terms = append(terms, Term{m.X[[2]int{ip, p}], 1})
				}
			}
			m.addConstraint(Constraint{Terms: terms, Op: OpGE, RHS: 0, Name: fmt.Sprintf("first-ge-%d-%d", i, p)})
		}
		// Σ_i first[i,p] <= 1 (at most one minimum index per participant)
		terms := make([]Term, 0, len(inputs))
		for _, i := range inputs {
			terms = append(terms, Term{m.First[[2]int{i, p}], 1})
		}
		m.addConstraint(Constraint{Terms: terms, Op: OpLE, RHS: 1, Name: fmt.Sprintf("first-unique-%d", p)})

		if idx+1 < len(parts) {
			next := parts[idx+1]
			lhs := make([]Term, 0, len(inputs))
			rhs := make([]Term, 0, len(inputs))
			for _, i := range inputs {
				lhs = append(lhs, Term{m.First[[2]int{i, p}], int64(i)})
				rhs = append(rhs, Term{m.First[[2]int{i, next}], int64(i)})
			}
			// Σ i*first[i,p] + 1 <= Σ i*first[i,next]
			terms := append(lhs, negate(rhs)...)
			m.addConstraint(Constraint{Terms: terms, Op: OpLE, RHS: -1, Name: fmt.Sprintf("symmetry-break-%d-%d", p, next)})
		}
	}

	return m, nil
}

func (m *Model) addConstraint(c Constraint) {
	m.Constraints = append(m.Constraints, c)
}

func negate(terms []Term) []Term {
	out := make([]Term, len(terms))
	for i, t := range terms {
		out[i] = Term{t.Var, -t.Coeff}
	}
	return out
}

func copyTerms(terms []Term) []Term {
	return append([]Term{}, terms...)
}

func sumUnassignedInputs(tx *txmodel.Transaction, inputs []int) int64 {
	var sum int64
	for _, i := range inputs {
		sum += int64(tx.Input(i))
	}
	return sum
}
