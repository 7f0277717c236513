// Package txmodel implements the immutable candidate-CoinJoin value
// object that every downstream stage (preprocessor, ILP builder,
// enumeration loop) reads from. It owns denomination detection and
// structural validation; nothing after construction may mutate a
// Transaction.
package txmodel

import (
	"fmt"

	"github.com/rawblock/joinmarket-unmix/internal/errs"
)

// Amount is a satoshi-denominated value. Inputs must be positive,
// outputs non-negative.
type Amount int64

// Transaction is the immutable candidate CoinJoin under analysis.
type Transaction struct {
	Txid          string
	Inputs        []Amount
	Outputs       []Amount
	EqualAmount   Amount
	EqualIndices  []int // ascending, length N
	ChangeIndices []int // ascending, complement of EqualIndices in output order
	N             int
	NetworkFee    Amount
}

// New validates raw input/output amounts and detects the equal-output
// denomination, returning an immutable Transaction.
//
// Denomination detection: the value with the largest multiplicity among
// outputs wins; ties are broken by the larger amount. A winning
// multiplicity below 2 means the transaction is not shaped like a
// JoinMarket CoinJoin.
func New(txid string, inputs, outputs []Amount) (*Transaction, error) {
	if len(inputs) == 0 {
		return nil, errs.New(errs.KindInputError, "txmodel.New", fmt.Errorf("no inputs"))
	}
	for i, in := range inputs {
		if in <= 0 {
			return nil, errs.New(errs.KindInputError, "txmodel.New", fmt.Errorf("input %d is non-positive: %d", i, in))
		}
	}
	for i, out := range outputs {
		if out < 0 {
			return nil, errs.New(errs.KindInputError, "txmodel.New", fmt.Errorf("output %d is negative: %d", i, out))
		}
	}

	counts := make(map[Amount]int, len(outputs))
	for _, out := range outputs {
		counts[out]++
	}

	var denom Amount
	var multiplicity int
	for amt, c := range counts {
		if c > multiplicity || (c == multiplicity && amt > denom) {
			multiplicity = c
			denom = amt
		}
	}

	if multiplicity < 2 {
		return nil, errs.NotACoinJoin
	}

	var equalIdx, changeIdx []int
	for i, out := range outputs {
		if out == denom {
			equalIdx = append(equalIdx, i)
		} else {
			changeIdx = append(changeIdx, i)
		}
	}

	var sumIn, sumOut Amount
	for _, in := range inputs {
		sumIn += in
	}
	for _, out := range outputs {
		sumOut += out
	}
	if sumIn < sumOut {
		return nil, errs.InconsistentBalance
	}

	tx := &Transaction{
		Txid:          txid,
		Inputs:        append([]Amount(nil), inputs...),
		Outputs:       append([]Amount(nil), outputs...),
		EqualAmount:   denom,
		EqualIndices:  equalIdx,
		ChangeIndices: changeIdx,
		N:             multiplicity,
		NetworkFee:    sumIn - sumOut,
	}

	if tx.N < 2 {
		return nil, errs.NotACoinJoin
	}
	if len(tx.Inputs) < tx.N {
		return nil, errs.New(errs.KindInputError, "txmodel.New", fmt.Errorf("fewer inputs (%d) than participants (%d)", len(tx.Inputs), tx.N))
	}

	return tx, nil
}

// NumInputs returns the number of inputs.
func (t *Transaction) NumInputs() int { return len(t.Inputs) }

// NumOutputs returns the number of outputs.
func (t *Transaction) NumOutputs() int { return len(t.Outputs) }

// NumChange returns the number of change outputs (O - N).
func (t *Transaction) NumChange() int { return len(t.ChangeIndices) }

// Input returns the amount of input i.
func (t *Transaction) Input(i int) Amount { return t.Inputs[i] }

// ChangeAmount returns the amount of the j-th change output in
// ChangeIndices order (j indexes into ChangeIndices, not Outputs).
func (t *Transaction) ChangeAmount(j int) Amount { return t.Outputs[t.ChangeIndices[j]] }

// SumInputs returns the total input value.
func (t *Transaction) SumInputs() Amount {
	var s Amount
	for _, v := range t.Inputs {
		s += v
	}
	return s
}
