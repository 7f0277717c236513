// Package preprocess implements a deterministic greedy reducer: it
// fixes every input-to-participant and participant-to-change pairing
// that is unambiguous, so the ILP model builder only has to reason
// about what is genuinely contested.
//
// A change is maker-compatible with an input if the resulting maker
// fee falls in [0, maxFeeAbs]; it is taker-compatible (while no taker has been
// fixed yet) if the resulting total-maker-fee share falls in
// [0, maxFeeAbs*(N-1)]. A change candidate is only locked in when no
// OTHER unassigned input is also compatible with it -- the
// bidirectional uniqueness check.
package preprocess

import (
	"sort"

	"github.com/rawblock/joinmarket-unmix/internal/txmodel"
)

// Assignment records what the greedy pass fixed and what remains open
// for the ILP. ForcedChange maps a fixed participant to the relative
// change index it owns; a participant present in ForcedChange with a
// nil value explicitly owns no change output (the taker-with-no-change
// case).
type Assignment struct {
	ForcedInput            map[int]int  // input index -> participant index
	ForcedChange           map[int]*int // participant index -> change rel index, nil = no change
	UnassignedInputs       []int        // ascending input indices
	UnassignedChanges      []int        // ascending relative change indices
	UnassignedParticipants []int        // ascending participant slots left for the ILP
	TakerFound             bool
	TakerParticipant       int // valid only if TakerFound
}

// Run repeats passes over the unassigned inputs, trying five ordered
// matching cases on each input, until a pass locks nothing new.
func Run(tx *txmodel.Transaction, maxFeeAbs int64) Assignment {
	n := tx.N
	equal := int64(tx.EqualAmount)
	networkFee := int64(tx.NetworkFee)
	maxTotalMakerFees := maxFeeAbs * int64(n-1)

	forcedInput := make(map[int]int)
	forcedChange := make(map[int]*int)
	usedChange := make(map[int]bool)
	nextParticipant := 0
	takerFound := false
	takerParticipant := -1

	allInputIdx := make([]int, tx.NumInputs())
	for i := range allInputIdx {
		allInputIdx[i] = i
	}

	for progress := true; progress && nextParticipant < n; {
		progress = false

		var unassigned []int
		for _, i := range allInputIdx {
			if _, ok := forcedInput[i]; !ok {
				unassigned = append(unassigned, i)
			}
		}
		if len(unassigned) == 0 {
			break
		}

		for _, i := range unassigned {
			if nextParticipant >= n {
				break
			}
			remaining := int64(tx.Input(i)) - equal

			type candidate struct {
				relIdx int
				fee    int64
			}
			var makerCompat, takerCompat []candidate

			for j := 0; j < tx.NumChange(); j++ {
				if usedChange[j] {
					continue
				}
				changeAmt := int64(tx.ChangeAmount(j))

				makerFee := changeAmt - remaining
				if makerFee >= 0 && makerFee <= maxFeeAbs {
					makerCompat = append(makerCompat, candidate{j, makerFee})
				}

				if !takerFound {
					totalMakerFees := remaining - networkFee - changeAmt
					if totalMakerFees >= 0 && totalMakerFees <= maxTotalMakerFees {
						takerCompat = append(takerCompat, candidate{j, totalMakerFees})
					}
				}
			}

			noChangeTotalFees := remaining - networkFee
			noChangeCompat := !takerFound && noChangeTotalFees >= 0 && noChangeTotalFees <= maxTotalMakerFees

			lockMaker := func(c candidate) {
				forcedInput[i] = nextParticipant
				relIdx := c.relIdx
				forcedChange[nextParticipant] = &relIdx
				usedChange[c.relIdx] = true
				nextParticipant++
				progress = true
			}
			lockTaker := func(c *candidate) {
				forcedInput[i] = nextParticipant
				if c == nil {
					forcedChange[nextParticipant] = nil
				} else {
					relIdx := c.relIdx
					forcedChange[nextParticipant] = &relIdx
					usedChange[c.relIdx] = true
				}
				takerFound = true
				takerParticipant = nextParticipant
				nextParticipant++
				progress = true
			}

			isUniqueMaker := func(c candidate) bool {
				for _, other := range unassigned {
					if other == i {
						continue
					}
					otherRemaining := int64(tx.Input(other)) - equal
					otherFee := int64(tx.ChangeAmount(c.relIdx)) - otherRemaining
					if otherFee >= 0 && otherFee <= maxFeeAbs {
						return false
					}
				}
				return true
			}
			isUniqueTaker := func(c candidate) bool {
				for _, other := range unassigned {
					if other == i {
						continue
					}
					otherRemaining := int64(tx.Input(other)) - equal
					otherTotal := otherRemaining - networkFee - int64(tx.ChangeAmount(c.relIdx))
					if otherTotal >= 0 && otherTotal <= maxTotalMakerFees {
						return false
					}
				}
				return true
			}

			switch {
			// Case 1: unique maker match, prioritized over taker ambiguity.
			case len(makerCompat) == 1 && !(len(takerCompat) > 0 && !takerFound):
				if isUniqueMaker(makerCompat[0]) {
					lockMaker(makerCompat[0])
					continue
				}

			// Case 2: unique taker-with-change match.
			case len(takerCompat) == 1 && len(makerCompat) == 0 && !noChangeCompat && !takerFound:
				if isUniqueTaker(takerCompat[0]) {
					c := takerCompat[0]
					lockTaker(&c)
					continue
				}

			// Case 3: no compatible change at all, but no-change taker fits.
			case len(makerCompat) == 0 && len(takerCompat) == 0 && noChangeCompat && !takerFound:
				lockTaker(nil)
				continue

			// Case 4: multiple maker candidates -- look for one uniquely ours.
			case len(makerCompat) >= 1:
				for _, c := range makerCompat {
					if isUniqueMaker(c) {
						lockMaker(c)
						break
					}
				}
				if _, ok := forcedInput[i]; ok {
					continue
				}
			}
			// Case 5: ambiguous, deferred to the ILP.
		}
	}

	var unassignedInputs []int
	for _, i := range allInputIdx {
		if _, ok := forcedInput[i]; !ok {
			unassignedInputs = append(unassignedInputs, i)
		}
	}
	var unassignedChanges []int
	for j := 0; j < tx.NumChange(); j++ {
		if !usedChange[j] {
			unassignedChanges = append(unassignedChanges, j)
		}
	}
	assignedParticipants := make(map[int]bool, len(forcedInput))
	for _, p := range forcedInput {
		assignedParticipants[p] = true
	}
	var unassignedParticipants []int
	for p := 0; p < n; p++ {
		if !assignedParticipants[p] {
			unassignedParticipants = append(unassignedParticipants, p)
		}
	}
	sort.Ints(unassignedInputs)
	sort.Ints(unassignedChanges)
	sort.Ints(unassignedParticipants)

	return Assignment{
		ForcedInput:            forcedInput,
		ForcedChange:           forcedChange,
		UnassignedInputs:       unassignedInputs,
		UnassignedChanges:      unassignedChanges,
		UnassignedParticipants: unassignedParticipants,
		TakerFound:             takerFound,
		TakerParticipant:       takerParticipant,
	}
}

// Complete reports whether every input has been locked by the greedy pass.
func (a Assignment) Complete() bool {
	return len(a.UnassignedInputs) == 0
}
