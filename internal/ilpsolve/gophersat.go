package ilpsolve

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/crillab/gophersat/solver"

	"github.com/rawblock/joinmarket-unmix/internal/ilpmodel"
)

// GophersatBackend solves the residual model as a pure pseudo-boolean
// satisfiability instance via github.com/crillab/gophersat. Every
// constraint the model builder produces is already linear over binary
// variables, so there is no LP relaxation to round and no
// branch-and-bound gap to manage: a PB-SAT solver is an exact fit, and
// this is the backend actually used once a residual instance outgrows
// BacktrackingBackend's variable ceiling.
type GophersatBackend struct{}

// Solve implements Backend.
func (GophersatBackend) Solve(ctx context.Context, model *ilpmodel.Model, timeout time.Duration) (Result, error) {
	if model.NumVars == 0 {
		return Result{Status: StatusOptimal, Values: map[ilpmodel.VarID]bool{}}, nil
	}

	problem, err := solver.ParseOPB(bufio.NewReader(strings.NewReader(buildOPB(model))))
	if err != nil {
		return Result{}, fmt.Errorf("gophersat: parse residual model: %w", err)
	}
	s := solver.New(problem)

	results := make(chan solver.Result)
	stop := make(chan struct{})
	go s.Optimal(results, stop)

	var last solver.Result
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case res, ok := <-results:
			if !ok {
				return translate(last, model.NumVars), nil
			}
			last = res
		case <-timer.C:
			close(stop)
			for res := range results {
				last = res
			}
			if last.Status == solver.Sat {
				return translate(last, model.NumVars), nil
			}
			return Result{Status: StatusTimeLimit}, nil
		case <-ctx.Done():
			close(stop)
			for range results {
			}
			return Result{}, ctx.Err()
		}
	}
}

func translate(res solver.Result, numVars int) Result {
	if res.Status != solver.Sat {
		return Result{Status: StatusInfeasible}
	}
	values := make(map[ilpmodel.VarID]bool, numVars)
	for i := 0; i < numVars; i++ {
		values[ilpmodel.VarID(i)] = res.Model[i]
	}
	return Result{Status: StatusOptimal, Values: values}
}

// buildOPB renders the model as a pseudo-boolean competition format
// (OPB) instance: a pure feasibility objective plus one linear
// constraint line per ilpmodel.Constraint, variables numbered x1..xN
// matching VarID+1.
func buildOPB(model *ilpmodel.Model) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "* residual assignment model\n")
	fmt.Fprintf(&sb, "* #variable= %d #constraint= %d\n", model.NumVars, len(model.Constraints))
	sb.WriteString("min: ;\n")
	for _, c := range model.Constraints {
		for _, t := range c.Terms {
			fmt.Fprintf(&sb, "%+d x%d ", t.Coeff, int(t.Var)+1)
		}
		switch c.Op {
		case ilpmodel.OpEQ:
			fmt.Fprintf(&sb, "= %d;\n", c.RHS)
		case ilpmodel.OpLE:
			fmt.Fprintf(&sb, "<= %d;\n", c.RHS)
		case ilpmodel.OpGE:
			fmt.Fprintf(&sb, ">= %d;\n", c.RHS)
		}
	}
	return sb.String()
}
