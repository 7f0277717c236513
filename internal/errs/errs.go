// Package errs defines the error taxonomy shared by the fetch, model,
// solver, and enumeration layers so the CLI can map a failure to the
// right exit code without string matching.
package errs

import "fmt"

// Kind identifies which class of failure occurred.
type Kind int

const (
	KindInputError Kind = iota
	KindNetworkError
	KindSolverError
	KindTimeLimit
	KindInfeasible
	KindCancelled
	KindMemoryLimitExceeded
)

func (k Kind) String() string {
	switch k {
	case KindInputError:
		return "InputError"
	case KindNetworkError:
		return "NetworkError"
	case KindSolverError:
		return "SolverError"
	case KindTimeLimit:
		return "TimeLimit"
	case KindInfeasible:
		return "Infeasible"
	case KindCancelled:
		return "Cancelled"
	case KindMemoryLimitExceeded:
		return "MemoryLimitExceeded"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying cause with the Kind used for exit-code mapping.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Op)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a Kind-tagged error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is allows errors.Is(err, errs.Sentinel(errs.KindInputError)) style checks:
// any *Error target matches when its Kind is equal, whatever its Err.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// Sentinel returns a zero-cause *Error of the given Kind, suitable as an
// errors.Is target: errors.Is(err, errs.Sentinel(errs.KindInfeasible)).
func Sentinel(kind Kind) *Error { return &Error{Kind: kind} }

// NotACoinJoin indicates the transaction has fewer than 2 equal-valued outputs.
var NotACoinJoin = New(KindInputError, "detect-denomination", fmt.Errorf("no repeated output denomination with multiplicity >= 2"))

// InconsistentBalance indicates sum(inputs) < sum(outputs).
var InconsistentBalance = New(KindInputError, "validate-balance", fmt.Errorf("sum(inputs) < sum(outputs)"))
