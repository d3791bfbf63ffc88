package rules

import (
	"errors"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ErrUnsupportedOperator is returned for operators outside the comparison set.
var ErrUnsupportedOperator = errors.New("unsupported condition operator")

// Operators lists the comparison operators a branch may use.
var Operators = []string{">=", ">", "<=", "<", "=="}

// Supported reports whether op is one of Operators.
func Supported(op string) bool {
	for _, o := range Operators {
		if o == op {
			return true
		}
	}
	return false
}

// Evaluator decides a threshold comparison for a branch.
type Evaluator interface {
	Evaluate(op string, value, threshold float64) (bool, error)
}

// ExprEvaluator is an implementation of Evaluator using expr-lang/expr.
// One program is compiled per operator and reused.
type ExprEvaluator struct {
	cache map[string]*vm.Program
	mu    sync.RWMutex
}

// NewExprEvaluator creates a new ExprEvaluator with an initialized cache.
func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{
		cache: make(map[string]*vm.Program),
	}
}

func comparisonEnv(value, threshold float64) map[string]interface{} {
	return map[string]interface{}{
		"value":     value,
		"threshold": threshold,
	}
}

// Evaluate returns value OP threshold.
// Unsupported operators fail before anything is compiled.
func (e *ExprEvaluator) Evaluate(op string, value, threshold float64) (bool, error) {
	if !Supported(op) {
		return false, fmt.Errorf("%w: %q", ErrUnsupportedOperator, op)
	}

	program, err := e.program(op)
	if err != nil {
		return false, err
	}

	result, err := expr.Run(program, comparisonEnv(value, threshold))
	if err != nil {
		return false, err
	}

	if boolResult, ok := result.(bool); ok {
		return boolResult, nil
	}
	return false, fmt.Errorf("comparison %q did not evaluate to a boolean, got %T", op, result)
}

func (e *ExprEvaluator) program(op string) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.cache[op]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if program, ok = e.cache[op]; ok {
		return program, nil
	}
	program, err := expr.Compile("value "+op+" threshold", expr.Env(comparisonEnv(0, 0)), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile comparison %q: %w", op, err)
	}
	e.cache[op] = program
	return program, nil
}
