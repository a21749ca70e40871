// Package eval evaluates signal expressions against raw response bytes.
//
// An expression sees each response byte as B0, B1, ... (B0 is the first
// byte, e.g. 0x41 for a mode 01 reply), the whole payload as bytes and the
// payload length as size:
//
//	(B2*256+B3)/4
//	size > 3 ? B3 : 0
package eval

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

var (
	// ErrNotNumeric is returned when an expression yields a value that is
	// not a finite number.
	ErrNotNumeric = errors.New("expression result is not a number")

	// ErrEmptyExpression is returned for a blank expression.
	ErrEmptyExpression = errors.New("empty expression")
)

// Evaluator compiles expressions once and runs them per response. It is
// safe for concurrent use.
type Evaluator struct {
	mu       sync.Mutex
	programs map[string]*vm.Program
}

// New returns an Evaluator with an empty program cache.
func New() *Evaluator {
	return &Evaluator{programs: make(map[string]*vm.Program)}
}

// Evaluate runs expression against data and returns its numeric result.
func (e *Evaluator) Evaluate(expression string, data []byte) (float64, error) {
	program, err := e.compile(expression)
	if err != nil {
		return 0, err
	}

	out, err := expr.Run(program, environment(data))
	if err != nil {
		return 0, fmt.Errorf("run %q: %w", expression, err)
	}
	return toFloat(out)
}

func (e *Evaluator) compile(expression string) (*vm.Program, error) {
	if expression == "" {
		return nil, ErrEmptyExpression
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if p, ok := e.programs[expression]; ok {
		return p, nil
	}
	p, err := expr.Compile(expression)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", expression, err)
	}
	e.programs[expression] = p
	return p, nil
}

func environment(data []byte) map[string]any {
	env := make(map[string]any, len(data)+2)
	bytes := make([]int, len(data))
	for i, b := range data {
		env["B"+strconv.Itoa(i)] = int(b)
		bytes[i] = int(b)
	}
	env["bytes"] = bytes
	env["size"] = len(data)
	return env
}

func toFloat(v any) (float64, error) {
	var f float64
	switch n := v.(type) {
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case float32:
		f = float64(n)
	case float64:
		f = n
	default:
		return 0, fmt.Errorf("%w: %T", ErrNotNumeric, v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %v", ErrNotNumeric, f)
	}
	return f, nil
}
