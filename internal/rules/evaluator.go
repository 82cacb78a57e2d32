// Package rules evaluates trigger rule expressions against events.
// Evaluation is pure and deterministic: identical rule, event, and
// computed properties always produce the same answer, which analytics
// relies on to reproduce decisions.
package rules

import (
	"strings"

	"github.com/showpath/showgate/internal/core/domain"
)

// Evaluator resolves parameter lookups against an event plus a set of
// computed properties (device locale, days since install, and the
// like) supplied by the caller.
type Evaluator struct {
	props map[string]domain.Value
}

// NewEvaluator creates an evaluator with the given computed properties.
// props may be nil.
func NewEvaluator(props map[string]domain.Value) *Evaluator {
	return &Evaluator{props: props}
}

// Evaluate reports whether the expression matches the event. A nil
// expression matches unconditionally. Unknown parameter lookups resolve
// to null, which never matches, so a malformed rule degrades to
// non-presentation rather than erroring.
func (e *Evaluator) Evaluate(expr *domain.Expression, ev domain.Event) bool {
	if expr == nil {
		return true
	}
	switch expr.Op {
	case domain.OpAnd:
		for i := range expr.Operands {
			if !e.Evaluate(&expr.Operands[i], ev) {
				return false
			}
		}
		return true
	case domain.OpOr:
		for i := range expr.Operands {
			if e.Evaluate(&expr.Operands[i], ev) {
				return true
			}
		}
		return false
	case domain.OpNot:
		if len(expr.Operands) != 1 {
			return false
		}
		return !e.Evaluate(&expr.Operands[0], ev)
	}
	return e.evaluateLeaf(expr, ev)
}

func (e *Evaluator) evaluateLeaf(expr *domain.Expression, ev domain.Event) bool {
	left := e.lookup(expr.Param, ev)
	if left.IsNull() {
		return false
	}
	right := expr.Value

	switch expr.Op {
	case domain.OpEq:
		return left.Equal(right)
	case domain.OpNe:
		return !left.Equal(right)
	case domain.OpGt, domain.OpGte, domain.OpLt, domain.OpLte:
		return compareNumbers(expr.Op, left, right)
	case domain.OpIn:
		if right.Kind != domain.KindArray {
			return false
		}
		for _, item := range right.Array {
			if left.Equal(item) {
				return true
			}
		}
		return false
	case domain.OpContains:
		return contains(left, right)
	}
	return false
}

func (e *Evaluator) lookup(param string, ev domain.Event) domain.Value {
	if v, ok := ev.Parameters[param]; ok {
		return v
	}
	if v, ok := e.props[param]; ok {
		return v
	}
	return domain.Null
}

// compareNumbers only matches when both sides are numbers.
func compareNumbers(op domain.ExpressionOp, left, right domain.Value) bool {
	if left.Kind != domain.KindNumber || right.Kind != domain.KindNumber {
		return false
	}
	switch op {
	case domain.OpGt:
		return left.Number > right.Number
	case domain.OpGte:
		return left.Number >= right.Number
	case domain.OpLt:
		return left.Number < right.Number
	case domain.OpLte:
		return left.Number <= right.Number
	}
	return false
}

// contains is substring match on strings and membership on arrays.
func contains(left, right domain.Value) bool {
	switch left.Kind {
	case domain.KindString:
		return right.Kind == domain.KindString && strings.Contains(left.Str, right.Str)
	case domain.KindArray:
		for _, item := range left.Array {
			if item.Equal(right) {
				return true
			}
		}
	}
	return false
}
