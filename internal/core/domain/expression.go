package domain

import (
	"encoding/json"
	"fmt"
)

// ExpressionOp is the operator of a rule expression node.
type ExpressionOp string

const (
	OpEq       ExpressionOp = "eq"
	OpNe       ExpressionOp = "ne"
	OpGt       ExpressionOp = "gt"
	OpGte      ExpressionOp = "gte"
	OpLt       ExpressionOp = "lt"
	OpLte      ExpressionOp = "lte"
	OpIn       ExpressionOp = "in"
	OpContains ExpressionOp = "contains"
	OpAnd      ExpressionOp = "and"
	OpOr       ExpressionOp = "or"
	OpNot      ExpressionOp = "not"
)

// Expression is a boolean predicate over event parameters and computed
// properties. Leaf nodes compare a parameter lookup against an operand
// value; and/or/not compose sub-expressions. A nil *Expression matches
// every event.
type Expression struct {
	Op ExpressionOp `json:"op"`

	// Param names the event parameter or computed property a leaf node
	// looks up.
	Param string `json:"param,omitempty"`

	// Value is the right-hand operand of a leaf node. For "in" it must
	// be an array.
	Value Value `json:"value,omitempty"`

	// Operands are the children of and/or/not nodes. "not" uses only
	// the first operand.
	Operands []Expression `json:"operands,omitempty"`
}

// Validate checks structural well-formedness of the expression tree.
func (e *Expression) Validate() error {
	if e == nil {
		return nil
	}
	switch e.Op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpContains:
		if e.Param == "" {
			return fmt.Errorf("expression op %q requires a param", e.Op)
		}
	case OpIn:
		if e.Param == "" {
			return fmt.Errorf("expression op %q requires a param", e.Op)
		}
		if e.Value.Kind != KindArray {
			return fmt.Errorf("expression op %q requires an array operand", e.Op)
		}
	case OpAnd, OpOr:
		if len(e.Operands) == 0 {
			return fmt.Errorf("expression op %q requires operands", e.Op)
		}
	case OpNot:
		if len(e.Operands) != 1 {
			return fmt.Errorf("expression op %q requires exactly one operand", e.Op)
		}
	default:
		return fmt.Errorf("unknown expression op %q", e.Op)
	}
	for i := range e.Operands {
		if err := e.Operands[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// UnmarshalJSON decodes and validates an expression node.
func (e *Expression) UnmarshalJSON(data []byte) error {
	type plain Expression
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = Expression(p)
	return e.Validate()
}
