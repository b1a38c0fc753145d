package model

import (
	"fmt"
	"strings"
)

// Operator is the comparison applied by a simple segment. The zero value means
// no operator: the segment only requires the event to have occurred.
type Operator int

const (
	OpNone Operator = iota
	OpEq
	OpNeq
	OpGt
	OpLt
	OpGtEq
	OpLtEq
	OpLike
	OpNotLike
	OpAnyOf
	OpNoneOf
	OpIsNull
	OpIsNotNull
)

var operatorNames = map[Operator]string{
	OpEq:        "EQ",
	OpNeq:       "NEQ",
	OpGt:        "GT",
	OpLt:        "LT",
	OpGtEq:      "GT_EQ",
	OpLtEq:      "LT_EQ",
	OpLike:      "LIKE",
	OpNotLike:   "NOT_LIKE",
	OpAnyOf:     "ANY_OF",
	OpNoneOf:    "NONE_OF",
	OpIsNull:    "IS_NULL",
	OpIsNotNull: "IS_NOT_NULL",
}

// Human readable forms, used in labels and logs.
var operatorSymbols = map[Operator]string{
	OpEq:        "=",
	OpNeq:       "!=",
	OpGt:        ">",
	OpLt:        "<",
	OpGtEq:      ">=",
	OpLtEq:      "<=",
	OpLike:      "like",
	OpNotLike:   "not like",
	OpAnyOf:     "is",
	OpNoneOf:    "is not",
	OpIsNull:    "is null",
	OpIsNotNull: "is not null",
}

// Operators lists every operator in declaration order.
func Operators() []Operator {
	return []Operator{OpEq, OpNeq, OpGt, OpLt, OpGtEq, OpLtEq, OpLike, OpNotLike, OpAnyOf, OpNoneOf, OpIsNull, OpIsNotNull}
}

func (o Operator) String() string {
	if name, ok := operatorNames[o]; ok {
		return name
	}
	if o == OpNone {
		return "NONE"
	}
	return fmt.Sprintf("Operator(%d)", int(o))
}

// Symbol returns the display form of the operator.
func (o Operator) Symbol() string {
	return operatorSymbols[o]
}

// TakesList reports whether the right-hand side is a list of values.
func (o Operator) TakesList() bool {
	return o == OpAnyOf || o == OpNoneOf
}

// IgnoresRight reports whether the right-hand side is never read.
func (o Operator) IgnoresRight() bool {
	return o == OpNone || o == OpIsNull || o == OpIsNotNull
}

// ParseOperator looks an operator up by name, ignoring case.
func ParseOperator(name string) (Operator, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for op, n := range operatorNames {
		if n == upper {
			return op, nil
		}
	}
	return OpNone, fmt.Errorf("unknown operator %q", name)
}

// BinaryOperator joins two segments.
type BinaryOperator int

const (
	And BinaryOperator = iota + 1
	Or
)

func (b BinaryOperator) String() string {
	switch b {
	case And:
		return "AND"
	case Or:
		return "OR"
	}
	return fmt.Sprintf("BinaryOperator(%d)", int(b))
}

// ParseBinaryOperator looks a binary operator up by name, ignoring case.
func ParseBinaryOperator(name string) (BinaryOperator, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "AND":
		return And, nil
	case "OR":
		return Or, nil
	}
	return 0, fmt.Errorf("unknown binary operator %q", name)
}
