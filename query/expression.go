// Package query implements the filter expression language and the
// query engine that composes entity filters, expression evaluation,
// projection and pagination over the entity store.
package query

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/junctive/contexd/entity"
	"github.com/junctive/contexd/errors"
)

// Expression is a parsed filter expression: an OR-list of clauses,
// each clause an AND-list of terms. Comma separates clauses,
// semicolon separates terms within a clause.
type Expression struct {
	clauses [][]term
	source  string
}

type termOp int

const (
	opPresent termOp = iota
	opEqual
	opNotEqual
	opGreater
	opLess
	opGreaterEq
	opLessEq
	opRange
)

type term struct {
	attr string
	op   termOp

	value string
	// Range bounds, inclusive on both ends
	low, high string
}

// ParseExpression parses a filter expression string. Malformed input
// fails before any store access.
func ParseExpression(source string) (*Expression, error) {
	if strings.TrimSpace(source) == "" {
		return nil, errors.InvalidExpressionf("empty expression")
	}

	expr := &Expression{source: source}
	for _, clauseSrc := range strings.Split(source, ",") {
		var clause []term
		for _, termSrc := range strings.Split(clauseSrc, ";") {
			t, err := parseTerm(termSrc)
			if err != nil {
				return nil, err
			}
			clause = append(clause, t)
		}
		expr.clauses = append(expr.clauses, clause)
	}
	return expr, nil
}

// operators ordered so two-character forms are tried before their
// one-character prefixes
var operators = []struct {
	token string
	op    termOp
}{
	{"==", opEqual},
	{"!=", opNotEqual},
	{">=", opGreaterEq},
	{"<=", opLessEq},
	{">", opGreater},
	{"<", opLess},
	{"=", opEqual}, // legacy single-equals form
}

func parseTerm(src string) (term, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return term{}, errors.InvalidExpressionf("empty term")
	}

	for _, cand := range operators {
		idx := strings.Index(src, cand.token)
		if idx < 0 {
			continue
		}
		attr := strings.TrimSpace(src[:idx])
		value := strings.TrimSpace(src[idx+len(cand.token):])
		if attr == "" {
			return term{}, errors.InvalidExpressionf("missing attribute name in %q", src)
		}
		if value == "" {
			return term{}, errors.InvalidExpressionf("missing value in %q", src)
		}

		// Inclusive range form: attr==min..max
		if cand.op == opEqual {
			if low, high, ok := strings.Cut(value, ".."); ok {
				low, high = strings.TrimSpace(low), strings.TrimSpace(high)
				if low == "" || high == "" {
					return term{}, errors.InvalidExpressionf("malformed range in %q", src)
				}
				return term{attr: attr, op: opRange, low: low, high: high}, nil
			}
		}
		return term{attr: attr, op: cand.op, value: value}, nil
	}

	// Bare attribute name means existence
	return term{attr: src, op: opPresent}, nil
}

// String returns the original expression source.
func (e *Expression) String() string {
	return e.source
}

// Matches evaluates the expression against an entity. An attribute
// absent from the entity makes any term referencing it false.
func (e *Expression) Matches(ent *entity.Entity) bool {
	for _, clause := range e.clauses {
		if clauseMatches(clause, ent) {
			return true
		}
	}
	return false
}

func clauseMatches(clause []term, ent *entity.Entity) bool {
	for _, t := range clause {
		if !t.matches(ent) {
			return false
		}
	}
	return true
}

func (t term) matches(ent *entity.Entity) bool {
	attr, ok := ent.Attr(t.attr)
	if !ok {
		return false
	}

	switch t.op {
	case opPresent:
		return true
	case opRange:
		return compareValues(attr.Value, t.low) >= 0 && compareValues(attr.Value, t.high) <= 0
	}

	cmp := compareValues(attr.Value, t.value)
	switch t.op {
	case opEqual:
		return cmp == 0
	case opNotEqual:
		return cmp != 0
	case opGreater:
		return cmp > 0
	case opLess:
		return cmp < 0
	case opGreaterEq:
		return cmp >= 0
	case opLessEq:
		return cmp <= 0
	}
	return false
}

// compareValues compares an attribute value against an expression
// literal. Both sides are compared numerically when both parse as
// numbers, otherwise as strings.
func compareValues(attrValue interface{}, literal string) int {
	left := valueString(attrValue)

	leftNum, leftErr := strconv.ParseFloat(left, 64)
	rightNum, rightErr := strconv.ParseFloat(literal, 64)
	if leftErr == nil && rightErr == nil {
		switch {
		case leftNum < rightNum:
			return -1
		case leftNum > rightNum:
			return 1
		default:
			return 0
		}
	}

	return strings.Compare(left, literal)
}

// valueString renders an attribute value for comparison purposes.
func valueString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		if val {
			return "true"
		}
		return "false"
	case nil:
		return "null"
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
