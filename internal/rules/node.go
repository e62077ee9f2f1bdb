// Package rules implements the classification rule trees: predicates over
// a transaction field combined with not, and, or.
package rules

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Kind tags a Node.
type Kind string

const (
	KindPredicate Kind = "predicate"
	KindNot       Kind = "not"
	KindAnd       Kind = "and"
	KindOr        Kind = "or"
)

// Op is a predicate comparison.
type Op string

const (
	OpEq     Op = "eq"
	OpLt     Op = "lt"
	OpLe     Op = "le"
	OpGt     Op = "gt"
	OpGe     Op = "ge"
	OpRegex  Op = "regex"
	OpIsNull Op = "isnull"
)

var ops = map[Op]bool{OpEq: true, OpLt: true, OpLe: true, OpGt: true, OpGe: true, OpRegex: true, OpIsNull: true}

func (o Op) numeric() bool {
	return o == OpLt || o == OpLe || o == OpGt || o == OpGe
}

// Fields that predicates may reference. Numeric fields accept the ordering
// comparisons.
var fields = map[string]bool{
	"transaction_date$day":   true,
	"transaction_date$month": true,
	"transaction_date$year":  true,
	"bill_date$day":          true,
	"bill_date$month":        true,
	"bill_date$year":         true,
	"transaction_amount":     true,
	"billed_amount":          true,
	"original_currency":      false,
	"description":            false,
	"notes":                  false,
	"from_account":           false,
	"to_account":             false,
}

// Fields returns the allowed field names, sorted.
func Fields() []string {
	out := make([]string, 0, len(fields))
	for f := range fields {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// ErrInvalidRule wraps every validation failure.
var ErrInvalidRule = errors.New("invalid rule")

// Node is one element of a rule tree. Predicates use Field, Op and the
// operand matching Op; combinators use Children.
type Node struct {
	Kind Kind

	Field string
	Op    Op
	// Text is the operand of eq and regex.
	Text string
	// Number is the operand of lt, le, gt and ge.
	Number decimal.Decimal
	// Null is the operand of isnull.
	Null bool

	Children []Node

	re *regexp.Regexp
}

// Eq builds an equality predicate on the string form of field.
func Eq(field, text string) Node {
	return Node{Kind: KindPredicate, Field: field, Op: OpEq, Text: text}
}

// Regex builds a regex search predicate.
func Regex(field, pattern string) Node {
	return Node{Kind: KindPredicate, Field: field, Op: OpRegex, Text: pattern}
}

// Compare builds an ordering predicate.
func Compare(field string, op Op, number decimal.Decimal) Node {
	return Node{Kind: KindPredicate, Field: field, Op: op, Number: number}
}

// IsNull builds a null check.
func IsNull(field string, null bool) Node {
	return Node{Kind: KindPredicate, Field: field, Op: OpIsNull, Null: null}
}

// Not negates child.
func Not(child Node) Node { return Node{Kind: KindNot, Children: []Node{child}} }

// And holds when every child holds.
func And(children ...Node) Node { return Node{Kind: KindAnd, Children: children} }

// Or holds when any child holds.
func Or(children ...Node) Node { return Node{Kind: KindOr, Children: children} }

// Validate checks the whole tree and compiles its regexes. It must succeed
// before the tree is evaluated.
func (n *Node) Validate() error {
	return n.validate("$")
}

func invalid(path, format string, args ...interface{}) error {
	return fmt.Errorf("%w at %s: %s", ErrInvalidRule, path, fmt.Sprintf(format, args...))
}

func (n *Node) validate(path string) error {
	switch n.Kind {
	case KindPredicate:
		numeric, ok := fields[n.Field]
		if !ok {
			return invalid(path, "unknown field %q, want one of %s", n.Field, strings.Join(Fields(), ", "))
		}
		if !ops[n.Op] {
			return invalid(path, "unknown comparison %q", n.Op)
		}
		if n.Op.numeric() && !numeric {
			return invalid(path, "%s needs a numeric field, %q is not", n.Op, n.Field)
		}
		if n.Op == OpRegex {
			re, err := regexp.Compile(n.Text)
			if err != nil {
				return invalid(path, "bad regex: %v", err)
			}
			n.re = re
		}
		if len(n.Children) > 0 {
			return invalid(path, "a predicate has no children")
		}
	case KindNot:
		if len(n.Children) != 1 {
			return invalid(path, "not takes exactly one rule, got %d", len(n.Children))
		}
	case KindAnd, KindOr:
		if len(n.Children) < 2 {
			return invalid(path, "%s takes at least two rules, got %d", n.Kind, len(n.Children))
		}
	default:
		return invalid(path, "unknown node kind %q", n.Kind)
	}
	for i := range n.Children {
		if err := n.Children[i].validate(fmt.Sprintf("%s.%s[%d]", path, n.Kind, i)); err != nil {
			return err
		}
	}
	return nil
}
