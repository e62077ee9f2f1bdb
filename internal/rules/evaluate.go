package rules

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fjacquet/bankfetch/internal/models"
)

// Evaluate reports whether tx satisfies the tree. The tree must have been
// validated. Evaluation has no side effects.
func Evaluate(n *Node, tx *models.Transaction) bool {
	switch n.Kind {
	case KindNot:
		return !Evaluate(&n.Children[0], tx)
	case KindAnd:
		for i := range n.Children {
			if !Evaluate(&n.Children[i], tx) {
				return false
			}
		}
		return true
	case KindOr:
		for i := range n.Children {
			if Evaluate(&n.Children[i], tx) {
				return true
			}
		}
		return false
	case KindPredicate:
		return n.match(project(n.Field, tx))
	}
	return false
}

// Evaluate is the method form of Evaluate.
func (n *Node) Evaluate(tx *models.Transaction) bool {
	return Evaluate(n, tx)
}

// fieldValue is a projected transaction field. A null value fails every
// comparison except isnull.
type fieldValue struct {
	null    bool
	text    string
	number  decimal.Decimal
	numeric bool
}

func textValue(s string) fieldValue { return fieldValue{text: s} }

func numberValue(d decimal.Decimal) fieldValue {
	return fieldValue{text: d.String(), number: d, numeric: true}
}

func intValue(i int) fieldValue {
	return fieldValue{text: strconv.Itoa(i), number: decimal.NewFromInt(int64(i)), numeric: true}
}

func accountValue(a *models.Account) fieldValue {
	if a == nil {
		return fieldValue{null: true}
	}
	return textValue(a.Name)
}

func dateValue(t time.Time, part string) fieldValue {
	if t.IsZero() {
		return fieldValue{null: true}
	}
	switch part {
	case "day":
		return intValue(t.Day())
	case "month":
		return intValue(int(t.Month()))
	case "year":
		return intValue(t.Year())
	}
	return textValue(t.Format(models.DateLayout))
}

func project(field string, tx *models.Transaction) fieldValue {
	name, part, _ := strings.Cut(field, "$")
	switch name {
	case "transaction_date":
		return dateValue(tx.TransactionDate, part)
	case "bill_date":
		return dateValue(tx.BillDate, part)
	case "transaction_amount":
		return numberValue(tx.TransactionAmount)
	case "billed_amount":
		return numberValue(tx.BilledAmount)
	case "original_currency":
		return textValue(tx.OriginalCurrency)
	case "description":
		return textValue(tx.Description)
	case "notes":
		return textValue(tx.Notes)
	case "from_account":
		return accountValue(tx.FromAccount)
	case "to_account":
		return accountValue(tx.ToAccount)
	}
	return fieldValue{null: true}
}

func (n *Node) match(v fieldValue) bool {
	if n.Op == OpIsNull {
		return v.null == n.Null
	}
	if v.null {
		return false
	}
	switch n.Op {
	case OpEq:
		return v.text == n.Text
	case OpRegex:
		re := n.re
		if re == nil {
			var err error
			if re, err = regexp.Compile(n.Text); err != nil {
				return false
			}
		}
		return re.MatchString(v.text)
	case OpLt:
		return v.numeric && v.number.LessThan(n.Number)
	case OpLe:
		return v.numeric && v.number.LessThanOrEqual(n.Number)
	case OpGt:
		return v.numeric && v.number.GreaterThan(n.Number)
	case OpGe:
		return v.numeric && v.number.GreaterThanOrEqual(n.Number)
	}
	return false
}
