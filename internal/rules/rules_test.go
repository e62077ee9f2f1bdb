package rules

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fjacquet/bankfetch/internal/models"
)

func fixtures() (t1, t2, t3 *models.Transaction) {
	account := &models.Account{Name: "acc1", BackendType: models.BackendLeumi}
	base := func(desc string, billed int64) *models.Transaction {
		return &models.Transaction{
			TransactionDate:   models.Date(2020, 1, 1),
			BillDate:          models.Date(2020, 2, 2),
			TransactionAmount: decimal.NewFromInt(12),
			BilledAmount:      decimal.NewFromInt(billed),
			OriginalCurrency:  "ILS",
			Description:       desc,
		}
	}
	t1 = base("test", 12)
	t1.FromAccount = account
	t2 = base("test 2", 12)
	t2.ToAccount = account
	t3 = base("test 3", 13)
	t3.ToAccount = account
	return t1, t2, t3
}

func mustParse(t *testing.T, doc string) Node {
	t.Helper()
	n, err := Parse([]byte(doc))
	require.NoError(t, err)
	return n
}

func TestEvaluate(t *testing.T) {
	t1, t2, t3 := fixtures()

	tests := []struct {
		name string
		rule string
		want [3]bool
	}{
		{"eq on number", `{"field":"billed_amount","eq":"12"}`, [3]bool{true, true, false}},
		{"eq on number mismatch", `{"field":"billed_amount","eq":"13"}`, [3]bool{false, false, true}},
		{"eq on string", `{"field":"original_currency","eq":"ILS"}`, [3]bool{true, true, true}},
		{"eq on other string", `{"field":"original_currency","eq":"USD"}`, [3]bool{false, false, false}},
		{"lt equal bound", `{"field":"billed_amount","lt":12}`, [3]bool{false, false, false}},
		{"gt equal bound", `{"field":"billed_amount","gt":12}`, [3]bool{false, false, true}},
		{"le", `{"field":"billed_amount","le":12}`, [3]bool{true, true, false}},
		{"ge", `{"field":"billed_amount","ge":12}`, [3]bool{true, true, true}},
		{"lt above", `{"field":"billed_amount","lt":14}`, [3]bool{true, true, true}},
		{"gt below", `{"field":"billed_amount","gt":11}`, [3]bool{true, true, true}},
		{"decimal bound", `{"field":"billed_amount","gt":12.5}`, [3]bool{false, false, true}},
		{"to_account is null", `{"field":"to_account","isnull":true}`, [3]bool{true, false, false}},
		{"to_account not null", `{"field":"to_account","isnull":false}`, [3]bool{false, true, true}},
		{"regex", `{"field":"description","regex":"2$"}`, [3]bool{false, true, false}},
		{"not", `{"not":{"field":"description","regex":"2$"}}`, [3]bool{true, false, true}},
		{"or", `{"or":[{"field":"description","eq":"test"},{"field":"billed_amount","eq":"12"}]}`, [3]bool{true, true, false}},
		{"and", `{"and":[{"field":"description","eq":"test"},{"field":"billed_amount","eq":"12"}]}`, [3]bool{true, false, false}},
		{"account name", `{"field":"from_account","eq":"acc1"}`, [3]bool{true, false, false}},
		{"bill day", `{"field":"bill_date$day","eq":"2"}`, [3]bool{true, true, true}},
		{"bill month", `{"field":"bill_date$month","ge":2}`, [3]bool{true, true, true}},
		{"transaction day", `{"field":"transaction_date$day","gt":1}`, [3]bool{false, false, false}},
		{"complex", `{"and":[
			{"not":{"not":{"and":[{"field":"billed_amount","le":12},{"field":"billed_amount","gt":10}]}}},
			{"or":[{"field":"description","regex":"test"},{"field":"description","eq":"test 2"}]}
		]}`, [3]bool{true, true, false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := mustParse(t, tt.rule)
			got := [3]bool{Evaluate(&n, t1), Evaluate(&n, t2), Evaluate(&n, t3)}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate_NullFailsComparisons(t *testing.T) {
	t1, _, _ := fixtures()
	for _, rule := range []string{
		`{"field":"to_account","eq":""}`,
		`{"field":"to_account","regex":".*"}`,
		`{"not":{"field":"to_account","eq":"x"}}`,
	} {
		n := mustParse(t, rule)
		want := n.Kind == KindNot
		assert.Equal(t, want, n.Evaluate(t1), rule)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		rule string
	}{
		{"two comparisons", `{"field":"billed_amount","le":12,"gt":10}`},
		{"no comparison", `{"field":"billed_amount"}`},
		{"unknown field", `{"field":"amount","eq":"1"}`},
		{"unknown date part", `{"field":"bill_date$week","eq":"1"}`},
		{"bare date", `{"field":"bill_date","eq":"2020-01-01"}`},
		{"unknown comparison", `{"field":"description","contains":"x"}`},
		{"eq with number", `{"field":"description","eq":12}`},
		{"lt with string", `{"field":"billed_amount","lt":"12"}`},
		{"lt on text field", `{"field":"description","lt":12}`},
		{"isnull with string", `{"field":"to_account","isnull":"yes"}`},
		{"bad regex", `{"field":"description","regex":"("}`},
		{"and with one child", `{"and":[{"field":"description","eq":"x"}]}`},
		{"or with none", `{"or":[]}`},
		{"or not a list", `{"or":{"field":"description","eq":"x"}}`},
		{"not with list", `{"not":[{"field":"description","eq":"x"}]}`},
		{"mixed keys", `{"not":{"field":"description","eq":"x"},"and":[]}`},
		{"unknown combinator", `{"xor":[]}`},
		{"nested failure", `{"not":{"field":"nope","eq":"x"}}`},
		{"not an object", `"description"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.rule))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidRule)
		})
	}
}

func TestParseYAML_LargeIntegerOperand(t *testing.T) {
	tests := []struct {
		name string
		rule string
		want string
	}{
		{"int64", "field: billed_amount\ngt: 9223372036854775807\n", "9223372036854775807"},
		{"above int64", "field: billed_amount\ngt: 18446744073709551615\n", "18446744073709551615"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := ParseYAML([]byte(tt.rule))
			require.NoError(t, err)
			assert.Equal(t, tt.want, n.Number.String())
			assert.True(t, n.Number.IsPositive())
		})
	}
}

func TestParse_UnknownFieldListsAllowedFields(t *testing.T) {
	_, err := Parse([]byte(`{"field":"amount","eq":"1"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown field "amount"`)
	for _, f := range []string{"billed_amount", "description", "transaction_date$day"} {
		assert.Contains(t, err.Error(), f)
	}
	assert.Contains(t, Fields(), "to_account")
}

func TestValidate_Constructors(t *testing.T) {
	n := And(
		Eq("description", "x"),
		Or(Regex("notes", "^a"), IsNull("from_account", true)),
		Not(Compare("billed_amount", OpGt, decimal.NewFromInt(5))),
	)
	require.NoError(t, n.Validate())

	bad := And(Eq("description", "x"))
	err := bad.Validate()
	require.ErrorIs(t, err, ErrInvalidRule)
	assert.Contains(t, err.Error(), "$")
}

func TestParseYAML(t *testing.T) {
	doc := `
and:
  - field: description
    regex: "^test"
  - field: billed_amount
    le: 12
`
	n, err := ParseYAML([]byte(doc))
	require.NoError(t, err)
	t1, t2, t3 := fixtures()
	assert.True(t, n.Evaluate(t1))
	assert.True(t, n.Evaluate(t2))
	assert.False(t, n.Evaluate(t3))

	_, err = ParseYAML([]byte("field: description\nle: 1\n"))
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestNode_RoundTrip(t *testing.T) {
	src := `{"or":[{"field":"billed_amount","le":12.5},{"not":{"field":"to_account","isnull":true}}]}`
	n := mustParse(t, src)
	out, err := n.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, src, string(out))
}
