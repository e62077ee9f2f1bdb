package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionBuilder provides a fluent API for constructing transactions.
// The first failing step latches its error and later steps are no-ops, so
// a backend can chain every field of a row and check once in Build.
type TransactionBuilder struct {
	tx  Transaction
	err error
}

// NewTransactionBuilder starts a transaction in the default currency.
func NewTransactionBuilder() *TransactionBuilder {
	return &TransactionBuilder{
		tx: Transaction{
			OriginalCurrency:  DefaultCurrency,
			TransactionAmount: decimal.Zero,
			BilledAmount:      decimal.Zero,
		},
	}
}

// WithTransactionDate sets the date the movement occurred.
func (b *TransactionBuilder) WithTransactionDate(date time.Time) *TransactionBuilder {
	if b.err != nil {
		return b
	}
	if date.IsZero() {
		b.err = errors.New("transaction date cannot be zero")
		return b
	}
	b.tx.TransactionDate = TruncateDay(date)
	return b
}

// WithTransactionDateString parses the transaction date with layout.
func (b *TransactionBuilder) WithTransactionDateString(layout, value string) *TransactionBuilder {
	if b.err != nil {
		return b
	}
	date, err := ParseDate(layout, strings.TrimSpace(value))
	if err != nil {
		b.err = fmt.Errorf("invalid transaction date %q: %w", value, err)
		return b
	}
	return b.WithTransactionDate(date)
}

// WithBillDate sets the billing date. When never set, Build copies the
// transaction date.
func (b *TransactionBuilder) WithBillDate(date time.Time) *TransactionBuilder {
	if b.err != nil {
		return b
	}
	b.tx.BillDate = TruncateDay(date)
	return b
}

// WithBillDateString parses the bill date with layout.
func (b *TransactionBuilder) WithBillDateString(layout, value string) *TransactionBuilder {
	if b.err != nil {
		return b
	}
	date, err := ParseDate(layout, strings.TrimSpace(value))
	if err != nil {
		b.err = fmt.Errorf("invalid bill date %q: %w", value, err)
		return b
	}
	return b.WithBillDate(date)
}

// FromAccount marks account as the paying side.
func (b *TransactionBuilder) FromAccount(account *Account) *TransactionBuilder {
	if b.err != nil {
		return b
	}
	b.tx.FromAccount = account
	return b
}

// ToAccount marks account as the receiving side.
func (b *TransactionBuilder) ToAccount(account *Account) *TransactionBuilder {
	if b.err != nil {
		return b
	}
	b.tx.ToAccount = account
	return b
}

// WithSignedAmount places account on the from side for a negative amount
// and on the to side otherwise; both amounts get the absolute value.
func (b *TransactionBuilder) WithSignedAmount(amount decimal.Decimal, account *Account) *TransactionBuilder {
	if b.err != nil {
		return b
	}
	if amount.IsNegative() {
		b.tx.FromAccount = account
	} else {
		b.tx.ToAccount = account
	}
	abs := amount.Abs()
	b.tx.TransactionAmount = abs
	b.tx.BilledAmount = abs
	return b
}

// WithAmount sets both amounts to the same magnitude.
func (b *TransactionBuilder) WithAmount(amount decimal.Decimal) *TransactionBuilder {
	return b.WithAmounts(amount, amount)
}

// WithAmounts sets the original-currency and billed magnitudes.
func (b *TransactionBuilder) WithAmounts(transaction, billed decimal.Decimal) *TransactionBuilder {
	if b.err != nil {
		return b
	}
	if transaction.IsNegative() || billed.IsNegative() {
		b.err = fmt.Errorf("amounts must not be negative: %s / %s", transaction, billed)
		return b
	}
	b.tx.TransactionAmount = transaction
	b.tx.BilledAmount = billed
	return b
}

// WithCurrency sets the original currency code.
func (b *TransactionBuilder) WithCurrency(currency string) *TransactionBuilder {
	if b.err != nil {
		return b
	}
	if currency == "" {
		b.err = errors.New("currency cannot be empty")
		return b
	}
	b.tx.OriginalCurrency = currency
	return b
}

// WithDescription sets the description verbatim. Descriptions are part of
// the uniqueness key, so they are not normalised here.
func (b *TransactionBuilder) WithDescription(description string) *TransactionBuilder {
	if b.err != nil {
		return b
	}
	b.tx.Description = description
	return b
}

// WithNotes sets free-form notes.
func (b *TransactionBuilder) WithNotes(notes string) *TransactionBuilder {
	if b.err != nil {
		return b
	}
	b.tx.Notes = notes
	return b
}

// WithConfirmation sets the provider reference number.
func (b *TransactionBuilder) WithConfirmation(confirmation int64) *TransactionBuilder {
	if b.err != nil {
		return b
	}
	b.tx.Confirmation = &confirmation
	return b
}

// WithConfirmationString parses a decimal reference number.
func (b *TransactionBuilder) WithConfirmationString(value string) *TransactionBuilder {
	if b.err != nil {
		return b
	}
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		b.err = fmt.Errorf("invalid confirmation %q: %w", value, err)
		return b
	}
	return b.WithConfirmation(n)
}

// WithCategory assigns a category.
func (b *TransactionBuilder) WithCategory(category *Category) *TransactionBuilder {
	if b.err != nil {
		return b
	}
	b.tx.Category = category
	return b
}

// Build validates the transaction and derives its ID.
func (b *TransactionBuilder) Build() (Transaction, error) {
	if b.err != nil {
		return Transaction{}, b.err
	}
	tx := b.tx
	if tx.BillDate.IsZero() {
		tx.BillDate = tx.TransactionDate
	}
	if err := tx.Validate(); err != nil {
		return Transaction{}, err
	}
	tx.DeriveID()
	return tx, nil
}

// Err returns the latched error, if any.
func (b *TransactionBuilder) Err() error {
	return b.err
}
