package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction is one money movement normalised across providers.
//
// A nil FromAccount or ToAccount means the other side is outside the
// tracked account set. Amounts are magnitudes; direction is carried by
// which side is set.
type Transaction struct {
	ID                string
	TransactionDate   time.Time
	BillDate          time.Time
	FromAccount       *Account
	ToAccount         *Account
	TransactionAmount decimal.Decimal
	BilledAmount      decimal.Decimal
	OriginalCurrency  string
	Description       string
	Notes             string
	Confirmation      *int64
	Category          *Category
}

var ErrNoAccount = errors.New("transaction has neither from_account nor to_account")

// transactionNamespace seeds the deterministic transaction IDs.
var transactionNamespace = uuid.MustParse("6f1c2b1e-7d0a-4f57-9a53-6c2d0b8e4a11")

// Validate enforces the record invariants.
func (t *Transaction) Validate() error {
	if t.FromAccount == nil && t.ToAccount == nil {
		return ErrNoAccount
	}
	if t.TransactionDate.IsZero() {
		return fmt.Errorf("transaction_date is required")
	}
	if t.TransactionAmount.IsNegative() || t.BilledAmount.IsNegative() {
		return fmt.Errorf("amounts must be magnitudes, got %s / %s", t.TransactionAmount, t.BilledAmount)
	}
	return nil
}

// IsTransfer reports whether both sides are tracked accounts.
func (t *Transaction) IsTransfer() bool {
	return t.FromAccount != nil && t.ToAccount != nil
}

// TransactionKey is the storage uniqueness key.
type TransactionKey struct {
	TransactionDate string
	FromAccount     string
	ToAccount       string
	BilledAmount    string
	Description     string
}

func (k TransactionKey) String() string {
	return strings.Join([]string{k.TransactionDate, k.FromAccount, k.ToAccount, k.BilledAmount, k.Description}, "\x1f")
}

// Key returns the uniqueness key. Amount and date renderings are canonical
// so that the same input always yields the same key.
func (t *Transaction) Key() TransactionKey {
	return TransactionKey{
		TransactionDate: t.TransactionDate.Format(DateLayout),
		FromAccount:     accountName(t.FromAccount),
		ToAccount:       accountName(t.ToAccount),
		BilledAmount:    t.BilledAmount.String(),
		Description:     t.Description,
	}
}

// DeriveID fills ID from the uniqueness key.
func (t *Transaction) DeriveID() {
	t.ID = uuid.NewSHA1(transactionNamespace, []byte(t.Key().String())).String()
}

// CategoryTitle returns the assigned category title or "".
func (t *Transaction) CategoryTitle() string {
	if t.Category == nil {
		return ""
	}
	return t.Category.Title
}

func accountName(a *Account) string {
	if a == nil {
		return ""
	}
	return a.Name
}

type transactionJSON struct {
	ID                string          `json:"id"`
	TransactionDate   string          `json:"transaction_date"`
	BillDate          string          `json:"bill_date"`
	FromAccount       *string         `json:"from_account"`
	ToAccount         *string         `json:"to_account"`
	TransactionAmount decimal.Decimal `json:"transaction_amount"`
	BilledAmount      decimal.Decimal `json:"billed_amount"`
	OriginalCurrency  string          `json:"original_currency"`
	Description       string          `json:"description"`
	Notes             string          `json:"notes"`
	Confirmation      *int64          `json:"confirmation"`
	Category          *string         `json:"category"`
	Transfer          bool            `json:"transfer"`
}

// MarshalJSON renders accounts and category by name and dates as
// YYYY-MM-DD, and flags movements between two tracked accounts.
func (t Transaction) MarshalJSON() ([]byte, error) {
	out := transactionJSON{
		ID:                t.ID,
		TransactionDate:   t.TransactionDate.Format(DateLayout),
		BillDate:          t.BillDate.Format(DateLayout),
		TransactionAmount: t.TransactionAmount,
		BilledAmount:      t.BilledAmount,
		OriginalCurrency:  t.OriginalCurrency,
		Description:       t.Description,
		Notes:             t.Notes,
		Confirmation:      t.Confirmation,
		Transfer:          t.IsTransfer(),
	}
	if t.FromAccount != nil {
		out.FromAccount = &t.FromAccount.Name
	}
	if t.ToAccount != nil {
		out.ToAccount = &t.ToAccount.Name
	}
	if t.Category != nil {
		out.Category = &t.Category.Title
	}
	return json.Marshal(out)
}
