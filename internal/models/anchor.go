package models

import (
	"fmt"
	"time"
)

// Anchor identifies the last transaction a caller has already consumed
// from an account, for incremental resume.
type Anchor struct {
	AccountID    string    `json:"account_id"`
	Date         time.Time `json:"date"`
	Confirmation int64     `json:"confirmation"`
}

// Matches reports whether tx is the anchored transaction. Matching is exact
// on account backend id, date and confirmation number.
func (a Anchor) Matches(tx *Transaction) bool {
	if tx.Confirmation == nil || *tx.Confirmation != a.Confirmation {
		return false
	}
	if !tx.TransactionDate.Equal(a.Date) {
		return false
	}
	return (tx.FromAccount != nil && tx.FromAccount.BackendID == a.AccountID) ||
		(tx.ToAccount != nil && tx.ToAccount.BackendID == a.AccountID)
}

// AnchorFor builds the anchor of tx, taking the account from whichever side
// is set. It fails for transactions without a confirmation number.
func AnchorFor(tx *Transaction) (Anchor, error) {
	if tx.Confirmation == nil {
		return Anchor{}, fmt.Errorf("transaction %q has no confirmation number", tx.Description)
	}
	acc := tx.FromAccount
	if acc == nil {
		acc = tx.ToAccount
	}
	if acc == nil {
		return Anchor{}, ErrNoAccount
	}
	return Anchor{AccountID: acc.BackendID, Date: tx.TransactionDate, Confirmation: *tx.Confirmation}, nil
}

func (a Anchor) String() string {
	return fmt.Sprintf("%s/%s/%d", a.AccountID, a.Date.Format(DateLayout), a.Confirmation)
}
