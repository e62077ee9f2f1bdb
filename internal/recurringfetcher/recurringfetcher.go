// Package recurringfetcher generates the monthly saving deposit configured
// on recurring accounts. It talks to nothing.
package recurringfetcher

import (
	"context"
	"fmt"

	"fjacquet/bankfetch/internal/fetcher"
	"fjacquet/bankfetch/internal/logging"
	"fjacquet/bankfetch/internal/models"
)

// Name is the registry name of this backend.
const Name = string(models.BackendRecurring)

// Fetcher is the recurring backend.
type Fetcher struct {
	fetcher.BaseFetcher
}

// New creates a recurring backend.
func New(logger logging.Logger) *Fetcher {
	return &Fetcher{BaseFetcher: fetcher.NewBaseFetcher(Name, fetcher.Options{}, logger)}
}

// Login needs no credentials.
func (f *Fetcher) Login(context.Context, fetcher.Credentials) (fetcher.Session, error) {
	return fetcher.NopSession{}, nil
}

// PeriodTransactions yields one deposit per account dated the first of the
// month. Accounts without recurring settings are skipped.
func (f *Fetcher) PeriodTransactions(_ context.Context, _ fetcher.Session, period models.Period, accounts []models.Account) ([]models.Transaction, error) {
	txs := make([]models.Transaction, 0, len(accounts))
	for i := range accounts {
		account := &accounts[i]
		settings, ok := account.Settings.(models.RecurringSettings)
		if !ok {
			f.GetLogger().Warn("Account has no recurring settings", logging.F(logging.FieldAccount, account.Name))
			continue
		}
		tx, ok, err := Deposit(period, account, settings)
		if err != nil {
			return nil, fmt.Errorf("%s: account %s: %w", Name, account.Name, err)
		}
		if ok {
			txs = append(txs, tx)
		}
	}
	return txs, nil
}

// Deposit computes the deposit of account for period. It reports false
// when the first of the month falls before the start date or after the
// end date.
func Deposit(period models.Period, account *models.Account, settings models.RecurringSettings) (models.Transaction, bool, error) {
	date := period.First()
	if date.Before(models.TruncateDay(settings.StartDate)) {
		return models.Transaction{}, false, nil
	}
	description := "Saving"
	if settings.EndDate != nil {
		end := models.TruncateDay(*settings.EndDate)
		if date.After(end) {
			return models.Transaction{}, false, nil
		}
		description = "Saving due " + end.Format(models.DateLayout)
	}
	tx, err := models.NewTransactionBuilder().
		ToAccount(account).
		WithTransactionDate(date).
		WithAmount(settings.Amount).
		WithCurrency(models.CurrencyILS).
		WithDescription(description).
		Build()
	if err != nil {
		return models.Transaction{}, false, err
	}
	return tx, true, nil
}
