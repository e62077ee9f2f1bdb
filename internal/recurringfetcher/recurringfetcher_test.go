package recurringfetcher

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fjacquet/bankfetch/internal/fetcher"
	"fjacquet/bankfetch/internal/logging"
	"fjacquet/bankfetch/internal/models"
)

func accounts() []models.Account {
	end := models.Date(2021, time.January, 1)
	return []models.Account{
		{Name: "open", BackendType: models.BackendRecurring, Settings: models.RecurringSettings{
			StartDate: models.Date(2020, time.January, 1),
			Amount:    decimal.NewFromInt(10),
		}},
		{Name: "ending", BackendType: models.BackendRecurring, Settings: models.RecurringSettings{
			StartDate: models.Date(2020, time.January, 1),
			EndDate:   &end,
			Amount:    decimal.NewFromInt(10),
		}},
	}
}

func TestDeposit(t *testing.T) {
	accs := accounts()
	tests := []struct {
		name     string
		period   models.Period
		account  int
		want     bool
		wantDesc string
	}{
		{"no end date", models.Period{Year: 2021, Month: time.February}, 0, true, "Saving"},
		{"end month", models.Period{Year: 2021, Month: time.January}, 1, true, "Saving due 2021-01-01"},
		{"after end", models.Period{Year: 2021, Month: time.February}, 1, false, ""},
		{"before start", models.Period{Year: 2019, Month: time.December}, 0, false, ""},
		{"start month", models.Period{Year: 2020, Month: time.January}, 0, true, "Saving"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			account := &accs[tt.account]
			tx, ok, err := Deposit(tt.period, account, account.Settings.(models.RecurringSettings))
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			if !tt.want {
				return
			}
			assert.Nil(t, tx.FromAccount)
			assert.Same(t, account, tx.ToAccount)
			assert.Equal(t, tt.period.First(), tx.TransactionDate)
			assert.Equal(t, tx.TransactionDate, tx.BillDate)
			assert.True(t, decimal.NewFromInt(10).Equal(tx.TransactionAmount))
			assert.True(t, tx.BilledAmount.Equal(tx.TransactionAmount))
			assert.Equal(t, tt.wantDesc, tx.Description)
			assert.Equal(t, models.CurrencyILS, tx.OriginalCurrency)
		})
	}
}

func TestPeriodTransactions(t *testing.T) {
	logger := logging.NewMockLogger()
	f := New(logger)

	session, err := f.Login(context.Background(), fetcher.Credentials{})
	require.NoError(t, err)
	require.NoError(t, session.Close())

	accs := append(accounts(), models.Account{Name: "misconfigured", BackendType: models.BackendRecurring})
	txs, err := f.PeriodTransactions(context.Background(), session, models.Period{Year: 2021, Month: time.February}, accs)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "open", txs[0].ToAccount.Name)
	assert.True(t, logger.HasEntry("WARN", "Account has no recurring settings"))
}
