package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fjacquet/bankfetch/internal/logging"
	"fjacquet/bankfetch/internal/models"
)

func openMemory(t *testing.T, accounts AccountLookup) *TransactionStore {
	t.Helper()
	s, err := OpenTransactionStore(MemoryDatabase, accounts, logging.NewMockLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func storedTx(desc string, amount int64, from, to *models.Account) models.Transaction {
	confirmation := int64(77)
	return models.Transaction{
		TransactionDate:   models.Date(2024, 2, 10),
		BillDate:          models.Date(2024, 3, 2),
		FromAccount:       from,
		ToAccount:         to,
		TransactionAmount: decimal.NewFromInt(amount),
		BilledAmount:      decimal.NewFromInt(amount),
		OriginalCurrency:  models.CurrencyILS,
		Description:       desc,
		Notes:             "n",
		Confirmation:      &confirmation,
	}
}

func TestTransactionStore_SaveDeduplicates(t *testing.T) {
	s := openMemory(t, nil)
	ctx := context.Background()
	checking := &models.Account{Name: "checking", BackendType: models.BackendLeumi}

	first := s.Save(ctx, []models.Transaction{
		storedTx("Cafe", 10, checking, nil),
		storedTx("Rent", 2000, checking, nil),
	})
	require.Len(t, first, 2)
	assert.Equal(t, SaveInserted, first[0].Status)
	assert.Equal(t, SaveInserted, first[1].Status)
	assert.NotEmpty(t, first[0].ID)

	// same key twice and one invalid record: the batch still completes
	second := s.Save(ctx, []models.Transaction{
		storedTx("Cafe", 10, checking, nil),
		storedTx("Orphan", 5, nil, nil),
		storedTx("Cafe", 11, checking, nil),
	})
	require.Len(t, second, 3)
	assert.Equal(t, SaveDuplicate, second[0].Status)
	assert.Equal(t, SaveFailed, second[1].Status)
	assert.ErrorIs(t, second[1].Err, models.ErrNoAccount)
	assert.Equal(t, SaveInserted, second[2].Status)

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestTransactionStore_NullSidesAreUnique(t *testing.T) {
	s := openMemory(t, nil)
	ctx := context.Background()
	card := &models.Account{Name: "visa", BackendType: models.BackendCal}

	results := s.Save(ctx, []models.Transaction{
		storedTx("Refund", 30, nil, card),
		storedTx("Refund", 30, nil, card),
	})
	assert.Equal(t, SaveInserted, results[0].Status)
	assert.Equal(t, SaveDuplicate, results[1].Status)
}

func TestTransactionStore_ListRoundTrip(t *testing.T) {
	lookup := NewYAMLStore("", "", nil)
	require.NoError(t, lookup.Replace(nil, []models.Account{
		{Name: "checking", BackendType: models.BackendLeumi, BackendID: "123"},
	}, nil, nil))

	s := openMemory(t, lookup)
	ctx := context.Background()
	checking, _ := lookup.AccountByName("checking")
	visa := &models.Account{Name: "visa", BackendType: models.BackendCal}

	tx := storedTx("Transfer", 250, checking, visa)
	tx.TransactionAmount = decimal.RequireFromString("251.50")
	tx.Category = &models.Category{Title: "Transfers"}
	require.Equal(t, SaveInserted, s.Save(ctx, []models.Transaction{tx})[0].Status)
	require.Equal(t, SaveInserted, s.Save(ctx, []models.Transaction{storedTx("Other", 1, visa, nil)})[0].Status)

	got, err := s.List(ctx, "checking")
	require.NoError(t, err)
	require.Len(t, got, 1)
	back := got[0]
	assert.Equal(t, "123", back.FromAccount.BackendID)
	assert.Equal(t, "visa", back.ToAccount.Name)
	assert.True(t, decimal.RequireFromString("251.5").Equal(back.TransactionAmount))
	assert.True(t, decimal.NewFromInt(250).Equal(back.BilledAmount))
	assert.Equal(t, models.Date(2024, 2, 10), back.TransactionDate)
	assert.Equal(t, models.Date(2024, 3, 2), back.BillDate)
	assert.Equal(t, "Transfers", back.CategoryTitle())
	require.NotNil(t, back.Confirmation)
	assert.Equal(t, int64(77), *back.Confirmation)

	visaTxs, err := s.List(ctx, "visa")
	require.NoError(t, err)
	assert.Len(t, visaTxs, 2)
}

func TestTransactionStore_Anchors(t *testing.T) {
	s := openMemory(t, nil)
	ctx := context.Background()

	_, ok, err := s.LastAnchor(ctx, "checking")
	require.NoError(t, err)
	assert.False(t, ok)

	first := models.Anchor{AccountID: "123", Date: models.Date(2024, 1, 5), Confirmation: 9}
	require.NoError(t, s.SetAnchor(ctx, "checking", first))
	second := models.Anchor{AccountID: "123", Date: models.Date(2024, 2, 1), Confirmation: 12}
	require.NoError(t, s.SetAnchor(ctx, "checking", second))

	got, ok, err := s.LastAnchor(ctx, "checking")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second, got)
}

func TestTransactionStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bankfetch.db")
	ctx := context.Background()
	checking := &models.Account{Name: "checking", BackendType: models.BackendLeumi}

	s, err := OpenTransactionStore(path, nil, nil)
	require.NoError(t, err)
	s.Save(ctx, []models.Transaction{storedTx("Cafe", 10, checking, nil)})
	require.NoError(t, s.Close())

	s, err = OpenTransactionStore(path, nil, nil)
	require.NoError(t, err)
	defer s.Close()
	all, err := s.List(ctx, "checking")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMockTransactionStore(t *testing.T) {
	var _ TransactionRepository = NewMockTransactionStore()
	var _ TransactionRepository = (*TransactionStore)(nil)

	m := NewMockTransactionStore()
	checking := &models.Account{Name: "checking", BackendType: models.BackendLeumi}
	r := m.Save(context.Background(), []models.Transaction{
		storedTx("Cafe", 10, checking, nil),
		storedTx("Cafe", 10, checking, nil),
	})
	assert.Equal(t, SaveInserted, r[0].Status)
	assert.Equal(t, SaveDuplicate, r[1].Status)
}
