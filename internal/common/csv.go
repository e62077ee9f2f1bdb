// Package common provides the CSV import and export of canonical
// transactions shared by the CLI commands.
package common

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"fjacquet/bankfetch/internal/logging"
	"fjacquet/bankfetch/internal/models"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"
)

// CSVRow is the flat export layout of a transaction. Null accounts and
// categories are written as empty cells.
type CSVRow struct {
	ID                string `csv:"id"`
	TransactionDate   string `csv:"transaction_date"`
	BillDate          string `csv:"bill_date"`
	FromAccount       string `csv:"from_account"`
	ToAccount         string `csv:"to_account"`
	TransactionAmount string `csv:"transaction_amount"`
	BilledAmount      string `csv:"billed_amount"`
	OriginalCurrency  string `csv:"original_currency"`
	Description       string `csv:"description"`
	Notes             string `csv:"notes"`
	Confirmation      string `csv:"confirmation"`
	Category          string `csv:"category"`
}

// AccountResolver maps an exported account name back to an account.
type AccountResolver func(name string) *models.Account

// NameOnlyAccounts resolves every name to an account carrying just the name.
func NameOnlyAccounts(name string) *models.Account {
	return &models.Account{Name: name}
}

// ToCSVRow flattens tx. Amounts keep two decimals.
func ToCSVRow(tx *models.Transaction) CSVRow {
	row := CSVRow{
		ID:                tx.ID,
		TransactionDate:   tx.TransactionDate.Format(models.DateLayout),
		TransactionAmount: tx.TransactionAmount.StringFixed(2),
		BilledAmount:      tx.BilledAmount.StringFixed(2),
		OriginalCurrency:  tx.OriginalCurrency,
		Description:       tx.Description,
		Notes:             tx.Notes,
		Category:          tx.CategoryTitle(),
	}
	if !tx.BillDate.IsZero() {
		row.BillDate = tx.BillDate.Format(models.DateLayout)
	}
	if tx.FromAccount != nil {
		row.FromAccount = tx.FromAccount.Name
	}
	if tx.ToAccount != nil {
		row.ToAccount = tx.ToAccount.Name
	}
	if tx.Confirmation != nil {
		row.Confirmation = strconv.FormatInt(*tx.Confirmation, 10)
	}
	return row
}

// FromCSVRow rebuilds a transaction from its export row.
func FromCSVRow(row CSVRow, resolve AccountResolver) (models.Transaction, error) {
	if resolve == nil {
		resolve = NameOnlyAccounts
	}
	b := models.NewTransactionBuilder().
		WithTransactionDateString(models.DateLayout, row.TransactionDate).
		WithCurrency(row.OriginalCurrency).
		WithDescription(row.Description).
		WithNotes(row.Notes)
	if row.BillDate != "" {
		b.WithBillDateString(models.DateLayout, row.BillDate)
	}
	if row.FromAccount != "" {
		b.FromAccount(resolve(row.FromAccount))
	}
	if row.ToAccount != "" {
		b.ToAccount(resolve(row.ToAccount))
	}
	if row.Confirmation != "" {
		b.WithConfirmationString(row.Confirmation)
	}
	if row.Category != "" {
		b.WithCategory(&models.Category{Title: row.Category})
	}
	txAmount, err := decimal.NewFromString(row.TransactionAmount)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("transaction_amount %q: %w", row.TransactionAmount, err)
	}
	billed, err := decimal.NewFromString(row.BilledAmount)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("billed_amount %q: %w", row.BilledAmount, err)
	}
	tx, err := b.WithAmounts(txAmount, billed).Build()
	if err != nil {
		return models.Transaction{}, err
	}
	if row.ID != "" {
		tx.ID = row.ID
	}
	return tx, nil
}

// WriteTransactions writes a header and one row per transaction to w.
func WriteTransactions(w io.Writer, transactions []models.Transaction, delimiter rune) error {
	rows := make([]CSVRow, 0, len(transactions))
	for i := range transactions {
		rows = append(rows, ToCSVRow(&transactions[i]))
	}
	csvWriter := csv.NewWriter(w)
	csvWriter.Comma = delimiter
	if err := gocsv.MarshalCSV(rows, gocsv.NewSafeCSVWriter(csvWriter)); err != nil {
		return fmt.Errorf("error writing CSV data: %w", err)
	}
	return nil
}

// WriteTransactionsToCSV writes transactions to csvFile, creating its
// directory if needed.
func WriteTransactionsToCSV(transactions []models.Transaction, csvFile string, delimiter rune, logger logging.Logger) error {
	logger = logging.OrDefault(logger)
	if transactions == nil {
		return fmt.Errorf("cannot write nil transactions to CSV")
	}

	dir := filepath.Dir(csvFile)
	if err := os.MkdirAll(dir, models.PermissionDirectory); err != nil {
		logger.WithError(err).Error("Failed to create directory")
		return fmt.Errorf("error creating directory: %w", err)
	}

	file, err := os.Create(csvFile)
	if err != nil {
		logger.WithError(err).Error("Failed to create CSV file")
		return fmt.Errorf("error creating CSV file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close file")
		}
	}()

	if err := WriteTransactions(file, transactions, delimiter); err != nil {
		logger.WithError(err).Error("Failed to marshal transactions to CSV")
		return err
	}

	logger.WithFields(
		logging.Field{Key: logging.FieldOutputFile, Value: csvFile},
		logging.Field{Key: logging.FieldCount, Value: len(transactions)},
		logging.Field{Key: logging.FieldDelimiter, Value: string(delimiter)},
	).Info("Successfully wrote transactions to CSV file")
	return nil
}

// ReadTransactions decodes an export produced by WriteTransactions. Rows
// that do not form a valid transaction are reported with their line
// number.
func ReadTransactions(r io.Reader, delimiter rune, resolve AccountResolver) ([]models.Transaction, error) {
	csvReader := csv.NewReader(r)
	csvReader.Comma = delimiter
	var rows []CSVRow
	if err := gocsv.UnmarshalCSV(csvReader, &rows); err != nil {
		return nil, fmt.Errorf("error parsing CSV: %w", err)
	}
	out := make([]models.Transaction, 0, len(rows))
	for i, row := range rows {
		tx, err := FromCSVRow(row, resolve)
		if err != nil {
			// header is line 1
			return nil, fmt.Errorf("line %d: %w", i+2, err)
		}
		out = append(out, tx)
	}
	return out, nil
}
