package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"fjacquet/bankfetch/internal/logging"
	"fjacquet/bankfetch/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryDatabase opens a private in-memory database.
const MemoryDatabase = ":memory:"

// AccountLookup resolves stored account names back to accounts.
type AccountLookup interface {
	AccountByName(name string) (*models.Account, bool)
}

// SaveStatus is the outcome of saving one transaction.
type SaveStatus string

const (
	SaveInserted  SaveStatus = "inserted"
	SaveDuplicate SaveStatus = "duplicate"
	SaveFailed    SaveStatus = "failed"
)

// SaveResult reports what happened to one transaction of a batch.
type SaveResult struct {
	ID     string
	Key    models.TransactionKey
	Status SaveStatus
	Err    error
}

// TransactionRepository is what the fetch service and the HTTP layer need
// from persistence.
type TransactionRepository interface {
	Save(ctx context.Context, txs []models.Transaction) []SaveResult
	List(ctx context.Context, accountName string) ([]models.Transaction, error)
	LastAnchor(ctx context.Context, accountName string) (models.Anchor, bool, error)
	SetAnchor(ctx context.Context, accountName string, anchor models.Anchor) error
}

// TransactionStore persists transactions in sqlite.
type TransactionStore struct {
	db       *sql.DB
	accounts AccountLookup
	logger   logging.Logger
}

// OpenTransactionStore opens the database at path and applies pending
// migrations. accounts may be nil, in which case listed transactions
// carry name-only accounts.
func OpenTransactionStore(path string, accounts AccountLookup, logger logging.Logger) (*TransactionStore, error) {
	logger = logging.OrDefault(logger)
	dsn := path + "?_pragma=busy_timeout(5000)"
	if path != MemoryDatabase {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", path, err)
	}
	// A single connection avoids locking issues and keeps an in-memory
	// database alive for the life of the store.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &TransactionStore{db: db, accounts: accounts, logger: logger}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Debug("Transaction store ready", logging.F(logging.FieldFile, path))
	return s, nil
}

func (s *TransactionStore) migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("could not load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("could not create sqlite migration driver: %w", err)
	}
	// The migrate instance is not closed: closing it would close s.db.
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("migration instance creation failed: %w", err)
	}
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			s.logger.Debug("No new database migrations to apply")
			return nil
		}
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	s.logger.Info("Database migrations applied")
	return nil
}

// Close releases the database.
func (s *TransactionStore) Close() error {
	return s.db.Close()
}

const insertTransaction = `INSERT INTO transactions (
	id, transaction_date, bill_date, from_account, to_account,
	transaction_amount, billed_amount, original_currency, description, notes,
	confirmation, category
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT DO NOTHING`

// Save inserts each transaction on its own. A duplicate or a failing
// record never aborts the rest of the batch.
func (s *TransactionStore) Save(ctx context.Context, txs []models.Transaction) []SaveResult {
	results := make([]SaveResult, 0, len(txs))
	inserted := 0
	for i := range txs {
		tx := txs[i]
		r := SaveResult{Key: tx.Key()}
		if err := tx.Validate(); err != nil {
			r.Status, r.Err = SaveFailed, err
			results = append(results, r)
			continue
		}
		if tx.ID == "" {
			tx.DeriveID()
		}
		r.ID = tx.ID

		var confirmation sql.NullInt64
		if tx.Confirmation != nil {
			confirmation = sql.NullInt64{Int64: *tx.Confirmation, Valid: true}
		}
		var category sql.NullString
		if tx.Category != nil {
			category = sql.NullString{String: tx.Category.Title, Valid: true}
		}
		billDate := ""
		if !tx.BillDate.IsZero() {
			billDate = tx.BillDate.Format(models.DateLayout)
		}

		res, err := s.db.ExecContext(ctx, insertTransaction,
			tx.ID, r.Key.TransactionDate, billDate, r.Key.FromAccount, r.Key.ToAccount,
			tx.TransactionAmount.String(), r.Key.BilledAmount, tx.OriginalCurrency, tx.Description, tx.Notes,
			confirmation, category)
		if err != nil {
			r.Status, r.Err = SaveFailed, fmt.Errorf("insert %s: %w", r.Key, err)
			results = append(results, r)
			continue
		}
		n, err := res.RowsAffected()
		switch {
		case err != nil:
			r.Status, r.Err = SaveFailed, err
		case n == 0:
			r.Status = SaveDuplicate
		default:
			r.Status = SaveInserted
			inserted++
		}
		results = append(results, r)
	}
	s.logger.WithFields(
		logging.Field{Key: logging.FieldCount, Value: len(txs)},
		logging.Field{Key: "inserted", Value: inserted},
	).Info("Saved transactions")
	return results
}

const selectTransactions = `SELECT id, transaction_date, bill_date, from_account, to_account,
	transaction_amount, billed_amount, original_currency, description, notes,
	confirmation, category
FROM transactions`

// List returns the stored transactions touching accountName, or every
// transaction when accountName is empty, oldest first.
func (s *TransactionStore) List(ctx context.Context, accountName string) ([]models.Transaction, error) {
	query := selectTransactions
	var args []interface{}
	if accountName != "" {
		query += ` WHERE from_account = ? OR to_account = ?`
		args = append(args, accountName, accountName)
	}
	query += ` ORDER BY transaction_date, rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		tx, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (s *TransactionStore) scan(rows *sql.Rows) (models.Transaction, error) {
	var (
		tx               models.Transaction
		txDate, billDate string
		from, to         string
		txAmount, billed string
		confirmation     sql.NullInt64
		category         sql.NullString
	)
	if err := rows.Scan(&tx.ID, &txDate, &billDate, &from, &to, &txAmount, &billed,
		&tx.OriginalCurrency, &tx.Description, &tx.Notes, &confirmation, &category); err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	var err error
	if tx.TransactionDate, err = models.ParseDate(models.DateLayout, txDate); err != nil {
		return tx, fmt.Errorf("transaction %s: %w", tx.ID, err)
	}
	if billDate != "" {
		if tx.BillDate, err = models.ParseDate(models.DateLayout, billDate); err != nil {
			return tx, fmt.Errorf("transaction %s: %w", tx.ID, err)
		}
	}
	if tx.TransactionAmount, err = decimal.NewFromString(txAmount); err != nil {
		return tx, fmt.Errorf("transaction %s: %w", tx.ID, err)
	}
	if tx.BilledAmount, err = decimal.NewFromString(billed); err != nil {
		return tx, fmt.Errorf("transaction %s: %w", tx.ID, err)
	}
	tx.FromAccount = s.account(from)
	tx.ToAccount = s.account(to)
	if confirmation.Valid {
		c := confirmation.Int64
		tx.Confirmation = &c
	}
	if category.Valid {
		tx.Category = &models.Category{Title: category.String}
	}
	return tx, nil
}

func (s *TransactionStore) account(name string) *models.Account {
	if name == "" {
		return nil
	}
	if s.accounts != nil {
		if a, ok := s.accounts.AccountByName(name); ok {
			return a
		}
	}
	return &models.Account{Name: name}
}

// LastAnchor returns the resume anchor stored for accountName.
func (s *TransactionStore) LastAnchor(ctx context.Context, accountName string) (models.Anchor, bool, error) {
	var (
		anchor models.Anchor
		date   string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT backend_id, anchor_date, confirmation FROM anchors WHERE account_name = ?`, accountName).
		Scan(&anchor.AccountID, &date, &anchor.Confirmation)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Anchor{}, false, nil
	}
	if err != nil {
		return models.Anchor{}, false, fmt.Errorf("failed to read anchor of %s: %w", accountName, err)
	}
	if anchor.Date, err = models.ParseDate(models.DateLayout, date); err != nil {
		return models.Anchor{}, false, fmt.Errorf("anchor of %s: %w", accountName, err)
	}
	return anchor, true, nil
}

// SetAnchor stores the resume anchor for accountName, replacing any
// previous one.
func (s *TransactionStore) SetAnchor(ctx context.Context, accountName string, anchor models.Anchor) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO anchors (account_name, backend_id, anchor_date, confirmation, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(account_name) DO UPDATE SET
	backend_id = excluded.backend_id,
	anchor_date = excluded.anchor_date,
	confirmation = excluded.confirmation,
	updated_at = excluded.updated_at`,
		accountName, anchor.AccountID, anchor.Date.Format(models.DateLayout), anchor.Confirmation,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to store anchor of %s: %w", accountName, err)
	}
	return nil
}
