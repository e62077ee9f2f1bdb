package store

import (
	"context"
	"sync"

	"fjacquet/bankfetch/internal/models"
)

// MockTransactionStore is an in-memory TransactionRepository for tests.
type MockTransactionStore struct {
	mu           sync.Mutex
	Transactions []models.Transaction
	Anchors      map[string]models.Anchor

	// Error flags for testing error conditions
	ListError   error
	AnchorError error
}

// NewMockTransactionStore returns an empty mock.
func NewMockTransactionStore() *MockTransactionStore {
	return &MockTransactionStore{Anchors: make(map[string]models.Anchor)}
}

// Save deduplicates on the transaction key like the sqlite store.
func (m *MockTransactionStore) Save(ctx context.Context, txs []models.Transaction) []SaveResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[models.TransactionKey]bool, len(m.Transactions))
	for i := range m.Transactions {
		seen[m.Transactions[i].Key()] = true
	}
	results := make([]SaveResult, 0, len(txs))
	for _, tx := range txs {
		r := SaveResult{Key: tx.Key()}
		if err := tx.Validate(); err != nil {
			r.Status, r.Err = SaveFailed, err
		} else if seen[r.Key] {
			r.Status = SaveDuplicate
		} else {
			if tx.ID == "" {
				tx.DeriveID()
			}
			r.ID = tx.ID
			r.Status = SaveInserted
			seen[r.Key] = true
			m.Transactions = append(m.Transactions, tx)
		}
		results = append(results, r)
	}
	return results
}

// List filters by account name.
func (m *MockTransactionStore) List(ctx context.Context, accountName string) ([]models.Transaction, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Transaction
	for _, tx := range m.Transactions {
		if accountName == "" ||
			(tx.FromAccount != nil && tx.FromAccount.Name == accountName) ||
			(tx.ToAccount != nil && tx.ToAccount.Name == accountName) {
			out = append(out, tx)
		}
	}
	return out, nil
}

// LastAnchor returns the mock anchor.
func (m *MockTransactionStore) LastAnchor(ctx context.Context, accountName string) (models.Anchor, bool, error) {
	if m.AnchorError != nil {
		return models.Anchor{}, false, m.AnchorError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.Anchors[accountName]
	return a, ok, nil
}

// SetAnchor records the anchor.
func (m *MockTransactionStore) SetAnchor(ctx context.Context, accountName string, anchor models.Anchor) error {
	if m.AnchorError != nil {
		return m.AnchorError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Anchors == nil {
		m.Anchors = make(map[string]models.Anchor)
	}
	m.Anchors[accountName] = anchor
	return nil
}
