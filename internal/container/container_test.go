package container

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"fjacquet/bankfetch/internal/config"
	"fjacquet/bankfetch/internal/fetch"
	"fjacquet/bankfetch/internal/logging"
	"fjacquet/bankfetch/internal/models"
	"fjacquet/bankfetch/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const accountsYAML = `accounts:
  - id: 1
    name: savings
    backend_type: recurring
    settings:
      start_date: "2024-01-01"
      amount: 500
`

const patternsYAML = `categories:
  - title: Savings
patterns:
  - name: deposit
    category: Savings
    matcher:
      field: to_account
      eq: savings
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Store.AccountsFile = filepath.Join(dir, "accounts.yaml")
	cfg.Store.PatternsFile = filepath.Join(dir, "patterns.yaml")
	cfg.Store.Database = store.MemoryDatabase
	require.NoError(t, os.WriteFile(cfg.Store.AccountsFile, []byte(accountsYAML), 0600))
	require.NoError(t, os.WriteFile(cfg.Store.PatternsFile, []byte(patternsYAML), 0600))
	return cfg
}

func TestNewContainer(t *testing.T) {
	tests := []struct {
		name        string
		config      func(t *testing.T) *config.Config
		opts        Options
		expectError bool
		errorMsg    string
	}{
		{
			name:        "nil config",
			config:      func(t *testing.T) *config.Config { return nil },
			expectError: true,
			errorMsg:    "configuration cannot be nil",
		},
		{
			name:   "valid config",
			config: testConfig,
			opts:   Options{Logger: logging.NewMockLogger()},
		},
		{
			name: "missing catalog files",
			config: func(t *testing.T) *config.Config {
				cfg := config.Default()
				cfg.Store.AccountsFile = filepath.Join(t.TempDir(), "none.yaml")
				cfg.Store.PatternsFile = filepath.Join(t.TempDir(), "none.yaml")
				return cfg
			},
			opts: Options{Logger: logging.NewMockLogger(), WithoutDatabase: true},
		},
		{
			name: "broken patterns file",
			config: func(t *testing.T) *config.Config {
				cfg := testConfig(t)
				require.NoError(t, os.WriteFile(cfg.Store.PatternsFile, []byte("patterns:\n  - name: x\n    category: Nope\n    matcher:\n      field: description\n      eq: a\n"), 0600))
				return cfg
			},
			opts:        Options{Logger: logging.NewMockLogger(), WithoutDatabase: true},
			expectError: true,
			errorMsg:    "failed to load catalog",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewContainer(tt.config(t), tt.opts)
			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
				assert.Nil(t, c)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, c)
			defer func() { assert.NoError(t, c.Close()) }()

			assert.NotNil(t, c.GetLogger())
			assert.NotNil(t, c.GetConfig())
			assert.NotNil(t, c.GetCatalog())
			assert.NotNil(t, c.GetCategorizer())
			assert.NotNil(t, c.GetService())
			assert.Equal(t, tt.opts.WithoutDatabase, c.GetTransactions() == nil)
		})
	}
}

func TestContainer_Backend(t *testing.T) {
	c, err := NewContainer(testConfig(t), Options{Logger: logging.NewMockLogger(), WithoutDatabase: true})
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	for _, name := range []string{"leumi", "cal", "leumicard", "max", "otsar", "recurring"} {
		b, err := c.Backend(name)
		require.NoError(t, err, name)
		assert.NotNil(t, b)
	}

	_, err = c.Backend("nope")
	assert.ErrorIs(t, err, fetch.ErrUnknownBackend)
}

func TestContainer_OpenVaultDefaults(t *testing.T) {
	c, err := NewContainer(testConfig(t), Options{Logger: logging.NewMockLogger(), WithoutDatabase: true})
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	src, err := c.openVault(models.AuthSource{Name: "bw", Type: models.AuthSourceBitwarden})
	require.NoError(t, err)
	assert.NotNil(t, src)

	_, err = c.openVault(models.AuthSource{Name: "kp", Type: "keepass"})
	assert.Error(t, err)
}

func TestContainer_RecurringFetchIsClassifiedAndSaved(t *testing.T) {
	c, err := NewContainer(testConfig(t), Options{Logger: logging.NewMockLogger()})
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	from, err := models.NewPeriod(2024, 1)
	require.NoError(t, err)
	to, err := models.NewPeriod(2024, 2)
	require.NoError(t, err)

	result, err := c.GetService().Fetch(context.Background(), fetch.Request{
		Backend: "recurring",
		From:    from,
		To:      to,
		Save:    true,
	})
	require.NoError(t, err)
	require.Len(t, result.Transactions, 2)
	assert.Equal(t, 2, result.Classified)
	assert.Equal(t, "Savings", result.Transactions[0].CategoryTitle())
	assert.Equal(t, 2, result.Inserted())

	stored, err := c.GetTransactions().List(context.Background(), "savings")
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}
