// Package container wires the application dependencies from a Config.
// Commands and the HTTP server build one container and read what they
// need from it.
package container

import (
	"fmt"

	"fjacquet/bankfetch/internal/categorizer"
	"fjacquet/bankfetch/internal/config"
	"fjacquet/bankfetch/internal/factory"
	"fjacquet/bankfetch/internal/fetch"
	"fjacquet/bankfetch/internal/fetcher"
	"fjacquet/bankfetch/internal/logging"
	"fjacquet/bankfetch/internal/models"
	"fjacquet/bankfetch/internal/otsarfetcher"
	"fjacquet/bankfetch/internal/store"
	"fjacquet/bankfetch/internal/vault"
)

// Options adjusts how a container is built.
type Options struct {
	// Logger replaces the logger built from the log section.
	Logger logging.Logger
	// WithoutDatabase skips opening the transaction database. The fetch
	// service then cannot save.
	WithoutDatabase bool
	// DriverFactory overrides the browser used by the otsar backend.
	DriverFactory otsarfetcher.DriverFactory
}

// Container holds all application dependencies. It is immutable after
// creation.
type Container struct {
	logger       logging.Logger
	config       *config.Config
	catalog      *store.YAMLStore
	transactions *store.TransactionStore
	categorizer  *categorizer.Categorizer
	service      *fetch.Service
	backendDeps  factory.Deps
}

// NewContainer creates and wires all application dependencies.
func NewContainer(cfg *config.Config, opts Options) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration cannot be nil")
	}

	logger := opts.Logger
	if logger == nil {
		logger = config.NewLogger(cfg)
	}

	catalog := store.NewYAMLStore(cfg.Store.AccountsFile, cfg.Store.PatternsFile, logger)
	if err := catalog.Load(); err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	cat, err := categorizer.NewCategorizer(catalog, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build categorizer: %w", err)
	}

	c := &Container{
		logger:      logger,
		config:      cfg,
		catalog:     catalog,
		categorizer: cat,
		backendDeps: factory.Deps{Config: cfg, Logger: logger, DriverFactory: opts.DriverFactory},
	}

	var repo store.TransactionRepository
	if !opts.WithoutDatabase {
		c.transactions, err = store.OpenTransactionStore(cfg.Store.Database, catalog, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open transaction store: %w", err)
		}
		repo = c.transactions
	}

	c.service, err = fetch.NewService(fetch.Deps{
		Accounts:   catalog,
		Classifier: cat,
		Repository: repo,
		Backends:   c.Backend,
		OpenVault:  c.openVault,
		Logger:     logger,
	})
	if err != nil {
		_ = c.Close()
		return nil, err
	}

	logger.Info("Container initialized successfully",
		logging.F(logging.FieldCount, len(catalog.Accounts())),
		logging.F("database", !opts.WithoutDatabase))
	return c, nil
}

// Backend returns a fresh backend for a registry name.
func (c *Container) Backend(name string) (fetcher.Backend, error) {
	return factory.GetBackend(name, c.backendDeps)
}

// openVault fills auth sources that leave the bw location unset from the
// vault section of the configuration.
func (c *Container) openVault(src models.AuthSource) (vault.Source, error) {
	if src.Settings.Path == "" {
		src.Settings.Path = c.config.Vault.Path
	}
	if src.Settings.Cmd == "" {
		src.Settings.Cmd = c.config.Vault.Cmd
	}
	return vault.Open(src, c.logger)
}

func (c *Container) GetLogger() logging.Logger {
	return c.logger
}

func (c *Container) GetConfig() *config.Config {
	return c.config
}

// GetCatalog returns the accounts, auth sources, categories and patterns.
func (c *Container) GetCatalog() *store.YAMLStore {
	return c.catalog
}

// GetTransactions returns the transaction database, or nil when the
// container was built without one.
func (c *Container) GetTransactions() *store.TransactionStore {
	return c.transactions
}

func (c *Container) GetCategorizer() *categorizer.Categorizer {
	return c.categorizer
}

func (c *Container) GetService() *fetch.Service {
	return c.service
}

// Close releases the database handle.
func (c *Container) Close() error {
	if c.transactions != nil {
		if err := c.transactions.Close(); err != nil {
			return err
		}
		c.transactions = nil
	}
	c.logger.Debug("Container closed")
	return nil
}
