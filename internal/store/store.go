// Package store provides the account, auth-source, category and pattern
// catalog read from YAML, and the sqlite transaction store.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"fjacquet/bankfetch/internal/logging"
	"fjacquet/bankfetch/internal/models"
	"fjacquet/bankfetch/internal/rules"
	"fjacquet/bankfetch/internal/validation"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned by lookups that find nothing.
var ErrNotFound = errors.New("not found")

// accountsDoc is the layout of the accounts file.
type accountsDoc struct {
	AuthSources []models.AuthSource `yaml:"auth_sources"`
	Accounts    []accountDoc        `yaml:"accounts"`
}

// accountDoc decodes settings according to backend_type.
type accountDoc struct {
	models.Account `yaml:",inline"`
	Settings       map[string]interface{} `yaml:"settings,omitempty"`
}

// patternsDoc is the layout of the patterns file.
type patternsDoc struct {
	Categories []models.Category `yaml:"categories"`
	Patterns   []rules.Pattern   `yaml:"patterns"`
}

// YAMLStore is the read-only catalog. Load must be called before queries.
type YAMLStore struct {
	AccountsFile string
	PatternsFile string

	logger logging.Logger

	mu          sync.RWMutex
	accounts    []models.Account
	authSources []models.AuthSource
	categories  []models.Category
	patterns    []rules.Pattern
}

// NewYAMLStore creates a catalog over the two files.
func NewYAMLStore(accountsFile, patternsFile string, logger logging.Logger) *YAMLStore {
	return &YAMLStore{
		AccountsFile: accountsFile,
		PatternsFile: patternsFile,
		logger:       logging.OrDefault(logger),
	}
}

// FindConfigFile looks for a configuration file in standard locations
func FindConfigFile(filename string) (string, error) {
	if filepath.IsAbs(filename) {
		if _, err := os.Stat(filename); err == nil {
			return filename, nil
		}
		return "", os.ErrNotExist
	}

	locations := []string{
		filename,
		filepath.Join(".bankfetch", filename),
		filepath.Join("config", filename),
	}
	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location, nil
		}
	}

	homeDir, err := os.UserHomeDir()
	if err == nil {
		configPath := filepath.Join(homeDir, ".bankfetch", filename)
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}
	}

	return "", os.ErrNotExist
}

// readConfigFile returns nil data when the file does not exist.
func (s *YAMLStore) readConfigFile(filename string) ([]byte, string, error) {
	if filename == "" {
		return nil, "", nil
	}
	path, err := FindConfigFile(filename)
	if err != nil {
		s.logger.Warn("Configuration file not found", logging.F(logging.FieldFile, filename))
		return nil, "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("error reading %s: %w", path, err)
	}
	return data, path, nil
}

// Load reads and validates both files. A missing file yields an empty
// section; an invalid one fails the whole load and keeps the previous
// catalog.
func (s *YAMLStore) Load() error {
	var accounts accountsDoc
	data, path, err := s.readConfigFile(s.AccountsFile)
	if err != nil {
		return err
	}
	if data != nil {
		if err := yaml.Unmarshal(data, &accounts); err != nil {
			return fmt.Errorf("error parsing accounts file %s: %w", path, err)
		}
		if info, err := os.Stat(path); err == nil {
			if err := validation.FilePermissions(info.Mode()); err != nil {
				s.logger.Warn("Accounts file is readable by other users", logging.F(logging.FieldFile, path), logging.F("reason", err.Error()))
			}
		}
	}

	var patterns patternsDoc
	data, ppath, err := s.readConfigFile(s.PatternsFile)
	if err != nil {
		return err
	}
	if data != nil {
		if err := yaml.Unmarshal(data, &patterns); err != nil {
			return fmt.Errorf("error parsing patterns file %s: %w", ppath, err)
		}
	}

	loaded, err := decodeAccounts(accounts.Accounts)
	if err != nil {
		return fmt.Errorf("error parsing accounts file %s: %w", path, err)
	}
	return s.Replace(accounts.AuthSources, loaded, patterns.Categories, patterns.Patterns)
}

func decodeAccounts(docs []accountDoc) ([]models.Account, error) {
	out := make([]models.Account, 0, len(docs))
	for _, d := range docs {
		a := d.Account
		a.Settings = nil
		if d.Settings != nil {
			settings, err := models.ParseSettings(a.BackendType, d.Settings)
			if err != nil {
				return nil, fmt.Errorf("account %q: %w", a.Name, err)
			}
			a.Settings = settings
		}
		out = append(out, a)
	}
	return out, nil
}

// Replace validates and installs a whole catalog.
func (s *YAMLStore) Replace(authSources []models.AuthSource, accounts []models.Account, categories []models.Category, patterns []rules.Pattern) error {
	sources := make(map[string]bool, len(authSources))
	for i := range authSources {
		if err := authSources[i].Validate(); err != nil {
			return err
		}
		if sources[authSources[i].Name] {
			return fmt.Errorf("duplicate auth source %q", authSources[i].Name)
		}
		sources[authSources[i].Name] = true
	}

	names := make(map[string]bool, len(accounts))
	keys := make(map[models.AccountKey]bool, len(accounts))
	loaded := make([]models.Account, 0, len(accounts))
	for _, a := range accounts {
		if err := a.Validate(); err != nil {
			return err
		}
		if names[a.Name] {
			return fmt.Errorf("duplicate account name %q", a.Name)
		}
		names[a.Name] = true
		if a.BackendID != "" {
			if keys[a.Key()] {
				return fmt.Errorf("account %q: duplicate %s backend id %q", a.Name, a.BackendType, a.BackendID)
			}
			keys[a.Key()] = true
		}
		if a.AuthSource != "" && !sources[a.AuthSource] {
			return fmt.Errorf("account %q: unknown auth source %q", a.Name, a.AuthSource)
		}
		loaded = append(loaded, a)
	}

	titles := make(map[string]bool, len(categories))
	for _, c := range categories {
		if c.Title == "" {
			return fmt.Errorf("category title is required")
		}
		if titles[c.Title] {
			return fmt.Errorf("duplicate category %q", c.Title)
		}
		titles[c.Title] = true
	}

	patternNames := make(map[string]bool, len(patterns))
	for i := range patterns {
		p := &patterns[i]
		if err := p.Validate(); err != nil {
			return err
		}
		if patternNames[p.Name] {
			return fmt.Errorf("duplicate pattern %q", p.Name)
		}
		patternNames[p.Name] = true
		if !titles[p.Target.Title] {
			return fmt.Errorf("pattern %q: unknown category %q", p.Name, p.Target.Title)
		}
	}

	s.mu.Lock()
	s.authSources = authSources
	s.accounts = loaded
	s.categories = categories
	s.patterns = patterns
	s.mu.Unlock()

	s.logger.WithFields(
		logging.Field{Key: "accounts", Value: len(loaded)},
		logging.Field{Key: "patterns", Value: len(patterns)},
	).Debug("Loaded catalog")
	return nil
}

// Accounts returns every account.
func (s *YAMLStore) Accounts() []models.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Account(nil), s.accounts...)
}

// AccountByName returns the named account.
func (s *YAMLStore) AccountByName(name string) (*models.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.accounts {
		if s.accounts[i].Name == name {
			a := s.accounts[i]
			return &a, true
		}
	}
	return nil, false
}

// AccountsByBackend returns the accounts owned by a backend type.
func (s *YAMLStore) AccountsByBackend(backend models.BackendType) []models.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Account
	for _, a := range s.accounts {
		if a.BackendType == backend {
			out = append(out, a)
		}
	}
	return out
}

// AccountsByAuthItem returns the accounts of one backend type reached
// through one vault item.
func (s *YAMLStore) AccountsByAuthItem(backend models.BackendType, source, item string) []models.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Account
	for _, a := range s.accounts {
		if a.BackendType == backend && a.AuthSource == source && a.AuthItemID == item {
			out = append(out, a)
		}
	}
	return out
}

// AuthSource returns the named auth source.
func (s *YAMLStore) AuthSource(name string) (models.AuthSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, src := range s.authSources {
		if src.Name == name {
			return src, nil
		}
	}
	return models.AuthSource{}, fmt.Errorf("auth source %q: %w", name, ErrNotFound)
}

// Categories returns every category sorted by title.
func (s *YAMLStore) Categories() []models.Category {
	s.mu.RLock()
	out := append([]models.Category(nil), s.categories...)
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out
}

// Patterns returns every pattern in stored order.
func (s *YAMLStore) Patterns() []rules.Pattern {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]rules.Pattern(nil), s.patterns...)
}

// EnabledPatterns returns the enabled patterns in stored order.
func (s *YAMLStore) EnabledPatterns() ([]rules.Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]rules.Pattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out, nil
}
