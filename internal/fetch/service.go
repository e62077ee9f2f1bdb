// Package fetch runs a fetch request end to end: backend lookup, login,
// the month walk, classification and optional persistence.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"fjacquet/bankfetch/internal/factory"
	"fjacquet/bankfetch/internal/fetcher"
	"fjacquet/bankfetch/internal/logging"
	"fjacquet/bankfetch/internal/models"
	"fjacquet/bankfetch/internal/store"
	"fjacquet/bankfetch/internal/vault"
)

// ErrUnknownBackend is returned for backend names the registry does not know.
var ErrUnknownBackend = factory.ErrUnknownBackend

// ErrNoAnchor is returned by Resume when no anchor is stored or given.
var ErrNoAnchor = errors.New("no resume anchor")

// AccountStore is the account catalog the service reads.
type AccountStore interface {
	AccountsByBackend(backend models.BackendType) []models.Account
	AccountsByAuthItem(backend models.BackendType, source, item string) []models.Account
	AccountByName(name string) (*models.Account, bool)
	AuthSource(name string) (models.AuthSource, error)
}

// Classifier assigns categories in place.
type Classifier interface {
	ClassifyAll(ctx context.Context, txs []models.Transaction) (int, error)
}

// BackendFactory returns a fresh backend for a registry name.
type BackendFactory func(name string) (fetcher.Backend, error)

// VaultOpener builds a credential source for an auth source entry.
type VaultOpener func(src models.AuthSource) (vault.Source, error)

// Deps wires a Service. Classifier and Repository are optional.
type Deps struct {
	Accounts   AccountStore
	Classifier Classifier
	Repository store.TransactionRepository
	Backends   BackendFactory
	OpenVault  VaultOpener
	Logger     logging.Logger
}

// Service orchestrates fetch requests. It holds no per-request state.
type Service struct {
	accounts   AccountStore
	classifier Classifier
	repo       store.TransactionRepository
	backends   BackendFactory
	openVault  VaultOpener
	logger     logging.Logger
}

// NewService creates a service. Backends and OpenVault are required.
func NewService(deps Deps) (*Service, error) {
	if deps.Accounts == nil {
		return nil, fmt.Errorf("fetch service needs an account store")
	}
	if deps.Backends == nil {
		return nil, fmt.Errorf("fetch service needs a backend factory")
	}
	logger := logging.OrDefault(deps.Logger)
	openVault := deps.OpenVault
	if openVault == nil {
		openVault = func(src models.AuthSource) (vault.Source, error) { return vault.Open(src, logger) }
	}
	return &Service{
		accounts:   deps.Accounts,
		classifier: deps.Classifier,
		repo:       deps.Repository,
		backends:   deps.Backends,
		openVault:  openVault,
		logger:     logger,
	}, nil
}

// Request is one fetch over an inclusive month range.
type Request struct {
	Backend     string
	Credentials fetcher.Credentials
	From        models.Period
	To          models.Period
	Save        bool
}

// Result is what a run produced.
type Result struct {
	RunID        string
	Backend      string
	Transactions []models.Transaction
	Classified   int
	Saved        []store.SaveResult
	// Anchor is set by Resume.
	Anchor *models.Anchor
}

// Inserted counts the records the store accepted.
func (r *Result) Inserted() int {
	n := 0
	for _, s := range r.Saved {
		if s.Status == store.SaveInserted {
			n++
		}
	}
	return n
}

type run struct {
	id          string
	backend     fetcher.Backend
	backendType models.BackendType
	logger      logging.Logger
}

func (s *Service) start(name string) (*run, error) {
	backendType, err := factory.Resolve(name)
	if err != nil {
		return nil, err
	}
	backend, err := s.backends(name)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	return &run{
		id:          id,
		backend:     backend,
		backendType: backendType,
		logger: s.logger.WithFields(
			logging.Field{Key: logging.FieldRunID, Value: id},
			logging.Field{Key: logging.FieldBackend, Value: backend.Name()},
		),
	}, nil
}

// Fetch logs in once with the given credentials and fetches every month
// of the range for all accounts of the backend.
func (s *Service) Fetch(ctx context.Context, req Request) (*Result, error) {
	r, err := s.start(req.Backend)
	if err != nil {
		return nil, err
	}
	periods, err := models.PeriodRange(req.From, req.To)
	if err != nil {
		return nil, err
	}
	accounts := s.accounts.AccountsByBackend(r.backendType)
	txs, err := s.fetchAccounts(ctx, r, req.Credentials, periods, accounts)
	if err != nil {
		return nil, err
	}
	return s.finish(ctx, r, txs, req.Save)
}

// VaultRequest is a fetch whose credentials come from the auth sources
// of the backend's accounts.
type VaultRequest struct {
	Backend string
	// Secret unlocks every auth source involved.
	Secret string
	From   models.Period
	To     models.Period
	Save   bool
}

type authItem struct {
	source string
	item   string
}

// FetchWithVault groups the backend's accounts by vault item, reads each
// item's login while the vault is unlocked, then fetches each group with
// its own session. Accounts without an auth source are skipped, except for
// backends that need no login.
func (s *Service) FetchWithVault(ctx context.Context, req VaultRequest) (*Result, error) {
	r, err := s.start(req.Backend)
	if err != nil {
		return nil, err
	}
	periods, err := models.PeriodRange(req.From, req.To)
	if err != nil {
		return nil, err
	}

	seen := make(map[authItem]bool)
	var order []authItem
	for _, a := range s.accounts.AccountsByBackend(r.backendType) {
		key := authItem{source: a.AuthSource, item: a.AuthItemID}
		if key.source == "" && r.backendType != models.BackendRecurring {
			r.logger.Warn("Skipping account without auth source", logging.F(logging.FieldAccount, a.Name))
			continue
		}
		if !seen[key] {
			seen[key] = true
			order = append(order, key)
		}
	}

	creds, err := s.resolveCredentials(ctx, order, req.Secret)
	if err != nil {
		return nil, err
	}

	var all []models.Transaction
	for _, key := range order {
		group := s.accounts.AccountsByAuthItem(r.backendType, key.source, key.item)
		txs, err := s.fetchAccounts(ctx, r, creds[key], periods, group)
		if err != nil {
			return nil, err
		}
		all = append(all, txs...)
	}
	return s.finish(ctx, r, all, req.Save)
}

// resolveCredentials unlocks each auth source once, reads all of its
// items and locks it again before any backend is contacted.
func (s *Service) resolveCredentials(ctx context.Context, items []authItem, secret string) (map[authItem]fetcher.Credentials, error) {
	bySource := make(map[string][]authItem)
	var sources []string
	for _, key := range items {
		if key.source == "" {
			continue
		}
		if _, ok := bySource[key.source]; !ok {
			sources = append(sources, key.source)
		}
		bySource[key.source] = append(bySource[key.source], key)
	}
	sort.Strings(sources)

	out := make(map[authItem]fetcher.Credentials, len(items))
	for _, name := range sources {
		entry, err := s.accounts.AuthSource(name)
		if err != nil {
			return nil, err
		}
		src, err := s.openVault(entry)
		if err != nil {
			return nil, err
		}
		err = vault.WithUnlocked(ctx, src, secret, func(src vault.Source) error {
			for _, key := range bySource[name] {
				c, err := src.Credentials(ctx, key.item)
				if err != nil {
					return fmt.Errorf("auth source %s: %w", name, err)
				}
				out[key] = c
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		s.logger.Debug("Resolved credentials", logging.F(logging.FieldAuthSource, name))
	}
	return out, nil
}

// fetchAccounts runs one login and the sequential month walk. The session
// is closed on every path.
func (s *Service) fetchAccounts(ctx context.Context, r *run, creds fetcher.Credentials, periods []models.Period, accounts []models.Account) (txs []models.Transaction, err error) {
	if len(accounts) == 0 {
		r.logger.Warn("No accounts configured for backend")
		return nil, nil
	}
	started := time.Now()
	session, err := r.backend.Login(ctx, creds)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			r.logger.WithError(cerr).Warn("Failed to close session")
		}
	}()

	for _, p := range periods {
		got, err := r.backend.PeriodTransactions(ctx, session, p, accounts)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", r.backend.Name(), p, err)
		}
		r.logger.Debug("Fetched period",
			logging.F(logging.FieldPeriod, p.String()),
			logging.F(logging.FieldCount, len(got)))
		txs = append(txs, got...)
	}
	r.logger.Info("Fetched transactions",
		logging.F(logging.FieldCount, len(txs)),
		logging.F(logging.FieldDuration, time.Since(started).Milliseconds()))
	return txs, nil
}

func (s *Service) finish(ctx context.Context, r *run, txs []models.Transaction, save bool) (*Result, error) {
	res := &Result{RunID: r.id, Backend: r.backend.Name(), Transactions: txs}
	if txs == nil {
		res.Transactions = []models.Transaction{}
	}
	if s.classifier != nil && len(txs) > 0 {
		n, err := s.classifier.ClassifyAll(ctx, txs)
		if err != nil {
			return nil, fmt.Errorf("classification failed: %w", err)
		}
		res.Classified = n
	}
	if save {
		if s.repo == nil {
			return nil, fmt.Errorf("no transaction store configured")
		}
		res.Saved = s.repo.Save(ctx, txs)
		for _, sr := range res.Saved {
			if sr.Status == store.SaveFailed {
				r.logger.WithError(sr.Err).Warn("Transaction not saved", logging.F("key", sr.Key.String()))
			}
		}
	}
	return res, nil
}

// ResumeRequest continues an account from its anchor.
type ResumeRequest struct {
	Account     string
	To          time.Time
	Credentials fetcher.Credentials
	// Secret unlocks the account's auth source when Credentials is empty.
	Secret string
	// Anchor overrides the stored anchor.
	Anchor *models.Anchor
	// Save persists the transactions and the new anchor.
	Save bool
}

// Resume returns what the account booked after its anchor, up to To.
func (s *Service) Resume(ctx context.Context, req ResumeRequest) (*Result, error) {
	account, ok := s.accounts.AccountByName(req.Account)
	if !ok {
		return nil, fmt.Errorf("unknown account %q", req.Account)
	}
	r, err := s.start(string(account.BackendType))
	if err != nil {
		return nil, err
	}
	resumer, ok := r.backend.(fetcher.Resumer)
	if !ok {
		return nil, fmt.Errorf("backend %s cannot resume from an anchor", r.backend.Name())
	}

	anchor, err := s.anchorFor(ctx, account, req.Anchor)
	if err != nil {
		return nil, err
	}

	creds := req.Credentials
	if creds == (fetcher.Credentials{}) && account.AuthSource != "" {
		key := authItem{source: account.AuthSource, item: account.AuthItemID}
		resolved, err := s.resolveCredentials(ctx, []authItem{key}, req.Secret)
		if err != nil {
			return nil, err
		}
		creds = resolved[key]
	}

	session, err := r.backend.Login(ctx, creds)
	if err != nil {
		return nil, err
	}
	txs, next, err := resumer.Resume(ctx, session, anchor, req.To, []models.Account{*account})
	if cerr := session.Close(); cerr != nil {
		r.logger.WithError(cerr).Warn("Failed to close session")
	}
	if err != nil {
		return nil, err
	}
	r.logger.Info("Resumed account",
		logging.F(logging.FieldAccount, account.Name),
		logging.F(logging.FieldCount, len(txs)),
		logging.F("anchor", next.String()))

	res, err := s.finish(ctx, r, txs, req.Save)
	if err != nil {
		return nil, err
	}
	res.Anchor = &next
	if req.Save {
		if err := s.repo.SetAnchor(ctx, account.Name, next); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (s *Service) anchorFor(ctx context.Context, account *models.Account, override *models.Anchor) (models.Anchor, error) {
	if override != nil {
		a := *override
		if a.AccountID == "" {
			a.AccountID = account.BackendID
		}
		return a, nil
	}
	if s.repo == nil {
		return models.Anchor{}, fmt.Errorf("%w for %s: no transaction store configured", ErrNoAnchor, account.Name)
	}
	a, ok, err := s.repo.LastAnchor(ctx, account.Name)
	if err != nil {
		return models.Anchor{}, err
	}
	if !ok {
		return models.Anchor{}, fmt.Errorf("%w for %s", ErrNoAnchor, account.Name)
	}
	return a, nil
}
