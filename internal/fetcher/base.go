package fetcher

import (
	"time"

	"fjacquet/bankfetch/internal/httpsession"
	"fjacquet/bankfetch/internal/logging"
	"fjacquet/bankfetch/internal/models"
)

// Options locate a provider and tune its HTTP behaviour.
type Options struct {
	BaseURL string
	// AuthURL is the separate authentication host, when the provider has one.
	AuthURL string

	Timeout           time.Duration
	RequestsPerSecond float64
	UserAgent         string

	LoginRetryAttempts int
	LoginRetryDelay    time.Duration
}

// BaseFetcher provides the logger and option handling shared by the
// provider clients. Clients embed it:
//
//	type Fetcher struct {
//		fetcher.BaseFetcher
//	}
type BaseFetcher struct {
	name    string
	options Options
	logger  logging.Logger
}

// NewBaseFetcher creates a BaseFetcher. A nil logger falls back to the
// default logger.
func NewBaseFetcher(name string, opts Options, logger logging.Logger) BaseFetcher {
	return BaseFetcher{
		name:    name,
		options: opts,
		logger:  logging.OrDefault(logger).WithField(logging.FieldBackend, name),
	}
}

// Name implements Backend.
func (b *BaseFetcher) Name() string {
	return b.name
}

// Options returns the provider options.
func (b *BaseFetcher) Options() Options {
	return b.options
}

// SetLogger replaces the logger.
func (b *BaseFetcher) SetLogger(logger logging.Logger) {
	if logger != nil {
		b.logger = logger.WithField(logging.FieldBackend, b.name)
	}
}

// GetLogger returns the logger.
func (b *BaseFetcher) GetLogger() logging.Logger {
	return b.logger
}

// NewHTTPSession opens a fresh cookie session with the provider options.
func (b *BaseFetcher) NewHTTPSession() (*httpsession.Session, error) {
	return httpsession.New(httpsession.Options{
		Timeout:           b.options.Timeout,
		RequestsPerSecond: b.options.RequestsPerSecond,
		UserAgent:         b.options.UserAgent,
		Logger:            b.logger,
	})
}

// LoginRetry is the retry policy applied around login exchanges.
func (b *BaseFetcher) LoginRetry() httpsession.RetryPolicy {
	return httpsession.RetryPolicy{
		Attempts: b.options.LoginRetryAttempts,
		Delay:    b.options.LoginRetryDelay,
		Backend:  b.name,
		Op:       "login",
		Logger:   b.logger,
	}
}

// URL joins path onto the base URL.
func (b *BaseFetcher) URL(path string) string {
	return b.options.BaseURL + path
}

// LogUnmapped records an account the provider did not list.
func (b *BaseFetcher) LogUnmapped(account *models.Account, reason string) {
	b.logger.Warn("Skipping unmapped account",
		logging.F(logging.FieldAccount, account.Name),
		logging.F("backend_id", account.BackendID),
		logging.F("reason", reason))
}

// LogDroppedRow records a row that could not be converted.
func (b *BaseFetcher) LogDroppedRow(row int, err error) {
	b.logger.Debug("Dropping malformed row",
		logging.F("row", row),
		logging.F(logging.FieldError, err.Error()))
}
