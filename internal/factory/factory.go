// Package factory maps backend names to their implementations.
package factory

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"fjacquet/bankfetch/internal/calfetcher"
	"fjacquet/bankfetch/internal/config"
	"fjacquet/bankfetch/internal/fetcher"
	"fjacquet/bankfetch/internal/leumifetcher"
	"fjacquet/bankfetch/internal/logging"
	"fjacquet/bankfetch/internal/maxfetcher"
	"fjacquet/bankfetch/internal/models"
	"fjacquet/bankfetch/internal/otsarfetcher"
	"fjacquet/bankfetch/internal/recurringfetcher"
)

// ErrUnknownBackend is returned for names the registry does not know.
var ErrUnknownBackend = errors.New("unknown backend")

// aliases maps alternative names to the canonical backend type.
var aliases = map[string]models.BackendType{
	maxfetcher.Alias: models.BackendLeumicard,
}

var backends = []models.BackendType{
	models.BackendLeumi,
	models.BackendCal,
	models.BackendLeumicard,
	models.BackendOtsar,
	models.BackendRecurring,
}

// Deps carries what backends need to be constructed.
type Deps struct {
	Config *config.Config
	Logger logging.Logger
	// DriverFactory overrides the browser used by the otsar backend.
	DriverFactory otsarfetcher.DriverFactory
}

// Names returns every accepted backend name, aliases included, sorted.
func Names() []string {
	out := make([]string, 0, len(backends)+len(aliases))
	for _, b := range backends {
		out = append(out, string(b))
	}
	for alias := range aliases {
		out = append(out, alias)
	}
	sort.Strings(out)
	return out
}

// Resolve returns the backend type behind name.
func Resolve(name string) (models.BackendType, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if t, ok := aliases[key]; ok {
		return t, nil
	}
	for _, b := range backends {
		if string(b) == key {
			return b, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownBackend, name)
}

// GetBackend returns a new instance of the backend registered under name.
func GetBackend(name string, deps Deps) (fetcher.Backend, error) {
	backendType, err := Resolve(name)
	if err != nil {
		return nil, err
	}
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := logging.OrDefault(deps.Logger)

	switch backendType {
	case models.BackendLeumi:
		return leumifetcher.New(options(cfg, cfg.Backends.Leumi), logger), nil
	case models.BackendCal:
		return calfetcher.New(options(cfg, cfg.Backends.Cal), logger), nil
	case models.BackendLeumicard:
		return maxfetcher.New(options(cfg, cfg.Backends.Leumicard), logger), nil
	case models.BackendOtsar:
		newDriver := deps.DriverFactory
		if newDriver == nil {
			newDriver = otsarfetcher.NewChromeFactory(otsarfetcher.BrowserOptions{
				Headless: cfg.Browser.Headless,
				ExecPath: cfg.Browser.ExecPath,
				Wait:     cfg.BrowserWait(),
			})
		}
		return otsarfetcher.New(options(cfg, cfg.Backends.Otsar), newDriver, logger), nil
	case models.BackendRecurring:
		return recurringfetcher.New(logger), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, name)
	}
}

func options(cfg *config.Config, backend config.BackendConfig) fetcher.Options {
	return fetcher.Options{
		BaseURL:            backend.BaseURL,
		AuthURL:            backend.AuthURL,
		Timeout:            cfg.HTTPTimeout(),
		RequestsPerSecond:  cfg.HTTP.RequestsPerSecond,
		UserAgent:          cfg.HTTP.UserAgent,
		LoginRetryAttempts: cfg.HTTP.LoginRetryAttempts,
		LoginRetryDelay:    cfg.LoginRetryDelay(),
	}
}
