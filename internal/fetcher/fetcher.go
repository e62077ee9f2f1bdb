// Package fetcher defines the contract every provider client satisfies and
// the pieces they share: credentials, sessions and the embedded base.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"fjacquet/bankfetch/internal/models"
)

// Backend logs in to one provider and returns the transactions of a month.
type Backend interface {
	// Name is the registry name of the backend.
	Name() string

	// Login authenticates and returns a session owned by the caller. The
	// caller must Close it whether or not fetching succeeds.
	Login(ctx context.Context, creds Credentials) (Session, error)

	// PeriodTransactions returns the transactions of period for the given
	// accounts. Accounts the provider does not know about are skipped.
	PeriodTransactions(ctx context.Context, session Session, period models.Period, accounts []models.Account) ([]models.Transaction, error)
}

// Resumer is implemented by backends that can export an arbitrary date
// range and therefore continue from a stored anchor.
type Resumer interface {
	// Resume returns every transaction strictly after anchor up to and
	// including to, plus the anchor of the last one returned. When nothing
	// follows the anchor the returned anchor is the input anchor.
	Resume(ctx context.Context, session Session, anchor models.Anchor, to time.Time, accounts []models.Account) ([]models.Transaction, models.Anchor, error)
}

// Session is the per-login state of a backend.
type Session interface {
	io.Closer
}

// Credentials are the login secrets for one provider account.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ErrMissingCredentials is returned when a networked backend gets an empty
// username or password.
var ErrMissingCredentials = errors.New("username and password are required")

// Validate checks that both fields are set.
func (c Credentials) Validate() error {
	if c.Username == "" || c.Password == "" {
		return ErrMissingCredentials
	}
	return nil
}

// String never prints the password.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{Username: %q}", c.Username)
}

// NopSession is the session of backends that need no login.
type NopSession struct{}

// Close does nothing.
func (NopSession) Close() error { return nil }

// SessionAs asserts session to the concrete type a backend created.
func SessionAs[T Session](backend string, session Session) (T, error) {
	s, ok := session.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%s: unexpected session type %T", backend, session)
	}
	return s, nil
}
