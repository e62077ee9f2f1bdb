// Package vault resolves backend credentials from a password manager.
package vault

import (
	"context"
	"errors"
	"fmt"

	"fjacquet/bankfetch/internal/fetcher"
	"fjacquet/bankfetch/internal/logging"
	"fjacquet/bankfetch/internal/models"
)

var (
	// ErrItemNotFound is returned when the vault has no item with the id.
	ErrItemNotFound = errors.New("vault item not found")
	// ErrLocked is returned when a lookup is made before Unlock.
	ErrLocked = errors.New("vault is locked")
)

// Source is an unlockable credential store.
type Source interface {
	Unlock(ctx context.Context, secret string) error
	Credentials(ctx context.Context, itemID string) (fetcher.Credentials, error)
	Lock(ctx context.Context) error
}

// Open builds the source described by an auth source entry.
func Open(src models.AuthSource, logger logging.Logger) (Source, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	switch src.Type {
	case models.AuthSourceBitwarden:
		return NewBitwarden(src.Settings.Path, src.Settings.Cmd, logger), nil
	default:
		return nil, fmt.Errorf("unsupported auth source type %q", src.Type)
	}
}

// WithUnlocked unlocks src, runs fn and locks src again on every path.
func WithUnlocked(ctx context.Context, src Source, secret string, fn func(Source) error) (err error) {
	if err := src.Unlock(ctx, secret); err != nil {
		return err
	}
	defer func() {
		// Locking must not be skipped because ctx was cancelled.
		if lockErr := src.Lock(context.WithoutCancel(ctx)); lockErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to lock vault: %w", lockErr))
		}
	}()
	return fn(src)
}
