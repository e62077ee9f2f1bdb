package vault

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fjacquet/bankfetch/internal/fetcher"
	"fjacquet/bankfetch/internal/logging"
	"fjacquet/bankfetch/internal/models"
)

const fakeBW = `#!/bin/sh
echo "$*" >> "$HOME/calls"
if [ -n "$LEAKED_SECRET" ]; then echo "environment leaked" >&2; exit 3; fi
case "$1" in
unlock)
  if [ "$BW_PASS" = "master" ]; then printf 'KEY123\n'; exit 0; fi
  echo "Invalid master password." >&2; exit 1;;
lock)
  echo "Your vault is locked."; exit 0;;
get)
  if [ "$5" != "KEY123" ]; then echo "bad session" >&2; exit 1; fi
  case "$3" in
  item-1) printf '{"login":{"username":"alice","password":"s3cret"}}';;
  note) printf '{"notes":"x"}';;
  *) printf 'Not found.' >&2; exit 1;;
  esac;;
esac
`

func fakeBitwarden(t *testing.T) (*Bitwarden, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "bw")
	require.NoError(t, os.WriteFile(script, []byte(fakeBW), 0700))
	t.Setenv("LEAKED_SECRET", "should not reach bw")

	b := NewBitwarden("", script, logging.NewMockLogger())
	b.home = dir
	return b, dir
}

func calls(t *testing.T, home string) []string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(home, "calls"))
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestBitwarden_Credentials(t *testing.T) {
	b, home := fakeBitwarden(t)
	ctx := context.Background()

	_, err := b.Credentials(ctx, "item-1")
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, b.Unlock(ctx, "master"))
	require.NoError(t, b.Unlock(ctx, "master"))

	creds, err := b.Credentials(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, fetcher.Credentials{Username: "alice", Password: "s3cret"}, creds)

	_, err = b.Credentials(ctx, "missing")
	assert.ErrorIs(t, err, ErrItemNotFound)

	_, err = b.Credentials(ctx, "note")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no login")

	require.NoError(t, b.Lock(ctx))
	_, err = b.Credentials(ctx, "item-1")
	assert.ErrorIs(t, err, ErrLocked)

	assert.Equal(t, []string{
		"unlock --passwordenv BW_PASS --raw",
		"get item item-1 --session KEY123",
		"get item missing --session KEY123",
		"get item note --session KEY123",
		"lock",
	}, calls(t, home))
}

func TestBitwarden_UnlockFailure(t *testing.T) {
	b, _ := fakeBitwarden(t)

	err := b.Unlock(context.Background(), "wrong")
	require.Error(t, err)
	var cmdErr *CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, 1, cmdErr.ExitCode)
	assert.Contains(t, cmdErr.Stderr, "Invalid master password")
	assert.NotContains(t, err.Error(), "wrong")
}

func TestBitwarden_SessionKeyRedacted(t *testing.T) {
	err := (&CommandError{Args: redact([]string{"get", "item", "x", "--session", "KEY"}), ExitCode: 1}).Error()
	assert.NotContains(t, err, "KEY")
	assert.Contains(t, err, "--session ***")
}

type recordingSource struct {
	unlockErr error
	fnCalled  bool
	locked    bool
}

func (r *recordingSource) Unlock(ctx context.Context, secret string) error { return r.unlockErr }
func (r *recordingSource) Lock(ctx context.Context) error {
	r.locked = true
	return nil
}
func (r *recordingSource) Credentials(ctx context.Context, itemID string) (fetcher.Credentials, error) {
	return fetcher.Credentials{Username: itemID}, nil
}

func TestWithUnlocked(t *testing.T) {
	t.Run("locks after success", func(t *testing.T) {
		src := &recordingSource{}
		err := WithUnlocked(context.Background(), src, "s", func(Source) error {
			src.fnCalled = true
			return nil
		})
		require.NoError(t, err)
		assert.True(t, src.fnCalled)
		assert.True(t, src.locked)
	})

	t.Run("locks after failure", func(t *testing.T) {
		src := &recordingSource{}
		boom := errors.New("boom")
		err := WithUnlocked(context.Background(), src, "s", func(Source) error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.True(t, src.locked)
	})

	t.Run("unlock failure skips fn", func(t *testing.T) {
		src := &recordingSource{unlockErr: errors.New("denied")}
		err := WithUnlocked(context.Background(), src, "s", func(Source) error {
			src.fnCalled = true
			return nil
		})
		require.Error(t, err)
		assert.False(t, src.fnCalled)
		assert.False(t, src.locked)
	})
}

func TestOpen(t *testing.T) {
	src, err := Open(models.AuthSource{Name: "bw", Type: models.AuthSourceBitwarden, Settings: models.AuthSourceSettings{Cmd: "/opt/bw"}}, nil)
	require.NoError(t, err)
	b, ok := src.(*Bitwarden)
	require.True(t, ok)
	assert.Equal(t, "/opt/bw", b.cmd)
	assert.Equal(t, DefaultPath, b.path)

	_, err = Open(models.AuthSource{Name: "x", Type: "keepass"}, nil)
	assert.Error(t, err)
}
