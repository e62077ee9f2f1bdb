package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"fjacquet/bankfetch/internal/fetcher"
	"fjacquet/bankfetch/internal/logging"
)

const (
	DefaultPath = "/usr/local/bin:/usr/bin"
	DefaultCmd  = "bw"

	passwordEnv = "BW_PASS"
	notFound    = "Not found."
)

// CommandError is a non-zero exit of the vault CLI.
type CommandError struct {
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("bw %s exited with return code %d: %s", strings.Join(e.Args, " "), e.ExitCode, strings.TrimSpace(e.Stderr))
}

// Bitwarden drives the bw command line client. The child process sees
// only PATH, HOME and, while unlocking, the master password.
type Bitwarden struct {
	cmd    string
	path   string
	home   string
	logger logging.Logger

	mu         sync.Mutex
	sessionKey string
}

// NewBitwarden creates a locked source. Empty path or cmd use the defaults.
func NewBitwarden(path, cmd string, logger logging.Logger) *Bitwarden {
	if path == "" {
		path = DefaultPath
	}
	if cmd == "" {
		cmd = DefaultCmd
	}
	home, _ := os.UserHomeDir()
	return &Bitwarden{cmd: cmd, path: path, home: home, logger: logging.OrDefault(logger)}
}

func (b *Bitwarden) run(ctx context.Context, extraEnv []string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, b.cmd, args...)
	cmd.Env = append([]string{"PATH=" + b.path, "HOME=" + b.home}, extraEnv...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return "", &CommandError{Args: redact(args), ExitCode: exitErr.ExitCode(), Stdout: stdout.String(), Stderr: stderr.String()}
	}
	if err != nil {
		return "", fmt.Errorf("failed to run %s: %w", b.cmd, err)
	}
	return stdout.String(), nil
}

// redact hides the session key in error messages.
func redact(args []string) []string {
	out := append([]string(nil), args...)
	for i := 0; i < len(out)-1; i++ {
		if out[i] == "--session" {
			out[i+1] = "***"
		}
	}
	return out
}

// Unlock obtains a session key. Unlocking an unlocked source is a no-op.
func (b *Bitwarden) Unlock(ctx context.Context, secret string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sessionKey != "" {
		return nil
	}
	out, err := b.run(ctx, []string{passwordEnv + "=" + secret}, "unlock", "--passwordenv", passwordEnv, "--raw")
	if err != nil {
		return fmt.Errorf("failed to unlock vault: %w", err)
	}
	key := strings.TrimSpace(out)
	if key == "" {
		return fmt.Errorf("failed to unlock vault: empty session key")
	}
	b.sessionKey = key
	b.logger.Debug("Vault unlocked")
	return nil
}

// Lock forgets the session key and locks the vault.
func (b *Bitwarden) Lock(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessionKey = ""
	if _, err := b.run(ctx, nil, "lock"); err != nil {
		return err
	}
	b.logger.Debug("Vault locked")
	return nil
}

type bwItem struct {
	Login *struct {
		Username string `json:"username"`
		Password string `json:"password"`
	} `json:"login"`
}

// Credentials reads the login of itemID.
func (b *Bitwarden) Credentials(ctx context.Context, itemID string) (fetcher.Credentials, error) {
	b.mu.Lock()
	key := b.sessionKey
	b.mu.Unlock()
	if key == "" {
		return fetcher.Credentials{}, ErrLocked
	}

	out, err := b.run(ctx, nil, "get", "item", itemID, "--session", key)
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && strings.TrimSpace(cmdErr.Stderr) == notFound {
			return fetcher.Credentials{}, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
		}
		return fetcher.Credentials{}, err
	}

	var item bwItem
	if err := json.Unmarshal([]byte(out), &item); err != nil {
		return fetcher.Credentials{}, fmt.Errorf("item %s: invalid JSON from bw: %w", itemID, err)
	}
	if item.Login == nil {
		return fetcher.Credentials{}, fmt.Errorf("item %s has no login", itemID)
	}
	return fetcher.Credentials{Username: item.Login.Username, Password: item.Login.Password}, nil
}
