package client

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// TokenSlot persists the bearer token between controller restores.
// Load returns "" with a nil error when nothing is stored.
type TokenSlot interface {
	Load() (string, error)
	Save(token string) error
	Clear() error
}

// MemorySlot lives as long as the process, like per-tab session storage.
type MemorySlot struct {
	mu    sync.Mutex
	token string
}

func NewMemorySlot() *MemorySlot {
	return &MemorySlot{}
}

func (s *MemorySlot) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

func (s *MemorySlot) Save(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}

func (s *MemorySlot) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	return nil
}

const tokenFileName = "token"

// RuntimeSlot keeps the token in a 0600 file under the user's runtime
// directory, which the OS clears when the login session ends.
type RuntimeSlot struct {
	dir string
}

func NewRuntimeSlot(dir string) *RuntimeSlot {
	return &RuntimeSlot{dir: dir}
}

// DefaultRuntimeDir resolves $XDG_RUNTIME_DIR/nexsync, falling back to the
// temp dir when the variable is unset.
func DefaultRuntimeDir() string {
	if base := os.Getenv("XDG_RUNTIME_DIR"); base != "" {
		return filepath.Join(base, "nexsync")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("nexsync-%d", os.Getuid()))
}

func (s *RuntimeSlot) path() string {
	return filepath.Join(s.dir, tokenFileName)
}

func (s *RuntimeSlot) Load() (string, error) {
	data, err := os.ReadFile(s.path())
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read token slot: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *RuntimeSlot) Save(token string) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create token slot dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, tokenFileName+"-*")
	if err != nil {
		return fmt.Errorf("create token slot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod token slot: %w", err)
	}
	if _, err := tmp.WriteString(token); err != nil {
		tmp.Close()
		return fmt.Errorf("write token slot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close token slot: %w", err)
	}

	if err := os.Rename(tmpName, s.path()); err != nil {
		return fmt.Errorf("replace token slot: %w", err)
	}
	return nil
}

func (s *RuntimeSlot) Clear() error {
	if err := os.Remove(s.path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear token slot: %w", err)
	}
	return nil
}
