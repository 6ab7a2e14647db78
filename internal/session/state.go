// Package session tracks the CLI's active study session.
//
// The active session id lives in ~/.ragcore/current_session so
// consecutive CLI invocations (ingest, query, delete) target the same
// session without repeating --session. Writes are atomic (temp file +
// rename) and serialized across processes with an advisory file lock
// via github.com/gofrs/flock.
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

const (
	stateDir  = ".ragcore"
	stateFile = "current_session"
)

// State manages the current-session file. The zero value is unusable;
// construct with NewState.
type State struct {
	path string
	lock *flock.Flock
}

// NewState creates a State rooted at dir, creating dir if needed.
// An empty dir means ~/.ragcore.
func NewState(dir string) (*State, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dir = filepath.Join(home, stateDir)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	path := filepath.Join(dir, stateFile)
	return &State{
		path: path,
		lock: flock.New(path + ".lock"),
	}, nil
}

// Current returns the active session id, or "" when none is set.
// A missing state file is not an error.
func (s *State) Current() (string, error) {
	if err := s.lock.RLock(); err != nil {
		return "", fmt.Errorf("locking state file: %w", err)
	}
	defer s.lock.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("reading state file: %w", err)
	}

	id := strings.TrimSpace(string(data))
	if id == "" {
		return "", nil
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("invalid session id in state file: %w", err)
	}
	return id, nil
}

// Save records id as the active session.
func (s *State) Save(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid session id: %w", err)
	}

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("locking state file: %w", err)
	}
	defer s.lock.Unlock()

	// Write-then-rename keeps concurrent readers from observing a
	// partial write.
	tmp, err := os.CreateTemp(filepath.Dir(s.path), stateFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	if _, err := tmp.WriteString(id + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing temp state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}

// Clear removes the active session. Idempotent.
func (s *State) Clear() error {
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("locking state file: %w", err)
	}
	defer s.lock.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing state file: %w", err)
	}
	return nil
}

// NewID mints a fresh session id.
func NewID() string {
	return uuid.NewString()
}
