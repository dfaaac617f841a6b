package identity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNoSession is returned when no user is logged in.
var ErrNoSession = errors.New("no active session")

// Session identifies the current user. It is passed explicitly to every
// operation that stamps or resolves identity.
type Session struct {
	Email       string `yaml:"email"`
	DisplayName string `yaml:"name"`
}

// NewSession returns a session for the given user.
func NewSession(email, displayName string) Session {
	return Session{Email: strings.TrimSpace(email), DisplayName: strings.TrimSpace(displayName)}
}

// Valid reports whether the session has an identity.
func (s Session) Valid() bool {
	return s.Email != ""
}

// Key returns the store key of the session's user.
func (s Session) Key() string {
	return SafeKey(s.Email)
}

// SessionFile persists the session on the client between runs. It is set on
// login or registration and cleared on logout.
type SessionFile struct {
	Path string
}

// DefaultSessionFile returns the session file under dir, or under
// ~/.chatsync when dir is empty.
func DefaultSessionFile(dir string) SessionFile {
	if dir == "" {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".chatsync")
	}
	return SessionFile{Path: filepath.Join(dir, "session.yaml")}
}

// Load reads the saved session.
func (f SessionFile) Load() (Session, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return Session{}, ErrNoSession
	}
	if err != nil {
		return Session{}, err
	}

	var s Session
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Session{}, fmt.Errorf("parse session file: %w", err)
	}
	if !s.Valid() {
		return Session{}, ErrNoSession
	}
	return s, nil
}

// Save writes the session.
func (f SessionFile) Save(s Session) error {
	if !s.Valid() {
		return ErrNoSession
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0700); err != nil {
		return err
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(f.Path, data, 0600)
}

// Clear removes the saved session. Clearing twice is not an error.
func (f SessionFile) Clear() error {
	err := os.Remove(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
