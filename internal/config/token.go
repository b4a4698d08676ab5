package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Credentials is what `glwatch login` persists.
type Credentials struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

// TokenStore keeps credentials in a 0600 JSON file. $GLWATCH_TOKEN, when
// set, takes precedence over the file for Token.
type TokenStore struct {
	path string

	mu sync.Mutex
}

// NewTokenStore returns a store backed by path.
func NewTokenStore(path string) *TokenStore {
	return &TokenStore{path: path}
}

// DefaultTokenStore returns the store at Home()/token.json.
func DefaultTokenStore() (*TokenStore, error) {
	dir, err := Home()
	if err != nil {
		return nil, err
	}
	return NewTokenStore(filepath.Join(dir, "token.json")), nil
}

// Get returns the stored credentials. A missing file yields zero
// credentials and no error.
func (s *TokenStore) Get() (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Credentials{}, nil
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("reading token store: %w", err)
	}
	var c Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return Credentials{}, fmt.Errorf("parsing token store %s: %w", s.path, err)
	}
	return c, nil
}

// Set replaces the stored credentials.
func (s *TokenStore) Set(c Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}
	return writeFile(s.path, append(data, '\n'), 0o600)
}

// Clear removes the stored credentials.
func (s *TokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clearing token store: %w", err)
	}
	return nil
}

// Token returns the access token to send, or "" when none is configured.
// Read errors are logged and treated as no token.
func (s *TokenStore) Token() string {
	if v := os.Getenv(EnvToken); v != "" {
		return v
	}
	c, err := s.Get()
	if err != nil {
		slog.Warn("token store unreadable", "path", s.path, "error", err)
		return ""
	}
	return c.Token
}
