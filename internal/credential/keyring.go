// Package credential keeps the bearer token in the OS keyring.
package credential

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/99designs/keyring"

	"github.com/schoolhub/schoolhub/internal/core"
)

const (
	serviceName = "schoolhub"
	tokenKey    = "api-token"
)

// Store reads and writes the bearer token.
type Store struct {
	ring keyring.Keyring
}

// Open returns a store on the platform keyring. The encrypted file backend
// under dataDir is the last resort.
func Open(dataDir string) (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  filepath.Join(dataDir, "credentials"),
		FilePasswordFunc:         keyring.FixedStringPrompt("schoolhub-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return NewStore(ring), nil
}

// NewStore wraps an existing keyring.
func NewStore(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

// Token returns the saved token, or core.ErrNoCredentials.
func (s *Store) Token() (string, error) {
	item, err := s.ring.Get(tokenKey)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", core.ErrNoCredentials
	}
	if err != nil {
		return "", fmt.Errorf("getting token: %w", err)
	}
	if len(item.Data) == 0 {
		return "", core.ErrNoCredentials
	}
	return string(item.Data), nil
}

// SetToken saves token.
func (s *Store) SetToken(token string) error {
	err := s.ring.Set(keyring.Item{
		Key:   tokenKey,
		Data:  []byte(token),
		Label: "SchoolHub API token",
	})
	if err != nil {
		return fmt.Errorf("setting token: %w", err)
	}
	return nil
}

// DeleteToken removes the saved token. Removing a missing token succeeds.
func (s *Store) DeleteToken() error {
	err := s.ring.Remove(tokenKey)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting token: %w", err)
	}
	return nil
}

// Resolve picks the token to use: an explicit one wins over the keyring.
func (s *Store) Resolve(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	return s.Token()
}
