package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
	"go.uber.org/zap"

	"github.com/dshills/decisionflow/pkg/log"
)

const (
	// ServiceName is the identifier used for all decisionflow credentials in
	// the system keyring.
	ServiceName = "decisionflow"

	indexKey = "__decisionflow_index__"
)

// ErrCredentialNotFound is returned for a key with no stored secret.
var ErrCredentialNotFound = errors.New("credential not found")

// CredentialStore stores secrets such as tracker API tokens.
type CredentialStore interface {
	Set(key string, value string) error
	Get(key string) (string, error)
	Delete(key string) error
	// List returns all credential keys (not the values)
	List() ([]string, error)
}

// KeyringCredentialStore implements CredentialStore using the system keyring.
// - macOS: Uses Keychain
// - Windows: Uses Credential Manager
// - Linux: Uses Secret Service (GNOME Keyring, KWallet)
type KeyringCredentialStore struct {
	service string
	logger  *zap.Logger
}

// NewKeyringCredentialStore creates a new keyring-based credential store.
func NewKeyringCredentialStore(logger *zap.Logger) *KeyringCredentialStore {
	return &KeyringCredentialStore{
		service: ServiceName,
		logger:  log.OrNop(logger).Named("keyring"),
	}
}

// Set stores a credential. The key is the account name and value the
// password.
func (s *KeyringCredentialStore) Set(key string, value string) error {
	if key == "" {
		return fmt.Errorf("credential key cannot be empty")
	}
	if err := keyring.Set(s.service, key, value); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	if err := s.updateIndex(key, true); err != nil {
		// The credential itself is stored.
		s.logger.Warn("failed to update credential index", zap.String("key", key), zap.Error(err))
	}
	return nil
}

// Get retrieves a credential.
func (s *KeyringCredentialStore) Get(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("credential key cannot be empty")
	}
	value, err := keyring.Get(s.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("%w: %s", ErrCredentialNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("failed to retrieve credential: %w", err)
	}
	return value, nil
}

// Delete removes a credential.
func (s *KeyringCredentialStore) Delete(key string) error {
	if key == "" {
		return fmt.Errorf("credential key cannot be empty")
	}
	err := keyring.Delete(s.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrCredentialNotFound, key)
	}
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	if err := s.updateIndex(key, false); err != nil {
		s.logger.Warn("failed to update credential index", zap.String("key", key), zap.Error(err))
	}
	return nil
}

// List returns the stored credential keys, kept in an index entry since
// keyrings cannot enumerate accounts portably.
func (s *KeyringCredentialStore) List() ([]string, error) {
	indexJSON, err := keyring.Get(s.service, indexKey)
	if errors.Is(err, keyring.ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve credential index: %w", err)
	}
	var keys []string
	if err := json.Unmarshal([]byte(indexJSON), &keys); err != nil {
		return nil, fmt.Errorf("failed to parse credential index: %w", err)
	}
	return keys, nil
}

func (s *KeyringCredentialStore) updateIndex(key string, present bool) error {
	keys, err := s.List()
	if err != nil {
		return err
	}
	out := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		if k != key {
			out = append(out, k)
		}
	}
	if present {
		out = append(out, key)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to marshal credential index: %w", err)
	}
	if err := keyring.Set(s.service, indexKey, string(data)); err != nil {
		return fmt.Errorf("failed to save credential index: %w", err)
	}
	return nil
}
