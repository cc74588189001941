package credentials

import (
	"errors"

	"github.com/zalando/go-keyring"

	"github.com/insightops/sitewatch/internal/util"
)

// KeyringStore resolves secrets from the OS keychain.
type KeyringStore struct {
	serviceName string
}

// NewKeyringStore creates a store scoped to the given keyring service.
func NewKeyringStore(serviceName string) *KeyringStore {
	if serviceName == "" {
		serviceName = ServiceName
	}
	return &KeyringStore{serviceName: serviceName}
}

// DefaultStore returns the standard secret store backed by the OS keychain.
func DefaultStore() Store {
	return NewKeyringStore(ServiceName)
}

func (k *KeyringStore) GetSecret(key string) (string, error) {
	value, err := keyring.Get(k.serviceName, util.NormalizeKey(key))
	if err == nil {
		return value, nil
	}
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrSecretNotFound
	}
	return "", err
}

func (k *KeyringStore) SetSecret(key, value string) error {
	return keyring.Set(k.serviceName, util.NormalizeKey(key), value)
}

func (k *KeyringStore) DeleteSecret(key string) error {
	err := keyring.Delete(k.serviceName, util.NormalizeKey(key))
	if errors.Is(err, keyring.ErrNotFound) {
		return ErrSecretNotFound
	}
	return err
}
