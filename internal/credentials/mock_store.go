package credentials

// MockStore is an in-memory secret store for testing.
type MockStore struct {
	secrets map[string]string
}

func NewMockStore() *MockStore {
	return &MockStore{secrets: make(map[string]string)}
}

func (m *MockStore) GetSecret(key string) (string, error) {
	value, ok := m.secrets[key]
	if !ok {
		return "", ErrSecretNotFound
	}
	return value, nil
}

func (m *MockStore) SetSecret(key, value string) error {
	m.secrets[key] = value
	return nil
}

func (m *MockStore) DeleteSecret(key string) error {
	if _, ok := m.secrets[key]; !ok {
		return ErrSecretNotFound
	}
	delete(m.secrets, key)
	return nil
}
