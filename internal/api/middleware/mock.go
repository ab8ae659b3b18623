// Package middleware provides HTTP middleware components for the Aegis API.
package middleware

import (
	"context"

	"github.com/aegisdq/aegis/internal/storage"
)

// MockAPIKeyStore is a mock implementation of storage.APIKeyStore for testing.
type MockAPIKeyStore struct {
	FindByKeyFunc   func(ctx context.Context, key string) (*storage.APIKey, bool)
	AddFunc         func(ctx context.Context, apiKey *storage.APIKey) error
	UpdateFunc      func(ctx context.Context, apiKey *storage.APIKey) error
	DeleteFunc      func(ctx context.Context, keyID string) error
	ListByOwnerFunc func(ctx context.Context, ownerID string) ([]*storage.APIKey, error)
}

// FindByKey implements storage.APIKeyStore.FindByKey.
func (m *MockAPIKeyStore) FindByKey(ctx context.Context, key string) (*storage.APIKey, bool) {
	if m.FindByKeyFunc != nil {
		return m.FindByKeyFunc(ctx, key)
	}

	return nil, false
}

// Add implements storage.APIKeyStore.Add.
func (m *MockAPIKeyStore) Add(ctx context.Context, apiKey *storage.APIKey) error {
	if m.AddFunc != nil {
		return m.AddFunc(ctx, apiKey)
	}

	return nil
}

// Update implements storage.APIKeyStore.Update.
func (m *MockAPIKeyStore) Update(ctx context.Context, apiKey *storage.APIKey) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, apiKey)
	}

	return nil
}

// Delete implements storage.APIKeyStore.Delete.
func (m *MockAPIKeyStore) Delete(ctx context.Context, keyID string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, keyID)
	}

	return nil
}

// ListByOwner implements storage.APIKeyStore.ListByOwner.
func (m *MockAPIKeyStore) ListByOwner(ctx context.Context, ownerID string) ([]*storage.APIKey, error) {
	if m.ListByOwnerFunc != nil {
		return m.ListByOwnerFunc(ctx, ownerID)
	}

	return []*storage.APIKey{}, nil
}

// HealthCheck implements storage.APIKeyStore.HealthCheck.
func (m *MockAPIKeyStore) HealthCheck(_ context.Context) error {
	return nil
}
