// Package storage provides data storage implementations for the Aegis service.
package storage

import (
	"context"
	"sync"
)

// InMemoryKeyStore provides thread-safe in-memory storage for API keys.
// Used in tests and local development where a Postgres-backed store is overkill.
type InMemoryKeyStore struct {
	// keys maps key strings to Key structs for fast lookup
	keys map[string]*APIKey
	// keysByID maps key IDs to Key structs for ID-based operations
	keysByID map[string]*APIKey
	// keysByOwner maps owner IDs to slices of Key structs for owner filtering
	keysByOwner map[string][]*APIKey
	// mutex protects concurrent access to all maps
	mutex sync.RWMutex
}

// NewInMemoryKeyStore creates a new thread-safe in-memory key store.
func NewInMemoryKeyStore() *InMemoryKeyStore {
	return &InMemoryKeyStore{
		keys:        make(map[string]*APIKey),
		keysByID:    make(map[string]*APIKey),
		keysByOwner: make(map[string][]*APIKey),
	}
}

// FindByKey retrieves an API key by its key value.
func (s *InMemoryKeyStore) FindByKey(_ context.Context, key string) (*APIKey, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	apiKey, exists := s.keys[key]
	if !exists {
		return nil, false
	}

	keyCopy := *apiKey

	return &keyCopy, true
}

// Add stores a new API key.
func (s *InMemoryKeyStore) Add(_ context.Context, apiKey *APIKey) error {
	if apiKey == nil { // pragma: allowlist secret
		return ErrKeyNil
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.keysByID[apiKey.ID]; exists {
		return ErrKeyAlreadyExists
	}

	if _, exists := s.keys[apiKey.Key]; exists {
		return ErrKeyAlreadyExists
	}

	keyCopy := *apiKey

	s.keys[keyCopy.Key] = &keyCopy
	s.keysByID[keyCopy.ID] = &keyCopy
	s.keysByOwner[keyCopy.OwnerID] = append(s.keysByOwner[keyCopy.OwnerID], &keyCopy)

	return nil
}

// Update modifies an existing API key.
func (s *InMemoryKeyStore) Update(_ context.Context, apiKey *APIKey) error {
	if apiKey == nil { // pragma: allowlist secret
		return ErrKeyNil
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	existingKey, exists := s.keysByID[apiKey.ID]
	if !exists {
		return ErrKeyNotFound
	}

	s.removeFromOwnerMap(existingKey.OwnerID, existingKey.ID)

	if existingKey.Key != apiKey.Key {
		delete(s.keys, existingKey.Key)
	}

	keyCopy := *apiKey

	s.keys[keyCopy.Key] = &keyCopy
	s.keysByID[keyCopy.ID] = &keyCopy
	s.keysByOwner[keyCopy.OwnerID] = append(s.keysByOwner[keyCopy.OwnerID], &keyCopy)

	return nil
}

// Delete soft-deletes an API key by setting active=false.
// This matches PostgreSQL behavior for consistency.
func (s *InMemoryKeyStore) Delete(_ context.Context, keyID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	existingKey, exists := s.keysByID[keyID]
	if !exists {
		return ErrKeyNotFound
	}

	existingKey.Active = false

	return nil
}

// ListByOwner returns all API keys for a specific owner.
func (s *InMemoryKeyStore) ListByOwner(_ context.Context, ownerID string) ([]*APIKey, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	keys, exists := s.keysByOwner[ownerID]
	if !exists {
		return []*APIKey{}, nil
	}

	result := make([]*APIKey, len(keys))
	for i, key := range keys {
		keyCopy := *key
		result[i] = &keyCopy
	}

	return result, nil
}

// HealthCheck always reports healthy; there is no backing store to probe.
func (s *InMemoryKeyStore) HealthCheck(_ context.Context) error {
	return nil
}

// removeFromOwnerMap removes a key from the owner map by key ID.
// Caller must hold write lock.
func (s *InMemoryKeyStore) removeFromOwnerMap(ownerID, keyID string) {
	keys := s.keysByOwner[ownerID]
	for i, key := range keys {
		if key.ID == keyID {
			s.keysByOwner[ownerID] = append(keys[:i], keys[i+1:]...)

			break
		}
	}

	if len(s.keysByOwner[ownerID]) == 0 {
		delete(s.keysByOwner, ownerID)
	}
}
