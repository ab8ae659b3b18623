package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

const (
	keyCreated = "created"
	keyUpdated = "updated"
	keyDeleted = "deleted"
)

// PersistentKeyStore implements APIKeyStore interface with PostgreSQL backend.
// Provides production-ready API key storage with connection pooling, transaction handling,
// and comprehensive error management.
type PersistentKeyStore struct {
	db     *DB
	logger *slog.Logger
}

// NewPersistentKeyStore creates a production-ready PostgreSQL key store with connection pooling.
func NewPersistentKeyStore(db *DB) (*PersistentKeyStore, error) {
	return &PersistentKeyStore{
		db: db,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: getEnvLogLevel("LOG_LEVEL", slog.LevelDebug),
		})),
	}, nil
}

// Close closes the database connection pool gracefully. Safe to call multiple times.
func (s *PersistentKeyStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}

	return nil
}

// HealthCheck delegates to the underlying connection.
func (s *PersistentKeyStore) HealthCheck(ctx context.Context) error {
	return s.db.HealthCheck(ctx)
}

// FindByKey retrieves an API key by its key value using O(1) hash lookup.
// Uses key_lookup_hash (SHA256) for fast database query, then verifies with bcrypt.
// Returns (nil, false) if key not found or invalid.
func (s *PersistentKeyStore) FindByKey(ctx context.Context, key string) (*APIKey, bool) {
	if key == "" {
		return nil, false
	}

	lookupHash := ComputeKeyLookupHash(key)

	query := `
		SELECT id, key_hash, owner_id, name, permissions, created_at, expires_at, active
		FROM api_keys
		WHERE key_lookup_hash = $1
		LIMIT 1
	`

	var (
		apiKey          APIKey
		permissionsJSON []byte
	)

	err := s.db.QueryRowContext(ctx, query, lookupHash).Scan(
		&apiKey.ID,
		&apiKey.Key, // This is actually the hash, we'll use it for comparison
		&apiKey.OwnerID,
		&apiKey.Name,
		&permissionsJSON,
		&apiKey.CreatedAt,
		&apiKey.ExpiresAt,
		&apiKey.Active,
	)
	if err != nil {
		return nil, false
	}

	if err := json.Unmarshal(permissionsJSON, &apiKey.Permissions); err != nil {
		s.logger.Error("failed to parse permissions", slog.String("error", err.Error()))

		return nil, false
	}

	if !CompareAPIKeyHash(apiKey.Key, key) {
		s.logger.Warn("key lookup hash matched but bcrypt verification failed",
			slog.String("key_id", apiKey.ID),
			slog.String("owner_id", apiKey.OwnerID),
		)

		return nil, false
	}

	apiKey.Key = MaskKey(apiKey.Key)

	return &apiKey, true
}

// Add stores a new API key with bcrypt hashing and a SHA256 lookup hash.
// Duplicate detection uses key_lookup_hash for an O(1) check via FindByKey.
func (s *PersistentKeyStore) Add(ctx context.Context, apiKey *APIKey) error {
	if apiKey == nil { // pragma: allowlist secret
		return ErrKeyNil
	}

	if existing, found := s.FindByKey(ctx, apiKey.Key); found && existing != nil {
		return ErrKeyAlreadyExists
	}

	lookupHash := ComputeKeyLookupHash(apiKey.Key)

	keyHash, err := HashAPIKey(apiKey.Key)
	if err != nil {
		return fmt.Errorf("failed to hash API key: %w", err)
	}

	permissionsJSON, err := permissionsToJSON(apiKey.Permissions)
	if err != nil {
		return fmt.Errorf("failed to serialize permissions: %w", err)
	}

	query := `
		INSERT INTO api_keys (id, key_hash, key_lookup_hash, owner_id, name, permissions, created_at, expires_at, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = s.db.ExecContext(
		ctx,
		query,
		apiKey.ID,
		keyHash,
		lookupHash,
		apiKey.OwnerID,
		apiKey.Name,
		permissionsJSON,
		apiKey.CreatedAt,
		apiKey.ExpiresAt,
		apiKey.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to insert API key: %w", err)
	}

	s.logAudit(keyCreated, apiKey)

	return nil
}

// Update modifies an existing API key.
// Updates name, permissions, active status, and expiration.
// The key hash itself cannot be updated for security reasons.
func (s *PersistentKeyStore) Update(ctx context.Context, apiKey *APIKey) error {
	if apiKey == nil { // pragma: allowlist secret
		return ErrKeyNil
	}

	if apiKey.ID == "" {
		return ErrKeyNotFound
	}

	permissionsJSON, err := permissionsToJSON(apiKey.Permissions)
	if err != nil {
		return fmt.Errorf("failed to serialize permissions: %w", err)
	}

	query := `
		UPDATE api_keys
		SET name = $1, permissions = $2, active = $3, expires_at = $4
		WHERE id = $5
	`

	result, err := s.db.ExecContext(
		ctx,
		query,
		apiKey.Name,
		permissionsJSON,
		apiKey.Active,
		apiKey.ExpiresAt,
		apiKey.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update API key: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrKeyNotFound
	}

	s.logAudit(keyUpdated, apiKey)

	return nil
}

// Delete performs a soft delete on an API key by setting active=FALSE.
// The key is not physically removed from the database for audit trail purposes.
func (s *PersistentKeyStore) Delete(ctx context.Context, keyID string) error {
	if keyID == "" {
		return ErrKeyNotFound
	}

	query := `
		UPDATE api_keys
		SET active = FALSE
		WHERE id = $1
	`

	result, err := s.db.ExecContext(ctx, query, keyID)
	if err != nil {
		return fmt.Errorf("failed to delete API key: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrKeyNotFound
	}

	s.logAudit(keyDeleted, &APIKey{ID: keyID})

	return nil
}

// ListByOwner returns all active API keys for a specific owner.
// Uses the idx_api_keys_owner_id index for optimal query performance.
func (s *PersistentKeyStore) ListByOwner(ctx context.Context, ownerID string) ([]*APIKey, error) {
	if ownerID == "" {
		return nil, ErrOwnerIDEmpty
	}

	query := `
		SELECT id, key_hash, owner_id, name, permissions, created_at, expires_at, active
		FROM api_keys
		WHERE owner_id = $1 AND active = TRUE
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query API keys: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var keys []*APIKey

	for rows.Next() {
		var (
			apiKey          APIKey
			permissionsJSON []byte
		)

		err := rows.Scan(
			&apiKey.ID,
			&apiKey.Key, // This is actually the hash, mask it before returning
			&apiKey.OwnerID,
			&apiKey.Name,
			&permissionsJSON,
			&apiKey.CreatedAt,
			&apiKey.ExpiresAt,
			&apiKey.Active,
		)
		if err != nil {
			continue
		}

		if err := json.Unmarshal(permissionsJSON, &apiKey.Permissions); err != nil {
			continue
		}

		apiKey.Key = MaskKey(apiKey.Key)

		keys = append(keys, &apiKey)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	if keys == nil {
		keys = []*APIKey{}
	}

	return keys, nil
}

// permissionsToJSON converts a permissions slice to JSON format for PostgreSQL JSONB storage.
func permissionsToJSON(permissions []string) ([]byte, error) {
	if permissions == nil {
		permissions = []string{}
	}

	return json.Marshal(permissions)
}

// logAudit logs an API key lifecycle event at INFO level. Best-effort: never blocks the
// calling operation and never fails it.
func (s *PersistentKeyStore) logAudit(operation string, apiKey *APIKey) {
	s.logger.Info("api key "+operation,
		slog.String("key_id", apiKey.ID),
		slog.String("owner_id", apiKey.OwnerID),
		slog.String("key", MaskKey(apiKey.Key)),
	)
}
