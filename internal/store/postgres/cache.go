package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"shopsync/internal/store"
)

// Get returns a cached entry, or nil when absent or expired. Expired rows
// are left in place; Put overwrites them and they are harmless to keep.
func (s *Store) Get(ctx context.Context, key string) (*store.CacheEntry, error) {
	var entry store.CacheEntry
	var ttlSeconds sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT key, value, updated_at, ttl_seconds
		FROM cache
		WHERE key = $1
		  AND (ttl_seconds IS NULL OR updated_at + ttl_seconds * INTERVAL '1 second' > NOW())
	`, key).Scan(&entry.Key, &entry.Value, &entry.UpdatedAt, &ttlSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get %s: %w", key, err)
	}
	if ttlSeconds.Valid {
		ttl := time.Duration(ttlSeconds.Int64) * time.Second
		entry.TTL = &ttl
	}
	return &entry, nil
}

// Put upserts a cache entry and refreshes its clock.
func (s *Store) Put(ctx context.Context, entry store.CacheEntry) error {
	var ttlSeconds sql.NullInt64
	if entry.TTL != nil {
		ttlSeconds = sql.NullInt64{Int64: int64(entry.TTL.Seconds()), Valid: true}
	}
	updatedAt := entry.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache (key, value, updated_at, ttl_seconds)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET
			value       = EXCLUDED.value,
			updated_at  = EXCLUDED.updated_at,
			ttl_seconds = EXCLUDED.ttl_seconds
	`, entry.Key, entry.Value, updatedAt, ttlSeconds)
	if err != nil {
		return fmt.Errorf("cache put %s: %w", entry.Key, err)
	}
	return nil
}

// Delete removes a cache entry. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache WHERE key = $1`, key); err != nil {
		return fmt.Errorf("cache delete %s: %w", key, err)
	}
	return nil
}
