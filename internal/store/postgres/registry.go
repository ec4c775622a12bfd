package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"shopsync/internal/retailer"
	"shopsync/internal/store"

	"github.com/lib/pq"
)

const storeColumns = `retailer, id, name, sync_schedule, last_synced_at, fallback_store_id, lat, lng`

// StoresPendingSync returns stores due for a sync: scheduled, and never
// synced or synced over 12 hours ago. Never-synced stores come first.
func (s *Store) StoresPendingSync(ctx context.Context) ([]store.Store, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM store
		WHERE sync_schedule <> 'never'
		  AND (last_synced_at IS NULL OR last_synced_at < NOW() - INTERVAL '12 hours')
		ORDER BY last_synced_at ASC NULLS FIRST, retailer, id
	`, storeColumns)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("stores pending sync: %w", err)
	}
	defer rows.Close()
	return collectStores(rows)
}

// GetStore returns one store, or nil if unknown.
func (s *Store) GetStore(ctx context.Context, r retailer.Retailer, storeID string) (*store.Store, error) {
	query := fmt.Sprintf(`SELECT %s FROM store WHERE retailer = $1 AND id = $2`, storeColumns)

	row, err := scanStore(s.db.QueryRowContext(ctx, query, string(r), storeID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get store %s-%s: %w", r, storeID, err)
	}
	return row, nil
}

// StoresByKeys returns the stores matching the given keys; unknown keys are
// silently absent.
func (s *Store) StoresByKeys(ctx context.Context, keys []string) ([]store.Store, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
		SELECT %s FROM store WHERE retailer || '-' || id = ANY($1)
	`, storeColumns)

	rows, err := s.db.QueryContext(ctx, query, pq.Array(keys))
	if err != nil {
		return nil, fmt.Errorf("stores by keys: %w", err)
	}
	defer rows.Close()
	return collectStores(rows)
}

// StoresWithLocation returns every store that has a geographic location.
func (s *Store) StoresWithLocation(ctx context.Context) ([]store.Store, error) {
	query := fmt.Sprintf(`SELECT %s FROM store WHERE lat IS NOT NULL AND lng IS NOT NULL`, storeColumns)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("stores with location: %w", err)
	}
	defer rows.Close()
	return collectStores(rows)
}

// AllStores returns every registered store.
func (s *Store) AllStores(ctx context.Context) ([]store.Store, error) {
	query := fmt.Sprintf(`SELECT %s FROM store ORDER BY retailer, id`, storeColumns)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("all stores: %w", err)
	}
	defer rows.Close()
	return collectStores(rows)
}

// UpdateLastSyncedAt stamps a store after a completed scrape.
func (s *Store) UpdateLastSyncedAt(ctx context.Context, r retailer.Retailer, storeID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE store SET last_synced_at = $3 WHERE retailer = $1 AND id = $2`,
		string(r), storeID, now)
	return err
}

// SetFallbackStore records the administrative fallback mapping.
func (s *Store) SetFallbackStore(ctx context.Context, r retailer.Retailer, storeID, fallbackStoreID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE store SET fallback_store_id = NULLIF($3, '') WHERE retailer = $1 AND id = $2`,
		string(r), storeID, fallbackStoreID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("unknown store %s-%s", r, storeID)
	}
	return nil
}

func scanStore(row rowScanner) (*store.Store, error) {
	var s store.Store
	var code string
	var lat, lng sql.NullFloat64
	err := row.Scan(
		&code,
		&s.ID,
		&s.Name,
		(*string)(&s.SyncSchedule),
		&s.LastSyncedAt,
		&s.FallbackStoreID,
		&lat,
		&lng,
	)
	if err != nil {
		return nil, err
	}
	s.Retailer = retailer.Retailer(code)
	if lat.Valid && lng.Valid {
		s.Location = &store.LatLng{Lat: lat.Float64, Lng: lng.Float64}
	}
	return &s, nil
}

func collectStores(rows *sql.Rows) ([]store.Store, error) {
	var out []store.Store
	for rows.Next() {
		s, err := scanStore(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}
