package ratelimit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresStore keeps counters in the rate_limits table. The whole fixed-window
// decision is a single upsert, so concurrent hits on one key serialize on the
// row lock instead of racing a read-modify-write.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store over db
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Hit implements Store. When the live window is already full the conditional
// update matches nothing and no row is returned.
func (s *PostgresStore) Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Hit, error) {
	resetAt := now.Add(window)

	var hit Hit
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO rate_limits (key, count, reset_at)
		VALUES ($1, 1, $2)
		ON CONFLICT (key) DO UPDATE SET
			count = CASE WHEN rate_limits.reset_at < $3 THEN 1 ELSE rate_limits.count + 1 END,
			reset_at = CASE WHEN rate_limits.reset_at < $3 THEN $2 ELSE rate_limits.reset_at END
		WHERE rate_limits.reset_at < $3 OR rate_limits.count < $4
		RETURNING count, reset_at
	`, key, resetAt, now, limit).Scan(&hit.Count, &hit.ResetAt)
	if err == nil {
		hit.Allowed = true
		return hit, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Hit{}, fmt.Errorf("upsert rate limit: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT count, reset_at FROM rate_limits WHERE key = $1
	`, key).Scan(&hit.Count, &hit.ResetAt)
	if err != nil {
		return Hit{}, fmt.Errorf("read rate limit: %w", err)
	}
	return hit, nil
}

// Sweep deletes windows that expired before now.
func (s *PostgresStore) Sweep(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM rate_limits WHERE reset_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("sweep rate limits: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
