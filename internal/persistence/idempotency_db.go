package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"FlashLedger/internal/core"
)

// PostgresIdempotencyChecker is the durable dedup tier behind the core's LRU.
type PostgresIdempotencyChecker struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{
		db:      db,
		timeout: 500 * time.Millisecond,
	}
}

// IsDuplicate checks if caller already committed the command.
func (pic *PostgresIdempotencyChecker) IsDuplicate(eventType, caller, idempotencyKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), pic.timeout)
	defer cancel()

	var exists int
	err := pic.db.QueryRowContext(ctx, `
		SELECT 1
		FROM event_log.events
		WHERE event_type = $1 AND caller = $2 AND idempotency_key = $3
		LIMIT 1
	`, eventType, caller, idempotencyKey).Scan(&exists)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecentKeys returns the newest committed keys in core.CompositeKey form,
// oldest first, for warming the LRU on startup.
func (pic *PostgresIdempotencyChecker) RecentKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := pic.db.QueryContext(ctx, `
		SELECT event_type, caller, idempotency_key FROM (
			SELECT sequence, event_type, caller, idempotency_key
			FROM event_log.events
			ORDER BY sequence DESC
			LIMIT $1
		) recent
		ORDER BY sequence ASC
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]string, 0, limit)
	for rows.Next() {
		var eventType, caller, key string
		if err := rows.Scan(&eventType, &caller, &key); err != nil {
			return nil, err
		}
		keys = append(keys, core.CompositeKey(eventType, caller, key))
	}
	return keys, rows.Err()
}
