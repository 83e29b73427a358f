package store

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"classifieds-catalog/internal/domain"
)

// --- OutboxStorer Implementation ---

// EnqueueAllListings appends an upsert record for every listing row so the
// relay rebuilds the whole index from the database.
func (s *PostgresStore) EnqueueAllListings(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO catalog.search_outbox (listing_id, op) SELECT id, 'upsert' FROM catalog.listings ORDER BY created_at;`,
	)
	if err != nil {
		return 0, fmt.Errorf("store: EnqueueAllListings failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: EnqueueAllListings failed to get rows affected: %w", err)
	}
	return n, nil
}

// PurgeProcessedOutbox deletes records processed before the given instant.
func (s *PostgresStore) PurgeProcessedOutbox(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM catalog.search_outbox WHERE processed_at IS NOT NULL AND processed_at < $1;`, before,
	)
	if err != nil {
		return 0, fmt.Errorf("store: PurgeProcessedOutbox failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: PurgeProcessedOutbox failed to get rows affected: %w", err)
	}
	return n, nil
}

// --- OutboxTx Implementation ---

func (t *pgTx) TryLockRelay(ctx context.Context) (bool, error) {
	var locked bool
	if err := t.q.QueryRowContext(ctx, `SELECT pg_try_advisory_xact_lock($1);`, outboxRelayLockKey).Scan(&locked); err != nil {
		return false, fmt.Errorf("store: TryLockRelay failed: %w", err)
	}
	return locked, nil
}

// PendingOutbox returns up to limit unprocessed records that are due at now,
// oldest first.
func (t *pgTx) PendingOutbox(ctx context.Context, limit int, now time.Time) ([]domain.OutboxRecord, error) {
	query := `
		SELECT id, listing_id, op, attempts, last_error, created_at
		FROM catalog.search_outbox
		WHERE processed_at IS NULL AND available_at <= $1
		ORDER BY id ASC
		LIMIT $2;
	`
	rows, err := t.q.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("store: PendingOutbox failed to query outbox: %w", err)
	}
	defer rows.Close()

	records := make([]domain.OutboxRecord, 0, limit)
	for rows.Next() {
		var r domain.OutboxRecord
		if err := rows.Scan(&r.ID, &r.ListingID, &r.Op, &r.Attempts, &r.LastError, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: PendingOutbox failed to scan outbox row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: PendingOutbox iteration error: %w", err)
	}
	return records, nil
}

func (t *pgTx) MarkProcessed(ctx context.Context, ids []int64, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := t.q.ExecContext(ctx,
		`UPDATE catalog.search_outbox SET processed_at = $1 WHERE id = ANY($2::bigint[]);`, now, pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("store: MarkProcessed failed: %w", err)
	}
	return nil
}

// MarkFailed records a failed attempt and defers the record until retryAt.
func (t *pgTx) MarkFailed(ctx context.Context, id int64, reason string, retryAt time.Time) error {
	_, err := t.q.ExecContext(ctx,
		`UPDATE catalog.search_outbox SET attempts = attempts + 1, last_error = $1, available_at = $2 WHERE id = $3;`,
		reason, retryAt, id,
	)
	if err != nil {
		return fmt.Errorf("store: MarkFailed failed: %w", err)
	}
	return nil
}
