package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

type PGStore struct{}

func NewPGStore() *PGStore {
	return &PGStore{}
}

func (s *PGStore) Claim(ctx context.Context, tx pgx.Tx, limit int) ([]Message, error) {
	const q = `
		SELECT id::text, topic, payload, attempts, created_at
		FROM outbox
		WHERE status = 'pending' AND next_attempt_at <= NOW()
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT $1`

	rows, err := tx.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox: claim: %w", err)
	}
	defer rows.Close()

	msgs := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.Attempts, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("outbox: scan: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: claim rows: %w", err)
	}
	return msgs, nil
}

func (s *PGStore) MarkProcessed(ctx context.Context, tx pgx.Tx, id string) error {
	const q = `
		UPDATE outbox
		SET status = 'processed', attempts = attempts + 1, last_attempt = NOW(), last_error = NULL
		WHERE id = $1`
	if _, err := tx.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("outbox: mark processed: %w", err)
	}
	return nil
}

func (s *PGStore) MarkFailed(ctx context.Context, tx pgx.Tx, id, cause string, retryAt time.Time, dead bool) error {
	const q = `
		UPDATE outbox
		SET attempts = attempts + 1,
		    last_attempt = NOW(),
		    last_error = $2,
		    next_attempt_at = $3,
		    status = CASE WHEN $4::boolean THEN 'dead' ELSE 'pending' END
		WHERE id = $1`
	if _, err := tx.Exec(ctx, q, id, cause, retryAt, dead); err != nil {
		return fmt.Errorf("outbox: mark failed: %w", err)
	}
	return nil
}
