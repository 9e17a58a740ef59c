// Package outbox relays committed course events from the outbox table to NATS.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"courseflow/obs"
)

// Message results reported to metrics.
const (
	ResultPublished = "published"
	ResultRetry     = "retry"
	ResultDead      = "dead"
)

const subjectPrefix = "courseflow."

// Message is one claimed outbox row.
type Message struct {
	ID        string
	Topic     string
	Payload   []byte
	Attempts  int
	CreatedAt time.Time
}

// Subject is the NATS subject the message is published on.
func (m Message) Subject() string {
	return subjectPrefix + m.Topic
}

type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Store claims and settles outbox rows inside the relay's transaction.
type Store interface {
	Claim(ctx context.Context, tx pgx.Tx, limit int) ([]Message, error)
	MarkProcessed(ctx context.Context, tx pgx.Tx, id string) error
	// MarkFailed records a failed attempt. A retried row is not claimed again before retryAt.
	MarkFailed(ctx context.Context, tx pgx.Tx, id, cause string, retryAt time.Time, dead bool) error
}

// TxBeginner is satisfied by *pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Options struct {
	BatchSize    int
	MaxAttempts  int
	PollInterval time.Duration
	// MaxBackoff caps the retry delay, which doubles from PollInterval per attempt.
	MaxBackoff time.Duration
}

// Batch reports what one ProcessBatch round did.
type Batch struct {
	Claimed   int
	Published int
}

type Relay struct {
	pool      TxBeginner
	store     Store
	publisher Publisher
	opts      Options
	log       zerolog.Logger
	now       func() time.Time
}

// NewRelay wires a relay; a nil store defaults to the PostgreSQL store.
func NewRelay(pool TxBeginner, store Store, publisher Publisher, opts Options, logger zerolog.Logger) *Relay {
	if store == nil {
		store = NewPGStore()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 10
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 5 * time.Minute
	}
	return &Relay{
		pool:      pool,
		store:     store,
		publisher: publisher,
		opts:      opts,
		log:       logger.With().Str("component", "outbox").Logger(),
		now:       time.Now,
	}
}

// Run polls until ctx ends. Batch failures are logged and retried on the next tick.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	for {
		for {
			batch, err := r.ProcessBatch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.log.Error().Err(err).Msg("outbox batch failed")
				break
			}
			// keep draining while full batches get through; failures wait for the tick
			if batch.Claimed < r.opts.BatchSize || batch.Published == 0 {
				break
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// ProcessBatch claims up to BatchSize pending rows with SKIP LOCKED, publishes
// each and settles it in the same transaction.
func (r *Relay) ProcessBatch(ctx context.Context) (Batch, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Batch{}, fmt.Errorf("outbox: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	msgs, err := r.store.Claim(ctx, tx, r.opts.BatchSize)
	if err != nil {
		return Batch{}, err
	}
	if len(msgs) == 0 {
		return Batch{}, nil
	}

	batch := Batch{Claimed: len(msgs)}
	results := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		result, err := r.deliver(ctx, tx, msg)
		if err != nil {
			return Batch{}, err
		}
		if result == ResultPublished {
			batch.Published++
		}
		results = append(results, result)
	}

	if err := tx.Commit(ctx); err != nil {
		return Batch{}, fmt.Errorf("outbox: commit: %w", err)
	}
	for _, result := range results {
		obs.ObserveOutbox(result)
	}
	return batch, nil
}

// retryDelay doubles from PollInterval with each attempt, up to MaxBackoff.
func (r *Relay) retryDelay(attempts int) time.Duration {
	delay := r.opts.PollInterval
	for i := 1; i < attempts && delay < r.opts.MaxBackoff; i++ {
		delay *= 2
	}
	return min(delay, r.opts.MaxBackoff)
}

func (r *Relay) deliver(ctx context.Context, tx pgx.Tx, msg Message) (string, error) {
	pubErr := r.publisher.Publish(ctx, msg.Subject(), msg.Payload)
	if pubErr == nil {
		if err := r.store.MarkProcessed(ctx, tx, msg.ID); err != nil {
			return "", err
		}
		r.log.Debug().Str("outbox_id", msg.ID).Str("subject", msg.Subject()).Msg("outbox message published")
		return ResultPublished, nil
	}
	if errors.Is(pubErr, context.Canceled) || errors.Is(pubErr, context.DeadlineExceeded) {
		return "", pubErr
	}

	attempts := msg.Attempts + 1
	dead := attempts >= r.opts.MaxAttempts
	retryAt := r.now().Add(r.retryDelay(attempts))
	if err := r.store.MarkFailed(ctx, tx, msg.ID, pubErr.Error(), retryAt, dead); err != nil {
		return "", err
	}

	evt := r.log.Warn()
	result := ResultRetry
	if dead {
		evt = r.log.Error()
		result = ResultDead
	}
	evt.Err(pubErr).
		Str("outbox_id", msg.ID).
		Str("subject", msg.Subject()).
		Int("attempts", attempts).
		Bool("dead", dead).
		Time("retry_at", retryAt).
		Msg("outbox publish failed")
	return result, nil
}
