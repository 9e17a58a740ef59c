package course

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const (
	TopicCreated              = "course.created"
	TopicStatusChanged        = "course.status_changed"
	TopicParticipantsAttached = "course.participants_attached"
)

// TimelineWriter appends transition history inside the caller's transaction.
type TimelineWriter interface {
	Append(ctx context.Context, tx pgx.Tx, evt TransitionEvent) (TransitionEvent, error)
	History(ctx context.Context, tx pgx.Tx, courseID string) ([]TransitionEvent, error)
}

// OutboxWriter enqueues messages committed together with the transition.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

type PGTimeline struct{}

func NewTimeline() *PGTimeline {
	return &PGTimeline{}
}

type eventPayload struct {
	Previous *Snapshot `json:"previous,omitempty"`
	Next     Snapshot  `json:"next"`
}

// Append assigns the next per-course sequence number. The course row lock held by
// the caller serializes concurrent appends.
func (t *PGTimeline) Append(ctx context.Context, tx pgx.Tx, evt TransitionEvent) (TransitionEvent, error) {
	body, err := json.Marshal(eventPayload{Previous: evt.Previous, Next: evt.Next})
	if err != nil {
		return TransitionEvent{}, fmt.Errorf("course: marshal timeline payload: %w", err)
	}

	const q = `
INSERT INTO course_events (id, course_id, seq, operation, actor_id, actor_role, next_status, payload, created_at)
VALUES ($1, $2, (SELECT COALESCE(MAX(seq), 0) + 1 FROM course_events WHERE course_id = $2),
        $3, $4, $5, $6::course_status, $7::jsonb, $8)
RETURNING seq;
`
	if err := tx.QueryRow(ctx, q, evt.ID, evt.CourseID, evt.Operation, evt.ActorID, evt.ActorRole, evt.Next.Status, body, evt.CreatedAt).
		Scan(&evt.Seq); err != nil {
		return TransitionEvent{}, fmt.Errorf("course: insert timeline event: %w", err)
	}
	return evt, nil
}

func (t *PGTimeline) History(ctx context.Context, tx pgx.Tx, courseID string) ([]TransitionEvent, error) {
	const q = `
SELECT id, course_id::text, seq, operation, actor_id::text, actor_role, payload, created_at
FROM course_events
WHERE course_id = $1
ORDER BY seq;
`
	rows, err := tx.Query(ctx, q, courseID)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("course: query history: %w", err)
	}
	defer rows.Close()

	var events []TransitionEvent
	for rows.Next() {
		var (
			evt  TransitionEvent
			body []byte
		)
		if err := rows.Scan(&evt.ID, &evt.CourseID, &evt.Seq, &evt.Operation, &evt.ActorID, &evt.ActorRole, &body, &evt.CreatedAt); err != nil {
			return nil, fmt.Errorf("course: scan history: %w", err)
		}
		var payload eventPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, fmt.Errorf("course: decode history payload: %w", err)
		}
		evt.Previous = payload.Previous
		evt.Next = payload.Next
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("course: iterate history: %w", err)
	}
	return events, nil
}

type PGOutbox struct{}

func NewOutbox() *PGOutbox {
	return &PGOutbox{}
}

func (o *PGOutbox) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("course: marshal outbox payload: %w", err)
	}
	const q = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := tx.Exec(ctx, q, topic, body); err != nil {
		return fmt.Errorf("course: enqueue outbox: %w", err)
	}
	return nil
}
