package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"courseflow/course"
	"courseflow/outbox"
)

// Registry shares created course ids between actors.
type Registry struct {
	mu  sync.Mutex
	ids []string
}

func (r *Registry) Add(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
}

// Pick returns a random registered id.
func (r *Registry) Pick() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ids) == 0 {
		return "", false
	}
	return r.ids[rand.Intn(len(r.ids))], true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

// tolerated reports errors expected under contention and backend chaos.
func tolerated(err error) bool {
	if err == nil {
		return true
	}
	switch {
	case errors.Is(err, course.ErrConcurrentUpdate),
		errors.Is(err, course.ErrAlreadyApproved),
		errors.Is(err, course.ErrApprovalWithoutApprover),
		errors.Is(err, course.ErrConflictingMarkers),
		errors.Is(err, course.ErrInvalidIntent),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 57P01 admin_shutdown from pg_terminate_backend, 40001/40P01 serialization and deadlock
		switch pgErr.Code {
		case "57P01", "40001", "40P01":
			return true
		}
		return false
	}
	// connection-level failures after a terminated backend
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) || errors.Is(err, pgx.ErrTxClosed) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"conn closed", "connection reset", "unexpected EOF", "broken pipe", "terminating connection"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func loop(ctx context.Context, stop <-chan struct{}, pause func() time.Duration, step func() error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if err := step(); err != nil && !tolerated(err) {
			return err
		}
		time.Sleep(pause())
	}
}

func jitter(base, spread int) func() time.Duration {
	return func() time.Duration {
		return time.Duration(base+rand.Intn(spread)) * time.Millisecond
	}
}

// Creator keeps creating courses in unitID, sometimes with a participant bundle.
func Creator(ctx context.Context, svc *course.Service, actor course.Reviewer, unitID string, participantIDs []string, reg *Registry, stop <-chan struct{}) error {
	statuses := []course.Status{"", course.StatusDraft, course.StatusAuthored, course.StatusApproved}
	return loop(ctx, stop, jitter(20, 40), func() error {
		start := time.Now().UTC().Truncate(24 * time.Hour).Add(time.Duration(rand.Intn(30)) * 24 * time.Hour)
		params := course.CreateParams{
			Title:           fmt.Sprintf("Course %d", rand.Int63()),
			StartsOn:        start,
			EndsOn:          start.Add(48 * time.Hour),
			UnitID:          unitID,
			RequestedStatus: statuses[rand.Intn(len(statuses))],
		}
		if len(participantIDs) > 0 && rand.Intn(3) == 0 {
			params.Bundle = &course.ParticipantBundle{
				ParticipantIDs: []string{participantIDs[rand.Intn(len(participantIDs))]},
				Status:         statuses[rand.Intn(len(statuses))],
			}
		}
		rec, err := svc.Create(ctx, actor, params)
		if err != nil {
			return err
		}
		reg.Add(rec.ID)
		return nil
	})
}

// Promoter advances random courses, occasionally with an explicit status.
func Promoter(ctx context.Context, svc *course.Service, actor course.Reviewer, reg *Registry, stop <-chan struct{}) error {
	explicit := []course.Status{course.StatusDraft, course.StatusAuthored, course.StatusApproved}
	return loop(ctx, stop, jitter(10, 30), func() error {
		id, ok := reg.Pick()
		if !ok {
			return nil
		}
		var target *course.Status
		if rand.Intn(5) == 0 {
			s := explicit[rand.Intn(len(explicit))]
			target = &s
		}
		_, err := svc.Promote(ctx, id, actor, target)
		return err
	})
}

// Validator sends validate calls: central approvals, and raw marker writes from either role.
func Validator(ctx context.Context, svc *course.Service, actor course.Reviewer, reg *Registry, stop <-chan struct{}) error {
	yes, no := true, false
	return loop(ctx, stop, jitter(30, 50), func() error {
		id, ok := reg.Pick()
		if !ok {
			return nil
		}
		var fields course.ValidationFields
		switch rand.Intn(4) {
		case 0:
			fields.ApprovedByCentral = &yes
		case 1:
			fields.AuthoredByLocal = &yes
		case 2:
			fields.AuthoredByCentral = &no
		default:
		}
		_, err := svc.Validate(ctx, id, actor, fields)
		return err
	})
}

// Attacher attaches participants with a random status intent.
func Attacher(ctx context.Context, svc *course.Service, actor course.Reviewer, participantIDs []string, reg *Registry, stop <-chan struct{}) error {
	statuses := []course.Status{"", course.StatusAuthored, course.StatusApproved}
	return loop(ctx, stop, jitter(25, 40), func() error {
		id, ok := reg.Pick()
		if !ok || len(participantIDs) == 0 {
			return nil
		}
		ids := []string{participantIDs[rand.Intn(len(participantIDs))]}
		_, err := svc.AttachParticipants(ctx, id, ids, statuses[rand.Intn(len(statuses))], actor)
		return err
	})
}

// flakyPublisher fails one publish in ten.
type flakyPublisher struct{}

func (flakyPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	if rand.Intn(10) == 0 {
		return errors.New("simulated broker failure")
	}
	return nil
}

// OutboxWorker drains the outbox through the relay with a flaky publisher.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	relay := outbox.NewRelay(pool, nil, flakyPublisher{}, outbox.Options{BatchSize: 10, MaxAttempts: 5}, zerolog.Nop())
	return loop(ctx, stop, jitter(100, 1), func() error {
		_, err := relay.ProcessBatch(ctx)
		return err
	})
}
