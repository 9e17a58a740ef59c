package outbox

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

func TestRelay_PublishesAndSettles(t *testing.T) {
	store := newFakeStore(
		Message{ID: "m-1", Topic: "course.created", Payload: []byte(`{"course_id":"c-1"}`)},
		Message{ID: "m-2", Topic: "course.status_changed", Payload: []byte(`{"course_id":"c-1"}`)},
		Message{ID: "m-3", Topic: "course.status_changed", Payload: []byte(`{"course_id":"c-2"}`), Attempts: 2},
	)
	pub := &fakePublisher{fail: map[string]bool{`{"course_id":"c-2"}`: true}}
	pool := &fakePool{}
	relay := NewRelay(pool, store, pub, Options{BatchSize: 10, MaxAttempts: 3}, zerolog.Nop())

	batch, err := relay.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if batch.Claimed != 3 || batch.Published != 2 {
		t.Fatalf("expected 3 claimed 2 published, got %+v", batch)
	}
	if !pool.tx.committed {
		t.Fatal("expected commit")
	}

	if got := store.status["m-1"]; got != "processed" {
		t.Fatalf("m-1: expected processed, got %q", got)
	}
	if got := store.status["m-2"]; got != "processed" {
		t.Fatalf("m-2: expected processed, got %q", got)
	}
	if got := store.status["m-3"]; got != "dead" {
		t.Fatalf("m-3: expected dead after max attempts, got %q", got)
	}
	if !strings.Contains(store.causes["m-3"], "broker unavailable") {
		t.Fatalf("expected failure cause recorded, got %q", store.causes["m-3"])
	}

	if len(pub.subjects) != 3 || pub.subjects[0] != "courseflow.course.created" {
		t.Fatalf("unexpected subjects %v", pub.subjects)
	}
}

func TestRelay_FailureBelowMaxStaysPending(t *testing.T) {
	store := newFakeStore(Message{ID: "m-1", Topic: "course.created", Payload: []byte(`{"course_id":"c-1"}`)})
	pub := &fakePublisher{fail: map[string]bool{`{"course_id":"c-1"}`: true}}
	relay := NewRelay(&fakePool{}, store, pub, Options{BatchSize: 10, MaxAttempts: 5, PollInterval: time.Second}, zerolog.Nop())
	now := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	relay.now = func() time.Time { return now }

	if _, err := relay.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if got := store.status["m-1"]; got != "pending" {
		t.Fatalf("expected pending for retry, got %q", got)
	}
	if store.attempts["m-1"] != 1 {
		t.Fatalf("expected one attempt recorded, got %d", store.attempts["m-1"])
	}
	if got := store.retryAt["m-1"]; !got.Equal(now.Add(time.Second)) {
		t.Fatalf("expected retry after one poll interval, got %v", got)
	}
}

func TestRelay_RetryDelayDoublesUpToCap(t *testing.T) {
	relay := NewRelay(&fakePool{}, newFakeStore(), &fakePublisher{}, Options{PollInterval: time.Second, MaxBackoff: 10 * time.Second}, zerolog.Nop())

	cases := map[int]time.Duration{
		1:  time.Second,
		2:  2 * time.Second,
		3:  4 * time.Second,
		4:  8 * time.Second,
		5:  10 * time.Second,
		40: 10 * time.Second,
	}
	for attempts, want := range cases {
		if got := relay.retryDelay(attempts); got != want {
			t.Fatalf("attempt %d: expected %v, got %v", attempts, want, got)
		}
	}
}

func TestRelay_RunDoesNotBurnAttemptsDuringOutage(t *testing.T) {
	store := newFakeStore(
		Message{ID: "m-0", Topic: "course.created", Payload: []byte(`{"course_id":"c-0"}`)},
		Message{ID: "m-1", Topic: "course.created", Payload: []byte(`{"course_id":"c-1"}`)},
	)
	pub := &fakePublisher{fail: map[string]bool{
		`{"course_id":"c-0"}`: true,
		`{"course_id":"c-1"}`: true,
	}}
	relay := NewRelay(&fakePool{}, store, pub, Options{BatchSize: 2, MaxAttempts: 10, PollInterval: time.Hour}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := relay.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	for _, id := range []string{"m-0", "m-1"} {
		if store.status[id] != "pending" || store.attempts[id] != 1 {
			t.Fatalf("%s: expected one attempt and pending, got status=%q attempts=%d", id, store.status[id], store.attempts[id])
		}
	}
}

func TestRelay_StoreErrorRollsBack(t *testing.T) {
	store := newFakeStore(Message{ID: "m-1", Topic: "course.created"})
	store.markErr = errors.New("connection reset")
	pool := &fakePool{}
	relay := NewRelay(pool, store, &fakePublisher{}, Options{}, zerolog.Nop())

	if _, err := relay.ProcessBatch(context.Background()); err == nil {
		t.Fatal("expected store error")
	}
	if pool.tx.committed || !pool.tx.rolledBack {
		t.Fatalf("expected rollback, got committed=%v rolledBack=%v", pool.tx.committed, pool.tx.rolledBack)
	}
}

func TestRelay_EmptyBatch(t *testing.T) {
	relay := NewRelay(&fakePool{}, newFakeStore(), &fakePublisher{}, Options{}, zerolog.Nop())
	batch, err := relay.ProcessBatch(context.Background())
	if err != nil || batch != (Batch{}) {
		t.Fatalf("expected empty batch, got %+v err=%v", batch, err)
	}
}

func TestRelay_RunDrainsUntilCancelled(t *testing.T) {
	msgs := make([]Message, 0, 5)
	for _, id := range []string{"m-1", "m-2", "m-3", "m-4", "m-5"} {
		msgs = append(msgs, Message{ID: id, Topic: "course.created"})
	}
	store := newFakeStore(msgs...)
	pub := &fakePublisher{}
	relay := NewRelay(&fakePool{}, store, pub, Options{BatchSize: 2, PollInterval: 10 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		if pub.count() == 5 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected 5 published, got %d", pub.count())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

// TestNATSPublisher_Integration publishes to a live broker at NATS_URL.
func TestNATSPublisher_Integration(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL is empty; set it to a live NATS server to run integration test")
	}

	pub, err := ConnectNATS(url, zerolog.Nop())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pub.Close()

	sub, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("subscriber connect: %v", err)
	}
	defer sub.Close()
	received, err := sub.SubscribeSync("courseflow.course.>")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := sub.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg := Message{ID: "m-1", Topic: "course.created", Payload: []byte(`{"course_id":"c-1"}`)}
	if err := pub.Publish(ctx, msg.Subject(), msg.Payload); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got, err := received.NextMsg(5 * time.Second)
	if err != nil {
		t.Fatalf("next msg: %v", err)
	}
	if got.Subject != "courseflow.course.created" || string(got.Data) != `{"course_id":"c-1"}` {
		t.Fatalf("unexpected message %s %s", got.Subject, got.Data)
	}
	if err := pub.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

type fakeStore struct {
	mu       sync.Mutex
	pending  []Message
	status   map[string]string
	attempts map[string]int
	causes   map[string]string
	retryAt  map[string]time.Time
	markErr  error
}

func newFakeStore(msgs ...Message) *fakeStore {
	return &fakeStore{
		pending:  msgs,
		status:   map[string]string{},
		attempts: map[string]int{},
		causes:   map[string]string{},
		retryAt:  map[string]time.Time{},
	}
}

func (f *fakeStore) Claim(ctx context.Context, tx pgx.Tx, limit int) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Message
	for _, m := range f.pending {
		if len(out) == limit {
			break
		}
		if s := f.status[m.ID]; s == "processed" || s == "dead" {
			continue
		}
		if at, ok := f.retryAt[m.ID]; ok && at.After(time.Now()) {
			continue
		}
		m.Attempts += f.attempts[m.ID]
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeStore) MarkProcessed(ctx context.Context, tx pgx.Tx, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	f.status[id] = "processed"
	f.attempts[id]++
	return nil
}

func (f *fakeStore) MarkFailed(ctx context.Context, tx pgx.Tx, id, cause string, retryAt time.Time, dead bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	f.attempts[id]++
	f.causes[id] = cause
	f.retryAt[id] = retryAt
	f.status[id] = "pending"
	if dead {
		f.status[id] = "dead"
	}
	return nil
}

type fakePublisher struct {
	mu       sync.Mutex
	fail     map[string]bool // keyed by payload
	subjects []string
}

func (f *fakePublisher) Publish(ctx context.Context, subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	if f.fail[string(data)] {
		return errors.New("broker unavailable")
	}
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subjects)
}

type fakePool struct {
	tx *fakeTx
}

func (p *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	p.tx = &fakeTx{}
	return p.tx, nil
}

// fakeTx implements only what the relay calls; the embedded interface panics on anything else.
type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (tx *fakeTx) Commit(ctx context.Context) error {
	tx.committed = true
	return nil
}

func (tx *fakeTx) Rollback(ctx context.Context) error {
	if !tx.committed {
		tx.rolledBack = true
	}
	return nil
}
