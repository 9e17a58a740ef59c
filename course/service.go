package course

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"courseflow/ids"
	"courseflow/obs"
)

var (
	// ErrUnknownParticipant is returned when attached participant ids do not resolve.
	ErrUnknownParticipant = errors.New("course: unknown participant")
	// ErrInvalidParams is returned for malformed create payloads.
	ErrInvalidParams = errors.New("course: invalid params")
	// ErrOutOfScope is returned when a local reviewer creates a record outside their unit.
	ErrOutOfScope = errors.New("course: organizational unit outside reviewer scope")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// UnitResolver resolves the organizational unit of a local reviewer.
type UnitResolver interface {
	ResolveUnit(ctx context.Context, reviewerID string) (string, bool, error)
}

// ParticipantChecker reports which of the given participant ids do not exist.
type ParticipantChecker interface {
	Missing(ctx context.Context, tx pgx.Tx, participantIDs []string) ([]string, error)
}

type Service struct {
	pool         TxBeginner
	repo         Repository
	timeline     TimelineWriter
	outbox       OutboxWriter
	participants ParticipantChecker
	units        UnitResolver
	log          zerolog.Logger
	idGenerator  func() string
	eventIDs     func() string
	now          func() time.Time
}

func NewService(pool TxBeginner, repo Repository, timeline TimelineWriter, outbox OutboxWriter, participants ParticipantChecker, units UnitResolver, logger zerolog.Logger) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	if timeline == nil {
		timeline = NewTimeline()
	}
	if outbox == nil {
		outbox = NewOutbox()
	}
	return &Service{
		pool:         pool,
		repo:         repo,
		timeline:     timeline,
		outbox:       outbox,
		participants: participants,
		units:        units,
		log:          logger.With().Str("component", "course").Logger(),
		idGenerator:  func() string { return uuid.NewString() },
		eventIDs:     ids.New,
		now:          time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create inserts a new draft record. A requested status in params is ignored; a
// participant bundle is attached in the same transaction and its status drives
// the state machine for the creating role.
func (s *Service) Create(ctx context.Context, actor Reviewer, params CreateParams) (Record, error) {
	if err := checkRole(actor.Role); err != nil {
		return Record{}, err
	}
	if err := validateCreate(params); err != nil {
		return Record{}, err
	}
	params.UnitID = strings.ToLower(strings.TrimSpace(params.UnitID))
	ok, err := s.inScope(ctx, actor, params.UnitID)
	if err != nil {
		return Record{}, err
	}
	if !ok {
		s.observe(OperationCreate, ErrOutOfScope)
		return Record{}, fmt.Errorf("%w: %s", ErrOutOfScope, params.UnitID)
	}
	if params.RequestedStatus != "" && params.RequestedStatus != StatusDraft {
		s.log.Debug().
			Str("requested_status", string(params.RequestedStatus)).
			Msg("ignoring requested status on create")
	}

	var (
		bundleIDs []string
		intent    Intent
	)
	if params.Bundle != nil {
		bundleIDs = normalizeIDs(params.Bundle.ParticipantIDs)
		if params.Bundle.Status != "" {
			var err error
			if intent, err = IntentForStatus(params.Bundle.Status); err != nil {
				return Record{}, err
			}
		}
	}

	now := s.now().UTC()
	rec := Record{
		ID:          s.idGenerator(),
		Title:       strings.TrimSpace(params.Title),
		Description: params.Description,
		StartsOn:    params.StartsOn,
		EndsOn:      params.EndsOn,
		UnitID:      params.UnitID,
		LocationID:  params.LocationID,
		Status:      StatusDraft,
		Local:       PhaseNone,
		Central:     PhaseNone,
		CreatedBy:   actor.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	rec.setPhase(actor.Role, PhaseDrafted)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("course: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := s.repo.Create(ctx, tx, rec)
	if err != nil {
		s.observe(OperationCreate, err)
		return Record{}, err
	}
	if err := s.record(ctx, tx, actor, OperationCreate, TopicCreated, nil, created); err != nil {
		return Record{}, err
	}

	if len(bundleIDs) > 0 || intent != "" {
		next, err := s.attach(ctx, tx, created, actor, bundleIDs, intent)
		if err != nil {
			s.observe(OperationCreate, err)
			return Record{}, err
		}
		if !created.sameState(next) {
			if created, err = s.persist(ctx, tx, actor, OperationAttachParticipants, created, next); err != nil {
				return Record{}, err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("course: commit create: %w", err)
	}

	obs.ObserveTransition(string(OperationCreate), obs.OutcomeApplied)
	s.log.Info().
		Str("course_id", created.ID).
		Str("actor_id", actor.ID).
		Str("role", string(actor.Role)).
		Str("status", string(created.Status)).
		Int("participants", len(created.Participants)).
		Msg("course created")

	return created, nil
}

// Promote advances a record one stage, or writes explicitStatus directly when given.
func (s *Service) Promote(ctx context.Context, id string, actor Reviewer, explicitStatus *Status) (Record, error) {
	return s.transition(ctx, id, actor, OperationPromote, func(_ pgx.Tx, rec Record) (Record, error) {
		if explicitStatus != nil {
			return PromoteTo(rec, *explicitStatus)
		}
		return PromoteNext(rec, actor.Role)
	})
}

// Validate is the compatibility entry point for explicit approval. A central
// reviewer approving takes the guarded path; any other field combination is a
// raw override. A call without fields returns the record unchanged.
func (s *Service) Validate(ctx context.Context, id string, actor Reviewer, fields ValidationFields) (Record, error) {
	kind, err := ClassifyValidation(actor.Role, fields)
	if err != nil {
		s.observe(OperationValidate, err)
		return Record{}, err
	}

	switch kind {
	case ValidationNoOp:
		obs.ObserveTransition(string(OperationValidate), obs.OutcomeNoop)
		return s.getFor(ctx, id, actor)
	case ValidationCentralApproval:
		return s.transition(ctx, id, actor, OperationValidate, func(_ pgx.Tx, rec Record) (Record, error) {
			return ApproveAsCentral(rec), nil
		})
	default:
		return s.Override(ctx, id, actor, fields)
	}
}

// Override writes the supplied reviewer markers and status verbatim. It exists for
// administrative correction and skips every workflow rule except the write invariants.
func (s *Service) Override(ctx context.Context, id string, actor Reviewer, fields ValidationFields) (Record, error) {
	if err := checkRole(actor.Role); err != nil {
		s.observe(OperationOverride, err)
		return Record{}, err
	}
	if fields.Empty() {
		obs.ObserveTransition(string(OperationOverride), obs.OutcomeNoop)
		return s.getFor(ctx, id, actor)
	}

	rec, err := s.transition(ctx, id, actor, OperationOverride, func(_ pgx.Tx, rec Record) (Record, error) {
		return ApplyOverride(rec, fields)
	})
	if err != nil {
		return Record{}, err
	}

	s.log.Warn().
		Str("course_id", id).
		Str("actor_id", actor.ID).
		Str("role", string(actor.Role)).
		Msg("raw override applied")
	return rec, nil
}

// AttachParticipants merges participants into the record and applies the intent
// matching status for the acting role. An empty status only attaches.
func (s *Service) AttachParticipants(ctx context.Context, id string, participantIDs []string, status Status, actor Reviewer) (Record, error) {
	var intent Intent
	if status != "" {
		var err error
		if intent, err = IntentForStatus(status); err != nil {
			s.observe(OperationAttachParticipants, err)
			return Record{}, err
		}
	}
	normalized := normalizeIDs(participantIDs)

	return s.transition(ctx, id, actor, OperationAttachParticipants, func(tx pgx.Tx, rec Record) (Record, error) {
		return s.attach(ctx, tx, rec, actor, normalized, intent)
	})
}

func (s *Service) Get(ctx context.Context, id string) (Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("course: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	return s.repo.Get(ctx, tx, id)
}

// getFor is Get on behalf of actor; records outside a local reviewer's unit are not found.
func (s *Service) getFor(ctx context.Context, id string, actor Reviewer) (Record, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	ok, err := s.inScope(ctx, actor, rec.UnitID)
	if err != nil {
		return Record{}, err
	}
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// inScope reports whether actor may act on records of unitID. Central reviewers
// act on every unit; a local reviewer only on the unit they resolve to.
func (s *Service) inScope(ctx context.Context, actor Reviewer, unitID string) (bool, error) {
	if actor.Role != RoleLocalReviewer {
		return true, nil
	}
	if s.units == nil {
		return false, nil
	}
	unit, ok, err := s.units.ResolveUnit(ctx, actor.ID)
	if err != nil {
		return false, fmt.Errorf("course: resolve unit: %w", err)
	}
	return ok && unit == unitID, nil
}

// History returns the transition events of a record in sequence order.
func (s *Service) History(ctx context.Context, id string) ([]TransitionEvent, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("course: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.repo.Get(ctx, tx, id); err != nil {
		return nil, err
	}
	return s.timeline.History(ctx, tx, id)
}

type mutation func(tx pgx.Tx, rec Record) (Record, error)

// transition runs one read-compute-write cycle under the record's row lock.
func (s *Service) transition(ctx context.Context, id string, actor Reviewer, op Operation, mutate mutation) (Record, error) {
	if err := checkRole(actor.Role); err != nil {
		s.observe(op, err)
		return Record{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("course: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		s.observe(op, err)
		return Record{}, err
	}
	ok, err := s.inScope(ctx, actor, current.UnitID)
	if err != nil {
		return Record{}, err
	}
	if !ok {
		// same answer as a missing record so other units' courses stay hidden
		s.observe(op, ErrNotFound)
		return Record{}, ErrNotFound
	}

	next, err := mutate(tx, current)
	if err != nil {
		s.observe(op, err)
		return Record{}, err
	}
	if current.sameState(next) {
		obs.ObserveTransition(string(op), obs.OutcomeNoop)
		return current, nil
	}

	saved, err := s.persist(ctx, tx, actor, op, current, next)
	if err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("course: commit %s: %w", op, err)
	}

	obs.ObserveTransition(string(op), obs.OutcomeApplied)
	s.log.Info().
		Str("course_id", saved.ID).
		Str("operation", string(op)).
		Str("actor_id", actor.ID).
		Str("role", string(actor.Role)).
		Str("previous_status", string(current.Status)).
		Str("status", string(saved.Status)).
		Str("local_phase", string(saved.Local)).
		Str("central_phase", string(saved.Central)).
		Int64("revision", saved.Revision).
		Msg("course transition")

	return saved, nil
}

// persist writes next over current inside tx, along with its timeline and outbox rows.
func (s *Service) persist(ctx context.Context, tx pgx.Tx, actor Reviewer, op Operation, current, next Record) (Record, error) {
	if err := CheckInvariants(current, next); err != nil {
		s.observe(op, err)
		return Record{}, err
	}

	next.UpdatedAt = s.now().UTC()
	saved, err := s.repo.Update(ctx, tx, next)
	if err != nil {
		s.observe(op, err)
		return Record{}, err
	}

	if added := addedIDs(current.Participants, next.Participants); len(added) > 0 {
		if err := s.repo.AddParticipants(ctx, tx, saved.ID, added); err != nil {
			s.observe(op, err)
			return Record{}, err
		}
	}
	saved.Participants = next.Participants

	topic := TopicStatusChanged
	if op == OperationAttachParticipants && current.Status == saved.Status {
		topic = TopicParticipantsAttached
	}
	prev := current.snapshot()
	if err := s.record(ctx, tx, actor, op, topic, &prev, saved); err != nil {
		return Record{}, err
	}

	if saved.AwaitingCentralApproval() && !current.AwaitingCentralApproval() {
		obs.ObservePendingCountersign()
		s.log.Warn().
			Str("course_id", saved.ID).
			Str("actor_id", actor.ID).
			Msg("course approved by local reviewer; central approval still pending")
	}

	return saved, nil
}

// record appends the timeline event and enqueues the outbox message for a change.
func (s *Service) record(ctx context.Context, tx pgx.Tx, actor Reviewer, op Operation, topic string, prev *Snapshot, rec Record) error {
	evt := TransitionEvent{
		ID:        s.eventIDs(),
		CourseID:  rec.ID,
		Operation: op,
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Previous:  prev,
		Next:      rec.snapshot(),
		CreatedAt: rec.UpdatedAt,
	}
	evt, err := s.timeline.Append(ctx, tx, evt)
	if err != nil {
		return err
	}

	payload := map[string]any{
		"course_id":     rec.ID,
		"unit_id":       rec.UnitID,
		"operation":     string(op),
		"seq":           evt.Seq,
		"actor_id":      actor.ID,
		"actor_role":    string(actor.Role),
		"status":        string(rec.Status),
		"local_phase":   string(rec.Local),
		"central_phase": string(rec.Central),
	}
	if prev != nil {
		payload["previous_status"] = string(prev.Status)
	}
	return s.outbox.Enqueue(ctx, tx, topic, payload)
}

func (s *Service) attach(ctx context.Context, tx pgx.Tx, rec Record, actor Reviewer, participantIDs []string, intent Intent) (Record, error) {
	next := rec.clone()
	if len(participantIDs) > 0 {
		if s.participants != nil {
			missing, err := s.participants.Missing(ctx, tx, participantIDs)
			if err != nil {
				return Record{}, err
			}
			if len(missing) > 0 {
				return Record{}, fmt.Errorf("%w: %s", ErrUnknownParticipant, strings.Join(missing, ","))
			}
		}
		next.Participants = mergeIDs(next.Participants, participantIDs)
	}
	if intent == "" {
		return next, nil
	}
	return ApplyIntent(next, actor.Role, intent)
}

func (s *Service) observe(op Operation, err error) {
	outcome := obs.OutcomeError
	if isRejection(err) {
		outcome = obs.OutcomeRejected
	}
	obs.ObserveTransition(string(op), outcome)
}

func isRejection(err error) bool {
	for _, target := range []error{
		ErrNotFound,
		ErrInvalidRole,
		ErrInvalidStatus,
		ErrInvalidIntent,
		ErrInvalidParams,
		ErrAlreadyApproved,
		ErrApprovalWithoutApprover,
		ErrConflictingMarkers,
		ErrUnknownParticipant,
		ErrUnknownUnit,
		ErrOutOfScope,
		ErrConcurrentUpdate,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func validateCreate(params CreateParams) error {
	if strings.TrimSpace(params.Title) == "" {
		return fmt.Errorf("%w: title required", ErrInvalidParams)
	}
	if params.UnitID == "" {
		return fmt.Errorf("%w: organizational unit required", ErrInvalidParams)
	}
	if params.StartsOn.IsZero() || params.EndsOn.IsZero() {
		return fmt.Errorf("%w: date range required", ErrInvalidParams)
	}
	if params.EndsOn.Before(params.StartsOn) {
		return fmt.Errorf("%w: course ends before it starts", ErrInvalidParams)
	}
	return nil
}

func normalizeIDs(in []string) []string {
	out := make([]string, 0, len(in))
	for _, id := range in {
		if id = strings.ToLower(strings.TrimSpace(id)); id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func mergeIDs(a, b []string) []string {
	merged := append(slices.Clone(a), b...)
	slices.Sort(merged)
	return slices.Compact(merged)
}

func addedIDs(before, after []string) []string {
	var added []string
	for _, id := range after {
		if !slices.Contains(before, id) {
			added = append(added, id)
		}
	}
	return added
}
