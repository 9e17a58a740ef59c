package course

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when no course row exists for the provided identifier.
	ErrNotFound = errors.New("course: not found")
	// ErrConcurrentUpdate signals the row revision moved between read and write.
	ErrConcurrentUpdate = errors.New("course: concurrent update")
	// ErrUnknownUnit is returned when the organizational unit reference does not resolve.
	ErrUnknownUnit = errors.New("course: unknown organizational unit")
)

// Repository is the transactional record store.
type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, rec Record) (Record, error)
	Get(ctx context.Context, tx pgx.Tx, id string) (Record, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Record, error)
	Update(ctx context.Context, tx pgx.Tx, rec Record) (Record, error)
	AddParticipants(ctx context.Context, tx pgx.Tx, id string, participantIDs []string) error
}

type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

const selectCourse = `
SELECT id::text, title, description, starts_on, ends_on, unit_id::text, location_id::text,
       status::text, local_phase::text, central_phase::text, revision, created_by::text,
       created_at, updated_at
FROM courses
WHERE id = $1`

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, rec Record) (Record, error) {
	const insertSQL = `
INSERT INTO courses (id, title, description, starts_on, ends_on, unit_id, location_id,
    status, local_phase, central_phase, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::course_status, $9::reviewer_phase, $10::reviewer_phase, $11, $12, $12)
RETURNING revision, created_at, updated_at;
`
	if _, err := uuid.Parse(rec.UnitID); err != nil {
		return Record{}, fmt.Errorf("%w: %q", ErrUnknownUnit, rec.UnitID)
	}
	if rec.LocationID != nil {
		if _, err := uuid.Parse(*rec.LocationID); err != nil {
			return Record{}, fmt.Errorf("%w: location_id %q", ErrInvalidParams, *rec.LocationID)
		}
	}

	err := tx.QueryRow(ctx, insertSQL,
		rec.ID,
		rec.Title,
		rec.Description,
		rec.StartsOn,
		rec.EndsOn,
		rec.UnitID,
		rec.LocationID,
		rec.Status,
		rec.Local,
		rec.Central,
		rec.CreatedBy,
		rec.CreatedAt,
	).Scan(&rec.Revision, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && (pgErr.Code == "23503" || pgErr.Code == "22P02") {
			return Record{}, ErrUnknownUnit
		}
		return Record{}, fmt.Errorf("course: insert: %w", err)
	}

	return rec, nil
}

func (r *PGRepository) Get(ctx context.Context, tx pgx.Tx, id string) (Record, error) {
	return r.get(ctx, tx, id, selectCourse)
}

// GetForUpdate loads the record and holds its row lock until tx ends.
func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Record, error) {
	return r.get(ctx, tx, id, selectCourse+" FOR UPDATE")
}

func (r *PGRepository) get(ctx context.Context, tx pgx.Tx, id, query string) (Record, error) {
	var rec Record
	err := tx.QueryRow(ctx, query, id).Scan(
		&rec.ID,
		&rec.Title,
		&rec.Description,
		&rec.StartsOn,
		&rec.EndsOn,
		&rec.UnitID,
		&rec.LocationID,
		&rec.Status,
		&rec.Local,
		&rec.Central,
		&rec.Revision,
		&rec.CreatedBy,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("course: fetch: %w", err)
	}

	rows, err := tx.Query(ctx, `SELECT participant_id::text FROM course_participants WHERE course_id = $1 ORDER BY participant_id`, id)
	if err != nil {
		return Record{}, fmt.Errorf("course: fetch participants: %w", err)
	}
	participants, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return Record{}, fmt.Errorf("course: scan participants: %w", err)
	}
	rec.Participants = participants

	return rec, nil
}

// Update persists status and phases guarded by the revision the caller read.
func (r *PGRepository) Update(ctx context.Context, tx pgx.Tx, rec Record) (Record, error) {
	const updateSQL = `
UPDATE courses
SET status = $2::course_status,
    local_phase = $3::reviewer_phase,
    central_phase = $4::reviewer_phase,
    revision = revision + 1,
    updated_at = $5
WHERE id = $1 AND revision = $6
RETURNING revision, updated_at;
`

	var (
		revision  int64
		updatedAt time.Time
	)
	err := tx.QueryRow(ctx, updateSQL, rec.ID, rec.Status, rec.Local, rec.Central, rec.UpdatedAt, rec.Revision).
		Scan(&revision, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrConcurrentUpdate
		}
		return Record{}, fmt.Errorf("course: update: %w", err)
	}

	rec.Revision = revision
	rec.UpdatedAt = updatedAt
	return rec, nil
}

func (r *PGRepository) AddParticipants(ctx context.Context, tx pgx.Tx, id string, participantIDs []string) error {
	if len(participantIDs) == 0 {
		return nil
	}

	const insertSQL = `
INSERT INTO course_participants (course_id, participant_id)
SELECT $1, p::uuid FROM unnest($2::text[]) AS p
ON CONFLICT DO NOTHING;
`
	if _, err := tx.Exec(ctx, insertSQL, id, participantIDs); err != nil {
		return fmt.Errorf("course: attach participants: %w", err)
	}
	return nil
}

func isInvalidUUID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}
