package participant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Participant is a trainee that can be attached to a course.
type Participant struct {
	ID        string
	FullName  string
	Email     *string
	CreatedAt time.Time
}

// Directory provides existence checks and read access to participants.
type Directory struct {
	pool *pgxpool.Pool
}

// NewDirectory wires a pgxpool-backed directory.
func NewDirectory(pool *pgxpool.Pool) *Directory {
	return &Directory{pool: pool}
}

// Missing returns the ids from participantIDs that have no participant row. It
// runs inside the caller's transaction so the check and the attach see the same snapshot.
// Ids match case-insensitively, as uuids do.
func (d *Directory) Missing(ctx context.Context, tx pgx.Tx, participantIDs []string) ([]string, error) {
	if len(participantIDs) == 0 {
		return nil, nil
	}

	const query = `
		SELECT p.id::text
		FROM participants p
		WHERE p.id::text = ANY($1::text[])
	`
	lowered := make([]string, len(participantIDs))
	for i, id := range participantIDs {
		lowered[i] = strings.ToLower(id)
	}
	rows, err := tx.Query(ctx, query, lowered)
	if err != nil {
		return nil, fmt.Errorf("participant: query existing: %w", err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("participant: scan existing: %w", err)
	}

	return missingFrom(participantIDs, found), nil
}

// ForCourse lists the participants attached to a course ordered by name.
func (d *Directory) ForCourse(ctx context.Context, courseID string) ([]Participant, error) {
	const query = `
		SELECT p.id::text, p.full_name, p.email, p.created_at
		FROM participants p
		JOIN course_participants cp ON cp.participant_id = p.id
		WHERE cp.course_id::text = $1
		ORDER BY p.full_name ASC, p.id
	`
	rows, err := d.pool.Query(ctx, query, courseID)
	if err != nil {
		return nil, fmt.Errorf("participant: query for course: %w", err)
	}
	defer rows.Close()

	var out []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.ID, &p.FullName, &p.Email, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("participant: scan: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("participant: iterate: %w", err)
	}
	return out, nil
}

func missingFrom(requested, found []string) []string {
	present := make(map[string]struct{}, len(found))
	for _, id := range found {
		present[id] = struct{}{}
	}
	var missing []string
	for _, id := range requested {
		if _, ok := present[strings.ToLower(id)]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}
