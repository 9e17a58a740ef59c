package infra

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Seed holds the reference rows a stress or scenario run needs.
type Seed struct {
	UnitID         string
	OtherUnitID    string
	LocalID        string
	CentralID      string
	ParticipantIDs []string
}

// SeedReference inserts two units, one reviewer per role and a few participants.
func SeedReference(ctx context.Context, pool *pgxpool.Pool, participants int) (Seed, error) {
	var s Seed
	if err := pool.QueryRow(ctx, `INSERT INTO organizational_units (name) VALUES ('North') RETURNING id::text`).Scan(&s.UnitID); err != nil {
		return Seed{}, fmt.Errorf("seed unit: %w", err)
	}
	if err := pool.QueryRow(ctx, `INSERT INTO organizational_units (name) VALUES ('South') RETURNING id::text`).Scan(&s.OtherUnitID); err != nil {
		return Seed{}, fmt.Errorf("seed other unit: %w", err)
	}
	if err := pool.QueryRow(ctx,
		`INSERT INTO reviewers (full_name, role, unit_id) VALUES ('Lena Local', 'local_reviewer', $1) RETURNING id::text`,
		s.UnitID).Scan(&s.LocalID); err != nil {
		return Seed{}, fmt.Errorf("seed local reviewer: %w", err)
	}
	if err := pool.QueryRow(ctx,
		`INSERT INTO reviewers (full_name, role) VALUES ('Cyril Central', 'central_reviewer') RETURNING id::text`).
		Scan(&s.CentralID); err != nil {
		return Seed{}, fmt.Errorf("seed central reviewer: %w", err)
	}
	for i := 0; i < participants; i++ {
		var id string
		if err := pool.QueryRow(ctx,
			`INSERT INTO participants (full_name) VALUES ($1) RETURNING id::text`,
			fmt.Sprintf("Trainee %d", i+1)).Scan(&id); err != nil {
			return Seed{}, fmt.Errorf("seed participant: %w", err)
		}
		s.ParticipantIDs = append(s.ParticipantIDs, id)
	}
	return s, nil
}
