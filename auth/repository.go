package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrReviewerNotFound signals that the reviewer does not exist.
var ErrReviewerNotFound = errors.New("auth: reviewer not found")

// Repository handles reviewer directory lookups for authentication.
type Repository interface {
	GetReviewer(ctx context.Context, reviewerID string) (Account, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed reviewer repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// GetReviewer retrieves a reviewer by ID.
func (r *PGRepository) GetReviewer(ctx context.Context, reviewerID string) (Account, error) {
	const selectSQL = `
		SELECT id::text, full_name, role::text, unit_id::text, created_at
		FROM reviewers
		WHERE id = $1
	`

	var account Account
	err := r.pool.QueryRow(ctx, selectSQL, reviewerID).Scan(
		&account.ID,
		&account.FullName,
		&account.Role,
		&account.UnitID,
		&account.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.Is(err, pgx.ErrNoRows) || (errors.As(err, &pgErr) && pgErr.Code == "22P02") {
			return Account{}, ErrReviewerNotFound
		}
		return Account{}, fmt.Errorf("auth: get reviewer: %w", err)
	}
	return account, nil
}
