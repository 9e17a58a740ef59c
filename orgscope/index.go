// Package orgscope resolves the organizational unit that scopes a local
// reviewer's visibility.
package orgscope

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Resolver maps a reviewer to the organizational unit they are scoped to.
// ok is false when the reviewer has no resolvable unit; that is not an error.
type Resolver interface {
	ResolveUnit(ctx context.Context, reviewerID string) (unitID string, ok bool, err error)
}

// Repository reads reviewer and course scoping from Postgres through database/sql.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) ResolveUnit(ctx context.Context, reviewerID string) (string, bool, error) {
	const query = `
		SELECT unit_id::text
		FROM reviewers
		WHERE id::text = $1 AND role = 'local_reviewer'
	`
	return r.lookup(ctx, query, reviewerID)
}

// UnitOfCourse returns the unit a course record belongs to.
func (r *Repository) UnitOfCourse(ctx context.Context, courseID string) (string, bool, error) {
	const query = `SELECT unit_id::text FROM courses WHERE id::text = $1`
	return r.lookup(ctx, query, courseID)
}

func (r *Repository) lookup(ctx context.Context, query, id string) (string, bool, error) {
	var unit sql.NullString
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&unit); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("orgscope: resolve unit: %w", err)
	}
	if !unit.Valid || unit.String == "" {
		return "", false, nil
	}
	return unit.String, true, nil
}

// Cache is the subset of the Redis client the index uses.
type Cache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// CachedIndex is a read-through Redis cache in front of a Resolver. Unresolved
// reviewers are cached as an empty value. Cache failures fall back to the source.
type CachedIndex struct {
	next Resolver
	rdb  Cache
	ttl  time.Duration
	log  zerolog.Logger
}

func NewCachedIndex(next Resolver, rdb Cache, ttl time.Duration, logger zerolog.Logger) *CachedIndex {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedIndex{
		next: next,
		rdb:  rdb,
		ttl:  ttl,
		log:  logger.With().Str("component", "orgscope").Logger(),
	}
}

func cacheKey(reviewerID string) string {
	return "orgscope:unit:" + reviewerID
}

func (c *CachedIndex) ResolveUnit(ctx context.Context, reviewerID string) (string, bool, error) {
	key := cacheKey(reviewerID)

	cached, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		return cached, cached != "", nil
	case errors.Is(err, redis.Nil):
	default:
		c.log.Warn().Err(err).Str("reviewer_id", reviewerID).Msg("unit cache read failed")
	}

	unit, ok, err := c.next.ResolveUnit(ctx, reviewerID)
	if err != nil {
		return "", false, err
	}

	if err := c.rdb.Set(ctx, key, unit, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("reviewer_id", reviewerID).Msg("unit cache write failed")
	}
	return unit, ok, nil
}

// Invalidate drops the cached unit of a reviewer after a reassignment.
func (c *CachedIndex) Invalidate(ctx context.Context, reviewerID string) error {
	if err := c.rdb.Del(ctx, cacheKey(reviewerID)).Err(); err != nil {
		return fmt.Errorf("orgscope: invalidate: %w", err)
	}
	return nil
}
