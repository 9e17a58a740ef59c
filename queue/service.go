// Package queue serves the read-only per-role work queues of course records.
package queue

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"courseflow/course"
	"courseflow/obs"
	"courseflow/orgscope"
)

// Lister abstracts the queue repository for the service.
type Lister interface {
	List(ctx context.Context, q Queue, unitID string, page Page) ([]Item, error)
}

// CourseUnits resolves the organizational unit a course belongs to.
type CourseUnits interface {
	UnitOfCourse(ctx context.Context, courseID string) (string, bool, error)
}

type Service struct {
	repo    Lister
	units   orgscope.Resolver
	courses CourseUnits
	log     zerolog.Logger
}

func NewService(repo Lister, units orgscope.Resolver, courses CourseUnits, logger zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		units:   units,
		courses: courses,
		log:     logger.With().Str("component", "queue").Logger(),
	}
}

// Visible reports whether reviewer may read the course. Central reviewers see
// every course; a local reviewer only sees courses of their own unit.
func (s *Service) Visible(ctx context.Context, reviewer course.Reviewer, courseID string) (bool, error) {
	switch reviewer.Role {
	case course.RoleCentralReviewer:
		return true, nil
	case course.RoleLocalReviewer:
	default:
		return false, fmt.Errorf("%w %q", course.ErrInvalidRole, reviewer.Role)
	}

	unit, ok, err := s.units.ResolveUnit(ctx, reviewer.ID)
	if err != nil || !ok {
		return false, err
	}
	courseUnit, ok, err := s.courses.UnitOfCourse(ctx, courseID)
	if err != nil || !ok {
		return false, err
	}
	return unit == courseUnit, nil
}

// ListApprovedFor returns approved records the reviewer's own track approved.
// A local reviewer only sees records of their resolved unit.
func (s *Service) ListApprovedFor(ctx context.Context, reviewer course.Reviewer, page Page) ([]Item, error) {
	switch reviewer.Role {
	case course.RoleCentralReviewer:
		return s.list(ctx, reviewer, QueueApprovedCentral, "", page)
	case course.RoleLocalReviewer:
		return s.listScoped(ctx, reviewer, QueueApprovedLocal, page)
	default:
		return nil, fmt.Errorf("%w %q", course.ErrInvalidRole, reviewer.Role)
	}
}

// ListAuthoredFor returns records waiting on the reviewer. For the central
// reviewer it merges the pending countersign and central authored queues; each
// item carries the reason it is listed.
func (s *Service) ListAuthoredFor(ctx context.Context, reviewer course.Reviewer, page Page) ([]Item, error) {
	switch reviewer.Role {
	case course.RoleCentralReviewer:
		return s.list(ctx, reviewer, QueueCentralInbox, "", page)
	case course.RoleLocalReviewer:
		return s.listScoped(ctx, reviewer, QueueAuthoredLocal, page)
	default:
		return nil, fmt.Errorf("%w %q", course.ErrInvalidRole, reviewer.Role)
	}
}

// ListPendingCountersign returns records a local reviewer approved that still
// need the central reviewer's approval.
func (s *Service) ListPendingCountersign(ctx context.Context, reviewer course.Reviewer, page Page) ([]Item, error) {
	if reviewer.Role != course.RoleCentralReviewer {
		return nil, fmt.Errorf("%w %q: central reviewer queue", course.ErrInvalidRole, reviewer.Role)
	}
	return s.list(ctx, reviewer, QueuePendingCountersign, "", page)
}

// ListCentralAuthored returns records the central reviewer authored.
func (s *Service) ListCentralAuthored(ctx context.Context, reviewer course.Reviewer, page Page) ([]Item, error) {
	if reviewer.Role != course.RoleCentralReviewer {
		return nil, fmt.Errorf("%w %q: central reviewer queue", course.ErrInvalidRole, reviewer.Role)
	}
	return s.list(ctx, reviewer, QueueCentralAuthored, "", page)
}

func (s *Service) listScoped(ctx context.Context, reviewer course.Reviewer, q Queue, page Page) ([]Item, error) {
	unit, ok, err := s.units.ResolveUnit(ctx, reviewer.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.log.Debug().
			Str("reviewer_id", reviewer.ID).
			Str("queue", string(q)).
			Msg("organizational unit unresolved; empty queue")
		obs.ObserveQueue(string(q), string(reviewer.Role), 0)
		return []Item{}, nil
	}
	return s.list(ctx, reviewer, q, unit, page)
}

func (s *Service) list(ctx context.Context, reviewer course.Reviewer, q Queue, unit string, page Page) ([]Item, error) {
	items, err := s.repo.List(ctx, q, unit, page)
	if err != nil {
		return nil, err
	}
	obs.ObserveQueue(string(q), string(reviewer.Role), len(items))
	return items, nil
}
