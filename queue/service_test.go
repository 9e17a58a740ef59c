package queue

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"

	"courseflow/course"
)

var queueColumns = []string{
	"id", "title", "description", "starts_on", "ends_on", "unit_id",
	"location_id", "status", "local_phase", "central_phase",
	"revision", "created_by", "created_at", "updated_at", "reason",
}

func TestBuildQuery_Predicates(t *testing.T) {
	tests := []struct {
		queue    Queue
		contains []string
		scoped   bool
	}{
		{QueueApprovedCentral, []string{"c.status = 'approved'", "c.central_phase = 'approved'"}, false},
		{QueueApprovedLocal, []string{"c.status = 'approved'", "c.local_phase = 'approved'", "c.unit_id::text = $1"}, true},
		{QueueAuthoredLocal, []string{"c.status = 'authored'", "c.local_phase = 'authored'", "c.unit_id::text = $1"}, true},
		{QueuePendingCountersign, []string{"c.central_phase <> 'approved'", "c.local_phase <> 'authored'", "c.local_phase = 'approved'"}, false},
		{QueueCentralAuthored, []string{"c.central_phase = 'authored'", "c.status = 'authored'", "c.local_phase <> 'authored'"}, false},
		{QueueCentralInbox, []string{"CASE WHEN", "'pending_countersign'", "'central_authored'"}, false},
	}

	for _, tc := range tests {
		t.Run(string(tc.queue), func(t *testing.T) {
			query, scoped, err := buildQuery(tc.queue)
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			if scoped != tc.scoped {
				t.Fatalf("expected scoped=%v, got %v", tc.scoped, scoped)
			}
			for _, part := range tc.contains {
				if !strings.Contains(query, part) {
					t.Fatalf("expected %q in query:\n%s", part, query)
				}
			}
			if !strings.Contains(query, "ORDER BY c.updated_at DESC, c.id") {
				t.Fatalf("expected stable ordering in query:\n%s", query)
			}
			if !tc.scoped && strings.Contains(query, "unit_id::text = $") {
				t.Fatalf("unscoped queue must not filter on unit:\n%s", query)
			}
		})
	}

	if _, _, err := buildQuery(Queue("bogus")); err == nil {
		t.Fatal("expected error for unknown queue")
	}
}

func TestPageNormalize(t *testing.T) {
	tests := []struct {
		in   Page
		want Page
	}{
		{Page{}, Page{Page: 1, PageSize: 20}},
		{Page{Page: 3, PageSize: 50}, Page{Page: 3, PageSize: 50}},
		{Page{Page: -1, PageSize: 500}, Page{Page: 1, PageSize: 20}},
		{Page{Page: 2, PageSize: 100}, Page{Page: 2, PageSize: 100}},
	}
	for _, tc := range tests {
		if got := tc.in.Normalize(); got != tc.want {
			t.Fatalf("Normalize(%+v) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}

func TestRepository_ListScopedByUnit(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("c.unit_id::text = $1")).
		WithArgs("unit-north", 10, 10).
		WillReturnRows(sqlmock.NewRows(queueColumns).AddRow(
			"c-1", "Fire safety", "", now, now.Add(48*time.Hour), "unit-north",
			nil, "authored", "authored", "none",
			int64(2), "r-local", now, now, "authored",
		))

	repo := NewRepository(db)
	items, err := repo.List(context.Background(), QueueAuthoredLocal, "unit-north", Page{Page: 2, PageSize: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected one item, got %d", len(items))
	}
	got := items[0]
	if got.Record.ID != "c-1" || got.Record.UnitID != "unit-north" {
		t.Fatalf("unexpected record %+v", got.Record)
	}
	if got.Record.Status != course.StatusAuthored || got.Record.Local != course.PhaseAuthored || got.Record.Central != course.PhaseNone {
		t.Fatalf("unexpected markers %+v", got.Record)
	}
	if got.Record.LocationID != nil {
		t.Fatalf("expected nil location, got %v", *got.Record.LocationID)
	}
	if got.Reason != ReasonAuthored {
		t.Fatalf("expected reason authored, got %q", got.Reason)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRepository_ListCentralInboxReasons(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("CASE WHEN")).
		WithArgs(20, 0).
		WillReturnRows(sqlmock.NewRows(queueColumns).
			AddRow("c-1", "A", "", now, now, "unit-north", nil, "approved", "approved", "authored",
				int64(4), "r-local", now, now, "pending_countersign").
			AddRow("c-2", "B", "", now, now, "unit-south", "loc-1", "authored", "drafted", "authored",
				int64(1), "r-central", now, now, "central_authored"))

	items, err := NewRepository(db).List(context.Background(), QueueCentralInbox, "", Page{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected two items, got %d", len(items))
	}
	if items[0].Reason != ReasonPendingCountersign || items[1].Reason != ReasonCentralAuthored {
		t.Fatalf("unexpected reasons %q %q", items[0].Reason, items[1].Reason)
	}
	if items[1].Record.LocationID == nil || *items[1].Record.LocationID != "loc-1" {
		t.Fatalf("expected location loc-1, got %v", items[1].Record.LocationID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRepository_ListScopedRequiresUnit(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	if _, err := NewRepository(db).List(context.Background(), QueueApprovedLocal, "", Page{}); err == nil {
		t.Fatal("expected error without unit")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no query expected: %v", err)
	}
}

func TestRepository_ListQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("FROM courses").WillReturnError(errors.New("connection reset"))
	if _, err := NewRepository(db).List(context.Background(), QueueApprovedCentral, "", Page{}); err == nil {
		t.Fatal("expected storage error")
	}
}

func TestService_RoutesByRole(t *testing.T) {
	lister := &fakeLister{}
	units := &fakeUnits{units: map[string]string{"r-local": "unit-north"}}
	svc := NewService(lister, units, nil, zerolog.Nop())
	ctx := context.Background()

	central := course.Reviewer{ID: "r-central", Role: course.RoleCentralReviewer}
	local := course.Reviewer{ID: "r-local", Role: course.RoleLocalReviewer}

	tests := []struct {
		name      string
		call      func() ([]Item, error)
		wantQueue Queue
		wantUnit  string
	}{
		{"central approved", func() ([]Item, error) { return svc.ListApprovedFor(ctx, central, Page{}) }, QueueApprovedCentral, ""},
		{"local approved", func() ([]Item, error) { return svc.ListApprovedFor(ctx, local, Page{}) }, QueueApprovedLocal, "unit-north"},
		{"central authored", func() ([]Item, error) { return svc.ListAuthoredFor(ctx, central, Page{}) }, QueueCentralInbox, ""},
		{"local authored", func() ([]Item, error) { return svc.ListAuthoredFor(ctx, local, Page{}) }, QueueAuthoredLocal, "unit-north"},
		{"pending countersign", func() ([]Item, error) { return svc.ListPendingCountersign(ctx, central, Page{}) }, QueuePendingCountersign, ""},
		{"central authored only", func() ([]Item, error) { return svc.ListCentralAuthored(ctx, central, Page{}) }, QueueCentralAuthored, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.call(); err != nil {
				t.Fatalf("list: %v", err)
			}
			if lister.lastQueue != tc.wantQueue || lister.lastUnit != tc.wantUnit {
				t.Fatalf("expected %s/%q, got %s/%q", tc.wantQueue, tc.wantUnit, lister.lastQueue, lister.lastUnit)
			}
		})
	}
}

func TestService_UnresolvedUnitYieldsEmpty(t *testing.T) {
	lister := &fakeLister{}
	svc := NewService(lister, &fakeUnits{}, nil, zerolog.Nop())
	local := course.Reviewer{ID: "r-orphan", Role: course.RoleLocalReviewer}

	for _, call := range []func() ([]Item, error){
		func() ([]Item, error) { return svc.ListApprovedFor(context.Background(), local, Page{}) },
		func() ([]Item, error) { return svc.ListAuthoredFor(context.Background(), local, Page{}) },
	} {
		items, err := call()
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if items == nil || len(items) != 0 {
			t.Fatalf("expected empty non-nil result, got %v", items)
		}
	}
	if lister.calls != 0 {
		t.Fatalf("expected no queue query, got %d", lister.calls)
	}
}

func TestService_RejectsInvalidRole(t *testing.T) {
	svc := NewService(&fakeLister{}, &fakeUnits{}, nil, zerolog.Nop())
	ctx := context.Background()
	bogus := course.Reviewer{ID: "r-x", Role: course.Role("auditor")}
	local := course.Reviewer{ID: "r-local", Role: course.RoleLocalReviewer}

	checks := []error{
		func() error { _, err := svc.ListApprovedFor(ctx, bogus, Page{}); return err }(),
		func() error { _, err := svc.ListAuthoredFor(ctx, bogus, Page{}); return err }(),
		func() error { _, err := svc.ListPendingCountersign(ctx, local, Page{}); return err }(),
		func() error { _, err := svc.ListCentralAuthored(ctx, local, Page{}); return err }(),
	}
	for i, err := range checks {
		if !errors.Is(err, course.ErrInvalidRole) {
			t.Fatalf("check %d: expected ErrInvalidRole, got %v", i, err)
		}
	}
}

func TestService_ResolverErrorPropagates(t *testing.T) {
	svc := NewService(&fakeLister{}, &fakeUnits{err: errors.New("redis and db down")}, nil, zerolog.Nop())
	local := course.Reviewer{ID: "r-local", Role: course.RoleLocalReviewer}
	if _, err := svc.ListAuthoredFor(context.Background(), local, Page{}); err == nil {
		t.Fatal("expected resolver error")
	}
}

func TestService_Visible(t *testing.T) {
	units := &fakeUnits{units: map[string]string{"r-local": "unit-north"}}
	courses := &fakeUnits{units: map[string]string{"c-north": "unit-north", "c-south": "unit-south"}}
	svc := NewService(&fakeLister{}, units, courseUnits{courses}, zerolog.Nop())
	ctx := context.Background()

	local := course.Reviewer{ID: "r-local", Role: course.RoleLocalReviewer}
	orphan := course.Reviewer{ID: "r-orphan", Role: course.RoleLocalReviewer}
	central := course.Reviewer{ID: "r-central", Role: course.RoleCentralReviewer}

	tests := []struct {
		name     string
		reviewer course.Reviewer
		courseID string
		want     bool
	}{
		{"local own unit", local, "c-north", true},
		{"local other unit", local, "c-south", false},
		{"local unknown course", local, "c-missing", false},
		{"local without unit", orphan, "c-north", false},
		{"central any unit", central, "c-south", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := svc.Visible(ctx, tc.reviewer, tc.courseID)
			if err != nil {
				t.Fatalf("visible: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}

	if _, err := svc.Visible(ctx, course.Reviewer{ID: "x", Role: "auditor"}, "c-north"); !errors.Is(err, course.ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
}

type courseUnits struct{ *fakeUnits }

func (c courseUnits) UnitOfCourse(ctx context.Context, courseID string) (string, bool, error) {
	return c.ResolveUnit(ctx, courseID)
}

type fakeLister struct {
	calls     int
	lastQueue Queue
	lastUnit  string
}

func (f *fakeLister) List(ctx context.Context, q Queue, unitID string, page Page) ([]Item, error) {
	f.calls++
	f.lastQueue = q
	f.lastUnit = unitID
	return []Item{}, nil
}

type fakeUnits struct {
	units map[string]string
	err   error
}

func (f *fakeUnits) ResolveUnit(ctx context.Context, reviewerID string) (string, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	unit, ok := f.units[reviewerID]
	return unit, ok, nil
}
