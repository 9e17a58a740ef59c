package queue

import (
	"context"
	"database/sql"
	"fmt"

	"courseflow/course"
)

// Queue names one per-role work queue.
type Queue string

const (
	QueueApprovedCentral    Queue = "approved_central"
	QueueApprovedLocal      Queue = "approved_local"
	QueueCentralInbox       Queue = "central_inbox"
	QueuePendingCountersign Queue = "pending_countersign"
	QueueCentralAuthored    Queue = "central_authored"
	QueueAuthoredLocal      Queue = "authored_local"
)

// Reason tells why a record sits in the central reviewer's authored inbox.
type Reason string

const (
	ReasonApproved           Reason = "approved"
	ReasonAuthored           Reason = "authored"
	ReasonPendingCountersign Reason = "pending_countersign"
	ReasonCentralAuthored    Reason = "central_authored"
)

// Item is a queue row: the record without its participant set, plus the reason
// it is listed.
type Item struct {
	Record course.Record
	Reason Reason
}

type definition struct {
	predicate string
	reason    string
	scoped    bool
}

const (
	pendingCountersignPredicate = `c.local_phase = 'approved' AND c.status = 'approved'`
	centralAuthoredPredicate    = `c.central_phase = 'authored' AND c.status = 'authored'`
	centralInboxExclusion       = `c.central_phase <> 'approved' AND c.local_phase <> 'authored'`
)

var definitions = map[Queue]definition{
	QueueApprovedCentral: {
		predicate: `c.status = 'approved' AND c.central_phase = 'approved'`,
		reason:    `'approved'`,
	},
	QueueApprovedLocal: {
		predicate: `c.status = 'approved' AND c.local_phase = 'approved'`,
		reason:    `'approved'`,
		scoped:    true,
	},
	QueueCentralInbox: {
		predicate: centralInboxExclusion + ` AND ((` + pendingCountersignPredicate + `) OR (` + centralAuthoredPredicate + `))`,
		reason:    `CASE WHEN ` + pendingCountersignPredicate + ` THEN 'pending_countersign' ELSE 'central_authored' END`,
	},
	QueuePendingCountersign: {
		predicate: centralInboxExclusion + ` AND ` + pendingCountersignPredicate,
		reason:    `'pending_countersign'`,
	},
	QueueCentralAuthored: {
		predicate: centralInboxExclusion + ` AND ` + centralAuthoredPredicate,
		reason:    `'central_authored'`,
	},
	QueueAuthoredLocal: {
		predicate: `c.status = 'authored' AND c.local_phase = 'authored'`,
		reason:    `'authored'`,
		scoped:    true,
	},
}

// Page follows the usual 1-based pagination with a default size of 20 and a cap of 100.
type Page struct {
	Page     int
	PageSize int
}

func (p Page) Normalize() Page {
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.PageSize <= 0 || p.PageSize > 100 {
		p.PageSize = 20
	}
	return p
}

// Repository runs queue queries over database/sql.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func buildQuery(q Queue) (string, bool, error) {
	def, ok := definitions[q]
	if !ok {
		return "", false, fmt.Errorf("queue: unknown queue %q", q)
	}

	where := def.predicate
	limitArg, offsetArg := "$1", "$2"
	if def.scoped {
		where += ` AND c.unit_id::text = $1`
		limitArg, offsetArg = "$2", "$3"
	}

	query := `
        SELECT c.id::text, c.title, c.description, c.starts_on, c.ends_on, c.unit_id::text,
               c.location_id::text, c.status::text, c.local_phase::text, c.central_phase::text,
               c.revision, c.created_by::text, c.created_at, c.updated_at,
               ` + def.reason + ` AS reason
        FROM courses c
        WHERE ` + where + `
        ORDER BY c.updated_at DESC, c.id
        LIMIT ` + limitArg + ` OFFSET ` + offsetArg
	return query, def.scoped, nil
}

// List returns one page of queue q. unitID is required for unit-scoped queues.
func (r *Repository) List(ctx context.Context, q Queue, unitID string, page Page) ([]Item, error) {
	query, scoped, err := buildQuery(q)
	if err != nil {
		return nil, err
	}
	page = page.Normalize()

	args := []any{page.PageSize, (page.Page - 1) * page.PageSize}
	if scoped {
		if unitID == "" {
			return nil, fmt.Errorf("queue: %s requires an organizational unit", q)
		}
		args = append([]any{unitID}, args...)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("queue: list %s: %w", q, err)
	}
	defer rows.Close()

	items := []Item{}
	for rows.Next() {
		var (
			item Item
			rec  = &item.Record
		)
		if err := rows.Scan(
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
			&item.Reason,
		); err != nil {
			return nil, fmt.Errorf("queue: scan %s: %w", q, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue: iterate %s: %w", q, err)
	}
	return items, nil
}
