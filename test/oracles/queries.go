package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_approved_never_regresses",
			SQL: `SELECT id, course_id, seq FROM course_events
                  WHERE payload->'previous'->>'status' = 'approved' AND next_status <> 'approved'`,
		},
		{
			Name: "O2_status_domain",
			SQL: `SELECT id FROM courses
                  WHERE status::text NOT IN ('draft','authored','approved')
                     OR local_phase::text NOT IN ('none','drafted','authored','approved')
                     OR central_phase::text NOT IN ('none','drafted','authored','approved')`,
		},
		{
			Name: "O3_approved_has_approver",
			SQL: `SELECT id FROM courses
                  WHERE status = 'approved' AND local_phase <> 'approved' AND central_phase <> 'approved'`,
		},
		{
			Name: "O4_event_seq_contiguous",
			SQL: `WITH seqs AS (
                      SELECT course_id, seq,
                             LAG(seq) OVER (PARTITION BY course_id ORDER BY seq) AS prev
                      FROM course_events)
                  SELECT * FROM seqs
                  WHERE (prev IS NULL AND seq <> 1) OR (prev IS NOT NULL AND seq <> prev + 1)`,
		},
		{
			Name: "O5_revision_matches_events",
			SQL: `SELECT c.id, c.revision, COUNT(e.id) AS events FROM courses c
                  LEFT JOIN course_events e ON e.course_id = c.id
                  GROUP BY c.id, c.revision
                  HAVING c.revision <> COUNT(e.id)`,
		},
		{
			Name: "O6_latest_event_matches_status",
			SQL: `SELECT c.id, c.status, last.next_status FROM courses c
                  JOIN LATERAL (
                      SELECT next_status, payload FROM course_events
                      WHERE course_id = c.id ORDER BY seq DESC LIMIT 1) last ON true
                  WHERE last.next_status <> c.status
                     OR last.payload->'next'->>'local' <> c.local_phase::text
                     OR last.payload->'next'->>'central' <> c.central_phase::text`,
		},
		{
			Name: "O7_stale_outbox",
			SQL: `SELECT id FROM outbox
                  WHERE status NOT IN ('processed','dead')
                    AND now()-created_at > interval '5 minutes'`,
		},
		{
			Name: "O8_drafted_exclusive",
			SQL:  `SELECT id FROM courses WHERE local_phase = 'drafted' AND central_phase = 'drafted'`,
		},
		{
			Name: "O9_event_per_transition_outboxed",
			SQL: `SELECT e.id FROM course_events e
                  WHERE NOT EXISTS (
                      SELECT 1 FROM outbox o
                      WHERE o.payload->>'course_id' = e.course_id::text
                        AND (o.payload->>'seq')::bigint = e.seq)`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
