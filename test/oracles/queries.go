// Package oracles holds the SQL invariant checks run against a live database
// while the stress actors are writing. Every query returns rows only when an
// invariant is violated.
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
			// The stored aggregate must equal a fresh recomputation from the
			// signature rows in every committed snapshot.
			Name: "O1_aggregate_consistent",
			SQL: `WITH agg AS (
                      SELECT a.id, a.signature_status,
                             COUNT(s.id) AS total,
                             COUNT(s.id) FILTER (WHERE s.status = 'signed') AS signed,
                             COUNT(s.id) FILTER (WHERE s.status = 'requested') AS requested
                      FROM agreements a
                      LEFT JOIN signatures s ON s.agreement_id = a.id
                      GROUP BY a.id, a.signature_status)
                  SELECT * FROM agg
                  WHERE signature_status <> CASE
                      WHEN total = 0 THEN 'none'
                      WHEN signed = total THEN 'fully_signed'
                      WHEN signed > 0 THEN 'partially_signed'
                      WHEN requested > 0 THEN 'pending'
                      ELSE 'declined' END`,
		},
		{
			Name: "O2_timeline_seq_monotonic",
			SQL: `WITH seqs AS (
                      SELECT agreement_id, seq,
                             LAG(seq) OVER (PARTITION BY agreement_id ORDER BY seq) AS prev
                      FROM timeline_events)
                  SELECT * FROM seqs WHERE prev IS NOT NULL AND seq <= prev`,
		},
		{
			Name: "O3_signed_record_complete",
			SQL: `SELECT id FROM signatures
                  WHERE status = 'signed'
                    AND (signed_at IS NULL OR signature_data IS NULL)`,
		},
		{
			Name: "O4_terminal_record_untouched",
			SQL: `SELECT id FROM signatures
                  WHERE (status = 'rejected' AND rejected_at IS NULL)
                     OR (status NOT IN ('signed') AND signature_data IS NOT NULL)`,
		},
		{
			Name: "O5_status_domain",
			SQL: `SELECT id, status FROM agreements
                  WHERE status NOT IN ('draft','pending_review','active','expired','terminated')
                  UNION ALL
                  SELECT id, status FROM signatures
                  WHERE status NOT IN ('requested','signed','rejected','cancelled')`,
		},
		{
			Name: "O6_outbox_not_stale",
			SQL: `SELECT id FROM outbox
                  WHERE status NOT IN ('processed','dead')
                    AND now() - created_at > interval '5 minutes'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row
// text) or an empty name if all pass.
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
