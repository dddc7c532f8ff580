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
			Name: "O1_pending_iff_countered",
			SQL: `SELECT id, negotiation_state FROM agreements
                  WHERE (negotiation_state = 'countered') <> (pending_terms IS NOT NULL)`,
		},
		{
			Name: "O2_countered_has_proposer",
			SQL: `SELECT id FROM agreements
                  WHERE negotiation_state = 'countered' AND last_proposed_by IS NULL`,
		},
		{
			Name: "O3_accepted_is_sealed",
			SQL: `SELECT id FROM agreements
                  WHERE negotiation_state = 'accepted'
                    AND (hash IS NULL OR length(hash) <> 64
                         OR hash_version IS NULL
                         OR accepted_at IS NULL
                         OR party_a_confirmed_at IS NULL
                         OR party_b_confirmed_at IS NULL)`,
		},
		{
			Name: "O4_hash_only_when_accepted",
			SQL: `SELECT id, negotiation_state FROM agreements
                  WHERE hash IS NOT NULL AND negotiation_state <> 'accepted'`,
		},
		{
			Name: "O5_event_seq_monotonic",
			SQL: `WITH seqs AS (
                      SELECT agreement_id, seq,
                             LAG(seq) OVER (PARTITION BY agreement_id ORDER BY seq) AS prev
                      FROM events)
                  SELECT * FROM seqs WHERE prev IS NOT NULL AND seq <= prev`,
		},
		{
			Name: "O6_event_seq_gapless",
			SQL: `SELECT agreement_id FROM events
                  GROUP BY agreement_id HAVING MAX(seq) <> COUNT(*)`,
		},
		{
			// accepted events with both_confirmed=false are partial
			// confirmations, not terminal transitions
			Name: "O7_single_terminal_event",
			SQL: `SELECT agreement_id, COUNT(*) FROM events
                  WHERE event_type = 'agreement_declined'
                     OR (event_type = 'agreement_accepted' AND payload->>'both_confirmed' = 'true')
                  GROUP BY agreement_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O8_terminal_event_matches_state",
			SQL: `SELECT e.agreement_id, e.event_type, a.negotiation_state
                  FROM events e
                  JOIN agreements a ON a.id = e.agreement_id
                  WHERE (e.event_type = 'agreement_accepted'
                         AND e.payload->>'both_confirmed' = 'true'
                         AND a.negotiation_state <> 'accepted')
                     OR (e.event_type = 'agreement_declined' AND a.negotiation_state <> 'declined')`,
		},
		{
			Name: "O9_outbox_drains",
			SQL: `SELECT id FROM outbox
                  WHERE status = 'pending' AND now() - created_at > interval '5 minutes'`,
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
