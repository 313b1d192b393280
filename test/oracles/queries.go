package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Oracle is a query that must return no rows while the system is healthy.
type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_release",
			SQL: `SELECT reference, COUNT(*) FROM ledger_transfers
                  WHERE reference LIKE 'escrow:%:release'
                  GROUP BY reference HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_single_deposit",
			SQL: `SELECT reference, COUNT(*) FROM ledger_transfers
                  WHERE reference LIKE 'escrow:%:deposit'
                  GROUP BY reference HAVING COUNT(*) > 1`,
		},
		{
			Name: "O3_finalized_all_confirmed",
			SQL: `SELECT a.id FROM agreements a
                  WHERE a.status = 'finalized'
                    AND EXISTS (
                      SELECT 1 FROM jsonb_array_elements(a.conditions) c
                      WHERE NOT ((c->>'confirmed_by_buyer')::boolean AND (c->>'confirmed_by_seller')::boolean))`,
		},
		{
			Name: "O4_finalized_has_release",
			SQL: `SELECT a.id FROM agreements a
                  WHERE a.status = 'finalized'
                    AND NOT EXISTS (
                      SELECT 1 FROM ledger_transfers t
                      WHERE t.reference = 'escrow:' || a.id || ':release'
                        AND t.to_account_id = a.seller_id
                        AND t.amount = a.total_amount)`,
		},
		{
			Name: "O4b_release_only_when_finalized",
			SQL: `SELECT t.id, t.reference FROM ledger_transfers t
                  WHERE t.reference LIKE 'escrow:%:release'
                    AND NOT EXISTS (
                      SELECT 1 FROM agreements a
                      WHERE t.reference = 'escrow:' || a.id || ':release'
                        AND a.status = 'finalized')`,
		},
		{
			Name: "O5_progress_requires_deposit",
			SQL: `SELECT a.id, a.status FROM agreements a
                  WHERE a.status <> 'initialized'
                    AND NOT EXISTS (
                      SELECT 1 FROM ledger_transfers t
                      WHERE t.reference = 'escrow:' || a.id || ':deposit'
                        AND t.from_account_id = a.buyer_id
                        AND t.amount >= a.total_amount)`,
		},
		{
			Name: "O6_balance_conservation",
			SQL: `SELECT a.id, a.balance, COALESCE(i.total, 0) - COALESCE(o.total, 0) AS expected
                  FROM accounts a
                  LEFT JOIN (SELECT to_account_id AS id, SUM(amount) AS total FROM ledger_transfers GROUP BY to_account_id) i ON i.id = a.id
                  LEFT JOIN (SELECT from_account_id AS id, SUM(amount) AS total FROM ledger_transfers WHERE from_account_id IS NOT NULL GROUP BY from_account_id) o ON o.id = a.id
                  WHERE a.balance <> COALESCE(i.total, 0) - COALESCE(o.total, 0)`,
		},
		{
			Name: "O7_timeline_seq_contiguous",
			SQL: `WITH seqs AS (
                      SELECT agreement_id, seq,
                             LAG(seq) OVER (PARTITION BY agreement_id ORDER BY seq) AS prev
                      FROM timeline_events)
                  SELECT * FROM seqs WHERE (prev IS NULL AND seq <> 1) OR (prev IS NOT NULL AND seq <> prev + 1)`,
		},
		{
			Name: "O8_timeline_matches_status",
			SQL: `SELECT a.id, a.status,
                         COUNT(*) FILTER (WHERE e.type = 'FUNDS_DEPOSITED') AS deposits,
                         COUNT(*) FILTER (WHERE e.type = 'AGREEMENT_FINALIZED') AS finals
                  FROM agreements a
                  LEFT JOIN timeline_events e ON e.agreement_id = a.id
                  GROUP BY a.id, a.status
                  HAVING COUNT(*) FILTER (WHERE e.type = 'AGREEMENT_CREATED') <> 1
                      OR COUNT(*) FILTER (WHERE e.type = 'FUNDS_DEPOSITED') <> CASE WHEN a.status = 'initialized' THEN 0 ELSE 1 END
                      OR COUNT(*) FILTER (WHERE e.type = 'AGREEMENT_FINALIZED') <> CASE WHEN a.status = 'finalized' THEN 1 ELSE 0 END`,
		},
		{
			Name: "O9_agreement_delete_guard",
			SQL: `SELECT 'missing_no_delete_trigger' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname='no_delete_agreements')`,
		},
		{
			Name: "O10_outbox_finalized_once",
			SQL: `SELECT payload->>'agreement_id', COUNT(*) FROM outbox
                  WHERE topic = 'escrow.finalized'
                  GROUP BY payload->>'agreement_id' HAVING COUNT(*) > 1`,
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
		if err := rows.Err(); err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
