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

// All returns the cross-table invariants of the option ledger. Any returned
// row is a violation.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_escrow_matches_amount",
			SQL: `SELECT o.id, e.balance, o.amount_underlying
                  FROM options o JOIN escrows e ON e.option_id = o.id
                  WHERE e.balance <> o.amount_underlying`,
		},
		{
			Name: "O2_token_supply_matches_amount",
			SQL: `SELECT o.id, COALESCE(h.supply, 0), o.amount_underlying
                  FROM options o
                  LEFT JOIN (SELECT option_id, SUM(balance) AS supply
                             FROM option_holdings GROUP BY option_id) h
                    ON h.option_id = o.id
                  WHERE COALESCE(h.supply, 0) <> o.amount_underlying`,
		},
		{
			Name: "O3_amount_within_bounds",
			SQL: `SELECT id FROM options
                  WHERE amount_underlying < 0 OR amount_underlying > original_amount`,
		},
		{
			Name: "O4_terminal_states_drained",
			SQL: `SELECT id, status FROM options
                  WHERE status IN ('fully_exercised','cancelled','expired')
                    AND amount_underlying <> 0`,
		},
		{
			Name: "O5_no_negative_balances",
			SQL: `SELECT 'account' AS kind, id::text FROM accounts WHERE balance < 0
                  UNION ALL
                  SELECT 'escrow', option_id::text FROM escrows WHERE balance < 0
                  UNION ALL
                  SELECT 'holding', option_id::text FROM option_holdings WHERE balance < 0`,
		},
		{
			Name: "O6_timeline_seq_monotonic",
			SQL: `WITH seqs AS (
                      SELECT option_id, seq,
                             LAG(seq) OVER (PARTITION BY option_id ORDER BY seq) AS prev
                      FROM timeline_events)
                  SELECT * FROM seqs WHERE prev IS NOT NULL AND seq <= prev`,
		},
		{
			Name: "O7_option_delete_guard",
			SQL: `SELECT 'missing_no_delete_trigger' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname='no_delete_options')`,
		},
		{
			Name: "O8_nonterminal_past_activity",
			SQL: `SELECT id FROM options
                  WHERE status = 'active' AND amount_underlying <> original_amount`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row
// text) or empty name if all pass.
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

// AssetTotal sums an asset across holding accounts and escrows. The engine
// never creates or destroys units, so the total for each asset must stay at
// its seeded value for the whole run.
func AssetTotal(ctx context.Context, pool *pgxpool.Pool, asset string) (int64, error) {
	var total int64
	err := pool.QueryRow(ctx, `
SELECT COALESCE((SELECT SUM(balance) FROM accounts WHERE asset_type = $1), 0)
     + COALESCE((SELECT SUM(balance) FROM escrows WHERE asset_type = $1), 0)
`, asset).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("oracle asset total %s: %w", asset, err)
	}
	return total, nil
}
