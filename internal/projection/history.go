package projection

import (
	"context"
	"database/sql"
	"strconv"

	"FlashLedger/internal/event"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func u64(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// insertFunding records a settled funding fee.
func insertFunding(ctx context.Context, ex execer, f *event.FundingApplied) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO projections.funding_history
			(sequence, trader, fee, fee_rate, open_position_after, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (sequence) DO NOTHING
	`, f.Sequence, f.Trader.String(), u64(f.Fee), u64(f.FeeRate), u64(f.OpenPosition), f.Timestamp)
	return err
}

// insertLiquidation records a committed liquidation and its penalty split.
func insertLiquidation(ctx context.Context, ex execer, l *event.LiquidationRewardIssued) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO projections.liquidation_history
			(sequence, liquidator, trader, liquidation_amount, penalty,
			 liquidator_reward, liquidity_pool_bonus, paid, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (sequence) DO NOTHING
	`, l.Sequence, l.Liquidator.String(), l.Trader.String(),
		u64(l.LiquidationAmount), u64(l.Penalty), u64(l.LiquidatorReward),
		u64(l.LiquidityPoolBonus), l.Paid, l.Timestamp)
	return err
}

// insertHedge records an auto hedge withdrawal.
func insertHedge(ctx context.Context, ex execer, h *event.HedgeExecuted) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO projections.hedge_history
			(sequence, admin, hedge_amount, remaining_liquidity, executed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (sequence) DO NOTHING
	`, h.Sequence, h.Admin.String(), u64(h.HedgeAmount), u64(h.RemainingLiquidity), h.Timestamp)
	return err
}

func updateWatermark(ctx context.Context, ex execer, workerID string, seq int64) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_id) DO UPDATE
			SET last_sequence = GREATEST(projections.watermark.last_sequence, EXCLUDED.last_sequence),
			    updated_at = NOW()
	`, workerID, seq)
	return err
}

// Watermark returns the last sequence applied by workerID, 0 if none.
func Watermark(ctx context.Context, db *sql.DB, workerID string) (int64, error) {
	var seq int64
	err := db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = $1
	`, workerID).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}
