package core

import (
	"fmt"

	"FlashLedger/internal/event"
	fpmath "FlashLedger/internal/math"
)

// handleApplyFundingRate moves open_position * fee_rate out of the trader's
// exposure and into pool liquidity. A fee larger than the exposure is an
// underflow and rejects the command.
func (c *Engine) handleApplyFundingRate(tx *txn, cmd *event.ApplyFundingRate) error {
	if err := c.stageAccount(tx, cmd.Trader); err != nil {
		return err
	}
	acct := tx.account
	g := &tx.global

	fee, err := fpmath.ComputeFundingFee(acct.OpenPosition, g.FeeRate)
	if err != nil {
		return fmt.Errorf("funding fee: %w", err)
	}
	open, err := fpmath.CheckedSub(acct.OpenPosition, fee)
	if err != nil {
		return fmt.Errorf("open position: %w", err)
	}
	liquidity, err := fpmath.CheckedAdd(g.TotalLiquidity, fee)
	if err != nil {
		return fmt.Errorf("total liquidity: %w", err)
	}

	acct.OpenPosition = open
	g.TotalLiquidity = liquidity

	tx.receipt.Funding = &event.FundingApplied{
		Trader:       cmd.Trader,
		Fee:          fee,
		FeeRate:      g.FeeRate,
		OpenPosition: open,
	}
	if c.metrics != nil {
		c.metrics.FundingFeesTotal.Add(float64(fee))
	}
	return nil
}

// handleAdjustFundingRate replaces the fee rate. No bounds are enforced.
func (c *Engine) handleAdjustFundingRate(tx *txn, cmd *event.AdjustFundingRate) error {
	if err := requireAdmin(tx); err != nil {
		return err
	}
	c.log.Info().
		Uint64("old_rate", tx.global.FeeRate).
		Uint64("new_rate", cmd.NewRate).
		Msg("funding rate adjusted")
	tx.global.FeeRate = cmd.NewRate
	return nil
}
