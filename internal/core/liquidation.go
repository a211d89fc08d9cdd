package core

import (
	"fmt"

	"FlashLedger/internal/event"
	fpmath "FlashLedger/internal/math"
	"FlashLedger/internal/state"
)

// handleLiquidateWithPenalty reduces an under-margined trader's exposure.
// The penalty is split between the liquidator (floor half) and pool
// liquidity (the remainder).
func (c *Engine) handleLiquidateWithPenalty(tx *txn, cmd *event.LiquidateWithPenalty) error {
	if err := requireLiquidator(tx); err != nil {
		return err
	}
	if err := c.stageAccount(tx, cmd.Trader); err != nil {
		return err
	}
	acct := tx.account
	g := &tx.global

	required, err := fpmath.ComputeRequiredMargin(acct.OpenPosition, g.MaintenanceMargin)
	if err != nil {
		return fmt.Errorf("required margin: %w", err)
	}
	if acct.StakedAmount >= required {
		return state.ErrMarginSufficient
	}
	if acct.OpenPosition < cmd.LiquidationAmount {
		return state.ErrInvalidLiquidationAmount
	}

	split, err := fpmath.SplitPenalty(cmd.LiquidationAmount, cmd.PenaltyRate)
	if err != nil {
		return fmt.Errorf("penalty: %w", err)
	}
	open, err := fpmath.CheckedSub(acct.OpenPosition, cmd.LiquidationAmount)
	if err != nil {
		return fmt.Errorf("open position: %w", err)
	}
	liquidity, err := fpmath.CheckedAdd(g.TotalLiquidity, split.LiquidityPoolBonus)
	if err != nil {
		return fmt.Errorf("total liquidity: %w", err)
	}

	paid := false
	if c.opts.PayLiquidatorReward && split.LiquidatorReward > 0 {
		if err := c.transfer(tx, "liquidator_reward", split.LiquidatorReward, c.opts.Vault, tx.caller); err != nil {
			return err
		}
		paid = true
	}

	acct.OpenPosition = open
	g.TotalLiquidity = liquidity

	tx.receipt.Liquidation = &event.LiquidationRewardIssued{
		Liquidator:         tx.caller,
		Trader:             cmd.Trader,
		LiquidationAmount:  cmd.LiquidationAmount,
		Penalty:            split.Penalty,
		LiquidatorReward:   split.LiquidatorReward,
		LiquidityPoolBonus: split.LiquidityPoolBonus,
		Paid:               paid,
	}

	c.log.Info().
		Str("trader", cmd.Trader.String()).
		Str("liquidator", tx.caller.String()).
		Uint64("amount", cmd.LiquidationAmount).
		Uint64("penalty", split.Penalty).
		Uint64("reward", split.LiquidatorReward).
		Bool("paid", paid).
		Msg("position liquidated")

	if c.metrics != nil {
		c.metrics.LiquidationsTotal.Inc()
		c.metrics.LiquidationPenalty.Add(float64(split.Penalty))
		c.metrics.LiquidatorRewards.Add(float64(split.LiquidatorReward))
	}
	return nil
}

// handleAutoHedge withdraws hedge_amount from pool liquidity.
func (c *Engine) handleAutoHedge(tx *txn, cmd *event.AutoHedge) error {
	if err := requireAdmin(tx); err != nil {
		return err
	}
	g := &tx.global
	if g.TotalLiquidity < cmd.HedgeAmount {
		return state.ErrInsufficientLiquidity
	}
	remaining, err := fpmath.CheckedSub(g.TotalLiquidity, cmd.HedgeAmount)
	if err != nil {
		return fmt.Errorf("total liquidity: %w", err)
	}
	g.TotalLiquidity = remaining

	tx.receipt.Hedge = &event.HedgeExecuted{
		Admin:              tx.caller,
		HedgeAmount:        cmd.HedgeAmount,
		RemainingLiquidity: remaining,
	}

	c.log.Info().
		Uint64("hedge_amount", cmd.HedgeAmount).
		Uint64("remaining_liquidity", remaining).
		Msg("auto hedge executed")

	if c.metrics != nil {
		c.metrics.HedgesTotal.Inc()
		c.metrics.HedgedAmount.Add(float64(cmd.HedgeAmount))
	}
	return nil
}
