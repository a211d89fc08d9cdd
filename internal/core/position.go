package core

import (
	"fmt"

	"FlashLedger/internal/event"
	fpmath "FlashLedger/internal/math"
	"FlashLedger/internal/state"
)

// handleOpenPosition enforces the stake lock, charges the execution fee into
// pool liquidity and adds amount*leverage of exposure.
func (c *Engine) handleOpenPosition(tx *txn, cmd *event.OpenPosition) error {
	if err := c.stageOwnedAccount(tx); err != nil {
		return err
	}
	acct := tx.account
	g := &tx.global

	unlockAt, err := fpmath.CheckedAddInt64(acct.StakeTimestamp, g.MinStakeDuration)
	if err != nil {
		return fmt.Errorf("stake unlock time: %w", err)
	}
	if tx.now < unlockAt {
		return state.ErrStakeTimeLock
	}
	if acct.StakedAmount < g.ExecutionFee {
		return state.ErrInsufficientFundsForFee
	}

	staked, err := fpmath.CheckedSub(acct.StakedAmount, g.ExecutionFee)
	if err != nil {
		return fmt.Errorf("staked amount: %w", err)
	}
	liquidity, err := fpmath.CheckedAdd(g.TotalLiquidity, g.ExecutionFee)
	if err != nil {
		return fmt.Errorf("total liquidity: %w", err)
	}
	value, err := fpmath.ComputePositionValue(cmd.Leverage, cmd.Amount)
	if err != nil {
		return fmt.Errorf("position value: %w", err)
	}
	open, err := fpmath.CheckedAdd(acct.OpenPosition, value)
	if err != nil {
		return fmt.Errorf("open position: %w", err)
	}

	acct.StakedAmount = staked
	acct.OpenPosition = open
	g.TotalLiquidity = liquidity

	if c.metrics != nil {
		c.metrics.ExecutionFeesTotal.Add(float64(g.ExecutionFee))
	}
	return nil
}

// handleBatchExecuteTrades adds the aggregate exposure of every trade in one
// step. No fee is charged and the stake lock does not apply.
func (c *Engine) handleBatchExecuteTrades(tx *txn, cmd *event.BatchExecuteTrades) error {
	if err := c.stageOwnedAccount(tx); err != nil {
		return err
	}

	total, err := fpmath.AggregateTrades(cmd.Trades)
	if err != nil {
		return fmt.Errorf("aggregate %d trades: %w", len(cmd.Trades), err)
	}
	open, err := fpmath.CheckedAdd(tx.account.OpenPosition, total)
	if err != nil {
		return fmt.Errorf("open position: %w", err)
	}
	tx.account.OpenPosition = open
	return nil
}
