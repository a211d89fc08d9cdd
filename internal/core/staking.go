package core

import (
	"fmt"
	"time"

	"FlashLedger/internal/custody"
	"FlashLedger/internal/event"
	fpmath "FlashLedger/internal/math"
	"FlashLedger/internal/state"
)

// handleStake moves amount from the caller into the vault and re-arms the
// stake lock. The new balance is checked before the transfer so an overflow
// never leaves an unrecorded transfer behind.
func (c *Engine) handleStake(tx *txn, cmd *event.Stake) error {
	if cmd.Amount == 0 {
		return state.ErrInvalidAmount
	}

	if acct, ok := c.traders[tx.caller]; ok {
		staged := *acct
		tx.account = &staged
	} else {
		staged := state.NewTraderAccount(tx.caller)
		tx.account = &staged
		tx.newAccount = true
	}

	newBalance, err := fpmath.CheckedAdd(tx.account.StakedAmount, cmd.Amount)
	if err != nil {
		return fmt.Errorf("staked amount: %w", err)
	}

	if err := c.transfer(tx, "stake", cmd.Amount, tx.caller, c.opts.Vault); err != nil {
		return err
	}

	tx.account.StakedAmount = newBalance
	tx.account.StakeTimestamp = tx.now
	return nil
}

// transfer calls the custody port and maps any failure to ErrTransferFailed.
// A redelivered command reuses the same transfer id.
func (c *Engine) transfer(tx *txn, purpose string, amount uint64, from, to state.Principal) error {
	start := time.Now()
	id := custody.TransferID(tx.caller, tx.key, purpose)
	err := c.custody.Transfer(tx.ctx, id, amount, from, to)

	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	if c.metrics != nil {
		c.metrics.CustodyTransfers.WithLabelValues(purpose, outcome).Inc()
		c.metrics.CustodyTransferDuration.Observe(time.Since(start).Seconds())
	}

	if err != nil {
		c.log.Warn().
			Err(err).
			Str("transfer_id", id.String()).
			Str("purpose", purpose).
			Uint64("amount", amount).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("custody transfer failed")
		return fmt.Errorf("%w: %s: %v", state.ErrTransferFailed, purpose, err)
	}
	return nil
}
