package core

import (
	"fmt"

	"FlashLedger/internal/event"
	"FlashLedger/internal/state"
)

func requireAdmin(tx *txn) error {
	if !tx.global.IsAdmin(tx.caller) {
		return state.ErrUnauthorized
	}
	return nil
}

func requireLiquidator(tx *txn) error {
	if !tx.global.IsAuthorizedLiquidator(tx.caller) {
		return state.ErrUnauthorized
	}
	return nil
}

// stageAccount copies owner's live account into tx.
func (c *Engine) stageAccount(tx *txn, owner state.Principal) error {
	acct, ok := c.traders[owner]
	if !ok {
		return state.ErrAccountNotFound
	}
	staged := *acct
	tx.account = &staged
	return nil
}

// stageOwnedAccount stages the caller's own account and checks ownership.
func (c *Engine) stageOwnedAccount(tx *txn) error {
	if err := c.stageAccount(tx, tx.caller); err != nil {
		return err
	}
	if !tx.account.IsOwnedBy(tx.caller) {
		return state.ErrUnauthorized
	}
	return nil
}

func (c *Engine) handleInitialize(tx *txn, cmd *event.Initialize) error {
	if tx.initialized {
		return state.ErrAlreadyInitialized
	}
	if tx.caller.IsZero() {
		return state.ErrUnauthorized
	}
	tx.global = state.NewGlobalLedger(tx.caller, cmd.GlobalParams)

	c.log.Info().
		Str("admin", tx.caller.String()).
		Uint64("fee_rate", cmd.FeeRate).
		Uint64("maintenance_margin", cmd.MaintenanceMargin).
		Int64("min_stake_duration", cmd.MinStakeDuration).
		Uint64("execution_fee", cmd.ExecutionFee).
		Msg("global ledger initialized")
	return nil
}

func (c *Engine) handleAddAuthorizedLiquidator(tx *txn, cmd *event.AddAuthorizedLiquidator) error {
	if err := requireAdmin(tx); err != nil {
		return err
	}
	if err := tx.global.AuthorizedLiquidators.Add(cmd.Liquidator); err != nil {
		return fmt.Errorf("add liquidator %s: %w", cmd.Liquidator, err)
	}
	return nil
}

func (c *Engine) handleAddAuthorizedOrderbookUpdater(tx *txn, cmd *event.AddAuthorizedOrderbookUpdater) error {
	if err := requireAdmin(tx); err != nil {
		return err
	}
	if err := tx.global.AuthorizedOrderbookUpdaters.Add(cmd.Updater); err != nil {
		return fmt.Errorf("add orderbook updater %s: %w", cmd.Updater, err)
	}
	return nil
}

func (c *Engine) handleAdjustLeverage(tx *txn, cmd *event.AdjustLeverage) error {
	if err := requireAdmin(tx); err != nil {
		return err
	}
	if err := tx.global.ReputationBasedLeverage.Upsert(cmd.Trader, cmd.NewLeverage); err != nil {
		return fmt.Errorf("reputation leverage for %s: %w", cmd.Trader, err)
	}
	return nil
}
