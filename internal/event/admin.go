package event

import "FlashLedger/internal/state"

// Initialize creates the global ledger; the caller becomes admin.
type Initialize struct {
	Meta
	state.GlobalParams
}

func (c *Initialize) EventType() EventType { return EventTypeInitialize }

// AddAuthorizedLiquidator appends a principal to the liquidator allow-list.
type AddAuthorizedLiquidator struct {
	Meta
	Liquidator state.Principal `json:"liquidator"`
}

func (c *AddAuthorizedLiquidator) EventType() EventType { return EventTypeAddAuthorizedLiquidator }

// AddAuthorizedOrderbookUpdater appends a principal to the updater
// allow-list. Membership is recorded only.
type AddAuthorizedOrderbookUpdater struct {
	Meta
	Updater state.Principal `json:"updater"`
}

func (c *AddAuthorizedOrderbookUpdater) EventType() EventType {
	return EventTypeAddAuthorizedOrderbookUpdater
}

// AdjustFundingRate replaces the global fee rate.
type AdjustFundingRate struct {
	Meta
	NewRate uint64 `json:"new_rate"`
}

func (c *AdjustFundingRate) EventType() EventType { return EventTypeAdjustFundingRate }

// AutoHedge withdraws hedge_amount from pool liquidity.
type AutoHedge struct {
	Meta
	HedgeAmount uint64 `json:"hedge_amount"`
}

func (c *AutoHedge) EventType() EventType { return EventTypeAutoHedge }

// AdjustLeverage records a reputation-based leverage cap for a trader.
type AdjustLeverage struct {
	Meta
	Trader      state.Principal `json:"trader"`
	NewLeverage uint64          `json:"new_leverage"`
}

func (c *AdjustLeverage) EventType() EventType { return EventTypeAdjustLeverage }
