package event

import "FlashLedger/internal/state"

// LiquidateWithPenalty reduces an under-margined trader's exposure and
// splits a penalty between the liquidator and the pool.
type LiquidateWithPenalty struct {
	Meta
	Trader            state.Principal `json:"trader"`
	LiquidationAmount uint64          `json:"liquidation_amount"`
	PenaltyRate       uint64          `json:"penalty_rate"`
}

func (c *LiquidateWithPenalty) EventType() EventType { return EventTypeLiquidateWithPenalty }

// LiquidationRewardIssued is published after a committed liquidation so the
// transfer collaborator can pay the liquidator. Paid is set when the ledger
// already moved the reward through its own custody port.
type LiquidationRewardIssued struct {
	Sequence           int64           `json:"sequence"`
	Liquidator         state.Principal `json:"liquidator"`
	Trader             state.Principal `json:"trader"`
	LiquidationAmount  uint64          `json:"liquidation_amount"`
	Penalty            uint64          `json:"penalty"`
	LiquidatorReward   uint64          `json:"liquidator_reward"`
	LiquidityPoolBonus uint64          `json:"liquidity_pool_bonus"`
	Paid               bool            `json:"paid"`
	Timestamp          int64           `json:"timestamp"`
}

// HedgeExecuted is published after AutoHedge commits.
type HedgeExecuted struct {
	Sequence           int64           `json:"sequence"`
	Admin              state.Principal `json:"admin"`
	HedgeAmount        uint64          `json:"hedge_amount"`
	RemainingLiquidity uint64          `json:"remaining_liquidity"`
	Timestamp          int64           `json:"timestamp"`
}
