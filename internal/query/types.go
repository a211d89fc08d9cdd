package query

import "FlashLedger/internal/state"

// GlobalLedgerResponse is the persisted global ledger.
type GlobalLedgerResponse struct {
	state.GlobalLedgerView
	StateHash    []byte `json:"state_hash"`
	AsOfSequence int64  `json:"as_of_sequence"` // sequence of the stored record
}

// TraderAccountResponse is one persisted trader account.
type TraderAccountResponse struct {
	Owner          state.Principal `json:"owner"`
	StakedAmount   uint64          `json:"staked_amount"`
	OpenPosition   uint64          `json:"open_position"`
	StakeTimestamp int64           `json:"stake_timestamp"`
	LastSequence   int64           `json:"last_sequence"` // last command that changed it
}

// LiquidationResponse is one row of liquidation history.
type LiquidationResponse struct {
	Sequence           int64           `json:"sequence"`
	Liquidator         state.Principal `json:"liquidator"`
	Trader             state.Principal `json:"trader"`
	LiquidationAmount  uint64          `json:"liquidation_amount"`
	Penalty            uint64          `json:"penalty"`
	LiquidatorReward   uint64          `json:"liquidator_reward"`
	LiquidityPoolBonus uint64          `json:"liquidity_pool_bonus"`
	Paid               bool            `json:"paid"`
	ExecutedAt         int64           `json:"executed_at"`
}

// FundingHistoryResponse is one settled funding fee.
type FundingHistoryResponse struct {
	Sequence          int64           `json:"sequence"`
	Trader            state.Principal `json:"trader"`
	Fee               uint64          `json:"fee"`
	FeeRate           uint64          `json:"fee_rate"`
	OpenPositionAfter uint64          `json:"open_position_after"`
	ExecutedAt        int64           `json:"executed_at"`
}

// HedgeResponse is one auto hedge.
type HedgeResponse struct {
	Sequence           int64           `json:"sequence"`
	Admin              state.Principal `json:"admin"`
	HedgeAmount        uint64          `json:"hedge_amount"`
	RemainingLiquidity uint64          `json:"remaining_liquidity"`
	ExecutedAt         int64           `json:"executed_at"`
}

// Page selects a window of a history table, newest first. A zero Before
// starts at the newest row.
type Page struct {
	Limit  int
	Before int64
}

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

func (p Page) limit() int {
	switch {
	case p.Limit <= 0:
		return DefaultPageLimit
	case p.Limit > MaxPageLimit:
		return MaxPageLimit
	}
	return p.Limit
}

// HistoryResponse wraps a page of history with the projection watermark.
type HistoryResponse[T any] struct {
	Items        []T   `json:"items"`
	AsOfSequence int64 `json:"as_of_sequence"`
}
