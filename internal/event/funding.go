package event

import "FlashLedger/internal/state"

// ApplyFundingRate settles the current fee rate against one trader's
// exposure. Any caller may submit it.
type ApplyFundingRate struct {
	Meta
	Trader state.Principal `json:"trader"`
}

func (c *ApplyFundingRate) EventType() EventType { return EventTypeApplyFundingRate }

// FundingApplied reports a settled funding fee.
type FundingApplied struct {
	Sequence     int64           `json:"sequence"`
	Trader       state.Principal `json:"trader"`
	Fee          uint64          `json:"fee"`
	FeeRate      uint64          `json:"fee_rate"`
	OpenPosition uint64          `json:"open_position"`
	Timestamp    int64           `json:"timestamp"`
}
