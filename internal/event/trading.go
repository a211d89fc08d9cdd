package event

import fpmath "FlashLedger/internal/math"

// Stake moves collateral from the caller into the vault.
type Stake struct {
	Meta
	Amount uint64 `json:"amount"`
}

func (c *Stake) EventType() EventType { return EventTypeStake }

// OpenPosition adds amount*leverage of exposure after the stake lock and
// charges the execution fee.
type OpenPosition struct {
	Meta
	Leverage uint64 `json:"leverage"`
	Amount   uint64 `json:"amount"`
}

func (c *OpenPosition) EventType() EventType { return EventTypeOpenPosition }

// BatchExecuteTrades adds the summed exposure of all trades at once.
type BatchExecuteTrades struct {
	Meta
	Trades []fpmath.Trade `json:"trades"`
}

func (c *BatchExecuteTrades) EventType() EventType { return EventTypeBatchExecuteTrades }
