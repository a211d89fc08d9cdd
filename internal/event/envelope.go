package event

import (
	"FlashLedger/internal/state"
)

// EventType discriminator for command payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeInitialize
	EventTypeAddAuthorizedLiquidator
	EventTypeAddAuthorizedOrderbookUpdater
	EventTypeStake
	EventTypeOpenPosition
	EventTypeBatchExecuteTrades
	EventTypeApplyFundingRate
	EventTypeAdjustFundingRate
	EventTypeLiquidateWithPenalty
	EventTypeAutoHedge
	EventTypeAdjustLeverage
)

// EventEnvelope wraps every committed command in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Command id supplied by the caller
	IdempotencyKey string

	EventType EventType

	// Principal that issued the command
	Caller state.Principal

	// Clock reading (unix seconds) the command was executed at
	Timestamp int64

	// JSON-encoded command
	Payload []byte

	// SHA-256 of state AFTER applying this command
	StateHash [32]byte

	// Previous command's state hash (chain integrity)
	PrevHash [32]byte
}

// Command is the interface all ledger commands implement
type Command interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// Caller returns the authenticated principal issuing the command
	Caller() state.Principal
}

var eventTypeNames = map[EventType]string{
	EventTypeInitialize:                    "Initialize",
	EventTypeAddAuthorizedLiquidator:       "AddAuthorizedLiquidator",
	EventTypeAddAuthorizedOrderbookUpdater: "AddAuthorizedOrderbookUpdater",
	EventTypeStake:                         "Stake",
	EventTypeOpenPosition:                  "OpenPosition",
	EventTypeBatchExecuteTrades:            "BatchExecuteTrades",
	EventTypeApplyFundingRate:              "ApplyFundingRate",
	EventTypeAdjustFundingRate:             "AdjustFundingRate",
	EventTypeLiquidateWithPenalty:          "LiquidateWithPenalty",
	EventTypeAutoHedge:                     "AutoHedge",
	EventTypeAdjustLeverage:                "AdjustLeverageBasedOnReputation",
}

// subjectTokens are the snake_case names used on NATS subjects and HTTP routes.
var subjectTokens = map[EventType]string{
	EventTypeInitialize:                    "initialize",
	EventTypeAddAuthorizedLiquidator:       "add_authorized_liquidator",
	EventTypeAddAuthorizedOrderbookUpdater: "add_authorized_orderbook_updater",
	EventTypeStake:                         "stake",
	EventTypeOpenPosition:                  "open_position",
	EventTypeBatchExecuteTrades:            "batch_execute_trades",
	EventTypeApplyFundingRate:              "apply_funding_rate",
	EventTypeAdjustFundingRate:             "adjust_funding_rate",
	EventTypeLiquidateWithPenalty:          "liquidate_with_penalty",
	EventTypeAutoHedge:                     "auto_hedge",
	EventTypeAdjustLeverage:                "adjust_leverage_based_on_reputation",
}

func (et EventType) String() string {
	if name, ok := eventTypeNames[et]; ok {
		return name
	}
	return "Unknown"
}

// Token returns the snake_case operation name.
func (et EventType) Token() string {
	if tok, ok := subjectTokens[et]; ok {
		return tok
	}
	return "unknown"
}

// ParseEventType accepts either the CamelCase name or the snake_case token.
func ParseEventType(s string) EventType {
	for et, name := range eventTypeNames {
		if name == s || subjectTokens[et] == s {
			return et
		}
	}
	return EventTypeUnknown
}

// AllEventTypes lists every known command type in declaration order.
func AllEventTypes() []EventType {
	out := make([]EventType, 0, len(eventTypeNames))
	for et := EventTypeInitialize; et <= EventTypeAdjustLeverage; et++ {
		out = append(out, et)
	}
	return out
}
