package event

import (
	"encoding/json"
	"fmt"
)

// New returns an empty command for et.
func New(et EventType) (Command, error) {
	switch et {
	case EventTypeInitialize:
		return &Initialize{}, nil
	case EventTypeAddAuthorizedLiquidator:
		return &AddAuthorizedLiquidator{}, nil
	case EventTypeAddAuthorizedOrderbookUpdater:
		return &AddAuthorizedOrderbookUpdater{}, nil
	case EventTypeStake:
		return &Stake{}, nil
	case EventTypeOpenPosition:
		return &OpenPosition{}, nil
	case EventTypeBatchExecuteTrades:
		return &BatchExecuteTrades{}, nil
	case EventTypeApplyFundingRate:
		return &ApplyFundingRate{}, nil
	case EventTypeAdjustFundingRate:
		return &AdjustFundingRate{}, nil
	case EventTypeLiquidateWithPenalty:
		return &LiquidateWithPenalty{}, nil
	case EventTypeAutoHedge:
		return &AutoHedge{}, nil
	case EventTypeAdjustLeverage:
		return &AdjustLeverage{}, nil
	default:
		return nil, fmt.Errorf("unknown event type: %d", et)
	}
}

// Encode serializes cmd as the envelope payload.
func Encode(cmd Command) ([]byte, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmd.EventType(), err)
	}
	return data, nil
}

// Decode parses a payload produced by Encode (or by an upstream producer
// using the same field names).
func Decode(et EventType, data []byte) (Command, error) {
	cmd, err := New(et)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cmd); err != nil {
		return nil, fmt.Errorf("decode %s: %w", et, err)
	}
	return cmd, nil
}
