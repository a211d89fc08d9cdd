package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"FlashLedger/internal/event"
	"FlashLedger/internal/state"

	"github.com/google/uuid"
)

// CommandSubjectPrefix is the subject namespace for inbound commands. The
// final token is the operation, e.g. flash.cmd.stake.
const CommandSubjectPrefix = "flash.cmd."

var (
	ErrUnknownSubject   = errors.New("unknown command subject")
	ErrMissingCommandID = errors.New("command_id is required")
	ErrMissingCaller    = errors.New("caller is required")
	ErrMissingField     = errors.New("required field missing")
)

// CommandSubject returns the inbound subject for et.
func CommandSubject(et event.EventType) string {
	return CommandSubjectPrefix + et.Token()
}

// EventTypeFromSubject maps flash.cmd.<operation> to an event type.
func EventTypeFromSubject(subject string) (event.EventType, error) {
	op, ok := strings.CutPrefix(subject, CommandSubjectPrefix)
	if !ok || op == "" || strings.Contains(op, ".") {
		return event.EventTypeUnknown, fmt.Errorf("%w: %s", ErrUnknownSubject, subject)
	}
	et := event.ParseEventType(op)
	if et == event.EventTypeUnknown {
		return et, fmt.Errorf("%w: %s", ErrUnknownSubject, subject)
	}
	return et, nil
}

// ParseRawEvent converts a NATS message into a typed command. Producers must
// supply command_id and caller; unknown fields are rejected.
func ParseRawEvent(raw RawEvent) (event.Command, error) {
	et, err := EventTypeFromSubject(raw.Subject)
	if err != nil {
		return nil, err
	}
	return ParseCommand(et, raw.Data)
}

// ParseCommand decodes and validates a JSON command body.
func ParseCommand(et event.EventType, data []byte) (event.Command, error) {
	cmd, err := event.New(et)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cmd); err != nil {
		return nil, fmt.Errorf("parse %s: %w", et, err)
	}

	m := event.MetaOf(cmd)
	if m.CommandID == uuid.Nil {
		return nil, fmt.Errorf("parse %s: %w", et, ErrMissingCommandID)
	}
	if m.Signer.IsZero() {
		return nil, fmt.Errorf("parse %s: %w", et, ErrMissingCaller)
	}
	if err := validate(cmd); err != nil {
		return nil, fmt.Errorf("parse %s: %w", et, err)
	}
	return cmd, nil
}

// validate checks the principal fields each command names.
func validate(cmd event.Command) error {
	var (
		field string
		p     state.Principal
	)
	switch c := cmd.(type) {
	case *event.AddAuthorizedLiquidator:
		field, p = "liquidator", c.Liquidator
	case *event.AddAuthorizedOrderbookUpdater:
		field, p = "updater", c.Updater
	case *event.ApplyFundingRate:
		field, p = "trader", c.Trader
	case *event.LiquidateWithPenalty:
		field, p = "trader", c.Trader
	case *event.AdjustLeverage:
		field, p = "trader", c.Trader
	default:
		return nil
	}
	if p.IsZero() {
		return fmt.Errorf("%w: %s", ErrMissingField, field)
	}
	return nil
}
