package ingestion_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"FlashLedger/internal/event"
	"FlashLedger/internal/ingestion"
	"FlashLedger/internal/testutil"
)

const commandID = "550e8400-e29b-41d4-a716-446655440000"

func rawFromJSON(t *testing.T, subject string, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   subject,
		Data:      data,
		Timestamp: time.Now(),
	}
}

func TestEventTypeFromSubject(t *testing.T) {
	tests := []struct {
		subject string
		want    event.EventType
		wantErr bool
	}{
		{"flash.cmd.stake", event.EventTypeStake, false},
		{"flash.cmd.adjust_leverage_based_on_reputation", event.EventTypeAdjustLeverage, false},
		{"flash.cmd.LiquidateWithPenalty", event.EventTypeLiquidateWithPenalty, false},
		{"flash.cmd.", event.EventTypeUnknown, true},
		{"flash.cmd.stake.extra", event.EventTypeUnknown, true},
		{"flash.cmd.withdraw", event.EventTypeUnknown, true},
		{"perp.trades.stake", event.EventTypeUnknown, true},
	}
	for _, tt := range tests {
		got, err := ingestion.EventTypeFromSubject(tt.subject)
		if tt.wantErr {
			if !errors.Is(err, ingestion.ErrUnknownSubject) {
				t.Errorf("%s: expected ErrUnknownSubject, got %v", tt.subject, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("%s: got (%v, %v), want %v", tt.subject, got, err, tt.want)
		}
	}
}

func TestCommandSubject_RoundTrip(t *testing.T) {
	for _, et := range event.AllEventTypes() {
		got, err := ingestion.EventTypeFromSubject(ingestion.CommandSubject(et))
		if err != nil || got != et {
			t.Errorf("%s: round trip gave (%v, %v)", et, got, err)
		}
	}
}

func TestParseStake(t *testing.T) {
	caller := testutil.Principal(10)
	raw := rawFromJSON(t, "flash.cmd.stake", map[string]interface{}{
		"command_id": commandID,
		"caller":     caller.String(),
		"amount":     uint64(1_000_000),
	})

	cmd, err := ingestion.ParseRawEvent(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	stake, ok := cmd.(*event.Stake)
	if !ok {
		t.Fatalf("expected *event.Stake, got %T", cmd)
	}
	if stake.Amount != 1_000_000 {
		t.Errorf("amount: got %d, want 1_000_000", stake.Amount)
	}
	if stake.Caller() != caller {
		t.Errorf("caller: got %s, want %s", stake.Caller(), caller)
	}
	if stake.IdempotencyKey() != commandID {
		t.Errorf("idempotency key: got %s", stake.IdempotencyKey())
	}
}

func TestParseInitialize(t *testing.T) {
	raw := rawFromJSON(t, "flash.cmd.initialize", map[string]interface{}{
		"command_id":         commandID,
		"caller":             testutil.Principal(1).String(),
		"fee_rate":           2,
		"maintenance_margin": 150,
		"min_stake_duration": 3600,
		"execution_fee":      10,
	})

	cmd, err := ingestion.ParseRawEvent(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	initCmd := cmd.(*event.Initialize)
	if initCmd.FeeRate != 2 || initCmd.MaintenanceMargin != 150 || initCmd.MinStakeDuration != 3600 || initCmd.ExecutionFee != 10 {
		t.Errorf("params: got %+v", initCmd.GlobalParams)
	}
}

func TestParseBatchExecuteTrades(t *testing.T) {
	raw := rawFromJSON(t, "flash.cmd.batch_execute_trades", map[string]interface{}{
		"command_id": commandID,
		"caller":     testutil.Principal(10).String(),
		"trades": []map[string]uint64{
			{"leverage": 2, "amount": 50},
			{"leverage": 3, "amount": 10},
		},
	})

	cmd, err := ingestion.ParseRawEvent(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	batch := cmd.(*event.BatchExecuteTrades)
	if len(batch.Trades) != 2 || batch.Trades[1].Leverage != 3 || batch.Trades[1].Amount != 10 {
		t.Errorf("trades: got %+v", batch.Trades)
	}
}

func TestParse_Rejections(t *testing.T) {
	caller := testutil.Principal(10).String()
	tests := []struct {
		name    string
		subject string
		body    map[string]interface{}
		want    error
	}{
		{
			name:    "missing command id",
			subject: "flash.cmd.stake",
			body:    map[string]interface{}{"caller": caller, "amount": 1},
			want:    ingestion.ErrMissingCommandID,
		},
		{
			name:    "missing caller",
			subject: "flash.cmd.stake",
			body:    map[string]interface{}{"command_id": commandID, "amount": 1},
			want:    ingestion.ErrMissingCaller,
		},
		{
			name:    "missing trader",
			subject: "flash.cmd.liquidate_with_penalty",
			body: map[string]interface{}{
				"command_id": commandID, "caller": caller,
				"liquidation_amount": 10, "penalty_rate": 5,
			},
			want: ingestion.ErrMissingField,
		},
		{
			name:    "missing liquidator",
			subject: "flash.cmd.add_authorized_liquidator",
			body:    map[string]interface{}{"command_id": commandID, "caller": caller},
			want:    ingestion.ErrMissingField,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ingestion.ParseRawEvent(rawFromJSON(t, tt.subject, tt.body))
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestParse_MalformedBodies(t *testing.T) {
	caller := testutil.Principal(10).String()
	bodies := []map[string]interface{}{
		{"command_id": commandID, "caller": caller, "amount": -1},
		{"command_id": commandID, "caller": caller, "amount": 1, "market": "BTC"},
		{"command_id": "not-a-uuid", "caller": caller, "amount": 1},
		{"command_id": commandID, "caller": "0OIl", "amount": 1},
	}
	for i, body := range bodies {
		if _, err := ingestion.ParseRawEvent(rawFromJSON(t, "flash.cmd.stake", body)); err == nil {
			t.Errorf("body %d: expected parse error", i)
		}
	}

	raw := ingestion.RawEvent{Subject: "flash.cmd.stake", Data: []byte("{")}
	if _, err := ingestion.ParseRawEvent(raw); err == nil {
		t.Error("expected error for truncated JSON")
	}
}
