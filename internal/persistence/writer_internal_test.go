package persistence

import (
	"math"
	"testing"

	"FlashLedger/internal/core"
	"FlashLedger/internal/event"
	"FlashLedger/internal/state"
)

func TestPlaceholders(t *testing.T) {
	if got := placeholders(0, 3); got != "($1, $2, $3)" {
		t.Errorf("placeholders(0, 3) = %q", got)
	}
	if got := placeholders(8, 2); got != "($9, $10)" {
		t.Errorf("placeholders(8, 2) = %q", got)
	}
}

func TestU64_HighBit(t *testing.T) {
	if got := u64(math.MaxUint64); got != "18446744073709551615" {
		t.Errorf("u64(MaxUint64) = %q", got)
	}
}

func TestCollectBatch_LatestAccountPerOwner(t *testing.T) {
	var alice, bob state.Principal
	alice[0], bob[0] = 1, 2

	out := func(seq int64, acct *state.TraderAccount) core.CoreOutput {
		return core.CoreOutput{
			Envelope: &event.EventEnvelope{Sequence: seq, EventType: event.EventTypeStake},
			Account:  acct,
		}
	}

	batch := []core.CoreOutput{
		out(1, &state.TraderAccount{Owner: alice, StakedAmount: 10}),
		out(2, &state.TraderAccount{Owner: bob, StakedAmount: 5}),
		out(3, nil),
		out(4, &state.TraderAccount{Owner: alice, StakedAmount: 30}),
	}

	events, accounts := collectBatch(batch)
	if len(events) != 4 {
		t.Fatalf("expected 4 event rows, got %d", len(events))
	}
	if len(accounts) != 2 {
		t.Fatalf("expected 2 account rows, got %d", len(accounts))
	}
	if accounts[0].Account.Owner != alice || accounts[0].Sequence != 4 || accounts[0].Account.StakedAmount != 30 {
		t.Errorf("alice row = %+v, want latest (seq 4, staked 30)", accounts[0])
	}
	if accounts[1].Account.Owner != bob || accounts[1].Sequence != 2 {
		t.Errorf("bob row = %+v", accounts[1])
	}
}

func TestEventRowFromEnvelope(t *testing.T) {
	var caller state.Principal
	caller[0] = 9
	env := &event.EventEnvelope{
		Sequence:       7,
		IdempotencyKey: "k",
		EventType:      event.EventTypeAdjustLeverage,
		Caller:         caller,
		Timestamp:      1234,
		Payload:        []byte(`{}`),
	}
	env.StateHash[0] = 0xAB
	env.PrevHash[0] = 0xCD

	row := EventRowFromEnvelope(env)
	if row.EventType != "AdjustLeverageBasedOnReputation" {
		t.Errorf("event type = %q", row.EventType)
	}
	if row.Caller != caller.String() {
		t.Errorf("caller = %q", row.Caller)
	}
	if row.StateHash[0] != 0xAB || row.PrevHash[0] != 0xCD || len(row.StateHash) != 32 {
		t.Errorf("hashes not copied")
	}
	if row.ExecutedAt != 1234 {
		t.Errorf("executed_at = %d", row.ExecutedAt)
	}
}
