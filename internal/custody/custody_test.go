package custody_test

import (
	"context"
	"errors"
	"testing"

	"FlashLedger/internal/custody"
	"FlashLedger/internal/state"

	"github.com/google/uuid"
)

func TestMemoryVault_Transfer(t *testing.T) {
	var alice, vault state.Principal
	alice[0], vault[0] = 1, 2

	v := custody.NewMemoryVault()
	v.Fund(alice, 100)

	if err := v.Transfer(context.Background(), uuid.New(), 60, alice, vault); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := v.Balance(alice); got != 40 {
		t.Errorf("alice: got %d, want 40", got)
	}
	if got := v.Balance(vault); got != 60 {
		t.Errorf("vault: got %d, want 60", got)
	}

	err := v.Transfer(context.Background(), uuid.New(), 41, alice, vault)
	if !errors.Is(err, custody.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := v.Balance(alice); got != 40 {
		t.Errorf("failed transfer moved funds: alice has %d", got)
	}
}

func TestMemoryVault_Lenient(t *testing.T) {
	var alice, vault state.Principal
	alice[0], vault[0] = 1, 2

	v := custody.NewLenientVault()
	if err := v.Transfer(context.Background(), uuid.New(), 500, alice, vault); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if v.Balance(alice) != 0 || v.Balance(vault) != 500 {
		t.Errorf("balances: alice=%d vault=%d, want 0/500", v.Balance(alice), v.Balance(vault))
	}
}

func TestMemoryVault_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	v := custody.NewLenientVault()
	if err := v.Transfer(ctx, uuid.New(), 1, state.Principal{1}, state.Principal{2}); err == nil {
		t.Error("expected error on cancelled context")
	}
}

func TestTransferID_StablePerCommand(t *testing.T) {
	var alice, bob state.Principal
	alice[0], bob[0] = 1, 2
	cmd := uuid.NewString()

	first := custody.TransferID(alice, cmd, "stake")
	if again := custody.TransferID(alice, cmd, "stake"); again != first {
		t.Errorf("same command gave %s then %s", first, again)
	}
	others := map[string]uuid.UUID{
		"other purpose": custody.TransferID(alice, cmd, "liquidator_reward"),
		"other caller":  custody.TransferID(bob, cmd, "stake"),
		"other command": custody.TransferID(alice, uuid.NewString(), "stake"),
	}
	for name, id := range others {
		if id == first {
			t.Errorf("%s: transfer id collides with %s", name, first)
		}
	}
}
