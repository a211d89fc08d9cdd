package persistence_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"FlashLedger/internal/core"
	"FlashLedger/internal/event"
	"FlashLedger/internal/observability"
	"FlashLedger/internal/persistence"
	"FlashLedger/internal/state"
	"FlashLedger/internal/testutil"

	"github.com/google/uuid"
)

var (
	admin = testutil.Principal(1)
	vault = testutil.Principal(2)
	alice = testutil.Principal(10)
	bob   = testutil.Principal(11)
)

func meta(caller state.Principal) event.Meta {
	return event.Meta{CommandID: uuid.New(), Signer: caller}
}

func migrate(t *testing.T, ctx context.Context) (cleanup func(), sm *persistence.SnapshotManager, checker func() *persistence.PostgresIdempotencyChecker) {
	t.Helper()
	testutil.RequireIntegration(t)
	conn, done := testutil.SetupTestDB(t)
	if err := persistence.NewMigrator(conn, testutil.MigrationsDir, observability.NopLogger()).Up(ctx); err != nil {
		done()
		t.Fatalf("migrate up: %v", err)
	}
	// start from an empty log even if an earlier run was interrupted
	testutil.ResetTables(conn)
	return done, persistence.NewSnapshotManager(conn), func() *persistence.PostgresIdempotencyChecker {
		return persistence.NewPostgresIdempotencyChecker(conn)
	}
}

// runEngine executes cmds against a fresh engine and persists every output
// through a PersistenceWorker with a small batch size.
func runEngine(t *testing.T, ctx context.Context, sm *persistence.SnapshotManager, cmds []event.Command) *core.Engine {
	t.Helper()
	persist := make(chan core.CoreOutput, len(cmds))
	clock := testutil.NewFakeClock(1_000)
	eng, err := core.NewEngine(core.Options{Vault: vault}, core.Deps{
		Clock:       clock,
		Custody:     &testutil.RecordingTransferer{},
		PersistChan: persist,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	for _, cmd := range cmds {
		if _, err := eng.Execute(ctx, cmd); err != nil {
			t.Fatalf("%s: %v", cmd.EventType(), err)
		}
		clock.Advance(60)
	}
	close(persist)

	worker := persistence.NewPersistenceWorker(sm.DB(), persist, 2, 50*time.Millisecond, nil, observability.NopLogger())
	if err := worker.Run(ctx); err != nil {
		t.Fatalf("worker run: %v", err)
	}
	return eng
}

func scenario() []event.Command {
	return []event.Command{
		&event.Initialize{Meta: meta(admin), GlobalParams: state.GlobalParams{
			FeeRate: 1, MaintenanceMargin: 150, MinStakeDuration: 30, ExecutionFee: 5,
		}},
		&event.AddAuthorizedLiquidator{Meta: meta(admin), Liquidator: testutil.Principal(20)},
		&event.Stake{Meta: meta(alice), Amount: 1_000},
		&event.Stake{Meta: meta(bob), Amount: 400},
		&event.OpenPosition{Meta: meta(alice), Leverage: 3, Amount: 100},
		&event.Stake{Meta: meta(alice), Amount: 50},
	}
}

// ====== Test: Persisted records restore the engine ======

func TestPersistence_SnapshotMatchesEngine(t *testing.T) {
	ctx := context.Background()
	cleanup, sm, _ := migrate(t, ctx)
	defer cleanup()

	eng := runEngine(t, ctx, sm, scenario())
	want := eng.CreateSnapshotState()

	got, err := sm.LoadSnapshot(ctx, 1000)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if got == nil {
		t.Fatal("expected a snapshot, got nil")
	}
	if got.Sequence != want.Sequence {
		t.Errorf("sequence: expected %d, got %d", want.Sequence, got.Sequence)
	}
	if got.StateHash != want.StateHash {
		t.Errorf("state hash mismatch")
	}
	if *got.Global != *want.Global {
		t.Errorf("global ledger mismatch:\n got %+v\nwant %+v", *got.Global, *want.Global)
	}
	if len(got.Accounts) != len(want.Accounts) {
		t.Fatalf("accounts: expected %d, got %d", len(want.Accounts), len(got.Accounts))
	}
	byOwner := make(map[state.Principal]state.TraderAccount)
	for _, a := range got.Accounts {
		byOwner[a.Owner] = a
	}
	for _, a := range want.Accounts {
		if byOwner[a.Owner] != a {
			t.Errorf("account %s: expected %+v, got %+v", a.Owner, a, byOwner[a.Owner])
		}
	}
	if len(got.IdempotencyKeys) != len(want.IdempotencyKeys) {
		t.Fatalf("idempotency keys: expected %d, got %d", len(want.IdempotencyKeys), len(got.IdempotencyKeys))
	}
	for i := range want.IdempotencyKeys {
		if got.IdempotencyKeys[i] != want.IdempotencyKeys[i] {
			t.Errorf("key %d: expected %s, got %s", i, want.IdempotencyKeys[i], got.IdempotencyKeys[i])
		}
	}
}

func TestPersistence_RestoredEngineRejectsReplay(t *testing.T) {
	ctx := context.Background()
	cleanup, sm, checker := migrate(t, ctx)
	defer cleanup()

	cmds := scenario()
	runEngine(t, ctx, sm, cmds)

	snap, err := sm.LoadSnapshot(ctx, 0)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}

	// No warm keys: the duplicate must be caught by the Postgres tier.
	restored, err := core.NewEngine(core.Options{Vault: vault}, core.Deps{
		Custody:   &testutil.RecordingTransferer{},
		DBChecker: checker(),
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	restored.RestoreFromSnapshot(snap)

	r, err := restored.Execute(ctx, cmds[2])
	if err != nil {
		t.Fatalf("replayed stake: %v", err)
	}
	if !r.Duplicate {
		t.Error("expected replayed command to be reported as duplicate")
	}
	if restored.GetSequence() != snap.Sequence {
		t.Errorf("sequence moved on duplicate: %d -> %d", snap.Sequence, restored.GetSequence())
	}

	// A new command continues the chain where the log stopped.
	if _, err := restored.Execute(ctx, &event.Stake{Meta: meta(bob), Amount: 1}); err != nil {
		t.Fatalf("stake after restore: %v", err)
	}
	if restored.GetSequence() != snap.Sequence+1 {
		t.Errorf("expected sequence %d, got %d", snap.Sequence+1, restored.GetSequence())
	}

	// Command ids are scoped per caller in the Postgres tier too.
	reused := *cmds[2].(*event.Stake)
	reused.Signer = bob
	r, err = restored.Execute(ctx, &reused)
	if err != nil {
		t.Fatalf("stake with reused id: %v", err)
	}
	if r.Duplicate {
		t.Error("another caller's command id must not be a duplicate")
	}
}

func TestPersistence_VerifyChain(t *testing.T) {
	ctx := context.Background()
	cleanup, sm, _ := migrate(t, ctx)
	defer cleanup()

	runEngine(t, ctx, sm, scenario())

	n, err := sm.VerifyChain(ctx, 4)
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if n != int64(len(scenario())) {
		t.Errorf("expected %d events checked, got %d", len(scenario()), n)
	}

	if _, err := sm.DB().ExecContext(ctx,
		`UPDATE event_log.events SET prev_hash = $1 WHERE sequence = 3`, make([]byte, 32),
	); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	if _, err := sm.VerifyChain(ctx, 4); !errors.Is(err, persistence.ErrChainBroken) {
		t.Errorf("expected ErrChainBroken, got %v", err)
	}
}

func TestPersistence_EmptyDatabase(t *testing.T) {
	ctx := context.Background()
	cleanup, sm, checker := migrate(t, ctx)
	defer cleanup()

	snap, err := sm.LoadSnapshot(ctx, 10)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if snap != nil {
		t.Errorf("expected nil snapshot on empty database, got %+v", snap)
	}

	dup, err := checker().IsDuplicate(event.EventTypeStake.String(), alice.String(), uuid.NewString())
	if err != nil {
		t.Fatalf("IsDuplicate: %v", err)
	}
	if dup {
		t.Error("expected unknown key to be new")
	}
}
