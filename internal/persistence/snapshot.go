package persistence

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"FlashLedger/internal/core"
	"FlashLedger/internal/state"
)

// ErrChainBroken is returned when the stored event log does not link up.
var ErrChainBroken = errors.New("persistence: event log hash chain broken")

// SnapshotManager rebuilds the engine's in-memory state from the durable
// records. The records are rewritten in the same transaction as every event
// batch, so the stored state always matches the event log tip.
type SnapshotManager struct {
	db *sql.DB
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// DB returns the underlying handle.
func (sm *SnapshotManager) DB() *sql.DB {
	return sm.db
}

// LoadSnapshot reads the global record, every trader account and the newest
// keyLimit idempotency keys. Returns nil on a fresh database.
func (sm *SnapshotManager) LoadSnapshot(ctx context.Context, keyLimit int) (*core.SnapshotState, error) {
	var (
		seq       int64
		stateHash []byte
		record    []byte
	)
	err := sm.db.QueryRowContext(ctx, `
		SELECT sequence, state_hash, record FROM ledger.global_state WHERE id = 1
	`).Scan(&seq, &stateHash, &record)
	if errors.Is(err, sql.ErrNoRows) {
		tip, err := sm.GetLatestSequence(ctx)
		if err != nil {
			return nil, err
		}
		if tip != 0 {
			return nil, fmt.Errorf("event log at sequence %d but no global record", tip)
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load global record: %w", err)
	}

	var global state.GlobalLedger
	if err := global.UnmarshalBinary(record); err != nil {
		return nil, fmt.Errorf("decode global record: %w", err)
	}

	snap := &core.SnapshotState{
		Sequence: seq,
		Global:   &global,
	}
	if len(stateHash) != len(snap.StateHash) {
		return nil, fmt.Errorf("global record state hash has %d bytes", len(stateHash))
	}
	copy(snap.StateHash[:], stateHash)

	tip, err := sm.GetLatestSequence(ctx)
	if err != nil {
		return nil, err
	}
	if tip != seq {
		return nil, fmt.Errorf("global record at sequence %d, event log at %d", seq, tip)
	}

	if snap.Accounts, err = sm.loadAccounts(ctx); err != nil {
		return nil, err
	}

	if keyLimit > 0 {
		keys, err := NewPostgresIdempotencyChecker(sm.db).RecentKeys(ctx, keyLimit)
		if err != nil {
			return nil, fmt.Errorf("load idempotency keys: %w", err)
		}
		snap.IdempotencyKeys = keys
	}

	return snap, nil
}

func (sm *SnapshotManager) loadAccounts(ctx context.Context) ([]state.TraderAccount, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT record FROM ledger.trader_accounts ORDER BY owner
	`)
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	defer rows.Close()

	var accounts []state.TraderAccount
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, err
		}
		var acct state.TraderAccount
		if err := acct.UnmarshalBinary(record); err != nil {
			return nil, fmt.Errorf("decode account: %w", err)
		}
		accounts = append(accounts, acct)
	}
	return accounts, rows.Err()
}

// LoadEventsFrom loads up to limit events starting at fromSequence.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, caller, payload,
		       state_hash, prev_hash, executed_at
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var (
			e       EventRow
			payload string
		)
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.Caller,
			&payload, &e.StateHash, &e.PrevHash, &e.ExecutedAt,
		); err != nil {
			return nil, err
		}
		e.Payload = []byte(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// VerifyChain walks the event log in pages and checks that sequences are
// contiguous from 1 and that every prev_hash equals the state_hash before
// it. Returns the number of events checked.
func (sm *SnapshotManager) VerifyChain(ctx context.Context, pageSize int) (int64, error) {
	if pageSize <= 0 {
		pageSize = 1000
	}
	genesis := core.GenesisHash()
	prev := genesis[:]
	next := int64(1)

	for {
		page, err := sm.LoadEventsFrom(ctx, next, pageSize)
		if err != nil {
			return next - 1, err
		}
		for _, e := range page {
			if e.Sequence != next {
				return next - 1, fmt.Errorf("%w: expected sequence %d, found %d", ErrChainBroken, next, e.Sequence)
			}
			if !bytes.Equal(e.PrevHash, prev) {
				return next - 1, fmt.Errorf("%w: prev_hash mismatch at sequence %d", ErrChainBroken, e.Sequence)
			}
			prev = e.StateHash
			next++
		}
		if len(page) < pageSize {
			return next - 1, nil
		}
	}
}
