package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"FlashLedger/internal/event"
	"FlashLedger/internal/state"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// EventLogWriter writes the event log and the durable ledger records using
// multi-row INSERTs. Every method takes the execer so a batch can share one
// transaction.
type EventLogWriter struct{}

// EventRow represents a row in event_log.events
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	Caller         string
	Payload        []byte // JSON-encoded command
	StateHash      []byte
	PrevHash       []byte
	ExecutedAt     int64
}

// EventRowFromEnvelope flattens an envelope for storage.
func EventRowFromEnvelope(env *event.EventEnvelope) EventRow {
	return EventRow{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Caller:         env.Caller.String(),
		Payload:        env.Payload,
		StateHash:      env.StateHash[:],
		PrevHash:       env.PrevHash[:],
		ExecutedAt:     env.Timestamp,
	}
}

func NewEventLogWriter() *EventLogWriter {
	return &EventLogWriter{}
}

// WriteEventBatch writes a batch of events to event_log.events.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, ex execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.events
		(sequence, event_type, idempotency_key, caller, payload, state_hash, prev_hash, executed_at)
		VALUES `

	const cols = 8
	values := make([]string, 0, len(events))
	args := make([]any, 0, len(events)*cols)

	for i, e := range events {
		values = append(values, placeholders(i*cols, cols))
		// payload goes in as text; lib/pq would send []byte as bytea
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey, e.Caller,
			string(e.Payload), e.StateHash, e.PrevHash, e.ExecutedAt,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// UpsertGlobal stores the global ledger record at sequence seq.
func (w *EventLogWriter) UpsertGlobal(ctx context.Context, ex execer, seq int64, stateHash []byte, g *state.GlobalLedger) error {
	record, err := g.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode global ledger: %w", err)
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO ledger.global_state
			(id, sequence, state_hash, record, admin, fee_rate, maintenance_margin,
			 min_stake_duration, execution_fee, total_liquidity, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (id) DO UPDATE SET
			sequence = EXCLUDED.sequence,
			state_hash = EXCLUDED.state_hash,
			record = EXCLUDED.record,
			admin = EXCLUDED.admin,
			fee_rate = EXCLUDED.fee_rate,
			maintenance_margin = EXCLUDED.maintenance_margin,
			min_stake_duration = EXCLUDED.min_stake_duration,
			execution_fee = EXCLUDED.execution_fee,
			total_liquidity = EXCLUDED.total_liquidity,
			updated_at = NOW()
		WHERE ledger.global_state.sequence < EXCLUDED.sequence
	`, seq, stateHash, record, g.Admin.String(),
		u64(g.FeeRate), u64(g.MaintenanceMargin), g.MinStakeDuration,
		u64(g.ExecutionFee), u64(g.TotalLiquidity),
	)
	return err
}

// AccountRow is one trader record and the sequence that last touched it.
type AccountRow struct {
	Sequence int64
	Account  state.TraderAccount
}

// UpsertAccounts stores trader records. Owners must be unique within a call.
func (w *EventLogWriter) UpsertAccounts(ctx context.Context, ex execer, rows []AccountRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO ledger.trader_accounts
		(owner, record, staked_amount, open_position, stake_timestamp, last_sequence)
		VALUES `

	const cols = 6
	values := make([]string, 0, len(rows))
	args := make([]any, 0, len(rows)*cols)

	for i, r := range rows {
		record, err := r.Account.MarshalBinary()
		if err != nil {
			return fmt.Errorf("encode account %s: %w", r.Account.Owner, err)
		}
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			r.Account.Owner.String(), record,
			u64(r.Account.StakedAmount), u64(r.Account.OpenPosition),
			r.Account.StakeTimestamp, r.Sequence,
		)
	}

	query += strings.Join(values, ", ")
	query += ` ON CONFLICT (owner) DO UPDATE SET
		record = EXCLUDED.record,
		staked_amount = EXCLUDED.staked_amount,
		open_position = EXCLUDED.open_position,
		stake_timestamp = EXCLUDED.stake_timestamp,
		last_sequence = EXCLUDED.last_sequence,
		updated_at = NOW()
		WHERE ledger.trader_accounts.last_sequence < EXCLUDED.last_sequence`

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// placeholders renders "($n+1, ..., $n+cols)".
func placeholders(base, cols int) string {
	var b strings.Builder
	b.WriteByte('(')
	for c := 1; c <= cols; c++ {
		if c > 1 {
			b.WriteString(", ")
		}
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(base + c))
	}
	b.WriteByte(')')
	return b.String()
}

// u64 renders a uint64 for a NUMERIC(20,0) column. database/sql rejects
// uint64 values with the high bit set.
func u64(v uint64) string {
	return strconv.FormatUint(v, 10)
}
