package projection

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"

	"FlashLedger/internal/core"
	"FlashLedger/internal/custody"
	"FlashLedger/internal/event"
	"FlashLedger/internal/persistence"

	"github.com/rs/zerolog"
)

// RebuildWorkerID is the watermark row written by RebuildProjections.
const RebuildWorkerID = "rebuild"

// replayClock reports the executed_at of the event being replayed.
type replayClock struct {
	now atomic.Int64
}

func (c *replayClock) Now() int64 { return c.now.Load() }

// RebuildProjections truncates the history tables and refills them by
// replaying the whole event log through a fresh engine built with opts,
// which must match the live engine so derived fields such as the reward
// payout flag come out the same. Custody is not touched again: the replay
// engine uses an in-memory vault that accepts every transfer. Every replayed
// state hash must match the stored one. Returns the number of events replayed.
func RebuildProjections(ctx context.Context, db *sql.DB, opts core.Options, pageSize int, log zerolog.Logger) (int64, error) {
	if pageSize <= 0 {
		pageSize = 1000
	}

	for _, stmt := range []string{
		`TRUNCATE projections.funding_history`,
		`TRUNCATE projections.liquidation_history`,
		`TRUNCATE projections.hedge_history`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return 0, fmt.Errorf("truncate failed: %w", err)
		}
	}

	clock := &replayClock{}
	eng, err := core.NewEngine(opts, core.Deps{
		Clock:   clock,
		Custody: custody.NewLenientVault(),
		Logger:  &log,
	})
	if err != nil {
		return 0, err
	}

	sm := persistence.NewSnapshotManager(db)
	next := int64(1)
	for {
		page, err := sm.LoadEventsFrom(ctx, next, pageSize)
		if err != nil {
			return next - 1, fmt.Errorf("load events: %w", err)
		}

		for _, row := range page {
			if err := replayOne(ctx, db, eng, clock, row); err != nil {
				return next - 1, err
			}
			next = row.Sequence + 1
		}

		if len(page) < pageSize {
			break
		}
	}

	replayed := next - 1
	if replayed > 0 {
		if err := updateWatermark(ctx, db, RebuildWorkerID, replayed); err != nil {
			return replayed, fmt.Errorf("watermark update: %w", err)
		}
	}
	log.Info().Int64("events", replayed).Msg("projection rebuild complete")
	return replayed, nil
}

func replayOne(ctx context.Context, db *sql.DB, eng *core.Engine, clock *replayClock, row persistence.EventRow) error {
	et := event.ParseEventType(row.EventType)
	if et == event.EventTypeUnknown {
		return fmt.Errorf("sequence %d: unknown event type %q", row.Sequence, row.EventType)
	}
	cmd, err := event.Decode(et, row.Payload)
	if err != nil {
		return fmt.Errorf("sequence %d: %w", row.Sequence, err)
	}

	clock.now.Store(row.ExecutedAt)
	receipt, err := eng.Execute(ctx, cmd)
	if err != nil {
		return fmt.Errorf("sequence %d: replay rejected: %w", row.Sequence, err)
	}
	if receipt.Sequence != row.Sequence {
		return fmt.Errorf("sequence %d: replay assigned %d", row.Sequence, receipt.Sequence)
	}
	if !bytes.Equal(receipt.StateHash, row.StateHash) {
		return fmt.Errorf("sequence %d: %w", row.Sequence, persistence.ErrChainBroken)
	}

	return applyReceipt(ctx, db, receipt)
}
