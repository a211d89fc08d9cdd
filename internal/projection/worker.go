package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"FlashLedger/internal/core"
	"FlashLedger/internal/observability"

	"github.com/rs/zerolog"
)

// MainWorkerID is the watermark row of the live projection worker.
const MainWorkerID = "main"

// ProjectionWorker updates the history tables from committed commands.
// The projection channel is non-blocking with drop; a lagging projection is
// repaired with RebuildProjections.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	lastSeq   int64
	metrics   *observability.Metrics
	log       zerolog.Logger
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, metrics *observability.Metrics, log zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		log:       log,
	}
}

// Run applies outputs until ctx is cancelled or the channel is closed.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			seq := output.Envelope.Sequence
			if pw.lastSeq != 0 && seq != pw.lastSeq+1 {
				pw.log.Warn().
					Int64("expected", pw.lastSeq+1).
					Int64("got", seq).
					Msg("projection gap, outputs were dropped; rebuild to repair")
			}

			if err := pw.processOutput(ctx, output); err != nil {
				// Eventually consistent; RebuildProjections repairs it.
				pw.log.Warn().Err(err).Int64("sequence", seq).Msg("projection update failed")
			}
			pw.lastSeq = seq
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output core.CoreOutput) error {
	start := time.Now()
	name := projectionName(output.Receipt)

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := applyReceipt(ctx, tx, output.Receipt); err != nil {
		return err
	}
	if err := updateWatermark(ctx, tx, MainWorkerID, output.Envelope.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if pw.metrics != nil && name != "" {
		pw.metrics.ProjectionUpdateDur.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
	return nil
}

// applyReceipt writes whichever history row the receipt carries.
func applyReceipt(ctx context.Context, ex execer, r *core.Receipt) error {
	if r == nil {
		return nil
	}
	if r.Funding != nil {
		if err := insertFunding(ctx, ex, r.Funding); err != nil {
			return fmt.Errorf("funding history: %w", err)
		}
	}
	if r.Liquidation != nil {
		if err := insertLiquidation(ctx, ex, r.Liquidation); err != nil {
			return fmt.Errorf("liquidation history: %w", err)
		}
	}
	if r.Hedge != nil {
		if err := insertHedge(ctx, ex, r.Hedge); err != nil {
			return fmt.Errorf("hedge history: %w", err)
		}
	}
	return nil
}

func projectionName(r *core.Receipt) string {
	switch {
	case r == nil:
		return ""
	case r.Funding != nil:
		return "funding_history"
	case r.Liquidation != nil:
		return "liquidation_history"
	case r.Hedge != nil:
		return "hedge_history"
	}
	return ""
}
