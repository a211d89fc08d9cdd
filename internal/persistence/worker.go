package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"FlashLedger/internal/core"
	"FlashLedger/internal/observability"
	"FlashLedger/internal/state"

	"github.com/rs/zerolog"
)

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// The core sends on this channel with a blocking send, so if the worker
// falls behind the core stalls and no committed command is lost.
type PersistenceWorker struct {
	db           *sql.DB
	writer       *EventLogWriter
	inputChan    <-chan core.CoreOutput
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger

	onFlush []FlushHook
}

// FlushHook runs after a batch commits. batch must not be retained; the
// elements may be copied.
type FlushHook func(ctx context.Context, batch []core.CoreOutput)

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *PersistenceWorker {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &PersistenceWorker{
		db:           db,
		writer:       NewEventLogWriter(),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          log,
	}
}

// OnFlush registers a hook called after every committed batch. Hooks run
// in registration order on the worker goroutine.
func (pw *PersistenceWorker) OnFlush(hook FlushHook) {
	pw.onFlush = append(pw.onFlush, hook)
}

// Run batches incoming outputs and flushes either when the batch is full or
// the flush timeout expires. Blocks until ctx is cancelled or the channel
// is closed.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	batch := make([]core.CoreOutput, 0, pw.batchSize)

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Graceful shutdown: flush remaining
			if len(batch) > 0 {
				if err := pw.flush(context.Background(), batch); err != nil {
					pw.log.Error().Err(err).Int("events", len(batch)).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				if len(batch) > 0 {
					if err := pw.flush(context.Background(), batch); err != nil {
						pw.log.Error().Err(err).Int("events", len(batch)).Msg("final flush failed")
					}
				}
				return nil
			}

			batch = append(batch, output)

			if len(batch) >= pw.batchSize {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					pw.log.Error().Err(err).Msg("batch flush failed after retries")
				}
				batch = batch[:0]
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					pw.log.Error().Err(err).Msg("timeout flush failed after retries")
				}
				batch = batch[:0]
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx is cancelled. The worker never drops a batch.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, batch []core.CoreOutput) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("events", len(batch)).
				Msg("persistence retry")
			if pw.metrics != nil {
				pw.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				// One last try on a fresh context so shutdown does not lose the batch.
				if err := pw.flush(context.Background(), batch); err != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := pw.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				pw.log.Info().Int("retries", attempt).Msg("persistence flush succeeded")
			}
			return nil
		}
		pw.log.Error().Err(err).Msg("persistence flush failed")
	}
}

// flush writes the event rows, the latest global record and the latest
// version of every touched account in one transaction.
func (pw *PersistenceWorker) flush(ctx context.Context, batch []core.CoreOutput) error {
	start := time.Now()
	events, accounts := collectBatch(batch)
	last := batch[len(batch)-1]

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		pw.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteEventBatch(ctx, tx, events); err != nil {
		pw.countError("write_events")
		return err
	}

	global := last.Global
	if err := pw.writer.UpsertGlobal(ctx, tx, last.Envelope.Sequence, last.Envelope.StateHash[:], &global); err != nil {
		pw.countError("upsert_global")
		return err
	}

	if err := pw.writer.UpsertAccounts(ctx, tx, accounts); err != nil {
		pw.countError("upsert_accounts")
		return err
	}

	if err := tx.Commit(); err != nil {
		pw.countError("tx_commit")
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(events)))
		pw.metrics.PersistEventsWritten.Add(float64(len(events)))
		pw.metrics.PersistLastSequence.Set(float64(last.Envelope.Sequence))
	}

	for _, hook := range pw.onFlush {
		hook(ctx, batch)
	}
	return nil
}

func (pw *PersistenceWorker) countError(op string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(op).Inc()
	}
}

// collectBatch flattens a batch into event rows and the newest record per
// touched owner, in first-touch order.
func collectBatch(batch []core.CoreOutput) ([]EventRow, []AccountRow) {
	events := make([]EventRow, 0, len(batch))
	index := make(map[state.Principal]int)
	var accounts []AccountRow

	for _, out := range batch {
		events = append(events, EventRowFromEnvelope(out.Envelope))
		if out.Account == nil {
			continue
		}
		row := AccountRow{Sequence: out.Envelope.Sequence, Account: *out.Account}
		if i, ok := index[out.Account.Owner]; ok {
			accounts[i] = row
			continue
		}
		index[out.Account.Owner] = len(accounts)
		accounts = append(accounts, row)
	}
	return events, accounts
}
