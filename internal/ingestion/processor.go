package ingestion

import (
	"context"

	"FlashLedger/internal/core"
	"FlashLedger/internal/event"
	"FlashLedger/internal/observability"
	"FlashLedger/internal/state"

	"github.com/rs/zerolog"
)

// Executor runs one command. *core.Engine satisfies it.
type Executor interface {
	Execute(ctx context.Context, cmd event.Command) (*core.Receipt, error)
}

// CommandProcessor drains raw messages, executes them and settles the
// message:
//   - malformed: Term
//   - custody transfer failed: Nak, the transfer may succeed on redelivery
//   - committed, duplicate or rejected by a ledger rule: Ack
type CommandProcessor struct {
	exec      Executor
	inputChan <-chan RawEvent
	metrics   *observability.Metrics
	log       zerolog.Logger
}

func NewCommandProcessor(exec Executor, inputChan <-chan RawEvent, metrics *observability.Metrics, log zerolog.Logger) *CommandProcessor {
	return &CommandProcessor{
		exec:      exec,
		inputChan: inputChan,
		metrics:   metrics,
		log:       log,
	}
}

// Run processes messages until ctx is cancelled or the channel is closed.
func (p *CommandProcessor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-p.inputChan:
			if !ok {
				return nil
			}
			p.Handle(ctx, raw)
		}
	}
}

// Handle processes one message and returns its outcome label.
func (p *CommandProcessor) Handle(ctx context.Context, raw RawEvent) string {
	cmd, err := ParseRawEvent(raw)
	if err != nil {
		p.log.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping malformed command")
		p.count("unknown", "malformed")
		call(raw.TermFunc)
		return "malformed"
	}
	eventType := cmd.EventType().String()

	receipt, err := p.exec.Execute(ctx, cmd)
	switch {
	case err == nil && receipt.Duplicate:
		p.count(eventType, "duplicate")
		call(raw.AckFunc)
		return "duplicate"
	case err == nil:
		p.count(eventType, "applied")
		call(raw.AckFunc)
		return "applied"
	case state.Retryable(err):
		p.log.Warn().Err(err).Str("event_type", eventType).Str("command_id", cmd.IdempotencyKey()).Msg("transient failure, requesting redelivery")
		p.count(eventType, "retry")
		call(raw.NakFunc)
		return "retry"
	default:
		p.log.Info().Err(err).Str("event_type", eventType).Str("command_id", cmd.IdempotencyKey()).Msg("command rejected")
		p.count(eventType, "rejected")
		call(raw.AckFunc)
		return "rejected"
	}
}

func (p *CommandProcessor) count(eventType, outcome string) {
	if p.metrics != nil {
		p.metrics.IngestMessages.WithLabelValues(eventType, outcome).Inc()
	}
}

func call(fn func()) {
	if fn != nil {
		fn()
	}
}
