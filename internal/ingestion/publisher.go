package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"FlashLedger/internal/core"
	"FlashLedger/internal/observability"
	"FlashLedger/internal/state"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	OutboundStreamName = "FLASH_LEDGER_EVENTS"

	// EventSubjectPrefix carries every committed command:
	// flash.ledger.events.<operation>.
	EventSubjectPrefix = "flash.ledger.events."

	// Notification subjects for downstream collaborators.
	LiquidationRewardSubject = "flash.ledger.notifications.liquidation_reward_issued"
	FundingAppliedSubject    = "flash.ledger.notifications.funding_applied"
	HedgeExecutedSubject     = "flash.ledger.notifications.hedge_executed"
)

// Publisher is the subset of jetstream.JetStream the publisher needs.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes committed commands after persistence confirmed
// them. Enqueue never blocks the persistence worker; a full queue drops and
// counts. Downstream consumers can always fall back to the event log.
type OutboundPublisher struct {
	js        Publisher
	inputChan chan core.CoreOutput
	metrics   *observability.Metrics
	log       zerolog.Logger
}

// PublishableEvent is the JSON body published on the events subjects.
type PublishableEvent struct {
	Sequence   int64           `json:"sequence"`
	EventType  string          `json:"event_type"`
	CommandID  string          `json:"command_id"`
	Caller     state.Principal `json:"caller"`
	StateHash  []byte          `json:"state_hash"`
	PrevHash   []byte          `json:"prev_hash"`
	ExecutedAt int64           `json:"executed_at"`
	Command    json.RawMessage `json:"command"`
	Receipt    *core.Receipt   `json:"receipt"`
}

func NewOutboundPublisher(js Publisher, bufferSize int, metrics *observability.Metrics, log zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: make(chan core.CoreOutput, bufferSize),
		metrics:   metrics,
		log:       log,
	}
}

// Enqueue queues persisted outputs. It has the shape of a persistence
// flush hook.
func (op *OutboundPublisher) Enqueue(_ context.Context, batch []core.CoreOutput) {
	for _, out := range batch {
		select {
		case op.inputChan <- out:
		default:
			if op.metrics != nil {
				op.metrics.PublishDrops.Inc()
				op.metrics.ProjectionDrops.WithLabelValues("publish").Inc()
			}
		}
	}
	if op.metrics != nil {
		op.metrics.SetChannelMetrics("publish", len(op.inputChan), cap(op.inputChan))
	}
}

// Run publishes queued outputs until ctx is cancelled.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out := <-op.inputChan:
			if err := op.publish(ctx, out); err != nil {
				op.log.Warn().Err(err).Int64("sequence", out.Envelope.Sequence).Msg("outbound publish failed")
				if op.metrics != nil {
					op.metrics.PublishDrops.Inc()
				}
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, out core.CoreOutput) error {
	env := out.Envelope
	evt := PublishableEvent{
		Sequence:   env.Sequence,
		EventType:  env.EventType.String(),
		CommandID:  env.IdempotencyKey,
		Caller:     env.Caller,
		StateHash:  env.StateHash[:],
		PrevHash:   env.PrevHash[:],
		ExecutedAt: env.Timestamp,
		Command:    json.RawMessage(env.Payload),
		Receipt:    out.Receipt,
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	seq := strconv.FormatInt(env.Sequence, 10)
	subject := EventSubjectPrefix + env.EventType.Token()
	if _, err := op.js.Publish(ctx, subject, data, jetstream.WithMsgID("evt-"+seq)); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	r := out.Receipt
	if r == nil {
		return nil
	}
	for _, n := range []struct {
		subject string
		body    any
		ok      bool
	}{
		{LiquidationRewardSubject, r.Liquidation, r.Liquidation != nil},
		{FundingAppliedSubject, r.Funding, r.Funding != nil},
		{HedgeExecutedSubject, r.Hedge, r.Hedge != nil},
	} {
		if !n.ok {
			continue
		}
		body, err := json.Marshal(n.body)
		if err != nil {
			return fmt.Errorf("marshal notification: %w", err)
		}
		if _, err := op.js.Publish(ctx, n.subject, body, jetstream.WithMsgID("ntf-"+seq)); err != nil {
			return fmt.Errorf("publish %s: %w", n.subject, err)
		}
	}
	return nil
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       OutboundStreamName,
		Subjects:   []string{"flash.ledger.>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 10 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Info().Str("stream", OutboundStreamName).Msg("ensured outbound stream")
	return nil
}
