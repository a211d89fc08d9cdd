package custody

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"FlashLedger/internal/state"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// DefaultTransferSubject is the request/reply subject served by the
// external custody service.
const DefaultTransferSubject = "flash.custody.transfer"

// TransferRequest is the request body sent to the custody service. A retry
// of the same command repeats TransferID; the service must apply a given id
// at most once and answer OK for a repeat.
type TransferRequest struct {
	TransferID uuid.UUID       `json:"transfer_id"`
	Amount     uint64          `json:"amount"`
	From       state.Principal `json:"from"`
	To         state.Principal `json:"to"`
}

// TransferReply is the custody service response.
type TransferReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// NATSTransferer delegates transfers to a custody service over NATS
// request/reply. The request deadline comes from ctx.
type NATSTransferer struct {
	nc      *nats.Conn
	subject string
}

func NewNATSTransferer(nc *nats.Conn, subject string) *NATSTransferer {
	if subject == "" {
		subject = DefaultTransferSubject
	}
	return &NATSTransferer{nc: nc, subject: subject}
}

func (t *NATSTransferer) Transfer(ctx context.Context, id uuid.UUID, amount uint64, from, to state.Principal) error {
	data, err := json.Marshal(TransferRequest{
		TransferID: id,
		Amount:     amount,
		From:       from,
		To:         to,
	})
	if err != nil {
		return fmt.Errorf("marshal transfer: %w", err)
	}

	msg, err := t.nc.RequestWithContext(ctx, t.subject, data)
	if err != nil {
		return fmt.Errorf("custody request: %w", err)
	}

	var reply TransferReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return fmt.Errorf("custody reply: %w", err)
	}
	if !reply.OK {
		if reply.Error == "" {
			reply.Error = "rejected"
		}
		return errors.New(reply.Error)
	}
	return nil
}
