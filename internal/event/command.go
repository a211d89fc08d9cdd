package event

import (
	"FlashLedger/internal/state"

	"github.com/google/uuid"
)

// Meta carries the fields every command shares. It is embedded so its JSON
// fields sit at the top level of each payload.
type Meta struct {
	CommandID uuid.UUID       `json:"command_id"`
	Signer    state.Principal `json:"caller"`
}

func (m *Meta) IdempotencyKey() string {
	return m.CommandID.String()
}

func (m *Meta) Caller() state.Principal {
	return m.Signer
}

// EnsureID assigns a fresh command id when the producer did not supply one.
// Such commands cannot be deduplicated on redelivery.
func (m *Meta) EnsureID() {
	if m.CommandID == uuid.Nil {
		m.CommandID = uuid.New()
	}
}

// metaCarrier lets codecs reach the embedded Meta of any command.
type metaCarrier interface {
	meta() *Meta
}

func (m *Meta) meta() *Meta { return m }

// MetaOf returns the shared fields of cmd.
func MetaOf(cmd Command) *Meta {
	if mc, ok := cmd.(metaCarrier); ok {
		return mc.meta()
	}
	return nil
}
