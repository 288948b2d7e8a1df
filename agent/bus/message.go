package bus

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/careerflow/types"
)

// Kind 消息类型
type Kind string

const (
	KindRequest      Kind = "request"
	KindResponse     Kind = "response"
	KindError        Kind = "error"
	KindStatusUpdate Kind = "status_update"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindRequest, KindResponse, KindError, KindStatusUpdate:
		return true
	default:
		return false
	}
}

// Broadcast is the recipient marker delivered to every subscriber except the sender.
const Broadcast = "*"

// SenderBus is the sender name used for failures the bus reports itself.
const SenderBus = "bus"

// Payload keys used by bus-originated error messages.
const (
	KeyError             = "error"
	KeyOriginalMessageID = "original_message_id"
	KeySubscriber        = "subscriber"
)

// Message 总线上的一条消息，创建后不可修改
type Message struct {
	ID            string        `json:"id"`
	Sender        string        `json:"sender"`
	Recipient     string        `json:"recipient"`
	Kind          Kind          `json:"kind"`
	Payload       types.Payload `json:"payload,omitempty"`
	CorrelationID string        `json:"correlation_id"`
	CreatedAt     time.Time     `json:"created_at"`
}

// NewMessage builds a message with a fresh ID and timestamp.
func NewMessage(sender, recipient string, kind Kind, correlationID string, payload types.Payload) Message {
	return Message{
		ID:            uuid.NewString(),
		Sender:        sender,
		Recipient:     recipient,
		Kind:          kind,
		Payload:       payload.Clone(),
		CorrelationID: correlationID,
		CreatedAt:     time.Now().UTC(),
	}
}

// Reply addresses a new message back to m's sender under the same correlation ID.
func (m Message) Reply(sender string, kind Kind, payload types.Payload) Message {
	return NewMessage(sender, m.Sender, kind, m.CorrelationID, payload)
}

// IsBroadcast 是否为广播消息
func (m Message) IsBroadcast() bool {
	return m.Recipient == Broadcast
}

func (m Message) clone() Message {
	m.Payload = m.Payload.Clone()
	return m
}

func (m Message) validate() error {
	switch {
	case m.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidMessage)
	case m.Recipient == "":
		return fmt.Errorf("%w: missing recipient", ErrInvalidMessage)
	case !m.Kind.Valid():
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMessage, m.Kind)
	}
	return nil
}
