package events

import (
	"encoding/json"
	"fmt"

	"github.com/parishlink/messaging/internal/types"
)

// Push event type tags as they appear on the wire.
const (
	TypeConnectionEstablished = "connection_established"
	TypeHeartbeat             = "heartbeat"
	TypeConnectionTest        = "connection_test"
	TypeNewMessage            = "new_message"
	TypeMessagesRead          = "messages_read"
	TypeConversationUpdated   = "conversation_updated"
	TypeNewBroadcastMessage   = "new_broadcast_message"
	TypeNewBroadcastChannel   = "new_broadcast_channel"
	TypeNewConversation       = "new_conversation"
	TypeTypingStart           = "typing_start"
	TypeTypingStop            = "typing_stop"
	TypeMessageReaction       = "message_reaction"
	TypeCallOffer             = "call_offer"
	TypeCallAnswer            = "call_answer"
	TypeCallConnected         = "call_connected"
	TypeCallEnded             = "call_ended"
)

// Envelope is the wire framing for every inbound push event.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Event is one decoded push event. The concrete type carries the payload;
// Name returns the wire tag it was decoded from.
type Event interface {
	Name() string
}

type ConnectionEstablished struct {
	SessionId string `json:"session_id,omitempty"`
}

type Heartbeat struct{}

type ConnectionTest struct{}

type NewMessage struct {
	Message types.Message
}

type NewBroadcastMessage struct {
	Message types.Message
}

type MessagesRead struct {
	ConversationId string `json:"conversation_id"`
	UserId         string `json:"user_id"`
}

type ConversationUpdated struct {
	Conversation types.Conversation
}

type NewConversation struct {
	Conversation types.Conversation
}

type NewBroadcastChannel struct {
	Conversation types.Conversation
}

type TypingStart struct {
	ConversationId string `json:"conversation_id"`
	UserId         string `json:"user_id"`
}

type TypingStop struct {
	ConversationId string `json:"conversation_id"`
	UserId         string `json:"user_id"`
}

type MessageReaction struct {
	ConversationId string              `json:"conversation_id"`
	MessageId      string              `json:"message_id"`
	Reactions      map[string][]string `json:"reactions"`
}

type CallOffer struct {
	CallId   string     `json:"call_id"`
	From     types.User `json:"from"`
	CallType string     `json:"call_type"`
}

type CallAnswer struct {
	CallId   string `json:"call_id"`
	Accepted bool   `json:"accepted"`
}

type CallConnected struct {
	CallId string `json:"call_id"`
}

type CallEnded struct {
	CallId string `json:"call_id"`
	Reason string `json:"reason,omitempty"`
}

func (ConnectionEstablished) Name() string { return TypeConnectionEstablished }
func (Heartbeat) Name() string             { return TypeHeartbeat }
func (ConnectionTest) Name() string        { return TypeConnectionTest }
func (NewMessage) Name() string            { return TypeNewMessage }
func (NewBroadcastMessage) Name() string   { return TypeNewBroadcastMessage }
func (MessagesRead) Name() string          { return TypeMessagesRead }
func (ConversationUpdated) Name() string   { return TypeConversationUpdated }
func (NewConversation) Name() string       { return TypeNewConversation }
func (NewBroadcastChannel) Name() string   { return TypeNewBroadcastChannel }
func (TypingStart) Name() string           { return TypeTypingStart }
func (TypingStop) Name() string            { return TypeTypingStop }
func (MessageReaction) Name() string       { return TypeMessageReaction }
func (CallOffer) Name() string             { return TypeCallOffer }
func (CallAnswer) Name() string            { return TypeCallAnswer }
func (CallConnected) Name() string         { return TypeCallConnected }
func (CallEnded) Name() string             { return TypeCallEnded }

// Decode turns the envelope into its typed event. Every recognized tag is
// handled here; the transport is the only caller, so an unknown or
// malformed payload surfaces as an error it logs and drops.
func (e *Envelope) Decode() (Event, error) {
	unmarshal := func(v any) error {
		if len(e.Data) == 0 {
			return nil
		}
		if err := json.Unmarshal(e.Data, v); err != nil {
			return fmt.Errorf("decode %s payload: %w", e.Type, err)
		}
		return nil
	}

	switch e.Type {
	case TypeConnectionEstablished:
		var ev ConnectionEstablished
		return ev, unmarshal(&ev)
	case TypeHeartbeat:
		return Heartbeat{}, nil
	case TypeConnectionTest:
		return ConnectionTest{}, nil
	case TypeNewMessage:
		var ev NewMessage
		return ev, unmarshal(&ev.Message)
	case TypeNewBroadcastMessage:
		var ev NewBroadcastMessage
		return ev, unmarshal(&ev.Message)
	case TypeMessagesRead:
		var ev MessagesRead
		return ev, unmarshal(&ev)
	case TypeConversationUpdated:
		var ev ConversationUpdated
		return ev, unmarshal(&ev.Conversation)
	case TypeNewConversation:
		var ev NewConversation
		return ev, unmarshal(&ev.Conversation)
	case TypeNewBroadcastChannel:
		var ev NewBroadcastChannel
		return ev, unmarshal(&ev.Conversation)
	case TypeTypingStart:
		var ev TypingStart
		return ev, unmarshal(&ev)
	case TypeTypingStop:
		var ev TypingStop
		return ev, unmarshal(&ev)
	case TypeMessageReaction:
		var ev MessageReaction
		return ev, unmarshal(&ev)
	case TypeCallOffer:
		var ev CallOffer
		return ev, unmarshal(&ev)
	case TypeCallAnswer:
		var ev CallAnswer
		return ev, unmarshal(&ev)
	case TypeCallConnected:
		var ev CallConnected
		return ev, unmarshal(&ev)
	case TypeCallEnded:
		var ev CallEnded
		return ev, unmarshal(&ev)
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
}

// Encode wraps a payload in an envelope for the given type tag. Used by the
// dev server and tests to produce wire frames.
func Encode(name string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", name, err)
	}
	return Envelope{Type: name, Data: data}, nil
}
