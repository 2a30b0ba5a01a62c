package types

import (
	"time"
)

type ConversationType string

const (
	ConversationDirect    ConversationType = "DIRECT"
	ConversationGroup     ConversationType = "GROUP"
	ConversationBroadcast ConversationType = "BROADCAST"
	ConversationChannel   ConversationType = "CHANNEL"
)

type User struct {
	Id        string `json:"id"`
	Name      string `json:"name"`
	AvatarUrl string `json:"avatar_url,omitempty"`
}

type ConversationSettings struct {
	OnlyAdminsCanPost bool `json:"only_admins_can_post,omitempty"`
	Muted             bool `json:"muted,omitempty"`
}

// MessageSummary is the denormalized last-message snapshot carried on a
// conversation so the list view never has to load the full message set.
type MessageSummary struct {
	Id        string    `json:"id"`
	SenderId  string    `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type Conversation struct {
	Id          string               `json:"id"`
	Type        ConversationType     `json:"type"`
	Name        string               `json:"name,omitempty"`
	Description string               `json:"description,omitempty"`
	Settings    ConversationSettings `json:"settings,omitempty"`
	LastMessage *MessageSummary      `json:"last_message,omitempty"`
	UpdatedAt   time.Time            `json:"updated_at"`
	UnreadCount int                  `json:"unread_count"`
}

type MessageStatus string

const (
	MessagePending MessageStatus = "pending"
	MessageSent    MessageStatus = "sent"
	MessageFailed  MessageStatus = "failed"
)

// MessageRef is a lightweight pointer to a replied-to message.
type MessageRef struct {
	Id      string `json:"id"`
	Preview string `json:"preview,omitempty"`
}

type Message struct {
	Id             string              `json:"id"`
	ConversationId string              `json:"conversation_id"`
	SenderId       string              `json:"sender_id"`
	Content        string              `json:"content"`
	CreatedAt      time.Time           `json:"created_at"`
	IsEdited       bool                `json:"is_edited,omitempty"`
	ReplyTo        *MessageRef         `json:"reply_to,omitempty"`
	ReadBy         []string            `json:"read_by,omitempty"`
	Reactions      map[string][]string `json:"reactions,omitempty"`
	Status         MessageStatus       `json:"status,omitempty"`
	// CorrelationId is minted by the sending client so the authoritative
	// echo from the server can replace the optimistic pending entry.
	CorrelationId string `json:"correlation_id,omitempty"`
}

// ReadBySet reports whether userId already acknowledged this message.
func (m *Message) ReadBySet(userId string) bool {
	for _, id := range m.ReadBy {
		if id == userId {
			return true
		}
	}
	return false
}

// AddReader adds userId to the read-by set if not already present.
func (m *Message) AddReader(userId string) {
	if !m.ReadBySet(userId) {
		m.ReadBy = append(m.ReadBy, userId)
	}
}

// Summary produces the denormalized snapshot stored on a conversation.
func (m *Message) Summary() *MessageSummary {
	return &MessageSummary{
		Id:        m.Id,
		SenderId:  m.SenderId,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}
