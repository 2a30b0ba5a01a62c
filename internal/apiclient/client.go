// Package apiclient wraps the collaborator HTTP endpoints the messaging
// core calls back into: read acknowledgments, typing notifications,
// conversation creation, message send, and call signaling.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/parishlink/messaging/internal/types"
)

const requestTimeout = 10 * time.Second

type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	log     *log.Logger
}

func New(baseURL, token string, logger *log.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpc:   &http.Client{Timeout: requestTimeout},
		log:     logger,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: unexpected status %s", method, path, resp.Status)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

type markReadRequest struct {
	ConversationId string `json:"conversation_id"`
	MessageId      string `json:"message_id,omitempty"`
}

// MarkConversationRead acknowledges the conversation as read up to
// messageId (empty means everything). Success means the caller may zero the
// local unread count.
func (c *Client) MarkConversationRead(ctx context.Context, conversationId, messageId string) error {
	body := markReadRequest{ConversationId: conversationId, MessageId: messageId}
	return c.do(ctx, http.MethodPost, "/api/conversations/"+conversationId+"/read", body, nil)
}

type typingRequest struct {
	ConversationId string `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
}

// SendTyping is fire-and-forget; failures are the caller's to log and drop.
func (c *Client) SendTyping(ctx context.Context, conversationId string, isTyping bool) error {
	body := typingRequest{ConversationId: conversationId, IsTyping: isTyping}
	return c.do(ctx, http.MethodPost, "/api/conversations/"+conversationId+"/typing", body, nil)
}

type CreateConversationRequest struct {
	Type           types.ConversationType     `json:"type"`
	Name           string                     `json:"name,omitempty"`
	ParticipantIds []string                   `json:"participant_ids,omitempty"`
	Settings       types.ConversationSettings `json:"settings,omitempty"`
}

// Validate enforces the type-specific payload shape before the request goes
// out: DIRECT takes exactly one participant, GROUP and CHANNEL need a name
// and participants, BROADCAST needs a name only.
func (r *CreateConversationRequest) Validate() error {
	switch r.Type {
	case types.ConversationDirect:
		if len(r.ParticipantIds) != 1 {
			return fmt.Errorf("direct conversation requires exactly one participant, got %d", len(r.ParticipantIds))
		}
	case types.ConversationGroup, types.ConversationChannel:
		if r.Name == "" {
			return fmt.Errorf("%s conversation requires a name", r.Type)
		}
		if len(r.ParticipantIds) == 0 {
			return fmt.Errorf("%s conversation requires participants", r.Type)
		}
	case types.ConversationBroadcast:
		if r.Name == "" {
			return fmt.Errorf("broadcast channel requires a name")
		}
	default:
		return fmt.Errorf("unknown conversation type %q", r.Type)
	}
	return nil
}

// CreateConversation returns the created or reactivated conversation, which
// the caller merges into local state by id.
func (c *Client) CreateConversation(ctx context.Context, req CreateConversationRequest) (*types.Conversation, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var conv types.Conversation
	if err := c.do(ctx, http.MethodPost, "/api/conversations", req, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

type sendMessageRequest struct {
	Content       string            `json:"content"`
	CorrelationId string            `json:"correlation_id"`
	ReplyTo       *types.MessageRef `json:"reply_to,omitempty"`
}

// SendMessage posts a message and returns the authoritative copy, which
// carries the echoed correlation id used to reconcile the pending entry.
func (c *Client) SendMessage(ctx context.Context, conversationId, content, correlationId string, replyTo *types.MessageRef) (*types.Message, error) {
	body := sendMessageRequest{Content: content, CorrelationId: correlationId, ReplyTo: replyTo}

	var msg types.Message
	if err := c.do(ctx, http.MethodPost, "/api/conversations/"+conversationId+"/messages", body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

type callSignalRequest struct {
	CallId   string `json:"call_id"`
	CalleeId string `json:"callee_id,omitempty"`
	CallType string `json:"call_type,omitempty"`
	Accepted bool   `json:"accepted,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

func (c *Client) SendCallOffer(ctx context.Context, callId, calleeId, callType string) error {
	body := callSignalRequest{CallId: callId, CalleeId: calleeId, CallType: callType}
	return c.do(ctx, http.MethodPost, "/api/calls/offer", body, nil)
}

func (c *Client) SendCallAnswer(ctx context.Context, callId string, accepted bool) error {
	body := callSignalRequest{CallId: callId, Accepted: accepted}
	return c.do(ctx, http.MethodPost, "/api/calls/answer", body, nil)
}

func (c *Client) SendCallHangup(ctx context.Context, callId string) error {
	body := callSignalRequest{CallId: callId}
	return c.do(ctx, http.MethodPost, "/api/calls/hangup", body, nil)
}

// SendCallBusy rejects an inbound offer that arrived while another call was
// active.
func (c *Client) SendCallBusy(ctx context.Context, callId string) error {
	body := callSignalRequest{CallId: callId, Reason: "busy"}
	return c.do(ctx, http.MethodPost, "/api/calls/busy", body, nil)
}
