// Package store is the reconciliation engine: it owns the canonical
// in-memory conversation and message collections for the signed-in user and
// merges inbound push events into them under idempotent, order-tolerant
// rules. State changes come only from bus events and explicit local user
// actions; the store never polls.
package store

import (
	"context"
	"log"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/parishlink/messaging/internal/apiclient"
	"github.com/parishlink/messaging/internal/events"
	"github.com/parishlink/messaging/internal/notify"
	"github.com/parishlink/messaging/internal/stats"
	"github.com/parishlink/messaging/internal/types"
	"github.com/parishlink/messaging/internal/typing"
	"github.com/teris-io/shortid"
)

// API is the slice of the collaborator client the store calls back into.
type API interface {
	MarkConversationRead(ctx context.Context, conversationId, messageId string) error
	SendTyping(ctx context.Context, conversationId string, isTyping bool) error
	CreateConversation(ctx context.Context, req apiclient.CreateConversationRequest) (*types.Conversation, error)
	SendMessage(ctx context.Context, conversationId, content, correlationId string, replyTo *types.MessageRef) (*types.Message, error)
}

// Notifier raises user-facing alerts for inbound activity.
type Notifier interface {
	Show(opts notify.Options) bool
}

type Store struct {
	log      *log.Logger
	clock    clock.Clock
	api      API
	notifier Notifier
	tracker  *typing.Tracker
	stats    stats.Provider
	viewerId string
	idFn     func() string

	mu sync.RWMutex
	// conversations is ordered most-recently-active first.
	conversations []*types.Conversation
	convIndex     map[string]*types.Conversation
	// messages holds the ascending-by-createdAt message list per open
	// conversation; conversations that were never opened carry only their
	// denormalized summary.
	messages      map[string][]*types.Message
	msgIndex      map[string]*types.Message
	byCorrelation map[string]*types.Message
	// seen records every message id ever applied so replayed envelopes are
	// no-ops even for conversations that are not open.
	seen map[string]struct{}

	onUpdate func()
}

func NewStore(viewerId string, api API, notifier Notifier, tracker *typing.Tracker, st stats.Provider, clk clock.Clock, logger *log.Logger) *Store {
	return &Store{
		log:           logger,
		clock:         clk,
		api:           api,
		notifier:      notifier,
		tracker:       tracker,
		stats:         st,
		viewerId:      viewerId,
		idFn:          shortid.MustGenerate,
		convIndex:     make(map[string]*types.Conversation),
		messages:      make(map[string][]*types.Message),
		msgIndex:      make(map[string]*types.Message),
		byCorrelation: make(map[string]*types.Message),
		seen:          make(map[string]struct{}),
	}
}

// OnUpdate registers a callback fired after every effective state change,
// so a UI layer can re-render from snapshots.
func (s *Store) OnUpdate(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUpdate = fn
}

func (s *Store) notifyUpdate() {
	s.mu.RLock()
	fn := s.onUpdate
	s.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// HandleEvent is the store's bus subscription. Call signaling events are
// owned by the call machine and fall through untouched.
func (s *Store) HandleEvent(ev events.Event) {
	switch e := ev.(type) {
	case events.NewMessage:
		s.applyMessage(e.Message, notify.CategoryMessage)
	case events.NewBroadcastMessage:
		s.applyMessage(e.Message, notify.CategoryBroadcast)
	case events.MessagesRead:
		s.applyMessagesRead(e)
	case events.ConversationUpdated:
		s.applyConversationUpdated(e.Conversation)
	case events.NewConversation:
		s.applyNewConversation(e.Conversation)
	case events.NewBroadcastChannel:
		s.applyNewConversation(e.Conversation)
	case events.TypingStart:
		s.tracker.Start(e.ConversationId, e.UserId)
	case events.TypingStop:
		s.tracker.Stop(e.ConversationId, e.UserId)
	case events.MessageReaction:
		s.applyReaction(e)
	}
}

func (s *Store) applyMessage(msg types.Message, category notify.Category) {
	s.mu.Lock()

	if _, dup := s.seen[msg.Id]; dup {
		s.mu.Unlock()
		s.stats.Incr(stats.MessagesDuplicate)
		return
	}

	// An authoritative echo of an optimistic local send replaces the
	// pending entry in place rather than appending a duplicate.
	if msg.CorrelationId != "" {
		if s.reconcilePendingLocked(msg) {
			s.mu.Unlock()
			s.stats.Incr(stats.MessagesMerged)
			s.notifyUpdate()
			return
		}
	}

	s.seen[msg.Id] = struct{}{}
	msg.Status = types.MessageSent

	if list, open := s.messages[msg.ConversationId]; open {
		m := msg
		s.messages[msg.ConversationId] = insertByCreatedAt(list, &m)
		s.msgIndex[m.Id] = &m
	}

	conv := s.touchConversationLocked(&msg)
	inbound := msg.SenderId != s.viewerId
	if inbound {
		conv.UnreadCount++
	}
	muted := conv.Settings.Muted
	title := conversationTitle(conv, msg.SenderId)
	s.mu.Unlock()

	s.stats.Incr(stats.MessagesMerged)

	if inbound && !muted && s.notifier != nil {
		shown := s.notifier.Show(notify.Options{
			Title:    title,
			Body:     msg.Content,
			Category: category,
			Sound:    true,
			Tag:      msg.ConversationId,
		})
		if shown {
			s.stats.Incr(stats.NotificationsShown)
		}
	}

	s.notifyUpdate()
}

// reconcilePendingLocked swaps the authoritative message into the pending
// entry's slot, preserving list position. Reports whether a pending entry
// matched.
func (s *Store) reconcilePendingLocked(msg types.Message) bool {
	pending, ok := s.byCorrelation[msg.CorrelationId]
	if !ok {
		return false
	}

	oldId := pending.Id
	*pending = msg
	pending.Status = types.MessageSent

	delete(s.msgIndex, oldId)
	delete(s.seen, oldId)
	s.msgIndex[pending.Id] = pending
	s.seen[pending.Id] = struct{}{}
	delete(s.byCorrelation, msg.CorrelationId)

	s.touchConversationLocked(pending)
	return true
}

// touchConversationLocked refreshes the conversation's denormalized last
// message and ordering for msg, creating a stub entry when the
// conversation is not yet known locally. Must be called with the lock held.
func (s *Store) touchConversationLocked(msg *types.Message) *types.Conversation {
	conv, ok := s.convIndex[msg.ConversationId]
	if !ok {
		conv = &types.Conversation{
			Id:        msg.ConversationId,
			UpdatedAt: msg.CreatedAt,
		}
		s.convIndex[conv.Id] = conv
		s.conversations = append([]*types.Conversation{conv}, s.conversations...)
	}

	if conv.LastMessage == nil || !msg.CreatedAt.Before(conv.LastMessage.CreatedAt) {
		conv.LastMessage = msg.Summary()
		if msg.CreatedAt.After(conv.UpdatedAt) {
			conv.UpdatedAt = msg.CreatedAt
		}
		s.moveToFrontLocked(conv)
	}

	return conv
}

func (s *Store) applyMessagesRead(ev events.MessagesRead) {
	s.mu.Lock()
	for _, m := range s.messages[ev.ConversationId] {
		if m.SenderId == s.viewerId {
			m.AddReader(ev.UserId)
		}
	}
	s.mu.Unlock()

	s.notifyUpdate()
}

func (s *Store) applyConversationUpdated(incoming types.Conversation) {
	s.mu.Lock()
	existing, ok := s.convIndex[incoming.Id]
	if !ok {
		conv := incoming
		s.convIndex[conv.Id] = &conv
		s.conversations = append([]*types.Conversation{&conv}, s.conversations...)
		s.mu.Unlock()
		s.notifyUpdate()
		return
	}

	newer := hasNewerLastMessage(&incoming, existing)
	*existing = incoming
	if newer {
		s.moveToFrontLocked(existing)
	}
	s.mu.Unlock()

	s.notifyUpdate()
}

func (s *Store) applyNewConversation(incoming types.Conversation) {
	s.mu.Lock()
	if _, exists := s.convIndex[incoming.Id]; exists {
		s.mu.Unlock()
		return
	}

	conv := incoming
	s.convIndex[conv.Id] = &conv
	s.conversations = append([]*types.Conversation{&conv}, s.conversations...)
	s.mu.Unlock()

	s.notifyUpdate()
}

func (s *Store) applyReaction(ev events.MessageReaction) {
	s.mu.Lock()
	m, ok := s.msgIndex[ev.MessageId]
	if ok && m.ConversationId == ev.ConversationId {
		// the payload carries the full authoritative reaction set
		m.Reactions = ev.Reactions
	}
	s.mu.Unlock()

	if ok {
		s.notifyUpdate()
	}
}

// OpenConversation loads the message history for a conversation the viewer
// has opened; subsequent new_message events for it are kept in full.
func (s *Store) OpenConversation(conversationId string, history []types.Message) {
	s.mu.Lock()
	list := make([]*types.Message, 0, len(history))
	for i := range history {
		m := history[i]
		if m.Status == "" {
			m.Status = types.MessageSent
		}
		list = insertByCreatedAt(list, &m)
		s.msgIndex[m.Id] = &m
		s.seen[m.Id] = struct{}{}
	}
	s.messages[conversationId] = list
	s.mu.Unlock()

	s.notifyUpdate()
}

// CloseConversation drops the full message list for a conversation; the
// summary on the conversation entry remains.
func (s *Store) CloseConversation(conversationId string) {
	s.mu.Lock()
	for _, m := range s.messages[conversationId] {
		delete(s.msgIndex, m.Id)
		if m.CorrelationId != "" {
			delete(s.byCorrelation, m.CorrelationId)
		}
	}
	delete(s.messages, conversationId)
	s.mu.Unlock()
}

// MarkAsRead acknowledges the conversation on the server, then zeroes the
// local unread count and flags the viewer's outstanding unread messages as
// read. Safe to call redundantly; on failure the unread count is left
// unchanged so the next user action retries naturally.
func (s *Store) MarkAsRead(ctx context.Context, conversationId string) error {
	s.mu.RLock()
	conv, ok := s.convIndex[conversationId]
	var lastId string
	if ok && conv.LastMessage != nil {
		lastId = conv.LastMessage.Id
	}
	s.mu.RUnlock()

	if !ok {
		return nil
	}

	if err := s.api.MarkConversationRead(ctx, conversationId, lastId); err != nil {
		s.log.Println("mark conversation read:", err)
		return err
	}

	s.mu.Lock()
	conv.UnreadCount = 0
	for _, m := range s.messages[conversationId] {
		if m.SenderId != s.viewerId {
			m.AddReader(s.viewerId)
		}
	}
	s.mu.Unlock()

	s.notifyUpdate()
	return nil
}

// SendTypingIndicator is fire-and-forget: typing state is inherently lossy,
// so failures are logged and never retried or surfaced.
func (s *Store) SendTypingIndicator(ctx context.Context, conversationId string, isTyping bool) {
	if err := s.api.SendTyping(ctx, conversationId, isTyping); err != nil {
		s.log.Println("send typing indicator:", err)
	}
}

// SendMessage appends an optimistic pending entry, posts to the server, and
// reconciles the authoritative copy in place. The returned message reflects
// the state at return: sent, or failed with the pending entry flagged.
func (s *Store) SendMessage(ctx context.Context, conversationId, content string, replyTo *types.MessageRef) (types.Message, error) {
	correlationId := s.idFn()

	s.mu.Lock()
	pending := &types.Message{
		Id:             "pending-" + correlationId,
		ConversationId: conversationId,
		SenderId:       s.viewerId,
		Content:        content,
		CreatedAt:      s.clock.Now(),
		ReplyTo:        replyTo,
		Status:         types.MessagePending,
		CorrelationId:  correlationId,
	}
	if list, open := s.messages[conversationId]; open {
		s.messages[conversationId] = insertByCreatedAt(list, pending)
	}
	s.msgIndex[pending.Id] = pending
	s.byCorrelation[correlationId] = pending
	s.seen[pending.Id] = struct{}{}
	s.touchConversationLocked(pending)
	s.mu.Unlock()

	s.notifyUpdate()

	authoritative, err := s.api.SendMessage(ctx, conversationId, content, correlationId, replyTo)
	if err != nil {
		s.mu.Lock()
		pending.Status = types.MessageFailed
		snapshot := *pending
		s.mu.Unlock()
		s.notifyUpdate()
		return snapshot, err
	}

	s.mu.Lock()
	// the push echo may have reconciled the pending entry already
	if _, still := s.byCorrelation[correlationId]; still {
		if _, dup := s.seen[authoritative.Id]; !dup {
			s.reconcilePendingLocked(*authoritative)
		}
	}
	var snapshot types.Message
	if m, ok := s.msgIndex[authoritative.Id]; ok {
		snapshot = *m
	} else {
		snapshot = *authoritative
	}
	s.mu.Unlock()

	s.notifyUpdate()
	return snapshot, nil
}

// CreateConversation calls the collaborator API and merges the result by
// id: update in place when present, else prepend.
func (s *Store) CreateConversation(ctx context.Context, req apiclient.CreateConversationRequest) (types.Conversation, error) {
	conv, err := s.api.CreateConversation(ctx, req)
	if err != nil {
		return types.Conversation{}, err
	}

	s.mu.Lock()
	existing, ok := s.convIndex[conv.Id]
	if ok {
		*existing = *conv
	} else {
		existing = conv
		s.convIndex[conv.Id] = existing
		s.conversations = append([]*types.Conversation{existing}, s.conversations...)
	}
	snapshot := *existing
	s.mu.Unlock()

	s.notifyUpdate()
	return snapshot, nil
}

// Conversations returns a snapshot of the ordered conversation list.
func (s *Store) Conversations() []types.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Conversation, len(s.conversations))
	for i, c := range s.conversations {
		out[i] = *c
	}
	return out
}

// Conversation returns a snapshot of one conversation.
func (s *Store) Conversation(id string) (types.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.convIndex[id]; ok {
		return *c, true
	}
	return types.Conversation{}, false
}

// Messages returns a snapshot of the open conversation's message list in
// createdAt ascending order.
func (s *Store) Messages(conversationId string) []types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.messages[conversationId]
	out := make([]types.Message, len(list))
	for i, m := range list {
		out[i] = *m
	}
	return out
}

// TypingUsers returns the users currently typing in the conversation.
func (s *Store) TypingUsers(conversationId string) []string {
	return s.tracker.Typing(conversationId)
}

func (s *Store) moveToFrontLocked(conv *types.Conversation) {
	for i, c := range s.conversations {
		if c == conv {
			copy(s.conversations[1:i+1], s.conversations[:i])
			s.conversations[0] = conv
			return
		}
	}
}

func insertByCreatedAt(list []*types.Message, m *types.Message) []*types.Message {
	i := len(list)
	for i > 0 && list[i-1].CreatedAt.After(m.CreatedAt) {
		i--
	}
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = m
	return list
}

func hasNewerLastMessage(incoming, existing *types.Conversation) bool {
	if incoming.LastMessage == nil {
		return false
	}
	if existing.LastMessage == nil {
		return true
	}
	return incoming.LastMessage.CreatedAt.After(existing.LastMessage.CreatedAt)
}

func conversationTitle(conv *types.Conversation, senderId string) string {
	if conv.Name != "" {
		return conv.Name
	}
	return senderId
}
