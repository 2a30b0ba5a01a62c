package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/parishlink/messaging/internal/apiclient"
	"github.com/parishlink/messaging/internal/events"
	"github.com/parishlink/messaging/internal/notify"
	"github.com/parishlink/messaging/internal/stats"
	"github.com/parishlink/messaging/internal/testutil"
	"github.com/parishlink/messaging/internal/types"
	"github.com/parishlink/messaging/internal/typing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const viewerId = "u-self"

type markReadCall struct {
	conversationId string
	messageId      string
}

type fakeAPI struct {
	mu          sync.Mutex
	markReads   []markReadCall
	markReadErr error
	typings     []bool
	typingErr   error
	createResp  *types.Conversation
	sendResp    func(correlationId string) (*types.Message, error)
}

func (f *fakeAPI) MarkConversationRead(_ context.Context, conversationId, messageId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markReadErr != nil {
		return f.markReadErr
	}
	f.markReads = append(f.markReads, markReadCall{conversationId, messageId})
	return nil
}

func (f *fakeAPI) SendTyping(_ context.Context, _ string, isTyping bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.typingErr != nil {
		return f.typingErr
	}
	f.typings = append(f.typings, isTyping)
	return nil
}

func (f *fakeAPI) CreateConversation(_ context.Context, _ apiclient.CreateConversationRequest) (*types.Conversation, error) {
	if f.createResp == nil {
		return nil, fmt.Errorf("no response configured")
	}
	return f.createResp, nil
}

func (f *fakeAPI) SendMessage(_ context.Context, _, _, correlationId string, _ *types.MessageRef) (*types.Message, error) {
	if f.sendResp == nil {
		return nil, fmt.Errorf("no response configured")
	}
	return f.sendResp(correlationId)
}

type fakeNotifier struct {
	mu    sync.Mutex
	shown []notify.Options
}

func (f *fakeNotifier) Show(opts notify.Options) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shown = append(f.shown, opts)
	return true
}

type fixture struct {
	store    *Store
	api      *fakeAPI
	notifier *fakeNotifier
	clock    *clock.Mock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := testutil.TestLogger(t)
	clk := testutil.MockClock()
	api := &fakeAPI{}
	notifier := &fakeNotifier{}
	tracker := typing.NewTracker(4*time.Second, clk, logger)
	t.Cleanup(tracker.Close)

	s := NewStore(viewerId, api, notifier, tracker, stats.Noop{}, clk, logger)
	return &fixture{store: s, api: api, notifier: notifier, clock: clk}
}

func message(id, convId, senderId string, at time.Time) types.Message {
	return types.Message{
		Id:             id,
		ConversationId: convId,
		SenderId:       senderId,
		Content:        "content of " + id,
		CreatedAt:      at,
	}
}

func TestNewMessageIdempotentInsert(t *testing.T) {
	f := newFixture(t)
	f.store.OpenConversation("c1", nil)

	msg := message("m1", "c1", "u-other", f.clock.Now())
	f.store.HandleEvent(events.NewMessage{Message: msg})
	f.store.HandleEvent(events.NewMessage{Message: msg})

	msgs := f.store.Messages("c1")
	require.Len(t, msgs, 1, "duplicate envelope must be a no-op")
	assert.Equal(t, "m1", msgs[0].Id)

	conv, ok := f.store.Conversation("c1")
	require.True(t, ok)
	assert.Equal(t, 1, conv.UnreadCount, "unread must not double-count the duplicate")
}

func TestUnreadAccounting(t *testing.T) {
	f := newFixture(t)
	f.store.OpenConversation("c1", nil)

	base := f.clock.Now()
	f.store.HandleEvent(events.NewMessage{Message: message("m1", "c1", "u-other", base)})
	f.store.HandleEvent(events.NewMessage{Message: message("m2", "c1", viewerId, base.Add(time.Second))})
	f.store.HandleEvent(events.NewMessage{Message: message("m3", "c1", "u-other", base.Add(2*time.Second))})

	conv, _ := f.store.Conversation("c1")
	assert.Equal(t, 2, conv.UnreadCount, "own messages never count as unread")

	require.NoError(t, f.store.MarkAsRead(context.Background(), "c1"))
	conv, _ = f.store.Conversation("c1")
	assert.Zero(t, conv.UnreadCount)

	f.store.HandleEvent(events.NewMessage{Message: message("m4", "c1", "u-other", base.Add(3*time.Second))})
	conv, _ = f.store.Conversation("c1")
	assert.Equal(t, 1, conv.UnreadCount, "counting resumes after mark-read")
}

func TestEndToEndScenario(t *testing.T) {
	f := newFixture(t)
	f.store.OpenConversation("c1", nil)

	f.store.HandleEvent(events.NewConversation{Conversation: types.Conversation{
		Id: "c1", Type: types.ConversationDirect,
	}})
	f.store.HandleEvent(events.NewMessage{Message: message("m1", "c1", "u-other", f.clock.Now())})

	convs := f.store.Conversations()
	require.Len(t, convs, 1)
	assert.Equal(t, "c1", convs[0].Id)
	assert.Equal(t, 1, convs[0].UnreadCount)
	require.NotNil(t, convs[0].LastMessage)
	assert.Equal(t, "m1", convs[0].LastMessage.Id)

	msgs := f.store.Messages("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].Id)

	require.NoError(t, f.store.MarkAsRead(context.Background(), "c1"))
	convs = f.store.Conversations()
	assert.Zero(t, convs[0].UnreadCount)

	require.Len(t, f.api.markReads, 1)
	assert.Equal(t, markReadCall{"c1", "m1"}, f.api.markReads[0])
}

func TestDuplicateConversationSuppression(t *testing.T) {
	f := newFixture(t)

	conv := types.Conversation{Id: "c1", Type: types.ConversationGroup, Name: "choir"}
	f.store.HandleEvent(events.NewConversation{Conversation: conv})
	f.store.HandleEvent(events.NewConversation{Conversation: conv})

	convs := f.store.Conversations()
	require.Len(t, convs, 1, "same id must never appear twice")
	assert.Equal(t, "c1", convs[0].Id)

	f.store.HandleEvent(events.NewBroadcastChannel{Conversation: types.Conversation{
		Id: "b1", Type: types.ConversationBroadcast, Name: "announcements",
	}})
	convs = f.store.Conversations()
	require.Len(t, convs, 2)
	assert.Equal(t, "b1", convs[0].Id, "new entries are prepended")
}

func TestConversationUpdated(t *testing.T) {
	f := newFixture(t)
	base := f.clock.Now()

	t.Run("unknown conversation is inserted at the front", func(t *testing.T) {
		f.store.HandleEvent(events.ConversationUpdated{Conversation: types.Conversation{
			Id: "c1", Name: "old name", UpdatedAt: base,
		}})
		convs := f.store.Conversations()
		require.Len(t, convs, 1)
		assert.Equal(t, "old name", convs[0].Name)
	})

	t.Run("existing conversation is replaced in place", func(t *testing.T) {
		f.store.HandleEvent(events.NewConversation{Conversation: types.Conversation{Id: "c2"}})
		// c2 is now at the front
		f.store.HandleEvent(events.ConversationUpdated{Conversation: types.Conversation{
			Id: "c1", Name: "new name", UpdatedAt: base,
		}})

		convs := f.store.Conversations()
		require.Len(t, convs, 2)
		assert.Equal(t, "c2", convs[0].Id, "no newer lastMessage, so no reordering")
		assert.Equal(t, "new name", convs[1].Name)
	})

	t.Run("newer lastMessage moves it to the front", func(t *testing.T) {
		f.store.HandleEvent(events.ConversationUpdated{Conversation: types.Conversation{
			Id:   "c1",
			Name: "new name",
			LastMessage: &types.MessageSummary{
				Id: "m9", SenderId: "u-other", CreatedAt: base.Add(time.Minute),
			},
			UpdatedAt: base.Add(time.Minute),
		}})

		convs := f.store.Conversations()
		assert.Equal(t, "c1", convs[0].Id)
	})
}

func TestMessagesRead(t *testing.T) {
	f := newFixture(t)
	f.store.OpenConversation("c1", nil)

	base := f.clock.Now()
	f.store.HandleEvent(events.NewMessage{Message: message("m1", "c1", viewerId, base)})
	f.store.HandleEvent(events.NewMessage{Message: message("m2", "c1", "u-other", base.Add(time.Second))})

	f.store.HandleEvent(events.MessagesRead{ConversationId: "c1", UserId: "u-other"})
	f.store.HandleEvent(events.MessagesRead{ConversationId: "c1", UserId: "u-other"})

	msgs := f.store.Messages("c1")
	require.Len(t, msgs, 2)
	assert.Equal(t, []string{"u-other"}, msgs[0].ReadBy, "set union is idempotent")
	assert.Empty(t, msgs[1].ReadBy, "only the viewer's own messages are acknowledged")
}

func TestMessageReaction(t *testing.T) {
	f := newFixture(t)
	f.store.OpenConversation("c1", nil)
	f.store.HandleEvent(events.NewMessage{Message: message("m1", "c1", "u-other", f.clock.Now())})

	f.store.HandleEvent(events.MessageReaction{
		ConversationId: "c1",
		MessageId:      "m1",
		Reactions:      map[string][]string{"❤️": {"u-other"}},
	})

	msgs := f.store.Messages("c1")
	assert.Equal(t, []string{"u-other"}, msgs[0].Reactions["❤️"])

	// the payload snapshot is authoritative: it replaces, never merges
	f.store.HandleEvent(events.MessageReaction{
		ConversationId: "c1",
		MessageId:      "m1",
		Reactions:      map[string][]string{"🙏": {"u-third"}},
	})

	msgs = f.store.Messages("c1")
	assert.Empty(t, msgs[0].Reactions["❤️"])
	assert.Equal(t, []string{"u-third"}, msgs[0].Reactions["🙏"])
}

func TestOutOfOrderMessages(t *testing.T) {
	f := newFixture(t)
	f.store.OpenConversation("c1", nil)

	base := f.clock.Now()
	f.store.HandleEvent(events.NewMessage{Message: message("m2", "c1", "u-other", base.Add(time.Minute))})
	f.store.HandleEvent(events.NewMessage{Message: message("m1", "c1", "u-other", base)})

	msgs := f.store.Messages("c1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].Id, "list is ordered by createdAt ascending")
	assert.Equal(t, "m2", msgs[1].Id)

	conv, _ := f.store.Conversation("c1")
	assert.Equal(t, "m2", conv.LastMessage.Id, "late-arriving older message must not regress the preview")
}

func TestTypingEvents(t *testing.T) {
	f := newFixture(t)

	f.store.HandleEvent(events.TypingStart{ConversationId: "c1", UserId: "u-other"})
	assert.Equal(t, []string{"u-other"}, f.store.TypingUsers("c1"))

	f.store.HandleEvent(events.TypingStop{ConversationId: "c1", UserId: "u-other"})
	assert.Empty(t, f.store.TypingUsers("c1"))

	// a lost stop decays by timeout
	f.store.HandleEvent(events.TypingStart{ConversationId: "c1", UserId: "u-other"})
	f.clock.Add(5 * time.Second)
	assert.Empty(t, f.store.TypingUsers("c1"))
}

func TestOptimisticSend(t *testing.T) {
	t.Run("authoritative response replaces the pending entry in place", func(t *testing.T) {
		f := newFixture(t)
		f.store.OpenConversation("c1", nil)
		f.api.sendResp = func(correlationId string) (*types.Message, error) {
			m := message("m-server", "c1", viewerId, f.clock.Now())
			m.CorrelationId = correlationId
			return &m, nil
		}

		got, err := f.store.SendMessage(context.Background(), "c1", "hello", nil)
		require.NoError(t, err)
		assert.Equal(t, "m-server", got.Id)
		assert.Equal(t, types.MessageSent, got.Status)

		msgs := f.store.Messages("c1")
		require.Len(t, msgs, 1, "no duplicate from the reconciliation")
		assert.Equal(t, "m-server", msgs[0].Id)
	})

	t.Run("push echo before the HTTP response wins once", func(t *testing.T) {
		f := newFixture(t)
		f.store.OpenConversation("c1", nil)
		f.api.sendResp = func(correlationId string) (*types.Message, error) {
			// simulate the push echo racing ahead of the response
			m := message("m-server", "c1", viewerId, f.clock.Now())
			m.CorrelationId = correlationId
			f.store.HandleEvent(events.NewMessage{Message: m})
			return &m, nil
		}

		got, err := f.store.SendMessage(context.Background(), "c1", "hello", nil)
		require.NoError(t, err)
		assert.Equal(t, "m-server", got.Id)

		msgs := f.store.Messages("c1")
		require.Len(t, msgs, 1)
	})

	t.Run("failure flags the pending entry", func(t *testing.T) {
		f := newFixture(t)
		f.store.OpenConversation("c1", nil)
		f.api.sendResp = func(string) (*types.Message, error) {
			return nil, fmt.Errorf("backend down")
		}

		got, err := f.store.SendMessage(context.Background(), "c1", "hello", nil)
		require.Error(t, err)
		assert.Equal(t, types.MessageFailed, got.Status)

		msgs := f.store.Messages("c1")
		require.Len(t, msgs, 1)
		assert.Equal(t, types.MessageFailed, msgs[0].Status)
	})

	t.Run("own sends never bump unread", func(t *testing.T) {
		f := newFixture(t)
		f.store.OpenConversation("c1", nil)
		f.api.sendResp = func(correlationId string) (*types.Message, error) {
			m := message("m-server", "c1", viewerId, f.clock.Now())
			m.CorrelationId = correlationId
			return &m, nil
		}

		_, err := f.store.SendMessage(context.Background(), "c1", "hello", nil)
		require.NoError(t, err)

		conv, _ := f.store.Conversation("c1")
		assert.Zero(t, conv.UnreadCount)
	})
}

func TestMarkAsRead(t *testing.T) {
	t.Run("redundant calls are safe", func(t *testing.T) {
		f := newFixture(t)
		f.store.HandleEvent(events.NewConversation{Conversation: types.Conversation{Id: "c1"}})

		require.NoError(t, f.store.MarkAsRead(context.Background(), "c1"))
		require.NoError(t, f.store.MarkAsRead(context.Background(), "c1"))
		require.NoError(t, f.store.MarkAsRead(context.Background(), "unknown"), "unknown conversation is a no-op")
	})

	t.Run("failure leaves unread untouched", func(t *testing.T) {
		f := newFixture(t)
		f.store.OpenConversation("c1", nil)
		f.store.HandleEvent(events.NewMessage{Message: message("m1", "c1", "u-other", f.clock.Now())})
		f.api.markReadErr = fmt.Errorf("backend down")

		err := f.store.MarkAsRead(context.Background(), "c1")
		require.Error(t, err)

		conv, _ := f.store.Conversation("c1")
		assert.Equal(t, 1, conv.UnreadCount, "count stays for a later retry")
	})

	t.Run("flags viewer's outstanding messages as read", func(t *testing.T) {
		f := newFixture(t)
		f.store.OpenConversation("c1", nil)
		f.store.HandleEvent(events.NewMessage{Message: message("m1", "c1", "u-other", f.clock.Now())})

		require.NoError(t, f.store.MarkAsRead(context.Background(), "c1"))
		msgs := f.store.Messages("c1")
		assert.Equal(t, []string{viewerId}, msgs[0].ReadBy)
	})
}

func TestSendTypingIndicator(t *testing.T) {
	f := newFixture(t)

	f.store.SendTypingIndicator(context.Background(), "c1", true)
	f.store.SendTypingIndicator(context.Background(), "c1", false)
	assert.Equal(t, []bool{true, false}, f.api.typings)

	// failures are logged and dropped, never surfaced
	f.api.typingErr = fmt.Errorf("backend down")
	f.store.SendTypingIndicator(context.Background(), "c1", true)
}

func TestCreateConversationMerge(t *testing.T) {
	t.Run("new conversation is prepended", func(t *testing.T) {
		f := newFixture(t)
		f.store.HandleEvent(events.NewConversation{Conversation: types.Conversation{Id: "c0"}})
		f.api.createResp = &types.Conversation{Id: "c1", Type: types.ConversationDirect}

		conv, err := f.store.CreateConversation(context.Background(), apiclient.CreateConversationRequest{
			Type: types.ConversationDirect, ParticipantIds: []string{"u-other"},
		})
		require.NoError(t, err)
		assert.Equal(t, "c1", conv.Id)

		convs := f.store.Conversations()
		require.Len(t, convs, 2)
		assert.Equal(t, "c1", convs[0].Id)
	})

	t.Run("reactivated conversation updates in place", func(t *testing.T) {
		f := newFixture(t)
		f.store.HandleEvent(events.NewConversation{Conversation: types.Conversation{Id: "c1", Name: "old"}})
		f.api.createResp = &types.Conversation{Id: "c1", Name: "fresh"}

		_, err := f.store.CreateConversation(context.Background(), apiclient.CreateConversationRequest{
			Type: types.ConversationDirect, ParticipantIds: []string{"u-other"},
		})
		require.NoError(t, err)

		convs := f.store.Conversations()
		require.Len(t, convs, 1)
		assert.Equal(t, "fresh", convs[0].Name)
	})
}

func TestNotifications(t *testing.T) {
	t.Run("inbound message raises a notification", func(t *testing.T) {
		f := newFixture(t)
		f.store.HandleEvent(events.NewConversation{Conversation: types.Conversation{Id: "c1", Name: "choir"}})
		f.store.HandleEvent(events.NewMessage{Message: message("m1", "c1", "u-other", f.clock.Now())})

		require.Len(t, f.notifier.shown, 1)
		assert.Equal(t, notify.CategoryMessage, f.notifier.shown[0].Category)
		assert.Equal(t, "choir", f.notifier.shown[0].Title)
	})

	t.Run("broadcast messages use their own category", func(t *testing.T) {
		f := newFixture(t)
		f.store.HandleEvent(events.NewBroadcastMessage{Message: message("m1", "b1", "u-other", f.clock.Now())})

		require.Len(t, f.notifier.shown, 1)
		assert.Equal(t, notify.CategoryBroadcast, f.notifier.shown[0].Category)
	})

	t.Run("own messages are silent", func(t *testing.T) {
		f := newFixture(t)
		f.store.HandleEvent(events.NewMessage{Message: message("m1", "c1", viewerId, f.clock.Now())})
		assert.Empty(t, f.notifier.shown)
	})

	t.Run("muted conversations are silent", func(t *testing.T) {
		f := newFixture(t)
		f.store.HandleEvent(events.NewConversation{Conversation: types.Conversation{
			Id: "c1", Settings: types.ConversationSettings{Muted: true},
		}})
		f.store.HandleEvent(events.NewMessage{Message: message("m1", "c1", "u-other", f.clock.Now())})
		assert.Empty(t, f.notifier.shown)
	})
}

func TestStatsCounters(t *testing.T) {
	logger := testutil.TestLogger(t)
	clk := testutil.MockClock()
	tracker := typing.NewTracker(4*time.Second, clk, logger)
	t.Cleanup(tracker.Close)

	st := &stats.MockProvider{}
	st.On("Incr", stats.MessagesMerged).Return()
	st.On("Incr", stats.MessagesDuplicate).Return()
	st.On("Incr", stats.NotificationsShown).Return()

	s := NewStore(viewerId, &fakeAPI{}, &fakeNotifier{}, tracker, st, clk, logger)

	msg := message("m1", "c1", "u-other", clk.Now())
	s.HandleEvent(events.NewMessage{Message: msg})
	s.HandleEvent(events.NewMessage{Message: msg})

	st.AssertNumberOfCalls(t, "Incr", 3)
	st.AssertCalled(t, "Incr", stats.MessagesDuplicate)
}

func TestCloseConversation(t *testing.T) {
	f := newFixture(t)
	f.store.OpenConversation("c1", []types.Message{
		message("m1", "c1", "u-other", f.clock.Now()),
	})
	require.Len(t, f.store.Messages("c1"), 1)

	f.store.CloseConversation("c1")
	assert.Empty(t, f.store.Messages("c1"))

	// summary survives on the conversation entry
	f.store.HandleEvent(events.NewMessage{Message: message("m2", "c1", "u-other", f.clock.Now())})
	conv, ok := f.store.Conversation("c1")
	require.True(t, ok)
	assert.Equal(t, "m2", conv.LastMessage.Id)
	assert.Empty(t, f.store.Messages("c1"), "closed conversations keep no full list")
}
