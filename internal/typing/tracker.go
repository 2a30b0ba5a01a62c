// Package typing maintains the ephemeral per-conversation set of users
// currently composing a message. Entries decay purely by elapsed time: a
// typing_start with no matching typing_stop is expired by a timer, which
// covers stop events lost on the wire.
package typing

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type Tracker struct {
	log    *log.Logger
	clock  clock.Clock
	window time.Duration

	mu     sync.Mutex
	typing map[string]map[string]struct{}
	timers map[string]map[string]*clock.Timer
	// onChange, if set, is fired after every effective set change with the
	// affected conversation id.
	onChange func(conversationId string)
}

func NewTracker(window time.Duration, clk clock.Clock, logger *log.Logger) *Tracker {
	return &Tracker{
		log:    logger,
		clock:  clk,
		window: window,
		typing: make(map[string]map[string]struct{}),
		timers: make(map[string]map[string]*clock.Timer),
	}
}

func (t *Tracker) OnChange(fn func(conversationId string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = fn
}

// Start marks userId as typing in the conversation and arms the expiry
// timer. A repeated start refreshes the timer.
func (t *Tracker) Start(conversationId, userId string) {
	t.mu.Lock()
	if t.typing[conversationId] == nil {
		t.typing[conversationId] = make(map[string]struct{})
		t.timers[conversationId] = make(map[string]*clock.Timer)
	}
	t.typing[conversationId][userId] = struct{}{}

	if timer, ok := t.timers[conversationId][userId]; ok {
		timer.Stop()
	}
	t.timers[conversationId][userId] = t.clock.AfterFunc(t.window, func() {
		t.expire(conversationId, userId)
	})
	fn := t.onChange
	t.mu.Unlock()

	if fn != nil {
		fn(conversationId)
	}
}

// Stop removes userId from the conversation's typing set.
func (t *Tracker) Stop(conversationId, userId string) {
	t.mu.Lock()
	changed := t.remove(conversationId, userId)
	fn := t.onChange
	t.mu.Unlock()

	if changed && fn != nil {
		fn(conversationId)
	}
}

func (t *Tracker) expire(conversationId, userId string) {
	t.mu.Lock()
	changed := t.remove(conversationId, userId)
	fn := t.onChange
	t.mu.Unlock()

	if changed {
		t.log.Printf("typing entry for user %q in conversation %q expired", userId, conversationId)
		if fn != nil {
			fn(conversationId)
		}
	}
}

// remove must be called with the lock held.
func (t *Tracker) remove(conversationId, userId string) bool {
	users, ok := t.typing[conversationId]
	if !ok {
		return false
	}
	if _, ok := users[userId]; !ok {
		return false
	}

	delete(users, userId)
	if timer, ok := t.timers[conversationId][userId]; ok {
		timer.Stop()
		delete(t.timers[conversationId], userId)
	}
	if len(users) == 0 {
		delete(t.typing, conversationId)
		delete(t.timers, conversationId)
	}
	return true
}

// Typing returns the users currently typing in the conversation, sorted for
// stable rendering.
func (t *Tracker) Typing(conversationId string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	users := make([]string, 0, len(t.typing[conversationId]))
	for id := range t.typing[conversationId] {
		users = append(users, id)
	}
	sort.Strings(users)
	return users
}

// Close stops all pending expiry timers.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for convId, timers := range t.timers {
		for userId, timer := range timers {
			timer.Stop()
			delete(timers, userId)
		}
		delete(t.timers, convId)
		delete(t.typing, convId)
	}
}
