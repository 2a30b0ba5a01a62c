package notify

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/parishlink/messaging/internal/platform"
	"github.com/parishlink/messaging/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu        sync.Mutex
	notifies  []string
	beeps     int
	notifyErr error
	beepErr   error
}

func (s *fakeSender) Notify(title, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notifyErr != nil {
		return s.notifyErr
	}
	s.notifies = append(s.notifies, title)
	return nil
}

func (s *fakeSender) Beep() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.beepErr != nil {
		return s.beepErr
	}
	s.beeps++
	return nil
}

type fakeAlert struct {
	mu     sync.Mutex
	alerts int
}

func (a *fakeAlert) Alert() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts++
}

func newTestNotifier(t *testing.T, focused bool) (*Notifier, *fakeSender, *fakeAlert, *platform.Simulated) {
	t.Helper()
	env := platform.NewSimulated(focused, true)
	sender := &fakeSender{}
	alert := &fakeAlert{}
	n := NewNotifier(env, alert, testutil.MockClock(), testutil.TestLogger(t))
	n.SetSender(sender)
	return n, sender, alert, env
}

func TestShow(t *testing.T) {
	t.Run("suppressed while window is focused", func(t *testing.T) {
		n, sender, _, _ := newTestNotifier(t, true)

		shown := n.Show(Options{Title: "Martha", Body: "hi"})
		assert.False(t, shown, "focused window already renders the update in-app")
		assert.Empty(t, sender.notifies)
	})

	t.Run("requireInteraction overrides focus gating", func(t *testing.T) {
		n, sender, _, _ := newTestNotifier(t, true)

		shown := n.Show(Options{Title: "Incoming call", RequireInteraction: true})
		assert.True(t, shown)
		assert.Equal(t, []string{"Incoming call"}, sender.notifies)
	})

	t.Run("shown when unfocused", func(t *testing.T) {
		n, sender, _, _ := newTestNotifier(t, false)

		shown := n.Show(Options{Title: "Martha", Body: "hi"})
		assert.True(t, shown)
		assert.Len(t, sender.notifies, 1)
	})

	t.Run("delivery failure degrades to no-op", func(t *testing.T) {
		n, sender, _, _ := newTestNotifier(t, false)
		sender.notifyErr = fmt.Errorf("notification daemon unavailable")

		shown := n.Show(Options{Title: "Martha"})
		assert.False(t, shown)
	})
}

func TestSound(t *testing.T) {
	t.Run("system beep plays", func(t *testing.T) {
		n, sender, alert, _ := newTestNotifier(t, false)

		n.Show(Options{Title: "x", Sound: true})
		assert.Equal(t, 1, sender.beeps)
		assert.Zero(t, alert.alerts)
	})

	t.Run("falls back to synthesized alert", func(t *testing.T) {
		n, sender, alert, _ := newTestNotifier(t, false)
		sender.beepErr = fmt.Errorf("no beep")

		n.Show(Options{Title: "x", Sound: true})
		assert.Equal(t, 1, alert.alerts)
	})

	t.Run("throttled within the window", func(t *testing.T) {
		env := platform.NewSimulated(false, true)
		sender := &fakeSender{}
		clk := testutil.MockClock()
		n := NewNotifier(env, &fakeAlert{}, clk, testutil.TestLogger(t))
		n.SetSender(sender)

		n.Show(Options{Title: "a", Sound: true})
		n.Show(Options{Title: "b", Sound: true})
		assert.Equal(t, 1, sender.beeps, "burst of messages produces one sound")

		clk.Add(3 * time.Second)
		n.Show(Options{Title: "c", Sound: true})
		assert.Equal(t, 2, sender.beeps)
	})
}

func TestTagDeduplication(t *testing.T) {
	env := platform.NewSimulated(false, true)
	sender := &fakeSender{}
	clk := testutil.MockClock()
	n := NewNotifier(env, &fakeAlert{}, clk, testutil.TestLogger(t))
	n.SetSender(sender)

	require.True(t, n.Show(Options{Title: "a", Tag: "c1"}))
	assert.False(t, n.Show(Options{Title: "b", Tag: "c1"}), "same tag inside the dismiss window is suppressed")
	assert.True(t, n.Show(Options{Title: "c", Tag: "c2"}), "other tags are unaffected")

	clk.Add(6 * time.Second)
	assert.True(t, n.Show(Options{Title: "d", Tag: "c1"}), "tag is free again after auto-dismiss")
}

func TestClose(t *testing.T) {
	n, _, _, _ := newTestNotifier(t, false)
	n.Show(Options{Title: "a", Tag: "c1"})
	n.Close()
}
