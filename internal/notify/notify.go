// Package notify wraps the platform notification capability. It gates on
// window focus, throttles alert sounds, and never lets a platform failure
// escape its boundary.
package notify

import (
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gen2brain/beeep"
	"github.com/parishlink/messaging/internal/platform"
)

const (
	// dismissDelay is how long a notification stays relevant for tag-based
	// duplicate suppression before it is considered dismissed.
	dismissDelay = 5 * time.Second
	// soundThrottle keeps a burst of messages from producing a burst of
	// alert sounds.
	soundThrottle = 2 * time.Second
)

type Category string

const (
	CategoryMessage   Category = "message"
	CategoryBroadcast Category = "broadcast"
	CategoryCall      Category = "call"
)

type Options struct {
	Title    string
	Body     string
	Category Category
	// RequireInteraction pins the notification: it is shown even when the
	// window is focused and is exempt from auto-dismiss bookkeeping.
	RequireInteraction bool
	Sound              bool
	// Tag deduplicates: a second notification with the same tag inside the
	// dismiss window is suppressed.
	Tag string
}

// Sender is the delivery seam; the default implementation uses the system
// notification service via beeep.
type Sender interface {
	Notify(title, body string) error
	Beep() error
}

type systemSender struct{}

func (systemSender) Notify(title, body string) error {
	return beeep.Notify(title, body, "")
}

func (systemSender) Beep() error {
	return beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration)
}

// AlertPlayer is the synthesized fallback when the system beep fails.
type AlertPlayer interface {
	Alert()
}

type Notifier struct {
	log    *log.Logger
	clock  clock.Clock
	env    platform.Environment
	sender Sender
	alert  AlertPlayer

	mu        sync.Mutex
	lastSound time.Time
	active    map[string]*clock.Timer
}

func NewNotifier(env platform.Environment, alert AlertPlayer, clk clock.Clock, logger *log.Logger) *Notifier {
	return &Notifier{
		log:    logger,
		clock:  clk,
		env:    env,
		sender: systemSender{},
		alert:  alert,
		active: make(map[string]*clock.Timer),
	}
}

// SetSender replaces the delivery mechanism. Used by tests.
func (n *Notifier) SetSender(s Sender) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sender = s
}

// Show delivers a notification unless the window is focused (the in-app UI
// already shows the update) or an identical tag is still outstanding.
// Returns whether the notification was actually shown; every failure path
// degrades to a no-op.
func (n *Notifier) Show(opts Options) bool {
	if n.env.IsFocused() && !opts.RequireInteraction {
		return false
	}

	n.mu.Lock()
	if opts.Tag != "" {
		if _, outstanding := n.active[opts.Tag]; outstanding {
			n.mu.Unlock()
			return false
		}
	}
	sender := n.sender
	n.mu.Unlock()

	if err := sender.Notify(opts.Title, opts.Body); err != nil {
		n.log.Println("show notification:", err)
		return false
	}

	if opts.Sound {
		n.playSound(sender)
	}

	if opts.Tag != "" && !opts.RequireInteraction {
		n.mu.Lock()
		tag := opts.Tag
		n.active[tag] = n.clock.AfterFunc(dismissDelay, func() {
			n.mu.Lock()
			delete(n.active, tag)
			n.mu.Unlock()
		})
		n.mu.Unlock()
	}

	return true
}

func (n *Notifier) playSound(sender Sender) {
	n.mu.Lock()
	if !n.lastSound.IsZero() && n.clock.Now().Sub(n.lastSound) < soundThrottle {
		n.mu.Unlock()
		return
	}
	n.lastSound = n.clock.Now()
	n.mu.Unlock()

	if err := sender.Beep(); err != nil {
		n.log.Println("system beep failed, falling back to synthesized alert:", err)
		if n.alert != nil {
			n.alert.Alert()
		}
	}
}

// Close cancels outstanding dismiss timers.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for tag, timer := range n.active {
		timer.Stop()
		delete(n.active, tag)
	}
}
