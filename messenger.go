// Package messaging wires the real-time messaging core: the push transport,
// the conversation/message reconciliation engine, the call signaling state
// machine, typing indicators, tones, and notifications. Everything is
// explicitly constructed and injected so hosts control lifecycle and tests
// run isolated instances.
package messaging

import (
	"fmt"
	"log"
	"os"

	"github.com/benbjohnson/clock"
	"github.com/parishlink/messaging/internal/apiclient"
	"github.com/parishlink/messaging/internal/call"
	"github.com/parishlink/messaging/internal/config"
	"github.com/parishlink/messaging/internal/events"
	"github.com/parishlink/messaging/internal/notify"
	"github.com/parishlink/messaging/internal/platform"
	"github.com/parishlink/messaging/internal/session"
	"github.com/parishlink/messaging/internal/stats"
	"github.com/parishlink/messaging/internal/store"
	"github.com/parishlink/messaging/internal/tones"
	"github.com/parishlink/messaging/internal/transport"
	"github.com/parishlink/messaging/internal/types"
	"github.com/parishlink/messaging/internal/typing"
)

// Re-exported snapshot types so hosts driving the facade need only the
// root package.
type (
	CallState    = call.State
	Conversation = types.Conversation
	Message      = types.Message
)

// Deps are the host-provided collaborators. Zero values get sensible
// defaults: real clock, headless environment, no media, discarded stats.
type Deps struct {
	Logger     *log.Logger
	Clock      clock.Clock
	Env        platform.Environment
	Media      call.MediaSession
	Stats      stats.Provider
	ToneDevice func() (tones.Device, error)
}

type Messenger struct {
	log      *log.Logger
	cfg      *config.Config
	sess     *session.Session
	bus      *events.Bus
	conn     *transport.ConnManager
	store    *store.Store
	calls    *call.Machine
	tracker  *typing.Tracker
	synth    *tones.Synth
	notifier *notify.Notifier
}

func New(cfg *config.Config, deps Deps) (*Messenger, error) {
	logger := deps.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[messaging] ", log.LstdFlags)
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}
	env := deps.Env
	if env == nil {
		env = platform.Headless{}
	}
	media := deps.Media
	if media == nil {
		media = call.NullMedia{}
	}
	st := deps.Stats
	if st == nil {
		st = stats.Noop{}
	}

	sess, err := session.Parse(cfg.SessionToken)
	if err != nil {
		return nil, fmt.Errorf("parse session: %w", err)
	}
	if sess.Expired(clk.Now()) {
		return nil, fmt.Errorf("session token expired at %s", sess.ExpiresAt)
	}

	api := apiclient.New(cfg.ServerURL, cfg.SessionToken, logger)
	synth := tones.NewSynth(deps.ToneDevice, clk, logger)
	notifier := notify.NewNotifier(env, synth, clk, logger)
	tracker := typing.NewTracker(cfg.TypingTimeout, clk, logger)
	convStore := store.NewStore(sess.UserId, api, notifier, tracker, st, clk, logger)
	machine := call.NewMachine(api, media, synth, st, clk, logger)

	bus := events.NewBus(logger)
	bus.Subscribe(convStore.HandleEvent)
	bus.Subscribe(machine.HandleEvent)

	conn := transport.NewConnManager(cfg, bus, env, st, clk, logger)

	return &Messenger{
		log:      logger,
		cfg:      cfg,
		sess:     sess,
		bus:      bus,
		conn:     conn,
		store:    convStore,
		calls:    machine,
		tracker:  tracker,
		synth:    synth,
		notifier: notifier,
	}, nil
}

// Connect opens the push channel. Failures are non-fatal: the transport
// keeps retrying with backoff and the UI renders from last-reconciled
// state.
func (m *Messenger) Connect() error {
	return m.conn.Connect()
}

// Close tears down the transport, timers, and audio resources.
func (m *Messenger) Close() {
	m.conn.Close()
	m.calls.Close()
	m.tracker.Close()
	m.notifier.Close()
	if err := m.synth.Close(); err != nil {
		m.log.Println("close audio:", err)
	}
}

func (m *Messenger) Store() *store.Store        { return m.store }
func (m *Messenger) Calls() *call.Machine       { return m.calls }
func (m *Messenger) Notifier() *notify.Notifier { return m.notifier }
func (m *Messenger) Session() *session.Session  { return m.sess }
func (m *Messenger) IsConnected() bool          { return m.conn.IsConnected() }
