// Package call implements the signaling state machine for the single
// peer-to-peer call a client may have at a time. Signaling rides the same
// push transport as messaging; media transport belongs to the MediaSession
// collaborator and is out of scope here.
package call

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/parishlink/messaging/internal/events"
	"github.com/parishlink/messaging/internal/stats"
	"github.com/parishlink/messaging/internal/tones"
	"github.com/parishlink/messaging/internal/types"
	"github.com/teris-io/shortid"
)

type Status string

const (
	StatusIdle       Status = "idle"
	StatusCalling    Status = "calling"
	StatusRinging    Status = "ringing"
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
)

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// End reasons carried on call_ended signals.
const (
	ReasonHangup   = "hangup"
	ReasonRejected = "rejected"
	ReasonBusy     = "busy"
	ReasonMissed   = "missed"
)

// busyToneDuration bounds how long the busy cadence plays after the remote
// side rejects with busy.
const busyToneDuration = 2 * time.Second

// MediaSession owns the local camera and microphone tracks for the active
// call. Tracks must be released on every transition to idle or subsequent
// calls cannot acquire the devices.
type MediaSession interface {
	Acquire(ctx context.Context, video bool) error
	SetMuted(muted bool)
	SetVideoEnabled(enabled bool)
	SetSpeakerOn(on bool)
	Release()
}

// Signaler sends outbound call signals to the backend.
type Signaler interface {
	SendCallOffer(ctx context.Context, callId, calleeId, callType string) error
	SendCallAnswer(ctx context.Context, callId string, accepted bool) error
	SendCallHangup(ctx context.Context, callId string) error
	SendCallBusy(ctx context.Context, callId string) error
}

// Tones is the audio cue surface the machine drives on transitions.
type Tones interface {
	Ringtone() tones.Stopper
	CallingTone() tones.Stopper
	BusyTone() tones.Stopper
	Connected()
	EndCall()
}

// State is a snapshot of the active call.
type State struct {
	Status       Status
	Kind         Kind
	CallId       string
	Peer         types.User
	IsOutgoing   bool
	Muted        bool
	VideoEnabled bool
	SpeakerOn    bool
	StartedAt    time.Time
	Duration     time.Duration
}

type Machine struct {
	log   *log.Logger
	clock clock.Clock
	tones Tones
	media MediaSession
	sig   Signaler
	stats stats.Provider
	idFn  func() string

	mu        sync.Mutex
	state     State
	tone      tones.Stopper
	busyTimer *clock.Timer
	ticker    *clock.Ticker
	tickDone  chan struct{}
	onChange  func(State)
}

func NewMachine(sig Signaler, media MediaSession, t Tones, st stats.Provider, clk clock.Clock, logger *log.Logger) *Machine {
	return &Machine{
		log:   logger,
		clock: clk,
		tones: t,
		media: media,
		sig:   sig,
		stats: st,
		idFn:  shortid.MustGenerate,
		state: State{Status: StatusIdle},
	}
}

// OnChange registers a callback fired with a snapshot after every
// transition or toggle.
func (m *Machine) OnChange(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) emitLocked() func() {
	fn := m.onChange
	snapshot := m.state
	return func() {
		if fn != nil {
			fn(snapshot)
		}
	}
}

// StartCall places an outgoing call: idle → calling, acquires media, sends
// the offer, starts the calling tone.
func (m *Machine) StartCall(ctx context.Context, peer types.User, kind Kind) error {
	m.mu.Lock()
	if m.state.Status != StatusIdle {
		m.mu.Unlock()
		return ErrCallInProgress
	}

	callId := m.idFn()
	m.state = State{
		Status:     StatusCalling,
		Kind:       kind,
		CallId:     callId,
		Peer:       peer,
		IsOutgoing: true,
	}
	m.tone = m.tones.CallingTone()
	emit := m.emitLocked()
	m.mu.Unlock()

	if err := m.media.Acquire(ctx, kind == KindVideo); err != nil {
		m.log.Println("acquire media:", err)
		m.teardown(false)
		return err
	}

	if err := m.sig.SendCallOffer(ctx, callId, peer.Id, string(kind)); err != nil {
		m.log.Println("send call offer:", err)
		m.teardown(false)
		return err
	}

	m.stats.Incr(stats.CallsStarted)
	emit()
	return nil
}

// Accept answers a ringing inbound call: ringing → connecting.
func (m *Machine) Accept(ctx context.Context) error {
	m.mu.Lock()
	if m.state.Status != StatusRinging {
		m.mu.Unlock()
		return ErrNotRinging
	}
	callId := m.state.CallId
	video := m.state.Kind == KindVideo
	m.stopToneLocked()
	m.state.Status = StatusConnecting
	emit := m.emitLocked()
	m.mu.Unlock()

	if err := m.media.Acquire(ctx, video); err != nil {
		m.log.Println("acquire media:", err)
		m.teardown(true)
		return err
	}

	if err := m.sig.SendCallAnswer(ctx, callId, true); err != nil {
		m.log.Println("send call answer:", err)
		m.teardown(true)
		return err
	}

	emit()
	return nil
}

// Reject declines a ringing inbound call and returns to idle.
func (m *Machine) Reject(ctx context.Context) error {
	m.mu.Lock()
	if m.state.Status != StatusRinging {
		m.mu.Unlock()
		return ErrNotRinging
	}
	callId := m.state.CallId
	m.mu.Unlock()

	if err := m.sig.SendCallAnswer(ctx, callId, false); err != nil {
		m.log.Println("send call answer:", err)
	}

	m.teardown(true)
	return nil
}

// Hangup ends the call from any non-idle state.
func (m *Machine) Hangup(ctx context.Context) error {
	m.mu.Lock()
	if m.state.Status == StatusIdle {
		m.mu.Unlock()
		return nil
	}
	callId := m.state.CallId
	m.mu.Unlock()

	if err := m.sig.SendCallHangup(ctx, callId); err != nil {
		m.log.Println("send hangup:", err)
	}

	m.teardown(true)
	return nil
}

// HandleEvent is the machine's bus subscription; it reacts only to call
// signaling events. A signal that is not valid for the current state is
// logged and ignored, never an error: out-of-order signals are expected
// (e.g. a stray connected after a local hangup).
func (m *Machine) HandleEvent(ev events.Event) {
	switch e := ev.(type) {
	case events.CallOffer:
		m.handleOffer(e)
	case events.CallAnswer:
		m.handleAnswer(e)
	case events.CallConnected:
		m.handleConnected(e)
	case events.CallEnded:
		m.handleEnded(e)
	}
}

func (m *Machine) handleOffer(ev events.CallOffer) {
	m.mu.Lock()
	if m.state.Status != StatusIdle {
		callId := m.state.CallId
		m.mu.Unlock()
		// busy-reject: a second inbound offer never overwrites active state
		m.log.Printf("rejecting call offer %q while call %q is active", ev.CallId, callId)
		if err := m.sig.SendCallBusy(context.Background(), ev.CallId); err != nil {
			m.log.Println("send busy:", err)
		}
		return
	}

	kind := KindAudio
	if ev.CallType == string(KindVideo) {
		kind = KindVideo
	}
	m.state = State{
		Status: StatusRinging,
		Kind:   kind,
		CallId: ev.CallId,
		Peer:   ev.From,
	}
	m.tone = m.tones.Ringtone()
	emit := m.emitLocked()
	m.mu.Unlock()

	emit()
}

func (m *Machine) handleAnswer(ev events.CallAnswer) {
	m.mu.Lock()
	if m.state.Status != StatusCalling || ev.CallId != m.state.CallId {
		m.mu.Unlock()
		m.log.Printf("ignoring call_answer in state %s", m.State().Status)
		return
	}

	if !ev.Accepted {
		m.mu.Unlock()
		m.teardown(true)
		return
	}

	m.stopToneLocked()
	m.state.Status = StatusConnecting
	emit := m.emitLocked()
	m.mu.Unlock()

	emit()
}

func (m *Machine) handleConnected(ev events.CallConnected) {
	m.mu.Lock()
	if m.state.Status != StatusConnecting || ev.CallId != m.state.CallId {
		m.mu.Unlock()
		m.log.Printf("ignoring call_connected in state %s", m.State().Status)
		return
	}

	m.state.Status = StatusConnected
	m.state.StartedAt = m.clock.Now()
	m.state.Duration = 0
	m.startTickerLocked()
	emit := m.emitLocked()
	m.mu.Unlock()

	m.tones.Connected()
	emit()
}

func (m *Machine) handleEnded(ev events.CallEnded) {
	m.mu.Lock()
	if m.state.Status == StatusIdle || ev.CallId != m.state.CallId {
		m.mu.Unlock()
		m.log.Printf("ignoring call_ended in state %s", m.State().Status)
		return
	}
	wasCalling := m.state.Status == StatusCalling
	m.mu.Unlock()

	m.teardown(true)

	if wasCalling && ev.Reason == ReasonBusy {
		m.playBusyCadence()
	}
}

// playBusyCadence gives the caller the classic busy signal for a bounded
// interval after a busy reject.
func (m *Machine) playBusyCadence() {
	m.mu.Lock()
	handle := m.tones.BusyTone()
	m.busyTimer = m.clock.AfterFunc(busyToneDuration, handle.Stop)
	m.mu.Unlock()
}

// Toggles are only meaningful while media is being negotiated or flowing;
// in any other state they are ignored and logged.

func (m *Machine) ToggleMute() {
	m.toggle("mute", func(s *State) bool {
		s.Muted = !s.Muted
		m.media.SetMuted(s.Muted)
		return s.Muted
	})
}

func (m *Machine) ToggleVideo() {
	m.toggle("video", func(s *State) bool {
		s.VideoEnabled = !s.VideoEnabled
		m.media.SetVideoEnabled(s.VideoEnabled)
		return s.VideoEnabled
	})
}

func (m *Machine) ToggleSpeaker() {
	m.toggle("speaker", func(s *State) bool {
		s.SpeakerOn = !s.SpeakerOn
		m.media.SetSpeakerOn(s.SpeakerOn)
		return s.SpeakerOn
	})
}

func (m *Machine) toggle(name string, flip func(*State) bool) {
	m.mu.Lock()
	if m.state.Status != StatusConnecting && m.state.Status != StatusConnected {
		status := m.state.Status
		m.mu.Unlock()
		m.log.Printf("ignoring %s toggle in state %s", name, status)
		return
	}
	flip(&m.state)
	emit := m.emitLocked()
	m.mu.Unlock()

	emit()
}

func (m *Machine) startTickerLocked() {
	m.ticker = m.clock.Ticker(time.Second)
	m.tickDone = make(chan struct{})

	go func(ticker *clock.Ticker, done chan struct{}) {
		for {
			select {
			case <-ticker.C:
				m.mu.Lock()
				if m.state.Status == StatusConnected {
					m.state.Duration = m.clock.Now().Sub(m.state.StartedAt)
				}
				emit := m.emitLocked()
				m.mu.Unlock()
				emit()
			case <-done:
				return
			}
		}
	}(m.ticker, m.tickDone)
}

func (m *Machine) stopToneLocked() {
	if m.tone != nil {
		m.tone.Stop()
		m.tone = nil
	}
}

// teardown returns the machine to idle from any state: stops tones and the
// duration ticker, releases media, and optionally plays the end-call cue.
func (m *Machine) teardown(endTone bool) {
	m.mu.Lock()
	m.stopToneLocked()
	if m.busyTimer != nil {
		m.busyTimer.Stop()
		m.busyTimer = nil
	}
	if m.ticker != nil {
		m.ticker.Stop()
		close(m.tickDone)
		m.ticker = nil
		m.tickDone = nil
	}
	wasIdle := m.state.Status == StatusIdle
	m.state = State{Status: StatusIdle}
	emit := m.emitLocked()
	m.mu.Unlock()

	if wasIdle {
		return
	}

	m.media.Release()
	if endTone {
		m.tones.EndCall()
	}
	emit()
}

// Close tears down any active call without the end tone.
func (m *Machine) Close() {
	m.teardown(false)
}
