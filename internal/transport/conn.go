// Package transport owns the single long-lived server-push channel for the
// authenticated session. It reconnects with capped exponential backoff,
// watches heartbeats for liveness, and republishes every non-internal
// envelope on the event bus. All transport failures are non-fatal to the
// host application.
package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/parishlink/messaging/internal/config"
	"github.com/parishlink/messaging/internal/events"
	"github.com/parishlink/messaging/internal/platform"
	"github.com/parishlink/messaging/internal/stats"
)

const eventsPath = "/api/events"

type ConnManager struct {
	log   *log.Logger
	cfg   *config.Config
	bus   *events.Bus
	env   platform.Environment
	clock clock.Clock
	stats stats.Provider
	httpc *http.Client

	mu             sync.Mutex
	cancel         context.CancelFunc
	connected      bool
	attempts       int
	lastHeartbeat  time.Time
	reconnectTimer *clock.Timer
	watchdog       *clock.Timer
	manual         bool
	closed         bool

	// onReconnectScheduled observes backoff scheduling. Tests only.
	onReconnectScheduled func(attempt int, delay time.Duration)
}

func NewConnManager(cfg *config.Config, bus *events.Bus, env platform.Environment, st stats.Provider, clk clock.Clock, logger *log.Logger) *ConnManager {
	m := &ConnManager{
		log:   logger,
		cfg:   cfg,
		bus:   bus,
		env:   env,
		clock: clk,
		stats: st,
		// no client timeout: the stream is long-lived by design
		httpc: &http.Client{},
	}

	// A focus or visibility gain recovers from background-tab suspension
	// and resets an exhausted backoff counter.
	env.OnFocusChange(func(focused bool) {
		if focused {
			m.rearm()
		}
	})
	env.OnVisibilityChange(func(visible bool) {
		if visible {
			m.rearm()
		}
	})

	return m
}

// Connect opens the push channel. It is a no-op if a stream already exists;
// the manager is the sole owner of the single per-session handle. A dial
// failure schedules a reconnect and is returned for callers that care.
func (m *ConnManager) Connect() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("connection manager is closed")
	}
	if m.cancel != nil {
		m.mu.Unlock()
		return nil
	}
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.mu.Unlock()

	body, err := m.dial(ctx)
	if err != nil {
		cancel()
		m.mu.Lock()
		m.cancel = nil
		manual := m.manual
		m.manual = false
		closed := m.closed
		m.mu.Unlock()

		if !manual && !closed {
			m.log.Println("dial:", err)
			m.scheduleReconnect()
		}
		return err
	}

	m.stats.Incr(stats.TransportConnects)
	go m.readLoop(ctx, body)
	return nil
}

func (m *ConnManager) dial(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.ServerURL+eventsPath, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Authorization", "Bearer "+m.cfg.SessionToken)

	resp, err := m.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("open stream: unexpected status %s", resp.Status)
	}

	return resp.Body, nil
}

// readLoop consumes server-sent-event frames until the stream ends. Data
// lines accumulate until the blank line terminating the event; all other
// SSE fields are ignored since the envelope type travels inside the JSON.
func (m *ConnManager) readLoop(ctx context.Context, body io.ReadCloser) {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if len(data) > 0 {
				m.handleFrame([]byte(strings.Join(data, "\n")))
				data = data[:0]
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if payload, ok := strings.CutPrefix(line, "data:"); ok {
			data = append(data, strings.TrimPrefix(payload, " "))
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		m.log.Println("read stream:", err)
	}

	m.onDisconnect()
}

func (m *ConnManager) handleFrame(raw []byte) {
	m.stats.Incr(stats.TransportFrames)

	var env events.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		m.log.Println("dropping malformed frame:", err)
		m.stats.Incr(stats.TransportDroppedFrames)
		return
	}

	ev, err := env.Decode()
	if err != nil {
		m.log.Println("dropping frame:", err)
		m.stats.Incr(stats.TransportDroppedFrames)
		return
	}

	switch ev.(type) {
	case events.ConnectionEstablished:
		m.mu.Lock()
		m.connected = true
		m.attempts = 0
		m.mu.Unlock()
		m.resetWatchdog()
		m.log.Println("connection established")
	case events.Heartbeat, events.ConnectionTest:
		m.resetWatchdog()
	default:
		m.bus.Publish(ev)
	}
}

func (m *ConnManager) resetWatchdog() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastHeartbeat = m.clock.Now()
	if m.watchdog != nil {
		m.watchdog.Stop()
	}
	m.watchdog = m.clock.AfterFunc(m.cfg.HeartbeatTimeout, m.onHeartbeatMissed)
}

// onHeartbeatMissed tears down a stream that stopped delivering heartbeats;
// the resulting disconnect path schedules the reconnect.
func (m *ConnManager) onHeartbeatMissed() {
	m.log.Printf("no heartbeat within %s, forcing reconnect", m.cfg.HeartbeatTimeout)

	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (m *ConnManager) onDisconnect() {
	m.mu.Lock()
	m.connected = false
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.watchdog != nil {
		m.watchdog.Stop()
		m.watchdog = nil
	}
	manual := m.manual
	m.manual = false
	closed := m.closed
	m.mu.Unlock()

	if closed || manual {
		return
	}

	m.log.Println("connection lost")
	m.scheduleReconnect()
}

// scheduleReconnect arms the backoff timer: delay doubles per attempt up to
// the cap, and after the attempt ceiling only a focus or visibility event
// re-arms the connection.
func (m *ConnManager) scheduleReconnect() {
	m.mu.Lock()
	if m.closed || m.cancel != nil || m.reconnectTimer != nil {
		m.mu.Unlock()
		return
	}
	if m.attempts >= m.cfg.MaxReconnectAttempts {
		m.mu.Unlock()
		m.log.Println("reconnect attempts exhausted, waiting for focus or visibility change")
		return
	}

	delay := m.cfg.ReconnectBase << uint(m.attempts)
	if delay > m.cfg.ReconnectCap {
		delay = m.cfg.ReconnectCap
	}
	m.attempts++
	attempt := m.attempts
	hook := m.onReconnectScheduled

	m.reconnectTimer = m.clock.AfterFunc(delay, func() {
		m.mu.Lock()
		m.reconnectTimer = nil
		m.mu.Unlock()

		m.log.Printf("reconnect attempt %d", attempt)
		m.stats.Incr(stats.TransportReconnects)
		m.Connect()
	})
	m.mu.Unlock()

	m.log.Printf("reconnect attempt %d scheduled in %s", attempt, delay)
	if hook != nil {
		hook(attempt, delay)
	}
}

// rearm resets the backoff counter and dials again, but only when no live
// stream exists.
func (m *ConnManager) rearm() {
	m.mu.Lock()
	if m.closed || m.cancel != nil {
		m.mu.Unlock()
		return
	}
	m.attempts = 0
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.mu.Unlock()

	m.log.Println("re-arming connection")
	m.Connect()
}

// Disconnect idempotently tears down the stream and pending reconnects.
func (m *ConnManager) Disconnect() {
	m.mu.Lock()
	cancel := m.cancel
	if cancel != nil {
		m.manual = true
	}
	m.cancel = nil
	m.connected = false
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	if m.watchdog != nil {
		m.watchdog.Stop()
		m.watchdog = nil
	}
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Close disconnects and prevents any further use.
func (m *ConnManager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.Disconnect()
}

func (m *ConnManager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Attempts returns the current reconnect attempt counter.
func (m *ConnManager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// LastHeartbeat returns the time the last liveness marker was observed.
func (m *ConnManager) LastHeartbeat() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHeartbeat
}
