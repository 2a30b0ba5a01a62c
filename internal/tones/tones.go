// Package tones procedurally generates the call-state audio cues: no audio
// files ship with the application. Each tone is a schedule of sine bursts
// rendered to PCM and played on a shared output device.
package tones

import (
	"log"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const SampleRate = 44100

// Stopper is the handle returned for repeating tones.
type Stopper interface {
	Stop()
}

// Segment is one burst within a pattern. Freq 0 means silence.
type Segment struct {
	Freq     float64
	Duration time.Duration
}

// Pattern describes a tone: the burst sequence and, for repeating tones,
// the interval between repeats measured start-to-start.
type Pattern struct {
	Name     string
	Segments []Segment
	Repeat   time.Duration
}

var (
	ringtonePattern = Pattern{
		Name: "ringtone",
		Segments: []Segment{
			{Freq: 440, Duration: 400 * time.Millisecond},
			{Freq: 0, Duration: 200 * time.Millisecond},
			{Freq: 480, Duration: 400 * time.Millisecond},
		},
		Repeat: 3 * time.Second,
	}
	callingPattern = Pattern{
		Name: "calling",
		Segments: []Segment{
			{Freq: 425, Duration: time.Second},
		},
		Repeat: 4 * time.Second,
	}
	busyPattern = Pattern{
		Name: "busy",
		Segments: []Segment{
			{Freq: 425, Duration: 250 * time.Millisecond},
		},
		Repeat: 500 * time.Millisecond,
	}
	connectedPattern = Pattern{
		Name: "connected",
		Segments: []Segment{
			{Freq: 600, Duration: 80 * time.Millisecond},
			{Freq: 0, Duration: 40 * time.Millisecond},
			{Freq: 800, Duration: 80 * time.Millisecond},
		},
	}
	endCallPattern = Pattern{
		Name: "end_call",
		Segments: []Segment{
			{Freq: 480, Duration: 120 * time.Millisecond},
			{Freq: 0, Duration: 30 * time.Millisecond},
			{Freq: 360, Duration: 160 * time.Millisecond},
		},
	}
	alertPattern = Pattern{
		Name: "alert",
		Segments: []Segment{
			{Freq: 880, Duration: 150 * time.Millisecond},
		},
	}
)

// Synth renders tone patterns on a lazily created shared device. If the
// device cannot be opened, every tone degrades to a silent no-op.
type Synth struct {
	log      *log.Logger
	clock    clock.Clock
	deviceFn func() (Device, error)

	mu     sync.Mutex
	device Device
}

func NewSynth(deviceFn func() (Device, error), clk clock.Clock, logger *log.Logger) *Synth {
	if deviceFn == nil {
		deviceFn = func() (Device, error) { return NewOtoDevice(SampleRate) }
	}
	return &Synth{
		log:      logger,
		clock:    clk,
		deviceFn: deviceFn,
	}
}

func (s *Synth) getDevice() Device {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device == nil {
		dev, err := s.deviceFn()
		if err != nil {
			s.log.Println("audio device unavailable:", err)
			dev = NullDevice{}
		}
		s.device = dev
	}
	return s.device
}

func (s *Synth) Ringtone() Stopper    { return s.playRepeating(ringtonePattern) }
func (s *Synth) CallingTone() Stopper { return s.playRepeating(callingPattern) }
func (s *Synth) BusyTone() Stopper    { return s.playRepeating(busyPattern) }

func (s *Synth) Connected() { s.playOnce(connectedPattern) }
func (s *Synth) EndCall()   { s.playOnce(endCallPattern) }
func (s *Synth) Alert()     { s.playOnce(alertPattern) }

func (s *Synth) playOnce(p Pattern) {
	s.getDevice().Play(render(p, SampleRate))
}

func (s *Synth) playRepeating(p Pattern) *Handle {
	h := &Handle{synth: s}
	s.playOnce(p)
	h.schedule(p)
	return h
}

// Handle controls one repeating tone. Stop cancels the pending repeat and
// silences in-flight playback; calling it twice is safe.
type Handle struct {
	synth *Synth

	mu      sync.Mutex
	stopped bool
	timer   *clock.Timer
}

func (h *Handle) schedule(p Pattern) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return
	}
	h.timer = h.synth.clock.AfterFunc(p.Repeat, func() {
		h.mu.Lock()
		stopped := h.stopped
		h.mu.Unlock()
		if stopped {
			return
		}
		h.synth.playOnce(p)
		h.schedule(p)
	})
}

func (h *Handle) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	h.mu.Unlock()

	h.synth.getDevice().Stop()
}

// Pending reports whether a repeat is still scheduled. Used by tests.
func (h *Handle) Pending() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.stopped && h.timer != nil
}

// Close releases the shared device.
func (s *Synth) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device == nil {
		return nil
	}
	err := s.device.Close()
	s.device = nil
	return err
}

// render produces the PCM samples for one pass over the pattern. A short
// linear attack/decay envelope on each burst avoids audible clicks.
func render(p Pattern, sampleRate int) []int16 {
	var total int
	for _, seg := range p.Segments {
		total += int(float64(sampleRate) * seg.Duration.Seconds())
	}

	samples := make([]int16, 0, total)
	for _, seg := range p.Segments {
		n := int(float64(sampleRate) * seg.Duration.Seconds())
		if seg.Freq == 0 {
			samples = append(samples, make([]int16, n)...)
			continue
		}

		ramp := sampleRate / 200 // 5ms
		if ramp*2 > n {
			ramp = n / 2
		}
		for i := 0; i < n; i++ {
			v := math.Sin(2 * math.Pi * seg.Freq * float64(i) / float64(sampleRate))
			env := 1.0
			if i < ramp {
				env = float64(i) / float64(ramp)
			} else if n-i < ramp {
				env = float64(n-i) / float64(ramp)
			}
			samples = append(samples, int16(v*env*0.6*math.MaxInt16))
		}
	}
	return samples
}
