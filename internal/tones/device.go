package tones

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/hajimehoshi/oto/v2"
)

// Device plays raw 16-bit mono PCM samples. It exists so tests can run the
// synthesizer against a silent fake and so audio-init failure degrades the
// whole subsystem to a no-op.
type Device interface {
	Play(samples []int16)
	// Stop silences any in-flight playback.
	Stop()
	Close() error
}

// NullDevice swallows all playback. Used when audio output is unavailable.
type NullDevice struct{}

func (NullDevice) Play([]int16) {}
func (NullDevice) Stop()        {}
func (NullDevice) Close() error { return nil }

// otoDevice plays PCM through the platform audio output. A single oto
// context is created per device and reused for every burst, since the
// platform allows a limited number of concurrent audio contexts.
type otoDevice struct {
	ctx *oto.Context

	mu     sync.Mutex
	player oto.Player
}

func NewOtoDevice(sampleRate int) (Device, error) {
	ctx, ready, err := oto.NewContext(sampleRate, 1, 2)
	if err != nil {
		return nil, fmt.Errorf("open audio context: %w", err)
	}
	<-ready

	return &otoDevice{ctx: ctx}, nil
}

func (d *otoDevice) Play(samples []int16) {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.player != nil {
		d.player.Close()
	}
	d.player = d.ctx.NewPlayer(bytes.NewReader(buf))
	d.player.Play()
}

func (d *otoDevice) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.player != nil {
		d.player.Close()
		d.player = nil
	}
}

func (d *otoDevice) Close() error {
	d.Stop()
	return nil
}
