// Package platform abstracts the host environment signals the messaging
// core depends on: window focus and page visibility. The real application
// shell implements Environment against its windowing toolkit; tests and the
// CLI use the implementations in this package.
package platform

import "sync"

type Environment interface {
	// IsFocused reports whether the application window currently has focus.
	IsFocused() bool
	// IsVisible reports whether the application is visible (not minimized
	// or in a background tab).
	IsVisible() bool
	// OnFocusChange registers a callback fired on every focus transition.
	OnFocusChange(fn func(focused bool))
	// OnVisibilityChange registers a callback fired on every visibility
	// transition.
	OnVisibilityChange(fn func(visible bool))
}

// Headless is the Environment for hosts with no window at all, such as the
// CLI. It is always visible and never focused, so notifications are always
// delivered and the transport never waits on a focus event it cannot get.
type Headless struct{}

func (Headless) IsFocused() bool                       { return false }
func (Headless) IsVisible() bool                       { return true }
func (Headless) OnFocusChange(func(focused bool))      {}
func (Headless) OnVisibilityChange(func(visible bool)) {}

// Simulated is a test double with synthetic focus and visibility events.
type Simulated struct {
	mu            sync.Mutex
	focused       bool
	visible       bool
	focusFns      []func(bool)
	visibilityFns []func(bool)
}

func NewSimulated(focused, visible bool) *Simulated {
	return &Simulated{focused: focused, visible: visible}
}

func (s *Simulated) IsFocused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.focused
}

func (s *Simulated) IsVisible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible
}

func (s *Simulated) OnFocusChange(fn func(bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.focusFns = append(s.focusFns, fn)
}

func (s *Simulated) OnVisibilityChange(fn func(bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visibilityFns = append(s.visibilityFns, fn)
}

// SetFocused flips focus state and fires registered callbacks.
func (s *Simulated) SetFocused(focused bool) {
	s.mu.Lock()
	s.focused = focused
	fns := make([]func(bool), len(s.focusFns))
	copy(fns, s.focusFns)
	s.mu.Unlock()

	for _, fn := range fns {
		fn(focused)
	}
}

// SetVisible flips visibility state and fires registered callbacks.
func (s *Simulated) SetVisible(visible bool) {
	s.mu.Lock()
	s.visible = visible
	fns := make([]func(bool), len(s.visibilityFns))
	copy(fns, s.visibilityFns)
	s.mu.Unlock()

	for _, fn := range fns {
		fn(visible)
	}
}
