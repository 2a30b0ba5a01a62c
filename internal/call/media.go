package call

import "context"

// NullMedia is a MediaSession for hosts without camera or microphone
// access, such as the CLI. All operations succeed and hold nothing.
type NullMedia struct{}

func (NullMedia) Acquire(context.Context, bool) error { return nil }
func (NullMedia) SetMuted(bool)                       {}
func (NullMedia) SetVideoEnabled(bool)                {}
func (NullMedia) SetSpeakerOn(bool)                   {}
func (NullMedia) Release()                            {}
