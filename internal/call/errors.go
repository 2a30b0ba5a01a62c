package call

import "errors"

var (
	// ErrCallInProgress is returned when a call is started while another
	// call is non-idle; at most one call exists per client.
	ErrCallInProgress = errors.New("a call is already in progress")
	// ErrNotRinging is returned when accept or reject is invoked without an
	// inbound call awaiting an answer.
	ErrNotRinging = errors.New("no inbound call is ringing")
)
