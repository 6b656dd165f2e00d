package session

import (
	"errors"
	"fmt"
)

var (
	// ErrIllegalState rejects Start while a session still owns the capture machine.
	ErrIllegalState = errors.New("illegal session state")
	// ErrPriorSessionBusy means the previous session did not finish tearing
	// down within the start wait bound.
	ErrPriorSessionBusy = fmt.Errorf("%w: prior session still finishing", ErrIllegalState)
	// ErrTimeout ends a session that exceeded its end-to-end timeout. It is
	// reported with the final stopped notice, not as an error event.
	ErrTimeout = errors.New("session timed out")
	// ErrCancelled is attached to the final stopped notice of a cancelled session.
	ErrCancelled = errors.New("session cancelled")
	ErrNoSource  = errors.New("no audio source configured")
)
