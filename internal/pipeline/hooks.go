package pipeline

import (
	"github.com/rbright/hark/internal/fsm"
	"github.com/rbright/hark/internal/recognizer"
)

// Hooks is how workers drive the session's state machines and report to the
// listener. Implementations serialise transitions and must not block.
type Hooks interface {
	CaptureState() fsm.CaptureState
	FireCapture(event fsm.Event, cause error)
	FireRecognize(event fsm.Event, cause error)
	Volume(level int)
	Result(resp recognizer.PollResponse)
	ServerError(err error)
	Exception(err error)
}
