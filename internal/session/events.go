package session

import (
	"encoding/json"
	"time"

	"github.com/rbright/hark/internal/fsm"
	"github.com/rbright/hark/internal/recognizer"
)

type EventKind string

const (
	CaptureStateChanged   EventKind = "capture_state_changed"
	RecognizeStateChanged EventKind = "recognize_state_changed"
	VolumeChanged         EventKind = "volume_changed"
	ResultChanged         EventKind = "result_changed"
	ServerError           EventKind = "server_error"
	Exception             EventKind = "exception"
)

// Event is one listener notification. Capture and Recognize are populated on
// state events, Level on volume events, Result on result events and Err on
// error events. Final marks the stopped notice that closes a cancelled,
// timed out or failed session.
type Event struct {
	Kind      EventKind
	Session   recognizer.Cookie
	Capture   fsm.CaptureState
	Recognize fsm.RecognizeState
	Level     int
	Result    recognizer.PollResponse
	Err       error
	Final     bool
	At        time.Time
}

// IsError reports whether the event belongs to the class that is delivered
// even while callbacks are suppressed.
func (e Event) IsError() bool {
	switch e.Kind {
	case ServerError, Exception:
		return true
	case CaptureStateChanged:
		return e.Capture == fsm.CaptureError
	case RecognizeStateChanged:
		return e.Recognize == fsm.RecognizeError || e.Final
	default:
		return false
	}
}

type eventJSON struct {
	Kind       EventKind              `json:"kind"`
	Session    recognizer.Cookie      `json:"session"`
	Capture    fsm.CaptureState       `json:"capture,omitempty"`
	Recognize  fsm.RecognizeState     `json:"recognize,omitempty"`
	Level      *int                   `json:"level,omitempty"`
	Transcript *recognizer.Transcript `json:"transcript,omitempty"`
	NLI        map[string]any         `json:"nli,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Final      bool                   `json:"final,omitempty"`
	At         time.Time              `json:"at"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	out := eventJSON{
		Kind:      e.Kind,
		Session:   e.Session,
		Capture:   e.Capture,
		Recognize: e.Recognize,
		Final:     e.Final,
		At:        e.At,
	}
	switch e.Kind {
	case VolumeChanged:
		level := e.Level
		out.Level = &level
	case ResultChanged:
		transcript := e.Result.Transcript
		out.Transcript = &transcript
		out.NLI = e.Result.NLI
	}
	if e.Err != nil {
		out.Error = e.Err.Error()
	}
	return json.Marshal(out)
}
