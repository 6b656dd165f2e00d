// Package fsm holds the pure transition tables for the capture and recognize
// state machines. The session controller owns the current states and serializes
// calls into these tables.
package fsm

import "fmt"

type CaptureState string

type RecognizeState string

type Event string

const (
	CaptureStopped      CaptureState = "stopped"
	CaptureInitializing CaptureState = "initializing"
	CaptureInitialized  CaptureState = "initialized"
	CaptureRecording    CaptureState = "recording"
	CaptureStopping     CaptureState = "stopping"
	CaptureError        CaptureState = "error"
)

const (
	RecognizeStopped      RecognizeState = "stopped"
	RecognizeInitializing RecognizeState = "initializing"
	RecognizeProcessing   RecognizeState = "processing"
	RecognizeCompleted    RecognizeState = "completed"
	RecognizeError        RecognizeState = "error"
)

const (
	// capture events
	EventStart  Event = "start"
	EventReady  Event = "ready"
	EventRecord Event = "record"
	EventStop   Event = "stop"
	EventExit   Event = "exit"

	// recognize events
	EventInit     Event = "init"
	EventProcess  Event = "process"
	EventComplete Event = "complete"

	// shared
	EventFail  Event = "fail"
	EventReset Event = "reset"
)

// Capture applies event to the capture machine. EventFail and EventReset are
// accepted from every state.
func Capture(current CaptureState, event Event) (CaptureState, error) {
	switch event {
	case EventFail:
		return CaptureError, nil
	case EventReset:
		return CaptureStopped, nil
	}

	switch current {
	case CaptureStopped:
		switch event {
		case EventStart:
			return CaptureInitializing, nil
		default:
			return current, invalidTransition(current, event)
		}
	case CaptureInitializing:
		switch event {
		case EventReady:
			return CaptureInitialized, nil
		case EventStop:
			return CaptureStopping, nil
		default:
			return current, invalidTransition(current, event)
		}
	case CaptureInitialized:
		switch event {
		case EventRecord:
			return CaptureRecording, nil
		case EventStop:
			return CaptureStopping, nil
		default:
			return current, invalidTransition(current, event)
		}
	case CaptureRecording:
		switch event {
		case EventStop:
			return CaptureStopping, nil
		case EventExit:
			return CaptureStopped, nil
		default:
			return current, invalidTransition(current, event)
		}
	case CaptureStopping:
		switch event {
		case EventStop:
			return CaptureStopping, nil
		case EventExit:
			return CaptureStopped, nil
		default:
			return current, invalidTransition(current, event)
		}
	case CaptureError:
		return current, invalidTransition(current, event)
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

// Recognize applies event to the recognize machine. EventFail and EventReset
// are accepted from every state; EventReset always lands in stopped.
func Recognize(current RecognizeState, event Event) (RecognizeState, error) {
	switch event {
	case EventFail:
		return RecognizeError, nil
	case EventReset:
		return RecognizeStopped, nil
	}

	switch current {
	case RecognizeStopped:
		switch event {
		case EventInit:
			return RecognizeInitializing, nil
		case EventProcess:
			return RecognizeProcessing, nil
		default:
			return current, invalidTransition(current, event)
		}
	case RecognizeInitializing:
		switch event {
		case EventProcess:
			return RecognizeProcessing, nil
		default:
			return current, invalidTransition(current, event)
		}
	case RecognizeProcessing:
		switch event {
		case EventProcess:
			return RecognizeProcessing, nil
		case EventComplete:
			return RecognizeCompleted, nil
		default:
			return current, invalidTransition(current, event)
		}
	case RecognizeCompleted, RecognizeError:
		return current, invalidTransition(current, event)
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

func invalidTransition[S ~string](state S, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
