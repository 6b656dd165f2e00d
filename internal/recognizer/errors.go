package recognizer

import (
	"errors"
	"fmt"
)

// ErrNetwork matches every *NetworkError via errors.Is.
var ErrNetwork = errors.New("recognizer request failed")

// NetworkError is a failed upload or poll: either a transport error or a
// response that was not ok.
type NetworkError struct {
	Op      string
	Code    string
	Message string
	Err     error
}

func (e *NetworkError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Message)
	case e.Code != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	default:
		return fmt.Sprintf("%s: response not ok", e.Op)
	}
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }
