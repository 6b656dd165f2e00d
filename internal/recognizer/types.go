// Package recognizer defines the remote recognition service contract and a
// gRPC binding for it.
package recognizer

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Cookie correlates the uploads and polls of one utterance.
type Cookie string

func NewCookie() Cookie {
	return Cookie(uuid.NewString())
}

// ResultKind selects what a poll asks the service for.
type ResultKind int

const (
	KindSTT ResultKind = iota // transcript only
	KindAll                   // transcript plus every semantic result
	KindNLI                   // transcript plus structured intent
)

func (k ResultKind) String() string {
	switch k {
	case KindSTT:
		return "stt"
	case KindAll:
		return "all"
	case KindNLI:
		return "nli"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func ParseResultKind(raw string) (ResultKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "stt":
		return KindSTT, nil
	case "all":
		return KindAll, nil
	case "nli":
		return KindNLI, nil
	default:
		return KindSTT, fmt.Errorf("unknown result kind %q (want stt, nli or all)", raw)
	}
}

// Upload is one batch of encoded audio.
type Upload struct {
	Cookie     Cookie
	Audio      []byte
	Final      bool
	Encoding   string
	SampleRate int
}

type UploadResponse struct {
	OK           bool
	ErrorCode    string
	ErrorMessage string
}

// Err converts a non-ok response into a *NetworkError.
func (r UploadResponse) Err() error {
	if r.OK {
		return nil
	}
	return &NetworkError{Op: "upload audio", Code: r.ErrorCode, Message: r.ErrorMessage}
}

// Query asks for the current result of an utterance. Hint is only sent for
// NLI and All queries.
type Query struct {
	Cookie Cookie
	Kind   ResultKind
	Hint   map[string]any
}

type Transcript struct {
	Text     string `json:"text"`
	Complete bool   `json:"complete"`
	Status   int    `json:"status"`
}

type PollResponse struct {
	OK           bool
	ErrorCode    string
	ErrorMessage string
	HasData      bool
	Transcript   Transcript
	NLI          map[string]any
}

// Err converts a non-ok response into a *NetworkError.
func (r PollResponse) Err() error {
	if r.OK {
		return nil
	}
	return &NetworkError{Op: "poll result", Code: r.ErrorCode, Message: r.ErrorMessage}
}

// Service is the remote recognition service. Both calls are synchronous; the
// pipeline never retries them.
type Service interface {
	UploadAudio(ctx context.Context, upload Upload) (UploadResponse, error)
	PollResult(ctx context.Context, query Query) (PollResponse, error)
}
