// Package pipeline runs the capture, upload and poll workers of one
// recognition session.
package pipeline

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rbright/hark/internal/recognizer"
)

var ErrQueueClosed = errors.New("audio queue is closed")

// Session is the state shared by the workers of one recognition attempt.
// Each flag has a single writer: speech and captureDone belong to the capture
// worker, finalSent and results to the upload worker.
type Session struct {
	Cookie recognizer.Cookie
	Config Config
	Queue  *Queue

	speech      atomic.Bool
	captureDone atomic.Bool
	finalSent   atomic.Bool

	resultsOnce sync.Once
	results     chan struct{}
}

// NewSession normalises cfg and allocates a fresh queue and cookie.
func NewSession(cfg Config) *Session {
	cfg = cfg.Normalized()
	return &Session{
		Cookie:  recognizer.NewCookie(),
		Config:  cfg,
		Queue:   NewQueue(cfg.QueueCapacity),
		results: make(chan struct{}),
	}
}

// SpeechBegun reports whether the capture worker confirmed speech.
func (s *Session) SpeechBegun() bool { return s.speech.Load() }

// CaptureDone reports whether the capture worker has exited.
func (s *Session) CaptureDone() bool { return s.captureDone.Load() }

// SpeechActive is true while confirmed speech is still being captured.
func (s *Session) SpeechActive() bool {
	return s.speech.Load() && !s.captureDone.Load()
}

// FinalSent reports whether the final unit was uploaded.
func (s *Session) FinalSent() bool { return s.finalSent.Load() }

// ResultsReady is closed after the first successful upload.
func (s *Session) ResultsReady() <-chan struct{} { return s.results }

func (s *Session) enableResults() {
	s.resultsOnce.Do(func() { close(s.results) })
}
