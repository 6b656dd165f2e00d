// Package cue plays short audible tones when a session starts, stops,
// completes or is cancelled.
package cue

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rbright/hark/internal/fsm"
	"github.com/rbright/hark/internal/session"
)

type Kind int

const (
	Start Kind = iota + 1
	Stop
	Complete
	Cancel
)

func (k Kind) String() string {
	switch k {
	case Start:
		return "start"
	case Stop:
		return "stop"
	case Complete:
		return "complete"
	case Cancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// Player renders mono int16 PCM at SampleRate.
type Player interface {
	Play(samples []int16) error
}

// Cues maps session events to tones and plays them one at a time off the
// caller's goroutine. A cue that arrives while the queue is full is skipped.
type Cues struct {
	player Player
	log    zerolog.Logger

	queue chan Kind
	wg    sync.WaitGroup
	once  sync.Once
}

func New(player Player, log zerolog.Logger) *Cues {
	c := &Cues{
		player: player,
		log:    log.With().Str("component", "cue").Logger(),
		queue:  make(chan Kind, 4),
	}
	c.wg.Add(1)
	go c.loop()
	return c
}

// Observe queues the cue for ev, if any.
func (c *Cues) Observe(ev session.Event) {
	kind, ok := ForEvent(ev)
	if !ok {
		return
	}
	select {
	case c.queue <- kind:
	default:
		c.log.Debug().Stringer("cue", kind).Msg("cue skipped; player busy")
	}
}

// Close waits for queued cues to finish playing.
func (c *Cues) Close() {
	c.once.Do(func() { close(c.queue) })
	c.wg.Wait()
}

func (c *Cues) loop() {
	defer c.wg.Done()
	for kind := range c.queue {
		if err := c.player.Play(Samples(kind)); err != nil {
			c.log.Warn().Err(err).Stringer("cue", kind).Msg("cue playback failed")
		}
	}
}

// ForEvent picks the cue announced by ev.
func ForEvent(ev session.Event) (Kind, bool) {
	switch ev.Kind {
	case session.CaptureStateChanged:
		switch ev.Capture {
		case fsm.CaptureRecording:
			return Start, true
		case fsm.CaptureStopping:
			return Stop, true
		}
	case session.RecognizeStateChanged:
		if ev.Final && errors.Is(ev.Err, session.ErrCancelled) {
			return Cancel, true
		}
		if ev.Recognize == fsm.RecognizeCompleted {
			return Complete, true
		}
	}
	return 0, false
}
