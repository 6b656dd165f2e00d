package pipeline

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rbright/hark/internal/audio"
	"github.com/rbright/hark/internal/metrics"
	"github.com/rbright/hark/internal/recognizer"
)

// Deps are the collaborators shared by the three workers of a session.
type Deps struct {
	Source  audio.Source
	Service recognizer.Service
	Hooks   Hooks
	Metrics *metrics.Metrics
	Logger  zerolog.Logger

	// OpenRecorder opens the debug recording when Config.DebugDir is set.
	// Nil means a WAV file via audio.NewWAVRecorder.
	OpenRecorder func(dir, name string, sampleRate int) (Recorder, error)
}

// Recorder persists resampled blocks of one session.
type Recorder interface {
	Write(block []int16) error
	Close() error
}

func (d Deps) openRecorder(dir, name string, sampleRate int) (Recorder, error) {
	if d.OpenRecorder != nil {
		return d.OpenRecorder(dir, name, sampleRate)
	}
	rec, err := audio.NewWAVRecorder(dir, name, sampleRate)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// guard runs fn and converts a panic into an error so that no worker
// terminates silently.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()
	return fn()
}
