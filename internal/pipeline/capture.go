package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/rbright/hark/internal/audio"
	"github.com/rbright/hark/internal/fsm"
	"github.com/rbright/hark/internal/vad"
)

// RunCapture drives the audio source until capture leaves RECORDING, the VAD
// ends the utterance, or ctx is cancelled. On exit it releases the source,
// closes the queue and reports the exit to the capture machine.
func RunCapture(ctx context.Context, s *Session, d Deps) {
	log := d.Logger.With().Str("worker", "capture").Logger()

	err := guard(func() error { return capture(ctx, s, d, log) })

	if rerr := d.Source.Release(); rerr != nil {
		log.Warn().Err(rerr).Msg("release audio source")
	}
	s.Queue.Close()
	s.captureDone.Store(true)

	if err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("capture failed")
		d.Hooks.FireCapture(fsm.EventFail, err)
		d.Hooks.Exception(err)
		return
	}

	if ctx.Err() == nil && !s.SpeechBegun() && !s.Config.Continuous {
		// no speech: the end marker still gets a result, so recognition runs
		d.Hooks.FireRecognize(fsm.EventProcess, nil)
	}
	d.Hooks.FireCapture(fsm.EventExit, nil)
	log.Debug().Bool("speech", s.SpeechBegun()).Msg("capture exited")
}

func capture(ctx context.Context, s *Session, d Deps, log zerolog.Logger) error {
	cfg := s.Config

	if err := d.Source.Open(ctx); err != nil {
		var devErr *audio.DeviceError
		if errors.As(err, &devErr) {
			return err
		}
		return audio.NewDeviceError("open audio source", err)
	}
	d.Hooks.FireCapture(fsm.EventReady, nil)

	rec := openRecording(s, d, log)
	defer func() {
		if rec == nil {
			return
		}
		if err := rec.Close(); err != nil {
			log.Warn().Err(err).Msg("close debug recording")
		}
	}()

	resampler := audio.Resampler{From: cfg.CaptureRate, To: cfg.TargetRate}
	meter := vad.NewMeter()
	window := vad.NewWindow[Block](cfg.VADParams())
	raw := make([]int16, cfg.CaptureBlockSamples())

	for seq := 0; ; seq++ {
		state := d.Hooks.CaptureState()
		if seq == 0 && state != fsm.CaptureInitialized {
			return nil
		}
		if seq > 0 && state != fsm.CaptureRecording {
			return nil
		}

		n, err := d.Source.Read(raw)
		if errors.Is(err, io.EOF) {
			log.Debug().Int("blocks", seq).Msg("audio source exhausted")
			d.Hooks.FireCapture(fsm.EventStop, nil)
			return nil
		}
		if err != nil {
			return audio.NewDeviceError("read audio source", err)
		}
		clear(raw[n:])

		if seq == 0 {
			d.Hooks.FireCapture(fsm.EventRecord, nil)
			if d.Hooks.CaptureState() != fsm.CaptureRecording {
				return nil
			}
			if cfg.Continuous {
				d.Hooks.FireRecognize(fsm.EventProcess, nil)
			}
		}

		block := Block{Seq: seq, Samples: resampler.Resample(raw)}
		if rec != nil {
			if err := rec.Write(block.Samples); err != nil {
				log.Warn().Err(err).Msg("debug recording disabled")
				if cerr := rec.Close(); cerr != nil {
					log.Debug().Err(cerr).Msg("close failed debug recording")
				}
				rec = nil
			}
		}

		level := meter.Level(block.Samples)
		d.Metrics.BlockCaptured(level)
		d.Hooks.Volume(level)

		decision := window.Observe(block, level)
		if decision.Evicted {
			d.Metrics.BlockEvicted()
		}
		if decision.SpeechStarted {
			s.speech.Store(true)
			log.Debug().Int("seq", seq).Int("lead_in", len(decision.Emit)-1).Msg("speech confirmed")
			if !cfg.Continuous {
				d.Hooks.FireRecognize(fsm.EventProcess, nil)
			}
		}

		if len(decision.Emit) > 0 {
			if err := s.Queue.Put(ctx, decision.Emit...); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("enqueue audio: %w", err)
			}
			d.Metrics.BlocksEnqueued(len(decision.Emit))
		}

		if decision.Ended && cfg.AutoStop {
			log.Debug().Int("seq", seq).Int("silence_blocks", window.SilenceRun()).Msg("utterance ended")
			d.Hooks.FireCapture(fsm.EventStop, nil)
			return nil
		}
	}
}

func openRecording(s *Session, d Deps, log zerolog.Logger) Recorder {
	if s.Config.DebugDir == "" {
		return nil
	}
	name := fmt.Sprintf("%s-%s.wav", time.Now().Format("20060102-150405.000"), s.Cookie)
	rec, err := d.openRecorder(s.Config.DebugDir, name, s.Config.TargetRate)
	if err != nil {
		log.Warn().Err(err).Msg("debug recording unavailable")
		return nil
	}
	log.Debug().Str("dir", s.Config.DebugDir).Str("file", name).Msg("debug recording started")
	return rec
}
