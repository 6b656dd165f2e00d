package config

import (
	"time"

	"github.com/rbright/hark/internal/pipeline"
	"github.com/rbright/hark/internal/recognizer"
)

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// Pipeline derives the immutable per-session pipeline configuration. cfg must
// have passed Validate.
func (cfg Config) Pipeline() pipeline.Config {
	kind, _ := recognizer.ParseResultKind(cfg.Recognizer.ResultKind)

	out := pipeline.Config{
		CaptureRate:    cfg.Audio.CaptureRateHz,
		TargetRate:     cfg.Audio.TargetRateHz,
		FrameMs:        cfg.Audio.FrameMs,
		FramesPerBlock: cfg.Audio.FramesPerBlock,

		LeadIn:       ms(cfg.VAD.LeadInMs),
		VADTail:      ms(cfg.VAD.TailMs),
		NoiseWindow:  ms(cfg.VAD.NoiseWindowMs),
		SilenceLevel: cfg.VAD.SilenceLevel,
		AutoStop:     cfg.VAD.AutoStop,

		UploadBatch:  ms(cfg.Recognizer.UploadBatchMs),
		PollInterval: ms(cfg.Recognizer.PollIntervalMs),
		Timeout:      ms(cfg.Recognizer.TimeoutMs),
		ResultKind:   kind,
		NLIHint:      cfg.Recognizer.NLIHint,
		Compression:  cfg.Recognizer.Compression,

		Continuous:    cfg.Session.Continuous,
		QueueCapacity: cfg.Session.QueueCapacity,
	}
	if cfg.Debug.RecordWAV {
		out.DebugDir = cfg.Debug.RecordDir
	}
	return out
}

// StartWait is the bound on waiting for a finishing prior session.
func (cfg Config) StartWait() (interval time.Duration, attempts int) {
	return ms(cfg.Session.StartWaitMs), cfg.Session.StartWaitAttempts
}

func (cfg Config) DialTimeout() time.Duration {
	return ms(cfg.Recognizer.DialTimeoutMs)
}
