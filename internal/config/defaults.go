package config

import "path/filepath"

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	debugDir := ""
	if state, err := StateDir(); err == nil {
		debugDir = filepath.Join(state, "debug")
	}

	return Config{
		Audio: AudioConfig{
			FallbackToDefault: true,
			CaptureRateHz:     44100,
			TargetRateHz:      16000,
			FrameMs:           10,
			FramesPerBlock:    6,
		},
		VAD: VADConfig{
			LeadInMs:      1000,
			TailMs:        2000,
			NoiseWindowMs: 1000,
			SilenceLevel:  5,
			AutoStop:      true,
		},
		Recognizer: RecognizerConfig{
			Endpoint:       "127.0.0.1:50061",
			ResultKind:     "stt",
			UploadBatchMs:  300,
			PollIntervalMs: 300,
			TimeoutMs:      5000,
			Compression:    "none",
			DialTimeoutMs:  3000,
		},
		Session: SessionConfig{
			StartWaitMs:       500,
			StartWaitAttempts: 10,
			QueueCapacity:     3000,
			EventBuffer:       256,
		},
		Debug:     DebugConfig{RecordDir: debugDir},
		EventFeed: EventFeedConfig{Path: "/events"},
		Logging:   LoggingConfig{Level: "info"},
	}
}
