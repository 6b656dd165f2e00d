// Package config resolves, parses, validates, and defaults hark configuration.
package config

// Config is the fully materialized runtime configuration used by hark.
type Config struct {
	Audio      AudioConfig
	VAD        VADConfig
	Recognizer RecognizerConfig
	Session    SessionConfig
	Debug      DebugConfig
	Metrics    ListenConfig
	EventFeed  EventFeedConfig
	Logging    LoggingConfig
	Cues       CuesConfig
}

// AudioConfig selects the capture device and block geometry.
type AudioConfig struct {
	Device            string
	FallbackToDefault bool
	CaptureRateHz     int
	TargetRateHz      int
	FrameMs           int
	FramesPerBlock    int
}

type VADConfig struct {
	LeadInMs      int
	TailMs        int
	NoiseWindowMs int
	SilenceLevel  int
	AutoStop      bool
}

// RecognizerConfig addresses the remote service and tunes upload and polling.
type RecognizerConfig struct {
	Endpoint       string
	ResultKind     string
	NLIHint        map[string]any
	UploadBatchMs  int
	PollIntervalMs int
	TimeoutMs      int
	Compression    string
	DialTimeoutMs  int
}

type SessionConfig struct {
	Continuous        bool
	StartWaitMs       int
	StartWaitAttempts int
	QueueCapacity     int
	EventBuffer       int
	// SocketPath overrides $XDG_RUNTIME_DIR/hark.sock when set.
	SocketPath string
}

// DebugConfig controls optional debug artifact output.
type DebugConfig struct {
	RecordWAV bool
	RecordDir string
}

// ListenConfig is an optional HTTP listen address; empty disables it.
type ListenConfig struct {
	Listen string
}

type EventFeedConfig struct {
	Listen string
	Path   string
}

type LoggingConfig struct {
	Level  string
	Pretty bool
}

// CuesConfig toggles the audible session cues.
type CuesConfig struct {
	Enable bool
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
