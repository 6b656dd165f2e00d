package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strings"

	"github.com/rbright/hark/internal/codec"
	"github.com/rbright/hark/internal/pipeline"
	"github.com/rbright/hark/internal/recognizer"
	"github.com/rbright/hark/internal/vad"
)

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate enforces config invariants. Values below a documented floor are
// raised and reported as warnings; everything else is a hard error.
func Validate(cfg Config) (Config, []Warning, error) {
	warnings := make([]Warning, 0)

	a := cfg.Audio
	if a.CaptureRateHz <= 0 || a.TargetRateHz <= 0 {
		return Config{}, nil, fmt.Errorf("audio.capture_rate_hz and audio.target_rate_hz must be > 0")
	}
	if a.FrameMs <= 0 || a.FramesPerBlock <= 0 {
		return Config{}, nil, fmt.Errorf("audio.frame_ms and audio.frames_per_block must be > 0")
	}
	blockMs := a.FrameMs * a.FramesPerBlock
	if a.TargetRateHz*blockMs/1000 == 0 || a.CaptureRateHz*blockMs/1000 == 0 {
		return Config{}, nil, fmt.Errorf("a %dms block holds no samples at the configured rates", blockMs)
	}

	v := cfg.VAD
	if v.LeadInMs < 0 || v.NoiseWindowMs < 0 {
		return Config{}, nil, fmt.Errorf("vad.lead_in_ms and vad.noise_window_ms must be >= 0")
	}
	if v.TailMs <= 0 {
		return Config{}, nil, fmt.Errorf("vad.tail_ms must be > 0")
	}
	if v.SilenceLevel < 0 || v.SilenceLevel > vad.MaxLevel {
		return Config{}, nil, fmt.Errorf("vad.silence_level must be within 0..%d", vad.MaxLevel)
	}

	r := &cfg.Recognizer
	if r.Endpoint == "" {
		return Config{}, nil, fmt.Errorf("recognizer.endpoint must not be empty")
	}
	if _, err := recognizer.ParseResultKind(r.ResultKind); err != nil {
		return Config{}, nil, fmt.Errorf("recognizer.result_kind: %w", err)
	}
	if _, err := codec.New(r.Compression); err != nil {
		return Config{}, nil, fmt.Errorf("recognizer.compression: %w", err)
	}
	if r.TimeoutMs <= 0 {
		return Config{}, nil, fmt.Errorf("recognizer.timeout_ms must be > 0")
	}
	if r.DialTimeoutMs <= 0 {
		return Config{}, nil, fmt.Errorf("recognizer.dial_timeout_ms must be > 0")
	}
	if r.UploadBatchMs < blockMs {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("recognizer.upload_batch_ms=%d is below one block; using %d", r.UploadBatchMs, blockMs)})
		r.UploadBatchMs = blockMs
	}
	if floor := int(pipeline.MinPollInterval.Milliseconds()); r.PollIntervalMs < floor {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("recognizer.poll_interval_ms=%d is below the %dms floor; using %d", r.PollIntervalMs, floor, floor)})
		r.PollIntervalMs = floor
	}

	s := cfg.Session
	if s.StartWaitMs <= 0 || s.StartWaitAttempts <= 0 {
		return Config{}, nil, fmt.Errorf("session.start_wait_ms and session.start_wait_attempts must be > 0")
	}
	if s.QueueCapacity <= 0 {
		return Config{}, nil, fmt.Errorf("session.queue_capacity must be > 0")
	}
	if s.EventBuffer <= 0 {
		return Config{}, nil, fmt.Errorf("session.event_buffer must be > 0")
	}
	cfg.Session.SocketPath = strings.TrimSpace(cfg.Session.SocketPath)
	if p := cfg.Session.SocketPath; p != "" && !filepath.IsAbs(p) {
		return Config{}, nil, fmt.Errorf("session.socket_path must be absolute, got %q", p)
	}

	if cfg.Debug.RecordWAV && cfg.Debug.RecordDir == "" {
		return Config{}, nil, fmt.Errorf("debug.record_dir must not be empty when debug.record_wav=true")
	}

	if err := validateListen("metrics.listen", cfg.Metrics.Listen); err != nil {
		return Config{}, nil, err
	}
	if err := validateListen("eventfeed.listen", cfg.EventFeed.Listen); err != nil {
		return Config{}, nil, err
	}
	if cfg.Metrics.Listen != "" && cfg.Metrics.Listen == cfg.EventFeed.Listen {
		return Config{}, nil, fmt.Errorf("metrics.listen and eventfeed.listen must differ")
	}
	if !strings.HasPrefix(cfg.EventFeed.Path, "/") {
		return Config{}, nil, fmt.Errorf("eventfeed.path must start with '/'")
	}

	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	if !logLevels[cfg.Logging.Level] {
		return Config{}, nil, fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}

	return cfg, warnings, nil
}

func validateListen(key, addr string) error {
	if addr == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}
