package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces every environment override, e.g. HARK_RECOGNIZER_ENDPOINT.
const EnvPrefix = "HARK"

// envOverlay mirrors the config file keys that may be overridden from the
// environment. Unset variables leave the pointers nil.
type envOverlay struct {
	AudioDevice            *string `split_words:"true"`
	AudioFallbackToDefault *bool   `split_words:"true"`
	AudioCaptureRateHz     *int    `split_words:"true"`
	AudioTargetRateHz      *int    `split_words:"true"`

	VADLeadInMs      *int  `split_words:"true"`
	VADTailMs        *int  `split_words:"true"`
	VADNoiseWindowMs *int  `split_words:"true"`
	VADSilenceLevel  *int  `split_words:"true"`
	VADAutoStop      *bool `split_words:"true"`

	RecognizerEndpoint       *string `split_words:"true"`
	RecognizerResultKind     *string `split_words:"true"`
	RecognizerNLIHint        *string `split_words:"true"`
	RecognizerUploadBatchMs  *int    `split_words:"true"`
	RecognizerPollIntervalMs *int    `split_words:"true"`
	RecognizerTimeoutMs      *int    `split_words:"true"`
	RecognizerCompression    *string `split_words:"true"`
	RecognizerDialTimeoutMs  *int    `split_words:"true"`

	SessionContinuous    *bool   `split_words:"true"`
	SessionQueueCapacity *int    `split_words:"true"`
	SessionEventBuffer   *int    `split_words:"true"`
	SessionSocketPath    *string `split_words:"true"`

	DebugRecordWAV *bool   `split_words:"true"`
	DebugRecordDir *string `split_words:"true"`

	MetricsListen   *string `split_words:"true"`
	EventFeedListen *string `split_words:"true"`

	LoggingLevel  *string `split_words:"true"`
	LoggingPretty *bool   `split_words:"true"`

	CuesEnable *bool `split_words:"true"`
}

// loadDotEnv exports variables from path without overriding ones already set.
// A missing file is not an error.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays HARK_* variables onto cfg.
func applyEnv(cfg *Config) error {
	var env envOverlay
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("environment: %w", err)
	}

	set(&cfg.Audio.Device, env.AudioDevice)
	set(&cfg.Audio.FallbackToDefault, env.AudioFallbackToDefault)
	set(&cfg.Audio.CaptureRateHz, env.AudioCaptureRateHz)
	set(&cfg.Audio.TargetRateHz, env.AudioTargetRateHz)

	set(&cfg.VAD.LeadInMs, env.VADLeadInMs)
	set(&cfg.VAD.TailMs, env.VADTailMs)
	set(&cfg.VAD.NoiseWindowMs, env.VADNoiseWindowMs)
	set(&cfg.VAD.SilenceLevel, env.VADSilenceLevel)
	set(&cfg.VAD.AutoStop, env.VADAutoStop)

	setTrimmed(&cfg.Recognizer.Endpoint, env.RecognizerEndpoint)
	setTrimmed(&cfg.Recognizer.ResultKind, env.RecognizerResultKind)
	setTrimmed(&cfg.Recognizer.Compression, env.RecognizerCompression)
	set(&cfg.Recognizer.UploadBatchMs, env.RecognizerUploadBatchMs)
	set(&cfg.Recognizer.PollIntervalMs, env.RecognizerPollIntervalMs)
	set(&cfg.Recognizer.TimeoutMs, env.RecognizerTimeoutMs)
	set(&cfg.Recognizer.DialTimeoutMs, env.RecognizerDialTimeoutMs)
	if env.RecognizerNLIHint != nil {
		hint, err := parseHint([]byte(*env.RecognizerNLIHint))
		if err != nil {
			return fmt.Errorf("%s_RECOGNIZER_NLI_HINT: %w", EnvPrefix, err)
		}
		cfg.Recognizer.NLIHint = hint
	}

	set(&cfg.Session.Continuous, env.SessionContinuous)
	set(&cfg.Session.QueueCapacity, env.SessionQueueCapacity)
	set(&cfg.Session.EventBuffer, env.SessionEventBuffer)
	set(&cfg.Session.SocketPath, env.SessionSocketPath)

	set(&cfg.Debug.RecordWAV, env.DebugRecordWAV)
	setTrimmed(&cfg.Debug.RecordDir, env.DebugRecordDir)

	setTrimmed(&cfg.Metrics.Listen, env.MetricsListen)
	setTrimmed(&cfg.EventFeed.Listen, env.EventFeedListen)

	setTrimmed(&cfg.Logging.Level, env.LoggingLevel)
	set(&cfg.Logging.Pretty, env.LoggingPretty)

	set(&cfg.Cues.Enable, env.CuesEnable)
	return nil
}
