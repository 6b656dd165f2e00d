package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/rbright/hark/internal/codec"
	"github.com/rbright/hark/internal/recognizer"
	"github.com/rbright/hark/internal/vad"
)

// MinPollInterval is the floor applied to Config.PollInterval.
const MinPollInterval = 100 * time.Millisecond

// Config is the immutable per-session tuning of the pipeline.
type Config struct {
	CaptureRate    int
	TargetRate     int
	FrameMs        int
	FramesPerBlock int

	LeadIn       time.Duration
	VADTail      time.Duration
	NoiseWindow  time.Duration
	SilenceLevel int
	AutoStop     bool

	UploadBatch  time.Duration
	PollInterval time.Duration
	Timeout      time.Duration
	ResultKind   recognizer.ResultKind
	NLIHint      map[string]any
	Compression  string

	Continuous    bool
	QueueCapacity int

	// DebugDir enables a WAV recording of every session when set.
	DebugDir string
}

// DefaultConfig mirrors the configuration file defaults.
func DefaultConfig() Config {
	return Config{
		CaptureRate:    44100,
		TargetRate:     16000,
		FrameMs:        10,
		FramesPerBlock: 6,
		LeadIn:         1000 * time.Millisecond,
		VADTail:        2000 * time.Millisecond,
		NoiseWindow:    1000 * time.Millisecond,
		SilenceLevel:   5,
		AutoStop:       true,
		UploadBatch:    300 * time.Millisecond,
		PollInterval:   300 * time.Millisecond,
		Timeout:        5000 * time.Millisecond,
		ResultKind:     recognizer.KindSTT,
		Compression:    "none",
		QueueCapacity:  3000,
	}
}

func (c Config) BlockDuration() time.Duration {
	return time.Duration(c.FrameMs*c.FramesPerBlock) * time.Millisecond
}

// BlocksFor converts d to whole blocks, rounding down.
func (c Config) BlocksFor(d time.Duration) int {
	block := c.BlockDuration()
	if block <= 0 || d <= 0 {
		return 0
	}
	return int(d / block)
}

// CaptureBlockSamples is the block length read from the source.
func (c Config) CaptureBlockSamples() int {
	return c.CaptureRate * c.FrameMs * c.FramesPerBlock / 1000
}

// BlockSamples is the block length after resampling.
func (c Config) BlockSamples() int {
	return c.TargetRate * c.FrameMs * c.FramesPerBlock / 1000
}

func (c Config) VADParams() vad.Params {
	return vad.Params{
		LeadInBlocks: c.BlocksFor(c.LeadIn),
		TailBlocks:   c.BlocksFor(c.VADTail),
		NoiseBlocks:  c.BlocksFor(c.NoiseWindow),
		SilenceLevel: c.SilenceLevel,
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.CaptureRate <= 0 || c.TargetRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rates must be positive (capture=%d target=%d)", c.CaptureRate, c.TargetRate))
	}
	if c.FrameMs <= 0 || c.FramesPerBlock <= 0 {
		errs = append(errs, fmt.Errorf("block geometry must be positive (frame=%dms frames=%d)", c.FrameMs, c.FramesPerBlock))
	} else if c.BlockSamples() <= 0 || c.CaptureBlockSamples() <= 0 {
		errs = append(errs, errors.New("block holds no samples at the configured rates"))
	}
	if c.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	if c.SilenceLevel < 0 || c.SilenceLevel > vad.MaxLevel {
		errs = append(errs, fmt.Errorf("silence level must be within 0..%d", vad.MaxLevel))
	}
	if c.QueueCapacity <= 0 {
		errs = append(errs, errors.New("queue capacity must be positive"))
	}
	if _, err := codec.New(c.Compression); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Normalized raises UploadBatch to one block and PollInterval to
// MinPollInterval when they are below those floors.
func (c Config) Normalized() Config {
	if block := c.BlockDuration(); c.UploadBatch < block {
		c.UploadBatch = block
	}
	if c.PollInterval < MinPollInterval {
		c.PollInterval = MinPollInterval
	}
	return c
}
