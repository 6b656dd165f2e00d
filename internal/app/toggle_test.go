package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/hark/internal/audio"
	"github.com/rbright/hark/internal/config"
	"github.com/rbright/hark/internal/cue"
	"github.com/rbright/hark/internal/fsm"
	"github.com/rbright/hark/internal/ipc"
	"github.com/rbright/hark/internal/pipeline"
	"github.com/rbright/hark/internal/recognizer"
	"github.com/rbright/hark/internal/session"
)

// sessionConfig uses 20ms blocks at 16kHz so a short script drives a full session.
const sessionConfig = `{
  // 20ms blocks, no resampling
  "audio": {"capture_rate_hz": 16000, "target_rate_hz": 16000, "frame_ms": 20, "frames_per_block": 1},
  "vad": {"lead_in_ms": 1000, "tail_ms": 2000, "noise_window_ms": 1000, "silence_level": 5},
  "recognizer": {"endpoint": "127.0.0.1:1", "upload_batch_ms": 300, "poll_interval_ms": 100, "timeout_ms": 5000},
  "session": {"event_buffer": 4096},
}`

// blockSource plays one amplitude per block and then reports io.EOF.
type blockSource struct {
	amplitudes []int16
	block      func()
	reads      atomic.Int32
	released   atomic.Int32
}

func (s *blockSource) Open(context.Context) error { return nil }

func (s *blockSource) Read(buf []int16) (int, error) {
	if s.released.Load() > 0 {
		return 0, io.EOF
	}
	i := int(s.reads.Add(1)) - 1
	if s.block != nil {
		s.block()
	}
	if i >= len(s.amplitudes) {
		return 0, io.EOF
	}
	for j := range buf {
		if j%2 == 0 {
			buf[j] = s.amplitudes[i]
		} else {
			buf[j] = -s.amplitudes[i]
		}
	}
	return len(buf), nil
}

func (s *blockSource) Release() error {
	s.released.Add(1)
	return nil
}

func speechScript() []int16 {
	var out []int16
	for range 60 {
		out = append(out, 0)
	}
	for range 10 {
		out = append(out, 6500)
	}
	for range 150 {
		out = append(out, 0)
	}
	return out
}

type memoryRecognizer struct {
	mu        sync.Mutex
	uploads   int
	finalSeen bool
	closed    bool
	text      string
	nli       map[string]any
	uploadErr *recognizer.UploadResponse
}

func (m *memoryRecognizer) UploadAudio(_ context.Context, u recognizer.Upload) (recognizer.UploadResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads++
	if u.Final {
		m.finalSeen = true
	}
	if m.uploadErr != nil {
		return *m.uploadErr, nil
	}
	return recognizer.UploadResponse{OK: true}, nil
}

func (m *memoryRecognizer) PollResult(_ context.Context, q recognizer.Query) (recognizer.PollResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	resp := recognizer.PollResponse{
		OK:         true,
		HasData:    true,
		Transcript: recognizer.Transcript{Text: m.text, Complete: m.finalSeen},
	}
	if q.Kind != recognizer.KindSTT {
		resp.NLI = m.nli
	}
	return resp, nil
}

func (m *memoryRecognizer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func ownerRunner(t *testing.T, src *blockSource, svc *memoryRecognizer, stdout, stderr *bytes.Buffer) Runner {
	t.Helper()
	return Runner{
		Stdout: stdout,
		Stderr: stderr,
		NewSource: func(_ config.Config, pcfg pipeline.Config) audio.Source {
			require.Equal(t, 320, pcfg.CaptureBlockSamples())
			return src
		},
		DialRecognizer: func(_ context.Context, cfg recognizer.ClientConfig) (RecognizerConn, error) {
			require.Equal(t, "127.0.0.1:1", cfg.Endpoint)
			return svc, nil
		},
	}
}

func writeSessionConfig(t *testing.T, paths runnerPaths, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(paths.configPath, []byte(content), 0o600))
}

func TestToggleOwnerRunsSessionToTranscript(t *testing.T) {
	paths := setupRunnerEnv(t)
	writeSessionConfig(t, paths, sessionConfig)

	src := &blockSource{amplitudes: speechScript()}
	svc := &memoryRecognizer{text: " turn on the lights "}
	var stdout, stderr bytes.Buffer
	runner := ownerRunner(t, src, svc, &stdout, &stderr)

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "toggle"})
	require.Equal(t, 0, exitCode, stderr.String())
	require.Equal(t, "turn on the lights\n", stdout.String())

	svc.mu.Lock()
	require.True(t, svc.finalSeen)
	require.True(t, svc.closed)
	require.Positive(t, svc.uploads)
	svc.mu.Unlock()
	require.Positive(t, src.released.Load())

	_, statErr := os.Stat(filepath.Join(paths.runtimeDir, ipc.SocketName))
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

type cueRecorder struct {
	mu     sync.Mutex
	played [][]int16
}

func (c *cueRecorder) Play(samples []int16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.played = append(c.played, samples)
	return nil
}

func TestToggleOwnerPlaysCuesWhenEnabled(t *testing.T) {
	paths := setupRunnerEnv(t)
	writeSessionConfig(t, paths, `{
  "audio": {"capture_rate_hz": 16000, "target_rate_hz": 16000, "frame_ms": 20, "frames_per_block": 1},
  "recognizer": {"endpoint": "127.0.0.1:1", "poll_interval_ms": 100},
  "session": {"event_buffer": 4096},
  "cues": {"enable": true}
}`)

	src := &blockSource{amplitudes: speechScript()}
	svc := &memoryRecognizer{text: "lights on"}
	var stdout, stderr bytes.Buffer
	player := &cueRecorder{}
	runner := ownerRunner(t, src, svc, &stdout, &stderr)
	runner.CuePlayer = player

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "toggle"})
	require.Equal(t, 0, exitCode, stderr.String())

	player.mu.Lock()
	defer player.mu.Unlock()
	require.NotEmpty(t, player.played)
	require.Equal(t, cue.Samples(cue.Start), player.played[0])
	require.Contains(t, player.played, cue.Samples(cue.Complete))
}

func TestToggleOwnerPrintsNLIForSemanticKinds(t *testing.T) {
	paths := setupRunnerEnv(t)
	writeSessionConfig(t, paths, `{
  "audio": {"capture_rate_hz": 16000, "target_rate_hz": 16000, "frame_ms": 20, "frames_per_block": 1},
  "recognizer": {"endpoint": "127.0.0.1:1", "result_kind": "nli", "poll_interval_ms": 100},
  "session": {"event_buffer": 4096}
}`)

	src := &blockSource{amplitudes: speechScript()}
	svc := &memoryRecognizer{text: "lights on", nli: map[string]any{"intent": "lights"}}
	var stdout, stderr bytes.Buffer

	exitCode := ownerRunner(t, src, svc, &stdout, &stderr).Execute(context.Background(), []string{"--config", paths.configPath, "toggle"})
	require.Equal(t, 0, exitCode, stderr.String())
	require.Equal(t, "lights on\n{\"intent\":\"lights\"}\n", stdout.String())
}

func TestToggleOwnerReportsServerError(t *testing.T) {
	paths := setupRunnerEnv(t)
	writeSessionConfig(t, paths, sessionConfig)

	src := &blockSource{amplitudes: speechScript()}
	svc := &memoryRecognizer{uploadErr: &recognizer.UploadResponse{ErrorCode: "quota", ErrorMessage: "quota exceeded"}}
	var stdout, stderr bytes.Buffer

	exitCode := ownerRunner(t, src, svc, &stdout, &stderr).Execute(context.Background(), []string{"--config", paths.configPath, "toggle"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "quota exceeded")
	require.Empty(t, stdout.String())
}

func TestToggleOwnerCancelsOnInterrupt(t *testing.T) {
	paths := setupRunnerEnv(t)
	writeSessionConfig(t, paths, sessionConfig)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Silence forever: the session only ends through cancellation.
	src := &blockSource{amplitudes: make([]int16, 100000)}
	src.block = func() {
		if src.reads.Load() == 20 {
			cancel()
		}
		time.Sleep(time.Millisecond)
	}
	svc := &memoryRecognizer{}
	var stdout, stderr bytes.Buffer

	exitCode := ownerRunner(t, src, svc, &stdout, &stderr).Execute(ctx, []string{"--config", paths.configPath, "toggle"})
	require.Equal(t, 0, exitCode, stderr.String())
	require.Equal(t, "cancelled\n", stdout.String())
}

func TestToggleOwnerFailsWhenRecognizerUnavailable(t *testing.T) {
	paths := setupRunnerEnv(t)

	var stdout, stderr bytes.Buffer
	runner := Runner{
		Stdout: &stdout,
		Stderr: &stderr,
		DialRecognizer: func(context.Context, recognizer.ClientConfig) (RecognizerConn, error) {
			return nil, errors.New("wait for recognizer grpc readiness: context deadline exceeded")
		},
	}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "toggle"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "recognizer grpc readiness")

	_, statErr := os.Stat(filepath.Join(paths.runtimeDir, ipc.SocketName))
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestToggleRequiresRuntimeDir(t *testing.T) {
	paths := setupRunnerEnv(t)
	t.Setenv("XDG_RUNTIME_DIR", "")

	var stderr bytes.Buffer
	exitCode := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}.Execute(context.Background(), []string{"--config", paths.configPath, "toggle"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "XDG_RUNTIME_DIR")
}

func TestOutcomeObserve(t *testing.T) {
	var out sessionOutcome
	out.observe(session.Event{Kind: session.ResultChanged, Result: recognizer.PollResponse{Transcript: recognizer.Transcript{Text: "partial"}}})
	out.observe(session.Event{Kind: session.ResultChanged, Result: recognizer.PollResponse{Transcript: recognizer.Transcript{Text: "final"}}})
	require.Equal(t, "final", out.Transcript)
	require.NoError(t, out.Err)

	boom := errors.New("boom")
	out.observe(session.Event{Kind: session.CaptureStateChanged, Capture: fsm.CaptureError, Err: boom})
	out.observe(session.Event{Kind: session.Exception, Err: errors.New("later")})
	require.ErrorIs(t, out.Err, boom)
	require.Equal(t, 4, out.Events)

	var cancelled sessionOutcome
	cancelled.observe(session.Event{Kind: session.RecognizeStateChanged, Final: true, Err: session.ErrCancelled})
	require.True(t, cancelled.Cancelled)
	require.NoError(t, cancelled.Err)

	var timedOut sessionOutcome
	timedOut.observe(session.Event{Kind: session.RecognizeStateChanged, Recognize: fsm.RecognizeProcessing})
	timedOut.observe(session.Event{Kind: session.RecognizeStateChanged, Final: true, Err: session.ErrTimeout})
	require.False(t, timedOut.Cancelled)
	require.ErrorIs(t, timedOut.Err, session.ErrTimeout)
}

func TestReportExitCodes(t *testing.T) {
	var stdout, stderr bytes.Buffer
	r := Runner{Stdout: &stdout, Stderr: &stderr}

	require.Equal(t, 0, r.report(sessionOutcome{Transcript: "  "}, recognizer.KindSTT))
	require.Empty(t, stdout.String())

	require.Equal(t, 0, r.report(sessionOutcome{Transcript: "hi", NLI: map[string]any{"a": 1}}, recognizer.KindSTT))
	require.Equal(t, "hi\n", stdout.String())

	require.Equal(t, 1, r.report(sessionOutcome{Err: session.ErrTimeout}, recognizer.KindSTT))
	require.Contains(t, stderr.String(), "session timed out")
}
