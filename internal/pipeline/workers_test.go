package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/hark/internal/audio"
	"github.com/rbright/hark/internal/fsm"
	"github.com/rbright/hark/internal/recognizer"
)

func scenarioScript() []int16 {
	return script(repeat(0, 60), repeat(speechAmplitude, 10), repeat(0, 150))
}

func TestRunCaptureLeadInAndAutoStop(t *testing.T) {
	s := NewSession(scenarioConfig())
	src := &scriptedSource{amplitudes: scenarioScript()}
	hooks := newFakeHooks()

	RunCapture(context.Background(), s, testDeps(src, &fakeService{}, hooks))

	require.EqualValues(t, 171, src.reads.Load(), "stops on the 101st silent block after speech")
	require.EqualValues(t, 1, src.released.Load())
	require.True(t, s.SpeechBegun())
	require.True(t, s.CaptureDone())
	require.False(t, s.SpeechActive())

	blocks := drain(t, s.Queue)
	require.Len(t, blocks, 161)
	want := make([]int, 0, 161)
	for seq := 10; seq <= 170; seq++ {
		want = append(want, seq)
	}
	require.Equal(t, want, seqs(blocks))
	for _, b := range blocks {
		require.Len(t, b.Samples, testBlock)
	}

	got := hooks.snapshot()
	require.Equal(t, []fsm.Event{fsm.EventReady, fsm.EventRecord, fsm.EventStop, fsm.EventExit}, got.capEvents)
	require.Equal(t, fsm.CaptureStopped, got.capture)
	require.Equal(t, []fsm.Event{fsm.EventProcess}, got.recEvents)
	require.Len(t, got.volumes, 171)
	require.Equal(t, 0, got.volumes[59])
	require.Equal(t, 20, got.volumes[60])
	require.Empty(t, got.exceptions)
}

// flakyRecorder fails every write after the first okWrites.
type flakyRecorder struct {
	mu       sync.Mutex
	okWrites int
	writes   int
	closes   int
}

func (r *flakyRecorder) Write([]int16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++
	if r.writes > r.okWrites {
		return errors.New("file size limit exceeded")
	}
	return nil
}

func (r *flakyRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes++
	return nil
}

func TestRunCaptureSurvivesDebugRecordingWriteFailure(t *testing.T) {
	cfg := scenarioConfig()
	cfg.DebugDir = t.TempDir()
	s := NewSession(cfg)
	src := &scriptedSource{amplitudes: scenarioScript()}
	hooks := newFakeHooks()
	rec := &flakyRecorder{okWrites: 3}

	deps := testDeps(src, &fakeService{}, hooks)
	deps.OpenRecorder = func(dir, name string, sampleRate int) (Recorder, error) {
		require.Equal(t, cfg.DebugDir, dir)
		require.Contains(t, name, string(s.Cookie))
		require.Equal(t, 16000, sampleRate)
		return rec, nil
	}

	RunCapture(context.Background(), s, deps)

	got := hooks.snapshot()
	require.Empty(t, got.exceptions)
	require.Equal(t, []fsm.Event{fsm.EventReady, fsm.EventRecord, fsm.EventStop, fsm.EventExit}, got.capEvents)
	require.Equal(t, fsm.CaptureStopped, got.capture)
	require.Len(t, drain(t, s.Queue), 161)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Equal(t, 4, rec.writes, "recording stops after the first failed write")
	require.Equal(t, 1, rec.closes)
}

func TestRunCaptureContinuesWhenDebugRecordingCannotOpen(t *testing.T) {
	cfg := scenarioConfig()
	cfg.DebugDir = t.TempDir()
	s := NewSession(cfg)
	src := &scriptedSource{amplitudes: scenarioScript()}
	hooks := newFakeHooks()

	deps := testDeps(src, &fakeService{}, hooks)
	deps.OpenRecorder = func(string, string, int) (Recorder, error) {
		return nil, errors.New("read-only file system")
	}

	RunCapture(context.Background(), s, deps)

	got := hooks.snapshot()
	require.Empty(t, got.exceptions)
	require.Equal(t, fsm.CaptureStopped, got.capture)
}

func TestRunCaptureWithoutSpeechStillStartsRecognition(t *testing.T) {
	s := NewSession(scenarioConfig())
	src := &scriptedSource{amplitudes: repeat(0, 20)}
	hooks := newFakeHooks()

	RunCapture(context.Background(), s, testDeps(src, &fakeService{}, hooks))

	require.Empty(t, drain(t, s.Queue))
	require.False(t, s.SpeechBegun())

	got := hooks.snapshot()
	require.Equal(t, []fsm.Event{fsm.EventReady, fsm.EventRecord, fsm.EventStop, fsm.EventExit}, got.capEvents)
	require.Equal(t, []fsm.Event{fsm.EventProcess}, got.recEvents)
}

func TestRunCaptureContinuousStartsRecognitionWhenRecording(t *testing.T) {
	cfg := scenarioConfig()
	cfg.Continuous = true
	s := NewSession(cfg)
	src := &scriptedSource{amplitudes: scenarioScript()}
	hooks := newFakeHooks()

	RunCapture(context.Background(), s, testDeps(src, &fakeService{}, hooks))

	got := hooks.snapshot()
	require.Equal(t, []fsm.Event{fsm.EventProcess}, got.recEvents, "speech does not fire a second process")
	require.Len(t, drain(t, s.Queue), 161)
}

func TestRunCaptureWithoutAutoStopRunsUntilSourceEnds(t *testing.T) {
	cfg := scenarioConfig()
	cfg.AutoStop = false
	s := NewSession(cfg)
	src := &scriptedSource{amplitudes: scenarioScript()}

	RunCapture(context.Background(), s, testDeps(src, &fakeService{}, newFakeHooks()))

	require.EqualValues(t, 220, src.reads.Load())
	require.Len(t, drain(t, s.Queue), 210)
}

func TestRunCaptureStopsWhenStateLeavesRecording(t *testing.T) {
	s := NewSession(scenarioConfig())
	hooks := newFakeHooks()
	src := &scriptedSource{amplitudes: repeat(0, 100)}
	src.onRead = func(read int) {
		if read == 5 {
			hooks.setCapture(fsm.CaptureStopping)
		}
	}

	RunCapture(context.Background(), s, testDeps(src, &fakeService{}, hooks))

	require.EqualValues(t, 5, src.reads.Load())
	got := hooks.snapshot()
	require.Equal(t, fsm.CaptureStopped, got.capture)
	require.Len(t, got.volumes, 5)
}

func TestRunCaptureOpenFailureIsDeviceError(t *testing.T) {
	s := NewSession(scenarioConfig())
	src := &scriptedSource{openErr: fmt.Errorf("connect: %w", os.ErrPermission)}
	hooks := newFakeHooks()

	RunCapture(context.Background(), s, testDeps(src, &fakeService{}, hooks))

	got := hooks.snapshot()
	require.Equal(t, []fsm.Event{fsm.EventFail}, got.capEvents)
	require.Equal(t, fsm.CaptureError, got.capture)
	require.Len(t, got.exceptions, 1)
	require.ErrorIs(t, got.exceptions[0], audio.ErrPermissionDenied)
	require.Empty(t, got.recEvents)
	require.Empty(t, drain(t, s.Queue), "queue is closed so upload can finish")
}

func TestRunCaptureReadFailure(t *testing.T) {
	s := NewSession(scenarioConfig())
	src := &scriptedSource{amplitudes: repeat(0, 3), readErr: errBoom}
	hooks := newFakeHooks()

	RunCapture(context.Background(), s, testDeps(src, &fakeService{}, hooks))

	got := hooks.snapshot()
	require.Equal(t, fsm.CaptureError, got.capture)
	require.Len(t, got.exceptions, 1)
	require.ErrorIs(t, got.exceptions[0], errBoom)
	require.ErrorIs(t, got.exceptions[0], audio.ErrDeviceInit)
}

func TestRunUploadBatchesAndSendsOneFinal(t *testing.T) {
	s := NewSession(scenarioConfig())
	fillQueue(t, s.Queue, 161, testBlock)
	svc := &fakeService{}
	hooks := newFakeHooks()

	RunUpload(context.Background(), s, testDeps(&scriptedSource{}, svc, hooks))

	uploads, _ := svc.recorded()
	require.Len(t, uploads, 11)
	total := 0
	for i, u := range uploads {
		require.Equal(t, s.Cookie, u.Cookie)
		require.Equal(t, "pcm16", u.Encoding)
		require.Equal(t, 16000, u.SampleRate)
		require.Equal(t, i == len(uploads)-1, u.Final)
		if !u.Final {
			require.Len(t, u.Audio, 15*testBlock*2)
		}
		total += len(u.Audio)
	}
	require.Equal(t, 162*testBlock*2, total)

	final := uploads[len(uploads)-1].Audio
	require.Len(t, final, 12*testBlock*2)
	require.Equal(t, make([]byte, testBlock*2), final[len(final)-testBlock*2:], "final unit ends with a silent pad")
	require.NotEqual(t, make([]byte, testBlock*2), final[len(final)-2*testBlock*2:len(final)-testBlock*2])

	require.True(t, s.FinalSent())
	select {
	case <-s.ResultsReady():
	default:
		t.Fatal("results should be ready after a successful upload")
	}
	require.Empty(t, hooks.snapshot().recEvents)
}

func TestRunUploadExactBatchStillSendsPaddedFinal(t *testing.T) {
	s := NewSession(scenarioConfig())
	fillQueue(t, s.Queue, 15, testBlock)
	svc := &fakeService{}

	RunUpload(context.Background(), s, testDeps(&scriptedSource{}, svc, newFakeHooks()))

	uploads, _ := svc.recorded()
	require.Len(t, uploads, 2)
	require.False(t, uploads[0].Final)
	require.True(t, uploads[1].Final)
	require.Equal(t, make([]byte, testBlock*2), uploads[1].Audio)
}

func TestRunUploadEmptyStreamSendsPadOnly(t *testing.T) {
	s := NewSession(scenarioConfig())
	s.Queue.Close()
	svc := &fakeService{}

	RunUpload(context.Background(), s, testDeps(&scriptedSource{}, svc, newFakeHooks()))

	uploads, _ := svc.recorded()
	require.Len(t, uploads, 1)
	require.True(t, uploads[0].Final)
	require.Len(t, uploads[0].Audio, testBlock*2)
}

func TestRunUploadCompressesWithMuLaw(t *testing.T) {
	cfg := scenarioConfig()
	cfg.Compression = "mulaw"
	s := NewSession(cfg)
	fillQueue(t, s.Queue, 15, testBlock)
	svc := &fakeService{}

	RunUpload(context.Background(), s, testDeps(&scriptedSource{}, svc, newFakeHooks()))

	uploads, _ := svc.recorded()
	require.Len(t, uploads, 2)
	require.Equal(t, "mulaw", uploads[0].Encoding)
	require.Len(t, uploads[0].Audio, 15*testBlock)
	require.Equal(t, bytes.Repeat([]byte{0xff}, testBlock), uploads[1].Audio)
}

func TestRunUploadFailureDiscardsAndFailsRecognition(t *testing.T) {
	s := NewSession(scenarioConfig())
	fillQueue(t, s.Queue, 30, testBlock)
	svc := &fakeService{uploadFn: func(int, recognizer.Upload) (recognizer.UploadResponse, error) {
		return recognizer.UploadResponse{ErrorCode: "busy", ErrorMessage: "try later"}, nil
	}}
	hooks := newFakeHooks()
	hooks.recognize = fsm.RecognizeProcessing

	RunUpload(context.Background(), s, testDeps(&scriptedSource{}, svc, hooks))

	uploads, _ := svc.recorded()
	require.Len(t, uploads, 1)
	require.False(t, s.FinalSent())
	require.Zero(t, s.Queue.Len())

	got := hooks.snapshot()
	require.Len(t, got.serverErrs, 1)
	require.ErrorIs(t, got.serverErrs[0], recognizer.ErrNetwork)
	require.Contains(t, got.serverErrs[0].Error(), "busy")
	require.Equal(t, []fsm.Event{fsm.EventFail}, got.recEvents)
	require.Equal(t, fsm.RecognizeError, got.recognize)
	require.Empty(t, got.exceptions)

	select {
	case <-s.ResultsReady():
		t.Fatal("results must not be enabled by a failed upload")
	default:
	}
}

func TestRunUploadCancelledExitsQuietly(t *testing.T) {
	s := NewSession(scenarioConfig())
	ctx, cancel := context.WithCancel(context.Background())
	hooks := newFakeHooks()
	done := make(chan struct{})
	go func() {
		defer close(done)
		RunUpload(ctx, s, testDeps(&scriptedSource{}, &fakeService{}, hooks))
	}()

	cancel()
	waitDone(t, done, time.Second)
	require.Empty(t, hooks.snapshot().recEvents)
}

func readySession(cfg Config) *Session {
	s := NewSession(cfg)
	s.enableResults()
	return s
}

func TestRunPollDeliversResultsUntilComplete(t *testing.T) {
	s := readySession(scenarioConfig())
	svc := &fakeService{pollFn: func(n int, _ bool) (recognizer.PollResponse, error) {
		switch n {
		case 1:
			return recognizer.PollResponse{OK: true, HasData: true, Transcript: recognizer.Transcript{Text: "hel"}}, nil
		case 2:
			return recognizer.PollResponse{OK: true}, nil
		default:
			return recognizer.PollResponse{OK: true, HasData: true, Transcript: recognizer.Transcript{Text: "hello", Complete: true}}, nil
		}
	}}
	hooks := newFakeHooks()
	hooks.recognize = fsm.RecognizeProcessing

	RunPoll(context.Background(), s, testDeps(&scriptedSource{}, svc, hooks))

	_, queries := svc.recorded()
	require.Len(t, queries, 3)
	require.Equal(t, recognizer.KindSTT, queries[0].Kind)
	require.Nil(t, queries[0].Hint)

	got := hooks.snapshot()
	require.Len(t, got.results, 2)
	require.Equal(t, "hel", got.results[0].Transcript.Text)
	require.True(t, got.results[1].Transcript.Complete)
	require.Equal(t, []fsm.Event{fsm.EventComplete, fsm.EventReset}, got.recEvents)
	require.Equal(t, fsm.RecognizeStopped, got.recognize)
}

func TestRunPollWaitsFullIntervalAfterSlowQuery(t *testing.T) {
	s := readySession(scenarioConfig())
	var (
		mu    sync.Mutex
		ended []time.Time
		began []time.Time
	)
	svc := &fakeService{pollFn: func(n int, _ bool) (recognizer.PollResponse, error) {
		mu.Lock()
		began = append(began, time.Now())
		mu.Unlock()
		time.Sleep(150 * time.Millisecond)
		mu.Lock()
		ended = append(ended, time.Now())
		mu.Unlock()
		return recognizer.PollResponse{OK: true, HasData: true, Transcript: recognizer.Transcript{Complete: n == 3}}, nil
	}}
	hooks := newFakeHooks()
	hooks.recognize = fsm.RecognizeProcessing

	RunPoll(context.Background(), s, testDeps(&scriptedSource{}, svc, hooks))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, began, 3)
	for i := 1; i < len(began); i++ {
		require.GreaterOrEqual(t, began[i].Sub(ended[i-1]), MinPollInterval)
	}
}

func TestRunPollSendsHintForNLI(t *testing.T) {
	cfg := scenarioConfig()
	cfg.ResultKind = recognizer.KindNLI
	cfg.NLIHint = map[string]any{"slotname": "weather"}
	s := readySession(cfg)
	svc := &fakeService{pollFn: func(int, bool) (recognizer.PollResponse, error) {
		return recognizer.PollResponse{OK: true, HasData: true, Transcript: recognizer.Transcript{Complete: true}}, nil
	}}

	RunPoll(context.Background(), s, testDeps(&scriptedSource{}, svc, newFakeHooks()))

	_, queries := svc.recorded()
	require.Len(t, queries, 1)
	require.Equal(t, recognizer.KindNLI, queries[0].Kind)
	require.Equal(t, "weather", queries[0].Hint["slotname"])
}

func TestRunPollErrorFailsRecognition(t *testing.T) {
	s := readySession(scenarioConfig())
	svc := &fakeService{pollFn: func(int, bool) (recognizer.PollResponse, error) {
		return recognizer.PollResponse{ErrorCode: "500", ErrorMessage: "down"}, nil
	}}
	hooks := newFakeHooks()
	hooks.recognize = fsm.RecognizeProcessing

	RunPoll(context.Background(), s, testDeps(&scriptedSource{}, svc, hooks))

	got := hooks.snapshot()
	require.Len(t, got.serverErrs, 1)
	require.ErrorIs(t, got.serverErrs[0], recognizer.ErrNetwork)
	require.Empty(t, got.results)
	require.Equal(t, []fsm.Event{fsm.EventFail, fsm.EventReset}, got.recEvents)
}

func TestRunPollWaitsForFirstUpload(t *testing.T) {
	s := NewSession(scenarioConfig())
	svc := &fakeService{}
	hooks := newFakeHooks()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		RunPoll(ctx, s, testDeps(&scriptedSource{}, svc, hooks))
	}()

	time.Sleep(3 * MinPollInterval)
	_, queries := svc.recorded()
	require.Empty(t, queries)

	cancel()
	waitDone(t, done, time.Second)
	require.Equal(t, []fsm.Event{fsm.EventReset}, hooks.snapshot().recEvents)
}

func TestWorkersEndToEnd(t *testing.T) {
	s := NewSession(scenarioConfig())
	src := &scriptedSource{amplitudes: scenarioScript()}
	svc := &fakeService{}
	hooks := newFakeHooks()
	deps := testDeps(src, svc, hooks)

	var wg sync.WaitGroup
	for _, run := range []func(context.Context, *Session, Deps){RunCapture, RunUpload, RunPoll} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(context.Background(), s, deps)
		}()
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	waitDone(t, done, 5*time.Second)

	uploads, queries := svc.recorded()
	require.Len(t, uploads, 11)
	require.True(t, uploads[10].Final)
	total := 0
	for _, u := range uploads {
		total += len(u.Audio)
	}
	require.Equal(t, 162*testBlock*2, total)
	require.NotEmpty(t, queries)

	got := hooks.snapshot()
	require.Equal(t, fsm.CaptureStopped, got.capture)
	require.Equal(t, fsm.RecognizeStopped, got.recognize)
	require.Equal(t, fsm.EventProcess, got.recEvents[0])
	require.Equal(t, []fsm.Event{fsm.EventComplete, fsm.EventReset}, got.recEvents[len(got.recEvents)-2:])
	require.NotEmpty(t, got.results)
	require.True(t, got.results[len(got.results)-1].Transcript.Complete)
	require.Empty(t, got.serverErrs)
	require.Empty(t, got.exceptions)
}
