package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/rbright/hark/internal/fsm"
	"github.com/rbright/hark/internal/recognizer"
)

const (
	speechAmplitude = 6500 // mic level 20
	testBlock       = 320  // 20ms at 16kHz
)

// scenarioConfig uses 20ms blocks with no resampling.
func scenarioConfig() Config {
	cfg := DefaultConfig()
	cfg.CaptureRate = 16000
	cfg.TargetRate = 16000
	cfg.FrameMs = 20
	cfg.FramesPerBlock = 1
	cfg.LeadIn = time.Second
	cfg.VADTail = 2 * time.Second
	cfg.NoiseWindow = time.Second
	cfg.SilenceLevel = 5
	cfg.UploadBatch = 300 * time.Millisecond
	cfg.PollInterval = MinPollInterval
	return cfg
}

func script(parts ...[]int16) []int16 {
	var out []int16
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func repeat(amplitude int16, n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = amplitude
	}
	return out
}

type hookRecord struct {
	capture    fsm.CaptureState
	recognize  fsm.RecognizeState
	capEvents  []fsm.Event
	recEvents  []fsm.Event
	volumes    []int
	results    []recognizer.PollResponse
	serverErrs []error
	exceptions []error
}

type fakeHooks struct {
	mu sync.Mutex
	hookRecord
}

func newFakeHooks() *fakeHooks {
	return &fakeHooks{hookRecord: hookRecord{capture: fsm.CaptureInitializing, recognize: fsm.RecognizeStopped}}
}

func (h *fakeHooks) CaptureState() fsm.CaptureState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.capture
}

func (h *fakeHooks) setCapture(state fsm.CaptureState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.capture = state
}

func (h *fakeHooks) RecognizeState() fsm.RecognizeState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.recognize
}

func (h *fakeHooks) FireCapture(event fsm.Event, _ error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.capEvents = append(h.capEvents, event)
	if next, err := fsm.Capture(h.capture, event); err == nil {
		h.capture = next
	}
}

func (h *fakeHooks) FireRecognize(event fsm.Event, _ error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recEvents = append(h.recEvents, event)
	if next, err := fsm.Recognize(h.recognize, event); err == nil {
		h.recognize = next
	}
}

func (h *fakeHooks) Volume(level int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.volumes = append(h.volumes, level)
}

func (h *fakeHooks) Result(resp recognizer.PollResponse) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.results = append(h.results, resp)
}

func (h *fakeHooks) ServerError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.serverErrs = append(h.serverErrs, err)
}

func (h *fakeHooks) Exception(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exceptions = append(h.exceptions, err)
}

func (h *fakeHooks) snapshot() hookRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return hookRecord{
		capture:    h.capture,
		recognize:  h.recognize,
		capEvents:  append([]fsm.Event(nil), h.capEvents...),
		recEvents:  append([]fsm.Event(nil), h.recEvents...),
		volumes:    append([]int(nil), h.volumes...),
		results:    append([]recognizer.PollResponse(nil), h.results...),
		serverErrs: append([]error(nil), h.serverErrs...),
		exceptions: append([]error(nil), h.exceptions...),
	}
}

// scriptedSource plays one amplitude per block, then returns readErr (io.EOF
// by default).
type scriptedSource struct {
	amplitudes []int16
	openErr    error
	readErr    error
	onRead     func(read int)

	reads    atomic.Int32
	opened   atomic.Bool
	released atomic.Int32
}

func (s *scriptedSource) Open(context.Context) error {
	if s.openErr != nil {
		return s.openErr
	}
	s.opened.Store(true)
	return nil
}

func (s *scriptedSource) Read(buf []int16) (int, error) {
	if s.released.Load() > 0 {
		return 0, io.EOF
	}
	i := int(s.reads.Load())
	if i >= len(s.amplitudes) {
		if s.readErr != nil {
			return 0, s.readErr
		}
		return 0, io.EOF
	}
	s.reads.Add(1)
	amp := s.amplitudes[i]
	for j := range buf {
		if j%2 == 0 {
			buf[j] = amp
		} else {
			buf[j] = -amp
		}
	}
	if s.onRead != nil {
		s.onRead(i + 1)
	}
	return len(buf), nil
}

func (s *scriptedSource) Release() error {
	s.released.Add(1)
	return nil
}

type fakeService struct {
	mu      sync.Mutex
	uploads []recognizer.Upload
	queries []recognizer.Query

	uploadFn func(n int, u recognizer.Upload) (recognizer.UploadResponse, error)
	pollFn   func(n int, finalSeen bool) (recognizer.PollResponse, error)
}

func (s *fakeService) UploadAudio(_ context.Context, u recognizer.Upload) (recognizer.UploadResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads = append(s.uploads, u)
	if s.uploadFn != nil {
		return s.uploadFn(len(s.uploads), u)
	}
	return recognizer.UploadResponse{OK: true}, nil
}

func (s *fakeService) PollResult(ctx context.Context, q recognizer.Query) (recognizer.PollResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, q)
	finalSeen := len(s.uploads) > 0 && s.uploads[len(s.uploads)-1].Final
	if s.pollFn != nil {
		return s.pollFn(len(s.queries), finalSeen)
	}
	return recognizer.PollResponse{
		OK:         true,
		HasData:    true,
		Transcript: recognizer.Transcript{Text: "hello world", Complete: finalSeen},
	}, nil
}

func (s *fakeService) recorded() ([]recognizer.Upload, []recognizer.Query) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recognizer.Upload(nil), s.uploads...), append([]recognizer.Query(nil), s.queries...)
}

func testDeps(src *scriptedSource, svc *fakeService, hooks *fakeHooks) Deps {
	return Deps{Source: src, Service: svc, Hooks: hooks, Logger: zerolog.Nop()}
}

func drain(t *testing.T, q *Queue) []Block {
	t.Helper()
	var out []Block
	for {
		b, ok, err := q.Take(context.Background())
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, b)
	}
}

func fillQueue(t *testing.T, q *Queue, n int, samples int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, q.Put(context.Background(), Block{Seq: i, Samples: repeat(int16(i+1), samples)}))
	}
	q.Close()
}

func waitDone(t *testing.T, done <-chan struct{}, within time.Duration) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(within):
		t.Fatalf("worker did not exit within %s", within)
	}
}

var errBoom = errors.New("boom")
