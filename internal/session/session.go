// Package session owns the capture and recognize state machines of hark and
// runs one pipeline session at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rbright/hark/internal/audio"
	"github.com/rbright/hark/internal/fsm"
	"github.com/rbright/hark/internal/ipc"
	"github.com/rbright/hark/internal/metrics"
	"github.com/rbright/hark/internal/pipeline"
	"github.com/rbright/hark/internal/recognizer"
)

const (
	defaultEventBuffer   = 256
	defaultStartWait     = 500 * time.Millisecond
	defaultStartAttempts = 10
	defaultWatchdogTick  = 100 * time.Millisecond
)

// Deps are the collaborators of a Controller. NewSource is called once per
// session so every session owns a fresh device handle.
type Deps struct {
	NewSource func() audio.Source
	Service   recognizer.Service
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
}

type Option func(*Controller)

// WithEventBuffer sets the capacity of the Events channel.
func WithEventBuffer(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.bufferSize = n
		}
	}
}

// WithStartWait bounds how long Start waits for a finishing prior session:
// attempts × interval.
func WithStartWait(interval time.Duration, attempts int) Option {
	return func(c *Controller) {
		if interval > 0 {
			c.startWait = interval
		}
		if attempts > 0 {
			c.startAttempts = attempts
		}
	}
}

// WithWatchdogTick sets how often the timeout watchdog samples the session.
func WithWatchdogTick(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.tick = d
		}
	}
}

// Controller orchestrates session state transitions and listener events.
type Controller struct {
	cfg  pipeline.Config
	deps Deps
	log  zerolog.Logger

	bufferSize    int
	startWait     time.Duration
	startAttempts int
	tick          time.Duration

	events chan Event

	startMu sync.Mutex

	mu        sync.Mutex
	capture   fsm.CaptureState
	recognize fsm.RecognizeState
	current   *run
}

// run is the controller's view of one session. Every field except the
// immutable ones is guarded by Controller.mu.
type run struct {
	session *pipeline.Session
	log     zerolog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started time.Time

	suppress    bool
	finalNotice bool
	aborted     bool
	finished    bool
	outcome     string
	cause       error
}

func NewController(cfg pipeline.Config, deps Deps, opts ...Option) *Controller {
	c := &Controller{
		cfg:           cfg,
		deps:          deps,
		log:           deps.Logger,
		bufferSize:    defaultEventBuffer,
		startWait:     defaultStartWait,
		startAttempts: defaultStartAttempts,
		tick:          defaultWatchdogTick,
		capture:       fsm.CaptureStopped,
		recognize:     fsm.RecognizeStopped,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.events = make(chan Event, c.bufferSize)
	return c
}

// Events delivers listener notifications. Delivery never blocks the
// pipeline: when the buffer is full the event is dropped and counted.
func (c *Controller) Events() <-chan Event {
	return c.events
}

func (c *Controller) CaptureState() fsm.CaptureState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capture
}

func (c *Controller) RecognizeState() fsm.RecognizeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recognize
}

var closedDone = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Done is closed once every worker of the current (or last) session has
// exited and the machines are back to stopped.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return closedDone
	}
	return c.current.done
}

// Start begins a new session. It fails with ErrIllegalState unless capture is
// stopped, and with ErrPriorSessionBusy if the previous session does not
// finish within the start wait bound.
func (c *Controller) Start(ctx context.Context) error {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	c.mu.Lock()
	if c.capture != fsm.CaptureStopped {
		state := c.capture
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot start from capture state %s", ErrIllegalState, state)
	}
	prev := c.current
	c.mu.Unlock()

	if prev != nil {
		if err := c.awaitPrior(ctx, prev); err != nil {
			return err
		}
	}

	if c.deps.NewSource == nil {
		return ErrNoSource
	}
	if err := c.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid session config: %w", err)
	}

	s := pipeline.NewSession(c.cfg)
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{
		session: s,
		log:     c.log.With().Str("session_id", string(s.Cookie)).Logger(),
		ctx:     runCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
		started: time.Now(),
		outcome: "stopped",
	}

	c.mu.Lock()
	if c.capture != fsm.CaptureStopped {
		state := c.capture
		c.mu.Unlock()
		cancel()
		return fmt.Errorf("%w: cannot start from capture state %s", ErrIllegalState, state)
	}
	c.recognize = fsm.RecognizeStopped
	c.current = r
	c.applyCapture(r, fsm.EventStart, nil)
	if s.Config.Continuous {
		c.applyRecognize(r, fsm.EventInit, nil)
	}
	c.mu.Unlock()

	c.deps.Metrics.SessionStarted()
	r.log.Info().
		Bool("continuous", s.Config.Continuous).
		Str("result_kind", s.Config.ResultKind.String()).
		Str("compression", s.Config.Compression).
		Msg("session started")

	deps := pipeline.Deps{
		Source:  c.deps.NewSource(),
		Service: c.deps.Service,
		Hooks:   &runHooks{c: c, r: r},
		Metrics: c.deps.Metrics,
		Logger:  r.log,
	}

	var wg sync.WaitGroup
	for _, worker := range []func(context.Context, *pipeline.Session, pipeline.Deps){
		pipeline.RunCapture,
		pipeline.RunUpload,
		pipeline.RunPoll,
	} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker(runCtx, s, deps)
		}()
	}
	go c.watch(r)
	go func() {
		wg.Wait()
		cancel()
		c.finish(r)
		close(r.done)
	}()
	return nil
}

// awaitPrior waits for the previous session's completion signal.
func (c *Controller) awaitPrior(ctx context.Context, prev *run) error {
	select {
	case <-prev.done:
		return nil
	default:
	}

	bound := c.startWait * time.Duration(c.startAttempts)
	c.log.Debug().Dur("bound", bound).Msg("waiting for prior session to finish")
	timer := time.NewTimer(bound)
	defer timer.Stop()

	select {
	case <-prev.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w after %s", ErrPriorSessionBusy, bound)
	}
}

// Stop requests a cooperative stop. The capture worker notices STOPPING and
// finishes; upload and poll run on until the final result.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.active()
	if r == nil {
		return
	}
	c.applyCapture(r, fsm.EventStop, nil)
}

// Cancel stops capture and cancels upload and poll without waiting for a
// final unit. Listener events are suppressed from here on; the session
// closes with a single final stopped notice.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.active()
	if r == nil {
		return
	}
	c.terminate(r, "cancelled", ErrCancelled)
}

// Release tears the session down without any further events and resets both
// machines to stopped immediately.
func (c *Controller) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.current
	if r == nil {
		return
	}
	if !r.aborted {
		r.suppress = true
		r.finalNotice = false
		r.aborted = true
		r.outcome = "released"
		r.cancel()
	}
	c.resetMachines(r)
}

// active returns the current run unless it has already been torn down.
func (c *Controller) active() *run {
	r := c.current
	if r == nil || r.aborted {
		return nil
	}
	select {
	case <-r.done:
		return nil
	default:
		return r
	}
}

// terminate is the cancellation path shared by Cancel and the watchdog.
func (c *Controller) terminate(r *run, outcome string, cause error) {
	if r.suppress {
		return
	}
	r.suppress = true
	r.finalNotice = true
	r.outcome = outcome
	r.cause = cause
	c.applyCapture(r, fsm.EventStop, nil)
	r.cancel()
}

// abort handles ERROR on either machine: cancel everything and reset both
// machines so a new session can start.
func (c *Controller) abort(r *run, cause error) {
	if r.aborted {
		return
	}
	r.aborted = true
	r.suppress = true
	r.finalNotice = true
	r.outcome = "error"
	r.cause = cause
	r.cancel()
	c.resetMachines(r)
}

func (c *Controller) resetMachines(r *run) {
	c.setCapture(r, fsm.CaptureStopped, nil)
	c.setRecognize(r, fsm.RecognizeStopped, nil)
}

// finish runs after every worker has exited.
func (c *Controller) finish(r *run) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == r {
		c.resetMachines(r)
	}
	if r.finalNotice {
		c.emit(r, Event{
			Kind:      RecognizeStateChanged,
			Capture:   fsm.CaptureStopped,
			Recognize: fsm.RecognizeStopped,
			Err:       r.cause,
			Final:     true,
		})
	}

	c.deps.Metrics.SessionEnded(r.outcome)
	event := r.log.Info()
	if r.cause != nil {
		event = event.Err(r.cause)
	}
	event.Str("outcome", r.outcome).Dur("elapsed", time.Since(r.started)).Msg("session ended")
}

// applyCapture fires event on the capture machine for r. Callers hold c.mu.
func (c *Controller) applyCapture(r *run, event fsm.Event, cause error) {
	next, err := fsm.Capture(c.capture, event)
	if err != nil {
		r.log.Debug().Err(err).Msg("capture transition ignored")
		return
	}
	c.setCapture(r, next, cause)
	if next == fsm.CaptureError {
		c.abort(r, cause)
	}
}

func (c *Controller) setCapture(r *run, next fsm.CaptureState, cause error) {
	prev := c.capture
	if prev == next {
		return
	}
	c.capture = next
	c.deps.Metrics.CaptureState(string(prev), string(next))
	r.log.Debug().Str("from", string(prev)).Str("to", string(next)).Msg("capture state")
	c.emit(r, Event{Kind: CaptureStateChanged, Capture: next, Recognize: c.recognize, Err: cause})
}

// applyRecognize fires event on the recognize machine for r. Callers hold c.mu.
func (c *Controller) applyRecognize(r *run, event fsm.Event, cause error) {
	if r.finished && (event == fsm.EventInit || event == fsm.EventProcess) {
		return
	}
	next, err := fsm.Recognize(c.recognize, event)
	if err != nil {
		r.log.Debug().Err(err).Msg("recognize transition ignored")
		return
	}
	switch event {
	case fsm.EventReset:
		r.finished = true
	case fsm.EventComplete:
		r.outcome = "completed"
	}

	c.setRecognize(r, next, cause)
	switch next {
	case fsm.RecognizeError:
		c.abort(r, cause)
	case fsm.RecognizeStopped:
		c.setCapture(r, fsm.CaptureStopped, nil)
	}
}

func (c *Controller) setRecognize(r *run, next fsm.RecognizeState, cause error) {
	prev := c.recognize
	if prev == next {
		return
	}
	c.recognize = next
	c.deps.Metrics.RecognizeState(string(prev), string(next))
	r.log.Debug().Str("from", string(prev)).Str("to", string(next)).Msg("recognize state")
	c.emit(r, Event{Kind: RecognizeStateChanged, Capture: c.capture, Recognize: next, Err: cause})
}

// emit delivers ev unless r's callbacks are suppressed. Error-class events
// are always delivered. Callers hold c.mu so events keep transition order.
func (c *Controller) emit(r *run, ev Event) {
	if r.suppress && !ev.IsError() {
		return
	}
	ev.Session = r.session.Cookie
	ev.At = time.Now()
	select {
	case c.events <- ev:
	default:
		c.deps.Metrics.EventDropped()
		r.log.Warn().Str("kind", string(ev.Kind)).Msg("event buffer full; dropped event")
	}
}

// runHooks binds the pipeline workers of one run to the controller. Calls
// from a run that is no longer current are ignored.
type runHooks struct {
	c *Controller
	r *run
}

func (h *runHooks) CaptureState() fsm.CaptureState {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	if h.c.current != h.r || h.r.aborted {
		return fsm.CaptureStopping
	}
	return h.c.capture
}

func (h *runHooks) FireCapture(event fsm.Event, cause error) {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	if h.c.current != h.r || h.r.aborted {
		return
	}
	h.c.applyCapture(h.r, event, cause)
}

func (h *runHooks) FireRecognize(event fsm.Event, cause error) {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	if h.c.current != h.r || h.r.aborted {
		return
	}
	h.c.applyRecognize(h.r, event, cause)
}

func (h *runHooks) Volume(level int) {
	h.notify(Event{Kind: VolumeChanged, Level: level})
}

func (h *runHooks) Result(resp recognizer.PollResponse) {
	h.notify(Event{Kind: ResultChanged, Result: resp})
}

func (h *runHooks) ServerError(err error) {
	h.notify(Event{Kind: ServerError, Err: err})
}

func (h *runHooks) Exception(err error) {
	h.notify(Event{Kind: Exception, Err: err})
}

func (h *runHooks) notify(ev Event) {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	if h.c.current != h.r {
		return
	}
	if h.r.aborted && !ev.IsError() {
		return
	}
	h.c.emit(h.r, ev)
}

// Handle serves IPC commands for the running session.
func (c *Controller) Handle(_ context.Context, req ipc.Request) ipc.Response {
	var resp ipc.Response
	switch {
	case req.Command != ipc.CommandStatus && req.Session != "" && !c.isActive(req.Session):
		resp = ipc.Response{OK: false, Error: fmt.Sprintf("cannot %s: session %s is not active", req.Command, req.Session)}
	case req.Command == ipc.CommandStatus:
		resp = ipc.Response{OK: true, Message: "status"}
	case req.Command == ipc.CommandToggle, req.Command == ipc.CommandStop:
		resp = c.requestStop(req.Command)
	case req.Command == ipc.CommandCancel:
		resp = c.requestCancel()
	default:
		resp = ipc.Response{OK: false, Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
	resp.State, resp.Session = c.describe()
	return resp
}

// isActive reports whether cookie names the running session.
func (c *Controller) isActive(cookie string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.active()
	return r != nil && string(r.session.Cookie) == cookie
}

// describe reports both machine states and the active session cookie.
func (c *Controller) describe() (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var cookie string
	if r := c.active(); r != nil {
		cookie = string(r.session.Cookie)
	}
	return fmt.Sprintf("capture=%s recognize=%s", c.capture, c.recognize), cookie
}

// requestStop stops capture when it is still running.
func (c *Controller) requestStop(source string) ipc.Response {
	c.mu.Lock()
	state := c.capture
	r := c.active()
	switch {
	case r == nil:
		c.mu.Unlock()
		return ipc.Response{OK: false, Error: fmt.Sprintf("cannot %s: no active session", source)}
	case state == fsm.CaptureStopping:
		c.mu.Unlock()
		return ipc.Response{OK: true, Message: "stop already requested"}
	case state == fsm.CaptureInitializing, state == fsm.CaptureInitialized, state == fsm.CaptureRecording:
		c.applyCapture(r, fsm.EventStop, nil)
		c.mu.Unlock()
		return ipc.Response{OK: true, Message: "stop requested"}
	default:
		c.mu.Unlock()
		return ipc.Response{OK: false, Error: fmt.Sprintf("cannot %s from capture state %s", source, state)}
	}
}

// requestCancel cancels the active session.
func (c *Controller) requestCancel() ipc.Response {
	c.mu.Lock()
	r := c.active()
	if r == nil {
		c.mu.Unlock()
		return ipc.Response{OK: false, Error: "cannot cancel: no active session"}
	}
	if r.suppress {
		c.mu.Unlock()
		return ipc.Response{OK: true, Message: "cancel already requested"}
	}
	c.terminate(r, "cancelled", ErrCancelled)
	c.mu.Unlock()
	return ipc.Response{OK: true, Message: "cancel requested"}
}

// IsIllegalState reports whether err rejected a Start.
func IsIllegalState(err error) bool {
	return errors.Is(err, ErrIllegalState)
}
