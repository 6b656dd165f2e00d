package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rbright/hark/internal/audio"
	"github.com/rbright/hark/internal/config"
	"github.com/rbright/hark/internal/cue"
	"github.com/rbright/hark/internal/eventfeed"
	"github.com/rbright/hark/internal/fsm"
	"github.com/rbright/hark/internal/ipc"
	"github.com/rbright/hark/internal/metrics"
	"github.com/rbright/hark/internal/pipeline"
	"github.com/rbright/hark/internal/recognizer"
	"github.com/rbright/hark/internal/session"
)

// sessionOutcome is what the owner process learned from the event stream.
type sessionOutcome struct {
	Transcript string
	NLI        map[string]any
	Err        error
	Cancelled  bool
	Events     int
}

// commandToggle stops a running session or becomes the owner of a new one.
func (r Runner) commandToggle(ctx context.Context, cfg config.Config, logger zerolog.Logger) int {
	socketPath, err := ipc.ResolveSocketPath(cfg.Session.SocketPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	if code, forwarded := r.forwardToggle(ctx, socketPath); forwarded {
		return code
	}

	listener, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond, 8, nil)
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			if code, forwarded := r.forwardToggle(ctx, socketPath); forwarded {
				return code
			}
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	m := metrics.New()
	hub := eventfeed.NewHub(logger, m)
	servers, err := startHTTPServers(cfg, m, hub, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer servers.shutdown()
	defer hub.Close()

	svc, err := r.dialRecognizer(ctx, recognizer.ClientConfig{
		Endpoint:    cfg.Recognizer.Endpoint,
		DialTimeout: cfg.DialTimeout(),
	})
	if err != nil {
		logger.Error().Err(err).Str("endpoint", cfg.Recognizer.Endpoint).Msg("recognizer unavailable")
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = svc.Close() }()

	pcfg := cfg.Pipeline()
	interval, attempts := cfg.StartWait()
	controller := session.NewController(pcfg, session.Deps{
		NewSource: func() audio.Source { return r.newSource(cfg, pcfg) },
		Service:   svc,
		Metrics:   m,
		Logger:    logger,
	},
		session.WithEventBuffer(cfg.Session.EventBuffer),
		session.WithStartWait(interval, attempts),
	)

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- ipc.Serve(serverCtx, listener, controller, logger)
	}()

	if err := controller.Start(ctx); err != nil {
		serverCancel()
		<-serverErrCh
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	var observers []func(session.Event)
	if cfg.Cues.Enable {
		cues := cue.New(r.cuePlayer(), logger)
		defer cues.Close()
		observers = append(observers, cues.Observe)
	}

	outcome := consumeEvents(ctx, controller, hub, logger, observers...)

	serverCancel()
	if serverErr := <-serverErrCh; serverErr != nil {
		fmt.Fprintf(r.Stderr, "error: ipc server failed: %v\n", serverErr)
		return 1
	}

	return r.report(outcome, pcfg.ResultKind)
}

// forwardToggle hands toggle to a running owner. forwarded is false when no
// owner answered.
func (r Runner) forwardToggle(ctx context.Context, socketPath string) (int, bool) {
	resp, handled, err := tryForward(ctx, socketPath, ipc.CommandToggle)
	if !handled {
		return 0, false
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1, true
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0, true
}

func (r Runner) newSource(cfg config.Config, pcfg pipeline.Config) audio.Source {
	if r.NewSource != nil {
		return r.NewSource(cfg, pcfg)
	}
	return audio.NewPulseSource(audio.PulseConfig{
		Device:            cfg.Audio.Device,
		FallbackToDefault: cfg.Audio.FallbackToDefault,
		SampleRate:        pcfg.CaptureRate,
		BlockSamples:      pcfg.CaptureBlockSamples(),
	})
}

func (r Runner) cuePlayer() cue.Player {
	if r.CuePlayer != nil {
		return r.CuePlayer
	}
	return cue.PulsePlayer{}
}

func (r Runner) dialRecognizer(ctx context.Context, cfg recognizer.ClientConfig) (RecognizerConn, error) {
	if r.DialRecognizer != nil {
		return r.DialRecognizer(ctx, cfg)
	}
	client, err := recognizer.Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// consumeEvents forwards controller events to the log and the event feed
// and any observers until the session has fully stopped. An interrupted ctx
// cancels the session.
func consumeEvents(ctx context.Context, ctrl *session.Controller, hub *eventfeed.Hub, log zerolog.Logger, observers ...func(session.Event)) sessionOutcome {
	var out sessionOutcome
	events := ctrl.Events()
	done := ctrl.Done()
	interrupted := ctx.Done()

	deliver := func(ev session.Event) {
		out.observe(ev)
		logEvent(log, ev)
		if err := hub.Broadcast(ev); err != nil {
			log.Warn().Err(err).Msg("event feed broadcast failed")
		}
		for _, observe := range observers {
			observe(ev)
		}
	}

	for {
		select {
		case ev := <-events:
			deliver(ev)
		case <-interrupted:
			log.Info().Msg("interrupted; cancelling session")
			ctrl.Cancel()
			interrupted = nil
		case <-done:
			for {
				select {
				case ev := <-events:
					deliver(ev)
				default:
					return out
				}
			}
		}
	}
}

func (o *sessionOutcome) observe(ev session.Event) {
	o.Events++
	switch ev.Kind {
	case session.ResultChanged:
		o.Transcript = ev.Result.Transcript.Text
		o.NLI = ev.Result.NLI
	case session.ServerError, session.Exception:
		o.fail(ev.Err)
	case session.CaptureStateChanged:
		if ev.Capture == fsm.CaptureError {
			o.fail(ev.Err)
		}
	case session.RecognizeStateChanged:
		if !ev.Final {
			return
		}
		if errors.Is(ev.Err, session.ErrCancelled) {
			o.Cancelled = true
			return
		}
		o.fail(ev.Err)
	}
}

func (o *sessionOutcome) fail(err error) {
	if err != nil && o.Err == nil {
		o.Err = err
	}
}

func logEvent(log zerolog.Logger, ev session.Event) {
	var entry *zerolog.Event
	switch {
	case ev.Kind == session.VolumeChanged:
		log.Trace().Str("session_id", string(ev.Session)).Int("level", ev.Level).Msg("volume")
		return
	case ev.IsError():
		entry = log.Warn()
	default:
		entry = log.Debug()
	}
	entry = entry.Str("session_id", string(ev.Session)).Str("kind", string(ev.Kind))
	if ev.Capture != "" {
		entry = entry.Str("capture", string(ev.Capture))
	}
	if ev.Recognize != "" {
		entry = entry.Str("recognize", string(ev.Recognize))
	}
	if ev.Err != nil {
		entry = entry.Err(ev.Err)
	}
	entry.Bool("final", ev.Final).Msg("session event")
}

// report prints the outcome and picks the exit code.
func (r Runner) report(out sessionOutcome, kind recognizer.ResultKind) int {
	if out.Cancelled {
		fmt.Fprintln(r.Stdout, "cancelled")
		return 0
	}
	if out.Err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", out.Err)
		return 1
	}
	if text := strings.TrimSpace(out.Transcript); text != "" {
		fmt.Fprintln(r.Stdout, text)
	}
	if kind != recognizer.KindSTT && len(out.NLI) > 0 {
		payload, err := json.Marshal(out.NLI)
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: encode nli result: %v\n", err)
			return 1
		}
		fmt.Fprintln(r.Stdout, string(payload))
	}
	return 0
}
