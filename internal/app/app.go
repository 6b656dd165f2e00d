// Package app dispatches hark commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/rbright/hark/internal/audio"
	"github.com/rbright/hark/internal/cli"
	"github.com/rbright/hark/internal/config"
	"github.com/rbright/hark/internal/cue"
	"github.com/rbright/hark/internal/doctor"
	"github.com/rbright/hark/internal/ipc"
	"github.com/rbright/hark/internal/logging"
	"github.com/rbright/hark/internal/pipeline"
	"github.com/rbright/hark/internal/recognizer"
	"github.com/rbright/hark/internal/version"
)

const forwardTimeout = 220 * time.Millisecond

// RecognizerConn is a recognizer service that owns a connection.
type RecognizerConn interface {
	recognizer.Service
	Close() error
}

// Runner executes one hark invocation. The optional hooks replace the live
// PulseAudio, gRPC, cue playback and doctor probes.
type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *zerolog.Logger

	NewSource      func(config.Config, pipeline.Config) audio.Source
	DialRecognizer func(context.Context, recognizer.ClientConfig) (RecognizerConn, error)
	CuePlayer      cue.Player
	Probes         *doctor.Probes
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText(version.Name))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText(version.Name))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if parsed.Continuous {
		cfgLoaded.Config.Session.Continuous = true
	}

	logRuntime, err := logging.New(logging.Options{
		Level:  cfgLoaded.Config.Logging.Level,
		Pretty: cfgLoaded.Config.Logging.Pretty,
	})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := logRuntime.Logger
	if r.Logger != nil {
		logger = *r.Logger
	}

	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn().Int("line", w.Line).Str("message", w.Message).Msg("config warning")
	}

	logger.Info().
		Str("command", string(parsed.Command)).
		Str("config", cfgLoaded.Path).
		Str("log", logRuntime.Path).
		Msg("command start")

	switch parsed.Command {
	case cli.CommandDoctor:
		probes := doctor.DefaultProbes()
		if r.Probes != nil {
			probes = *r.Probes
		}
		report := doctor.Run(ctx, cfgLoaded, probes)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	case cli.CommandStatus:
		return r.commandStatus(ctx, cfgLoaded.Config)
	case cli.CommandStop:
		return r.forwardOrFail(ctx, cfgLoaded.Config, ipc.CommandStop)
	case cli.CommandCancel:
		return r.forwardOrFail(ctx, cfgLoaded.Config, ipc.CommandCancel)
	case cli.CommandToggle:
		return r.commandToggle(ctx, cfgLoaded.Config, logger)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

func (r Runner) commandDevices(ctx context.Context) int {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return 1
	}

	for _, device := range devices {
		r.printDevice(device)
	}
	return 0
}

func (r Runner) printDevice(device audio.Device) {
	defaultMark := " "
	if device.Default {
		defaultMark = "*"
	}
	fmt.Fprintf(
		r.Stdout,
		"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
		defaultMark,
		device.ID,
		device.Description,
		device.State,
		yesNo(device.Available),
		yesNo(device.Muted),
	)
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func (r Runner) commandStatus(ctx context.Context, cfg config.Config) int {
	socketPath, err := ipc.ResolveSocketPath(cfg.Session.SocketPath)
	if err != nil {
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.CommandStatus)
	if !handled {
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.State == "" {
		resp.State = "idle"
	}
	if resp.Session != "" {
		fmt.Fprintf(r.Stdout, "%s session=%s\n", resp.State, resp.Session)
		return 0
	}
	fmt.Fprintln(r.Stdout, resp.State)
	return 0
}

func (r Runner) forwardOrFail(ctx context.Context, cfg config.Config, command string) int {
	socketPath, err := ipc.ResolveSocketPath(cfg.Session.SocketPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, command)
	if !handled {
		fmt.Fprintf(r.Stderr, "error: no active %s session\n", version.Name)
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

// tryForward sends command to a running owner. handled is false when no
// owner is listening.
func tryForward(ctx context.Context, socketPath string, command string) (ipc.Response, bool, error) {
	resp, err := ipc.Forward(ctx, socketPath, command, forwardTimeout)
	if errors.Is(err, ipc.ErrNoOwner) {
		return ipc.Response{}, false, nil
	}
	return resp, true, err
}
