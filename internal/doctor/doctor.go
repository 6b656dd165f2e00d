// Package doctor runs runtime readiness diagnostics for config, audio, and the recognizer.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/rbright/hark/internal/audio"
	"github.com/rbright/hark/internal/config"
	"github.com/rbright/hark/internal/ipc"
	"github.com/rbright/hark/internal/recognizer"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Probes are the live lookups a report depends on.
type Probes struct {
	SelectDevice func(ctx context.Context, name string, fallbackToDefault bool) (audio.Selection, error)
	Recognizer   func(ctx context.Context, cfg recognizer.ClientConfig) error
}

// DefaultProbes talks to PulseAudio and the configured recognizer endpoint.
func DefaultProbes() Probes {
	return Probes{
		SelectDevice: audio.SelectDevice,
		Recognizer:   probeRecognizer,
	}
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, cfg config.Loaded, probes Probes) Report {
	checks := []Check{checkConfig(cfg)}

	checks = append(checks, checkSocket(cfg.Config))

	checks = append(checks, checkAudioSelection(ctx, cfg.Config, probes.SelectDevice))
	checks = append(checks, checkRecognizer(ctx, cfg.Config, probes.Recognizer))

	if listen := strings.TrimSpace(cfg.Config.Metrics.Listen); listen != "" {
		checks = append(checks, checkListen("metrics.listen", listen))
	}
	if listen := strings.TrimSpace(cfg.Config.EventFeed.Listen); listen != "" {
		checks = append(checks, checkListen("eventfeed.listen", listen))
	}

	return Report{Checks: checks}
}

func checkConfig(cfg config.Loaded) Check {
	if !cfg.Exists {
		return Check{Name: "config", Pass: true, Message: fmt.Sprintf("%q not found; using defaults", cfg.Path)}
	}
	return Check{Name: "config", Pass: true, Message: fmt.Sprintf("loaded %q", cfg.Path)}
}

// checkSocket resolves the control socket that stop/cancel/status dial.
func checkSocket(cfg config.Config) Check {
	path, err := ipc.ResolveSocketPath(cfg.Session.SocketPath)
	if err != nil {
		return Check{Name: "ipc.socket", Pass: false, Message: err.Error() + "; stop/cancel/status cannot reach a session"}
	}
	return Check{Name: "ipc.socket", Pass: true, Message: fmt.Sprintf("control socket %s", path)}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(
	ctx context.Context,
	cfg config.Config,
	selectDevice func(context.Context, string, bool) (audio.Selection, error),
) Check {
	if selectDevice == nil {
		return Check{Name: "audio.device", Pass: false, Message: "no device probe configured"}
	}
	selection, err := selectDevice(ctx, cfg.Audio.Device, cfg.Audio.FallbackToDefault)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

// checkRecognizer dials the endpoint and runs the gRPC health check.
func checkRecognizer(
	ctx context.Context,
	cfg config.Config,
	probe func(context.Context, recognizer.ClientConfig) error,
) Check {
	endpoint := strings.TrimSpace(cfg.Recognizer.Endpoint)
	if endpoint == "" {
		return Check{Name: "recognizer.health", Pass: false, Message: "recognizer endpoint is empty"}
	}
	if probe == nil {
		return Check{Name: "recognizer.health", Pass: false, Message: "no recognizer probe configured"}
	}
	err := probe(ctx, recognizer.ClientConfig{Endpoint: endpoint, DialTimeout: cfg.DialTimeout()})
	if err != nil {
		return Check{Name: "recognizer.health", Pass: false, Message: fmt.Sprintf("%s: %v", endpoint, err)}
	}
	return Check{Name: "recognizer.health", Pass: true, Message: fmt.Sprintf("serving at %s", endpoint)}
}

func probeRecognizer(ctx context.Context, cfg recognizer.ClientConfig) error {
	client, err := recognizer.Dial(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return client.Health(healthCtx)
}

// checkListen verifies the address parses and can currently be bound.
func checkListen(name string, addr string) Check {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("invalid address %q: %v", addr, err)}
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return Check{Name: name, Pass: false, Message: fmt.Sprintf("permission denied binding %s", addr)}
		}
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("cannot bind %s: %v", addr, err)}
	}
	_ = ln.Close()
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("%s is free", addr)}
}
