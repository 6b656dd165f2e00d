package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// SocketName is the unix socket file created under XDG_RUNTIME_DIR.
const SocketName = "hark.sock"

// ErrAlreadyRunning reports a live owner already holding the socket.
var ErrAlreadyRunning = errors.New("hark session already running")

// ErrNoRuntimeDir means no socket path is configured and XDG_RUNTIME_DIR
// is unset.
var ErrNoRuntimeDir = errors.New("XDG_RUNTIME_DIR is not set and session.socket_path is empty")

// ResolveSocketPath returns configured when set, otherwise SocketName under
// XDG_RUNTIME_DIR.
func ResolveSocketPath(configured string) (string, error) {
	if configured = strings.TrimSpace(configured); configured != "" {
		return filepath.Clean(configured), nil
	}
	runtimeDir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR"))
	if runtimeDir == "" {
		return "", ErrNoRuntimeDir
	}
	return filepath.Join(runtimeDir, SocketName), nil
}

// Acquire binds path, probing and removing a stale socket left by a dead owner.
// rescue runs after a stale socket is removed.
func Acquire(
	ctx context.Context,
	path string,
	probeTimeout time.Duration,
	retries int,
	rescue func(context.Context) error,
) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("ensure runtime socket dir: %w", err)
	}

	for attempt := 0; attempt <= retries; attempt++ {
		listener, err := net.Listen("unix", path)
		if err == nil {
			_ = os.Chmod(path, 0o600)
			return listener, nil
		}

		if !isAddrInUse(err) {
			return nil, fmt.Errorf("listen unix %s: %w", path, err)
		}

		alive, probeErr := Probe(ctx, path, probeTimeout)
		if alive {
			return nil, ErrAlreadyRunning
		}
		if probeErr != nil {
			return nil, fmt.Errorf("probe existing socket %s: %w", path, probeErr)
		}

		if removeErr := os.Remove(path); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale socket %s: %w", path, removeErr)
		}

		if rescue != nil {
			_ = rescue(ctx)
		}

		if attempt < retries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(25*(attempt+1)) * time.Millisecond):
			}
		}
	}

	return nil, fmt.Errorf("failed to acquire socket %s after %d retries", path, retries)
}

func isAddrInUse(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.EADDRINUSE) || strings.Contains(err.Error(), "address already in use")
}
