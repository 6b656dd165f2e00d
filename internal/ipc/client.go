package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"
	"time"
)

// ErrNoOwner means nothing is listening on the socket path.
var ErrNoOwner = errors.New("no hark session is listening")

// RemoteError is a request the owner received and refused.
type RemoteError struct {
	Command string
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

// Send performs one request/response roundtrip on the socket at path. The
// whole exchange shares a single deadline of timeout.
func Send(ctx context.Context, path string, req Request, timeout time.Duration) (Response, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "unix", path)
	if err != nil {
		return Response{}, err
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return Response{}, fmt.Errorf("set deadline: %w", err)
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Response{}, fmt.Errorf("encode request: %w", err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

// Forward sends command to the session owner on path. It returns ErrNoOwner
// when nobody listens there and a *RemoteError when the owner refused.
func Forward(ctx context.Context, path string, command string, timeout time.Duration) (Response, error) {
	resp, err := Send(ctx, path, Request{Command: command}, timeout)
	switch {
	case err == nil && resp.OK:
		return resp, nil
	case err == nil:
		return resp, &RemoteError{Command: command, Message: resp.Error}
	case Unavailable(err):
		return Response{}, ErrNoOwner
	default:
		return Response{}, fmt.Errorf("forward command %q: %w", command, err)
	}
}

// Probe checks whether a responsive owner is currently listening on path.
func Probe(ctx context.Context, path string, timeout time.Duration) (bool, error) {
	_, err := Send(ctx, path, Request{Command: CommandStatus}, timeout)
	if err == nil {
		return true, nil
	}
	if Unavailable(err) {
		return false, nil
	}
	return false, fmt.Errorf("probe socket: %w", err)
}

// Unavailable reports dial failures that mean no owner exists: a missing
// socket file or a refused connection.
func Unavailable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		strings.Contains(err.Error(), "no such file or directory")
}
