// Package audio handles device discovery, PCM capture sources, resampling and
// debug recordings.
package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	// ErrDeviceInit reports that the capture device could not be opened.
	ErrDeviceInit = errors.New("audio device initialization failed")
	// ErrPermissionDenied reports that access to the capture device was refused.
	ErrPermissionDenied = errors.New("audio device permission denied")
)

// Source yields fixed-size blocks of mono int16 PCM at its capture rate.
//
// Read fills buf with one block and returns the sample count. It returns
// io.EOF once the source has been released. Release must be safe to call more
// than once.
type Source interface {
	Open(ctx context.Context) error
	Read(buf []int16) (int, error)
	Release() error
}

// DeviceError wraps a capture-device failure with the operation that failed.
// Kind is ErrDeviceInit or ErrPermissionDenied.
type DeviceError struct {
	Op   string
	Kind error
	Err  error
}

func (e *DeviceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *DeviceError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewDeviceError classifies err as a permission or initialization failure.
func NewDeviceError(op string, err error) *DeviceError {
	kind := ErrDeviceInit
	if isPermissionError(err) {
		kind = ErrPermissionDenied
	}
	return &DeviceError{Op: op, Kind: kind, Err: err}
}

func isPermissionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrPermission) || errors.Is(err, ErrPermissionDenied) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "access denied") || strings.Contains(msg, "permission denied")
}
