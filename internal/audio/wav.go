package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVRecorder appends mono s16 blocks to a WAV file. Close finalises the
// header and is safe to call more than once.
type WAVRecorder struct {
	path string

	mu      sync.Mutex
	file    *os.File
	enc     *wav.Encoder
	format  *goaudio.Format
	samples int
	closed  bool
}

// NewWAVRecorder creates dir if needed and opens name inside it.
func NewWAVRecorder(dir string, name string, sampleRate int) (*WAVRecorder, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create debug dir: %w", err)
	}
	path := filepath.Join(dir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open debug recording %q: %w", path, err)
	}

	return &WAVRecorder{
		path:   path,
		file:   file,
		enc:    wav.NewEncoder(file, sampleRate, 16, 1, 1),
		format: &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
	}, nil
}

func (r *WAVRecorder) Path() string { return r.path }

// Samples reports how many samples have been written.
func (r *WAVRecorder) Samples() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.samples
}

func (r *WAVRecorder) Write(block []int16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("debug recording %q is closed", r.path)
	}

	data := make([]int, len(block))
	for i, s := range block {
		data[i] = int(s)
	}
	buf := &goaudio.IntBuffer{Format: r.format, Data: data, SourceBitDepth: 16}
	if err := r.enc.Write(buf); err != nil {
		return fmt.Errorf("write debug recording: %w", err)
	}
	r.samples += len(block)
	return nil
}

func (r *WAVRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	encErr := r.enc.Close()
	fileErr := r.file.Close()
	if encErr != nil {
		return fmt.Errorf("finalise debug recording: %w", encErr)
	}
	if fileErr != nil {
		return fmt.Errorf("close debug recording: %w", fileErr)
	}
	return nil
}
