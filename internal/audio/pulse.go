package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

// PulseConfig selects the source and block geometry of a PulseSource.
type PulseConfig struct {
	Device            string
	FallbackToDefault bool
	SampleRate        int
	BlockSamples      int
}

// PulseSource records mono s16 PCM from one Pulse source and hands it out in
// blocks of BlockSamples.
type PulseSource struct {
	cfg PulseConfig

	selection Selection
	client    *pulse.Client
	stream    *pulse.RecordStream

	blocks chan []byte
	stopCh chan struct{}

	mu      sync.Mutex
	pending []byte
	opened  bool
	stopped bool

	inflight sync.WaitGroup
	bytes    atomic.Int64
}

func NewPulseSource(cfg PulseConfig) *PulseSource {
	return &PulseSource{
		cfg:    cfg,
		blocks: make(chan []byte, 64),
		stopCh: make(chan struct{}),
	}
}

// Open selects the device and starts the record stream.
func (s *PulseSource) Open(ctx context.Context) error {
	if s.cfg.SampleRate <= 0 || s.cfg.BlockSamples <= 0 {
		return &DeviceError{Op: "open pulse source", Kind: ErrDeviceInit, Err: fmt.Errorf("invalid geometry rate=%d block=%d", s.cfg.SampleRate, s.cfg.BlockSamples)}
	}

	s.mu.Lock()
	if s.opened || s.stopped {
		s.mu.Unlock()
		return &DeviceError{Op: "open pulse source", Kind: ErrDeviceInit, Err: fmt.Errorf("source already used")}
	}
	s.opened = true
	s.mu.Unlock()

	selection, err := SelectDevice(ctx, s.cfg.Device, s.cfg.FallbackToDefault)
	if err != nil {
		return NewDeviceError("select device", err)
	}
	s.selection = selection

	client, err := newPulseClient()
	if err != nil {
		return NewDeviceError("connect pulse server", err)
	}
	source, err := client.SourceByID(selection.Device.ID)
	if err != nil {
		client.Close()
		return NewDeviceError(fmt.Sprintf("resolve source %q", selection.Device.ID), err)
	}
	s.client = client

	writer := pulse.NewWriter(writerFunc(s.onPCM), pulseproto.FormatInt16LE)
	stream, err := client.NewRecord(
		writer,
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(s.cfg.SampleRate),
		pulse.RecordBufferFragmentSize(uint32(s.cfg.BlockSamples*2)),
		pulse.RecordMediaName("hark capture"),
	)
	if err != nil {
		_ = s.Release()
		return NewDeviceError("create pulse record stream", err)
	}

	s.stream = stream
	stream.Start()
	return nil
}

// Selection reports the device chosen by Open.
func (s *PulseSource) Selection() Selection {
	return s.selection
}

// BytesCaptured reports total bytes accepted from Pulse.
func (s *PulseSource) BytesCaptured() int64 {
	return s.bytes.Load()
}

// Read blocks until one full block is available.
func (s *PulseSource) Read(buf []int16) (int, error) {
	block, ok := <-s.blocks
	if !ok {
		return 0, io.EOF
	}
	n := min(len(buf), len(block)/2)
	for i := 0; i < n; i++ {
		buf[i] = int16(binary.LittleEndian.Uint16(block[2*i:]))
	}
	return n, nil
}

// Release stops the stream and closes the block channel exactly once.
// A trailing partial block is dropped.
func (s *PulseSource) Release() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()

	if s.stream != nil {
		s.stream.Stop()
		s.stream.Close()
	}
	if s.client != nil {
		s.client.Close()
	}

	s.inflight.Wait()

	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()

	close(s.blocks)
	return nil
}

// onPCM receives raw Pulse frames and cuts them into whole blocks.
func (s *PulseSource) onPCM(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	select {
	case <-s.stopCh:
		return 0, io.EOF
	default:
	}

	blockBytes := s.cfg.BlockSamples * 2

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return 0, io.EOF
	}
	// Add under the same mutex as stopped so Release cannot race Wait.
	s.inflight.Add(1)

	s.pending = append(s.pending, buffer...)
	var ready [][]byte
	for len(s.pending) >= blockBytes {
		block := make([]byte, blockBytes)
		copy(block, s.pending[:blockBytes])
		s.pending = s.pending[blockBytes:]
		ready = append(ready, block)
	}
	s.mu.Unlock()
	defer s.inflight.Done()

	s.bytes.Add(int64(len(buffer)))

	for _, block := range ready {
		select {
		case <-s.stopCh:
			return 0, io.EOF
		case s.blocks <- block:
		}
	}
	return len(buffer), nil
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}
