// Package codec encodes PCM blocks for upload.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

const (
	NamePCM   = "pcm16"
	NameMuLaw = "mulaw"
)

var ErrClosed = errors.New("codec is closed")

// Codec encodes mono int16 blocks. Open must be called before Encode; Close
// is safe to call more than once.
type Codec interface {
	Name() string
	Open(mode, quality int) error
	Encode(samples []int16) ([]byte, error)
	Close() error
}

// New returns the codec registered under name. "none" and "" select raw PCM.
func New(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none", NamePCM:
		return &PCM{}, nil
	case NameMuLaw:
		return &MuLaw{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// PCM writes samples as little-endian s16.
type PCM struct {
	state
}

func (*PCM) Name() string { return NamePCM }

func (c *PCM) Encode(samples []int16) ([]byte, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return EncodePCM(samples), nil
}

// EncodePCM serialises samples as little-endian s16 bytes.
func EncodePCM(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

// state tracks the open/closed lifecycle shared by the codecs.
type state struct {
	opened bool
	closed bool
}

func (s *state) Open(_, _ int) error {
	if s.closed {
		return ErrClosed
	}
	s.opened = true
	return nil
}

func (s *state) Close() error {
	s.closed = true
	return nil
}

func (s *state) check() error {
	switch {
	case s.closed:
		return ErrClosed
	case !s.opened:
		return errors.New("codec is not open")
	}
	return nil
}
