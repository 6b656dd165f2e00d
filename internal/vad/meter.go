// Package vad measures block loudness and decides where an utterance begins
// and ends.
package vad

import "math"

const (
	// Buckets is the number of normalised loudness buckets (0..Buckets-1).
	Buckets = 13

	// MaxLevel is the highest mic level Level can return.
	MaxLevel = 30

	initialCeiling = 10000
	sampleCeiling  = math.MaxInt16
	minMagnitude   = 1
	levelScale     = 2.5
	ceilingGrowth  = 1.5
)

// Meter converts PCM blocks into mic levels. The normalisation ceiling starts
// at a nominal value and only ever grows, so a Meter calibrates itself to the
// microphone over the course of a session. A Meter is not safe for concurrent
// use; each capture worker owns one.
type Meter struct {
	ceiling int
}

func NewMeter() *Meter {
	return &Meter{ceiling: initialCeiling}
}

// Ceiling reports the current normalisation ceiling.
func (m *Meter) Ceiling() int {
	return m.ceiling
}

// Level returns the block's mic level in [0, MaxLevel]. Zero means silence.
func (m *Meter) Level(block []int16) int {
	return int(float64(m.Bucket(Peak(block))) * levelScale)
}

// Bucket normalises a peak magnitude into [0, Buckets-1], raising the
// ceiling to 1.5x the peak (clamped to the int16 range) when exceeded.
func (m *Meter) Bucket(peak int) int {
	if m.ceiling <= 0 {
		m.ceiling = initialCeiling
	}
	if peak > m.ceiling {
		m.ceiling = min(int(float64(peak)*ceilingGrowth), sampleCeiling)
	}

	v := peak - minMagnitude
	if v < 0 {
		v = 0
	} else if v > m.ceiling-minMagnitude {
		v = m.ceiling - minMagnitude
	}

	return int(float64(v) / float64(m.ceiling-minMagnitude+1) * Buckets)
}

// Peak returns the largest absolute sample value in block.
func Peak(block []int16) int {
	peak := 0
	for _, s := range block {
		v := int(s)
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return peak
}
