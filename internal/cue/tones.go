package cue

import (
	"math"
	"time"
)

// SampleRate of every synthesized cue.
const SampleRate = 16000

type toneSpec struct {
	frequencyHz float64
	duration    time.Duration
	volume      float64
}

var (
	startPCM = synthesize([]toneSpec{
		{frequencyHz: 880, duration: 70 * time.Millisecond, volume: 0.18},
		{frequencyHz: 1175, duration: 70 * time.Millisecond, volume: 0.18},
	})
	stopPCM = synthesize([]toneSpec{
		{frequencyHz: 620, duration: 120 * time.Millisecond, volume: 0.18},
	})
	completePCM = synthesize([]toneSpec{
		{frequencyHz: 740, duration: 65 * time.Millisecond, volume: 0.18},
		{frequencyHz: 988, duration: 90 * time.Millisecond, volume: 0.18},
	})
	cancelPCM = synthesize([]toneSpec{
		{frequencyHz: 480, duration: 75 * time.Millisecond, volume: 0.18},
		{frequencyHz: 360, duration: 90 * time.Millisecond, volume: 0.18},
	})
)

// Samples returns the PCM for kind.
func Samples(kind Kind) []int16 {
	switch kind {
	case Start:
		return startPCM
	case Stop:
		return stopPCM
	case Complete:
		return completePCM
	case Cancel:
		return cancelPCM
	default:
		return nil
	}
}

// synthesize joins tones with a short silent gap.
func synthesize(parts []toneSpec) []int16 {
	gap := samplesFor(22 * time.Millisecond)
	var pcm []int16
	for i, part := range parts {
		if i > 0 {
			pcm = append(pcm, make([]int16, gap)...)
		}
		pcm = append(pcm, tone(part)...)
	}
	return pcm
}

// tone is a sine with a linear attack and release of at most 5ms.
func tone(spec toneSpec) []int16 {
	n := samplesFor(spec.duration)
	if n <= 0 || spec.frequencyHz <= 0 || spec.volume <= 0 {
		return nil
	}

	ramp := min(n/10, SampleRate/200)
	ramp = max(ramp, 1)

	pcm := make([]int16, n)
	for i := range n {
		envelope := 1.0
		if i < ramp {
			envelope = float64(i) / float64(ramp)
		}
		if tail := n - i - 1; tail < ramp {
			envelope = min(envelope, float64(tail)/float64(ramp))
		}
		t := float64(i) / SampleRate
		pcm[i] = int16(math.Round(math.Sin(2*math.Pi*spec.frequencyHz*t) * spec.volume * envelope * math.MaxInt16))
	}
	return pcm
}

func samplesFor(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds() * SampleRate))
}
