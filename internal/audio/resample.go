package audio

// Resampler converts mono PCM between two sample rates by linear
// interpolation.
type Resampler struct {
	From int
	To   int
}

// OutputLen reports how many samples n input samples resample to.
func (r Resampler) OutputLen(n int) int {
	if r.From <= 0 || r.To <= 0 || r.From == r.To {
		return n
	}
	return int(int64(n) * int64(r.To) / int64(r.From))
}

// Resample returns a new slice of OutputLen(len(in)) samples.
func (r Resampler) Resample(in []int16) []int16 {
	out := make([]int16, r.OutputLen(len(in)))
	r.Into(out, in)
	return out
}

// Into fills dst from src. Equal rates copy.
func (r Resampler) Into(dst, src []int16) {
	if len(src) == 0 {
		clear(dst)
		return
	}
	if r.From <= 0 || r.To <= 0 || r.From == r.To {
		n := copy(dst, src)
		clear(dst[n:])
		return
	}

	ratio := float64(r.From) / float64(r.To)
	last := len(src) - 1
	for i := range dst {
		p := float64(i) * ratio
		m := int(p)
		if m > last {
			m = last
		}
		delta := p - float64(m)
		n := m
		if delta != 0 {
			n = m + 1
		}
		if n > last {
			n = last
		}
		dst[i] = int16(float64(src[m]) + float64(int(src[n])-int(src[m]))*delta)
	}
}
