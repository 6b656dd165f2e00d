package codec

// MuLaw encodes samples with ITU-T G.711 mu-law, one byte per sample.
// Mode and quality are accepted for interface compatibility and ignored.
type MuLaw struct {
	state
}

func (*MuLaw) Name() string { return NameMuLaw }

func (c *MuLaw) Encode(samples []int16) ([]byte, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = linearToMuLaw(s)
	}
	return out, nil
}

const (
	muLawClip = 32635
	muLawBias = 0x84
)

func linearToMuLaw(sample int16) byte {
	magnitude := int32(sample)
	var sign byte
	if magnitude < 0 {
		sign = 0x80
		magnitude = -magnitude
	}
	if magnitude > muLawClip {
		magnitude = muLawClip
	}
	magnitude += muLawBias

	exponent := byte(7)
	for mask := int32(0x4000); exponent > 0 && magnitude&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(magnitude>>(exponent+3)) & 0x0F
	return ^(sign | exponent<<4 | mantissa)
}

// MuLawToLinear decodes one mu-law byte.
func MuLawToLinear(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exponent := int32(b>>4) & 0x07
	mantissa := int32(b & 0x0F)
	magnitude := ((mantissa << 3) + muLawBias) << exponent
	magnitude -= muLawBias
	if sign != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}
