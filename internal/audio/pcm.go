package audio

import (
	"encoding/binary"
	"math"

	"callscribe/internal/domain"
)

// ConvertSample maps a float sample onto signed 16-bit PCM with symmetric clipping.
func ConvertSample(x float32) int16 {
	v := float64(x)
	if math.IsNaN(v) {
		return 0
	}
	v = math.Max(-1, math.Min(1, v))
	if v < 0 {
		return int16(math.Round(v * 32768))
	}
	return int16(math.Round(v * 32767))
}

// EncodeFrame converts samples into a little-endian PCM frame.
func EncodeFrame(samples []float32) domain.PcmFrame {
	frame := make(domain.PcmFrame, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(frame[i*2:], uint16(ConvertSample(s)))
	}
	return frame
}

// Framer accumulates raw samples into fixed 800-sample frames.
// Samples beyond a frame boundary are carried into the next frame.
type Framer struct {
	buf [domain.FrameSamples]float32
	n   int
}

// Write appends samples and calls emit once per completed frame, in order.
// emit returning false stops the write early; unconsumed samples are dropped.
func (f *Framer) Write(samples []float32, emit func(domain.PcmFrame) bool) bool {
	for len(samples) > 0 {
		copied := copy(f.buf[f.n:], samples)
		f.n += copied
		samples = samples[copied:]
		if f.n < domain.FrameSamples {
			continue
		}
		frame := EncodeFrame(f.buf[:])
		f.n = 0
		if !emit(frame) {
			return false
		}
	}
	return true
}

// Reset discards a partially filled frame.
func (f *Framer) Reset() {
	f.n = 0
}

// Buffered returns the number of samples waiting for the next frame.
func (f *Framer) Buffered() int {
	return f.n
}

// sampleDecoder turns a little-endian float32 byte stream into samples,
// carrying incomplete sample bytes across reads.
type sampleDecoder struct {
	carry   [4]byte
	carried int
	out     []float32
}

func (d *sampleDecoder) Decode(p []byte) []float32 {
	d.out = d.out[:0]
	if d.carried > 0 {
		need := 4 - d.carried
		if len(p) < need {
			d.carried += copy(d.carry[d.carried:], p)
			return d.out
		}
		copy(d.carry[d.carried:], p[:need])
		d.out = append(d.out, math.Float32frombits(binary.LittleEndian.Uint32(d.carry[:])))
		p = p[need:]
		d.carried = 0
	}
	for len(p) >= 4 {
		d.out = append(d.out, math.Float32frombits(binary.LittleEndian.Uint32(p)))
		p = p[4:]
	}
	d.carried = copy(d.carry[:], p)
	return d.out
}
