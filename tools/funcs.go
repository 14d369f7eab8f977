package tools

import (
	"math"
	"time"
)

func FrameSamples(duration time.Duration, rate, channels int) int {
	return int(duration.Seconds() * float64(channels) * float64(rate))
}

// SamplesDuration is the playback length of n mono samples at rate.
func SamplesDuration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(rate)
}

// SampleOffset maps a timeline position to the nearest sample index.
func SampleOffset(d time.Duration, rate int) int {
	return int(math.Round(d.Seconds() * float64(rate)))
}

// Resampler converts a chunked mono stream between rates by linear
// interpolation. The read position and the last input sample carry over
// from one Process call to the next, so chunk boundaries add no drift.
type Resampler struct {
	srcRate int
	dstRate int
	ratio   float64
	pos     float64
	prev    float32
	primed  bool
}

func NewResampler(srcRate, dstRate int) *Resampler {
	r := &Resampler{srcRate: srcRate, dstRate: dstRate}
	if srcRate > 0 && dstRate > 0 {
		r.ratio = float64(srcRate) / float64(dstRate)
	}
	return r
}

// Process returns the output samples that samples completes. Equal or
// invalid rates pass the input through.
func (r *Resampler) Process(samples []float32) []float32 {
	if r.ratio == 0 || r.srcRate == r.dstRate {
		return samples
	}
	if len(samples) == 0 {
		return nil
	}
	in := samples
	if r.primed {
		in = append(make([]float32, 0, len(samples)+1), r.prev)
		in = append(in, samples...)
	}
	out := make([]float32, 0, int(float64(len(in))/r.ratio)+1)
	for {
		idx := int(r.pos)
		if idx+1 >= len(in) {
			break
		}
		frac := r.pos - float64(idx)
		out = append(out, float32(float64(in[idx])*(1-frac)+float64(in[idx+1])*frac))
		r.pos += r.ratio
	}
	r.pos -= float64(len(in) - 1)
	r.prev = in[len(in)-1]
	r.primed = true
	return out
}

// ResampleMono resamples float samples from srcRate to dstRate by linear
// interpolation. Equal or invalid rates return the input unchanged.
func ResampleMono(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) < 2 {
		return samples
	}
	dstSamples := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}
	out := make([]float32, dstSamples)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)
		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < len(samples) {
			s1 = samples[srcIdx+1]
		}
		out[i] = float32(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}
