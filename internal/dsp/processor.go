// Package dsp provides the post-capture signal conditioning pipeline:
// silence trimming, noise gating, peak normalization and high-pass
// filtering over 16-bit mono PCM sample sequences.
package dsp

import (
	"math"
)

const (
	// fullScale is the positive full-scale amplitude for 16-bit audio.
	fullScale = 32767.0

	// trimThresholdRatio is the share of the signal's peak amplitude a
	// sample must exceed to count as content when trimming edges.
	trimThresholdRatio = 0.01

	// trimGuardSamples is the guard band kept on each side of the first
	// and last content samples so word onsets are not chopped.
	trimGuardSamples = 100

	// gateWindowRadius is the half-width of the sliding RMS window used by
	// the noise gate.
	gateWindowRadius = 50

	// gateRMSThreshold is the normalized window RMS below which samples
	// are attenuated. Roughly -34 dBFS.
	gateRMSThreshold = 0.02

	// gateAttenuation keeps gated samples at 10% amplitude instead of
	// hard-muting them, which would produce audible gating artifacts.
	gateAttenuation = 0.1

	// normalizeTarget is the peak level normalization aims for.
	normalizeTarget = 0.9 * fullScale

	// normalizeLoudPeak is the peak above which amplification is skipped
	// so noise on an already-loud signal is not boosted.
	normalizeLoudPeak = 0.5 * fullScale

	// DefaultHighPassCutoffHz removes DC offset and low-frequency rumble.
	DefaultHighPassCutoffHz = 80.0
)

// Options selects which pipeline stages run. Each stage is total: it never
// fails, and every stage except the trim preserves sample count.
type Options struct {
	TrimSilence      bool
	NoiseGate        bool
	Normalize        bool
	HighPass         bool
	HighPassCutoffHz float64
	SampleRate       int
}

// Processor applies the configured stages to a full captured sample
// sequence once recording ends.
type Processor struct {
	opts Options
}

// NewProcessor creates a processor with the given stage selection.
func NewProcessor(opts Options) *Processor {
	if opts.HighPassCutoffHz <= 0 {
		opts.HighPassCutoffHz = DefaultHighPassCutoffHz
	}
	return &Processor{opts: opts}
}

// Process runs the pipeline over samples and returns the conditioned
// sequence. The input slice is not modified.
func (p *Processor) Process(samples []int16) []int16 {
	out := make([]int16, len(samples))
	copy(out, samples)

	if p.opts.HighPass {
		out = highPass(out, p.opts.HighPassCutoffHz, p.opts.SampleRate)
	}
	if p.opts.NoiseGate {
		out = noiseGate(out)
	}
	if p.opts.TrimSilence {
		out = trimSilence(out)
	}
	if p.opts.Normalize {
		out = normalize(out)
	}
	return out
}

// trimSilence drops leading and trailing samples below 1% of the signal's
// peak amplitude, keeping a guard band on each side.
func trimSilence(samples []int16) []int16 {
	if len(samples) == 0 {
		return samples
	}

	peak := peakAmplitude(samples)
	if peak == 0 {
		return samples
	}
	threshold := peak * trimThresholdRatio

	start := 0
	for start < len(samples) && math.Abs(float64(samples[start])) <= threshold {
		start++
	}
	end := len(samples) - 1
	for end >= start && math.Abs(float64(samples[end])) <= threshold {
		end--
	}
	if start > end {
		return samples[:0]
	}

	start = max(0, start-trimGuardSamples)
	end = min(len(samples)-1, end+trimGuardSamples)
	return samples[start : end+1]
}

// noiseGate attenuates samples whose surrounding window has low energy.
// The window RMS is computed from a prefix-sum of squares so the pass
// stays linear in the sample count.
func noiseGate(samples []int16) []int16 {
	n := len(samples)
	if n == 0 {
		return samples
	}

	prefix := make([]float64, n+1)
	for i, s := range samples {
		v := float64(s) / fullScale
		prefix[i+1] = prefix[i] + v*v
	}

	out := make([]int16, n)
	for i := range samples {
		lo := max(0, i-gateWindowRadius)
		hi := min(n, i+gateWindowRadius+1)
		rms := math.Sqrt((prefix[hi] - prefix[lo]) / float64(hi-lo))

		if rms < gateRMSThreshold {
			out[i] = int16(float64(samples[i]) * gateAttenuation)
		} else {
			out[i] = samples[i]
		}
	}
	return out
}

// normalize scales the signal so its peak reaches 90% of full scale.
// Amplification is skipped when the signal is already loud; attenuation is
// always applied so clipped material is pulled back under the target.
func normalize(samples []int16) []int16 {
	peak := peakAmplitude(samples)
	if peak == 0 {
		return samples
	}

	gain := normalizeTarget / peak
	if gain > 1 && peak > normalizeLoudPeak {
		return samples
	}

	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = clampSample(float64(s) * gain)
	}
	return out
}

// highPass applies a single-pole high-pass filter at the given cutoff,
// removing DC offset and rumble below the cutoff frequency.
func highPass(samples []int16, cutoffHz float64, sampleRate int) []int16 {
	if len(samples) == 0 || sampleRate <= 0 {
		return samples
	}

	rc := 1.0 / (2 * math.Pi * cutoffHz)
	dt := 1.0 / float64(sampleRate)
	alpha := rc / (rc + dt)

	out := make([]int16, len(samples))
	out[0] = samples[0]
	prevIn := float64(samples[0])
	prevOut := float64(samples[0])

	for i := 1; i < len(samples); i++ {
		in := float64(samples[i])
		filtered := alpha * (prevOut + in - prevIn)
		out[i] = clampSample(filtered)
		prevIn = in
		prevOut = filtered
	}
	return out
}

// peakAmplitude returns the largest absolute sample value.
func peakAmplitude(samples []int16) float64 {
	var peak float64
	for _, s := range samples {
		if v := math.Abs(float64(s)); v > peak {
			peak = v
		}
	}
	return peak
}

// clampSample converts a float sample to int16 with saturation.
func clampSample(v float64) int16 {
	if v > fullScale {
		return fullScale
	}
	if v < -fullScale - 1 {
		return -fullScale - 1
	}
	return int16(v)
}
