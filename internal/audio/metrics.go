// Package audio provides per-buffer quality analysis, silence detection and
// session-level recording statistics for 16-bit mono PCM capture.
package audio

import (
	"math"
	"sort"
)

const (
	// MinDB is the dB floor reported for silent or empty buffers.
	MinDB = -100.0
	// MaxSampleValue is the maximum absolute value for 16-bit signed audio.
	MaxSampleValue = 32768.0
	// ClippingFlagFraction is the share of clipped samples in a buffer above
	// which the buffer is flagged as clipping.
	ClippingFlagFraction = 0.01
)

// Metrics is an immutable quality snapshot derived from one capture buffer.
type Metrics struct {
	// RMSLevel is the root-mean-square amplitude, normalized to [0,1].
	RMSLevel float64 `json:"rms_level"`
	// PeakLevel is the largest absolute sample amplitude, normalized to [0,1].
	PeakLevel float64 `json:"peak_level"`
	// DBLevel is the RMS level expressed in dBFS, floored at MinDB.
	DBLevel float64 `json:"db_level"`
	// IsClipping reports whether more than 1% of samples are at full scale.
	IsClipping bool `json:"is_clipping,omitzero"`
	// IsSilent reports whether the buffer is below the silence threshold.
	IsSilent bool `json:"is_silent,omitzero"`
	// NoiseFloor is the estimated background level in dBFS.
	NoiseFloor float64 `json:"noise_floor"`
	// SignalToNoise is DBLevel minus NoiseFloor, clamped at zero.
	SignalToNoise float64 `json:"signal_to_noise"`
	// QualityScore rates the buffer from 0 (unusable) to 100 (excellent).
	QualityScore float64 `json:"quality_score"`
}

// Analyzer computes quality metrics for PCM buffers. It holds only the
// detection thresholds and is safe for concurrent use.
type Analyzer struct {
	// SilenceThresholdDB is the dBFS level below which a buffer is silent.
	SilenceThresholdDB float64
	// ClippingThreshold is the normalized amplitude treated as clipped.
	ClippingThreshold float64
}

// NewAnalyzer creates an analyzer with the given detection thresholds.
func NewAnalyzer(silenceThresholdDB, clippingThreshold float64) *Analyzer {
	return &Analyzer{
		SilenceThresholdDB: silenceThresholdDB,
		ClippingThreshold:  clippingThreshold,
	}
}

// Analyze computes a metrics snapshot for one buffer. It is deterministic
// and side-effect-free. An empty buffer yields the canonical empty snapshot
// (silent, score 0, dB floor).
func (a *Analyzer) Analyze(buf []int16) Metrics {
	if len(buf) == 0 {
		return Metrics{
			DBLevel:    MinDB,
			NoiseFloor: MinDB,
			IsSilent:   true,
		}
	}

	var sumSquares, peak float64
	clipped := 0
	abs := make([]float64, len(buf))

	for i, s := range buf {
		v := math.Abs(float64(s)) / MaxSampleValue
		abs[i] = v
		sumSquares += v * v
		if v > peak {
			peak = v
		}
		if v >= a.ClippingThreshold {
			clipped++
		}
	}

	rms := math.Sqrt(sumSquares / float64(len(buf)))
	db := amplitudeToDB(rms)

	sort.Float64s(abs)
	noiseFloor := amplitudeToDB(abs[len(abs)/10])

	snr := db - noiseFloor
	if snr < 0 {
		snr = 0
	}

	m := Metrics{
		RMSLevel:      rms,
		PeakLevel:     peak,
		DBLevel:       db,
		IsClipping:    float64(clipped)/float64(len(buf)) > ClippingFlagFraction,
		IsSilent:      db < a.SilenceThresholdDB,
		NoiseFloor:    noiseFloor,
		SignalToNoise: snr,
	}
	m.QualityScore = scoreQuality(m)
	return m
}

// scoreQuality rates a buffer from 0 to 100. The score rewards healthy
// levels and headroom, and penalizes clipping, silence and weak signal.
func scoreQuality(m Metrics) float64 {
	score := 50.0

	if m.IsClipping {
		score -= 30
	}
	if m.IsSilent {
		score -= 20
	}

	score += 0.75 * math.Min(math.Max(m.SignalToNoise, 0), 40)

	if m.RMSLevel >= 0.1 && m.RMSLevel <= 0.5 {
		score += 20
	}
	if m.RMSLevel < 0.05 {
		score -= 10
	}
	if m.PeakLevel < 0.9 {
		score += 10
	}

	return math.Min(math.Max(score, 0), 100)
}

// amplitudeToDB converts a normalized amplitude to dBFS, floored at MinDB.
func amplitudeToDB(amplitude float64) float64 {
	if amplitude <= 0 {
		return MinDB
	}
	return math.Max(20*math.Log10(amplitude), MinDB)
}
