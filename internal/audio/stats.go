package audio

import (
	"sync"
	"time"
)

// Statistics is a session-scoped snapshot for progress display. Values are
// updated incrementally as buffers arrive and finalized when capture stops.
type Statistics struct {
	// Duration is the audio time captured so far.
	Duration time.Duration `json:"duration_ms"`
	// FileSize is the raw PCM byte count accumulated so far.
	FileSize int64 `json:"file_size_bytes"`
	// EstimatedFinalSize projects the artifact size at the current rate,
	// capped at the configured limit.
	EstimatedFinalSize int64 `json:"estimated_final_size_bytes"`
	// RemainingTime is how much recording time is left before the size
	// limit forces a stop.
	RemainingTime time.Duration `json:"remaining_time_ms"`
	// AverageLevel is the mean RMS level across all buffers.
	AverageLevel float64 `json:"average_level"`
	// PeakLevel is the highest peak observed in the session.
	PeakLevel float64 `json:"peak_level"`
	// SilencePercentage is the share of buffers judged silent, 0-100.
	SilencePercentage float64 `json:"silence_percentage"`
	// ClippingOccurrences counts buffers flagged as clipping.
	ClippingOccurrences int `json:"clipping_occurrences"`
	// OverallQuality is the mean quality score across all buffers.
	OverallQuality float64 `json:"overall_quality"`
}

// StatsAccumulator builds Statistics from the per-buffer metrics stream.
// It is safe for concurrent use: the capture loop writes, observers read.
type StatsAccumulator struct {
	mu sync.Mutex

	byteRate    int64
	maxBytes    int64
	maxDuration time.Duration

	buffers      int
	silent       int
	clipping     int
	levelSum     float64
	qualitySum   float64
	peak         float64
	bytesWritten int64
}

// NewStatsAccumulator creates an accumulator bound by the session's byte
// rate, size limit and derived duration limit.
func NewStatsAccumulator(byteRate, maxBytes int64, maxDuration time.Duration) *StatsAccumulator {
	return &StatsAccumulator{
		byteRate:    byteRate,
		maxBytes:    maxBytes,
		maxDuration: maxDuration,
	}
}

// Add folds one buffer's metrics and byte count into the session totals.
func (s *StatsAccumulator) Add(m Metrics, byteCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buffers++
	s.bytesWritten += int64(byteCount)
	s.levelSum += m.RMSLevel
	s.qualitySum += m.QualityScore
	if m.PeakLevel > s.peak {
		s.peak = m.PeakLevel
	}
	if m.IsSilent {
		s.silent++
	}
	if m.IsClipping {
		s.clipping++
	}
}

// BytesWritten returns the raw PCM byte count accumulated so far.
func (s *StatsAccumulator) BytesWritten() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesWritten
}

// Snapshot returns the current session statistics.
func (s *StatsAccumulator) Snapshot() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Statistics{
		FileSize:            s.bytesWritten,
		PeakLevel:           s.peak,
		ClippingOccurrences: s.clipping,
	}

	if s.byteRate > 0 {
		stats.Duration = time.Duration(s.bytesWritten * int64(time.Second) / s.byteRate)
	}
	if s.buffers > 0 {
		stats.AverageLevel = s.levelSum / float64(s.buffers)
		stats.OverallQuality = s.qualitySum / float64(s.buffers)
		stats.SilencePercentage = 100 * float64(s.silent) / float64(s.buffers)
	}

	if remaining := s.maxDuration - stats.Duration; remaining > 0 {
		stats.RemainingTime = remaining
	}
	projected := s.bytesWritten + stats.RemainingTime.Milliseconds()*s.byteRate/1000
	stats.EstimatedFinalSize = min(s.maxBytes, projected)

	return stats
}

// Reset clears the accumulator for a new session.
func (s *StatsAccumulator) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffers = 0
	s.silent = 0
	s.clipping = 0
	s.levelSum = 0
	s.qualitySum = 0
	s.peak = 0
	s.bytesWritten = 0
}
