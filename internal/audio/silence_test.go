package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const testBufferDuration = 64 * time.Millisecond

func TestSilenceDetectorEntersExactlyAtThreshold(t *testing.T) {
	d := NewSilenceDetector(5, testBufferDuration)

	for i := 0; i < 4; i++ {
		assert.Equal(t, NotSilent, d.Process(true), "buffer %d", i)
	}
	assert.Equal(t, EnteredSilence, d.Process(true))
	assert.Equal(t, InSilence, d.Process(true))
}

func TestSilenceDetectorNeverEntersBelowThreshold(t *testing.T) {
	d := NewSilenceDetector(10, testBufferDuration)

	for i := 0; i < 9; i++ {
		state := d.Process(true)
		assert.NotEqual(t, EnteredSilence, state)
		assert.NotEqual(t, InSilence, state)
	}
	assert.False(t, d.InSilence())
}

func TestSilenceDetectorBriefPauseDoesNotFlap(t *testing.T) {
	d := NewSilenceDetector(5, testBufferDuration)

	// Three silent, one loud, three silent: counter restarts, never enters.
	for i := 0; i < 3; i++ {
		d.Process(true)
	}
	d.Process(false)
	for i := 0; i < 3; i++ {
		assert.Equal(t, NotSilent, d.Process(true))
	}
	assert.False(t, d.InSilence())
}

func TestSilenceDetectorExitsAfterTwoNonSilent(t *testing.T) {
	d := NewSilenceDetector(3, testBufferDuration)

	d.Process(true)
	d.Process(true)
	assert.Equal(t, EnteredSilence, d.Process(true))

	// One non-silent buffer is not enough to recover.
	assert.Equal(t, InSilence, d.Process(false))
	assert.Equal(t, ExitedSilence, d.Process(false))
	assert.Equal(t, NotSilent, d.Process(false))
}

func TestSilenceDetectorDuration(t *testing.T) {
	d := NewSilenceDetector(3, testBufferDuration)

	assert.Equal(t, time.Duration(0), d.CurrentSilenceDuration())

	for i := 0; i < 3; i++ {
		d.Process(true)
	}
	assert.Equal(t, 3*testBufferDuration, d.CurrentSilenceDuration())

	d.Process(true)
	assert.Equal(t, 4*testBufferDuration, d.CurrentSilenceDuration())
}

func TestSilenceDetectorShouldTrim(t *testing.T) {
	d := NewSilenceDetector(3, testBufferDuration)

	for i := 0; i < 5; i++ {
		d.Process(true)
	}
	assert.False(t, d.ShouldTrimSilence())

	// Sixth silent buffer reaches 2x the entry threshold.
	d.Process(true)
	assert.True(t, d.ShouldTrimSilence())
}

func TestSilenceDetectorReset(t *testing.T) {
	d := NewSilenceDetector(2, testBufferDuration)

	d.Process(true)
	d.Process(true)
	assert.True(t, d.InSilence())

	d.Reset()
	assert.False(t, d.InSilence())
	assert.Equal(t, time.Duration(0), d.CurrentSilenceDuration())
	// Counters restart from zero: one silent buffer is not enough again.
	assert.Equal(t, NotSilent, d.Process(true))
}

func TestStatsAccumulator(t *testing.T) {
	byteRate := int64(32000)
	maxBytes := int64(640000) // 20 seconds at 32 kB/s
	s := NewStatsAccumulator(byteRate, maxBytes, 20*time.Second)

	s.Add(Metrics{RMSLevel: 0.2, PeakLevel: 0.5, QualityScore: 80}, 32000)
	s.Add(Metrics{RMSLevel: 0.4, PeakLevel: 0.9, QualityScore: 60, IsClipping: true}, 32000)
	s.Add(Metrics{IsSilent: true, QualityScore: 30, DBLevel: MinDB}, 32000)

	stats := s.Snapshot()
	assert.Equal(t, int64(96000), stats.FileSize)
	assert.Equal(t, 3*time.Second, stats.Duration)
	assert.Equal(t, 17*time.Second, stats.RemainingTime)
	assert.InDelta(t, 0.2, stats.AverageLevel, 0.0001)
	assert.Equal(t, 0.9, stats.PeakLevel)
	assert.InDelta(t, 100.0/3, stats.SilencePercentage, 0.01)
	assert.Equal(t, 1, stats.ClippingOccurrences)
	assert.InDelta(t, (80+60+30)/3.0, stats.OverallQuality, 0.01)
	assert.Equal(t, maxBytes, stats.EstimatedFinalSize)
}

func TestStatsAccumulatorReset(t *testing.T) {
	s := NewStatsAccumulator(32000, 640000, 20*time.Second)
	s.Add(Metrics{RMSLevel: 0.2}, 1000)
	s.Reset()

	stats := s.Snapshot()
	assert.Equal(t, int64(0), stats.FileSize)
	assert.Equal(t, 0.0, stats.AverageLevel)
}
