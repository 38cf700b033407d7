package audio

import (
	"sync"
	"time"
)

// SilenceState is the hysteresis machine output for one processed buffer.
type SilenceState int

// Silence detection states.
const (
	// NotSilent indicates normal audio.
	NotSilent SilenceState = iota
	// EnteredSilence fires once, on the buffer that confirms silence.
	EnteredSilence
	// InSilence indicates confirmed, ongoing silence.
	InSilence
	// ExitedSilence fires once, on the buffer that confirms recovery.
	ExitedSilence
)

// String returns the state name for logging.
func (s SilenceState) String() string {
	switch s {
	case NotSilent:
		return "not_silent"
	case EnteredSilence:
		return "entered_silence"
	case InSilence:
		return "in_silence"
	case ExitedSilence:
		return "exited_silence"
	}
	return "unknown"
}

// recoveryBuffers is how many consecutive non-silent buffers confirm
// recovery. Kept small so speech after a pause registers quickly.
const recoveryBuffers = 2

// SilenceDetector tracks silence across consecutive buffers with
// hysteresis: silence is confirmed only after a sustained run of silent
// buffers, preventing flapping on brief pauses. It is safe for concurrent
// use and holds session-scoped counters only.
type SilenceDetector struct {
	mu sync.Mutex

	thresholdBuffers int           // consecutive silent buffers before entering silence
	bufferDuration   time.Duration // wall-clock span of one buffer

	consecutiveSilent    int
	consecutiveNonSilent int
	inSilence            bool
	silentBuffers        int // length of the current confirmed silence run
}

// NewSilenceDetector creates a detector that confirms silence after
// thresholdBuffers consecutive silent buffers of the given duration.
func NewSilenceDetector(thresholdBuffers int, bufferDuration time.Duration) *SilenceDetector {
	if thresholdBuffers < 1 {
		thresholdBuffers = 1
	}
	return &SilenceDetector{
		thresholdBuffers: thresholdBuffers,
		bufferDuration:   bufferDuration,
	}
}

// Process consumes one per-buffer silence decision and returns the
// resulting state. EnteredSilence and ExitedSilence are emitted exactly
// once per transition.
func (d *SilenceDetector) Process(isSilent bool) SilenceState {
	d.mu.Lock()
	defer d.mu.Unlock()

	if isSilent {
		d.consecutiveSilent++
		d.consecutiveNonSilent = 0

		if d.inSilence {
			d.silentBuffers++
			return InSilence
		}
		if d.consecutiveSilent >= d.thresholdBuffers {
			d.inSilence = true
			d.silentBuffers = d.consecutiveSilent
			return EnteredSilence
		}
		return NotSilent
	}

	d.consecutiveNonSilent++
	d.consecutiveSilent = 0

	if d.inSilence {
		if d.consecutiveNonSilent >= recoveryBuffers {
			d.inSilence = false
			d.silentBuffers = 0
			return ExitedSilence
		}
		// Still inside the recovery window.
		return InSilence
	}
	return NotSilent
}

// InSilence reports whether silence is currently confirmed.
func (d *SilenceDetector) InSilence() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inSilence
}

// CurrentSilenceDuration returns how long the current confirmed silence
// has lasted, or zero when not in silence.
func (d *SilenceDetector) CurrentSilenceDuration() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.inSilence {
		return 0
	}
	return time.Duration(d.silentBuffers) * d.bufferDuration
}

// ShouldTrimSilence reports whether silence has persisted long enough
// (twice the entry threshold) that trailing silence is worth trimming.
func (d *SilenceDetector) ShouldTrimSilence() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inSilence && d.silentBuffers >= 2*d.thresholdBuffers
}

// Reset clears all counters. Called at the start of every session so no
// state leaks across sessions.
func (d *SilenceDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.consecutiveSilent = 0
	d.consecutiveNonSilent = 0
	d.inSilence = false
	d.silentBuffers = 0
}
