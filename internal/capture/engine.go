package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wavecap/wavecap/internal/audio"
	"github.com/wavecap/wavecap/internal/config"
	"github.com/wavecap/wavecap/internal/dsp"
)

// Sentinel errors for capture operations.
var (
	// ErrAlreadyCapturing is returned when Start is called on an active engine.
	ErrAlreadyCapturing = errors.New("capture already in progress")

	// ErrNotCapturing is returned when Stop is called on an idle engine.
	ErrNotCapturing = errors.New("no capture in progress")
)

// EngineState tracks the capture engine lifecycle.
type EngineState string

const (
	// EngineIdle indicates no active capture.
	EngineIdle EngineState = "idle"
	// EngineActive indicates the capture loop is running.
	EngineActive EngineState = "active"
	// EnginePaused indicates the loop is alive but skipping reads.
	EnginePaused EngineState = "paused"
	// EngineStopping indicates the loop is being joined and finalized.
	EngineStopping EngineState = "stopping"
)

// AudioFile describes the finalized artifact of one capture session.
// Ownership passes to the caller once returned from Stop.
type AudioFile struct {
	Path       string `json:"path"`
	DurationMs int64  `json:"duration_ms"`
	SizeBytes  int64  `json:"size_bytes"`
	SessionID  string `json:"session_id"`
}

// Callbacks are invoked from the capture loop. They must be non-blocking:
// enqueue a state transition and return, never perform I/O.
type Callbacks struct {
	// OnError reports a device read failure. The loop halts afterwards.
	OnError func(err error)
	// OnSizeLimit reports that the byte cutoff was hit. The loop halts;
	// the accumulated audio is still finalized on Stop.
	OnSizeLimit func()
	// OnMetrics delivers each buffer's quality snapshot.
	OnMetrics func(m audio.Metrics)
	// OnSilenceChange reports silence hysteresis transitions.
	OnSilenceChange func(state audio.SilenceState, duration time.Duration)
}

// pausePollInterval bounds teardown latency while paused: the loop checks
// its flags at this cadence instead of suspending the goroutine.
const pausePollInterval = 5 * time.Millisecond

// Engine owns the platform input device and the dedicated capture
// goroutine. It pulls fixed-size buffers, feeds the analyzer and silence
// detector, accumulates samples, enforces the size cutoff, and on Stop
// runs the DSP pipeline and encodes the WAV artifact.
type Engine struct {
	constraints config.Constraints
	device      InputDevice
	analyzer    *audio.Analyzer
	silence     *audio.SilenceDetector
	stats       *audio.StatsAccumulator
	processor   *dsp.Processor
	callbacks   Callbacks

	mu         sync.Mutex
	state      EngineState
	outputPath string
	sessionID  string
	samples    []int16
	loopDone   chan struct{}

	paused   atomic.Bool
	stopFlag atomic.Bool

	latest atomic.Pointer[audio.Metrics]
}

// NewEngine creates a capture engine bound to one input device and one
// DSP processor. The engine never holds more than one open device handle.
func NewEngine(constraints config.Constraints, device InputDevice, processor *dsp.Processor, callbacks Callbacks) *Engine {
	return &Engine{
		constraints: constraints,
		device:      device,
		analyzer:    audio.NewAnalyzer(constraints.SilenceThreshold, constraints.ClippingThreshold),
		silence:     audio.NewSilenceDetector(constraints.BuffersForSilence(), constraints.BufferDuration()),
		stats:       audio.NewStatsAccumulator(constraints.ByteRate(), constraints.MaxFileSizeBytes, constraints.MaxRecordingDuration()),
		processor:   processor,
		callbacks:   callbacks,
		state:       EngineIdle,
	}
}

// Start opens the device and launches the capture goroutine. The returned
// error covers device setup only; runtime failures arrive via OnError.
func (e *Engine) Start(outputPath, sessionID string) error {
	e.mu.Lock()
	if e.state != EngineIdle {
		e.mu.Unlock()
		return ErrAlreadyCapturing
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("create output directory: %w", err)
	}

	if err := e.device.Open(); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("open input device: %w", err)
	}

	e.outputPath = outputPath
	e.sessionID = sessionID
	e.samples = e.samples[:0]
	e.loopDone = make(chan struct{})
	e.state = EngineActive
	e.mu.Unlock()

	e.paused.Store(false)
	e.stopFlag.Store(false)
	e.silence.Reset()
	e.stats.Reset()
	e.latest.Store(nil)

	go e.captureLoop()

	slog.Info("capture started", "session_id", sessionID, "path", outputPath)
	return nil
}

// captureLoop is the dedicated per-session goroutine. It owns each buffer
// exclusively for the duration of one iteration and communicates outward
// only through the non-blocking callbacks.
func (e *Engine) captureLoop() {
	defer close(e.loopDone)

	buf := make([]int16, e.constraints.BufferSize)
	cutoff := e.constraints.SizeCutoffBytes()

	for !e.stopFlag.Load() {
		if e.paused.Load() {
			time.Sleep(pausePollInterval)
			continue
		}

		n, err := e.device.Read(buf)
		if err != nil {
			if !e.stopFlag.Load() && e.callbacks.OnError != nil {
				e.callbacks.OnError(fmt.Errorf("device read: %w", err))
			}
			return
		}
		if n == 0 {
			// Device delivered nothing this pull; try again.
			continue
		}

		chunk := buf[:n]
		m := e.analyzer.Analyze(chunk)
		e.latest.Store(&m)
		if e.callbacks.OnMetrics != nil {
			e.callbacks.OnMetrics(m)
		}

		silenceState := e.silence.Process(m.IsSilent)
		if silenceState == audio.EnteredSilence || silenceState == audio.ExitedSilence {
			if e.callbacks.OnSilenceChange != nil {
				e.callbacks.OnSilenceChange(silenceState, e.silence.CurrentSilenceDuration())
			}
		}

		e.stats.Add(m, n*wavBytesPerSample)

		e.mu.Lock()
		e.samples = append(e.samples, chunk...)
		e.mu.Unlock()

		if e.stats.BytesWritten() >= cutoff {
			slog.Warn("size limit reached, stopping capture",
				"session_id", e.sessionID, "bytes", e.stats.BytesWritten(), "cutoff", cutoff)
			if e.callbacks.OnSizeLimit != nil {
				e.callbacks.OnSizeLimit()
			}
			return
		}
	}
}

// Stop joins the capture goroutine, runs the DSP pipeline over the full
// accumulated sample set and encodes the WAV artifact.
func (e *Engine) Stop() (*AudioFile, error) {
	e.mu.Lock()
	if e.state == EngineIdle || e.state == EngineStopping {
		e.mu.Unlock()
		return nil, ErrNotCapturing
	}
	e.state = EngineStopping
	done := e.loopDone
	e.mu.Unlock()

	e.stopFlag.Store(true)
	e.paused.Store(false)
	// Closing the device unblocks a pending read so the join is bounded.
	if err := e.device.Close(); err != nil {
		slog.Warn("error closing input device", "session_id", e.sessionID, "error", err)
	}
	<-done

	e.mu.Lock()
	samples := e.samples
	e.samples = nil
	outputPath := e.outputPath
	sessionID := e.sessionID
	e.state = EngineIdle
	e.mu.Unlock()

	processed := e.processor.Process(samples)

	size, err := WriteWAVFile(outputPath, processed, e.constraints.SampleRate, e.constraints.Channels)
	if err != nil {
		return nil, fmt.Errorf("encode recording: %w", err)
	}

	durationMs := int64(len(processed)) * 1000 / int64(e.constraints.SampleRate*e.constraints.Channels)
	file := &AudioFile{
		Path:       outputPath,
		DurationMs: durationMs,
		SizeBytes:  size,
		SessionID:  sessionID,
	}

	slog.Info("capture stopped", "session_id", sessionID,
		"duration_ms", durationMs, "size_bytes", size, "samples", len(processed))
	return file, nil
}

// Cancel aborts the session and discards the partial output file.
func (e *Engine) Cancel() {
	e.mu.Lock()
	if e.state == EngineIdle {
		e.mu.Unlock()
		return
	}
	e.state = EngineStopping
	done := e.loopDone
	outputPath := e.outputPath
	sessionID := e.sessionID
	e.mu.Unlock()

	e.stopFlag.Store(true)
	e.paused.Store(false)
	if err := e.device.Close(); err != nil {
		slog.Warn("error closing input device", "session_id", sessionID, "error", err)
	}
	<-done

	e.mu.Lock()
	e.samples = nil
	e.state = EngineIdle
	e.mu.Unlock()

	if err := os.Remove(outputPath); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to remove partial recording", "path", outputPath, "error", err)
	}

	slog.Info("capture cancelled", "session_id", sessionID)
}

// Pause makes the loop skip reads. Used only in response to device
// arbitration signals, not as general API.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != EngineActive {
		return
	}
	e.paused.Store(true)
	e.state = EnginePaused
	slog.Info("capture paused", "session_id", e.sessionID)
}

// Resume reverses Pause.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != EnginePaused {
		return
	}
	e.paused.Store(false)
	e.state = EngineActive
	slog.Info("capture resumed", "session_id", e.sessionID)
}

// IsCapturing reports whether a session is active or paused.
func (e *Engine) IsCapturing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == EngineActive || e.state == EnginePaused
}

// State returns the current engine state.
func (e *Engine) State() EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Stats returns the current session statistics snapshot.
func (e *Engine) Stats() audio.Statistics {
	return e.stats.Snapshot()
}

// Metrics returns the most recent per-buffer quality snapshot, or the
// zero snapshot before the first buffer arrives.
func (e *Engine) Metrics() audio.Metrics {
	if m := e.latest.Load(); m != nil {
		return *m
	}
	return audio.Metrics{}
}
