// Package recorder drives the recording lifecycle: a state machine over
// idle, recording, processing, success and error, coordinating the
// capture engine, audio focus, transcription and listeners.
package recorder

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wavecap/wavecap/internal/audio"
	"github.com/wavecap/wavecap/internal/capture"
	"github.com/wavecap/wavecap/internal/config"
	"github.com/wavecap/wavecap/internal/focus"
	"github.com/wavecap/wavecap/internal/transcribe"
	"github.com/wavecap/wavecap/internal/util"
)

// Sentinel errors for lifecycle operations.
var (
	// ErrFocusDenied is returned when the platform refuses audio focus.
	ErrFocusDenied = errors.New("audio focus denied")

	// ErrFocusLost is surfaced when focus is permanently preempted
	// mid-session.
	ErrFocusLost = errors.New("audio focus lost")

	// ErrRecordingTimeout is surfaced when the hard recording time bound
	// elapses.
	ErrRecordingTimeout = errors.New("maximum recording duration exceeded")

	// ErrNotRetryable is returned by RetryFromError for terminal failures.
	ErrNotRetryable = errors.New("failure is not retryable")
)

// successDisplayDuration is how long a completed session stays visible
// before the machine returns to idle on its own.
const successDisplayDuration = 1500 * time.Millisecond

// Engine is the capture surface the recorder drives. Satisfied by
// *capture.Engine.
type Engine interface {
	Start(outputPath, sessionID string) error
	Stop() (*capture.AudioFile, error)
	Cancel()
	Pause()
	Resume()
	IsCapturing() bool
	Stats() audio.Statistics
	Metrics() audio.Metrics
}

// Transcriber turns a finalized recording into text. Satisfied by
// *transcribe.Client.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string, opts transcribe.Options) (*transcribe.Result, error)
}

// EventSink receives session events for the persistent audit trail.
type EventSink interface {
	Log(sessionID, event string, fields map[string]any)
}

// Uploader archives finalized recordings in the background.
type Uploader interface {
	Enqueue(file *capture.AudioFile)
}

// Options wires the recorder's collaborators. NewEngine is required;
// everything else degrades gracefully when absent.
type Options struct {
	Constraints config.Constraints
	OutputDir   string

	// NewEngine builds a capture engine bound to the given callbacks.
	// Called once per session.
	NewEngine func(capture.Callbacks) Engine

	// Focus arbitrates access to the input device. Optional.
	Focus *focus.Controller

	// CheckPermission verifies microphone access before a session starts.
	// Optional; nil means access is assumed.
	CheckPermission func(ctx context.Context) error

	// Transcriber and TranscribeOptions drive the post-capture
	// transcription step. Options are fetched fresh per session.
	Transcriber       Transcriber
	TranscribeOptions func() transcribe.Options

	// Events and Uploader are optional side channels.
	Events   EventSink
	Uploader Uploader

	Logger *slog.Logger

	// SuccessDisplay overrides how long the success state is held.
	SuccessDisplay time.Duration
}

// Recorder is the recording orchestrator. All state transitions are
// serialized behind one mutex; slow work (device teardown, HTTP) runs
// outside it with a compare-and-set re-check before committing, so a
// stop, a timeout and a cancel can race and exactly one wins.
type Recorder struct {
	opts      Options
	logger    *slog.Logger
	listeners *listenerRegistry

	mu      sync.Mutex
	state   State
	engine  Engine
	timer   *time.Timer // hard recording time bound
	display *time.Timer // success hold before returning to idle
}

// New creates a Recorder in the idle state.
func New(opts Options) (*Recorder, error) {
	if opts.NewEngine == nil {
		return nil, errors.New("recorder: NewEngine is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SuccessDisplay <= 0 {
		opts.SuccessDisplay = successDisplayDuration
	}
	return &Recorder{
		opts:      opts,
		logger:    logger,
		listeners: newListenerRegistry(logger),
		state:     idleState(),
	}, nil
}

// Subscribe registers a lifecycle listener and returns its removal func.
func (r *Recorder) Subscribe(l Listener) func() {
	return r.listeners.subscribe(l)
}

// State returns the current lifecycle snapshot.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Stats returns live session statistics while a capture is active.
func (r *Recorder) Stats() audio.Statistics {
	r.mu.Lock()
	engine := r.engine
	r.mu.Unlock()
	if engine == nil {
		return audio.Statistics{}
	}
	return engine.Stats()
}

// Metrics returns the most recent per-buffer quality snapshot.
func (r *Recorder) Metrics() audio.Metrics {
	r.mu.Lock()
	engine := r.engine
	r.mu.Unlock()
	if engine == nil {
		return audio.Metrics{}
	}
	return engine.Metrics()
}

// StartRecording begins a new session. Calling it while a session is
// already in progress is a no-op; an undismissed error must be retried
// or canceled first.
func (r *Recorder) StartRecording(ctx context.Context) error {
	r.mu.Lock()

	switch r.state.Kind {
	case StateRecording, StateProcessing:
		r.mu.Unlock()
		r.logger.Warn("Start ignored, session already in progress", "state", r.state.Kind)
		return nil
	case StateError:
		r.mu.Unlock()
		r.logger.Warn("Start ignored, previous failure not dismissed")
		return nil
	case StateSuccess:
		// Cut the display hold short.
		r.stopDisplayLocked()
	}

	if r.opts.CheckPermission != nil {
		if err := r.opts.CheckPermission(ctx); err != nil {
			return r.failAndUnlock("", newError(KindPermissionDenied, err))
		}
	}

	if r.opts.Focus != nil && !r.opts.Focus.Acquire(&focusHandler{r: r}) {
		return r.failAndUnlock("", newError(KindDeviceUnavailable, ErrFocusDenied))
	}

	sessionID := uuid.NewString()
	outputPath := filepath.Join(r.opts.OutputDir, sessionID+".wav")

	engine := r.opts.NewEngine(capture.Callbacks{
		OnError:     func(err error) { go r.handleCaptureError(sessionID, err) },
		OnSizeLimit: func() { go r.handleSizeLimit(sessionID) },
		OnMetrics:   r.listeners.notifyMetrics,
		OnSilenceChange: func(state audio.SilenceState, duration time.Duration) {
			r.handleSilenceChange(sessionID, state, duration)
		},
	})

	if err := engine.Start(outputPath, sessionID); err != nil {
		r.releaseFocus()
		return r.failAndUnlock(sessionID, classifyStartError(err))
	}

	r.engine = engine
	prev, next := r.setStateLocked(recordingState(sessionID, time.Now()))
	r.timer = time.AfterFunc(r.opts.Constraints.MaxRecordingDuration(), func() {
		r.handleTimeout(sessionID)
	})
	r.mu.Unlock()

	r.logEvent(sessionID, "session_started", map[string]any{"output": outputPath})
	r.listeners.notifyStateChanged(prev, next)
	return nil
}

// StopRecording finalizes the active session: capture is joined, the
// file written, the transcription fetched. A stop with no active
// recording is a no-op.
func (r *Recorder) StopRecording(ctx context.Context) error {
	r.mu.Lock()
	if r.state.Kind != StateRecording {
		r.mu.Unlock()
		r.logger.Warn("Stop ignored, no active recording", "state", r.state.Kind)
		return nil
	}
	sessionID := r.state.SessionID
	engine := r.engine
	r.stopTimerLocked()
	prev, next := r.setStateLocked(processingState(sessionID))
	r.mu.Unlock()

	r.listeners.notifyStateChanged(prev, next)
	return r.finalize(ctx, sessionID, engine)
}

// CancelRecording abandons whatever the machine is doing and returns to
// idle. An in-flight capture is discarded without producing a file; an
// error state is dismissed.
func (r *Recorder) CancelRecording() {
	r.mu.Lock()

	switch r.state.Kind {
	case StateIdle:
		r.mu.Unlock()
		return

	case StateProcessing:
		sessionID := r.state.SessionID
		r.engine = nil
		prev, next := r.setStateLocked(idleState())
		r.mu.Unlock()

		// The in-flight finalize loses its compare-and-set and discards
		// the artifact.
		r.releaseFocus()
		r.logEvent(sessionID, "session_canceled", nil)
		r.listeners.notifyStateChanged(prev, next)

	case StateRecording:
		sessionID := r.state.SessionID
		engine := r.engine
		r.stopTimerLocked()
		r.engine = nil
		prev, next := r.setStateLocked(idleState())
		r.mu.Unlock()

		engine.Cancel()
		r.releaseFocus()
		r.logEvent(sessionID, "session_canceled", nil)
		r.listeners.notifyStateChanged(prev, next)

	case StateSuccess:
		r.stopDisplayLocked()
		prev, next := r.setStateLocked(idleState())
		r.mu.Unlock()
		r.listeners.notifyStateChanged(prev, next)

	case StateError:
		prev, next := r.setStateLocked(idleState())
		r.mu.Unlock()
		r.listeners.notifyStateChanged(prev, next)
	}
}

// RetryFromError dismisses a retryable failure and returns to idle,
// ready for a fresh StartRecording. Terminal failures refuse the retry.
// From success it acts as a manual early reset, cutting the display
// hold short.
func (r *Recorder) RetryFromError() error {
	r.mu.Lock()
	switch r.state.Kind {
	case StateSuccess:
		r.stopDisplayLocked()
	case StateError:
		if !r.state.Err.Retryable {
			r.mu.Unlock()
			return ErrNotRetryable
		}
	default:
		r.mu.Unlock()
		return nil
	}
	prev, next := r.setStateLocked(idleState())
	r.mu.Unlock()

	r.listeners.notifyStateChanged(prev, next)
	return nil
}

// finalize runs the processing step outside the lock, then commits
// success only if nothing preempted the session meanwhile.
func (r *Recorder) finalize(ctx context.Context, sessionID string, engine Engine) error {
	file, err := engine.Stop()
	r.releaseFocus()
	if err != nil {
		return r.failSession(sessionID, newError(KindIOError, err))
	}

	var result *transcribe.Result
	if r.opts.Transcriber != nil {
		opts := transcribe.Options{}
		if r.opts.TranscribeOptions != nil {
			opts = r.opts.TranscribeOptions()
		}
		result, err = r.opts.Transcriber.Transcribe(ctx, file.Path, opts)
		if err != nil {
			return r.failSession(sessionID, newError(KindIOError, err))
		}
	}

	r.mu.Lock()
	if r.state.Kind != StateProcessing || r.state.SessionID != sessionID {
		r.mu.Unlock()
		// Canceled or preempted while processing; nothing will reference
		// the artifact.
		if rmErr := os.Remove(file.Path); rmErr != nil && !os.IsNotExist(rmErr) {
			r.logger.Warn("failed to remove abandoned recording", "path", file.Path, "error", rmErr)
		}
		return nil
	}
	r.engine = nil
	prev, next := r.setStateLocked(successState(file, result))
	r.display = time.AfterFunc(r.opts.SuccessDisplay, func() {
		r.clearSuccess(sessionID)
	})
	r.mu.Unlock()

	r.logger.Info("Recording finalized",
		"session", sessionID,
		"duration", util.FormatDuration(file.DurationMs),
		"size_bytes", file.SizeBytes)

	fields := map[string]any{
		"path":        file.Path,
		"duration_ms": file.DurationMs,
		"size_bytes":  file.SizeBytes,
	}
	if result != nil {
		fields["transcript_chars"] = len(result.Text)
	}
	r.logEvent(sessionID, "session_completed", fields)

	if r.opts.Uploader != nil {
		r.opts.Uploader.Enqueue(file)
	}
	r.listeners.notifyStateChanged(prev, next)
	r.listeners.notifyComplete(file, result)
	return nil
}

// clearSuccess returns to idle after the display hold, unless the state
// already moved on.
func (r *Recorder) clearSuccess(sessionID string) {
	r.mu.Lock()
	if r.state.Kind != StateSuccess || r.state.SessionID != sessionID {
		r.mu.Unlock()
		return
	}
	prev, next := r.setStateLocked(idleState())
	r.mu.Unlock()
	r.listeners.notifyStateChanged(prev, next)
}

// handleTimeout fires when the hard recording time bound elapses. The
// session is discarded, not finalized: exceeding the bound is a policy
// violation and the partial audio is not trusted.
func (r *Recorder) handleTimeout(sessionID string) {
	r.mu.Lock()
	if r.state.Kind != StateRecording || r.state.SessionID != sessionID {
		r.mu.Unlock()
		return
	}
	engine := r.engine
	r.engine = nil
	cerr := newTimeoutError(ErrRecordingTimeout)
	prev, next := r.setStateLocked(errorState(sessionID, cerr))
	r.mu.Unlock()

	engine.Cancel()
	r.releaseFocus()
	r.logEvent(sessionID, "session_timeout", map[string]any{
		"max_duration": r.opts.Constraints.MaxRecordingDuration().String(),
	})
	r.listeners.notifyStateChanged(prev, next)
	r.listeners.notifyError(cerr)
}

// handleCaptureError reacts to a device read failure reported by the
// capture loop. Runs on its own goroutine; the loop has already halted.
func (r *Recorder) handleCaptureError(sessionID string, err error) {
	r.mu.Lock()
	if r.state.Kind != StateRecording || r.state.SessionID != sessionID {
		r.mu.Unlock()
		return
	}
	engine := r.engine
	r.engine = nil
	r.stopTimerLocked()
	cerr := classifyCaptureError(err)
	prev, next := r.setStateLocked(errorState(sessionID, cerr))
	r.mu.Unlock()

	engine.Cancel()
	r.releaseFocus()
	r.logEvent(sessionID, "session_error", map[string]any{
		"kind":  string(cerr.Kind),
		"error": cerr.Error(),
	})
	r.listeners.notifyStateChanged(prev, next)
	r.listeners.notifyError(cerr)
}

// handleSizeLimit reacts to the byte cutoff: the session ends early but
// cleanly, finalizing the audio accumulated so far.
func (r *Recorder) handleSizeLimit(sessionID string) {
	r.mu.Lock()
	if r.state.Kind != StateRecording || r.state.SessionID != sessionID {
		r.mu.Unlock()
		return
	}
	engine := r.engine
	r.stopTimerLocked()
	prev, next := r.setStateLocked(processingState(sessionID))
	r.mu.Unlock()

	r.logEvent(sessionID, "size_limit", map[string]any{
		"max_bytes": r.opts.Constraints.MaxFileSizeBytes,
	})
	r.listeners.notifySizeLimit()
	r.listeners.notifyStateChanged(prev, next)
	_ = r.finalize(context.Background(), sessionID, engine)
}

// handleSilenceChange forwards hysteresis transitions and records the
// ones that matter for the audit trail.
func (r *Recorder) handleSilenceChange(sessionID string, state audio.SilenceState, duration time.Duration) {
	r.listeners.notifySilenceChange(state, duration)

	switch state {
	case audio.EnteredSilence:
		r.logEvent(sessionID, "silence_entered", nil)
	case audio.ExitedSilence:
		r.logEvent(sessionID, "silence_exited", map[string]any{
			"duration_ms": duration.Milliseconds(),
		})
	}
}

// handleFocusLoss reacts to permanent preemption: the session cannot
// continue and its audio is discarded.
func (r *Recorder) handleFocusLoss() {
	r.mu.Lock()
	if r.state.Kind != StateRecording {
		r.mu.Unlock()
		return
	}
	sessionID := r.state.SessionID
	engine := r.engine
	r.engine = nil
	r.stopTimerLocked()
	cerr := newError(KindDeviceUnavailable, ErrFocusLost)
	prev, next := r.setStateLocked(errorState(sessionID, cerr))
	r.mu.Unlock()

	engine.Cancel()
	r.logEvent(sessionID, "focus_lost", nil)
	r.listeners.notifyStateChanged(prev, next)
	r.listeners.notifyError(cerr)
}

func (r *Recorder) handleFocusTransientLoss() {
	r.mu.Lock()
	engine := r.engine
	recording := r.state.Kind == StateRecording
	r.mu.Unlock()

	if recording && engine != nil {
		engine.Pause()
		r.logger.Info("Capture paused for transient focus loss")
	}
}

func (r *Recorder) handleFocusGain() {
	r.mu.Lock()
	engine := r.engine
	recording := r.state.Kind == StateRecording
	r.mu.Unlock()

	if recording && engine != nil {
		engine.Resume()
		r.logger.Info("Capture resumed after focus regained")
	}
}

// setStateLocked commits a transition. Callers hold r.mu and dispatch
// the returned pair to listeners after unlocking.
func (r *Recorder) setStateLocked(next State) (State, State) {
	prev := r.state
	r.state = next
	r.logger.Info("Recorder state transition",
		"from", prev.Kind,
		"to", next.Kind,
		"session", next.SessionID)
	return prev, next
}

// failAndUnlock commits an error transition, releases the lock, notifies
// and returns the classified error. Callers hold r.mu.
func (r *Recorder) failAndUnlock(sessionID string, cerr *CaptureError) error {
	prev, next := r.setStateLocked(errorState(sessionID, cerr))
	r.mu.Unlock()

	r.logEvent(sessionID, "session_error", map[string]any{
		"kind":  string(cerr.Kind),
		"error": cerr.Error(),
	})
	r.listeners.notifyStateChanged(prev, next)
	r.listeners.notifyError(cerr)
	return cerr
}

// failSession commits an error transition only if the session is still
// the current one.
func (r *Recorder) failSession(sessionID string, cerr *CaptureError) error {
	r.mu.Lock()
	if r.state.SessionID != sessionID ||
		(r.state.Kind != StateRecording && r.state.Kind != StateProcessing) {
		r.mu.Unlock()
		return nil
	}
	r.engine = nil
	return r.failAndUnlock(sessionID, cerr)
}

func (r *Recorder) stopTimerLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *Recorder) stopDisplayLocked() {
	if r.display != nil {
		r.display.Stop()
		r.display = nil
	}
}

func (r *Recorder) releaseFocus() {
	if r.opts.Focus != nil {
		r.opts.Focus.Release()
	}
}

func (r *Recorder) logEvent(sessionID, event string, fields map[string]any) {
	if r.opts.Events != nil {
		r.opts.Events.Log(sessionID, event, fields)
	}
}

// classifyStartError maps a device open failure onto the error taxonomy.
func classifyStartError(err error) *CaptureError {
	switch {
	case errors.Is(err, capture.ErrNoAudioDevice):
		return newError(KindDeviceUnavailable, err)
	case errors.Is(err, capture.ErrAlreadyCapturing):
		return newError(KindConfigurationError, err)
	case errors.Is(err, os.ErrPermission):
		return newError(KindPermissionDenied, err)
	default:
		return newError(KindConfigurationError, err)
	}
}

// classifyCaptureError maps a mid-session failure onto the taxonomy.
func classifyCaptureError(err error) *CaptureError {
	switch {
	case errors.Is(err, os.ErrPermission):
		return newError(KindPermissionDenied, err)
	case errors.Is(err, capture.ErrNoAudioDevice):
		return newError(KindDeviceUnavailable, err)
	case err != nil:
		return newError(KindIOError, err)
	default:
		return newError(KindUnknown, err)
	}
}

// focusHandler bridges arbiter events onto the recorder without holding
// the arbiter's locks while the recorder transitions.
type focusHandler struct {
	r *Recorder
}

func (h *focusHandler) OnFocusLoss()          { go h.r.handleFocusLoss() }
func (h *focusHandler) OnFocusTransientLoss() { go h.r.handleFocusTransientLoss() }
func (h *focusHandler) OnFocusGain()          { go h.r.handleFocusGain() }
