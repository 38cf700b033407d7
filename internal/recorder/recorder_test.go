package recorder

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavecap/wavecap/internal/audio"
	"github.com/wavecap/wavecap/internal/capture"
	"github.com/wavecap/wavecap/internal/config"
	"github.com/wavecap/wavecap/internal/focus"
	"github.com/wavecap/wavecap/internal/transcribe"
)

type fakeEngine struct {
	mu         sync.Mutex
	started    int
	stopped    int
	canceled   int
	paused     int
	resumed    int
	startErr   error
	stopErr    error
	outputPath string
	sessionID  string
}

func (e *fakeEngine) Start(outputPath, sessionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.startErr != nil {
		return e.startErr
	}
	e.started++
	e.outputPath = outputPath
	e.sessionID = sessionID
	return nil
}

func (e *fakeEngine) Stop() (*capture.AudioFile, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped++
	if e.stopErr != nil {
		return nil, e.stopErr
	}
	return &capture.AudioFile{
		Path:       e.outputPath,
		DurationMs: 2500,
		SizeBytes:  80044,
		SessionID:  e.sessionID,
	}, nil
}

func (e *fakeEngine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.canceled++
}

func (e *fakeEngine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused++
}

func (e *fakeEngine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resumed++
}

func (e *fakeEngine) IsCapturing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started > e.stopped+e.canceled
}

func (e *fakeEngine) Stats() audio.Statistics { return audio.Statistics{} }
func (e *fakeEngine) Metrics() audio.Metrics  { return audio.Metrics{} }

func (e *fakeEngine) counts() (started, stopped, canceled int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started, e.stopped, e.canceled
}

// engineHarness captures the callbacks the recorder wires into each
// engine so tests can fire them like the capture loop would.
type engineHarness struct {
	mu        sync.Mutex
	engine    *fakeEngine
	callbacks capture.Callbacks
	builds    int
}

func newEngineHarness() *engineHarness {
	return &engineHarness{engine: &fakeEngine{}}
}

func (h *engineHarness) factory(cb capture.Callbacks) Engine {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.callbacks = cb
	h.builds++
	return h.engine
}

func (h *engineHarness) fire() capture.Callbacks {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.callbacks
}

type fakeTranscriber struct {
	mu      sync.Mutex
	result  *transcribe.Result
	err     error
	calls   int
	gotPath string
	gotOpts transcribe.Options
}

func (f *fakeTranscriber) Transcribe(_ context.Context, path string, opts transcribe.Options) (*transcribe.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.gotPath = path
	f.gotOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func testOptions(t *testing.T, h *engineHarness) Options {
	t.Helper()
	return Options{
		Constraints:    config.DefaultConstraints(),
		OutputDir:      t.TempDir(),
		NewEngine:      h.factory,
		SuccessDisplay: 50 * time.Millisecond,
	}
}

func waitForState(t *testing.T, r *Recorder, kind StateKind) {
	t.Helper()
	require.Eventually(t, func() bool {
		return r.State().Kind == kind
	}, 2*time.Second, 5*time.Millisecond, "expected state %s, last seen %s", kind, r.State().Kind)
}

func TestRecorderHappyPath(t *testing.T) {
	h := newEngineHarness()
	tr := &fakeTranscriber{result: &transcribe.Result{Text: "hello world", Language: "en"}}

	opts := testOptions(t, h)
	opts.Transcriber = tr
	opts.TranscribeOptions = func() transcribe.Options {
		return transcribe.Options{Model: "whisper-1", Language: "en"}
	}
	r, err := New(opts)
	require.NoError(t, err)

	var completeMu sync.Mutex
	var completedFile *capture.AudioFile
	var completedResult *transcribe.Result
	r.Subscribe(Listener{
		OnRecordingComplete: func(file *capture.AudioFile, result *transcribe.Result) {
			completeMu.Lock()
			defer completeMu.Unlock()
			completedFile = file
			completedResult = result
		},
	})

	require.NoError(t, r.StartRecording(context.Background()))
	state := r.State()
	assert.Equal(t, StateRecording, state.Kind)
	assert.NotEmpty(t, state.SessionID)

	require.NoError(t, r.StopRecording(context.Background()))
	state = r.State()
	require.Equal(t, StateSuccess, state.Kind)
	require.NotNil(t, state.AudioFile)
	assert.Equal(t, int64(2500), state.AudioFile.DurationMs)
	require.NotNil(t, state.Transcription)
	assert.Equal(t, "hello world", state.Transcription.Text)

	completeMu.Lock()
	require.NotNil(t, completedFile)
	assert.Equal(t, "hello world", completedResult.Text)
	completeMu.Unlock()

	tr.mu.Lock()
	assert.Equal(t, 1, tr.calls)
	assert.Equal(t, h.engine.outputPath, tr.gotPath)
	assert.Equal(t, "whisper-1", tr.gotOpts.Model)
	tr.mu.Unlock()

	// Success holds briefly, then the machine returns to idle.
	waitForState(t, r, StateIdle)
}

func TestStartWhileRecordingIsNoOp(t *testing.T) {
	h := newEngineHarness()
	r, err := New(testOptions(t, h))
	require.NoError(t, err)

	require.NoError(t, r.StartRecording(context.Background()))
	first := r.State().SessionID

	require.NoError(t, r.StartRecording(context.Background()))
	assert.Equal(t, StateRecording, r.State().Kind)
	assert.Equal(t, first, r.State().SessionID, "second start must not replace the session")

	h.mu.Lock()
	assert.Equal(t, 1, h.builds)
	h.mu.Unlock()
}

func TestStopWithoutRecordingIsNoOp(t *testing.T) {
	h := newEngineHarness()
	r, err := New(testOptions(t, h))
	require.NoError(t, err)

	require.NoError(t, r.StopRecording(context.Background()))
	assert.Equal(t, StateIdle, r.State().Kind)
}

func TestTimeoutIsTerminal(t *testing.T) {
	h := newEngineHarness()
	opts := testOptions(t, h)
	// Shrink the byte budget so the derived time bound is ~100ms.
	opts.Constraints.MaxFileSizeBytes = 3200
	r, err := New(opts)
	require.NoError(t, err)

	require.NoError(t, r.StartRecording(context.Background()))
	waitForState(t, r, StateError)

	state := r.State()
	require.NotNil(t, state.Err)
	assert.Equal(t, KindConfigurationError, state.Err.Kind)
	assert.False(t, state.Err.Retryable)
	assert.ErrorIs(t, state.Err, ErrRecordingTimeout)

	_, _, canceled := h.engine.counts()
	assert.Equal(t, 1, canceled, "timed-out session must be discarded, not finalized")

	// A terminal failure refuses the retry but can be dismissed.
	assert.ErrorIs(t, r.RetryFromError(), ErrNotRetryable)
	r.CancelRecording()
	assert.Equal(t, StateIdle, r.State().Kind)
}

func TestTranscriptionFailureIsRetryable(t *testing.T) {
	h := newEngineHarness()
	tr := &fakeTranscriber{err: errors.New("upstream unavailable")}
	opts := testOptions(t, h)
	opts.Transcriber = tr
	r, err := New(opts)
	require.NoError(t, err)

	require.NoError(t, r.StartRecording(context.Background()))
	stopErr := r.StopRecording(context.Background())
	require.Error(t, stopErr)

	state := r.State()
	require.Equal(t, StateError, state.Kind)
	assert.Equal(t, KindIOError, state.Err.Kind)
	assert.True(t, state.Err.Retryable)

	require.NoError(t, r.RetryFromError())
	assert.Equal(t, StateIdle, r.State().Kind)

	// The machine accepts a fresh session after the retry.
	require.NoError(t, r.StartRecording(context.Background()))
	assert.Equal(t, StateRecording, r.State().Kind)
}

func TestCancelDiscardsRecording(t *testing.T) {
	h := newEngineHarness()
	opts := testOptions(t, h)
	completed := false
	r, err := New(opts)
	require.NoError(t, err)
	r.Subscribe(Listener{
		OnRecordingComplete: func(*capture.AudioFile, *transcribe.Result) { completed = true },
	})

	require.NoError(t, r.StartRecording(context.Background()))
	r.CancelRecording()

	assert.Equal(t, StateIdle, r.State().Kind)
	_, stopped, canceled := h.engine.counts()
	assert.Equal(t, 0, stopped)
	assert.Equal(t, 1, canceled)
	assert.False(t, completed, "a canceled session must not report completion")
}

type transcriberFunc func(ctx context.Context, path string, opts transcribe.Options) (*transcribe.Result, error)

func (f transcriberFunc) Transcribe(ctx context.Context, path string, opts transcribe.Options) (*transcribe.Result, error) {
	return f(ctx, path, opts)
}

func TestCancelWhileProcessingReturnsToIdle(t *testing.T) {
	h := newEngineHarness()
	entered := make(chan struct{})
	release := make(chan struct{})
	opts := testOptions(t, h)
	opts.Transcriber = transcriberFunc(func(context.Context, string, transcribe.Options) (*transcribe.Result, error) {
		close(entered)
		<-release
		return &transcribe.Result{Text: "too late"}, nil
	})
	r, err := New(opts)
	require.NoError(t, err)

	var completedMu sync.Mutex
	completed := false
	r.Subscribe(Listener{
		OnRecordingComplete: func(*capture.AudioFile, *transcribe.Result) {
			completedMu.Lock()
			defer completedMu.Unlock()
			completed = true
		},
	})

	require.NoError(t, r.StartRecording(context.Background()))
	stopDone := make(chan error, 1)
	go func() { stopDone <- r.StopRecording(context.Background()) }()
	<-entered
	require.Equal(t, StateProcessing, r.State().Kind)

	// The user abandons the session while transcription is in flight.
	r.CancelRecording()
	assert.Equal(t, StateIdle, r.State().Kind)

	close(release)
	require.NoError(t, <-stopDone)
	assert.Equal(t, StateIdle, r.State().Kind, "late finalize must not resurrect the session")

	completedMu.Lock()
	assert.False(t, completed, "a canceled session must not report completion")
	completedMu.Unlock()
}

func TestRetryFromSuccessResetsEarly(t *testing.T) {
	h := newEngineHarness()
	opts := testOptions(t, h)
	opts.SuccessDisplay = time.Minute
	r, err := New(opts)
	require.NoError(t, err)

	require.NoError(t, r.StartRecording(context.Background()))
	require.NoError(t, r.StopRecording(context.Background()))
	require.Equal(t, StateSuccess, r.State().Kind)

	// Manual early reset cuts the display hold short.
	require.NoError(t, r.RetryFromError())
	assert.Equal(t, StateIdle, r.State().Kind)

	require.NoError(t, r.StartRecording(context.Background()))
	assert.Equal(t, StateRecording, r.State().Kind)
}

func TestCaptureErrorSurfacesAsIOError(t *testing.T) {
	h := newEngineHarness()
	r, err := New(testOptions(t, h))
	require.NoError(t, err)

	var notifiedMu sync.Mutex
	var notified *CaptureError
	r.Subscribe(Listener{
		OnRecordingError: func(e *CaptureError) {
			notifiedMu.Lock()
			defer notifiedMu.Unlock()
			notified = e
		},
	})

	require.NoError(t, r.StartRecording(context.Background()))
	h.fire().OnError(io.ErrUnexpectedEOF)
	waitForState(t, r, StateError)

	state := r.State()
	assert.Equal(t, KindIOError, state.Err.Kind)
	assert.True(t, state.Err.Retryable)

	notifiedMu.Lock()
	require.NotNil(t, notified)
	assert.Equal(t, KindIOError, notified.Kind)
	notifiedMu.Unlock()
}

func TestSizeLimitFinalizesPartialSession(t *testing.T) {
	h := newEngineHarness()
	opts := testOptions(t, h)
	opts.SuccessDisplay = time.Minute // keep success visible for assertions
	sizeLimitNotified := false
	r, err := New(opts)
	require.NoError(t, err)
	r.Subscribe(Listener{
		OnSizeLimitReached: func() { sizeLimitNotified = true },
	})

	require.NoError(t, r.StartRecording(context.Background()))
	h.fire().OnSizeLimit()
	waitForState(t, r, StateSuccess)

	state := r.State()
	require.NotNil(t, state.AudioFile)
	assert.Equal(t, int64(80044), state.AudioFile.SizeBytes)
	assert.True(t, sizeLimitNotified)

	_, stopped, canceled := h.engine.counts()
	assert.Equal(t, 1, stopped, "size limit must finalize, not discard")
	assert.Equal(t, 0, canceled)
}

func TestEngineStartFailureClassified(t *testing.T) {
	h := newEngineHarness()
	h.engine.startErr = capture.ErrNoAudioDevice
	r, err := New(testOptions(t, h))
	require.NoError(t, err)

	startErr := r.StartRecording(context.Background())
	require.Error(t, startErr)

	var cerr *CaptureError
	require.ErrorAs(t, startErr, &cerr)
	assert.Equal(t, KindDeviceUnavailable, cerr.Kind)
	assert.Equal(t, StateError, r.State().Kind)
}

func TestStopFailureIsIOError(t *testing.T) {
	h := newEngineHarness()
	h.engine.stopErr = errors.New("disk full")
	r, err := New(testOptions(t, h))
	require.NoError(t, err)

	require.NoError(t, r.StartRecording(context.Background()))
	stopErr := r.StopRecording(context.Background())
	require.Error(t, stopErr)
	assert.Equal(t, KindIOError, r.State().Err.Kind)
}

func TestPermissionDenied(t *testing.T) {
	h := newEngineHarness()
	opts := testOptions(t, h)
	opts.CheckPermission = func(context.Context) error {
		return errors.New("microphone access not granted")
	}
	r, err := New(opts)
	require.NoError(t, err)

	startErr := r.StartRecording(context.Background())
	require.Error(t, startErr)

	state := r.State()
	assert.Equal(t, StateError, state.Kind)
	assert.Equal(t, KindPermissionDenied, state.Err.Kind)

	h.mu.Lock()
	assert.Zero(t, h.builds, "no engine may be built without permission")
	h.mu.Unlock()
}

func TestTransientFocusLossPausesCapture(t *testing.T) {
	arbiter := focus.NewInProcessArbiter()
	h := newEngineHarness()
	opts := testOptions(t, h)
	opts.Focus = focus.NewController(arbiter)
	r, err := New(opts)
	require.NoError(t, err)

	require.NoError(t, r.StartRecording(context.Background()))

	arbiter.BeginTransient()
	require.Eventually(t, func() bool {
		h.engine.mu.Lock()
		defer h.engine.mu.Unlock()
		return h.engine.paused == 1
	}, time.Second, 5*time.Millisecond)

	arbiter.EndTransient()
	require.Eventually(t, func() bool {
		h.engine.mu.Lock()
		defer h.engine.mu.Unlock()
		return h.engine.resumed == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, StateRecording, r.State().Kind)
}

func TestPermanentFocusLossFailsSession(t *testing.T) {
	arbiter := focus.NewInProcessArbiter()
	h := newEngineHarness()
	opts := testOptions(t, h)
	opts.Focus = focus.NewController(arbiter)
	r, err := New(opts)
	require.NoError(t, err)

	require.NoError(t, r.StartRecording(context.Background()))

	// Another client wins arbitration; our grant is preempted.
	_, ok := arbiter.Request(func(focus.Event) {})
	require.True(t, ok)

	waitForState(t, r, StateError)
	state := r.State()
	assert.Equal(t, KindDeviceUnavailable, state.Err.Kind)
	assert.ErrorIs(t, state.Err, ErrFocusLost)

	_, _, canceled := h.engine.counts()
	assert.Equal(t, 1, canceled)
}

func TestStateChangeNotifications(t *testing.T) {
	h := newEngineHarness()
	r, err := New(testOptions(t, h))
	require.NoError(t, err)

	var mu sync.Mutex
	var transitions []StateKind
	unsubscribe := r.Subscribe(Listener{
		OnStateChanged: func(_, current State) {
			mu.Lock()
			defer mu.Unlock()
			transitions = append(transitions, current.Kind)
		},
	})

	require.NoError(t, r.StartRecording(context.Background()))
	require.NoError(t, r.StopRecording(context.Background()))
	waitForState(t, r, StateIdle)

	mu.Lock()
	assert.Equal(t, []StateKind{StateRecording, StateProcessing, StateSuccess, StateIdle}, transitions)
	mu.Unlock()

	unsubscribe()
	require.NoError(t, r.StartRecording(context.Background()))
	mu.Lock()
	assert.Len(t, transitions, 4, "unsubscribed listener must not fire")
	mu.Unlock()
}

func TestListenerPanicIsContained(t *testing.T) {
	h := newEngineHarness()
	r, err := New(testOptions(t, h))
	require.NoError(t, err)

	r.Subscribe(Listener{
		OnStateChanged: func(_, _ State) { panic("listener bug") },
	})

	require.NoError(t, r.StartRecording(context.Background()))
	assert.Equal(t, StateRecording, r.State().Kind)
}
