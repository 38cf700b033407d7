package recorder

import (
	"log/slog"
	"sync"
	"time"

	"github.com/wavecap/wavecap/internal/audio"
	"github.com/wavecap/wavecap/internal/capture"
	"github.com/wavecap/wavecap/internal/transcribe"
)

// Listener receives recording lifecycle notifications. All fields are
// optional. Callbacks run on internal goroutines and must not block.
type Listener struct {
	OnStateChanged      func(previous, current State)
	OnRecordingComplete func(file *capture.AudioFile, result *transcribe.Result)
	OnRecordingError    func(err *CaptureError)
	OnMetrics           func(m audio.Metrics)
	OnSilenceChange     func(state audio.SilenceState, duration time.Duration)
	OnSizeLimitReached  func()
}

// listenerRegistry fans lifecycle events out to subscribers. Dispatch
// copies the subscriber list so listeners can unsubscribe from within a
// callback, and a panicking listener never takes the recorder down.
type listenerRegistry struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]Listener
	logger    *slog.Logger
}

func newListenerRegistry(logger *slog.Logger) *listenerRegistry {
	return &listenerRegistry{
		listeners: make(map[int]Listener),
		logger:    logger,
	}
}

// subscribe registers a listener and returns its removal func.
func (lr *listenerRegistry) subscribe(l Listener) func() {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	id := lr.nextID
	lr.nextID++
	lr.listeners[id] = l

	return func() {
		lr.mu.Lock()
		defer lr.mu.Unlock()
		delete(lr.listeners, id)
	}
}

func (lr *listenerRegistry) snapshot() []Listener {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	out := make([]Listener, 0, len(lr.listeners))
	for _, l := range lr.listeners {
		out = append(out, l)
	}
	return out
}

func (lr *listenerRegistry) dispatch(name string, fn func(Listener)) {
	for _, l := range lr.snapshot() {
		lr.invoke(name, l, fn)
	}
}

func (lr *listenerRegistry) invoke(name string, l Listener, fn func(Listener)) {
	defer func() {
		if r := recover(); r != nil {
			lr.logger.Error("Listener panicked", "callback", name, "panic", r)
		}
	}()
	fn(l)
}

func (lr *listenerRegistry) notifyStateChanged(previous, current State) {
	lr.dispatch("state_changed", func(l Listener) {
		if l.OnStateChanged != nil {
			l.OnStateChanged(previous, current)
		}
	})
}

func (lr *listenerRegistry) notifyComplete(file *capture.AudioFile, result *transcribe.Result) {
	lr.dispatch("recording_complete", func(l Listener) {
		if l.OnRecordingComplete != nil {
			l.OnRecordingComplete(file, result)
		}
	})
}

func (lr *listenerRegistry) notifyError(err *CaptureError) {
	lr.dispatch("recording_error", func(l Listener) {
		if l.OnRecordingError != nil {
			l.OnRecordingError(err)
		}
	})
}

func (lr *listenerRegistry) notifyMetrics(m audio.Metrics) {
	lr.dispatch("metrics", func(l Listener) {
		if l.OnMetrics != nil {
			l.OnMetrics(m)
		}
	})
}

func (lr *listenerRegistry) notifySilenceChange(state audio.SilenceState, duration time.Duration) {
	lr.dispatch("silence_change", func(l Listener) {
		if l.OnSilenceChange != nil {
			l.OnSilenceChange(state, duration)
		}
	})
}

func (lr *listenerRegistry) notifySizeLimit() {
	lr.dispatch("size_limit", func(l Listener) {
		if l.OnSizeLimitReached != nil {
			l.OnSizeLimitReached()
		}
	})
}
