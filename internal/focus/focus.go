// Package focus arbitrates priority access to the shared audio input
// device among competing consumers and relays preemption events to the
// recording pipeline.
package focus

import (
	"log/slog"
	"sync"
)

// Event is a preemption notification from the platform arbiter. Events
// arrive on arbitrary goroutines; handlers must only post state-machine
// events, never touch capture buffers directly.
type Event int

const (
	// Loss means another consumer took exclusive ownership. The session
	// cannot continue.
	Loss Event = iota
	// TransientLoss means a short-lived consumer needs the device; capture
	// should pause and await Gain.
	TransientLoss
	// Gain means the transient consumer released the device.
	Gain
)

// String returns the event name for logging.
func (e Event) String() string {
	switch e {
	case Loss:
		return "loss"
	case TransientLoss:
		return "transient_loss"
	case Gain:
		return "gain"
	}
	return "unknown"
}

// Grant represents held focus. Release is idempotent.
type Grant interface {
	Release()
}

// Arbiter grants priority access to the audio input and delivers
// preemption events to the listener for as long as the grant is held.
type Arbiter interface {
	Request(listener func(Event)) (Grant, bool)
}

// Handler receives arbitration outcomes mapped to pipeline actions.
type Handler interface {
	// OnFocusLoss is called on permanent loss: stop and surface an error.
	OnFocusLoss()
	// OnFocusTransientLoss is called when capture should pause.
	OnFocusTransientLoss()
	// OnFocusGain is called when paused capture may resume.
	OnFocusGain()
}

// Controller binds one Handler to the platform Arbiter for the duration
// of a session.
type Controller struct {
	arbiter Arbiter

	mu      sync.Mutex
	grant   Grant
	handler Handler
}

// NewController creates a controller over the given arbiter.
func NewController(arbiter Arbiter) *Controller {
	return &Controller{arbiter: arbiter}
}

// Acquire requests focus and registers the handler for preemption events.
// Returns false when the platform refuses the request.
func (c *Controller) Acquire(h Handler) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.grant != nil {
		// Already held; re-point the handler at the new session.
		c.handler = h
		return true
	}

	grant, ok := c.arbiter.Request(c.dispatch)
	if !ok {
		slog.Warn("audio focus request denied")
		return false
	}

	c.grant = grant
	c.handler = h
	slog.Debug("audio focus acquired")
	return true
}

// Release abandons focus. Idempotent; must always run during cleanup,
// including error paths.
func (c *Controller) Release() {
	c.mu.Lock()
	grant := c.grant
	c.grant = nil
	c.handler = nil
	c.mu.Unlock()

	if grant != nil {
		grant.Release()
		slog.Debug("audio focus released")
	}
}

// Held reports whether focus is currently held.
func (c *Controller) Held() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.grant != nil
}

// dispatch maps an arbiter event onto the registered handler. It runs on
// whatever goroutine the platform delivers events from.
func (c *Controller) dispatch(ev Event) {
	c.mu.Lock()
	h := c.handler
	if ev == Loss {
		// Ownership is gone; drop the grant so Release becomes a no-op.
		c.grant = nil
		c.handler = nil
	}
	c.mu.Unlock()

	if h == nil {
		return
	}

	slog.Info("audio focus event", "event", ev.String())
	switch ev {
	case Loss:
		h.OnFocusLoss()
	case TransientLoss:
		h.OnFocusTransientLoss()
	case Gain:
		h.OnFocusGain()
	}
}
