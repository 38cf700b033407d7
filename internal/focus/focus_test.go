package focus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	events []string
}

func (h *recordingHandler) OnFocusLoss()          { h.events = append(h.events, "loss") }
func (h *recordingHandler) OnFocusTransientLoss() { h.events = append(h.events, "transient_loss") }
func (h *recordingHandler) OnFocusGain()          { h.events = append(h.events, "gain") }

func TestControllerAcquireRelease(t *testing.T) {
	a := NewInProcessArbiter()
	c := NewController(a)

	require.True(t, c.Acquire(&recordingHandler{}))
	assert.True(t, c.Held())

	c.Release()
	assert.False(t, c.Held())

	// Release is idempotent.
	c.Release()
	assert.False(t, c.Held())
}

func TestControllerTransientLossAndGain(t *testing.T) {
	a := NewInProcessArbiter()
	c := NewController(a)
	h := &recordingHandler{}

	require.True(t, c.Acquire(h))

	a.BeginTransient()
	a.EndTransient()

	assert.Equal(t, []string{"transient_loss", "gain"}, h.events)
	assert.True(t, c.Held(), "transient loss keeps the grant")
}

func TestControllerPermanentLossDropsGrant(t *testing.T) {
	a := NewInProcessArbiter()
	c := NewController(a)
	h := &recordingHandler{}

	require.True(t, c.Acquire(h))

	// A competing consumer wins the device.
	other := &recordingHandler{}
	c2 := NewController(a)
	require.True(t, c2.Acquire(other))

	assert.Equal(t, []string{"loss"}, h.events)
	assert.False(t, c.Held())
	assert.Empty(t, other.events)

	// Releasing after loss is a harmless no-op that must not disturb the
	// new holder.
	c.Release()
	a.BeginTransient()
	assert.Equal(t, []string{"transient_loss"}, other.events)
}

func TestGrantReleaseOnlyClearsCurrentHolder(t *testing.T) {
	a := NewInProcessArbiter()

	g1, ok := a.Request(func(Event) {})
	require.True(t, ok)

	var got []Event
	_, ok = a.Request(func(e Event) { got = append(got, e) })
	require.True(t, ok)

	// Stale grant release must not evict the new holder.
	g1.Release()
	a.BeginTransient()
	assert.Equal(t, []Event{TransientLoss}, got)
}

func TestEventString(t *testing.T) {
	assert.Equal(t, "loss", Loss.String())
	assert.Equal(t, "transient_loss", TransientLoss.String())
	assert.Equal(t, "gain", Gain.String())
}
