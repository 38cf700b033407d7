package capture

import (
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavecap/wavecap/internal/config"
	"github.com/wavecap/wavecap/internal/dsp"
)

// fakeDevice replays scripted buffers. Once the script is exhausted, Read
// blocks until Close, mirroring a microphone with no data pending.
type fakeDevice struct {
	mu      sync.Mutex
	script  [][]int16
	readErr error // returned after the script is exhausted, instead of blocking
	idx     int
	closed  chan struct{}
	opens   int
}

func newFakeDevice(script ...[]int16) *fakeDevice {
	return &fakeDevice{script: script}
}

func (d *fakeDevice) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens++
	d.idx = 0
	d.closed = make(chan struct{})
	return nil
}

func (d *fakeDevice) Read(buf []int16) (int, error) {
	d.mu.Lock()
	if d.idx < len(d.script) {
		chunk := d.script[d.idx]
		d.idx++
		d.mu.Unlock()
		return copy(buf, chunk), nil
	}
	err := d.readErr
	closed := d.closed
	d.mu.Unlock()

	if err != nil {
		return 0, err
	}
	<-closed
	return 0, io.EOF
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	select {
	case <-d.closed:
	default:
		close(d.closed)
	}
	return nil
}

// toneBuffers produces n buffers of bufSize samples at the given amplitude.
func toneBuffers(n, bufSize int, amplitude float64) [][]int16 {
	out := make([][]int16, n)
	for i := range out {
		buf := make([]int16, bufSize)
		for j := range buf {
			buf[j] = int16(amplitude * 32767 * math.Sin(2*math.Pi*float64(j)/64))
		}
		out[i] = buf
	}
	return out
}

func testConstraints() config.Constraints {
	c := config.DefaultConstraints()
	c.BufferSize = 1000
	return c
}

func rawEngine(c config.Constraints, dev InputDevice, cb Callbacks) *Engine {
	return NewEngine(c, dev, dsp.NewProcessor(dsp.PresetOptions(dsp.PresetRaw, c.SampleRate)), cb)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestEngineFiveSecondCapture(t *testing.T) {
	c := testConstraints()
	// 80 buffers of 1000 samples at 16 kHz = exactly 5 seconds.
	dev := newFakeDevice(toneBuffers(80, c.BufferSize, 0.4)...)
	e := rawEngine(c, dev, Callbacks{})

	path := filepath.Join(t.TempDir(), "session.wav")
	require.NoError(t, e.Start(path, "sess-1"))
	assert.True(t, e.IsCapturing())

	waitFor(t, func() bool { return e.Stats().FileSize >= int64(80*c.BufferSize*2) })

	file, err := e.Stop()
	require.NoError(t, err)
	require.NotNil(t, file)

	assert.Equal(t, int64(5000), file.DurationMs)
	assert.Positive(t, file.SizeBytes)
	assert.Equal(t, "sess-1", file.SessionID)
	assert.Equal(t, path, file.Path)
	assert.FileExists(t, path)
	assert.False(t, e.IsCapturing())
}

func TestEngineStartTwiceFails(t *testing.T) {
	c := testConstraints()
	e := rawEngine(c, newFakeDevice(), Callbacks{})

	dir := t.TempDir()
	require.NoError(t, e.Start(filepath.Join(dir, "a.wav"), "s1"))
	defer e.Cancel()

	err := e.Start(filepath.Join(dir, "b.wav"), "s2")
	assert.ErrorIs(t, err, ErrAlreadyCapturing)
}

func TestEngineStopWithoutStart(t *testing.T) {
	e := rawEngine(testConstraints(), newFakeDevice(), Callbacks{})
	_, err := e.Stop()
	assert.ErrorIs(t, err, ErrNotCapturing)
}

func TestEngineCancelDiscardsOutput(t *testing.T) {
	c := testConstraints()
	dev := newFakeDevice(toneBuffers(10, c.BufferSize, 0.3)...)
	e := rawEngine(c, dev, Callbacks{})

	path := filepath.Join(t.TempDir(), "cancelled.wav")
	require.NoError(t, e.Start(path, "s1"))
	waitFor(t, func() bool { return e.Stats().FileSize > 0 })

	e.Cancel()

	assert.False(t, e.IsCapturing())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestEngineSizeLimitStopsAndFinalizes(t *testing.T) {
	c := testConstraints()
	c.MaxFileSizeBytes = 40000 // cutoff at 38000 bytes, 19 buffers
	dev := newFakeDevice(toneBuffers(25, c.BufferSize, 0.3)...)

	var limitHit atomic.Bool
	e := rawEngine(c, dev, Callbacks{
		OnSizeLimit: func() { limitHit.Store(true) },
	})

	path := filepath.Join(t.TempDir(), "limited.wav")
	require.NoError(t, e.Start(path, "s1"))

	waitFor(t, limitHit.Load)

	file, err := e.Stop()
	require.NoError(t, err)
	require.NotNil(t, file)

	assert.Positive(t, file.SizeBytes)
	assert.Less(t, file.SizeBytes, c.MaxFileSizeBytes)
	assert.GreaterOrEqual(t, file.SizeBytes, c.SizeCutoffBytes())
	assert.FileExists(t, path)
}

func TestEngineReadErrorRaisesCallback(t *testing.T) {
	c := testConstraints()
	dev := newFakeDevice(toneBuffers(2, c.BufferSize, 0.3)...)
	dev.readErr = errors.New("device gone")

	errCh := make(chan error, 1)
	e := rawEngine(c, dev, Callbacks{
		OnError: func(err error) { errCh <- err },
	})

	require.NoError(t, e.Start(filepath.Join(t.TempDir(), "err.wav"), "s1"))

	select {
	case err := <-errCh:
		assert.ErrorContains(t, err, "device gone")
	case <-time.After(2 * time.Second):
		t.Fatal("error callback not invoked")
	}

	e.Cancel()
}

func TestEnginePauseSkipsReads(t *testing.T) {
	c := testConstraints()
	dev := newFakeDevice(toneBuffers(200, c.BufferSize, 0.3)...)
	e := rawEngine(c, dev, Callbacks{})

	require.NoError(t, e.Start(filepath.Join(t.TempDir(), "p.wav"), "s1"))
	waitFor(t, func() bool { return e.Stats().FileSize > 0 })

	e.Pause()
	assert.Equal(t, EnginePaused, e.State())
	assert.True(t, e.IsCapturing())

	// Let any in-flight read drain before sampling the counter.
	time.Sleep(10 * time.Millisecond)
	size := e.Stats().FileSize
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, size, e.Stats().FileSize)

	e.Resume()
	assert.Equal(t, EngineActive, e.State())
	waitFor(t, func() bool { return e.Stats().FileSize > size })

	e.Cancel()
}

func TestEngineMetricsSnapshot(t *testing.T) {
	c := testConstraints()
	dev := newFakeDevice(toneBuffers(5, c.BufferSize, 0.4)...)
	e := rawEngine(c, dev, Callbacks{})

	assert.Equal(t, 0.0, e.Metrics().RMSLevel)

	require.NoError(t, e.Start(filepath.Join(t.TempDir(), "m.wav"), "s1"))
	waitFor(t, func() bool { return e.Metrics().RMSLevel > 0 })

	m := e.Metrics()
	assert.False(t, m.IsSilent)
	assert.Greater(t, m.QualityScore, 0.0)

	e.Cancel()
}

func TestEngineReusableAcrossSessions(t *testing.T) {
	c := testConstraints()
	dev := newFakeDevice(toneBuffers(4, c.BufferSize, 0.3)...)
	e := rawEngine(c, dev, Callbacks{})
	dir := t.TempDir()

	require.NoError(t, e.Start(filepath.Join(dir, "one.wav"), "s1"))
	waitFor(t, func() bool { return e.Stats().FileSize > 0 })
	_, err := e.Stop()
	require.NoError(t, err)

	// Second session reopens the same device.
	dev.mu.Lock()
	dev.script = toneBuffers(4, c.BufferSize, 0.3)
	dev.mu.Unlock()

	require.NoError(t, e.Start(filepath.Join(dir, "two.wav"), "s2"))
	waitFor(t, func() bool { return e.Stats().FileSize > 0 })
	file, err := e.Stop()
	require.NoError(t, err)
	assert.Equal(t, "s2", file.SessionID)
	assert.Equal(t, 2, dev.opens)
}
