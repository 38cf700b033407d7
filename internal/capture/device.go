// Package capture owns the platform audio input and the dedicated capture
// loop that turns device reads into analyzed, bounded PCM sessions.
package capture

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/wavecap/wavecap/internal/util"
)

// closeGracePeriod is how long Close waits for the capture command to
// exit on its own before killing it.
const closeGracePeriod = 500 * time.Millisecond

// ErrNoAudioDevice is returned when no audio input device is available.
var ErrNoAudioDevice = errors.New("no audio input device found")

// InputDevice is one pull-based audio source. Implementations deliver
// signed 16-bit mono samples at the session sample rate. The capture loop
// is the only caller of Read.
type InputDevice interface {
	// Open prepares the device for reading.
	Open() error
	// Read fills buf with samples and returns the count read.
	Read(buf []int16) (int, error)
	// Close releases the device. Safe to call more than once.
	Close() error
}

// CaptureConfig defines platform-specific audio capture configuration.
type CaptureConfig struct {
	// Command is the executable name (e.g., "arecord", "ffmpeg").
	Command string

	// DefaultDevice is used when no device is configured.
	DefaultDevice string

	// BuildArgs returns the command arguments for mono capture at the
	// given sample rate from the identified device.
	BuildArgs func(device string, sampleRate int) []string
}

// BuildCaptureCommand returns the command and arguments for audio capture.
// If device is empty, it attempts to use the default or auto-detect.
func BuildCaptureCommand(device string, sampleRate int) (cmd string, args []string, err error) {
	cfg := getPlatformConfig()

	if device == "" {
		device = cfg.DefaultDevice
	}

	// Auto-detect if still empty (Windows has no safe default).
	if device == "" {
		devices := Devices()
		if len(devices) == 0 {
			return "", nil, ErrNoAudioDevice
		}
		device = devices[0].ID
	}

	return cfg.Command, cfg.BuildArgs(device, sampleRate), nil
}

// CommandDevice reads S16LE PCM from a platform capture command's stdout
// pipe (arecord on Linux, ffmpeg elsewhere).
type CommandDevice struct {
	device     string
	sampleRate int

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
	raw    []byte // scratch byte buffer reused across reads
}

// NewCommandDevice creates a device backed by the platform capture command.
// An empty device identifier selects the platform default.
func NewCommandDevice(device string, sampleRate int) *CommandDevice {
	return &CommandDevice{device: device, sampleRate: sampleRate}
}

// Open starts the capture process.
func (d *CommandDevice) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cmd != nil {
		return errors.New("capture device already open")
	}

	name, args, err := BuildCaptureCommand(d.device, d.sampleRate)
	if err != nil {
		return err
	}

	cmd := exec.Command(name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}

	d.cmd = cmd
	d.stdout = stdout
	d.stderr = stderr
	return nil
}

// Read fills buf with samples decoded from the capture pipe.
func (d *CommandDevice) Read(buf []int16) (int, error) {
	d.mu.Lock()
	stdout := d.stdout
	d.mu.Unlock()

	if stdout == nil {
		return 0, errors.New("capture device not open")
	}

	need := len(buf) * 2
	if cap(d.raw) < need {
		d.raw = make([]byte, need)
	}
	raw := d.raw[:need]

	n, err := io.ReadFull(stdout, raw)
	samples := n / 2
	for i := 0; i < samples; i++ {
		buf[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}

	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return samples, err
	}
	return samples, nil
}

// Close stops the capture process. Idempotent.
func (d *CommandDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cmd == nil {
		return nil
	}

	if d.stdout != nil {
		_ = d.stdout.Close()
	}

	// Ask the command to stop cleanly, then kill after the grace period
	// so teardown latency stays bounded.
	var err error
	done := make(chan error, 1)
	go func() { done <- d.cmd.Wait() }()
	if d.cmd.Process != nil {
		_ = util.GracefulSignal(d.cmd.Process)
	}
	select {
	case err = <-done:
	case <-time.After(closeGracePeriod):
		if d.cmd.Process != nil {
			_ = d.cmd.Process.Kill()
		}
		err = <-done
	}

	stderr := ""
	if d.stderr != nil {
		stderr = util.ExtractLastError(d.stderr.String())
	}
	d.cmd = nil
	d.stdout = nil
	d.stderr = nil

	// Signal-induced exits are expected; only surface real failures.
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		if stderr != "" {
			return fmt.Errorf("%w: %s", err, stderr)
		}
		return err
	}
	return nil
}
