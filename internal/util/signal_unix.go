//go:build !windows

package util

import (
	"os"
	"syscall"
)

// ShutdownSignals lists the signals that trigger a clean service shutdown.
func ShutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// GracefulSignal asks the capture child to wind down on its own; ffmpeg
// flushes its pipes and exits on SIGINT.
func GracefulSignal(p *os.Process) error {
	return p.Signal(syscall.SIGINT)
}
