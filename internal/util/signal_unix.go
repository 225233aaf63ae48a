//go:build !windows

package util

import (
	"os"
	"syscall"
)

// ShutdownSignals returns the signals to listen for graceful shutdown.
func ShutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// GracefulSignal asks a capture process to exit so it can flush and release the device.
func GracefulSignal(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}
