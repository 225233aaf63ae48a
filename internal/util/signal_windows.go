//go:build windows

package util

import "os"

// ShutdownSignals returns the signals to listen for graceful shutdown.
func ShutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// GracefulSignal kills the process; Windows has no portable termination signal.
func GracefulSignal(p *os.Process) error {
	return p.Kill()
}
