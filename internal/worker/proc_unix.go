//go:build !windows

package worker

import (
	"os"
	"syscall"
)

// terminate asks the worker to exit. Workers that ignore SIGTERM are killed
// once the kill grace elapses.
func terminate(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}
