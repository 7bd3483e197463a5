//go:build windows

package worker

import "os"

// terminate kills the worker; Windows has no SIGTERM equivalent for
// console processes started without a console group.
func terminate(p *os.Process) error {
	return p.Kill()
}
