//go:build windows

package process

import (
	"os"
)

// terminate asks the process to exit. Windows has no SIGTERM, so the
// process is killed outright.
func terminate(p *os.Process) error {
	return p.Kill()
}

// signalName is always empty on Windows.
func signalName(_ *os.ProcessState) string {
	return ""
}
