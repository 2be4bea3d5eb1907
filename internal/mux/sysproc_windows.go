//go:build windows

package mux

import (
	"os/exec"
	"syscall"
)

// setSysProcAttr is a no-op on Windows: Setpgid has no equivalent there.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{}
}
