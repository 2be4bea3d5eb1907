//go:build !windows

package mux

import (
	"os/exec"
	"syscall"
)

// setSysProcAttr puts tmux CLI invocations in their own process group on
// Unix, forcing fork+exec instead of posix_spawn, which avoids EINVAL
// edge cases some platforms hit when the parent's process state is unusual.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
