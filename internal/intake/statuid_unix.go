//go:build unix

package intake

import (
	"os"
	"syscall"
)

// statUID extracts the owning uid from a /proc/PID stat result. PID
// directories are owned by the process's euid, which is what we want for
// uid->profile binding.
func statUID(info os.FileInfo) int {
	sys, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0
	}
	return int(sys.Uid)
}
