//go:build unix

package gc

import (
	"math"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

// ProcessFDUsage reports the number of open descriptors and the soft
// RLIMIT_NOFILE of the current process.
func ProcessFDUsage() (used, limit int, ok bool) {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		return 0, 0, false
	}
	// An unlimited or absurd limit leaves nothing to budget against.
	if rl.Cur == 0 || rl.Cur > math.MaxInt32 {
		return 0, 0, false
	}
	limit = int(rl.Cur)

	dir := "/proc/self/fd"
	if runtime.GOOS != "linux" {
		dir = "/dev/fd"
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, limit, false
	}
	// The directory handle used for reading is listed too.
	return len(entries) - 1, limit, true
}
