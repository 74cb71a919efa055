//go:build !unix

package gc

// ProcessFDUsage is not supported on this platform.
func ProcessFDUsage() (used, limit int, ok bool) {
	return 0, 0, false
}
