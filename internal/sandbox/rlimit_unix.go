//go:build linux || darwin

package sandbox

import "golang.org/x/sys/unix"

// applyLimits lowers RLIMIT_AS, RLIMIT_CPU and RLIMIT_NOFILE. RLIMIT_NPROC is
// per-user and the Go runtime's threads count against it, so it is left alone.
func applyLimits(l Limits) (bool, error) {
	if l.MemoryMB > 0 {
		if err := lower(unix.RLIMIT_AS, uint64(l.MemoryMB)<<20); err != nil {
			return false, err
		}
	}
	if l.CPUSeconds > 0 {
		if err := lower(unix.RLIMIT_CPU, uint64(l.CPUSeconds)); err != nil {
			return false, err
		}
	}
	if l.MaxOpenFiles > 0 {
		if err := lower(unix.RLIMIT_NOFILE, uint64(l.MaxOpenFiles)); err != nil {
			return false, err
		}
	}
	return true, nil
}

func lower(resource int, value uint64) error {
	var cur unix.Rlimit
	if err := unix.Getrlimit(resource, &cur); err != nil {
		return err
	}
	if value > cur.Max {
		value = cur.Max
	}
	return unix.Setrlimit(resource, &unix.Rlimit{Cur: value, Max: value})
}
