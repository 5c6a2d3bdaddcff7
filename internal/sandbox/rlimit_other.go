//go:build !linux && !darwin

package sandbox

// applyLimits cannot lower resource limits on this platform.
func applyLimits(Limits) (bool, error) {
	return false, nil
}
