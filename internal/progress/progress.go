// Package progress implements the monotonic progress-clamping rule shared by
// the Worker Pool and Tool Handlers: pct must be monotonically
// non-decreasing within a task attempt, so the envelope clamps regressions.
package progress

// Clamp bounds pct to [0,100] and then to be >= last, so a handler's
// regression or out-of-range report never reaches the Task Store or bus.
func Clamp(last, pct int) int {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	if pct < last {
		return last
	}
	return pct
}

// Rescale maps a provider-reported percentage p (itself in [0,100]) into the
// sub-range [lo,hi] of the task's own progress, for long provider polls
// (e.g. 3-D generation occupies 20..80 of the task's range).
func Rescale(p, lo, hi int) int {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return lo + (hi-lo)*p/100
}
