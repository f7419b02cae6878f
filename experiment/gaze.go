// ABOUTME: Circular gaze-window containment shared by fixation and target acquisition.
package experiment

import "math"

// CheckGaze reports whether gaze lies strictly within radius of point.
// A non-finite sample is never inside any window.
func CheckGaze(gaze, point Point, radius float64) bool {
	if !gaze.Finite() {
		return false
	}
	return math.Hypot(gaze.X-point.X, gaze.Y-point.Y) < radius
}
