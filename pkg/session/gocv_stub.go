//go:build !gocv

package session

// WebcamAvailable reports whether the binary was built with OpenCV
// camera support.
func WebcamAvailable() bool { return false }
