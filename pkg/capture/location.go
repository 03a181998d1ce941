package capture

import (
	"fmt"

	"github.com/video-system/go-gpu-capture/pkg/gpu"
	"github.com/video-system/go-gpu-capture/pkg/session"
)

// CameraLocation is which physical camera a source captures from. It is
// fixed at construction; switching cameras means building a new source.
type CameraLocation int

const (
	LocationBack CameraLocation = iota
	LocationFront
)

func (l CameraLocation) String() string {
	switch l {
	case LocationBack:
		return "back"
	case LocationFront:
		return "front"
	default:
		return fmt.Sprintf("location(%d)", int(l))
	}
}

// ParseLocation parses a config-file location value.
func ParseLocation(s string) (CameraLocation, error) {
	switch s {
	case "back", "":
		return LocationBack, nil
	case "front":
		return LocationFront, nil
	default:
		return LocationBack, fmt.Errorf("unknown camera location %q", s)
	}
}

// Orientation returns the physical sensor orientation of frames captured
// at this location: back sensors are mounted landscape-right, front
// sensors landscape-left. Defined for every location.
func (l CameraLocation) Orientation() gpu.Orientation {
	if l == LocationFront {
		return gpu.OrientationLandscapeLeft
	}
	return gpu.OrientationLandscapeRight
}

// position maps the location to the device-enumeration position key.
func (l CameraLocation) position() session.Position {
	if l == LocationFront {
		return session.PositionFront
	}
	return session.PositionBack
}
