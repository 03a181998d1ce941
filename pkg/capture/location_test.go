package capture

import (
	"testing"

	"github.com/video-system/go-gpu-capture/pkg/gpu"
	"github.com/video-system/go-gpu-capture/pkg/session"
)

func TestLocationOrientationPolicy(t *testing.T) {
	// The mapping is total: every location has exactly one orientation.
	if got := LocationBack.Orientation(); got != gpu.OrientationLandscapeRight {
		t.Errorf("back camera orientation = %v, want landscape-right", got)
	}
	if got := LocationFront.Orientation(); got != gpu.OrientationLandscapeLeft {
		t.Errorf("front camera orientation = %v, want landscape-left", got)
	}
}

func TestLocationPositionKeys(t *testing.T) {
	if got := LocationBack.position(); got != session.PositionBack {
		t.Errorf("back position = %v", got)
	}
	if got := LocationFront.position(); got != session.PositionFront {
		t.Errorf("front position = %v", got)
	}
}

func TestParseLocation(t *testing.T) {
	cases := []struct {
		in      string
		want    CameraLocation
		wantErr bool
	}{
		{"back", LocationBack, false},
		{"front", LocationFront, false},
		{"", LocationBack, false},
		{"sideways", LocationBack, true},
	}
	for _, tc := range cases {
		got, err := ParseLocation(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseLocation(%q) error = %v", tc.in, err)
			continue
		}
		if !tc.wantErr && got != tc.want {
			t.Errorf("ParseLocation(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
