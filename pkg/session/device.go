package session

import (
	"errors"
	"fmt"
)

// ErrNoDevice is returned when enumeration finds no device matching the
// request and no default to fall back to.
var ErrNoDevice = errors.New("session: no capture device available")

// Position is where a camera faces on the host hardware.
type Position int

const (
	PositionUnspecified Position = iota
	PositionBack
	PositionFront
)

func (p Position) String() string {
	switch p {
	case PositionBack:
		return "back"
	case PositionFront:
		return "front"
	default:
		return "unspecified"
	}
}

// Preset names a capture quality tier. Presets map to concrete stream
// geometry via Dimensions.
type Preset int

const (
	PresetLow Preset = iota
	PresetMedium
	PresetHigh
	PresetPhoto
)

// Dimensions returns the capture extent for the preset.
func (p Preset) Dimensions() (width, height int) {
	switch p {
	case PresetLow:
		return 192, 144
	case PresetMedium:
		return 480, 360
	case PresetPhoto:
		return 2048, 1536
	default:
		return 640, 480
	}
}

func (p Preset) String() string {
	switch p {
	case PresetLow:
		return "low"
	case PresetMedium:
		return "medium"
	case PresetHigh:
		return "high"
	case PresetPhoto:
		return "photo"
	default:
		return fmt.Sprintf("preset(%d)", int(p))
	}
}

// StreamConfig is the geometry and format a video stream is opened with.
type StreamConfig struct {
	Width     int
	Height    int
	Framerate int
	Format    PixelFormat
}

// Device is a capture device discovered by a backend.
type Device interface {
	ID() string
	Name() string
	Position() Position

	// SupportsFullRange reports whether the device can deliver
	// full-range pixel buffers. It decides which conversion variant a
	// consumer builds.
	SupportsFullRange() bool

	// OpenVideo opens the device's video stream with the given
	// configuration. The stream delivers nothing until Start.
	OpenVideo(cfg StreamConfig) (VideoStream, error)
}

// VideoStream is an open device video stream. Start begins delivery of
// frames to the sink on a stream-owned goroutine; the sink must not be
// called after Stop returns.
type VideoStream interface {
	Start(sink func(*VideoBuffer)) error
	Stop()
}

// AudioCapable is implemented by devices that also capture audio.
type AudioCapable interface {
	OpenAudio() (AudioStream, error)
}

// AudioStream delivers PCM blocks to a sink, same contract as VideoStream.
type AudioStream interface {
	Start(sink func(*AudioBuffer)) error
	Stop()
}

// MetadataCapable is implemented by devices that can emit detected
// metadata objects alongside video.
type MetadataCapable interface {
	// AvailableMetadataTypes lists the detection types the device can
	// produce. A stream only ever delivers a subset of these.
	AvailableMetadataTypes() []MetadataType

	// OpenMetadata opens a detection stream limited to the given types.
	// Types the device does not support are ignored by the caller's
	// intersection; passing one anyway is an error.
	OpenMetadata(types []MetadataType) (MetadataStream, error)
}

// MetadataStream delivers batches of detected objects to a sink.
type MetadataStream interface {
	Start(sink func([]MetadataObject)) error
	Stop()
}

// Backend enumerates capture devices. Exactly one backend is active per
// build: the synthetic backend by default, gocv when built with the gocv
// tag.
type Backend interface {
	Name() string
	Devices() ([]Device, error)
}

var activeBackend Backend = newSyntheticBackend()

// RegisterBackend replaces the active device backend. Called from backend
// init functions and from tests.
func RegisterBackend(b Backend) {
	activeBackend = b
}

// Devices lists devices from the active backend.
func Devices() ([]Device, error) {
	return activeBackend.Devices()
}

// DefaultDevice returns the backend's first device.
func DefaultDevice() (Device, error) {
	devs, err := activeBackend.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	if len(devs) == 0 {
		return nil, ErrNoDevice
	}
	return devs[0], nil
}

// DeviceWithPosition returns the first device facing pos, falling back to
// the default device when no device matches. ErrNoDevice when the backend
// has no devices at all.
func DeviceWithPosition(pos Position) (Device, error) {
	devs, err := activeBackend.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	for _, d := range devs {
		if d.Position() == pos {
			return d, nil
		}
	}
	if len(devs) == 0 {
		return nil, ErrNoDevice
	}
	return devs[0], nil
}
