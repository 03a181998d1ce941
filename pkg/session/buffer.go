package session

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// PixelFormat identifies the plane layout and sample range of captured
// video. The bi-planar formats are 4:2:0: a full-resolution luma plane
// and a half-resolution interleaved CbCr plane. The packed format carries
// one full-resolution RGBA plane and needs no color conversion.
type PixelFormat int

const (
	// PixelFormatBiPlanarVideoRange carries video-range samples
	// (16-235 luma, 16-240 chroma).
	PixelFormatBiPlanarVideoRange PixelFormat = iota

	// PixelFormatBiPlanarFullRange carries full-range samples (0-255).
	PixelFormatBiPlanarFullRange

	// PixelFormatPackedRGBA carries interleaved 8-bit RGBA.
	PixelFormatPackedRGBA
)

// FullRange reports whether samples use the full 0-255 range.
func (f PixelFormat) FullRange() bool {
	return f == PixelFormatBiPlanarFullRange || f == PixelFormatPackedRGBA
}

// Packed reports whether the format is single-plane RGBA rather than
// planar YUV.
func (f PixelFormat) Packed() bool {
	return f == PixelFormatPackedRGBA
}

func (f PixelFormat) String() string {
	switch f {
	case PixelFormatBiPlanarVideoRange:
		return "420v"
	case PixelFormatBiPlanarFullRange:
		return "420f"
	case PixelFormatPackedRGBA:
		return "rgba"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// VideoBuffer is one captured frame as delivered by a device stream: two
// planes plus geometry and a presentation timestamp.
//
// Buffers are reference counted. The stream delivers each buffer with one
// reference held for the receiver; holders that keep the buffer past the
// callback take their own Retain. The final Release returns the planes to
// the producing backend.
type VideoBuffer struct {
	Width  int
	Height int
	Format PixelFormat

	// Luma is the full-resolution Y plane, LumaStride bytes per row.
	// Empty for packed formats.
	Luma       []byte
	LumaStride int

	// Chroma is the half-resolution interleaved CbCr plane,
	// ChromaStride bytes per row. Empty for packed formats.
	Chroma       []byte
	ChromaStride int

	// Pixels is the interleaved RGBA plane, PixelsStride bytes per row.
	// Set only for PixelFormatPackedRGBA.
	Pixels       []byte
	PixelsStride int

	// PTS is the presentation timestamp on the device clock.
	PTS time.Duration

	refs    atomic.Int32
	recycle func(*VideoBuffer)
}

// NewVideoBuffer wraps plane data in a buffer holding one reference.
// recycle, if non-nil, runs when the last reference is released.
func NewVideoBuffer(width, height int, format PixelFormat, recycle func(*VideoBuffer)) *VideoBuffer {
	b := &VideoBuffer{
		Width:   width,
		Height:  height,
		Format:  format,
		recycle: recycle,
	}
	b.refs.Store(1)
	return b
}

// Retain takes an additional reference.
func (b *VideoBuffer) Retain() {
	b.refs.Add(1)
}

// Release drops a reference. The last release recycles the planes;
// releasing more times than retained is a bug and panics.
func (b *VideoBuffer) Release() {
	n := b.refs.Add(-1)
	if n < 0 {
		panic("session: video buffer released more times than retained")
	}
	if n == 0 && b.recycle != nil {
		b.recycle(b)
	}
}

// AudioBuffer is one block of captured PCM audio.
type AudioBuffer struct {
	// TraceID correlates the buffer across delivery stages in logs.
	TraceID uuid.UUID

	SampleRate int
	Channels   int

	// PCM holds interleaved signed 16-bit little-endian samples.
	PCM []byte

	PTS time.Duration
}

// MetadataType names a class of detected metadata object.
type MetadataType string

const (
	MetadataTypeFace    MetadataType = "face"
	MetadataTypeQRCode  MetadataType = "qr"
	MetadataTypeBarcode MetadataType = "barcode"
)

// MetadataObject is one detected object in a frame.
type MetadataObject struct {
	TraceID uuid.UUID
	Type    MetadataType

	// Bounds is the detection rectangle in normalized [0,1] frame
	// coordinates.
	Bounds Rect

	PTS time.Duration
}

// Rect is a normalized rectangle.
type Rect struct {
	X, Y, W, H float64
}
