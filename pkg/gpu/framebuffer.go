package gpu

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Orientation describes how image content is rotated relative to the
// portrait reference frame.
type Orientation int

const (
	OrientationPortrait Orientation = iota
	OrientationPortraitUpsideDown
	OrientationLandscapeLeft
	OrientationLandscapeRight
)

func (o Orientation) String() string {
	switch o {
	case OrientationPortrait:
		return "portrait"
	case OrientationPortraitUpsideDown:
		return "portrait-upside-down"
	case OrientationLandscapeLeft:
		return "landscape-left"
	case OrientationLandscapeRight:
		return "landscape-right"
	default:
		return fmt.Sprintf("orientation(%d)", int(o))
	}
}

// Size is a texture extent in pixels.
type Size struct {
	Width  int
	Height int
}

// Half returns the chroma-plane extent for 4:2:0 subsampled content,
// rounding up for odd dimensions.
func (s Size) Half() Size {
	return Size{Width: (s.Width + 1) / 2, Height: (s.Height + 1) / 2}
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// TimingKind classifies a framebuffer's timing tag.
type TimingKind int

const (
	// TimingNone marks a framebuffer with no timing information (still
	// images, intermediate render targets).
	TimingNone TimingKind = iota

	// TimingVideoFrame marks a framebuffer as one frame of a live video
	// stream with a presentation timestamp.
	TimingVideoFrame
)

// Timing is the timing tag carried by a published framebuffer. Exactly one
// owner stamps the tag per publication, after the texture contents are
// fully written.
type Timing struct {
	Kind TimingKind
	PTS  time.Duration
}

// VideoFrameTiming returns a video-frame tag at the given presentation
// timestamp.
func VideoFrameTiming(pts time.Duration) Timing {
	return Timing{Kind: TimingVideoFrame, PTS: pts}
}

// Framebuffer is one GPU-resident image: a texture plus the size,
// orientation and usage it was allocated with, and a timing tag set at
// publication.
//
// Pool-owned framebuffers follow a lock protocol: Lock before use, Unlock
// when done; the last Unlock returns the buffer to its pool. Publishing a
// frame hands each consumer a shared reference, so consumers that retain
// the frame must take their own Lock before the publisher drops its hold.
type Framebuffer struct {
	size        Size
	orientation Orientation
	textureOnly bool
	format      gputypes.TextureFormat

	texture hal.Texture
	view    hal.TextureView

	timing Timing

	pool *FramebufferPool
	refs atomic.Int32
}

// Size returns the allocation extent in pixels.
func (f *Framebuffer) Size() Size { return f.size }

// Orientation returns the orientation the buffer was allocated with.
func (f *Framebuffer) Orientation() Orientation { return f.orientation }

// TextureOnly reports whether the buffer was allocated for sampling only.
// Buffers that are conversion-pass targets are allocated renderable.
func (f *Framebuffer) TextureOnly() bool { return f.textureOnly }

// Format returns the texture format.
func (f *Framebuffer) Format() gputypes.TextureFormat { return f.format }

// Texture returns the underlying GPU texture.
func (f *Framebuffer) Texture() hal.Texture { return f.texture }

// View returns the default texture view.
func (f *Framebuffer) View() hal.TextureView { return f.view }

// Timing returns the timing tag.
func (f *Framebuffer) Timing() Timing { return f.timing }

// SetTiming stamps the timing tag. Must happen after the texture contents
// are fully written and before the frame is offered to consumers.
func (f *Framebuffer) SetTiming(t Timing) { f.timing = t }

// Lock takes a reference on the framebuffer. Every holder must pair it
// with exactly one Unlock.
func (f *Framebuffer) Lock() {
	f.refs.Add(1)
}

// Unlock drops a reference. When the last reference is dropped the buffer
// returns to its pool for reuse. Releasing a buffer the GPU is still
// reading from is a correctness bug; callers release only after the work
// that reads it has been enqueued on the serialized context.
func (f *Framebuffer) Unlock() {
	n := f.refs.Add(-1)
	if n < 0 {
		panic("gpu: framebuffer unlocked more times than locked")
	}
	if n == 0 && f.pool != nil {
		f.pool.put(f)
	}
}

// Upload writes packed pixel rows into the texture. bytesPerRow is the
// source stride in bytes. Must be called from the context run loop.
func (f *Framebuffer) Upload(queue hal.Queue, data []byte, bytesPerRow int) {
	queue.WriteTexture(
		&hal.ImageCopyTexture{
			Texture:  f.texture,
			MipLevel: 0,
		},
		data,
		&hal.ImageDataLayout{
			Offset:       0,
			BytesPerRow:  uint32(bytesPerRow),
			RowsPerImage: uint32(f.size.Height),
		},
		&hal.Extent3D{
			Width:              uint32(f.size.Width),
			Height:             uint32(f.size.Height),
			DepthOrArrayLayers: 1,
		},
	)
}

func (f *Framebuffer) destroy(device hal.Device) {
	if f.view != nil {
		device.DestroyTextureView(f.view)
		f.view = nil
	}
	if f.texture != nil {
		device.DestroyTexture(f.texture)
		f.texture = nil
	}
}
