package capture

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/google/uuid"

	"github.com/video-system/go-gpu-capture/pkg/gpu"
	"github.com/video-system/go-gpu-capture/pkg/session"
)

var (
	// ErrSourceClosed is returned by operations on a closed source.
	ErrSourceClosed = errors.New("capture: source closed")

	// ErrNoMetadataSupport is returned when attaching a metadata target
	// to a device that cannot emit metadata. The source keeps working;
	// the caller may retry with another target or none.
	ErrNoMetadataSupport = errors.New("capture: device has no metadata support")

	// ErrNoAudioSupport is the audio-side equivalent of
	// ErrNoMetadataSupport.
	ErrNoAudioSupport = errors.New("capture: device has no audio support")
)

// Options configures a capture source.
type Options struct {
	// ID names the source in logs and stats.
	ID string

	// Location picks the camera. Fixed for the source's lifetime.
	Location CameraLocation

	// Preset selects capture geometry.
	Preset session.Preset

	// Framerate in frames per second; 30 when zero.
	Framerate int

	// DeviceID, when set, overrides position-based device selection.
	DeviceID string

	// RGBA captures packed RGBA instead of planar YUV. Packed frames
	// skip the conversion pass: the source uploads them straight into a
	// full-resolution framebuffer.
	RGBA bool
}

// AudioTarget receives the source's audio side channel.
type AudioTarget interface {
	HandleAudio(*session.AudioBuffer)
}

// MetadataTarget receives the source's metadata side channel. Types lists
// the detection types the target wants; the source delivers the
// intersection of that list with what the device can produce.
type MetadataTarget interface {
	MetadataTypes() []session.MetadataType
	HandleMetadata([]session.MetadataObject)
}

// Stats is a snapshot of a source's counters.
type Stats struct {
	Published    uint64        `json:"published"`
	Dropped      uint64        `json:"dropped"`
	AvgFrameTime time.Duration `json:"avg_frame_time"`
	FPS          int           `json:"fps"`
	InFlight     bool          `json:"in_flight"`
	Consumers    int           `json:"consumers"`
	FullRange    bool          `json:"full_range"`
	RGBA         bool          `json:"rgba"`
	ZeroCopy     bool          `json:"zero_copy"`
	Software     bool          `json:"software"`
}

// CaptureSource captures camera frames and publishes them as GPU
// framebuffers. Per frame it: admits through a single-slot gate (dropping
// when a frame is in flight), moves the planes onto the GPU by the
// fastest strategy the device supports, runs the YUV to RGB conversion
// pass, stamps timing and fans out to consumers.
//
// The GPU context is shared and injected; the source never creates or
// closes it.
type CaptureSource struct {
	id       string
	location CameraLocation

	ctx  *gpu.Context
	sess *session.Session
	dev  session.Device

	fullRange bool
	rgba      bool

	// program converts planar frames; nil in packed-RGBA mode, where no
	// conversion pass runs.
	program *gpu.ConversionProgram

	// cache is non-nil on devices where plane textures can be created
	// directly (the zero-copy path); otherwise planes go through
	// pool-owned upload buffers.
	cache *gpu.TextureCache

	gate      *FrameGate
	consumers *consumerSet

	videoInput *session.DeviceInput

	// sideMu serializes side-channel attach/detach; targetMu guards only
	// the target pointers the delivery sinks read. Sinks must never take
	// sideMu: attach holds it while reconfiguring the session, which in
	// turn waits on delivery workers.
	sideMu     sync.Mutex
	audioInput *session.DeviceInput
	metaInput  *session.DeviceInput
	metaTypes  []session.MetadataType

	targetMu sync.RWMutex
	audio    AudioTarget
	meta     MetadataTarget

	bench   Benchmark
	fps     FPSCounter
	benchOn atomic.Bool
	fpsLog  atomic.Bool

	published atomic.Uint64
	dropped   atomic.Uint64

	stateMu sync.Mutex
	running bool
	closed  bool
}

// NewCaptureSource builds a source on the shared GPU context. No usable
// device for the location (and no default) or a failed video-stream
// attach fail construction; nothing partially constructed is returned.
func NewCaptureSource(ctx *gpu.Context, opts Options) (*CaptureSource, error) {
	if opts.ID == "" {
		opts.ID = opts.Location.String()
	}
	if opts.Framerate <= 0 {
		opts.Framerate = 30
	}

	dev, err := pickDevice(opts)
	if err != nil {
		return nil, fmt.Errorf("[%s] camera unavailable: %w", opts.ID, err)
	}

	fullRange := dev.SupportsFullRange()
	format := session.PixelFormatBiPlanarVideoRange
	if fullRange {
		format = session.PixelFormatBiPlanarFullRange
	}
	if opts.RGBA {
		format = session.PixelFormatPackedRGBA
	}
	width, height := opts.Preset.Dimensions()

	input, err := session.NewDeviceInput(dev, session.StreamConfig{
		Width:     width,
		Height:    height,
		Framerate: opts.Framerate,
		Format:    format,
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] attach video input: %w", opts.ID, err)
	}

	c := &CaptureSource{
		id:         opts.ID,
		location:   opts.Location,
		ctx:        ctx,
		sess:       session.New(opts.ID),
		dev:        dev,
		fullRange:  fullRange,
		rgba:       opts.RGBA,
		gate:       NewFrameGate(),
		consumers:  newConsumerSet(),
		videoInput: input,
	}
	c.benchOn.Store(true)
	c.fpsLog.Store(true)

	c.sess.Begin()
	if err := c.sess.AddInput(input); err != nil {
		return nil, fmt.Errorf("[%s] add video input: %w", opts.ID, err)
	}
	if err := c.sess.AddOutput(videoSink{c}); err != nil {
		return nil, fmt.Errorf("[%s] add video output: %w", opts.ID, err)
	}
	c.sess.Commit()

	if opts.RGBA {
		log.Printf("[%s] source ready: %s camera, %dx%d@%d, packed rgba",
			c.id, c.location, width, height, opts.Framerate)
		return c, nil
	}

	// Probe before entering the run loop: the probe itself runs a
	// synchronous task.
	zeroCopy := ctx.SupportsTextureCache()

	var initErr error
	err = ctx.RunSync(func() {
		c.program, initErr = gpu.NewConversionProgram(ctx, fullRange)
		if initErr != nil {
			return
		}
		if zeroCopy && !c.program.Software() {
			c.cache = gpu.NewTextureCache(ctx)
		}
	})
	if err == nil {
		err = initErr
	}
	if err != nil {
		return nil, fmt.Errorf("[%s] init conversion: %w", opts.ID, err)
	}

	log.Printf("[%s] source ready: %s camera, %dx%d@%d, full-range=%v zero-copy=%v software=%v",
		c.id, c.location, width, height, opts.Framerate,
		fullRange, c.cache != nil, c.program.Software())
	return c, nil
}

func pickDevice(opts Options) (session.Device, error) {
	if opts.DeviceID != "" {
		devs, err := session.Devices()
		if err != nil {
			return nil, err
		}
		for _, d := range devs {
			if d.ID() == opts.DeviceID {
				return d, nil
			}
		}
		return nil, fmt.Errorf("device %q: %w", opts.DeviceID, session.ErrNoDevice)
	}
	return session.DeviceWithPosition(opts.Location.position())
}

// ID returns the source name used in logs and stats.
func (c *CaptureSource) ID() string { return c.id }

// Location returns the camera location the source was built for.
func (c *CaptureSource) Location() CameraLocation { return c.location }

// FullRange reports the pixel range the device delivers, and therefore
// which conversion variant the source runs.
func (c *CaptureSource) FullRange() bool { return c.fullRange }

// RGBA reports whether the source captures packed RGBA.
func (c *CaptureSource) RGBA() bool { return c.rgba }

// Program exposes the conversion program, mainly for inspection in tests
// and stats. Nil in packed-RGBA mode.
func (c *CaptureSource) Program() *gpu.ConversionProgram { return c.program }

// Start begins capture. Starting a running source is a no-op.
func (c *CaptureSource) Start() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.closed {
		return ErrSourceClosed
	}
	if c.running {
		return nil
	}
	if err := c.sess.Start(); err != nil {
		return fmt.Errorf("[%s] start session: %w", c.id, err)
	}
	c.running = true
	return nil
}

// Stop halts capture and synchronously drains outstanding GPU work, so no
// consumer callback runs after it returns. Stopping a stopped source is a
// no-op.
func (c *CaptureSource) Stop() {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.stopLocked()
}

func (c *CaptureSource) stopLocked() {
	if !c.running {
		return
	}
	c.sess.Stop()
	c.ctx.WaitIdle()
	c.running = false
	log.Printf("[%s] stopped: published=%d dropped=%d avg=%v",
		c.id, c.published.Load(), c.dropped.Load(), c.bench.Average())
}

// SetBenchmarkEnabled toggles per-frame wall-time accumulation. Settable
// at any time, including while capturing; disabling freezes the running
// average at its current value.
func (c *CaptureSource) SetBenchmarkEnabled(on bool) { c.benchOn.Store(on) }

// SetFPSLogEnabled toggles the once-per-second fps log line. The counter
// itself keeps running so Stats stays accurate.
func (c *CaptureSource) SetFPSLogEnabled(on bool) { c.fpsLog.Store(on) }

// Running reports whether capture is active.
func (c *CaptureSource) Running() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.running
}

// Close stops the source and releases its GPU resources. The shared
// context stays open for its owner. Idempotent.
func (c *CaptureSource) Close() {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.closed {
		return
	}
	c.stopLocked()
	_ = c.ctx.RunSync(func() {
		if c.cache != nil {
			c.cache.Flush()
			c.cache = nil
		}
		if c.program != nil {
			c.program.Destroy()
		}
	})
	c.closed = true
}

// AddConsumer registers a frame consumer and returns its removal handle.
func (c *CaptureSource) AddConsumer(cons Consumer) uuid.UUID {
	return c.consumers.add(cons)
}

// RemoveConsumer unregisters a consumer. Returns false for an unknown
// handle.
func (c *CaptureSource) RemoveConsumer(handle uuid.UUID) bool {
	return c.consumers.remove(handle)
}

// SetAudioTarget attaches the audio side channel, replacing any previous
// target; nil detaches. Attach failure leaves the source running without
// audio and returns the error.
func (c *CaptureSource) SetAudioTarget(t AudioTarget) error {
	c.sideMu.Lock()
	defer c.sideMu.Unlock()

	if c.audioInput != nil {
		c.setAudio(nil)
		c.sess.Begin()
		_ = c.sess.RemoveInput(c.audioInput)
		_ = c.sess.RemoveOutput(audioSink{c})
		c.sess.Commit()
		c.audioInput = nil
	}
	if t == nil {
		return nil
	}

	if _, ok := c.dev.(session.AudioCapable); !ok {
		return fmt.Errorf("[%s] %w", c.id, ErrNoAudioSupport)
	}
	input, err := session.NewAudioInput(c.dev)
	if err != nil {
		return fmt.Errorf("[%s] attach audio: %w", c.id, err)
	}

	c.setAudio(t)
	c.sess.Begin()
	_ = c.sess.AddInput(input)
	_ = c.sess.AddOutput(audioSink{c})
	c.sess.Commit()
	c.audioInput = input
	return nil
}

func (c *CaptureSource) setAudio(t AudioTarget) {
	c.targetMu.Lock()
	c.audio = t
	c.targetMu.Unlock()
}

func (c *CaptureSource) setMeta(t MetadataTarget) {
	c.targetMu.Lock()
	c.meta = t
	c.targetMu.Unlock()
}

// SetMetadataTarget attaches the metadata side channel, replacing any
// previous target; nil detaches. The delivered type set is the
// intersection of what the target asks for and what the device offers.
// Attach failure is recoverable: the source keeps capturing video.
func (c *CaptureSource) SetMetadataTarget(t MetadataTarget) error {
	c.sideMu.Lock()
	defer c.sideMu.Unlock()

	if c.metaInput != nil {
		c.setMeta(nil)
		c.sess.Begin()
		_ = c.sess.RemoveInput(c.metaInput)
		_ = c.sess.RemoveOutput(metadataSink{c})
		c.sess.Commit()
		c.metaInput = nil
		c.metaTypes = nil
	}
	if t == nil {
		return nil
	}

	mc, ok := c.dev.(session.MetadataCapable)
	if !ok {
		return fmt.Errorf("[%s] %w", c.id, ErrNoMetadataSupport)
	}
	effective := intersectTypes(mc.AvailableMetadataTypes(), t.MetadataTypes())
	input, err := session.NewMetadataInput(c.dev, effective)
	if err != nil {
		return fmt.Errorf("[%s] attach metadata: %w", c.id, err)
	}

	c.setMeta(t)
	c.sess.Begin()
	_ = c.sess.AddInput(input)
	_ = c.sess.AddOutput(metadataSink{c})
	c.sess.Commit()
	c.metaInput = input
	c.metaTypes = effective
	return nil
}

// MetadataTypes returns the effective metadata type set after the last
// successful SetMetadataTarget.
func (c *CaptureSource) MetadataTypes() []session.MetadataType {
	c.sideMu.Lock()
	defer c.sideMu.Unlock()
	out := make([]session.MetadataType, len(c.metaTypes))
	copy(out, c.metaTypes)
	return out
}

func intersectTypes(available, requested []session.MetadataType) []session.MetadataType {
	var out []session.MetadataType
	for _, r := range requested {
		for _, a := range available {
			if r == a {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

// Stats returns a counter snapshot.
func (c *CaptureSource) Stats() Stats {
	return Stats{
		Published:    c.published.Load(),
		Dropped:      c.dropped.Load(),
		AvgFrameTime: c.bench.Average(),
		FPS:          c.fps.Last(),
		InFlight:     c.gate.InFlight(),
		Consumers:    c.consumers.len(),
		FullRange:    c.fullRange,
		RGBA:         c.rgba,
		ZeroCopy:     c.cache != nil,
		Software:     c.program != nil && c.program.Software(),
	}
}

// videoSink adapts the session video output onto the source's frame path.
type videoSink struct{ c *CaptureSource }

func (s videoSink) HandleVideo(b *session.VideoBuffer) { s.c.handleVideoBuffer(b) }

type audioSink struct{ c *CaptureSource }

func (s audioSink) HandleAudio(b *session.AudioBuffer) {
	s.c.targetMu.RLock()
	target := s.c.audio
	s.c.targetMu.RUnlock()
	if target != nil {
		target.HandleAudio(b)
	}
}

type metadataSink struct{ c *CaptureSource }

func (s metadataSink) HandleMetadata(objs []session.MetadataObject) {
	s.c.targetMu.RLock()
	target := s.c.meta
	s.c.targetMu.RUnlock()
	if target != nil {
		target.HandleMetadata(objs)
	}
}

// handleVideoBuffer runs on the video delivery goroutine. It either
// admits the frame and hands it to the GPU run loop fire-and-forget, or
// drops it on the floor. A drop is not an error; nothing is logged per
// frame.
func (c *CaptureSource) handleVideoBuffer(b *session.VideoBuffer) {
	if !c.gate.TryAdmit() {
		c.dropped.Add(1)
		b.Release()
		return
	}
	start := time.Now()
	if err := c.ctx.RunAsync(func() { c.processFrame(b, start) }); err != nil {
		c.gate.Release()
		b.Release()
	}
}

// processFrame runs on the GPU run loop: acquire plane textures, convert,
// stamp, publish. Packed frames skip conversion and upload straight into
// a full-resolution framebuffer. The gate is released on every exit path.
func (c *CaptureSource) processFrame(b *session.VideoBuffer, start time.Time) {
	defer c.gate.Release()
	defer b.Release()

	srcSize := gpu.Size{Width: b.Width, Height: b.Height}
	orient := c.location.Orientation()

	var target *gpu.Framebuffer
	var err error
	if c.rgba {
		target, err = c.ctx.Pool().Get(srcSize, orient, true, gputypes.TextureFormatRGBA8Unorm)
		if err != nil {
			log.Printf("[%s] acquire target: %v", c.id, err)
			return
		}
		target.Upload(c.ctx.Queue(), b.Pixels, b.PixelsStride)
	} else {
		target, err = c.ctx.Pool().Get(
			gpu.PortraitTarget(srcSize, orient),
			gpu.OrientationPortrait,
			false,
			gputypes.TextureFormatRGBA8Unorm,
		)
		if err != nil {
			log.Printf("[%s] acquire target: %v", c.id, err)
			return
		}
		if err := c.convert(b, srcSize, orient, target); err != nil {
			log.Printf("[%s] convert: %v", c.id, err)
			target.Unlock()
			return
		}
	}

	target.SetTiming(gpu.VideoFrameTiming(b.PTS))
	c.publish(target)

	c.published.Add(1)
	if c.benchOn.Load() {
		c.bench.Record(time.Since(start))
	}
	if fps, rolled := c.fps.Tick(time.Now()); rolled && c.fpsLog.Load() {
		log.Printf("[%s] fps: %d", c.id, fps)
	}
}

func (c *CaptureSource) convert(b *session.VideoBuffer, srcSize gpu.Size, orient gpu.Orientation, target *gpu.Framebuffer) error {
	if c.program.Software() {
		c.program.ConvertPlanes(b.Luma, b.LumaStride, b.Chroma, b.ChromaStride, srcSize, target, orient)
		return nil
	}

	if c.cache != nil {
		luma, err := c.cache.Bind(srcSize, gputypes.TextureFormatR8Unorm, b.Luma, b.LumaStride)
		if err != nil {
			return fmt.Errorf("bind luma: %w", err)
		}
		chroma, err := c.cache.Bind(srcSize.Half(), gputypes.TextureFormatRG8Unorm, b.Chroma, b.ChromaStride)
		if err != nil {
			return fmt.Errorf("bind chroma: %w", err)
		}
		return c.program.Convert(luma, chroma, target, orient)
	}

	// Pool-copy path: planes go through reusable upload framebuffers.
	luma, err := c.ctx.Pool().Get(srcSize, orient, true, gputypes.TextureFormatR8Unorm)
	if err != nil {
		return fmt.Errorf("acquire luma buffer: %w", err)
	}
	defer luma.Unlock()
	luma.Upload(c.ctx.Queue(), b.Luma, b.LumaStride)

	chroma, err := c.ctx.Pool().Get(srcSize.Half(), orient, true, gputypes.TextureFormatRG8Unorm)
	if err != nil {
		return fmt.Errorf("acquire chroma buffer: %w", err)
	}
	defer chroma.Unlock()
	chroma.Upload(c.ctx.Queue(), b.Chroma, b.ChromaStride)

	return c.program.Convert(luma, chroma, target, orient)
}

// publish offers the frame to every consumer in registration order, then
// drops the publisher's reference. Consumers that keep the frame hold
// their own locks by the time the offer returns.
func (c *CaptureSource) publish(fb *gpu.Framebuffer) {
	for _, cons := range c.consumers.snapshot() {
		cons.NewFrame(fb)
	}
	fb.Unlock()
}
