package session

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// The synthetic backend generates test-pattern frames in-process. It is
// the active backend in default builds, so the pipeline runs end to end
// on machines with no camera; the gocv backend replaces it when built
// with the gocv tag.

type syntheticBackend struct {
	devices []Device
}

func newSyntheticBackend() *syntheticBackend {
	return &syntheticBackend{
		devices: []Device{
			NewSyntheticDevice("synth-back", PositionBack, true),
			NewSyntheticDevice("synth-front", PositionFront, false),
		},
	}
}

func (b *syntheticBackend) Name() string { return "synthetic" }

func (b *syntheticBackend) Devices() ([]Device, error) {
	return b.devices, nil
}

// SyntheticDevice is an in-process test-pattern camera. It captures
// bi-planar 4:2:0 frames of a moving gradient, 16 kHz mono audio and a
// face detection every 30 frames.
type SyntheticDevice struct {
	id        string
	position  Position
	fullRange bool
}

// NewSyntheticDevice creates a synthetic camera with the given identity.
func NewSyntheticDevice(id string, pos Position, fullRange bool) *SyntheticDevice {
	return &SyntheticDevice{id: id, position: pos, fullRange: fullRange}
}

func (d *SyntheticDevice) ID() string              { return d.id }
func (d *SyntheticDevice) Name() string            { return "Synthetic Camera " + d.id }
func (d *SyntheticDevice) Position() Position      { return d.position }
func (d *SyntheticDevice) SupportsFullRange() bool { return d.fullRange }

// OpenVideo validates the configuration and prepares a pattern stream.
func (d *SyntheticDevice) OpenVideo(cfg StreamConfig) (VideoStream, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("synthetic %s: invalid extent %dx%d", d.id, cfg.Width, cfg.Height)
	}
	// The YUV range restriction does not apply to packed capture.
	if !cfg.Format.Packed() && cfg.Format.FullRange() && !d.fullRange {
		return nil, fmt.Errorf("synthetic %s: full range not supported", d.id)
	}
	if cfg.Framerate <= 0 {
		cfg.Framerate = 30
	}
	return &syntheticVideoStream{cfg: cfg}, nil
}

// OpenAudio returns a 16 kHz mono tone stream.
func (d *SyntheticDevice) OpenAudio() (AudioStream, error) {
	return &syntheticAudioStream{sampleRate: 16000}, nil
}

// AvailableMetadataTypes lists what the pattern generator can fake.
func (d *SyntheticDevice) AvailableMetadataTypes() []MetadataType {
	return []MetadataType{MetadataTypeFace, MetadataTypeQRCode}
}

// OpenMetadata rejects types the generator cannot fake.
func (d *SyntheticDevice) OpenMetadata(types []MetadataType) (MetadataStream, error) {
	avail := d.AvailableMetadataTypes()
	for _, t := range types {
		supported := false
		for _, a := range avail {
			if t == a {
				supported = true
				break
			}
		}
		if !supported {
			return nil, fmt.Errorf("synthetic %s: metadata type %q not available", d.id, t)
		}
	}
	return &syntheticMetadataStream{types: types}, nil
}

type syntheticVideoStream struct {
	cfg StreamConfig

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
	pool sync.Pool
}

func (s *syntheticVideoStream) Start(sink func(*VideoBuffer)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return nil
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	interval := time.Second / time.Duration(s.cfg.Framerate)

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		start := time.Now()
		frame := 0
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				b := s.nextFrame(frame, time.Since(start))
				frame++
				sink(b)
			}
		}
	}()
	return nil
}

func (s *syntheticVideoStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
	s.stop = nil
	s.done = nil
}

// nextFrame renders a horizontally scrolling ramp: a luma gradient with
// constant mid-grey chroma for the planar formats, a grey gradient for
// packed RGBA. Planes come from a pool keyed to the stream geometry.
func (s *syntheticVideoStream) nextFrame(frame int, pts time.Duration) *VideoBuffer {
	w, h := s.cfg.Width, s.cfg.Height

	b, _ := s.pool.Get().(*VideoBuffer)
	if b == nil {
		b = NewVideoBuffer(w, h, s.cfg.Format, func(b *VideoBuffer) {
			b.refs.Store(1)
			s.pool.Put(b)
		})
		if s.cfg.Format.Packed() {
			b.Pixels = make([]byte, w*h*4)
			b.PixelsStride = w * 4
		} else {
			cw, ch := (w+1)/2, (h+1)/2
			b.Luma = make([]byte, w*h)
			b.LumaStride = w
			b.Chroma = make([]byte, cw*ch*2)
			b.ChromaStride = cw * 2
		}
	}
	b.PTS = pts

	if s.cfg.Format.Packed() {
		for y := 0; y < h; y++ {
			row := b.Pixels[y*b.PixelsStride:]
			for x := 0; x < w; x++ {
				v := byte(((x + frame) % w) * 255 / w)
				row[x*4] = v
				row[x*4+1] = v
				row[x*4+2] = v
				row[x*4+3] = 0xff
			}
		}
		return b
	}

	lo, hi := 16, 235
	if s.cfg.Format.FullRange() {
		lo, hi = 0, 255
	}
	span := hi - lo
	for y := 0; y < h; y++ {
		row := b.Luma[y*b.LumaStride:]
		for x := 0; x < w; x++ {
			row[x] = byte(lo + ((x+frame)%w)*span/w)
		}
	}
	for i := 0; i < len(b.Chroma); i++ {
		b.Chroma[i] = 128
	}
	return b
}

type syntheticAudioStream struct {
	sampleRate int

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func (s *syntheticAudioStream) Start(sink func(*AudioBuffer)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return nil
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		const blockDur = 20 * time.Millisecond
		ticker := time.NewTicker(blockDur)
		defer ticker.Stop()
		start := time.Now()
		phase := 0.0
		samplesPerBlock := s.sampleRate / 50
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				pcm := make([]byte, samplesPerBlock*2)
				for i := 0; i < samplesPerBlock; i++ {
					v := int16(8000 * math.Sin(phase))
					phase += 2 * math.Pi * 440 / float64(s.sampleRate)
					pcm[i*2] = byte(v)
					pcm[i*2+1] = byte(v >> 8)
				}
				sink(&AudioBuffer{
					TraceID:    uuid.New(),
					SampleRate: s.sampleRate,
					Channels:   1,
					PCM:        pcm,
					PTS:        time.Since(start),
				})
			}
		}
	}()
	return nil
}

func (s *syntheticAudioStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
	s.stop = nil
	s.done = nil
}

type syntheticMetadataStream struct {
	types []MetadataType

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func (s *syntheticMetadataStream) Start(sink func([]MetadataObject)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return nil
	}
	if len(s.types) == 0 {
		// Valid but silent stream.
		s.stop = make(chan struct{})
		s.done = make(chan struct{})
		close(s.done)
		return nil
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		start := time.Now()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				objs := make([]MetadataObject, 0, len(s.types))
				for _, t := range s.types {
					objs = append(objs, MetadataObject{
						TraceID: uuid.New(),
						Type:    t,
						Bounds:  Rect{X: 0.25, Y: 0.25, W: 0.5, H: 0.5},
						PTS:     time.Since(start),
					})
				}
				sink(objs)
			}
		}
	}()
	return nil
}

func (s *syntheticMetadataStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil {
		return
	}
	close(s.stop)
	if len(s.types) > 0 {
		<-s.done
	}
	s.stop = nil
	s.done = nil
}
