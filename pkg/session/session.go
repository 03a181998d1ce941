package session

import (
	"errors"
	"fmt"
	"log"
	"reflect"
	"sync"
)

var (
	// ErrSessionRunning is returned by operations valid only on a
	// stopped session.
	ErrSessionRunning = errors.New("session: already running")

	// ErrNotAttached is returned when removing an input or output that
	// was never added.
	ErrNotAttached = errors.New("session: not attached")
)

// InputKind says which of a device's streams an input attaches.
type InputKind int

const (
	InputVideo InputKind = iota
	InputAudio
	InputMetadata
)

func (k InputKind) String() string {
	switch k {
	case InputVideo:
		return "video"
	case InputAudio:
		return "audio"
	case InputMetadata:
		return "metadata"
	default:
		return "unknown"
	}
}

// DeviceInput binds one stream of a device into a session. The stream is
// opened at construction, so attach failures surface before the session
// ever starts.
type DeviceInput struct {
	dev  Device
	kind InputKind

	video VideoStream
	audio AudioStream
	meta  MetadataStream
}

// NewDeviceInput opens the device's video stream with the given
// configuration. A nil device or a failed open is a construction error.
func NewDeviceInput(dev Device, cfg StreamConfig) (*DeviceInput, error) {
	if dev == nil {
		return nil, ErrNoDevice
	}
	vs, err := dev.OpenVideo(cfg)
	if err != nil {
		return nil, fmt.Errorf("open video stream on %s: %w", dev.ID(), err)
	}
	return &DeviceInput{dev: dev, kind: InputVideo, video: vs}, nil
}

// NewAudioInput opens the device's audio stream. Devices without audio
// capture fail here, not at delivery time.
func NewAudioInput(dev Device) (*DeviceInput, error) {
	if dev == nil {
		return nil, ErrNoDevice
	}
	ac, ok := dev.(AudioCapable)
	if !ok {
		return nil, fmt.Errorf("device %s: audio not supported", dev.ID())
	}
	as, err := ac.OpenAudio()
	if err != nil {
		return nil, fmt.Errorf("open audio stream on %s: %w", dev.ID(), err)
	}
	return &DeviceInput{dev: dev, kind: InputAudio, audio: as}, nil
}

// NewMetadataInput opens a detection stream limited to types. The caller
// intersects with the device's available types first; an empty
// intersection is a valid stream that never delivers.
func NewMetadataInput(dev Device, types []MetadataType) (*DeviceInput, error) {
	if dev == nil {
		return nil, ErrNoDevice
	}
	mc, ok := dev.(MetadataCapable)
	if !ok {
		return nil, fmt.Errorf("device %s: metadata not supported", dev.ID())
	}
	ms, err := mc.OpenMetadata(types)
	if err != nil {
		return nil, fmt.Errorf("open metadata stream on %s: %w", dev.ID(), err)
	}
	return &DeviceInput{dev: dev, kind: InputMetadata, meta: ms}, nil
}

// Device returns the device the input was opened on.
func (in *DeviceInput) Device() Device { return in.dev }

// Kind returns which stream the input attaches.
func (in *DeviceInput) Kind() InputKind { return in.kind }

// VideoOutput receives video buffers on a dedicated delivery goroutine.
// The handler owns the delivered reference and must Release it.
type VideoOutput interface {
	HandleVideo(*VideoBuffer)
}

// AudioOutput receives audio buffers on a dedicated low-priority delivery
// goroutine.
type AudioOutput interface {
	HandleAudio(*AudioBuffer)
}

// MetadataOutput receives detection batches on a serial delivery
// goroutine.
type MetadataOutput interface {
	HandleMetadata([]MetadataObject)
}

// Session wires device inputs to outputs and runs delivery. Configuration
// changes between Begin and Commit are staged and applied atomically at
// Commit; changes outside a transaction apply immediately, starting or
// stopping streams as needed on a running session.
type Session struct {
	id string

	mu      sync.Mutex
	running bool

	inputs  []*DeviceInput
	outputs []*outputEntry

	inTx    bool
	pending []func()

	videoDel *videoDeliverer
	audioDel *audioDeliverer
	metaDel  *metadataDeliverer
}

// outputEntry tracks a registered output together with the delivery
// workers it holds while the session runs.
type outputEntry struct {
	out   any
	video *videoWorker
	audio *audioWorker
	meta  *metadataWorker
}

// sameOutput matches a registered output against a removal argument.
// Outputs with uncomparable dynamic types (func adapters and the like)
// never match by value; they stay attached until Stop.
func sameOutput(a, b any) bool {
	t := reflect.TypeOf(a)
	if t == nil || t != reflect.TypeOf(b) || !t.Comparable() {
		return false
	}
	return a == b
}

// New creates an empty, stopped session.
func New(id string) *Session {
	return &Session{id: id}
}

// Begin opens a configuration transaction. Mutations until Commit are
// staged.
func (s *Session) Begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inTx = true
}

// Commit applies all staged mutations and closes the transaction.
func (s *Session) Commit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.pending
	s.pending = nil
	s.inTx = false
	for _, apply := range pending {
		apply()
	}
}

// AddInput attaches an input. On a running session the input's stream
// starts immediately (or at Commit inside a transaction).
func (s *Session) AddInput(in *DeviceInput) error {
	if in == nil {
		return ErrNoDevice
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stage(func() {
		s.inputs = append(s.inputs, in)
		if s.running {
			s.startInputLocked(in)
		}
	})
	return nil
}

// RemoveInput detaches an input, stopping its stream if running.
func (s *Session) RemoveInput(in *DeviceInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := -1
	for i, have := range s.inputs {
		if have == in {
			idx = i
			break
		}
	}
	if idx < 0 && !s.inTx {
		return ErrNotAttached
	}
	s.stage(func() {
		for i, have := range s.inputs {
			if have == in {
				s.inputs = append(s.inputs[:i], s.inputs[i+1:]...)
				if s.running {
					stopInput(in)
				}
				return
			}
		}
	})
	return nil
}

// AddOutput attaches an output. out must implement at least one of
// VideoOutput, AudioOutput, MetadataOutput.
func (s *Session) AddOutput(out any) error {
	switch out.(type) {
	case VideoOutput, AudioOutput, MetadataOutput:
	default:
		return fmt.Errorf("session: output %T handles no stream kind", out)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stage(func() {
		e := &outputEntry{out: out}
		s.outputs = append(s.outputs, e)
		if s.running {
			s.subscribeLocked(e)
		}
	})
	return nil
}

// RemoveOutput detaches an output. In-flight deliveries to it drain
// before its goroutine exits.
func (s *Session) RemoveOutput(out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := -1
	for i, e := range s.outputs {
		if sameOutput(e.out, out) {
			idx = i
			break
		}
	}
	if idx < 0 && !s.inTx {
		return ErrNotAttached
	}
	s.stage(func() {
		for i, e := range s.outputs {
			if sameOutput(e.out, out) {
				s.outputs = append(s.outputs[:i], s.outputs[i+1:]...)
				if s.running {
					s.unsubscribeLocked(e)
				}
				return
			}
		}
	})
	return nil
}

func (s *Session) stage(apply func()) {
	if s.inTx {
		s.pending = append(s.pending, apply)
		return
	}
	apply()
}

// Running reports whether delivery is active.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start spins up the delivery goroutines and starts every attached
// input's stream. Starting a running session is a no-op.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}

	s.videoDel = newVideoDeliverer()
	s.audioDel = newAudioDeliverer()
	s.metaDel = newMetadataDeliverer()
	for _, e := range s.outputs {
		s.subscribeLocked(e)
	}

	for i, in := range s.inputs {
		if err := s.startInputLocked(in); err != nil {
			for _, started := range s.inputs[:i] {
				stopInput(started)
			}
			video, audio, meta := s.detachDeliverersLocked()
			s.mu.Unlock()
			closeDeliverers(video, audio, meta)
			return err
		}
	}

	s.running = true
	log.Printf("[%s] session started: %d input(s), %d output(s)",
		s.id, len(s.inputs), len(s.outputs))
	s.mu.Unlock()
	return nil
}

// Stop stops every stream, then drains and joins the delivery goroutines.
// Stopping a stopped session is a no-op. When Stop returns no handler
// will run again.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}

	for _, in := range s.inputs {
		stopInput(in)
	}
	video, audio, meta := s.detachDeliverersLocked()
	s.running = false
	s.mu.Unlock()

	// Join the workers without holding the session mutex: a draining
	// handler may call back into the session.
	closeDeliverers(video, audio, meta)
	log.Printf("[%s] session stopped", s.id)
}

// detachDeliverersLocked takes ownership of the deliverers away from the
// session so the caller can close them after releasing the mutex.
func (s *Session) detachDeliverersLocked() (*videoDeliverer, *audioDeliverer, *metadataDeliverer) {
	video, audio, meta := s.videoDel, s.audioDel, s.metaDel
	s.videoDel, s.audioDel, s.metaDel = nil, nil, nil
	for _, e := range s.outputs {
		e.video, e.audio, e.meta = nil, nil, nil
	}
	return video, audio, meta
}

func closeDeliverers(video *videoDeliverer, audio *audioDeliverer, meta *metadataDeliverer) {
	if video != nil {
		video.close()
	}
	if audio != nil {
		audio.close()
	}
	if meta != nil {
		meta.close()
	}
}

func (s *Session) startInputLocked(in *DeviceInput) error {
	switch in.kind {
	case InputVideo:
		video := s.videoDel
		return in.video.Start(func(b *VideoBuffer) { video.deliver(b) })
	case InputAudio:
		audio := s.audioDel
		return in.audio.Start(func(b *AudioBuffer) { audio.deliver(b) })
	case InputMetadata:
		meta := s.metaDel
		return in.meta.Start(func(objs []MetadataObject) { meta.deliver(objs) })
	}
	return fmt.Errorf("session: unknown input kind %d", in.kind)
}

func stopInput(in *DeviceInput) {
	switch in.kind {
	case InputVideo:
		in.video.Stop()
	case InputAudio:
		in.audio.Stop()
	case InputMetadata:
		in.meta.Stop()
	}
}

func (s *Session) subscribeLocked(e *outputEntry) {
	if vo, ok := e.out.(VideoOutput); ok {
		e.video = s.videoDel.subscribe(vo)
	}
	if ao, ok := e.out.(AudioOutput); ok {
		e.audio = s.audioDel.subscribe(ao)
	}
	if mo, ok := e.out.(MetadataOutput); ok {
		e.meta = s.metaDel.subscribe(mo)
	}
}

func (s *Session) unsubscribeLocked(e *outputEntry) {
	if e.video != nil {
		s.videoDel.unsubscribe(e.video)
		e.video = nil
	}
	if e.audio != nil {
		s.audioDel.unsubscribe(e.audio)
		e.audio = nil
	}
	if e.meta != nil {
		s.metaDel.unsubscribe(e.meta)
		e.meta = nil
	}
}
