package capture

import (
	"sync"

	"github.com/google/uuid"

	"github.com/video-system/go-gpu-capture/pkg/gpu"
)

// Consumer receives converted frames from a capture source. NewFrame runs
// on the GPU run loop with a locked framebuffer; the publisher drops its
// reference after offering to every consumer, so a consumer that keeps
// the frame past the call must take its own Lock first.
type Consumer interface {
	NewFrame(fb *gpu.Framebuffer)
}

// ConsumerFunc adapts a function to the Consumer interface.
type ConsumerFunc func(*gpu.Framebuffer)

func (f ConsumerFunc) NewFrame(fb *gpu.Framebuffer) { f(fb) }

// consumerSet is the fan-out registry. Consumers are offered frames in
// registration order.
type consumerSet struct {
	mu    sync.RWMutex
	by    map[uuid.UUID]Consumer
	order []uuid.UUID
}

func newConsumerSet() *consumerSet {
	return &consumerSet{by: make(map[uuid.UUID]Consumer)}
}

func (s *consumerSet) add(c Consumer) uuid.UUID {
	handle := uuid.New()
	s.mu.Lock()
	s.by[handle] = c
	s.order = append(s.order, handle)
	s.mu.Unlock()
	return handle
}

func (s *consumerSet) remove(handle uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.by[handle]; !ok {
		return false
	}
	delete(s.by, handle)
	for i, h := range s.order {
		if h == handle {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// snapshot returns the consumers in registration order. The returned
// slice is safe to iterate without the lock.
func (s *consumerSet) snapshot() []Consumer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Consumer, 0, len(s.order))
	for _, h := range s.order {
		out = append(out, s.by[h])
	}
	return out
}

func (s *consumerSet) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.by)
}
