package session

import "sync"

// Delivery runs on one goroutine per output per stream kind. Video
// mailboxes hold a single frame and drop when the handler is behind:
// frames are never queued behind a slow consumer. Audio and metadata get
// small queues; audio drops when full, metadata preserves order.
//
// Workers are kept in registration order and identified by the handle
// subscribe returns, so outputs of any dynamic type (func adapters
// included) can register.

const (
	audioQueueDepth    = 8
	metadataQueueDepth = 16
)

type videoWorker struct {
	slot chan *VideoBuffer
	done chan struct{}
}

type videoDeliverer struct {
	mu   sync.Mutex
	subs []*videoWorker
}

func newVideoDeliverer() *videoDeliverer {
	return &videoDeliverer{}
}

func (d *videoDeliverer) subscribe(out VideoOutput) *videoWorker {
	w := &videoWorker{
		slot: make(chan *VideoBuffer, 1),
		done: make(chan struct{}),
	}
	d.mu.Lock()
	d.subs = append(d.subs, w)
	d.mu.Unlock()

	go func() {
		defer close(w.done)
		for b := range w.slot {
			out.HandleVideo(b)
		}
	}()
	return w
}

func (d *videoDeliverer) unsubscribe(w *videoWorker) {
	if w == nil {
		return
	}
	d.mu.Lock()
	found := false
	for i, have := range d.subs {
		if have == w {
			d.subs = append(d.subs[:i], d.subs[i+1:]...)
			found = true
			break
		}
	}
	d.mu.Unlock()
	if !found {
		return
	}
	close(w.slot)
	<-w.done
	for b := range w.slot {
		b.Release()
	}
}

// deliver fans the buffer to every subscriber, taking one reference per
// enqueued copy, and consumes the caller's reference. A subscriber whose
// mailbox is occupied does not get this frame.
func (d *videoDeliverer) deliver(b *VideoBuffer) {
	d.mu.Lock()
	for _, w := range d.subs {
		b.Retain()
		select {
		case w.slot <- b:
		default:
			b.Release()
		}
	}
	d.mu.Unlock()
	b.Release()
}

func (d *videoDeliverer) close() {
	d.mu.Lock()
	subs := d.subs
	d.subs = nil
	d.mu.Unlock()
	for _, w := range subs {
		close(w.slot)
	}
	for _, w := range subs {
		<-w.done
		for b := range w.slot {
			b.Release()
		}
	}
}

type audioWorker struct {
	queue chan *AudioBuffer
	done  chan struct{}
}

type audioDeliverer struct {
	mu   sync.Mutex
	subs []*audioWorker
}

func newAudioDeliverer() *audioDeliverer {
	return &audioDeliverer{}
}

func (d *audioDeliverer) subscribe(out AudioOutput) *audioWorker {
	w := &audioWorker{
		queue: make(chan *AudioBuffer, audioQueueDepth),
		done:  make(chan struct{}),
	}
	d.mu.Lock()
	d.subs = append(d.subs, w)
	d.mu.Unlock()

	go func() {
		defer close(w.done)
		for b := range w.queue {
			out.HandleAudio(b)
		}
	}()
	return w
}

func (d *audioDeliverer) unsubscribe(w *audioWorker) {
	if w == nil {
		return
	}
	d.mu.Lock()
	found := false
	for i, have := range d.subs {
		if have == w {
			d.subs = append(d.subs[:i], d.subs[i+1:]...)
			found = true
			break
		}
	}
	d.mu.Unlock()
	if !found {
		return
	}
	close(w.queue)
	<-w.done
}

func (d *audioDeliverer) deliver(b *AudioBuffer) {
	d.mu.Lock()
	for _, w := range d.subs {
		select {
		case w.queue <- b:
		default:
			// Audio is low priority; a full queue sheds the block.
		}
	}
	d.mu.Unlock()
}

func (d *audioDeliverer) close() {
	d.mu.Lock()
	subs := d.subs
	d.subs = nil
	d.mu.Unlock()
	for _, w := range subs {
		close(w.queue)
	}
	for _, w := range subs {
		<-w.done
	}
}

type metadataWorker struct {
	queue chan []MetadataObject
	done  chan struct{}
}

type metadataDeliverer struct {
	mu   sync.Mutex
	subs []*metadataWorker
}

func newMetadataDeliverer() *metadataDeliverer {
	return &metadataDeliverer{}
}

func (d *metadataDeliverer) subscribe(out MetadataOutput) *metadataWorker {
	w := &metadataWorker{
		queue: make(chan []MetadataObject, metadataQueueDepth),
		done:  make(chan struct{}),
	}
	d.mu.Lock()
	d.subs = append(d.subs, w)
	d.mu.Unlock()

	go func() {
		defer close(w.done)
		for objs := range w.queue {
			out.HandleMetadata(objs)
		}
	}()
	return w
}

func (d *metadataDeliverer) unsubscribe(w *metadataWorker) {
	if w == nil {
		return
	}
	d.mu.Lock()
	found := false
	for i, have := range d.subs {
		if have == w {
			d.subs = append(d.subs[:i], d.subs[i+1:]...)
			found = true
			break
		}
	}
	d.mu.Unlock()
	if !found {
		return
	}
	close(w.queue)
	<-w.done
}

// deliver enqueues in arrival order; batches block rather than drop so
// detections stay serial.
func (d *metadataDeliverer) deliver(objs []MetadataObject) {
	d.mu.Lock()
	workers := make([]*metadataWorker, len(d.subs))
	copy(workers, d.subs)
	d.mu.Unlock()
	for _, w := range workers {
		w.queue <- objs
	}
}

func (d *metadataDeliverer) close() {
	d.mu.Lock()
	subs := d.subs
	d.subs = nil
	d.mu.Unlock()
	for _, w := range subs {
		close(w.queue)
	}
	for _, w := range subs {
		<-w.done
	}
}
