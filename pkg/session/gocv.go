//go:build gocv

package session

import (
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

func init() {
	RegisterBackend(&webcamBackend{})
}

// WebcamAvailable reports whether the binary was built with OpenCV
// camera support.
func WebcamAvailable() bool { return true }

// webcamBackend enumerates OpenCV capture devices. Only device 0 is
// offered; OpenCV gives no portable way to probe for more without
// opening each index and triggering driver logs.
type webcamBackend struct{}

func (b *webcamBackend) Name() string { return "gocv" }

func (b *webcamBackend) Devices() ([]Device, error) {
	return []Device{&WebcamDevice{deviceID: 0, position: PositionBack}}, nil
}

// WebcamDevice is an OpenCV-backed camera. Frames arrive as BGR Mats and
// are converted to bi-planar 4:2:0 before delivery. The BGR→YUV I420
// conversion OpenCV performs uses full-range coefficients, so the device
// reports full-range support and rejects video-range stream configs.
type WebcamDevice struct {
	deviceID int
	position Position
}

func (d *WebcamDevice) ID() string              { return fmt.Sprintf("webcam-%d", d.deviceID) }
func (d *WebcamDevice) Name() string            { return fmt.Sprintf("Webcam %d", d.deviceID) }
func (d *WebcamDevice) Position() Position      { return d.position }
func (d *WebcamDevice) SupportsFullRange() bool { return true }

// OpenVideo opens the OpenCV capture immediately so an unavailable
// device fails construction, not the first read.
func (d *WebcamDevice) OpenVideo(cfg StreamConfig) (VideoStream, error) {
	if !cfg.Format.FullRange() {
		return nil, fmt.Errorf("webcam-%d: video-range output not supported", d.deviceID)
	}
	cap, err := gocv.OpenVideoCapture(d.deviceID)
	if err != nil {
		return nil, fmt.Errorf("open webcam %d: %w", d.deviceID, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return nil, fmt.Errorf("open webcam %d: device not available", d.deviceID)
	}
	if cfg.Width > 0 {
		cap.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	}
	if cfg.Height > 0 {
		cap.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	}
	if cfg.Framerate > 0 {
		cap.Set(gocv.VideoCaptureFPS, float64(cfg.Framerate))
	}
	return &webcamStream{cap: cap, cfg: cfg}, nil
}

type webcamStream struct {
	cap *gocv.VideoCapture
	cfg StreamConfig

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
	pool sync.Pool
}

func (s *webcamStream) Start(sink func(*VideoBuffer)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return nil
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		img := gocv.NewMat()
		conv := gocv.NewMat()
		defer img.Close()
		defer conv.Close()
		start := time.Now()

		for {
			select {
			case <-s.stop:
				return
			default:
			}
			if !s.cap.Read(&img) || img.Empty() {
				continue
			}
			var b *VideoBuffer
			if s.cfg.Format.Packed() {
				gocv.CvtColor(img, &conv, gocv.ColorBGRToRGBA)
				b = s.repackRGBA(conv.ToBytes(), img.Cols(), img.Rows(), time.Since(start))
			} else {
				gocv.CvtColor(img, &conv, gocv.ColorBGRToYUVI420)
				b = s.repack(conv.ToBytes(), img.Cols(), img.Rows(), time.Since(start))
			}
			if b != nil {
				sink(b)
			}
		}
	}()
	return nil
}

func (s *webcamStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
	s.cap.Close()
	s.stop = nil
	s.done = nil
}

// repack converts OpenCV's planar I420 layout (Y, then U, then V) to the
// bi-planar layout the pipeline consumes (Y, then interleaved CbCr).
func (s *webcamStream) repack(i420 []byte, w, h int, pts time.Duration) *VideoBuffer {
	cw, ch := (w+1)/2, (h+1)/2
	if len(i420) < w*h+2*cw*ch {
		return nil
	}

	b, _ := s.pool.Get().(*VideoBuffer)
	if b == nil || b.Width != w || b.Height != h {
		b = NewVideoBuffer(w, h, s.cfg.Format, func(b *VideoBuffer) {
			b.refs.Store(1)
			s.pool.Put(b)
		})
		b.Luma = make([]byte, w*h)
		b.LumaStride = w
		b.Chroma = make([]byte, cw*ch*2)
		b.ChromaStride = cw * 2
	}
	b.PTS = pts

	copy(b.Luma, i420[:w*h])
	uPlane := i420[w*h : w*h+cw*ch]
	vPlane := i420[w*h+cw*ch : w*h+2*cw*ch]
	for i := 0; i < cw*ch; i++ {
		b.Chroma[i*2] = uPlane[i]
		b.Chroma[i*2+1] = vPlane[i]
	}
	return b
}

// repackRGBA copies the converted RGBA pixels into a pooled packed buffer.
func (s *webcamStream) repackRGBA(rgba []byte, w, h int, pts time.Duration) *VideoBuffer {
	if len(rgba) < w*h*4 {
		return nil
	}

	b, _ := s.pool.Get().(*VideoBuffer)
	if b == nil || b.Width != w || b.Height != h {
		b = NewVideoBuffer(w, h, s.cfg.Format, func(b *VideoBuffer) {
			b.refs.Store(1)
			s.pool.Put(b)
		})
		b.Pixels = make([]byte, w*h*4)
		b.PixelsStride = w * 4
	}
	b.PTS = pts
	copy(b.Pixels, rgba[:w*h*4])
	return b
}
