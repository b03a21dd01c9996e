// Package display publishes annotated frames as an MJPEG stream and serves
// the detector's operational endpoints.
package display

import (
	"image"
	"net/http"
	"sync"

	"github.com/hybridgroup/mjpeg"

	"github.com/Capitan-Parrot/theft-detection/internal/imageproc"
)

// Stream is the live view of the detection loop. A nil *Stream is a
// disabled display and ignores every call.
type Stream struct {
	stream  *mjpeg.Stream
	quality int

	mu     sync.RWMutex
	last   []byte
	frames int64
}

func NewStream(quality int) *Stream {
	return &Stream{
		stream:  mjpeg.NewStream(),
		quality: quality,
	}
}

// Show encodes img and pushes it to every connected viewer
func (s *Stream) Show(img image.Image) error {
	if s == nil {
		return nil
	}

	buf, err := imageproc.EncodeJPEG(img, s.quality)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.last = buf
	s.frames++
	s.mu.Unlock()

	s.stream.UpdateJPEG(buf)
	return nil
}

// Snapshot returns the last shown frame as JPEG, nil before the first one
func (s *Stream) Snapshot() []byte {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

func (s *Stream) Frames() int64 {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frames
}

func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s == nil {
		http.Error(w, "display disabled", http.StatusNotFound)
		return
	}
	s.stream.ServeHTTP(w, r)
}

// Close drops the last frame; viewers stay connected until the server stops
func (s *Stream) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.last = nil
	s.mu.Unlock()
}
