package media

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/crisjonblvx/stoop/internal/core"
)

// Source implements core.MediaSource over a CaptureDevice. It is a process
// singleton for the room session: one device, zero or one live track, and a
// capturing flag whose every transition fires the state hook (which the mesh
// turns into a mic_status broadcast).
type Source struct {
	dev core.CaptureDevice

	mu        sync.Mutex
	track     webrtc.TrackLocal
	capturing bool
	onChange  func(capturing bool)
}

var _ core.MediaSource = (*Source)(nil)

func NewSource(dev core.CaptureDevice) *Source {
	return &Source{dev: dev}
}

// OnStateChange registers the capturing-transition hook. Set before use.
func (s *Source) OnStateChange(fn func(capturing bool)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Acquire opens the capture device and returns the shared track. Repeat
// calls while capturing return the same track. A permission failure is
// returned to the caller; nothing retries it behind their back.
func (s *Source) Acquire(ctx context.Context) (webrtc.TrackLocal, error) {
	s.mu.Lock()
	if s.capturing {
		track := s.track
		s.mu.Unlock()
		return track, nil
	}
	s.mu.Unlock()

	// Device open may suspend; do not hold the lock across it.
	track, err := s.dev.Open(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.track = track
	s.capturing = true
	fn := s.onChange
	s.mu.Unlock()

	log.Info().Str("module", "media").Msg("capture started")
	if fn != nil {
		fn(true)
	}
	return track, nil
}

// Release stops and releases the device. Idempotent.
func (s *Source) Release() {
	s.mu.Lock()
	if !s.capturing {
		s.mu.Unlock()
		return
	}
	s.capturing = false
	s.track = nil
	fn := s.onChange
	s.mu.Unlock()

	if err := s.dev.Close(); err != nil {
		log.Error().Err(err).Str("module", "media").Msg("device close")
	}
	log.Info().Str("module", "media").Msg("capture stopped")
	if fn != nil {
		fn(false)
	}
}

func (s *Source) Capturing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capturing
}
