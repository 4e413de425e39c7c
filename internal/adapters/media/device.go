// Package media owns the local capture device and the single shared outbound
// audio track. The mesh controller is the only mutator; links read the same
// track object to attach.
package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rs/zerolog/log"

	"github.com/crisjonblvx/stoop/internal/domain"
)

// oggPageDuration matches the 20 ms Opus frames the encoder emits.
const oggPageDuration = 20 * time.Millisecond

// OggDevice is a capture device backed by an Ogg/Opus file, looped. It
// stands in for a hardware microphone on platforms where raw capture needs
// cgo; the mesh never knows the difference.
type OggDevice struct {
	Path string

	mu   sync.Mutex
	stop chan struct{}
	file *os.File
}

// Open validates access to the source and returns a live local track fed by
// a background pump. Access failure maps to the permission error: terminal
// for this attempt, surfaced, never retried here.
func (d *OggDevice) Open(ctx context.Context) (webrtc.TrackLocal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return nil, fmt.Errorf("device already open")
	}

	f, err := os.Open(d.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPermissionDenied, err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "stoop-mic")
	if err != nil {
		f.Close()
		return nil, err
	}

	d.file = f
	d.stop = make(chan struct{})
	go d.pump(track, f, d.stop)

	return track, nil
}

// Close stops the pump and releases the source. Idempotent.
func (d *OggDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop == nil {
		return nil
	}
	close(d.stop)
	d.stop = nil
	err := d.file.Close()
	d.file = nil
	return err
}

// pump feeds Ogg pages into the track at page cadence, looping at EOF.
func (d *OggDevice) pump(track *webrtc.TrackLocalStaticSample, f *os.File, stop chan struct{}) {
	ogg, _, err := oggreader.NewWith(f)
	if err != nil {
		log.Error().Err(err).Str("module", "media").Msg("bad ogg source")
		return
	}

	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		page, _, err := ogg.ParseNextPage()
		if err == io.EOF {
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				log.Error().Err(err).Str("module", "media").Msg("rewind failed")
				return
			}
			if ogg, _, err = oggreader.NewWith(f); err != nil {
				log.Error().Err(err).Str("module", "media").Msg("reopen failed")
				return
			}
			continue
		}
		if err != nil {
			log.Error().Err(err).Str("module", "media").Msg("read page failed")
			return
		}

		if err := track.WriteSample(media.Sample{Data: page, Duration: oggPageDuration}); err != nil {
			log.Warn().Err(err).Str("module", "media").Msg("write sample failed")
		}
	}
}
