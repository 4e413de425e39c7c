package media

import (
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/crisjonblvx/stoop/internal/domain"
)

// Sink consumes one remote participant's inbound audio. Keyed by identity;
// the mesh attaches a sink per registry entry and drops it on teardown.
type Sink interface {
	Play(id domain.UserID, track *webrtc.TrackRemote)
}

// DrainSink reads and discards inbound RTP, keeping the receiver report loop
// alive without any playback backend. Useful headless and in tests.
type DrainSink struct{}

func (DrainSink) Play(id domain.UserID, track *webrtc.TrackRemote) {
	go func() {
		for {
			if _, _, err := track.ReadRTP(); err != nil {
				log.Debug().Err(err).Str("module", "media").
					Str("peer", string(id)).Msg("inbound track ended")
				return
			}
		}
	}()
}
