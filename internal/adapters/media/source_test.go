package media

import (
	"context"
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/crisjonblvx/stoop/internal/domain"
)

type fakeDevice struct {
	opens   int
	closes  int
	openErr error
	track   webrtc.TrackLocal
}

func (d *fakeDevice) Open(context.Context) (webrtc.TrackLocal, error) {
	d.opens++
	if d.openErr != nil {
		return nil, d.openErr
	}
	if d.track == nil {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "test-mic")
		if err != nil {
			return nil, err
		}
		d.track = track
	}
	return d.track, nil
}

func (d *fakeDevice) Close() error {
	d.closes++
	return nil
}

func TestAcquireIsSharedWhileCapturing(t *testing.T) {
	dev := &fakeDevice{}
	src := NewSource(dev)

	first, err := src.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !src.Capturing() {
		t.Fatal("not capturing after acquire")
	}

	second, err := src.Acquire(context.Background())
	if err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	if first != second {
		t.Fatal("second acquire produced a different track")
	}
	if dev.opens != 1 {
		t.Fatalf("device opened %d times, want 1", dev.opens)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	dev := &fakeDevice{}
	src := NewSource(dev)

	if _, err := src.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	src.Release()
	src.Release()

	if src.Capturing() {
		t.Fatal("still capturing after release")
	}
	if dev.closes != 1 {
		t.Fatalf("device closed %d times, want 1", dev.closes)
	}
}

func TestAcquireErrorPassedThrough(t *testing.T) {
	dev := &fakeDevice{openErr: domain.ErrPermissionDenied}
	src := NewSource(dev)

	if _, err := src.Acquire(context.Background()); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("acquire error = %v, want permission denied", err)
	}
	if src.Capturing() {
		t.Fatal("capturing despite failed open")
	}
}

func TestStateHookFiresOnEveryTransition(t *testing.T) {
	dev := &fakeDevice{}
	src := NewSource(dev)

	var transitions []bool
	src.OnStateChange(func(capturing bool) { transitions = append(transitions, capturing) })

	if _, err := src.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	// a shared re-acquire is not a transition
	if _, err := src.Acquire(context.Background()); err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	src.Release()
	src.Release()

	want := []bool{true, false}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", transitions, want)
		}
	}
}

func TestOggDeviceMissingFile(t *testing.T) {
	dev := &OggDevice{Path: "does/not/exist.ogg"}
	if _, err := dev.Open(context.Background()); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("open error = %v, want permission denied", err)
	}
}

func TestTrackLocalWritesSamples(t *testing.T) {
	// sanity: the track type the device produces accepts opus samples
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "test-mic")
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	// unbound tracks drop samples instead of erroring
	if err := track.WriteSample(media.Sample{Data: []byte{0xfc}}); err != nil {
		t.Fatalf("write sample: %v", err)
	}
}
