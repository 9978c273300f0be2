package ports

import (
	"context"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
)

type MediaTrack interface {
	ID() string
	Kind() webrtc.RTPCodecType
	Enabled() bool
	SetEnabled(enabled bool)
	// Local is the track handed to the peer connection.
	Local() webrtc.TrackLocal
	Stop()
}

// SampleTap is implemented by tracks whose encoded samples can be observed
// without owning the capture.
type SampleTap interface {
	OnSample(fn func(media.Sample)) (remove func())
}

type LocalMedia interface {
	Audio() MediaTrack
	Video() MediaTrack
	Tracks() []MediaTrack
	Stop()
}

type MediaConstraints struct {
	Audio bool
	Video bool
}

type MediaSource interface {
	Acquire(ctx context.Context, constraints MediaConstraints) (LocalMedia, error)
}

// RemoteMediaSink consumes tracks received from the remote peer.
type RemoteMediaSink interface {
	Consume(track *webrtc.TrackRemote)
}
