package webrtc

import (
	"errors"

	"apprtc/native/internal/domain"

	pion "github.com/pion/webrtc/v4"
)

// ErrNoCamera signals that no capture device exists. Callers proceed
// audio-only; in a simulator or headless environment this is routine.
var ErrNoCamera = errors.New("no camera available")

// Capture acquires a local front-facing camera as a sendable track.
type Capture interface {
	VideoTrack(constraints *domain.MediaConstraints) (pion.TrackLocal, error)
}

// NoCamera is the headless capture source: it never yields a track.
type NoCamera struct{}

func (NoCamera) VideoTrack(*domain.MediaConstraints) (pion.TrackLocal, error) {
	return nil, ErrNoCamera
}

// StaticSource serves a pre-built track, e.g. one fed by an external
// encoder pipeline.
type StaticSource struct {
	Track pion.TrackLocal
}

func (s StaticSource) VideoTrack(*domain.MediaConstraints) (pion.TrackLocal, error) {
	if s.Track == nil {
		return nil, ErrNoCamera
	}
	return s.Track, nil
}
