package domain

import "context"

// RoomClient negotiates room membership with the AppRTC server.
type RoomClient interface {
	JoinRoom(ctx context.Context, roomURL string) (*RoomInfo, error)
	ResolveICEServers(ctx context.Context, info *RoomInfo) ([]ICEServer, error)
	SendSignal(data []byte)
}

// ChannelOpener opens the long-lived push channel keyed by the session
// token. Every event the channel produces is delivered to sink, one at
// a time, until the channel is closed.
type ChannelOpener interface {
	Open(token string, sink func(ChannelEvent)) (Channel, error)
}

// Channel is an open push channel. Close is idempotent.
type Channel interface {
	Close()
}

// Peer drives the underlying peer connection engine.
type Peer interface {
	CreateOffer() (SessionDescription, error)
	CreateAnswer() (SessionDescription, error)
	SetLocalDescription(desc SessionDescription) error
	SetRemoteDescription(desc SessionDescription) error
	AddICECandidate(candidate ICECandidate) error
	HasLocalVideo() bool
	Close()
}

// PeerEvents receives asynchronous callbacks from the peer engine.
type PeerEvents interface {
	OnLocalCandidate(candidate ICECandidate)
	OnRemoteTrack(kind string)
	OnConnectionStateChange(state string)
}

// PeerFactory creates a peer connection for a resolved ICE server list.
type PeerFactory interface {
	NewPeer(servers []ICEServer, constraints *MediaConstraints, events PeerEvents) (Peer, error)
}

// Handler receives the presentation-facing events of a call.
type Handler interface {
	OnLocalTrack(hasVideo bool)
	OnRemoteTrack(kind string)
	OnHangup()
	OnError(message string)
}
