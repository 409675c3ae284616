package domain

// ChannelEventType identifies a push channel event.
type ChannelEventType string

const (
	ChannelOpen    ChannelEventType = "open"
	ChannelMessage ChannelEventType = "message"
	ChannelClosed  ChannelEventType = "close"
	ChannelError   ChannelEventType = "error"
)

// ChannelEvent is one element of the push channel event stream.
// Message is non-nil only for ChannelMessage; Code/Description are set
// only for ChannelError.
type ChannelEvent struct {
	Type        ChannelEventType
	Message     *PeerMessage
	Code        int
	Description string
}

// Peer message types exchanged through the signaling server.
const (
	MsgCandidate = "candidate"
	MsgOffer     = "offer"
	MsgAnswer    = "answer"
	MsgBye       = "bye"
)

// PeerMessage is the JSON structure relayed between the two endpoints.
// candidate messages carry ID/Label/Candidate, offer/answer carry SDP,
// bye carries nothing.
type PeerMessage struct {
	Type      string `json:"type"`
	SDP       string `json:"sdp,omitempty"`
	ID        string `json:"id,omitempty"`
	Label     int    `json:"label,omitempty"`
	Candidate string `json:"candidate,omitempty"`
}

// SessionDescription is a local or remote SDP with its kind
// ("offer" or "answer").
type SessionDescription struct {
	Type string
	SDP  string
}

// ICECandidate is one discovered network path in the trickle form the
// wire protocol uses: ID is the sdpMid, Label the media line index.
type ICECandidate struct {
	ID        string
	Label     int
	Candidate string
}
