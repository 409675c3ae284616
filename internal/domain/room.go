package domain

import (
	"net/url"
	"strings"
)

// RoomInfo holds the parsed result of a successful room join.
// It is immutable after creation; the negotiation session that is built
// from it owns it for the lifetime of one call.
type RoomInfo struct {
	Initiator        bool
	ICEServers       []ICEServer
	TurnURL          string
	PostMessageURL   string // empty when the envelope carried no room_key/me pair
	MediaConstraints *MediaConstraints
	Token            string
}

// ICEServer holds one STUN/TURN server entry. Username and Credential
// default to the empty string when the server omits them.
type ICEServer struct {
	URL        string
	Username   string
	Credential string
}

// IsTURN reports whether the server URL uses the turn scheme.
func (s ICEServer) IsTURN() bool {
	u, err := url.Parse(s.URL)
	if err != nil {
		// turn:host:port parses fine, but be permissive about odd entries
		return strings.HasPrefix(s.URL, "turn:")
	}
	return u.Scheme == "turn"
}

// HasTURN reports whether any entry in the list is a TURN server.
func HasTURN(servers []ICEServer) bool {
	for _, s := range servers {
		if s.IsTURN() {
			return true
		}
	}
	return false
}

// MediaConstraints is the video constraint set parsed from the room
// envelope. A nil *MediaConstraints means "use the system default"; a
// non-nil value with an empty Mandatory map means "default constraints,
// video explicitly enabled".
type MediaConstraints struct {
	Mandatory map[string]string
}
