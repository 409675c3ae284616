package domain

import "fmt"

// TransportError is a network or HTTP level failure at the signaling
// boundary. It is surfaced to the caller and never retried internally.
type TransportError struct {
	Description string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %s", e.Description)
}

// JoinError is a malformed or error-flagged room envelope. The join is
// aborted and the session never starts.
type JoinError struct {
	Message string
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("room join failed: %s", e.Message)
}

// TurnFetchError is a failed TURN credential fetch. It is non-fatal:
// the call proceeds with the STUN-only server list.
type TurnFetchError struct {
	Err error
}

func (e *TurnFetchError) Error() string {
	return fmt.Sprintf("turn credential fetch failed: %v", e.Err)
}

func (e *TurnFetchError) Unwrap() error { return e.Err }

// ParseError is malformed JSON at a protocol boundary. During a room
// join it aborts the join; mid-session the offending message is logged
// and dropped.
type ParseError struct {
	Context string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Context, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// PeerError is a failure reported by the underlying peer engine while
// creating or applying a session description.
type PeerError struct {
	Op  string
	Err error
}

func (e *PeerError) Error() string {
	return fmt.Sprintf("peer %s: %v", e.Op, e.Err)
}

func (e *PeerError) Unwrap() error { return e.Err }
