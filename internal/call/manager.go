// Package call owns the negotiation state machine: it sequences room
// join, ICE server resolution, offer/answer exchange and candidate
// buffering into a correct call setup handshake.
package call

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"apprtc/native/internal/domain"
	"apprtc/native/internal/webrtc"

	"github.com/gammazero/deque"
)

// State is the lifecycle of one negotiation session.
type State int32

const (
	Idle State = iota
	Joining
	AwaitingICEServers
	Negotiating
	Connected
	Disconnected
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Joining:
		return "joining"
	case AwaitingICEServers:
		return "awaiting-ice-servers"
	case Negotiating:
		return "negotiating"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Outbound signaling payloads. The wire format is fixed by the AppRTC
// server, label/id/candidate must always be present on candidates.
type candidateSignal struct {
	Type      string `json:"type"`
	Label     int    `json:"label"`
	ID        string `json:"id"`
	Candidate string `json:"candidate"`
}

type sdpSignal struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

var byeSignal = []byte(`{"type":"bye"}`)

// Config wires a Manager to its collaborators.
type Config struct {
	// NewRoomClient builds the per-session room client.
	NewRoomClient func() domain.RoomClient
	Channels      domain.ChannelOpener
	Peers         domain.PeerFactory
	Handler       domain.Handler
	// StatsInterval enables periodic engine stats logging when > 0.
	StatsInterval time.Duration
}

// Manager runs at most one negotiation session at a time. Handler
// callbacks are notifications fired from the session's goroutine; the
// manager has already torn the session down before OnHangup/OnError
// fire, so handlers never need to call Disconnect themselves.
type Manager struct {
	cfg Config

	mu   sync.Mutex
	sess *session
}

// New creates a Manager.
func New(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// Connect starts a session for the given room URL. It reports false
// without touching anything when a session is already active.
func (m *Manager) Connect(roomURL string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != nil {
		log.Printf("[call] connect ignored, session already active")
		return false
	}

	s := newSession(m)
	m.sess = s
	go s.run(roomURL)
	return true
}

// Disconnect ends the active session, releasing the channel, the peer
// connection and the candidate queue before returning. Idempotent and
// safe in any state, including before any Connect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	s := m.sess
	m.sess = nil
	m.mu.Unlock()
	if s == nil {
		return
	}

	s.cancel()
	<-s.finished
}

// State reports the current session state, Idle when none is active.
func (m *Manager) State() State {
	m.mu.Lock()
	s := m.sess
	m.mu.Unlock()
	if s == nil {
		return Idle
	}
	return State(s.state.Load())
}

func (m *Manager) clearSession(s *session) {
	m.mu.Lock()
	if m.sess == s {
		m.sess = nil
	}
	m.mu.Unlock()
}

// session is one call attempt. All fields below the events channel are
// touched only from the run goroutine.
type session struct {
	m   *Manager
	ctx context.Context
	// cancel aborts the join phase and stops the event loop.
	cancel   context.CancelFunc
	events   chan func()
	finished chan struct{}
	state    atomic.Int32

	room    domain.RoomClient
	info    *domain.RoomInfo
	peer    domain.Peer
	channel domain.Channel

	pending   deque.Deque[domain.ICECandidate]
	buffering bool
	localSet  bool
	remoteSet bool
}

func newSession(m *Manager) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		m:         m,
		ctx:       ctx,
		cancel:    cancel,
		events:    make(chan func(), 32),
		finished:  make(chan struct{}),
		room:      m.cfg.NewRoomClient(),
		buffering: true,
	}
	s.state.Store(int32(Idle))
	return s
}

func (s *session) setState(st State) {
	s.state.Store(int32(st))
}

// post hands an event to the session goroutine. Events arriving after
// teardown are dropped.
func (s *session) post(f func()) {
	select {
	case s.events <- f:
	case <-s.ctx.Done():
	case <-s.finished:
	}
}

func (s *session) run(roomURL string) {
	defer close(s.finished)
	defer s.m.clearSession(s)

	s.setState(Joining)
	info, err := s.room.JoinRoom(s.ctx, roomURL)
	if err != nil {
		if s.ctx.Err() != nil {
			s.teardown(false)
			return
		}
		s.fail(err)
		return
	}
	s.info = info
	log.Printf("[call] joined room: initiator=%t servers=%d", info.Initiator, len(info.ICEServers))

	s.setState(AwaitingICEServers)
	servers, err := s.room.ResolveICEServers(s.ctx, info)
	if err != nil {
		var turnErr *domain.TurnFetchError
		if !errors.As(err, &turnErr) || s.ctx.Err() != nil {
			s.teardownOrFail(err)
			return
		}
		// STUN-only is a degraded but working call
		log.Printf("[call] %v, continuing without TURN", err)
	}

	peer, err := s.m.cfg.Peers.NewPeer(servers, info.MediaConstraints, peerEvents{s})
	if err != nil {
		s.fail(&domain.PeerError{Op: "create", Err: err})
		return
	}
	s.peer = peer
	s.m.cfg.Handler.OnLocalTrack(peer.HasLocalVideo())
	if interval := s.m.cfg.StatsInterval; interval > 0 {
		if sp, ok := peer.(interface{ StartStats(time.Duration) }); ok {
			sp.StartStats(interval)
		}
	}

	s.setState(Negotiating)
	channel, err := s.m.cfg.Channels.Open(info.Token, s.onChannelEvent)
	if err != nil {
		s.fail(err)
		return
	}
	s.channel = channel

	for {
		select {
		case <-s.ctx.Done():
			// local disconnect: say goodbye while the channel may
			// still deliver it
			s.teardown(true)
			return
		case f := <-s.events:
			f()
			if State(s.state.Load()) == Disconnected {
				return
			}
		}
	}
}

// teardownOrFail distinguishes a locally cancelled session from a real
// failure surfacing to the presentation layer.
func (s *session) teardownOrFail(err error) {
	if s.ctx.Err() != nil {
		s.teardown(false)
		return
	}
	s.fail(err)
}

// fail tears the session down and surfaces one human-readable message.
func (s *session) fail(err error) {
	log.Printf("[call] %v", err)
	s.teardown(false)
	s.m.cfg.Handler.OnError(err.Error())
}

// teardown moves to Disconnected and releases everything the session
// owns. Safe to call more than once; only the first call acts.
func (s *session) teardown(sendBye bool) {
	if State(s.state.Load()) == Disconnected {
		return
	}
	s.setState(Disconnected)
	s.cancel()

	if sendBye {
		s.room.SendSignal(byeSignal)
	}
	if s.channel != nil {
		s.channel.Close()
	}
	if s.peer != nil {
		s.peer.Close()
	}
	s.pending.Clear()
	s.buffering = false
	s.m.clearSession(s)
}

// onChannelEvent is the push channel sink; it funnels channel traffic
// into the session goroutine.
func (s *session) onChannelEvent(ev domain.ChannelEvent) {
	s.post(func() { s.handleChannelEvent(ev) })
}

func (s *session) handleChannelEvent(ev domain.ChannelEvent) {
	switch ev.Type {
	case domain.ChannelOpen:
		// the callee waits for the remote offer
		if s.info.Initiator {
			s.createOffer()
		}

	case domain.ChannelMessage:
		s.handlePeerMessage(ev.Message)

	case domain.ChannelClosed:
		log.Printf("[call] channel closed by remote")
		s.teardown(false)
		s.m.cfg.Handler.OnHangup()

	case domain.ChannelError:
		s.fail(&domain.TransportError{
			Description: ev.Description,
		})
	}
}

func (s *session) handlePeerMessage(msg *domain.PeerMessage) {
	if msg == nil {
		return
	}
	switch msg.Type {
	case domain.MsgOffer, domain.MsgAnswer:
		s.handleRemoteDescription(domain.SessionDescription{Type: msg.Type, SDP: msg.SDP})

	case domain.MsgCandidate:
		s.handleRemoteCandidate(domain.ICECandidate{
			ID:        msg.ID,
			Label:     msg.Label,
			Candidate: msg.Candidate,
		})

	case domain.MsgBye:
		log.Printf("[call] remote hangup")
		s.teardown(true)
		s.m.cfg.Handler.OnHangup()

	default:
		log.Printf("[call] dropping unknown peer message type %q", msg.Type)
	}
}

func (s *session) createOffer() {
	desc, err := s.peer.CreateOffer()
	if err != nil {
		s.fail(&domain.PeerError{Op: "create offer", Err: err})
		return
	}
	s.applyLocalDescription(desc)
}

func (s *session) createAnswer() {
	desc, err := s.peer.CreateAnswer()
	if err != nil {
		s.fail(&domain.PeerError{Op: "create answer", Err: err})
		return
	}
	s.applyLocalDescription(desc)
}

// applyLocalDescription rewrites the created SDP to prefer ISAC/16000,
// applies it and announces it to the remote endpoint.
func (s *session) applyLocalDescription(desc domain.SessionDescription) {
	desc.SDP = webrtc.PreferISAC(desc.SDP)

	if err := s.peer.SetLocalDescription(desc); err != nil {
		s.fail(&domain.PeerError{Op: "set local description", Err: err})
		return
	}
	s.localSet = true

	data, err := json.Marshal(sdpSignal{Type: desc.Type, SDP: desc.SDP})
	if err != nil {
		s.fail(&domain.PeerError{Op: "encode description", Err: err})
		return
	}
	s.room.SendSignal(data)

	s.descriptionApplied()
}

func (s *session) handleRemoteDescription(desc domain.SessionDescription) {
	if err := s.peer.SetRemoteDescription(desc); err != nil {
		s.fail(&domain.PeerError{Op: "set remote description", Err: err})
		return
	}
	s.remoteSet = true
	s.descriptionApplied()
}

// descriptionApplied advances the handshake after either description
// lands: a callee that now holds the remote offer but no local
// description answers; once this endpoint's descriptions are in place
// the buffered candidates drain.
func (s *session) descriptionApplied() {
	if !s.info.Initiator && s.remoteSet && !s.localSet {
		s.createAnswer()
		return
	}
	if s.localSet && (s.info.Initiator || s.remoteSet) {
		s.drainCandidates()
	}
}

// drainCandidates applies the queued remote candidates in arrival order
// and switches to apply-immediately mode. Runs at most once.
func (s *session) drainCandidates() {
	if !s.buffering {
		return
	}
	s.buffering = false

	n := s.pending.Len()
	for s.pending.Len() > 0 {
		c := s.pending.PopFront()
		if err := s.peer.AddICECandidate(c); err != nil {
			log.Printf("[call] add buffered candidate: %v", err)
		}
	}
	if n > 0 {
		log.Printf("[call] drained %d buffered candidates", n)
	}
}

func (s *session) handleRemoteCandidate(c domain.ICECandidate) {
	if s.buffering {
		s.pending.PushBack(c)
		return
	}
	if err := s.peer.AddICECandidate(c); err != nil {
		log.Printf("[call] add candidate: %v", err)
	}
}

// peerEvents funnels engine callbacks into the session goroutine.
type peerEvents struct {
	s *session
}

func (p peerEvents) OnLocalCandidate(c domain.ICECandidate) {
	p.s.post(func() {
		data, err := json.Marshal(candidateSignal{
			Type:      domain.MsgCandidate,
			Label:     c.Label,
			ID:        c.ID,
			Candidate: c.Candidate,
		})
		if err != nil {
			log.Printf("[call] encode candidate: %v", err)
			return
		}
		p.s.room.SendSignal(data)
	})
}

func (p peerEvents) OnRemoteTrack(kind string) {
	p.s.post(func() {
		p.s.m.cfg.Handler.OnRemoteTrack(kind)
	})
}

func (p peerEvents) OnConnectionStateChange(state string) {
	p.s.post(func() {
		switch state {
		case "connected":
			if State(p.s.state.Load()) == Negotiating {
				p.s.setState(Connected)
			}
		case "failed":
			p.s.fail(&domain.PeerError{Op: "transport", Err: errors.New("peer connection failed")})
		}
	})
}
