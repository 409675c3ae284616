package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"apprtc/native/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const offerWithISAC = "v=0\r\n" +
	"o=- 1 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111 103 104\r\n" +
	"a=rtpmap:103 ISAC/16000\r\n"

// fakeRoom records signaling traffic and serves canned join results.
type fakeRoom struct {
	mu         sync.Mutex
	info       *domain.RoomInfo
	joinErr    error
	resolveErr error
	signals    [][]byte
	signalCh   chan []byte
}

func (f *fakeRoom) JoinRoom(ctx context.Context, roomURL string) (*domain.RoomInfo, error) {
	if f.joinErr != nil {
		return nil, f.joinErr
	}
	return f.info, nil
}

func (f *fakeRoom) ResolveICEServers(ctx context.Context, info *domain.RoomInfo) ([]domain.ICEServer, error) {
	return info.ICEServers, f.resolveErr
}

func (f *fakeRoom) SendSignal(data []byte) {
	f.mu.Lock()
	f.signals = append(f.signals, data)
	f.mu.Unlock()
	select {
	case f.signalCh <- data:
	default:
	}
}

func (f *fakeRoom) sentSignals() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.signals))
	for i, s := range f.signals {
		out[i] = string(s)
	}
	return out
}

type fakeChannel struct {
	closed atomic.Bool
}

func (f *fakeChannel) Close() { f.closed.Store(true) }

type fakeOpener struct {
	mu      sync.Mutex
	openErr error
	sink    func(domain.ChannelEvent)
	channel *fakeChannel
}

func (f *fakeOpener) Open(token string, sink func(domain.ChannelEvent)) (domain.Channel, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	ch := &fakeChannel{}
	f.mu.Lock()
	f.sink = sink
	f.channel = ch
	f.mu.Unlock()
	return ch, nil
}

func (f *fakeOpener) sinkFn() func(domain.ChannelEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sink
}

// fakePeer records every engine interaction.
type fakePeer struct {
	mu           sync.Mutex
	offerSDP     string
	answerSDP    string
	offerErr     error
	answerErr    error
	setLocalErr  error
	setRemoteErr error
	addErr       error
	hasVideo     bool

	local  []domain.SessionDescription
	remote []domain.SessionDescription
	added  []domain.ICECandidate
	closed bool
}

func (f *fakePeer) CreateOffer() (domain.SessionDescription, error) {
	if f.offerErr != nil {
		return domain.SessionDescription{}, f.offerErr
	}
	return domain.SessionDescription{Type: domain.MsgOffer, SDP: f.offerSDP}, nil
}

func (f *fakePeer) CreateAnswer() (domain.SessionDescription, error) {
	if f.answerErr != nil {
		return domain.SessionDescription{}, f.answerErr
	}
	return domain.SessionDescription{Type: domain.MsgAnswer, SDP: f.answerSDP}, nil
}

func (f *fakePeer) SetLocalDescription(desc domain.SessionDescription) error {
	if f.setLocalErr != nil {
		return f.setLocalErr
	}
	f.mu.Lock()
	f.local = append(f.local, desc)
	f.mu.Unlock()
	return nil
}

func (f *fakePeer) SetRemoteDescription(desc domain.SessionDescription) error {
	if f.setRemoteErr != nil {
		return f.setRemoteErr
	}
	f.mu.Lock()
	f.remote = append(f.remote, desc)
	f.mu.Unlock()
	return nil
}

func (f *fakePeer) AddICECandidate(c domain.ICECandidate) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.mu.Lock()
	f.added = append(f.added, c)
	f.mu.Unlock()
	return nil
}

func (f *fakePeer) HasLocalVideo() bool { return f.hasVideo }

func (f *fakePeer) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakePeer) addedCandidates() []domain.ICECandidate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ICECandidate{}, f.added...)
}

func (f *fakePeer) localDescs() []domain.SessionDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.SessionDescription{}, f.local...)
}

func (f *fakePeer) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeFactory struct {
	mu     sync.Mutex
	peer   *fakePeer
	err    error
	events domain.PeerEvents
}

func (f *fakeFactory) NewPeer(servers []domain.ICEServer, constraints *domain.MediaConstraints, events domain.PeerEvents) (domain.Peer, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	f.events = events
	f.mu.Unlock()
	return f.peer, nil
}

func (f *fakeFactory) peerEvents() domain.PeerEvents {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events
}

type fakeHandler struct {
	localTracks  chan bool
	remoteTracks chan string
	hangups      chan struct{}
	errs         chan string
}

func newFakeHandler() *fakeHandler {
	return &fakeHandler{
		localTracks:  make(chan bool, 4),
		remoteTracks: make(chan string, 4),
		hangups:      make(chan struct{}, 4),
		errs:         make(chan string, 4),
	}
}

func (f *fakeHandler) OnLocalTrack(hasVideo bool) { f.localTracks <- hasVideo }
func (f *fakeHandler) OnRemoteTrack(kind string)  { f.remoteTracks <- kind }
func (f *fakeHandler) OnHangup()                  { f.hangups <- struct{}{} }
func (f *fakeHandler) OnError(message string)     { f.errs <- message }

type harness struct {
	room    *fakeRoom
	opener  *fakeOpener
	peer    *fakePeer
	factory *fakeFactory
	handler *fakeHandler
	manager *Manager
}

func newHarness(initiator bool) *harness {
	room := &fakeRoom{
		info: &domain.RoomInfo{
			Initiator:      initiator,
			ICEServers:     []domain.ICEServer{{URL: "stun:stun.example.com:19302"}},
			PostMessageURL: "https://example.com/room/message?r=r1&u=u1",
			Token:          "tok-1",
		},
		signalCh: make(chan []byte, 16),
	}
	peer := &fakePeer{offerSDP: offerWithISAC, answerSDP: offerWithISAC}
	h := &harness{
		room:    room,
		opener:  &fakeOpener{},
		peer:    peer,
		factory: &fakeFactory{peer: peer},
		handler: newFakeHandler(),
	}
	h.manager = New(Config{
		NewRoomClient: func() domain.RoomClient { return h.room },
		Channels:      h.opener,
		Peers:         h.factory,
		Handler:       h.handler,
	})
	return h
}

// connect starts the session and waits for the push channel to open.
func (h *harness) connect(t *testing.T) {
	t.Helper()
	require.True(t, h.manager.Connect("https://example.com/room?r=r1"))
	require.Eventually(t, func() bool { return h.opener.sinkFn() != nil },
		2*time.Second, 5*time.Millisecond, "push channel never opened")
}

func (h *harness) push(ev domain.ChannelEvent) {
	h.opener.sinkFn()(ev)
}

func (h *harness) pushPeerMessage(msg domain.PeerMessage) {
	h.push(domain.ChannelEvent{Type: domain.ChannelMessage, Message: &msg})
}

func candidateN(n int) domain.ICECandidate {
	return domain.ICECandidate{
		ID:        "audio",
		Label:     0,
		Candidate: fmt.Sprintf("candidate:%d 1 udp 1 10.0.0.%d 5000 typ host", n, n),
	}
}

func TestConnect_SecondCallIsRejected(t *testing.T) {
	h := newHarness(false)
	h.connect(t)

	assert.False(t, h.manager.Connect("https://example.com/room?r=other"))
	assert.Equal(t, Negotiating, h.manager.State(), "existing session untouched")

	h.manager.Disconnect()
}

func TestRemoteBye_HangsUpExactlyOnce(t *testing.T) {
	h := newHarness(false)
	h.connect(t)

	h.pushPeerMessage(domain.PeerMessage{Type: domain.MsgBye})

	select {
	case <-h.handler.hangups:
	case <-time.After(2 * time.Second):
		t.Fatal("no hangup event")
	}
	select {
	case <-h.handler.hangups:
		t.Fatal("second hangup event")
	case <-time.After(100 * time.Millisecond):
	}

	assert.Equal(t, Idle, h.manager.State())
	assert.True(t, h.peer.isClosed())
	assert.True(t, h.opener.channel.closed.Load())
	assert.Contains(t, h.room.sentSignals(), `{"type":"bye"}`)
}

func TestInitiator_OffersOnChannelOpen(t *testing.T) {
	h := newHarness(true)
	h.connect(t)

	h.push(domain.ChannelEvent{Type: domain.ChannelOpen})

	require.Eventually(t, func() bool { return len(h.peer.localDescs()) == 1 },
		2*time.Second, 5*time.Millisecond)

	desc := h.peer.localDescs()[0]
	assert.Equal(t, domain.MsgOffer, desc.Type)
	assert.Contains(t, desc.SDP, "m=audio 9 UDP/TLS/RTP/SAVPF 103 111 104",
		"offer SDP must prefer ISAC/16000")

	select {
	case data := <-h.room.signalCh:
		assert.Contains(t, string(data), `"type":"offer"`)
	case <-time.After(2 * time.Second):
		t.Fatal("offer never signaled")
	}

	h.manager.Disconnect()
}

func TestCallee_WaitsThenAnswersRemoteOffer(t *testing.T) {
	h := newHarness(false)
	h.connect(t)

	h.push(domain.ChannelEvent{Type: domain.ChannelOpen})
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, h.peer.localDescs(), "callee must wait for the offer")

	h.pushPeerMessage(domain.PeerMessage{Type: domain.MsgOffer, SDP: offerWithISAC})

	require.Eventually(t, func() bool { return len(h.peer.localDescs()) == 1 },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.MsgAnswer, h.peer.localDescs()[0].Type)

	select {
	case data := <-h.room.signalCh:
		assert.Contains(t, string(data), `"type":"answer"`)
	case <-time.After(2 * time.Second):
		t.Fatal("answer never signaled")
	}

	h.manager.Disconnect()
}

func TestCandidateBuffering_DrainsInArrivalOrder(t *testing.T) {
	h := newHarness(false)
	h.connect(t)
	h.push(domain.ChannelEvent{Type: domain.ChannelOpen})

	c1, c2, c3 := candidateN(1), candidateN(2), candidateN(3)
	for _, c := range []domain.ICECandidate{c1, c2} {
		h.pushPeerMessage(domain.PeerMessage{
			Type: domain.MsgCandidate, ID: c.ID, Label: c.Label, Candidate: c.Candidate,
		})
	}

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, h.peer.addedCandidates(), "candidates must be buffered before the descriptions")

	// remote offer arrives, answer goes out, queue drains
	h.pushPeerMessage(domain.PeerMessage{Type: domain.MsgOffer, SDP: offerWithISAC})

	require.Eventually(t, func() bool { return len(h.peer.addedCandidates()) == 2 },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []domain.ICECandidate{c1, c2}, h.peer.addedCandidates(),
		"drain must preserve arrival order")

	// past the drain point candidates apply immediately
	h.pushPeerMessage(domain.PeerMessage{
		Type: domain.MsgCandidate, ID: c3.ID, Label: c3.Label, Candidate: c3.Candidate,
	})
	require.Eventually(t, func() bool { return len(h.peer.addedCandidates()) == 3 },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, c3, h.peer.addedCandidates()[2])

	h.manager.Disconnect()
}

func TestInitiator_AppliesCandidatesAfterLocalDescription(t *testing.T) {
	h := newHarness(true)
	h.connect(t)
	h.push(domain.ChannelEvent{Type: domain.ChannelOpen})

	require.Eventually(t, func() bool { return len(h.peer.localDescs()) == 1 },
		2*time.Second, 5*time.Millisecond)

	c := candidateN(1)
	h.pushPeerMessage(domain.PeerMessage{
		Type: domain.MsgCandidate, ID: c.ID, Label: c.Label, Candidate: c.Candidate,
	})
	require.Eventually(t, func() bool { return len(h.peer.addedCandidates()) == 1 },
		2*time.Second, 5*time.Millisecond)

	h.manager.Disconnect()
}

func TestJoinFailure_SurfacesErrorAndRecovers(t *testing.T) {
	h := newHarness(false)
	h.room.joinErr = &domain.JoinError{Message: "room is full"}

	require.True(t, h.manager.Connect("https://example.com/room?r=r1"))

	select {
	case msg := <-h.handler.errs:
		assert.Contains(t, msg, "room is full")
	case <-time.After(2 * time.Second):
		t.Fatal("no error event")
	}

	require.Eventually(t, func() bool { return h.manager.State() == Idle },
		2*time.Second, 5*time.Millisecond)

	// the manager is reusable after a failed join
	h.room.joinErr = nil
	h.connect(t)
	h.manager.Disconnect()
}

func TestTurnFetchFailure_ProceedsStunOnly(t *testing.T) {
	h := newHarness(false)
	h.room.resolveErr = &domain.TurnFetchError{Err: errors.New("turn server down")}

	h.connect(t)

	select {
	case msg := <-h.handler.errs:
		t.Fatalf("unexpected error event: %s", msg)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, Negotiating, h.manager.State())

	h.manager.Disconnect()
}

func TestDisconnect_IsIdempotentAndSafeBeforeConnect(t *testing.T) {
	h := newHarness(false)

	h.manager.Disconnect() // nothing started, must not block or panic

	h.connect(t)
	h.manager.Disconnect()

	assert.True(t, h.peer.isClosed())
	assert.True(t, h.opener.channel.closed.Load())
	assert.Contains(t, h.room.sentSignals(), `{"type":"bye"}`)
	assert.Equal(t, Idle, h.manager.State())

	h.manager.Disconnect() // second call is a no-op

	// and the manager can start a fresh session afterwards
	assert.True(t, h.manager.Connect("https://example.com/room?r=r1"))
	h.manager.Disconnect()
}

func TestChannelError_SurfacesAndTearsDown(t *testing.T) {
	h := newHarness(false)
	h.connect(t)

	h.push(domain.ChannelEvent{Type: domain.ChannelError, Code: 401, Description: "token expired"})

	select {
	case msg := <-h.handler.errs:
		assert.Contains(t, msg, "token expired")
	case <-time.After(2 * time.Second):
		t.Fatal("no error event")
	}
	require.Eventually(t, func() bool { return h.peer.isClosed() },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, Idle, h.manager.State())
}

func TestRemoteDescriptionFailure_Surfaces(t *testing.T) {
	h := newHarness(false)
	h.connect(t)
	h.peer.setRemoteErr = errors.New("engine rejected sdp")

	h.pushPeerMessage(domain.PeerMessage{Type: domain.MsgOffer, SDP: offerWithISAC})

	select {
	case msg := <-h.handler.errs:
		assert.Contains(t, msg, "engine rejected sdp")
	case <-time.After(2 * time.Second):
		t.Fatal("no error event")
	}
	assert.Equal(t, Idle, h.manager.State())
}

func TestLocalCandidate_IsSignaled(t *testing.T) {
	h := newHarness(true)
	h.connect(t)

	h.factory.peerEvents().OnLocalCandidate(domain.ICECandidate{
		ID: "audio", Label: 0, Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host",
	})

	select {
	case data := <-h.room.signalCh:
		// label must be present even when zero
		assert.JSONEq(t, `{"type":"candidate","label":0,"id":"audio","candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host"}`, string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("candidate never signaled")
	}

	h.manager.Disconnect()
}

func TestRemoteTrack_ReachesHandler(t *testing.T) {
	h := newHarness(false)
	h.connect(t)

	h.factory.peerEvents().OnRemoteTrack("video")

	select {
	case kind := <-h.handler.remoteTracks:
		assert.Equal(t, "video", kind)
	case <-time.After(2 * time.Second):
		t.Fatal("no remote track event")
	}

	h.manager.Disconnect()
}

func TestConnectionState_ConnectedAndFailed(t *testing.T) {
	h := newHarness(false)
	h.connect(t)

	h.factory.peerEvents().OnConnectionStateChange("connected")
	require.Eventually(t, func() bool { return h.manager.State() == Connected },
		2*time.Second, 5*time.Millisecond)

	h.factory.peerEvents().OnConnectionStateChange("failed")
	select {
	case msg := <-h.handler.errs:
		assert.Contains(t, msg, "failed")
	case <-time.After(2 * time.Second):
		t.Fatal("no error event")
	}
	assert.Equal(t, Idle, h.manager.State())
}

func TestLocalTrackEvent_ReportsAudioOnly(t *testing.T) {
	h := newHarness(false)
	h.connect(t)

	select {
	case hasVideo := <-h.handler.localTracks:
		assert.False(t, hasVideo, "headless harness has no camera")
	case <-time.After(2 * time.Second):
		t.Fatal("no local track event")
	}

	h.manager.Disconnect()
}
