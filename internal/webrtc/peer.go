// Package webrtc wraps the pion peer connection engine behind the ports
// the negotiation state machine drives.
package webrtc

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"apprtc/native/internal/domain"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	pion "github.com/pion/webrtc/v4"
)

// AppRTC local stream/track identifiers.
const (
	streamID     = "ARDAMS"
	audioTrackID = "ARDAMSa0"
	videoTrackID = "ARDAMSv0"
)

// Factory builds pion-backed peers. Capture supplies the local camera;
// leave it nil for the headless default (audio-only).
type Factory struct {
	Capture Capture
}

// NewPeer creates the peer connection for a resolved ICE server list,
// attaches the local media stream (one audio track, a video track only
// when a capture device is available) and registers the engine
// callbacks. A missing camera is the routine headless case, never an
// error.
func (f *Factory) NewPeer(servers []domain.ICEServer, constraints *domain.MediaConstraints, events domain.PeerEvents) (domain.Peer, error) {
	m := &pion.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	i := &interceptor.Registry{}
	responderFactory, err := nack.NewResponderInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack responder: %w", err)
	}
	i.Add(responderFactory)

	api := pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(i),
	)

	var iceServers []pion.ICEServer
	for _, s := range servers {
		iceServers = append(iceServers, pion.ICEServer{
			URLs:       []string{s.URL},
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	pc, err := api.NewPeerConnection(pion.Configuration{
		ICEServers:   iceServers,
		BundlePolicy: pion.BundlePolicyMaxBundle,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	p := &Peer{pc: pc}

	if err := p.attachLocalMedia(f.Capture, constraints); err != nil {
		pc.Close()
		return nil, err
	}

	// The audio track's transceiver is already sendrecv. Without a
	// camera the remote video still needs a receive direction.
	if !p.hasVideo {
		if _, err := pc.AddTransceiverFromKind(pion.RTPCodecTypeVideo, pion.RTPTransceiverInit{
			Direction: pion.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			pc.Close()
			return nil, fmt.Errorf("add video transceiver: %w", err)
		}
	}

	pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			log.Printf("[webrtc] ICE gathering complete")
			return
		}

		j := c.ToJSON()
		if isLoopback(j.Candidate) {
			log.Printf("[webrtc] filtering loopback ICE candidate")
			return
		}

		mid := ""
		if j.SDPMid != nil {
			mid = *j.SDPMid
		}
		label := 0
		if j.SDPMLineIndex != nil {
			label = int(*j.SDPMLineIndex)
		}
		events.OnLocalCandidate(domain.ICECandidate{
			ID:        mid,
			Label:     label,
			Candidate: j.Candidate,
		})
	})

	pc.OnTrack(func(track *pion.TrackRemote, receiver *pion.RTPReceiver) {
		codec := track.Codec()
		log.Printf("[webrtc] got track: kind=%s codec=%s pt=%d", track.Kind(), codec.MimeType, codec.PayloadType)
		events.OnRemoteTrack(track.Kind().String())

		// Rendering is the presentation layer's problem; keep the
		// receiver fed by draining the RTP stream.
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := track.Read(buf); err != nil {
					return
				}
			}
		}()
	})

	pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		log.Printf("[webrtc] ICE connection state: %s", state.String())
	})
	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		log.Printf("[webrtc] peer connection state: %s", state.String())
		events.OnConnectionStateChange(state.String())
	})

	return p, nil
}

// Peer wraps a pion PeerConnection. Remote candidates handed over
// before the remote description is applied are held back and flushed by
// SetRemoteDescription.
type Peer struct {
	pc *pion.PeerConnection

	mu        sync.Mutex
	remoteSet bool
	gated     []pion.ICECandidateInit
	hasVideo  bool
	closed    bool
	statsStop chan struct{}
}

func (p *Peer) attachLocalMedia(capture Capture, constraints *domain.MediaConstraints) error {
	audio, err := pion.NewTrackLocalStaticSample(pion.RTPCodecCapability{
		MimeType:  pion.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}, audioTrackID, streamID)
	if err != nil {
		return fmt.Errorf("create audio track: %w", err)
	}
	if _, err := p.pc.AddTrack(audio); err != nil {
		return fmt.Errorf("add audio track: %w", err)
	}

	if capture == nil {
		capture = NoCamera{}
	}
	video, err := capture.VideoTrack(constraints)
	if err != nil {
		log.Printf("[webrtc] no capture device (%v), proceeding audio-only", err)
		return nil
	}
	if _, err := p.pc.AddTrack(video); err != nil {
		return fmt.Errorf("add video track: %w", err)
	}
	p.hasVideo = true
	return nil
}

// CreateOffer asks the engine for an offer without applying it.
func (p *Peer) CreateOffer() (domain.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	return domain.SessionDescription{Type: domain.MsgOffer, SDP: offer.SDP}, nil
}

// CreateAnswer asks the engine for an answer without applying it.
func (p *Peer) CreateAnswer() (domain.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	return domain.SessionDescription{Type: domain.MsgAnswer, SDP: answer.SDP}, nil
}

// SetLocalDescription applies a (possibly rewritten) local description.
func (p *Peer) SetLocalDescription(desc domain.SessionDescription) error {
	sd := pion.SessionDescription{Type: pion.NewSDPType(desc.Type), SDP: desc.SDP}
	if err := p.pc.SetLocalDescription(sd); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	log.Printf("[webrtc] local %s set", desc.Type)
	return nil
}

// SetRemoteDescription applies the remote description and flushes any
// candidates that arrived before it.
func (p *Peer) SetRemoteDescription(desc domain.SessionDescription) error {
	sd := pion.SessionDescription{Type: pion.NewSDPType(desc.Type), SDP: desc.SDP}
	if err := p.pc.SetRemoteDescription(sd); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	log.Printf("[webrtc] remote %s set", desc.Type)

	p.mu.Lock()
	gated := p.gated
	p.gated = nil
	p.remoteSet = true
	p.mu.Unlock()

	for _, init := range gated {
		if err := p.pc.AddICECandidate(init); err != nil {
			log.Printf("[webrtc] add gated ICE candidate: %v", err)
		}
	}
	return nil
}

// AddICECandidate hands a remote candidate to the engine. The engine
// rejects candidates before the remote description, so until then they
// are held inside the wrapper.
func (p *Peer) AddICECandidate(candidate domain.ICECandidate) error {
	mid := candidate.ID
	label := uint16(candidate.Label)
	init := pion.ICECandidateInit{
		Candidate:     candidate.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &label,
	}

	p.mu.Lock()
	if !p.remoteSet {
		p.gated = append(p.gated, init)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := p.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

// HasLocalVideo reports whether a camera track was attached.
func (p *Peer) HasLocalVideo() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasVideo
}

// StartStats logs transport counters every interval until Close.
func (p *Peer) StartStats(interval time.Duration) {
	p.mu.Lock()
	if p.closed || p.statsStop != nil {
		p.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	p.statsStop = stop
	p.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				report := p.pc.GetStats()
				for _, s := range report {
					if t, ok := s.(pion.TransportStats); ok {
						log.Printf("[webrtc] stats: sent=%d received=%d", t.BytesSent, t.BytesReceived)
					}
				}
			}
		}
	}()
}

// Close releases the peer connection. Idempotent.
func (p *Peer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if p.statsStop != nil {
		close(p.statsStop)
		p.statsStop = nil
	}
	p.mu.Unlock()

	if err := p.pc.Close(); err != nil {
		log.Printf("[webrtc] close: %v", err)
	}
}

func isLoopback(candidate string) bool {
	return strings.Contains(candidate, "127.0.0.1") || strings.Contains(candidate, "::1 ")
}
