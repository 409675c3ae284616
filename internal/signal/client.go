// Package signal maintains the push channel: the long-lived connection
// over which the AppRTC server delivers signaling messages. The channel
// speaks a framed envelope protocol ({type, payLoad}) which this package
// translates into domain.ChannelEvent values.
package signal

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"apprtc/native/internal/domain"

	"github.com/gorilla/websocket"
)

const (
	pingInterval = 25 * time.Second
	pingTimeout  = 5 * time.Second
)

// envelope is the framed message the channel carries.
type envelope struct {
	Type    string          `json:"type"`
	PayLoad json.RawMessage `json:"payLoad"`
}

type messagePayload struct {
	Data string `json:"data"`
}

type errorPayload struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
}

// Opener dials push channels against a fixed channel endpoint.
type Opener struct {
	// BaseURL is the ws:// or wss:// channel endpoint. The session token
	// is appended as a query parameter.
	BaseURL string
}

// Open dials the channel for the given session token and starts the
// read loop. Events are delivered to sink from a single goroutine.
func (o *Opener) Open(token string, sink func(domain.ChannelEvent)) (domain.Channel, error) {
	u, err := url.Parse(o.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse channel url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	log.Printf("[signal] connecting to %s", u.String())

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, &domain.TransportError{Description: fmt.Sprintf("channel dial: %v", err)}
	}

	c := &Channel{
		conn:   conn,
		sink:   sink,
		closed: make(chan struct{}),
	}

	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

// Channel is one open push channel.
type Channel struct {
	conn *websocket.Conn
	sink func(domain.ChannelEvent)

	mu     sync.Mutex
	closed chan struct{}
}

// Close shuts the channel down. Safe to call more than once.
func (c *Channel) Close() {
	c.mu.Lock()
	select {
	case <-c.closed:
		c.mu.Unlock()
		return
	default:
		close(c.closed)
	}
	c.mu.Unlock()
	c.conn.Close()
}

func (c *Channel) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				// locally closed, the caller already knows
			default:
				log.Printf("[signal] read error: %v", err)
				c.sink(domain.ChannelEvent{Type: domain.ChannelClosed})
				c.Close()
			}
			return
		}

		c.dispatch(data)
	}
}

func (c *Channel) dispatch(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		perr := &domain.ParseError{Context: "channel envelope", Err: err}
		log.Printf("[signal] %v", perr)
		return
	}

	switch env.Type {
	case "onopen":
		c.sink(domain.ChannelEvent{Type: domain.ChannelOpen})

	case "onmessage":
		var payload messagePayload
		if err := json.Unmarshal(env.PayLoad, &payload); err != nil {
			perr := &domain.ParseError{Context: "onmessage payload", Err: err}
			log.Printf("[signal] %v", perr)
			return
		}
		// payLoad.data is itself a JSON string carrying the peer message
		var msg domain.PeerMessage
		if err := json.Unmarshal([]byte(payload.Data), &msg); err != nil {
			perr := &domain.ParseError{Context: "peer message", Err: err}
			log.Printf("[signal] %v", perr)
			return
		}
		log.Printf("[signal] <<< %s", msg.Type)
		c.sink(domain.ChannelEvent{Type: domain.ChannelMessage, Message: &msg})

	case "onclose":
		c.sink(domain.ChannelEvent{Type: domain.ChannelClosed})

	case "onerror":
		var payload errorPayload
		if err := json.Unmarshal(env.PayLoad, &payload); err != nil {
			perr := &domain.ParseError{Context: "onerror payload", Err: err}
			log.Printf("[signal] %v", perr)
			return
		}
		c.sink(domain.ChannelEvent{
			Type:        domain.ChannelError,
			Code:        payload.Code,
			Description: payload.Description,
		})

	default:
		log.Printf("[signal] unhandled channel message type: %q", env.Type)
	}
}

func (c *Channel) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := c.conn.WriteControl(
				websocket.PingMessage,
				[]byte{},
				time.Now().Add(pingTimeout),
			)
			c.mu.Unlock()
			if err != nil {
				select {
				case <-c.closed:
				default:
					log.Printf("[signal] ping error: %v", err)
				}
				return
			}
		}
	}
}
