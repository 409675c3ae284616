// Package room turns raw AppRTC HTTP responses into structured room
// join state: the ICE server list, TURN credentials, media constraints
// and the endpoint role.
package room

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"

	"apprtc/native/internal/domain"
	"apprtc/native/internal/transport"
)

const (
	turnUserAgent = "Mozilla/5.0"
	turnOrigin    = "https://apprtc.appspot.com"
)

// roomEnvelope is the JSON body of a room join response.
type roomEnvelope struct {
	Error            json.RawMessage `json:"error"`
	ErrorMessages    []string        `json:"error_messages"`
	PCConfig         string          `json:"pc_config"`
	TurnURL          string          `json:"turn_url"`
	Initiator        flexBool        `json:"initiator"`
	RoomKey          string          `json:"room_key"`
	Me               string          `json:"me"`
	MediaConstraints string          `json:"media_constraints"`
	Token            string          `json:"token"`
}

// pcConfig is the nested JSON string inside pc_config. The username is
// server-level; credentials are per entry.
type pcConfig struct {
	IceServers []pcIceServer `json:"iceServers"`
	Username   string        `json:"username"`
}

type pcIceServer struct {
	URLs       string `json:"urls"`
	Credential string `json:"credential"`
}

type turnResponse struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	URIs     []string `json:"uris"`
}

// flexBool accepts the bool-ish encodings the server uses for
// "initiator": true, "true", 1.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	switch strings.Trim(string(data), `"`) {
	case "true", "1":
		*b = true
	default:
		*b = false
	}
	return nil
}

// Client negotiates one room membership. A Client is created per call
// attempt; after a successful JoinRoom it also knows where to POST
// outbound signaling messages.
type Client struct {
	transport *transport.Client

	mu      sync.Mutex
	postURL string
}

// NewClient creates a room client on top of the given transport.
func NewClient(t *transport.Client) *Client {
	return &Client{transport: t}
}

// JoinRoom fetches and parses the room envelope for roomURL.
func (c *Client) JoinRoom(ctx context.Context, roomURL string) (*domain.RoomInfo, error) {
	requestURL := roomURL + "&t=json"

	resp, err := c.transport.Get(ctx, requestURL, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &domain.TransportError{
			Description: fmt.Sprintf("room join returned HTTP %d", resp.StatusCode),
		}
	}

	var env roomEnvelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return nil, &domain.ParseError{Context: "room envelope", Err: err}
	}

	if len(env.Error) > 0 && string(env.Error) != "null" {
		return nil, &domain.JoinError{Message: strings.Join(env.ErrorMessages, "\n")}
	}

	servers, err := parseICEServers(env.PCConfig)
	if err != nil {
		return nil, err
	}

	info := &domain.RoomInfo{
		Initiator:        bool(env.Initiator),
		ICEServers:       servers,
		TurnURL:          env.TurnURL,
		PostMessageURL:   postMessageURL(requestURL, env.RoomKey, env.Me),
		MediaConstraints: parseMediaConstraints(env.MediaConstraints),
		Token:            env.Token,
	}

	c.mu.Lock()
	c.postURL = info.PostMessageURL
	c.mu.Unlock()

	return info, nil
}

// ResolveICEServers returns the room's ICE server list, fetching a TURN
// credential when the list has no TURN entry yet. A failed fetch is
// non-fatal: the original list is returned alongside a *TurnFetchError
// and the caller may proceed STUN-only.
func (c *Client) ResolveICEServers(ctx context.Context, info *domain.RoomInfo) ([]domain.ICEServer, error) {
	if domain.HasTURN(info.ICEServers) {
		return info.ICEServers, nil
	}

	header := http.Header{}
	header.Set("user-agent", turnUserAgent)
	header.Set("origin", turnOrigin)

	resp, err := c.transport.Get(ctx, info.TurnURL, header)
	if err != nil {
		return info.ICEServers, &domain.TurnFetchError{Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return info.ICEServers, &domain.TurnFetchError{
			Err: fmt.Errorf("turn server returned HTTP %d", resp.StatusCode),
		}
	}

	var turn turnResponse
	if err := json.Unmarshal(resp.Body, &turn); err != nil {
		return info.ICEServers, &domain.TurnFetchError{Err: err}
	}
	if len(turn.URIs) == 0 {
		return info.ICEServers, &domain.TurnFetchError{Err: fmt.Errorf("turn response carried no uris")}
	}

	servers := append([]domain.ICEServer{}, info.ICEServers...)
	servers = append(servers, domain.ICEServer{
		URL:        turn.URIs[0],
		Username:   turn.Username,
		Credential: turn.Password,
	})
	return servers, nil
}

// SendSignal posts raw signaling bytes to the room's message endpoint.
// Fire and forget: a missing endpoint is a no-op, a non-200 response is
// logged only.
func (c *Client) SendSignal(data []byte) {
	if len(data) == 0 {
		return
	}

	c.mu.Lock()
	postURL := c.postURL
	c.mu.Unlock()
	if postURL == "" {
		return
	}

	log.Printf("[room] >>> %s", string(data))

	go func() {
		req, err := http.NewRequest(http.MethodPost, postURL, bytes.NewReader(data))
		if err != nil {
			log.Printf("[room] build signal request: %v", err)
			return
		}
		resp, err := c.transport.Do(req)
		if err != nil {
			log.Printf("[room] send signal: %v", err)
			return
		}
		if resp.StatusCode != http.StatusOK {
			log.Printf("[room] bad response %d to message %s: %s",
				resp.StatusCode, string(data), string(resp.Body))
		}
	}()
}

func parseICEServers(config string) ([]domain.ICEServer, error) {
	var cfg pcConfig
	if err := json.Unmarshal([]byte(config), &cfg); err != nil {
		return nil, &domain.ParseError{Context: "pc_config", Err: err}
	}

	servers := make([]domain.ICEServer, 0, len(cfg.IceServers))
	for _, s := range cfg.IceServers {
		servers = append(servers, domain.ICEServer{
			URL:        s.URLs,
			Username:   cfg.Username,
			Credential: s.Credential,
		})
	}
	return servers, nil
}

// postMessageURL derives the signaling POST endpoint from the join
// request URL: the query string is stripped and /message?r=&u= appended.
// Both room_key and me must be present, otherwise no endpoint exists.
func postMessageURL(requestURL, roomKey, me string) string {
	if roomKey == "" || me == "" {
		return ""
	}
	base := requestURL
	if i := strings.Index(requestURL, "?"); i >= 0 {
		base = requestURL[:i]
	}
	return fmt.Sprintf("%s/message?r=%s&u=%s", base, roomKey, me)
}

// parseMediaConstraints interprets the media_constraints envelope field.
// A video object with a mandatory map yields explicit constraint pairs;
// a bare "video": true yields empty default constraints; anything else
// means no explicit video constraint (nil).
func parseMediaConstraints(raw string) *domain.MediaConstraints {
	if raw == "" {
		return nil
	}

	var outer struct {
		Video json.RawMessage `json:"video"`
	}
	if err := json.Unmarshal([]byte(raw), &outer); err != nil {
		log.Printf("[room] %v", &domain.ParseError{Context: "media_constraints", Err: err})
		return nil
	}
	if len(outer.Video) == 0 {
		return nil
	}

	var videoObj struct {
		Mandatory map[string]any `json:"mandatory"`
	}
	if err := json.Unmarshal(outer.Video, &videoObj); err == nil && videoObj.Mandatory != nil {
		mandatory := make(map[string]string, len(videoObj.Mandatory))
		for k, v := range videoObj.Mandatory {
			mandatory[k] = fmt.Sprint(v)
		}
		return &domain.MediaConstraints{Mandatory: mandatory}
	}

	var videoBool bool
	if err := json.Unmarshal(outer.Video, &videoBool); err == nil && videoBool {
		return &domain.MediaConstraints{Mandatory: map[string]string{}}
	}

	return nil
}
