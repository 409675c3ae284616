package main

import (
	"context"
	"fmt"
	"log"
	"os"
	ossignal "os/signal"
	"syscall"

	"apprtc/native/internal/call"
	"apprtc/native/internal/config"
	"apprtc/native/internal/domain"
	"apprtc/native/internal/room"
	sigclient "apprtc/native/internal/signal"
	"apprtc/native/internal/transport"
	"apprtc/native/internal/webrtc"
)

const helpText = `apprtc - Join an AppRTC video-chat room from the terminal

The client joins the configured room, negotiates the call and stays
connected until the remote side hangs up or the process is interrupted.
Without a camera it joins audio-only.

Environment Variables (required):
  APPRTC_ROOM_URL     Full room URL, e.g. https://apprtc.appspot.com/?r=myroom
  APPRTC_CHANNEL_URL  Push channel websocket endpoint

Environment Variables (optional):
  APPRTC_STATS_INTERVAL  Peer stats logging interval, e.g. 10s

Options:
  -h, --help  Show this help message
`

// consoleHandler renders call events to the log and ends the process on
// remote hangup.
type consoleHandler struct {
	cancel context.CancelFunc
}

func (h *consoleHandler) OnLocalTrack(hasVideo bool) {
	if hasVideo {
		log.Printf("[main] local stream ready (audio+video)")
	} else {
		log.Printf("[main] local stream ready (audio-only)")
	}
}

func (h *consoleHandler) OnRemoteTrack(kind string) {
	log.Printf("[main] remote %s track arrived", kind)
}

func (h *consoleHandler) OnHangup() {
	log.Printf("[main] remote hung up")
	h.cancel()
}

func (h *consoleHandler) OnError(message string) {
	log.Printf("[main] call failed: %s", message)
	h.cancel()
}

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		fmt.Print(helpText)
		os.Exit(0)
	}

	log.SetOutput(os.Stderr)
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[main] %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %s, hanging up", sig)
		cancel()
	}()

	httpClient := transport.New(nil)

	manager := call.New(call.Config{
		NewRoomClient: func() domain.RoomClient {
			return room.NewClient(httpClient)
		},
		Channels:      &sigclient.Opener{BaseURL: cfg.ChannelURL},
		Peers:         &webrtc.Factory{},
		Handler:       &consoleHandler{cancel: cancel},
		StatsInterval: cfg.StatsInterval,
	})

	log.Printf("[main] connecting to room %s", cfg.RoomURL)
	if !manager.Connect(cfg.RoomURL) {
		log.Fatalf("[main] could not start session")
	}

	<-ctx.Done()
	log.Printf("[main] shutting down")

	manager.Disconnect()

	log.Printf("[main] done")
}
