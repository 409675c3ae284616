package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	// RoomURL is the full AppRTC room URL, e.g.
	// https://apprtc.appspot.com/?r=myroom
	RoomURL string
	// ChannelURL is the push channel websocket endpoint.
	ChannelURL string
	// StatsInterval enables periodic peer stats logging when non-zero.
	StatsInterval time.Duration
}

// Load reads configuration from a .env file (if present) and environment
// variables. Environment variables take precedence over .env values.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	roomURL := os.Getenv("APPRTC_ROOM_URL")
	if roomURL == "" {
		return nil, fmt.Errorf("APPRTC_ROOM_URL environment variable is required")
	}

	channelURL := os.Getenv("APPRTC_CHANNEL_URL")
	if channelURL == "" {
		return nil, fmt.Errorf("APPRTC_CHANNEL_URL environment variable is required")
	}

	var statsInterval time.Duration
	if raw := os.Getenv("APPRTC_STATS_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("APPRTC_STATS_INTERVAL: %w", err)
		}
		statsInterval = d
	}

	return &Config{
		RoomURL:       roomURL,
		ChannelURL:    channelURL,
		StatsInterval: statsInterval,
	}, nil
}
