package config

import (
	"fmt"
	"net/url"
	"time"
)

const (
	DefaultReconnectBase        = time.Second
	DefaultReconnectCap         = 30 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultHeartbeatTimeout     = 45 * time.Second
	DefaultTypingTimeout        = 4 * time.Second
)

type Config struct {
	// ServerURL is the base URL of the collaborator API; the push channel
	// lives at <ServerURL>/api/events.
	ServerURL    string
	SessionToken string

	ReconnectBase        time.Duration
	ReconnectCap         time.Duration
	MaxReconnectAttempts int
	HeartbeatTimeout     time.Duration
	TypingTimeout        time.Duration
}

func NewConfig(serverURL, sessionToken string) (*Config, error) {
	if serverURL == "" {
		return nil, fmt.Errorf("server URL cannot be empty")
	}
	if sessionToken == "" {
		return nil, fmt.Errorf("session token cannot be empty")
	}

	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server URL must be http or https, got %q", u.Scheme)
	}

	return &Config{
		ServerURL:            serverURL,
		SessionToken:         sessionToken,
		ReconnectBase:        DefaultReconnectBase,
		ReconnectCap:         DefaultReconnectCap,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		HeartbeatTimeout:     DefaultHeartbeatTimeout,
		TypingTimeout:        DefaultTypingTimeout,
	}, nil
}
