// Package config provides hub configuration loaded from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/morezero/capabilities-hub/pkg/engine"
)

const logPrefix = "config:LoadConfig"

// Config holds capabilities-hub configuration.
type Config struct {
	// COMMS: connect to standalone NATS at COMMSURL. COMMSName is also this
	// node's name in link subjects.
	COMMSURL  string `envconfig:"COMMS_URL" default:"nats://127.0.0.1:4222"`
	COMMSName string `envconfig:"SERVICE_NAME" default:"capabilities-hub"`

	// Peers: comma separated "id" or "id=remote" entries, merged over the peer-link file.
	Peers     string `envconfig:"HUB_PEERS"`
	PeersFile string `envconfig:"HUB_PEERS_FILE"`

	// Engine timers
	RemoteTimeout  time.Duration `envconfig:"HUB_REMOTE_TIMEOUT" default:"60s"`
	HandlerTimeout time.Duration `envconfig:"HUB_HANDLER_TIMEOUT" default:"0s"`
	RetryInterval  time.Duration `envconfig:"HUB_RETRY_INTERVAL" default:"250ms"`

	// Publish throttle per link, messages per second (0 = unlimited)
	PublishRate  float64 `envconfig:"HUB_PUBLISH_RATE" default:"0"`
	PublishBurst int     `envconfig:"HUB_PUBLISH_BURST" default:"64"`

	ChangeEventSubject string `envconfig:"HUB_CHANGE_EVENT_SUBJECT"`

	// Upper bound for HTTP-initiated calls
	RequestTimeout time.Duration `envconfig:"HUB_REQUEST_TIMEOUT" default:"25s"`

	// HTTP endpoint (HUB_HTTP_ADDR preferred, e.g. "0.0.0.0:8080")
	HTTPAddr string `envconfig:"HUB_HTTP_ADDR"`
	HTTPPort int    `envconfig:"HTTP_PORT" default:"8080"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ValidateForServe checks required config when running the hub.
func (c *Config) ValidateForServe() error {
	if c.COMMSURL == "" {
		return fmt.Errorf("%s - COMMS_URL is required for serve", logPrefix)
	}
	if c.COMMSName == "" {
		return fmt.Errorf("%s - SERVICE_NAME is required for serve", logPrefix)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%s - HUB_REQUEST_TIMEOUT must be positive", logPrefix)
	}
	if c.HandlerTimeout < 0 {
		return fmt.Errorf("%s - HUB_HANDLER_TIMEOUT must not be negative", logPrefix)
	}
	if c.RetryInterval < 0 {
		return fmt.Errorf("%s - HUB_RETRY_INTERVAL must not be negative", logPrefix)
	}
	if c.PublishRate < 0 {
		return fmt.Errorf("%s - HUB_PUBLISH_RATE must not be negative", logPrefix)
	}
	return nil
}

// EngineConfig returns the per-peer engine settings.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		RemoteTimeout:  c.RemoteTimeout,
		HandlerTimeout: c.HandlerTimeout,
		RetryInterval:  c.RetryInterval,
	}
}

// ListenAddr returns the HTTP listen address.
func (c *Config) ListenAddr() string {
	if c.HTTPAddr != "" {
		return c.HTTPAddr
	}
	return fmt.Sprintf(":%d", c.HTTPPort)
}
