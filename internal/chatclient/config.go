package chatclient

import "time"

const (
	defaultMaxReconnectAttempts   = 5
	defaultReconnectBaseDelay     = time.Second
	defaultReconnectMaxDelay      = 6 * time.Second
	defaultSessionTimeout         = 15 * time.Second
	defaultKeepaliveCheckInterval = 30 * time.Second
	defaultKeepaliveGrace         = 5 * time.Second
)

type Config struct {
	// Channel is the broadcaster login whose chat is joined.
	Channel string
	// ConnectMessage is posted to chat once after the first connect, if set.
	ConnectMessage string

	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration

	SessionTimeout         time.Duration
	KeepaliveCheckInterval time.Duration
	// KeepaliveGrace is added to the server keepalive timeout before the
	// connection counts as stale. Negative means no grace.
	KeepaliveGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = defaultReconnectBaseDelay
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = defaultReconnectMaxDelay
	}
	if c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		c.ReconnectMaxDelay = c.ReconnectBaseDelay
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = defaultSessionTimeout
	}
	if c.KeepaliveCheckInterval <= 0 {
		c.KeepaliveCheckInterval = defaultKeepaliveCheckInterval
	}
	if c.KeepaliveGrace < 0 {
		c.KeepaliveGrace = 0
	} else if c.KeepaliveGrace == 0 {
		c.KeepaliveGrace = defaultKeepaliveGrace
	}
	return c
}
