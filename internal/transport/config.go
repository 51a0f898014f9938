package transport

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/jdwpd/internal/protocol/frame"
)

var (
	ErrInvalidBufferSize   = errors.New("transport: input buffer smaller than packet header")
	ErrInvalidPortRange    = errors.New("transport: invalid port range")
	ErrTunnelHostRequired  = errors.New("transport: tunnel host required")
	ErrTunnelUserRequired  = errors.New("transport: tunnel user required")
	ErrTunnelKeyRequired   = errors.New("transport: tunnel key path required")
	ErrControlSocketNeeded = errors.New("transport: control socket address required")
)

// BackoffConfig defines the client-mode establish retry schedule.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// PortRange is probed in order when a server is configured with port 0.
type PortRange struct {
	First uint16
	Last  uint16
}

// Config tunes connection setup and the receive path. The zero value of each
// field is replaced by DefaultConfig's value in WithDefaults.
type Config struct {
	ConnectTimeout     time.Duration
	WriteTimeout       time.Duration
	InputBufferSize    int
	MaxConnectAttempts int
	Backoff            BackoffConfig
	PortRange          PortRange
	ControlSocket      string
	Tunnel             *SSHTunnel
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:     5 * time.Second,
		WriteTimeout:       15 * time.Second,
		InputBufferSize:    8192,
		MaxConnectAttempts: 1,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
		PortRange:     PortRange{First: 8000, Last: 8040},
		ControlSocket: "@jdwp-control",
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.WriteTimeout < 0 {
		c.WriteTimeout = 0
	}
	if c.InputBufferSize == 0 {
		c.InputBufferSize = def.InputBufferSize
	}
	if c.MaxConnectAttempts <= 0 {
		c.MaxConnectAttempts = def.MaxConnectAttempts
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	if c.Backoff.Multiplier < 1 {
		c.Backoff.Multiplier = def.Backoff.Multiplier
	}
	if c.Backoff.MaxDelay < c.Backoff.InitialDelay {
		c.Backoff.MaxDelay = c.Backoff.InitialDelay
	}
	if c.PortRange.First == 0 && c.PortRange.Last == 0 {
		c.PortRange = def.PortRange
	}
	if strings.TrimSpace(c.ControlSocket) == "" {
		c.ControlSocket = def.ControlSocket
	}
	return c
}

func (c Config) Validate() error {
	if c.InputBufferSize < frame.HeaderLen || c.InputBufferSize < frame.HandshakeLen {
		return fmt.Errorf("%w: %d", ErrInvalidBufferSize, c.InputBufferSize)
	}
	if c.PortRange.First == 0 || c.PortRange.Last < c.PortRange.First {
		return fmt.Errorf("%w: %d-%d", ErrInvalidPortRange, c.PortRange.First, c.PortRange.Last)
	}
	if c.Tunnel != nil {
		if err := c.Tunnel.Validate(); err != nil {
			return err
		}
	}
	return nil
}
