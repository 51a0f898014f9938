// Package config loads the jdwpd daemon file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/jdwpd/internal/admin"
	"github.com/danmuck/jdwpd/internal/options"
	"github.com/danmuck/jdwpd/internal/transport"
	"github.com/pelletier/go-toml/v2"
)

var (
	ErrMissingOptions = errors.New("config: options is required")
	ErrInvalidValue   = errors.New("config: invalid value")
)

type Config struct {
	Options   string          `toml:"options"`
	Agent     AgentConfig     `toml:"agent"`
	Admin     AdminConfig     `toml:"admin"`
	Transport TransportConfig `toml:"transport"`
	Tunnel    *TunnelConfig   `toml:"tunnel"`
	Classes   []NameEntry     `toml:"classes"`
	Methods   []NameEntry     `toml:"methods"`
}

// AgentConfig describes what the built-in processor reports to debuggers.
type AgentConfig struct {
	ThreadID    uint64 `toml:"thread_id"`
	Description string `toml:"description"`
	VMName      string `toml:"vm_name"`
	VMVersion   string `toml:"vm_version"`
}

type AdminConfig struct {
	Addr        string   `toml:"addr"`
	Token       string   `toml:"token"`
	CorsOrigins []string `toml:"cors_origins"`
	CertFile    string   `toml:"cert_file"`
	KeyFile     string   `toml:"key_file"`
}

// TransportConfig holds durations as strings ("250ms", "5s").
type TransportConfig struct {
	ConnectTimeout     string   `toml:"connect_timeout"`
	WriteTimeout       string   `toml:"write_timeout"`
	InputBufferBytes   int      `toml:"input_buffer_bytes"`
	MaxConnectAttempts int      `toml:"max_connect_attempts"`
	BackoffInitial     string   `toml:"backoff_initial"`
	BackoffMax         string   `toml:"backoff_max"`
	ControlSocket      string   `toml:"control_socket"`
	PortRange          []uint16 `toml:"port_range"`
}

type TunnelConfig struct {
	Host                        string `toml:"host"`
	Port                        string `toml:"port"`
	User                        string `toml:"user"`
	KeyPath                     string `toml:"key_path"`
	KnownHostsPath              string `toml:"known_hosts_path"`
	InsecureSkipHostKeyChecking bool   `toml:"insecure_skip_host_key_checking"`
	Timeout                     string `toml:"timeout"`
}

// NameEntry maps a class or method id to a display name.
type NameEntry struct {
	ID   uint64 `toml:"id"`
	Name string `toml:"name"`
}

func Load(path string) (Config, error) {
	var cfg Config
	if err := loadToml(path, &cfg); err != nil {
		return Config{}, err
	}
	if cfg.Admin.Addr == "" {
		cfg.Admin.Addr = "127.0.0.1:9300"
	}
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Options) == "" {
		return ErrMissingOptions
	}
	if _, err := options.Parse(cfg.Options); err != nil {
		return err
	}
	if err := cfg.AdminServer().Validate(); err != nil {
		return err
	}
	if _, err := cfg.TransportConfig(); err != nil {
		return err
	}
	for i, e := range append(append([]NameEntry(nil), cfg.Classes...), cfg.Methods...) {
		if strings.TrimSpace(e.Name) == "" {
			return fmt.Errorf("%w: name entry %d missing name", ErrInvalidValue, i)
		}
	}
	return nil
}

// ParsedOptions parses the option string. Load has already validated it.
func (c Config) ParsedOptions() (options.Options, error) {
	return options.Parse(c.Options)
}

func (c Config) AdminServer() admin.Config {
	return admin.Config{
		Addr:        c.Admin.Addr,
		Token:       c.Admin.Token,
		CORSOrigins: c.Admin.CorsOrigins,
		CertFile:    c.Admin.CertFile,
		KeyFile:     c.Admin.KeyFile,
	}
}

// TransportConfig converts the file section into a transport.Config with
// defaults applied and validated.
func (c Config) TransportConfig() (transport.Config, error) {
	t := c.Transport
	out := transport.Config{
		InputBufferSize:    t.InputBufferBytes,
		MaxConnectAttempts: t.MaxConnectAttempts,
		ControlSocket:      t.ControlSocket,
	}

	var err error
	if out.ConnectTimeout, err = duration("transport.connect_timeout", t.ConnectTimeout); err != nil {
		return transport.Config{}, err
	}
	if out.WriteTimeout, err = duration("transport.write_timeout", t.WriteTimeout); err != nil {
		return transport.Config{}, err
	}
	if out.Backoff.InitialDelay, err = duration("transport.backoff_initial", t.BackoffInitial); err != nil {
		return transport.Config{}, err
	}
	if out.Backoff.MaxDelay, err = duration("transport.backoff_max", t.BackoffMax); err != nil {
		return transport.Config{}, err
	}
	if out.Backoff.InitialDelay > 0 {
		out.Backoff.Jitter = true
	}

	switch len(t.PortRange) {
	case 0:
	case 2:
		out.PortRange = transport.PortRange{First: t.PortRange[0], Last: t.PortRange[1]}
	default:
		return transport.Config{}, fmt.Errorf("%w: transport.port_range needs [first, last]", ErrInvalidValue)
	}

	if c.Tunnel != nil {
		tun := &transport.SSHTunnel{
			Host:                        c.Tunnel.Host,
			Port:                        c.Tunnel.Port,
			User:                        c.Tunnel.User,
			KeyPath:                     c.Tunnel.KeyPath,
			KnownHostsPath:              c.Tunnel.KnownHostsPath,
			InsecureSkipHostKeyChecking: c.Tunnel.InsecureSkipHostKeyChecking,
		}
		if tun.Timeout, err = duration("tunnel.timeout", c.Tunnel.Timeout); err != nil {
			return transport.Config{}, err
		}
		out.Tunnel = tun
	}

	out = out.WithDefaults()
	if err := out.Validate(); err != nil {
		return transport.Config{}, err
	}
	return out, nil
}

func duration(field, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidValue, field, raw)
	}
	return d, nil
}
