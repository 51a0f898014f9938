// Package client is the debugger side of the wire protocol: it performs the
// handshake and issues commands against an agent.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/jdwpd/internal/jdwp"
	"github.com/danmuck/jdwpd/internal/protocol/frame"
	"github.com/danmuck/jdwpd/internal/protocol/wire"
	"github.com/danmuck/jdwpd/internal/transport"
	"github.com/rs/zerolog/log"
)

var (
	ErrAddressRequired = errors.New("client: agent address required")
	ErrClosed          = errors.New("client: connection closed")
)

// ReplyError is a reply carrying a non-zero error code.
type ReplyError struct {
	CommandSet uint8
	Command    uint8
	Code       uint16
}

func (e *ReplyError) Error() string {
	name := jdwp.CommandName(e.CommandSet, e.Command)
	if name == "" {
		name = fmt.Sprintf("%d/%d", e.CommandSet, e.Command)
	}
	return fmt.Sprintf("client: %s failed with error %d", name, e.Code)
}

type Config struct {
	Address        string
	ConnectTimeout time.Duration
	ReplyTimeout   time.Duration
	Limits         frame.Limits
	Tunnel         *transport.SSHTunnel
	// EventBuffer bounds queued agent-originated packets; overflow is dropped.
	EventBuffer int
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 5 * time.Second,
		ReplyTimeout:   10 * time.Second,
		Limits:         frame.Limits{MaxPacketBytes: 1 << 20},
		EventBuffer:    64,
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.ReplyTimeout <= 0 {
		c.ReplyTimeout = def.ReplyTimeout
	}
	if c.Limits.MaxPacketBytes == 0 {
		c.Limits = def.Limits
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = def.EventBuffer
	}
	return c
}

// Client is one debugger connection. Commands are issued one at a time.
type Client struct {
	cfg    Config
	conn   net.Conn
	mu     sync.Mutex
	nextID atomic.Uint32
	events chan frame.Packet
	closed atomic.Bool
}

// Dial connects to a listening agent and performs the handshake.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	cfg = cfg.WithDefaults()
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, ErrAddressRequired
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	var conn net.Conn
	var err error
	if cfg.Tunnel != nil {
		conn, err = cfg.Tunnel.DialContext(dialCtx, "tcp", cfg.Address)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(dialCtx, "tcp", cfg.Address)
	}
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", cfg.Address, err)
	}
	return New(ctx, conn, cfg)
}

// Accept waits for a client-mode agent to connect to ln and performs the
// handshake on the new connection.
func Accept(ctx context.Context, ln net.Listener, cfg Config) (*Client, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := ln.Accept()
		done <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("client: accept: %w", r.err)
		}
		return New(ctx, r.conn, cfg.WithDefaults())
	}
}

// New performs the handshake on an established conn. The debugger always
// speaks first.
func New(ctx context.Context, conn net.Conn, cfg Config) (*Client, error) {
	cfg = cfg.WithDefaults()
	deadline := time.Now().Add(cfg.ConnectTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	if err := frame.WriteHandshake(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("client: send handshake: %w", err)
	}
	if err := frame.ReadHandshake(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("client: read handshake: %w", err)
	}
	_ = conn.SetDeadline(time.Time{})

	c := &Client{
		cfg:    cfg,
		conn:   conn,
		events: make(chan frame.Packet, cfg.EventBuffer),
	}
	c.nextID.Store(1)
	log.Debug().Str("agent", conn.RemoteAddr().String()).Msg("client handshake complete")
	return c, nil
}

func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}

// Events returns agent-originated command packets seen while waiting for
// replies.
func (c *Client) Events() <-chan frame.Packet {
	return c.events
}

// Command sends one command and waits for its reply. A reply with a
// non-zero error code is returned together with a *ReplyError.
func (c *Client) Command(ctx context.Context, set, cmd uint8, payload []byte) (frame.Packet, error) {
	if c.closed.Load() {
		return frame.Packet{}, ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID.Add(1) - 1
	deadline := time.Now().Add(c.cfg.ReplyTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetDeadline(deadline)
	defer c.conn.SetDeadline(time.Time{})

	if err := frame.WritePacket(c.conn, frame.NewCommand(id, set, cmd, payload)); err != nil {
		return frame.Packet{}, fmt.Errorf("client: send %d/%d: %w", set, cmd, err)
	}

	for {
		p, err := frame.ReadPacket(c.conn, c.cfg.Limits)
		if err != nil {
			return frame.Packet{}, fmt.Errorf("client: await reply %#x: %w", id, err)
		}
		if !p.Header.IsReply() {
			c.queueEvent(p)
			continue
		}
		if p.Header.ID != id {
			log.Warn().Uint32("want", id).Uint32("got", p.Header.ID).Msg("client: stray reply")
			continue
		}
		if p.Header.ErrorCode != jdwp.ErrNone {
			return p, &ReplyError{CommandSet: set, Command: cmd, Code: p.Header.ErrorCode}
		}
		return p, nil
	}
}

func (c *Client) queueEvent(p frame.Packet) {
	select {
	case c.events <- p:
	default:
		log.Warn().Uint32("id", p.Header.ID).Msg("client: event queue full, dropping packet")
	}
}

// VersionInfo is the VirtualMachine.Version reply.
type VersionInfo struct {
	Description string `json:"description" yaml:"description"`
	Major       uint32 `json:"jdwp_major" yaml:"jdwp_major"`
	Minor       uint32 `json:"jdwp_minor" yaml:"jdwp_minor"`
	VMVersion   string `json:"vm_version" yaml:"vm_version"`
	VMName      string `json:"vm_name" yaml:"vm_name"`
}

func (c *Client) Version(ctx context.Context) (VersionInfo, error) {
	p, err := c.Command(ctx, jdwp.SetVirtualMachine, jdwp.CmdVersion, nil)
	if err != nil {
		return VersionInfo{}, err
	}
	r := wire.NewReader(p.Data)
	var v VersionInfo
	if v.Description, err = r.String(); err != nil {
		return VersionInfo{}, err
	}
	if v.Major, err = r.U4(); err != nil {
		return VersionInfo{}, err
	}
	if v.Minor, err = r.U4(); err != nil {
		return VersionInfo{}, err
	}
	if v.VMVersion, err = r.String(); err != nil {
		return VersionInfo{}, err
	}
	if v.VMName, err = r.String(); err != nil {
		return VersionInfo{}, err
	}
	return v, nil
}

// IDSizes is the VirtualMachine.IDSizes reply.
type IDSizes struct {
	FieldID         uint32 `json:"field_id" yaml:"field_id"`
	MethodID        uint32 `json:"method_id" yaml:"method_id"`
	ObjectID        uint32 `json:"object_id" yaml:"object_id"`
	ReferenceTypeID uint32 `json:"reference_type_id" yaml:"reference_type_id"`
	FrameID         uint32 `json:"frame_id" yaml:"frame_id"`
}

func (c *Client) IDSizes(ctx context.Context) (IDSizes, error) {
	p, err := c.Command(ctx, jdwp.SetVirtualMachine, jdwp.CmdIDSizes, nil)
	if err != nil {
		return IDSizes{}, err
	}
	r := wire.NewReader(p.Data)
	var s IDSizes
	for _, dst := range []*uint32{&s.FieldID, &s.MethodID, &s.ObjectID, &s.ReferenceTypeID, &s.FrameID} {
		if *dst, err = r.U4(); err != nil {
			return IDSizes{}, err
		}
	}
	return s, nil
}

// SetBreakpoint registers a breakpoint at loc and returns the request id.
func (c *Client) SetBreakpoint(ctx context.Context, loc jdwp.Location, suspendPolicy uint8) (uint32, error) {
	w := wire.NewWriter(48)
	w.U1(jdwp.EventBreakpoint).U1(suspendPolicy).U4(1).U1(jdwp.ModLocationOnly)
	loc.Write(w)
	return c.setEvent(ctx, w.Bytes())
}

// SetEvent registers an unmodified event request of kind.
func (c *Client) SetEvent(ctx context.Context, kind, suspendPolicy uint8) (uint32, error) {
	w := wire.NewWriter(8)
	w.U1(kind).U1(suspendPolicy).U4(0)
	return c.setEvent(ctx, w.Bytes())
}

func (c *Client) setEvent(ctx context.Context, payload []byte) (uint32, error) {
	p, err := c.Command(ctx, jdwp.SetEventRequest, jdwp.CmdSet, payload)
	if err != nil {
		return 0, err
	}
	return wire.NewReader(p.Data).U4()
}

func (c *Client) ClearEvent(ctx context.Context, kind uint8, requestID uint32) error {
	w := wire.NewWriter(5)
	w.U1(kind).U4(requestID)
	_, err := c.Command(ctx, jdwp.SetEventRequest, jdwp.CmdClear, w.Bytes())
	return err
}

func (c *Client) Dispose(ctx context.Context) error {
	_, err := c.Command(ctx, jdwp.SetVirtualMachine, jdwp.CmdDispose, nil)
	return err
}
