package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/danmuck/jdwpd/internal/observability"
	"github.com/danmuck/jdwpd/internal/options"
)

// Socket is the TCP transport. In server mode it owns a listener bound at
// construction; in client mode it dials the configured debugger address.
type Socket struct {
	netState

	opts     options.Options
	listener net.Listener
}

func NewSocket(opts options.Options, cfg Config, handler PacketHandler) (*Socket, error) {
	s := &Socket{opts: opts}
	s.init(options.NameSocket, cfg, handler)

	if opts.Server {
		if err := s.listen(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Socket) listen() error {
	lc := net.ListenConfig{Control: reuseAddr}

	if s.opts.Port != 0 {
		ln, err := lc.Listen(s.ctx, "tcp", s.bindAddress(s.opts.Port))
		if err != nil {
			return fmt.Errorf("transport: listen on port %d: %w", s.opts.Port, err)
		}
		return s.bound(ln)
	}

	for port := s.cfg.PortRange.First; ; port++ {
		ln, err := lc.Listen(s.ctx, "tcp", s.bindAddress(port))
		if err == nil {
			return s.bound(ln)
		}
		s.log.Debug().Uint16("port", port).Err(err).Msg("port busy")
		if port >= s.cfg.PortRange.Last {
			break
		}
	}
	return fmt.Errorf("%w: %d-%d", ErrNoFreePort, s.cfg.PortRange.First, s.cfg.PortRange.Last)
}

func (s *Socket) bindAddress(port uint16) string {
	return net.JoinHostPort(s.opts.Host, strconv.Itoa(int(port)))
}

func (s *Socket) bound(ln net.Listener) error {
	if err := s.setBlocker(ln); err != nil {
		return err
	}
	s.listener = ln
	s.log.Info().Str("addr", ln.Addr().String()).Msg("JDWP will listen for debugger")
	return nil
}

// Addr is the bound listener address, or nil in client mode.
func (s *Socket) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Port is the bound listener port, or 0 in client mode.
func (s *Socket) Port() int {
	addr, ok := s.Addr().(*net.TCPAddr)
	if !ok {
		return 0
	}
	return addr.Port
}

// Accept blocks until a debugger connects to the listener.
func (s *Socket) Accept() error {
	if s.isShutdown() {
		return ErrShutdown
	}
	if s.listener == nil {
		return ErrNotListening
	}
	// Clear a deadline left by an earlier Wake before checking for a new one.
	if d, ok := s.listener.(deadliner); ok {
		_ = d.SetDeadline(time.Time{})
	}
	if s.woken() {
		return ErrWoken
	}

	conn, err := s.listener.Accept()
	if err != nil {
		if s.isShutdown() {
			return ErrShutdown
		}
		if s.woken() {
			return ErrWoken
		}
		observability.RecordConnection(s.name, false)
		return fmt.Errorf("transport: accept: %w", err)
	}
	return s.attach(conn)
}

// Establish dials the debugger, retrying per the backoff config up to
// MaxConnectAttempts times.
func (s *Socket) Establish() error {
	if s.opts.Host == "" || s.opts.Port == 0 {
		return ErrMissingAddress
	}
	if s.isShutdown() {
		return ErrShutdown
	}

	addr := s.bindAddress(s.opts.Port)
	var conn net.Conn
	attempt := 0

	op := func() error {
		attempt++
		c, err := s.dial(addr)
		if err != nil {
			if s.isShutdown() || errors.Is(err, context.Canceled) {
				return backoff.Permanent(ErrShutdown)
			}
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, wait time.Duration) {
		s.log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Str("addr", addr).Msg("connect failed")
	}

	err := backoff.RetryNotify(op, s.retryPolicy(), notify)
	if err != nil {
		observability.RecordConnection(s.name, false)
		s.log.Error().Err(err).Str("addr", addr).Int("attempts", attempt).Msg("unable to connect to debugger")
		return fmt.Errorf("transport: connect %s: %w", addr, err)
	}
	return s.attach(conn)
}

func (s *Socket) dial(addr string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.ConnectTimeout)
	defer cancel()

	if s.cfg.Tunnel != nil {
		return s.cfg.Tunnel.DialContext(ctx, "tcp", addr)
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

func (s *Socket) retryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.Backoff.InitialDelay
	b.MaxInterval = s.cfg.Backoff.MaxDelay
	b.Multiplier = s.cfg.Backoff.Multiplier
	if !s.cfg.Backoff.Jitter {
		b.RandomizationFactor = 0
	}
	b.MaxElapsedTime = 0

	retries := uint64(s.cfg.MaxConnectAttempts - 1)
	return backoff.WithContext(backoff.WithMaxRetries(b, retries), s.ctx)
}
