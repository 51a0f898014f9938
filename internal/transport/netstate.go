package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/jdwpd/internal/observability"
	"github.com/danmuck/jdwpd/internal/protocol/frame"
	"github.com/rs/zerolog"
)

// past is used as a deadline to unblock a pending Read or Accept.
var past = time.Unix(1, 0)

type deadliner interface {
	SetDeadline(time.Time) error
}

// netState is the variant-independent part of a transport.
type netState struct {
	name    string
	log     zerolog.Logger
	handler PacketHandler
	cfg     Config

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	conn     net.Conn
	blocker  io.Closer
	shutdown bool

	wake chan struct{}

	writeMu sync.Mutex

	input             []byte
	count             int
	awaitingHandshake atomic.Bool
}

func (n *netState) init(name string, cfg Config, handler PacketHandler) {
	n.name = name
	n.log = observability.ComponentLogger("transport").With().Str("transport", name).Logger()
	n.handler = handler
	n.cfg = cfg
	n.ctx, n.cancel = context.WithCancel(context.Background())
	n.input = make([]byte, cfg.InputBufferSize)
}

func (n *netState) sealed() {}

func (n *netState) Name() string {
	return n.name
}

func (n *netState) MakeWakeChannel() {
	n.wake = make(chan struct{}, 1)
}

// Wake unblocks a pending Read, Accept or control-socket receive. It ends
// the current connection: the live conn's read deadline is left in the past
// and the next ProcessIncoming fails with ErrWoken and closes it. Use it for
// teardown only. A woken listener is re-armed by the next Accept.
func (n *netState) Wake() {
	if n.wake != nil {
		select {
		case n.wake <- struct{}{}:
		default:
		}
	}

	n.mu.Lock()
	conn := n.conn
	blocker := n.blocker
	n.mu.Unlock()

	if conn != nil {
		_ = conn.SetReadDeadline(past)
	}
	if d, ok := blocker.(deadliner); ok {
		_ = d.SetDeadline(past)
	}
}

func (n *netState) woken() bool {
	if n.wake == nil {
		return false
	}
	select {
	case <-n.wake:
		return true
	default:
		return false
	}
}

func (n *netState) isShutdown() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.shutdown
}

// setBlocker records the closer that Shutdown must close to unblock a
// pending call. After Shutdown it closes b and returns ErrShutdown.
func (n *netState) setBlocker(b io.Closer) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.shutdown {
		if b != nil {
			_ = b.Close()
		}
		n.blocker = nil
		return ErrShutdown
	}
	n.blocker = b
	return nil
}

// attach installs a freshly connected debugger and resets per-connection
// state. It refuses the conn once Shutdown has run.
func (n *netState) attach(conn net.Conn) error {
	n.mu.Lock()
	if n.shutdown {
		n.mu.Unlock()
		conn.Close()
		return ErrShutdown
	}
	n.conn = conn
	n.mu.Unlock()

	n.count = 0
	n.awaitingHandshake.Store(true)
	observability.RecordConnection(n.name, true)
	n.log.Info().Str("peer", conn.RemoteAddr().String()).Msg("debugger connected")
	return nil
}

func (n *netState) currentConn() net.Conn {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.conn
}

func (n *netState) IsConnected() bool {
	return n.currentConn() != nil
}

func (n *netState) RemoteAddr() string {
	conn := n.currentConn()
	if conn == nil {
		return ""
	}
	return conn.RemoteAddr().String()
}

func (n *netState) IsAwaitingHandshake() bool {
	return n.awaitingHandshake.Load()
}

func (n *netState) SetAwaitingHandshake(v bool) {
	n.awaitingHandshake.Store(v)
}

func (n *netState) HaveFullPacket() bool {
	return frame.HaveFullPacket(n.input[:n.count], n.IsAwaitingHandshake())
}

// Buffered returns the unconsumed input. The slice aliases the buffer and is
// invalidated by the next ConsumeBytes or read.
func (n *netState) Buffered() []byte {
	return n.input[:n.count]
}

// ConsumeBytes drops count bytes from the front of the input buffer and
// shifts the remainder down.
func (n *netState) ConsumeBytes(count int) {
	if count <= 0 || count > n.count {
		panic(fmt.Sprintf("transport: consume %d of %d buffered bytes", count, n.count))
	}
	if count == n.count {
		n.count = 0
		return
	}
	copy(n.input, n.input[count:n.count])
	n.count -= count
}

// Close drops the current connection. It is a no-op when not connected.
func (n *netState) Close() error {
	n.mu.Lock()
	conn := n.conn
	n.conn = nil
	n.mu.Unlock()

	if conn == nil {
		return nil
	}
	n.log.Debug().Str("peer", conn.RemoteAddr().String()).Msg("closing debugger connection")
	return conn.Close()
}

// Shutdown stops all further connections and unblocks any pending call.
func (n *netState) Shutdown() {
	n.mu.Lock()
	n.shutdown = true
	blocker := n.blocker
	n.mu.Unlock()

	n.cancel()
	n.Wake()
	if blocker != nil {
		_ = blocker.Close()
	}
	_ = n.Close()
}

// validatePending rejects a buffered length prefix that can never frame a
// packet within the input buffer.
func (n *netState) validatePending() error {
	if n.IsAwaitingHandshake() {
		return nil
	}
	length, ok := frame.PacketLength(n.input[:n.count])
	if !ok {
		return nil
	}
	if length < frame.HeaderLen {
		return fmt.Errorf("%w: %d", frame.ErrLengthTooSmall, length)
	}
	if uint64(length) > uint64(len(n.input)) {
		return fmt.Errorf("%w: %d > %d", frame.ErrPacketTooLarge, length, len(n.input))
	}
	return nil
}

// ProcessIncoming performs one receive step: read more bytes if needed, then
// complete the handshake or dispatch one packet to the handler. It returns
// nil when the connection is still usable. Any error leaves the transport
// closed.
func (n *netState) ProcessIncoming() error {
	if err := n.validatePending(); err != nil {
		return n.fail(err)
	}

	if !n.HaveFullPacket() {
		if n.woken() {
			return n.fail(ErrWoken)
		}
		conn := n.currentConn()
		if conn == nil {
			return ErrNotConnected
		}
		if n.count == len(n.input) {
			return n.fail(ErrInputBufferFilled)
		}

		read, err := conn.Read(n.input[n.count:])
		n.count += read
		if err != nil {
			return n.fail(n.classifyReadError(err))
		}
		if err := n.validatePending(); err != nil {
			return n.fail(err)
		}
		if !n.HaveFullPacket() {
			return nil
		}
	}

	if n.IsAwaitingHandshake() {
		return n.completeHandshake()
	}

	if !n.handler.HandlePacket() {
		return n.fail(ErrHandlerFailed)
	}
	return nil
}

func (n *netState) classifyReadError(err error) error {
	if n.woken() {
		return ErrWoken
	}
	if errors.Is(err, io.EOF) {
		return ErrPeerClosed
	}
	if errors.Is(err, os.ErrDeadlineExceeded) && n.isShutdown() {
		return ErrShutdown
	}
	return err
}

func (n *netState) completeHandshake() error {
	if err := frame.CheckHandshake(n.input[:n.count]); err != nil {
		n.log.Error().Hex("received", n.input[:frame.HandshakeLen]).Msg("bad handshake")
		return n.fail(err)
	}
	observability.RecordPacket("in", "handshake", frame.HandshakeLen)

	written, err := n.WritePacket(n.input[:frame.HandshakeLen])
	if err != nil {
		return n.fail(fmt.Errorf("transport: handshake echo: %w", err))
	}
	if written != frame.HandshakeLen {
		return n.fail(fmt.Errorf("transport: handshake echo wrote %d of %d bytes", written, frame.HandshakeLen))
	}
	observability.RecordPacket("out", "handshake", written)

	n.ConsumeBytes(frame.HandshakeLen)
	n.SetAwaitingHandshake(false)
	n.log.Debug().Msg("handshake complete")
	return nil
}

func (n *netState) fail(err error) error {
	switch {
	case errors.Is(err, ErrWoken), errors.Is(err, ErrShutdown):
		n.log.Debug().Err(err).Msg("receive interrupted")
	case errors.Is(err, ErrPeerClosed):
		n.log.Info().Msg("debugger disconnected")
	default:
		n.log.Warn().Err(err).Msg("dropping debugger connection")
	}
	_ = n.Close()
	return err
}

func (n *netState) setWriteDeadline(conn net.Conn) {
	if n.cfg.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(n.cfg.WriteTimeout))
	}
}

// WritePacket writes b as one unit, serialized with every other writer.
func (n *netState) WritePacket(b []byte) (int, error) {
	n.writeMu.Lock()
	defer n.writeMu.Unlock()

	conn := n.currentConn()
	if conn == nil {
		n.log.Warn().Int("bytes", len(b)).Msg("write on closed debugger connection")
		return 0, ErrNotConnected
	}
	n.setWriteDeadline(conn)
	return conn.Write(b)
}

// WriteBufferedPacket writes segments as one gathered unit.
func (n *netState) WriteBufferedPacket(segments [][]byte) (int64, error) {
	n.writeMu.Lock()
	defer n.writeMu.Unlock()
	return n.writeBuffered(segments)
}

func (n *netState) LockWrite() {
	n.writeMu.Lock()
}

func (n *netState) UnlockWrite() {
	n.writeMu.Unlock()
}

// WriteBufferedPacketLocked is WriteBufferedPacket for callers already
// holding the write lock.
func (n *netState) WriteBufferedPacketLocked(segments [][]byte) (int64, error) {
	if n.writeMu.TryLock() {
		n.writeMu.Unlock()
		return 0, ErrWriteLockNotHeld
	}
	return n.writeBuffered(segments)
}

func (n *netState) writeBuffered(segments [][]byte) (int64, error) {
	conn := n.currentConn()
	if conn == nil {
		n.log.Warn().Int("segments", len(segments)).Msg("write on closed debugger connection")
		return 0, ErrNotConnected
	}
	n.setWriteDeadline(conn)
	bufs := make(net.Buffers, len(segments))
	copy(bufs, segments)
	return bufs.WriteTo(conn)
}
