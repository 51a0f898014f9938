// Package transport moves JDWP bytes between the agent and one debugger.
//
// A Transport owns the connection, the compacting input buffer and the
// handshake state. It never interprets command packets: once a full packet
// is buffered it hands control to a PacketHandler, which parses, replies and
// consumes the packet bytes.
//
// Concurrency:
//   - Accept, Establish, ProcessIncoming and the buffer accessors are driven
//     by a single session goroutine.
//   - Write* may be called from any goroutine and are serialized by the
//     write lock.
//   - Wake and Shutdown may be called from any goroutine.
package transport

import (
	"errors"
	"fmt"

	"github.com/danmuck/jdwpd/internal/options"
)

var (
	ErrNotConnected      = errors.New("transport: not connected")
	ErrPeerClosed        = errors.New("transport: debugger closed connection")
	ErrWoken             = errors.New("transport: woken")
	ErrShutdown          = errors.New("transport: shut down")
	ErrUnsupported       = errors.New("transport: operation not supported")
	ErrUnknownTransport  = errors.New("transport: unknown transport")
	ErrNotListening      = errors.New("transport: not listening")
	ErrNoFreePort        = errors.New("transport: no free port in range")
	ErrMissingAddress    = errors.New("transport: host and port required")
	ErrHandlerFailed     = errors.New("transport: packet handler failed")
	ErrWriteLockNotHeld  = errors.New("transport: write lock not held")
	ErrNoDescriptor      = errors.New("transport: control message carried no descriptor")
	ErrInputBufferFilled = errors.New("transport: input buffer full without a packet")
)

// PacketHandler processes the complete packet at the front of the input
// buffer. It returns false when the connection should be dropped.
type PacketHandler interface {
	HandlePacket() bool
}

// Transport is implemented by *Socket and *Platform only.
type Transport interface {
	Name() string

	MakeWakeChannel()
	Wake()

	Accept() error
	Establish() error
	ProcessIncoming() error

	IsConnected() bool
	IsAwaitingHandshake() bool
	SetAwaitingHandshake(bool)
	RemoteAddr() string

	HaveFullPacket() bool
	Buffered() []byte
	ConsumeBytes(n int)

	Close() error
	Shutdown()

	WritePacket(b []byte) (int, error)
	WriteBufferedPacket(segments [][]byte) (int64, error)
	LockWrite()
	UnlockWrite()
	WriteBufferedPacketLocked(segments [][]byte) (int64, error)

	sealed()
}

// New builds the variant selected by opts. A server-mode socket binds its
// listener before returning.
func New(opts options.Options, cfg Config, handler PacketHandler) (Transport, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch opts.Transport {
	case options.TransportSocket:
		return NewSocket(opts, cfg, handler)
	case options.TransportPlatform:
		return NewPlatform(opts, cfg, handler)
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownTransport, opts.Transport)
	}
}
