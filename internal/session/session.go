package session

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/jdwpd/internal/observability"
	"github.com/danmuck/jdwpd/internal/options"
	"github.com/danmuck/jdwpd/internal/transport"
	"github.com/rs/zerolog"
)

// Serial bases keep request and event ids visibly apart on the wire.
const (
	RequestSerialBase uint32 = 0x10000000
	EventSerialBase   uint32 = 0x20000000
)

// DdmCommandSet carries vendor chunks; it does not count as debugger activity.
const DdmCommandSet uint8 = 199

var (
	ErrAttachFailed   = errors.New("session: debugger attach failed")
	ErrMissingFacade  = errors.New("session: facade required")
	ErrMissingFactory = errors.New("session: processor factory required")
	ErrNilProcessor   = errors.New("session: processor factory returned nil")
)

// Config carries session tuning that is not part of the option string.
type Config struct {
	Transport transport.Config
	// Exit terminates the process after ExitAfterReplying. Defaults to os.Exit.
	Exit func(code int)
	// Now is the activity clock. Defaults to time.Now.
	Now func() time.Time
}

func DefaultConfig() Config {
	return Config{
		Transport: transport.DefaultConfig(),
		Exit:      os.Exit,
		Now:       time.Now,
	}
}

func (c Config) withDefaults() Config {
	if c.Exit == nil {
		c.Exit = os.Exit
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	c.Transport = c.Transport.WithDefaults()
	return c
}

// Session is one debug-enabled run. Create starts it and Destroy, called
// exactly once, tears it down.
type Session struct {
	opts      options.Options
	cfg       Config
	log       zerolog.Logger
	facade    Facade
	processor RequestProcessor
	transport transport.Transport

	running    atomic.Bool
	started    *gate[bool]
	attach     *gate[ThreadID]
	processing *gate[bool]
	done       chan struct{}
	destroy    sync.Once

	shouldExit atomic.Bool
	exitCode   atomic.Int32

	requestSerial atomic.Uint32
	eventSerial   atomic.Uint32

	tokenMu     sync.Mutex
	tokenCond   *sync.Cond
	tokenHolder ThreadID

	ddmActive    atomic.Bool
	lastActivity atomic.Int64
	events       *EventRegistry
}

// Create builds the transport selected by opts and starts the session
// goroutine. It returns once the goroutine runs; with opts.Suspend it also
// waits for a debugger to complete the handshake and fails with
// ErrAttachFailed when the connection could not be made.
//
// An unknown transport kind is a startup invariant violation and terminates
// the process.
func Create(opts options.Options, cfg Config, facade Facade, newProcessor ProcessorFactory) (*Session, error) {
	if facade == nil {
		return nil, ErrMissingFacade
	}
	if newProcessor == nil {
		return nil, ErrMissingFactory
	}

	cfg = cfg.withDefaults()
	s := &Session{
		opts:       opts,
		cfg:        cfg,
		log:        observability.ComponentLogger("session").With().Str("options", opts.String()).Logger(),
		facade:     facade,
		started:    newGate(false),
		attach:     newGate(ThreadID(0)),
		processing: newGate(false),
		done:       make(chan struct{}),
		events:     NewEventRegistry(),
	}
	s.tokenCond = sync.NewCond(&s.tokenMu)
	s.requestSerial.Store(RequestSerialBase)
	s.eventSerial.Store(EventSerialBase)

	t, err := transport.New(opts, cfg.Transport, s)
	if errors.Is(err, transport.ErrUnknownTransport) {
		s.log.Fatal().Err(err).Msg("unknown transport")
	}
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	t.MakeWakeChannel()
	s.transport = t

	s.processor = newProcessor(s)
	if s.processor == nil {
		t.Shutdown()
		return nil, ErrNilProcessor
	}

	s.running.Store(true)
	go s.run()

	s.started.Wait(func(v bool) bool { return v })
	s.log.Debug().Msg("session goroutine started")

	if opts.Suspend {
		s.log.Info().Msg("waiting for debugger to attach")
		id := s.attach.Wait(func(id ThreadID) bool { return id != 0 })
		if id == InvalidID || !s.IsActive() {
			s.log.Error().Msg("debugger connection failed")
			s.Destroy()
			return nil, ErrAttachFailed
		}
		s.log.Info().Uint64("thread", uint64(id)).Msg("debugger attached")
	}
	return s, nil
}

func (s *Session) run() {
	defer close(s.done)
	s.started.Set(true)

	for s.running.Load() {
		if s.opts.Server {
			if err := s.transport.Accept(); err != nil {
				s.logConnectError("accept", err)
				break
			}
		} else {
			if err := s.transport.Establish(); err != nil {
				s.logConnectError("establish", err)
				s.attach.Set(InvalidID)
				break
			}
		}

		s.facade.Connected()

		first := true
		for !s.facade.IsDisposed() {
			if err := s.transport.ProcessIncoming(); err != nil {
				break
			}

			if s.shouldExit.CompareAndSwap(true, false) {
				code := int(s.exitCode.Load())
				s.log.Warn().Int("code", code).Msg("exiting after reply")
				s.cfg.Exit(code)
			}

			if first && !s.transport.IsAwaitingHandshake() {
				first = false
				s.attach.Set(s.facade.ThreadSelfID())
			}
		}

		_ = s.transport.Close()

		if s.ddmActive.CompareAndSwap(true, false) {
			s.facade.DdmDisconnected()
		}
		s.reset()
		s.facade.Disconnected()
		s.facade.UndoSuspensions()

		if !s.opts.Server {
			break
		}
	}

	// Nobody attached; release any Create still waiting.
	if s.attach.Get() == 0 {
		s.attach.Set(InvalidID)
	}
	s.log.Debug().Msg("session goroutine exiting")
}

func (s *Session) logConnectError(op string, err error) {
	if errors.Is(err, transport.ErrShutdown) || errors.Is(err, transport.ErrWoken) {
		s.log.Debug().Err(err).Str("op", op).Msg("connection wait interrupted")
		return
	}
	s.log.Error().Err(err).Str("op", op).Msg("debugger connection failed")
}

// reset clears per-connection state so the next accept starts clean.
func (s *Session) reset() {
	if n := s.events.Clear(); n > 0 {
		s.log.Debug().Int("count", n).Msg("cleared event requests")
	}
	if holder := s.TokenHolder(); holder != 0 {
		s.log.Warn().Uint64("holder", uint64(holder)).Msg("resetting state while a unit is in progress")
	}
	s.lastActivity.Store(0)
}

// Destroy stops the session goroutine. It waits for an in-flight command
// to finish before shutting the transport down and returns once the
// goroutine has exited.
func (s *Session) Destroy() {
	s.destroy.Do(func() {
		s.log.Debug().Msg("destroying session")
		s.running.Store(false)
		s.processing.Do(func(busy bool) bool { return !busy }, s.transport.Shutdown)
		<-s.done
		s.reset()
		s.log.Info().Msg("session destroyed")
	})
}

// Done is closed when the session goroutine has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Options() options.Options {
	return s.opts
}

// Transport exposes the live transport, e.g. for the bound server address.
func (s *Session) Transport() transport.Transport {
	return s.transport
}

func (s *Session) Events() *EventRegistry {
	return s.events
}
