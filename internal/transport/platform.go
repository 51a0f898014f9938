package transport

import (
	"fmt"
	"net"
	"os"

	"github.com/danmuck/jdwpd/internal/observability"
	"github.com/danmuck/jdwpd/internal/options"
)

// Platform is the adb-style transport. The agent announces its pid on a
// local control socket and the platform daemon hands over an already
// connected debugger descriptor. The control connection is kept open across
// debugger sessions and redialed when it drops.
type Platform struct {
	netState

	opts    options.Options
	pid     int
	control *net.UnixConn
}

func NewPlatform(opts options.Options, cfg Config, handler PacketHandler) (*Platform, error) {
	if cfg.ControlSocket == "" {
		return nil, ErrControlSocketNeeded
	}
	p := &Platform{opts: opts, pid: os.Getpid()}
	p.init(options.NamePlatform, cfg, handler)
	return p, nil
}

// Accept waits for the platform daemon to pass a debugger connection.
func (p *Platform) Accept() error {
	if p.isShutdown() {
		return ErrShutdown
	}
	if p.woken() {
		return ErrWoken
	}

	if p.control == nil {
		if err := p.announce(); err != nil {
			observability.RecordConnection(p.name, false)
			return err
		}
	}

	conn, err := receiveConn(p.control)
	if err != nil {
		p.dropControl()
		if p.isShutdown() {
			return ErrShutdown
		}
		if p.woken() {
			return ErrWoken
		}
		observability.RecordConnection(p.name, false)
		return fmt.Errorf("transport: receive debugger descriptor: %w", err)
	}
	return p.attach(conn)
}

func (p *Platform) announce() error {
	addr := &net.UnixAddr{Name: p.cfg.ControlSocket, Net: "unix"}
	control, err := net.DialUnix("unix", nil, addr)
	if err != nil {
		return fmt.Errorf("transport: dial control socket %s: %w", p.cfg.ControlSocket, err)
	}

	if _, err := fmt.Fprintf(control, "%04x", p.pid); err != nil {
		control.Close()
		return fmt.Errorf("transport: announce pid: %w", err)
	}

	if err := p.setBlocker(control); err != nil {
		return err
	}
	p.control = control
	p.log.Info().Str("control", p.cfg.ControlSocket).Int("pid", p.pid).Msg("announced to platform daemon")
	return nil
}

func (p *Platform) dropControl() {
	if p.control == nil {
		return
	}
	_ = p.setBlocker(nil)
	_ = p.control.Close()
	p.control = nil
}

// Establish is not available on the platform transport; the debugger is
// always handed over by the daemon.
func (p *Platform) Establish() error {
	return fmt.Errorf("%w: establish on %s", ErrUnsupported, p.name)
}
