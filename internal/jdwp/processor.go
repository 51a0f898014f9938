package jdwp

import (
	"time"

	"github.com/danmuck/jdwpd/internal/observability"
	"github.com/danmuck/jdwpd/internal/protocol/frame"
	"github.com/danmuck/jdwpd/internal/protocol/wire"
	"github.com/danmuck/jdwpd/internal/session"
	"github.com/rs/zerolog"
)

// Protocol version reported by VirtualMachine.Version.
const (
	VersionMajor uint32 = 1
	VersionMinor uint32 = 6
)

// Host is the part of *session.Session the processor drives.
type Host interface {
	NextEventSerial() uint32
	NotifyDdmActive()
	ExitAfterReplying(code int)
	Events() *session.EventRegistry
}

type ProcessorConfig struct {
	Description  string
	VMVersion    string
	VMName       string
	Capabilities Capabilities
	// OnDispose runs for VirtualMachine.Dispose; it should make the facade
	// report disposed so the session drops the connection.
	OnDispose func()
	// DdmChunk answers a DDM chunk payload. nil replies with no data.
	DdmChunk func(payload []byte) []byte
	Namer    Namer
	Now      func() time.Time
}

func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		Description: "jdwpd debug agent",
		VMVersion:   "1.0",
		VMName:      "jdwpd",
		Now:         time.Now,
	}
}

// Processor implements session.RequestProcessor for the built-in commands.
type Processor struct {
	host Host
	cfg  ProcessorConfig
	log  zerolog.Logger
}

func NewProcessor(host Host, cfg ProcessorConfig) *Processor {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Processor{
		host: host,
		cfg:  cfg,
		log:  observability.ComponentLogger("jdwp"),
	}
}

// Factory adapts NewProcessor to session.Create.
func Factory(cfg ProcessorConfig) session.ProcessorFactory {
	return func(s *session.Session) session.RequestProcessor {
		return NewProcessor(s, cfg)
	}
}

type handlerFunc func(p *Processor, r *wire.Reader, w *wire.Writer) uint16

type commandKey struct {
	set uint8
	cmd uint8
}

type commandEntry struct {
	name    string
	handler handlerFunc
}

var commands = map[commandKey]commandEntry{
	{SetVirtualMachine, CmdVersion}:           {"VirtualMachine.Version", (*Processor).version},
	{SetVirtualMachine, CmdDispose}:           {"VirtualMachine.Dispose", (*Processor).dispose},
	{SetVirtualMachine, CmdIDSizes}:           {"VirtualMachine.IDSizes", (*Processor).idSizes},
	{SetVirtualMachine, CmdExit}:              {"VirtualMachine.Exit", (*Processor).exit},
	{SetVirtualMachine, CmdCapabilities}:      {"VirtualMachine.Capabilities", (*Processor).capabilities},
	{SetEventRequest, CmdSet}:                 {"EventRequest.Set", (*Processor).eventSet},
	{SetEventRequest, CmdClear}:               {"EventRequest.Clear", (*Processor).eventClear},
	{SetEventRequest, CmdClearAllBreakpoints}: {"EventRequest.ClearAllBreakpoints", (*Processor).clearAllBreakpoints},
	{SetDdm, CmdDdmChunk}:                     {"DDM.Chunk", (*Processor).ddmChunk},
}

// CommandName returns the symbolic name of a built-in command, or "".
func CommandName(set, cmd uint8) string {
	return commands[commandKey{set, cmd}].name
}

// Process answers one command packet. Reply packets from the debugger are
// logged and dropped without a response.
func (p *Processor) Process(req frame.Request) ([]byte, bool) {
	if req.Header.IsReply() {
		p.log.Warn().Stringer("packet", req).Msg("unexpected reply packet from debugger")
		return nil, true
	}

	entry, ok := commands[commandKey{req.CommandSet(), req.Command()}]
	if !ok {
		p.log.Debug().Stringer("request", req).Msg("command not implemented")
		return frame.NewReply(req.ID(), ErrNotImplemented, nil).Encode(), false
	}

	w := wire.NewWriter(64)
	code := entry.handler(p, wire.NewReader(req.Payload), w)
	if code != ErrNone {
		p.log.Debug().Str("command", entry.name).Uint16("error", code).Msg("command failed")
		return frame.NewReply(req.ID(), code, nil).Encode(), false
	}
	p.log.Trace().Str("command", entry.name).Int("reply_bytes", w.Len()).Msg("command handled")
	return frame.NewReply(req.ID(), ErrNone, w.Bytes()).Encode(), false
}

func (p *Processor) version(_ *wire.Reader, w *wire.Writer) uint16 {
	w.String(p.cfg.Description).
		U4(VersionMajor).
		U4(VersionMinor).
		String(p.cfg.VMVersion).
		String(p.cfg.VMName)
	return ErrNone
}

func (p *Processor) idSizes(_ *wire.Reader, w *wire.Writer) uint16 {
	w.U4(wire.FieldIDSize).
		U4(wire.MethodIDSize).
		U4(wire.ObjectIDSize).
		U4(wire.ReferenceTypeIDSize).
		U4(wire.FrameIDSize)
	return ErrNone
}

func (p *Processor) dispose(_ *wire.Reader, _ *wire.Writer) uint16 {
	p.log.Info().Msg("debugger disposed the connection")
	if p.cfg.OnDispose != nil {
		p.cfg.OnDispose()
	}
	return ErrNone
}

func (p *Processor) exit(r *wire.Reader, _ *wire.Writer) uint16 {
	code, err := r.U4()
	if err != nil {
		return ErrIllegalArgument
	}
	p.host.ExitAfterReplying(int(int32(code)))
	return ErrNone
}

func (p *Processor) capabilities(_ *wire.Reader, w *wire.Writer) uint16 {
	for _, flag := range p.cfg.Capabilities.flags() {
		w.Bool(flag)
	}
	return ErrNone
}

func (p *Processor) eventSet(r *wire.Reader, w *wire.Writer) uint16 {
	kind, err := r.U1()
	if err != nil {
		return ErrIllegalArgument
	}
	if !validEventKind(kind) {
		return ErrInvalidEventType
	}
	policy, err := r.U1()
	if err != nil {
		return ErrIllegalArgument
	}
	count, err := r.U4()
	if err != nil {
		return ErrIllegalArgument
	}
	mods, err := parseModifiers(r, count, p.cfg.Namer)
	if err != nil {
		p.log.Warn().Err(err).Str("kind", EventKindName(kind)).Msg("bad event request modifiers")
		return ErrIllegalArgument
	}

	id := p.host.NextEventSerial()
	p.host.Events().Register(session.EventRequest{
		ID:            id,
		Kind:          kind,
		SuspendPolicy: policy,
		Modifiers:     mods,
		CreatedAt:     p.cfg.Now(),
	})
	p.log.Debug().
		Uint32("request_id", id).
		Str("kind", EventKindName(kind)).
		Strs("modifiers", mods).
		Msg("event request registered")

	w.U4(id)
	return ErrNone
}

func (p *Processor) eventClear(r *wire.Reader, _ *wire.Writer) uint16 {
	kind, err := r.U1()
	if err != nil {
		return ErrIllegalArgument
	}
	id, err := r.U4()
	if err != nil {
		return ErrIllegalArgument
	}
	if !p.host.Events().Remove(kind, id) {
		p.log.Debug().Uint32("request_id", id).Str("kind", EventKindName(kind)).Msg("clear of unknown event request")
	}
	return ErrNone
}

func (p *Processor) clearAllBreakpoints(_ *wire.Reader, _ *wire.Writer) uint16 {
	n := p.host.Events().RemoveKind(EventBreakpoint)
	p.log.Debug().Int("count", n).Msg("cleared breakpoints")
	return ErrNone
}

func (p *Processor) ddmChunk(r *wire.Reader, w *wire.Writer) uint16 {
	p.host.NotifyDdmActive()
	if p.cfg.DdmChunk == nil {
		return ErrNone
	}
	w.Raw(p.cfg.DdmChunk(r.Rest()))
	return ErrNone
}
