package session

import "github.com/danmuck/jdwpd/internal/protocol/frame"

// ThreadID identifies a runtime thread to the debugger. Zero means "none"
// and InvalidID records a failed attach.
type ThreadID uint64

const InvalidID = ^ThreadID(0)

// Facade is the debugged runtime as seen by the session.
type Facade interface {
	Connected()
	Disconnected()
	IsDisposed() bool
	// ThreadSelfID must return a non-zero id other than InvalidID and
	// InvalidID-1, which the session reserves for command processing.
	ThreadSelfID() ThreadID
	UndoSuspensions()
	DdmConnected()
	DdmDisconnected()
	ClassName(id uint64) string
	MethodName(id uint64) string
}

// RequestProcessor produces the reply for one command packet. When suppress
// is true no reply is written and reply must be empty.
type RequestProcessor interface {
	Process(req frame.Request) (reply []byte, suppress bool)
}

// ProcessorFactory builds the processor once the session exists, so the
// processor can allocate serials and register events through it.
type ProcessorFactory func(s *Session) RequestProcessor
