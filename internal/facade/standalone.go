// Package facade provides a standalone runtime facade for running the agent
// without an embedded execution engine.
package facade

import (
	"fmt"
	"sync"

	"github.com/danmuck/jdwpd/internal/observability"
	"github.com/danmuck/jdwpd/internal/session"
	"github.com/rs/zerolog"
)

// DefaultThreadID is the id the standalone facade reports for the agent
// goroutine.
const DefaultThreadID session.ThreadID = 1

// Standalone tracks connection state and a name table for class and method
// ids. It never suspends anything.
type Standalone struct {
	mu          sync.Mutex
	log         zerolog.Logger
	threadID    session.ThreadID
	disposed    bool
	connected   bool
	ddm         bool
	connections int
	undos       int
	classes     map[uint64]string
	methods     map[uint64]string
}

func NewStandalone(threadID session.ThreadID) *Standalone {
	if threadID == 0 || threadID == session.InvalidID {
		threadID = DefaultThreadID
	}
	return &Standalone{
		log:      observability.ComponentLogger("facade"),
		threadID: threadID,
		classes:  make(map[uint64]string),
		methods:  make(map[uint64]string),
	}
}

func (f *Standalone) Connected() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	f.disposed = false
	f.connections++
	f.log.Debug().Int("connections", f.connections).Msg("debugger connected")
}

func (f *Standalone) Disconnected() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.log.Debug().Msg("debugger disconnected")
}

// Dispose makes IsDisposed report true until the next connection.
func (f *Standalone) Dispose() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disposed = true
}

func (f *Standalone) IsDisposed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disposed
}

func (f *Standalone) ThreadSelfID() session.ThreadID {
	return f.threadID
}

func (f *Standalone) UndoSuspensions() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.undos++
}

func (f *Standalone) DdmConnected() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ddm = true
	f.log.Debug().Msg("ddm active")
}

func (f *Standalone) DdmDisconnected() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ddm = false
	f.log.Debug().Msg("ddm inactive")
}

func (f *Standalone) RegisterClass(id uint64, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.classes[id] = name
}

func (f *Standalone) RegisterMethod(id uint64, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.methods[id] = name
}

func (f *Standalone) ClassName(id uint64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name, ok := f.classes[id]; ok {
		return name
	}
	return fmt.Sprintf("class@%#x", id)
}

func (f *Standalone) MethodName(id uint64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name, ok := f.methods[id]; ok {
		return name
	}
	return fmt.Sprintf("method@%#x", id)
}

// Counters is a snapshot of facade callbacks, for status and tests.
type Counters struct {
	Connected   bool `json:"connected"`
	DdmActive   bool `json:"ddm_active"`
	Connections int  `json:"connections"`
	Undos       int  `json:"undo_suspensions"`
}

func (f *Standalone) Counters() Counters {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Counters{
		Connected:   f.connected,
		DdmActive:   f.ddm,
		Connections: f.connections,
		Undos:       f.undos,
	}
}

var _ session.Facade = (*Standalone)(nil)
