// Package jdwp holds the built-in request processor: the VirtualMachine,
// EventRequest and DDM commands the agent answers itself. Everything else is
// answered with NOT_IMPLEMENTED.
package jdwp

import "fmt"

// Command sets.
const (
	SetVirtualMachine uint8 = 1
	SetEventRequest   uint8 = 15
	SetEvent          uint8 = 64
	SetDdm            uint8 = 199
)

// VirtualMachine commands.
const (
	CmdVersion      uint8 = 1
	CmdDispose      uint8 = 6
	CmdIDSizes      uint8 = 7
	CmdExit         uint8 = 10
	CmdCapabilities uint8 = 12
)

// EventRequest commands.
const (
	CmdSet                 uint8 = 1
	CmdClear               uint8 = 2
	CmdClearAllBreakpoints uint8 = 3
)

// CmdComposite is the only Event command (agent to debugger).
const CmdComposite uint8 = 100

// CmdDdmChunk is the only DDM command.
const CmdDdmChunk uint8 = 1

// Error codes used in replies.
const (
	ErrNone             uint16 = 0
	ErrInvalidEventType uint16 = 102
	ErrIllegalArgument  uint16 = 103
	ErrNotImplemented   uint16 = 99
)

// Event kinds.
const (
	EventSingleStep       uint8 = 1
	EventBreakpoint       uint8 = 2
	EventFramePop         uint8 = 3
	EventException        uint8 = 4
	EventUserDefined      uint8 = 5
	EventThreadStart      uint8 = 6
	EventThreadDeath      uint8 = 7
	EventClassPrepare     uint8 = 8
	EventClassUnload      uint8 = 9
	EventClassLoad        uint8 = 10
	EventFieldAccess      uint8 = 20
	EventFieldModify      uint8 = 21
	EventExceptionCatch   uint8 = 30
	EventMethodEntry      uint8 = 40
	EventMethodExit       uint8 = 41
	EventMethodExitReturn uint8 = 42
	EventMonitorEnter     uint8 = 43
	EventVMStart          uint8 = 90
	EventVMDeath          uint8 = 99
)

// Suspend policies.
const (
	SuspendNone        uint8 = 0
	SuspendEventThread uint8 = 1
	SuspendAll         uint8 = 2
)

var eventKindNames = map[uint8]string{
	EventSingleStep:       "SingleStep",
	EventBreakpoint:       "Breakpoint",
	EventFramePop:         "FramePop",
	EventException:        "Exception",
	EventUserDefined:      "UserDefined",
	EventThreadStart:      "ThreadStart",
	EventThreadDeath:      "ThreadDeath",
	EventClassPrepare:     "ClassPrepare",
	EventClassUnload:      "ClassUnload",
	EventClassLoad:        "ClassLoad",
	EventFieldAccess:      "FieldAccess",
	EventFieldModify:      "FieldModify",
	EventExceptionCatch:   "ExceptionCatch",
	EventMethodEntry:      "MethodEntry",
	EventMethodExit:       "MethodExit",
	EventMethodExitReturn: "MethodExitWithReturnValue",
	EventMonitorEnter:     "MonitorContendedEnter",
	EventVMStart:          "VMStart",
	EventVMDeath:          "VMDeath",
}

func EventKindName(kind uint8) string {
	if name, ok := eventKindNames[kind]; ok {
		return name
	}
	return fmt.Sprintf("EventKind(%d)", kind)
}

func validEventKind(kind uint8) bool {
	_, ok := eventKindNames[kind]
	return ok
}

// Capability flags reported by VirtualMachine.Capabilities, in wire order.
type Capabilities struct {
	CanWatchFieldModification bool
	CanWatchFieldAccess       bool
	CanGetBytecodes           bool
	CanGetSyntheticAttribute  bool
	CanGetOwnedMonitorInfo    bool
	CanGetCurrentContendedMon bool
	CanGetMonitorInfo         bool
}

func (c Capabilities) flags() []bool {
	return []bool{
		c.CanWatchFieldModification,
		c.CanWatchFieldAccess,
		c.CanGetBytecodes,
		c.CanGetSyntheticAttribute,
		c.CanGetOwnedMonitorInfo,
		c.CanGetCurrentContendedMon,
		c.CanGetMonitorInfo,
	}
}
