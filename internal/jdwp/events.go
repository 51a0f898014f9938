package jdwp

import (
	"time"

	"github.com/danmuck/jdwpd/internal/protocol/frame"
	"github.com/danmuck/jdwpd/internal/protocol/wire"
	"github.com/danmuck/jdwpd/internal/session"
)

// Event is one entry of an Event.Composite packet. Thread is ignored for
// VMDeath; Location only applies to location events.
type Event struct {
	Kind      uint8
	RequestID uint32
	Thread    uint64
	Location  Location
}

func hasLocation(kind uint8) bool {
	switch kind {
	case EventSingleStep, EventBreakpoint, EventMethodEntry, EventMethodExit:
		return true
	default:
		return false
	}
}

// CompositeEvent encodes an Event.Composite command packet.
func CompositeEvent(id uint32, suspendPolicy uint8, events ...Event) []byte {
	w := wire.NewWriter(16 + 32*len(events))
	w.U1(suspendPolicy).U4(uint32(len(events)))
	for _, ev := range events {
		w.U1(ev.Kind).U4(ev.RequestID)
		if ev.Kind == EventVMDeath {
			continue
		}
		w.ID(ev.Thread)
		if hasLocation(ev.Kind) {
			ev.Location.Write(w)
		}
	}
	return frame.NewCommand(id, SetEvent, CmdComposite, w.Bytes()).Encode()
}

// EventSink is the part of *session.Session used to emit events.
type EventSink interface {
	IsActive() bool
	NextRequestSerial() uint32
	SendEvent(holder session.ThreadID, segments [][]byte)
	Events() *session.EventRegistry
}

// Post emits events as one composite unit from holder and counts a hit on
// each referenced registration. It reports false when no debugger is active.
func Post(sink EventSink, holder session.ThreadID, suspendPolicy uint8, events ...Event) bool {
	if !sink.IsActive() {
		return false
	}
	now := time.Now()
	for _, ev := range events {
		if ev.RequestID != 0 {
			sink.Events().MarkHit(ev.RequestID, now)
		}
	}
	packet := CompositeEvent(sink.NextRequestSerial(), suspendPolicy, events...)
	sink.SendEvent(holder, [][]byte{packet[:frame.HeaderLen], packet[frame.HeaderLen:]})
	return true
}
