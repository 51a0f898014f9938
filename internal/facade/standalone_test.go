package facade

import (
	"testing"

	"github.com/danmuck/jdwpd/internal/session"
	"github.com/danmuck/jdwpd/internal/testutil/testlog"
)

func TestStandaloneDisposeClearsOnReconnect(t *testing.T) {
	testlog.Start(t)
	f := NewStandalone(0)
	if f.ThreadSelfID() != DefaultThreadID {
		t.Fatalf("thread id=%d", f.ThreadSelfID())
	}

	f.Connected()
	f.Dispose()
	if !f.IsDisposed() {
		t.Fatalf("expected disposed")
	}
	f.Disconnected()
	f.UndoSuspensions()
	f.Connected()
	if f.IsDisposed() {
		t.Fatalf("reconnect should clear disposed")
	}

	got := f.Counters()
	if !got.Connected || got.Connections != 2 || got.Undos != 1 {
		t.Fatalf("unexpected counters %+v", got)
	}
}

func TestStandaloneNames(t *testing.T) {
	testlog.Start(t)
	f := NewStandalone(session.InvalidID)
	if f.ThreadSelfID() != DefaultThreadID {
		t.Fatalf("invalid id should fall back to default")
	}
	f.RegisterClass(0x10, "LMain;")
	f.RegisterMethod(0x20, "main")

	if f.ClassName(0x10) != "LMain;" || f.MethodName(0x20) != "main" {
		t.Fatalf("registered names not returned")
	}
	if f.ClassName(0x11) != "class@0x11" || f.MethodName(0x21) != "method@0x21" {
		t.Fatalf("fallback names: %q %q", f.ClassName(0x11), f.MethodName(0x21))
	}
}

func TestStandaloneDdmState(t *testing.T) {
	testlog.Start(t)
	f := NewStandalone(7)
	f.DdmConnected()
	if !f.Counters().DdmActive {
		t.Fatalf("ddm should be active")
	}
	f.DdmDisconnected()
	if f.Counters().DdmActive {
		t.Fatalf("ddm should be inactive")
	}
}
