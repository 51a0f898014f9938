package session_test

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/jdwpd/internal/client"
	"github.com/danmuck/jdwpd/internal/facade"
	"github.com/danmuck/jdwpd/internal/jdwp"
	"github.com/danmuck/jdwpd/internal/options"
	"github.com/danmuck/jdwpd/internal/protocol/frame"
	"github.com/danmuck/jdwpd/internal/protocol/wire"
	"github.com/danmuck/jdwpd/internal/session"
	"github.com/danmuck/jdwpd/internal/testutil/testlog"
)

func freePort(t *testing.T) uint16 {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return uint16(ln.Addr().(*net.TCPAddr).Port)
}

func serverOptions(port uint16, suspend bool) options.Options {
	return options.Options{
		Transport: options.TransportSocket,
		Server:    true,
		Suspend:   suspend,
		Host:      "127.0.0.1",
		Port:      port,
	}
}

func addr(opts options.Options) string {
	return net.JoinHostPort(opts.Host, strconv.Itoa(int(opts.Port)))
}

func builtinFactory(f *facade.Standalone) session.ProcessorFactory {
	cfg := jdwp.DefaultProcessorConfig()
	cfg.OnDispose = f.Dispose
	cfg.Namer = f
	return jdwp.Factory(cfg)
}

func startServer(t *testing.T, cfg session.Config, newProcessor session.ProcessorFactory) (*session.Session, *facade.Standalone, string) {
	t.Helper()
	f := facade.NewStandalone(7)
	if newProcessor == nil {
		newProcessor = builtinFactory(f)
	}
	opts := serverOptions(freePort(t), false)
	s, err := session.Create(opts, cfg, f, newProcessor)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	t.Cleanup(s.Destroy)
	return s, f, addr(opts)
}

func dialClient(t *testing.T, address string) *client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cfg := client.DefaultConfig()
	cfg.Address = address
	c, err := client.Dial(ctx, cfg)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSerialsStartAtDistinctBases(t *testing.T) {
	testlog.Start(t)
	s, _, _ := startServer(t, session.DefaultConfig(), nil)

	seen := make(map[uint32]bool)
	prevReq, prevEvt := uint32(0), uint32(0)
	for i := 0; i < 100; i++ {
		req := s.NextRequestSerial()
		evt := s.NextEventSerial()
		if i == 0 {
			if req != session.RequestSerialBase || evt != session.EventSerialBase {
				t.Fatalf("bases req=%#x evt=%#x", req, evt)
			}
		} else if req <= prevReq || evt <= prevEvt {
			t.Fatalf("serials not increasing: req %#x->%#x evt %#x->%#x", prevReq, req, prevEvt, evt)
		}
		if seen[req] || seen[evt] {
			t.Fatalf("serial reused: req=%#x evt=%#x", req, evt)
		}
		seen[req], seen[evt] = true, true
		prevReq, prevEvt = req, evt
	}
}

func TestHandshakeEchoAndReplyIDMatchesCommand(t *testing.T) {
	testlog.Start(t)
	s, _, address := startServer(t, session.DefaultConfig(), nil)

	conn, err := net.Dial("tcp", address)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	// Handshake and first command in one write.
	cmd := frame.NewCommand(0x4242, jdwp.SetVirtualMachine, jdwp.CmdIDSizes, nil).Encode()
	if _, err := conn.Write(append([]byte(frame.HandshakeMagic), cmd...)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := frame.ReadHandshake(conn); err != nil {
		t.Fatalf("read handshake echo: %v", err)
	}
	reply, err := frame.ReadPacket(conn, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if !reply.Header.IsReply() || reply.Header.ID != 0x4242 || reply.Header.ErrorCode != 0 {
		t.Fatalf("unexpected reply header: %+v", reply.Header)
	}
	if len(reply.Data) != 20 {
		t.Fatalf("IDSizes reply len=%d", len(reply.Data))
	}
	waitFor(t, "active session", s.IsActive)
}

func TestUnknownCommandRepliesNotImplemented(t *testing.T) {
	testlog.Start(t)
	_, _, address := startServer(t, session.DefaultConfig(), nil)
	c := dialClient(t, address)

	_, err := c.Command(context.Background(), 11, 1, nil)
	var replyErr *client.ReplyError
	if !errors.As(err, &replyErr) || replyErr.Code != jdwp.ErrNotImplemented {
		t.Fatalf("expected not implemented, got %v", err)
	}
}

func TestVersionRoundTrip(t *testing.T) {
	testlog.Start(t)
	_, _, address := startServer(t, session.DefaultConfig(), nil)
	c := dialClient(t, address)

	v, err := c.Version(context.Background())
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if v.Major != jdwp.VersionMajor || v.Minor != jdwp.VersionMinor || v.VMName != "jdwpd" {
		t.Fatalf("unexpected version: %+v", v)
	}
}

// gatedProcessor blocks inside Process until released.
type gatedProcessor struct {
	entered chan struct{}
	release chan struct{}
}

func (p *gatedProcessor) Process(req frame.Request) ([]byte, bool) {
	p.entered <- struct{}{}
	<-p.release
	return frame.NewReply(req.ID(), 0, nil).Encode(), false
}

func TestDestroyWaitsForInFlightCommand(t *testing.T) {
	testlog.Start(t)
	gp := &gatedProcessor{entered: make(chan struct{}, 1), release: make(chan struct{})}
	s, _, address := startServer(t, session.DefaultConfig(), func(*session.Session) session.RequestProcessor { return gp })
	c := dialClient(t, address)

	go c.Command(context.Background(), 1, 1, nil)
	select {
	case <-gp.entered:
	case <-time.After(3 * time.Second):
		t.Fatalf("processor never entered")
	}

	var destroyed atomic.Bool
	done := make(chan struct{})
	go func() {
		s.Destroy()
		destroyed.Store(true)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	if destroyed.Load() {
		t.Fatalf("destroy returned while a command was in flight")
	}
	close(gp.release)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("destroy did not complete")
	}
	if s.IsConnected() {
		t.Fatalf("session still connected after destroy")
	}
	if err := s.Transport().Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestTokenIsMutuallyExclusive(t *testing.T) {
	testlog.Start(t)
	s, _, _ := startServer(t, session.DefaultConfig(), nil)

	var inside atomic.Int32
	var overlap atomic.Bool
	var wg sync.WaitGroup
	for h := 1; h <= 8; h++ {
		wg.Add(1)
		go func(holder session.ThreadID) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if !s.AcquireToken(holder) {
					t.Errorf("holder %d did not acquire fresh token", holder)
					return
				}
				if inside.Add(1) != 1 {
					overlap.Store(true)
				}
				time.Sleep(10 * time.Microsecond)
				inside.Add(-1)
				s.ReleaseToken(holder)
			}
		}(session.ThreadID(100 + h))
	}
	wg.Wait()
	if overlap.Load() {
		t.Fatalf("two holders owned the token at once")
	}
	if s.TokenHolder() != 0 {
		t.Fatalf("token still held by %d", s.TokenHolder())
	}
}

func TestTokenReentrantForSameHolder(t *testing.T) {
	testlog.Start(t)
	s, _, _ := startServer(t, session.DefaultConfig(), nil)

	if !s.AcquireToken(5) {
		t.Fatalf("first acquire should take the token")
	}
	if s.AcquireToken(5) {
		t.Fatalf("re-acquire by the owner should not report a fresh acquisition")
	}
	s.ReleaseToken(5)
	if s.TokenHolder() != 0 {
		t.Fatalf("token should be free")
	}
}

func TestReservedTokenHoldersPanic(t *testing.T) {
	testlog.Start(t)
	s, _, _ := startServer(t, session.DefaultConfig(), nil)

	for _, holder := range []session.ThreadID{0, session.InvalidID, session.InvalidID - 1} {
		func() {
			defer func() {
				if recover() == nil {
					t.Fatalf("holder %#x was accepted", uint64(holder))
				}
			}()
			s.AcquireToken(holder)
		}()
	}
	if s.TokenHolder() != 0 {
		t.Fatalf("token taken by reserved holder %#x", uint64(s.TokenHolder()))
	}
}

func TestEventPostWaitsForCommandReply(t *testing.T) {
	testlog.Start(t)
	gp := &gatedProcessor{entered: make(chan struct{}, 1), release: make(chan struct{})}
	s, f, address := startServer(t, session.DefaultConfig(), func(*session.Session) session.RequestProcessor { return gp })
	c := dialClient(t, address)

	replied := make(chan error, 1)
	go func() {
		_, err := c.Command(context.Background(), 1, 1, nil)
		replied <- err
	}()
	select {
	case <-gp.entered:
	case <-time.After(3 * time.Second):
		t.Fatalf("processor never entered")
	}
	if h := s.TokenHolder(); h == 0 || h == f.ThreadSelfID() {
		t.Fatalf("command unit held by %#x", uint64(h))
	}

	// The agent thread posts while the command is still being processed.
	posted := make(chan bool, 1)
	go func() {
		posted <- jdwp.Post(s, f.ThreadSelfID(), jdwp.SuspendNone, jdwp.Event{Kind: jdwp.EventVMDeath})
	}()

	select {
	case <-posted:
		t.Fatalf("event written inside an in-flight command unit")
	case <-time.After(100 * time.Millisecond):
	}
	close(gp.release)

	select {
	case err := <-replied:
		if err != nil {
			t.Fatalf("command: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no reply")
	}
	select {
	case ok := <-posted:
		if !ok {
			t.Fatalf("post reported no active debugger")
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("post never completed")
	}
	select {
	case p := <-c.Events():
		if p.Header.CommandSet != jdwp.SetEvent || p.Header.Command != jdwp.CmdComposite {
			t.Fatalf("unexpected event header: %+v", p.Header)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no event received")
	}
}

func TestSuspendWaitsForAttach(t *testing.T) {
	testlog.Start(t)
	f := facade.NewStandalone(9)
	opts := serverOptions(freePort(t), true)

	type result struct {
		s   *session.Session
		err error
	}
	created := make(chan result, 1)
	go func() {
		s, err := session.Create(opts, session.DefaultConfig(), f, builtinFactory(f))
		created <- result{s, err}
	}()

	var conn net.Conn
	waitFor(t, "listener", func() bool {
		c, err := net.Dial("tcp", addr(opts))
		if err != nil {
			return false
		}
		conn = c
		return true
	})
	defer conn.Close()

	select {
	case <-created:
		t.Fatalf("create returned before handshake")
	case <-time.After(50 * time.Millisecond):
	}

	if err := frame.WriteHandshake(conn); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	select {
	case r := <-created:
		if r.err != nil {
			t.Fatalf("create: %v", r.err)
		}
		defer r.s.Destroy()
		if !r.s.IsActive() {
			t.Fatalf("session should be active after attach")
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("create did not return after handshake")
	}
}

func TestSuspendClientModeFailsWithoutDebugger(t *testing.T) {
	testlog.Start(t)
	f := facade.NewStandalone(0)
	opts := options.Options{
		Transport: options.TransportSocket,
		Suspend:   true,
		Host:      "127.0.0.1",
		Port:      freePort(t),
	}
	cfg := session.DefaultConfig()
	cfg.Transport.ConnectTimeout = 500 * time.Millisecond

	s, err := session.Create(opts, cfg, f, builtinFactory(f))
	if !errors.Is(err, session.ErrAttachFailed) {
		t.Fatalf("expected attach failure, got session=%v err=%v", s, err)
	}
}

func TestClientModeAttachesToListeningDebugger(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	debugger := make(chan *client.Client, 1)
	go func() {
		c, err := client.Accept(context.Background(), ln, client.DefaultConfig())
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		debugger <- c
	}()

	f := facade.NewStandalone(0)
	opts := options.Options{
		Transport: options.TransportSocket,
		Suspend:   true,
		Host:      "127.0.0.1",
		Port:      uint16(ln.Addr().(*net.TCPAddr).Port),
	}
	s, err := session.Create(opts, session.DefaultConfig(), f, builtinFactory(f))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer s.Destroy()

	c := <-debugger
	defer c.Close()
	if _, err := c.IDSizes(context.Background()); err != nil {
		t.Fatalf("id sizes: %v", err)
	}
}

func TestExitAfterReplyingRunsAfterReply(t *testing.T) {
	testlog.Start(t)
	exited := make(chan int, 1)
	cfg := session.DefaultConfig()
	cfg.Exit = func(code int) { exited <- code }
	_, _, address := startServer(t, cfg, nil)
	c := dialClient(t, address)

	payload := wire.NewWriter(4).U4(3).Bytes()
	if _, err := c.Command(context.Background(), jdwp.SetVirtualMachine, jdwp.CmdExit, payload); err != nil {
		t.Fatalf("exit command: %v", err)
	}
	select {
	case code := <-exited:
		if code != 3 {
			t.Fatalf("exit code=%d", code)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("exit func not called")
	}
}

func TestLastActivityMillis(t *testing.T) {
	testlog.Start(t)
	var nowMillis atomic.Int64
	nowMillis.Store(1_000_000)
	cfg := session.DefaultConfig()
	cfg.Now = func() time.Time { return time.UnixMilli(nowMillis.Load()) }
	s, _, address := startServer(t, cfg, nil)

	if got := s.LastActivityMillis(); got != -1 {
		t.Fatalf("without debugger got=%d", got)
	}
	c := dialClient(t, address)
	waitFor(t, "active session", s.IsActive)
	if got := s.LastActivityMillis(); got != 0 {
		t.Fatalf("before first command got=%d", got)
	}

	if _, err := c.IDSizes(context.Background()); err != nil {
		t.Fatalf("id sizes: %v", err)
	}
	nowMillis.Add(250)
	if got := s.LastActivityMillis(); got != 250 {
		t.Fatalf("after command got=%d", got)
	}

	// DDM traffic does not count as activity.
	if _, err := c.Command(context.Background(), jdwp.SetDdm, jdwp.CmdDdmChunk, nil); err != nil {
		t.Fatalf("ddm chunk: %v", err)
	}
	nowMillis.Add(50)
	if got := s.LastActivityMillis(); got != 300 {
		t.Fatalf("after ddm got=%d", got)
	}
}

func TestDdmActiveUntilDisconnect(t *testing.T) {
	testlog.Start(t)
	s, f, address := startServer(t, session.DefaultConfig(), nil)
	c := dialClient(t, address)

	if _, err := c.Command(context.Background(), jdwp.SetDdm, jdwp.CmdDdmChunk, []byte("HELO")); err != nil {
		t.Fatalf("ddm chunk: %v", err)
	}
	if !s.DdmActive() || !f.Counters().DdmActive {
		t.Fatalf("ddm should be active")
	}

	c.Close()
	waitFor(t, "ddm disconnect", func() bool { return !f.Counters().DdmActive })
	if s.DdmActive() {
		t.Fatalf("session ddm flag should reset")
	}
}

func TestServerAcceptsNextDebuggerAfterDisconnect(t *testing.T) {
	testlog.Start(t)
	s, f, address := startServer(t, session.DefaultConfig(), nil)

	first := dialClient(t, address)
	if _, err := first.SetEvent(context.Background(), jdwp.EventThreadStart, jdwp.SuspendNone); err != nil {
		t.Fatalf("set event: %v", err)
	}
	if s.Events().Len() != 1 {
		t.Fatalf("expected one registration")
	}
	first.Close()
	waitFor(t, "disconnect", func() bool { return f.Counters().Undos == 1 })
	if s.Events().Len() != 0 {
		t.Fatalf("registrations should be cleared on reset")
	}

	second := dialClient(t, address)
	if _, err := second.IDSizes(context.Background()); err != nil {
		t.Fatalf("second debugger: %v", err)
	}
	if got := f.Counters().Connections; got != 2 {
		t.Fatalf("connections=%d", got)
	}
}

func TestDisposeDropsConnection(t *testing.T) {
	testlog.Start(t)
	s, f, address := startServer(t, session.DefaultConfig(), nil)
	c := dialClient(t, address)

	if err := c.Dispose(context.Background()); err != nil {
		t.Fatalf("dispose: %v", err)
	}
	waitFor(t, "disconnect", func() bool { return !s.IsConnected() && f.Counters().Undos == 1 })
}

func TestEventRequestLifecycle(t *testing.T) {
	testlog.Start(t)
	s, f, address := startServer(t, session.DefaultConfig(), nil)
	f.RegisterClass(0x10, "LMain;")
	f.RegisterMethod(0x20, "main")
	c := dialClient(t, address)
	ctx := context.Background()

	loc := jdwp.Location{TypeTag: jdwp.TagClass, ClassID: 0x10, MethodID: 0x20, Index: 4}
	bp1, err := c.SetBreakpoint(ctx, loc, jdwp.SuspendAll)
	if err != nil {
		t.Fatalf("set breakpoint: %v", err)
	}
	bp2, err := c.SetBreakpoint(ctx, loc, jdwp.SuspendAll)
	if err != nil {
		t.Fatalf("set breakpoint: %v", err)
	}
	step, err := c.SetEvent(ctx, jdwp.EventVMDeath, jdwp.SuspendNone)
	if err != nil {
		t.Fatalf("set event: %v", err)
	}
	if bp1 < session.EventSerialBase || bp2 <= bp1 || step <= bp2 {
		t.Fatalf("event ids not from event serial space: %#x %#x %#x", bp1, bp2, step)
	}

	item, ok := s.Events().Get(bp1)
	if !ok || len(item.Modifiers) != 1 || item.Modifiers[0] != "LocationOnly(LMain;.main@0x4 class)" {
		t.Fatalf("unexpected registration: %+v", item)
	}

	if err := c.ClearEvent(ctx, jdwp.EventBreakpoint, bp1); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := c.Command(ctx, jdwp.SetEventRequest, jdwp.CmdClearAllBreakpoints, nil); err != nil {
		t.Fatalf("clear all: %v", err)
	}
	list := s.Events().List()
	if len(list) != 1 || list[0].ID != step {
		t.Fatalf("unexpected remaining registrations: %+v", list)
	}

	_, err = c.SetEvent(ctx, 77, jdwp.SuspendNone)
	var replyErr *client.ReplyError
	if !errors.As(err, &replyErr) || replyErr.Code != jdwp.ErrInvalidEventType {
		t.Fatalf("expected invalid event type, got %v", err)
	}
}

func TestPostedEventReachesDebugger(t *testing.T) {
	testlog.Start(t)
	s, _, address := startServer(t, session.DefaultConfig(), nil)
	c := dialClient(t, address)
	ctx := context.Background()

	id, err := c.SetEvent(ctx, jdwp.EventThreadStart, jdwp.SuspendNone)
	if err != nil {
		t.Fatalf("set event: %v", err)
	}
	if !jdwp.Post(s, 33, jdwp.SuspendNone, jdwp.Event{Kind: jdwp.EventThreadStart, RequestID: id, Thread: 33}) {
		t.Fatalf("post reported no active debugger")
	}

	// The event is read while waiting for the next reply.
	if _, err := c.IDSizes(ctx); err != nil {
		t.Fatalf("id sizes: %v", err)
	}
	select {
	case p := <-c.Events():
		if p.Header.CommandSet != jdwp.SetEvent || p.Header.Command != jdwp.CmdComposite {
			t.Fatalf("unexpected event header: %+v", p.Header)
		}
		if p.Header.ID < session.RequestSerialBase || p.Header.ID >= session.EventSerialBase {
			t.Fatalf("event packet id %#x outside request serial space", p.Header.ID)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no event received")
	}
	if item, _ := s.Events().Get(id); item.Hits != 1 {
		t.Fatalf("hits=%d", item.Hits)
	}
}
