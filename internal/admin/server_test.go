package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/jdwpd/internal/facade"
	"github.com/danmuck/jdwpd/internal/session"
	"github.com/danmuck/jdwpd/internal/testutil/testlog"
	"github.com/danmuck/jdwpd/internal/testutil/tlstest"
)

type fakeSource struct {
	mu     sync.Mutex
	status session.Status
	events *session.EventRegistry
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		status: session.Status{Options: "transport=dt_socket,server=y,address=8000", Transport: "dt_socket", Server: true},
		events: session.NewEventRegistry(),
	}
}

func (f *fakeSource) Status() session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeSource) Events() *session.EventRegistry { return f.events }

func (f *fakeSource) setActive(active bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status.Connected = active
	f.status.Active = active
	if active {
		f.status.Peer = "127.0.0.1:50000"
	}
}

func get(t *testing.T, h http.Handler, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthAndReadiness(t *testing.T) {
	testlog.Start(t)
	src := newFakeSource()
	s := New(Config{}, src, nil)

	if rr := get(t, s.Router(), "/health", ""); rr.Code != http.StatusOK {
		t.Fatalf("health status=%d", rr.Code)
	}

	rr := get(t, s.Router(), "/ready", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready without debugger status=%d", rr.Code)
	}

	src.setActive(true)
	rr = get(t, s.Router(), "/ready", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("ready with debugger status=%d body=%s", rr.Code, rr.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode ready: %v", err)
	}
	if body["peer"] != "127.0.0.1:50000" || body["ready"] != true {
		t.Fatalf("unexpected ready body %v", body)
	}
}

func TestSessionReportsStatusEventsAndCounters(t *testing.T) {
	testlog.Start(t)
	src := newFakeSource()
	src.setActive(true)
	src.events.Register(session.EventRequest{ID: session.EventSerialBase, Kind: 2, Modifiers: []string{"Count(1)"}})

	f := facade.NewStandalone(0)
	f.Connected()
	s := New(Config{}, src, f)

	rr := get(t, s.Router(), "/session", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("session status=%d", rr.Code)
	}
	var body struct {
		Session       session.Status         `json:"session"`
		EventRequests []session.EventRequest `json:"event_requests"`
		Facade        facade.Counters        `json:"facade"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if !body.Session.Active || body.Session.Transport != "dt_socket" {
		t.Fatalf("unexpected status %+v", body.Session)
	}
	if len(body.EventRequests) != 1 || body.EventRequests[0].Modifiers[0] != "Count(1)" {
		t.Fatalf("unexpected event requests %+v", body.EventRequests)
	}
	if body.Facade.Connections != 1 {
		t.Fatalf("unexpected counters %+v", body.Facade)
	}
}

func TestTokenGuardsSessionAndMetrics(t *testing.T) {
	testlog.Start(t)
	s := New(Config{Token: "s3cret"}, newFakeSource(), nil)

	for _, path := range []string{"/session", "/metrics"} {
		if rr := get(t, s.Router(), path, ""); rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s without token status=%d", path, rr.Code)
		}
		if rr := get(t, s.Router(), path, "wrong"); rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s with bad token status=%d", path, rr.Code)
		}
		if rr := get(t, s.Router(), path, "s3cret"); rr.Code != http.StatusOK {
			t.Fatalf("%s with token status=%d", path, rr.Code)
		}
	}

	rr := get(t, s.Router(), "/metrics", "s3cret")
	if !strings.Contains(rr.Body.String(), "jdwpd_http_requests_total") {
		t.Fatalf("metrics output missing admin counters")
	}
	if rr := get(t, s.Router(), "/health", ""); rr.Code != http.StatusOK {
		t.Fatalf("health must stay open, status=%d", rr.Code)
	}
}

func TestConfigRejectsHalfTLSPair(t *testing.T) {
	testlog.Start(t)
	if err := (Config{CertFile: "a.crt"}).Validate(); !errors.Is(err, ErrTLSPairIncomplete) {
		t.Fatalf("expected incomplete pair error, got %v", err)
	}
	if got := normalizeOrigins([]string{" ", ""}); len(got) != 1 || got[0] != "http://localhost:3000" {
		t.Fatalf("unexpected origins %v", got)
	}
}

func TestServeTLSAndShutdown(t *testing.T) {
	testlog.Start(t)
	ca := tlstest.NewAuthority(t)
	certFile, keyFile := ca.ServerPair(t, "localhost", "127.0.0.1")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := New(Config{CertFile: certFile, KeyFile: keyFile}, newFakeSource(), nil)
	served := make(chan error, 1)
	go func() { served <- s.Serve(ln) }()

	client := &http.Client{
		Timeout:   5 * time.Second,
		Transport: &http.Transport{TLSClientConfig: ca.ClientConfig()},
	}
	resp, err := client.Get("https://" + ln.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health over tls status=%d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	select {
	case err := <-served:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("serve did not return after shutdown")
	}
}
