package session

import (
	"github.com/danmuck/jdwpd/internal/observability"
)

func (s *Session) IsConnected() bool {
	return s.transport != nil && s.transport.IsConnected()
}

// IsActive reports a connected debugger that has completed the handshake.
func (s *Session) IsActive() bool {
	return s.IsConnected() && !s.transport.IsAwaitingHandshake()
}

// NextRequestSerial returns the next id for an agent-originated command.
func (s *Session) NextRequestSerial() uint32 {
	return s.requestSerial.Add(1) - 1
}

// NextEventSerial returns the next id for an event request registration.
func (s *Session) NextEventSerial() uint32 {
	return s.eventSerial.Add(1) - 1
}

// SendRequest writes one complete packet. It is a no-op without a debugger
// and only logs a short write.
func (s *Session) SendRequest(packet []byte) {
	if !s.IsConnected() {
		s.log.Debug().Int("bytes", len(packet)).Msg("not sending packet: no debugger attached")
		return
	}
	written, err := s.transport.WritePacket(packet)
	if err != nil || written != len(packet) {
		s.log.Error().Err(err).Int("actual", written).Int("expected", len(packet)).Msg("failed to send packet to debugger")
		return
	}
	observability.RecordPacket("out", "event", written)
}

// SendBufferedRequest writes segments as one packet tagged with a
// four-character chunk type (e.g. "CHNK") for logging.
func (s *Session) SendBufferedRequest(typeTag uint32, segments [][]byte) {
	expected := 0
	for _, seg := range segments {
		expected += len(seg)
	}
	if !s.IsConnected() {
		s.log.Debug().Str("type", FormatTypeTag(typeTag)).Msg("not sending packet: no debugger attached")
		return
	}
	written, err := s.transport.WriteBufferedPacket(segments)
	if err != nil || written != int64(expected) {
		s.log.Error().
			Err(err).
			Str("type", FormatTypeTag(typeTag)).
			Int64("actual", written).
			Int("expected", expected).
			Msg("failed to send packet to debugger")
		return
	}
	observability.RecordPacket("out", "event", expected)
}

// SendEvent emits one event unit as holder, taking the token for the
// duration of the write unless holder already owns it.
func (s *Session) SendEvent(holder ThreadID, segments [][]byte) {
	acquired := s.AcquireToken(holder)
	defer func() {
		if acquired {
			s.ReleaseToken(holder)
		}
	}()
	s.SendBufferedRequest(0, segments)
}

// FormatTypeTag renders a big-endian four-character tag.
func FormatTypeTag(tag uint32) string {
	if tag == 0 {
		return "----"
	}
	b := []byte{byte(tag >> 24), byte(tag >> 16), byte(tag >> 8), byte(tag)}
	for i, c := range b {
		if c < 0x20 || c > 0x7e {
			b[i] = '?'
		}
	}
	return string(b)
}

// NotifyDdmActive tells the facade, once per connection, that vendor chunk
// traffic has started.
func (s *Session) NotifyDdmActive() {
	if s.ddmActive.CompareAndSwap(false, true) {
		s.facade.DdmConnected()
	}
}

func (s *Session) DdmActive() bool {
	return s.ddmActive.Load()
}

// LastActivityMillis returns -1 without an active debugger, 0 while a
// command is being processed, otherwise milliseconds since the last command.
func (s *Session) LastActivityMillis() int64 {
	if !s.IsActive() {
		return -1
	}
	last := s.lastActivity.Load()
	if last == 0 {
		return 0
	}
	now := s.cfg.Now().UnixMilli()
	if now < last {
		s.log.Warn().Int64("now", now).Int64("last", last).Msg("activity clock went backwards")
		return 0
	}
	return now - last
}

// ExitAfterReplying asks the session goroutine to terminate the process once
// the current reply has been written.
func (s *Session) ExitAfterReplying(code int) {
	s.log.Warn().Int("code", code).Msg("debugger requested exit")
	s.exitCode.Store(int32(code))
	s.shouldExit.Store(true)
}
