package session

import (
	"time"

	"github.com/danmuck/jdwpd/internal/observability"
	"github.com/danmuck/jdwpd/internal/protocol/frame"
)

// HandlePacket processes the command packet at the front of the transport
// buffer. It is called by the transport on the session goroutine and returns
// false when the reply could not be written, which drops the connection.
func (s *Session) HandlePacket() bool {
	s.processing.Set(true)
	defer s.processing.Set(false)

	req, err := frame.ParseRequest(s.transport.Buffered())
	if err != nil {
		s.log.Error().Err(err).Int("buffered", len(s.transport.Buffered())).Msg("unparseable packet")
		return false
	}
	observability.RecordPacket("in", "command", req.Length())

	start := time.Now()
	counted := req.CommandSet() != DdmCommandSet

	acquired := s.acquireToken(commandHolder)
	if counted {
		s.lastActivity.Store(0)
	}

	s.log.Trace().Stringer("request", req).Msg("processing command")
	reply, suppress := s.processor.Process(req)

	if counted {
		s.lastActivity.Store(s.cfg.Now().UnixMilli())
	}

	written := 0
	var writeErr error
	if !suppress {
		written, writeErr = s.transport.WritePacket(reply)
	} else if len(reply) != 0 {
		s.log.Warn().Stringer("request", req).Int("bytes", len(reply)).Msg("suppressed reply carried data")
		reply = nil
	}

	if acquired {
		s.releaseToken(commandHolder)
	}

	if writeErr != nil || written != len(reply) {
		s.log.Error().
			Err(writeErr).
			Stringer("request", req).
			Int("actual", written).
			Int("expected", len(reply)).
			Msg("failed sending reply to debugger")
		return false
	}
	if !suppress {
		observability.RecordPacket("out", "reply", written)
	}
	observability.RecordCommand(req.CommandSet(), !suppress, time.Since(start))

	s.transport.ConsumeBytes(req.Length())
	return true
}
