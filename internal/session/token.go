package session

import (
	"fmt"
	"time"

	"github.com/danmuck/jdwpd/internal/observability"
)

// commandHolder owns the token while a debugger command is processed. It is
// reserved so no embedder thread can re-enter a command's unit.
const commandHolder = InvalidID - 1

func checkHolder(holder ThreadID) {
	switch holder {
	case 0, InvalidID, commandHolder:
		panic(fmt.Sprintf("session: reserved token holder %#x", uint64(holder)))
	}
}

// AcquireToken blocks until holder owns the serialization token. It returns
// false, without blocking, when holder already owns it; such a caller must
// not release the token it did not take. Zero, InvalidID and InvalidID-1 are
// reserved and panic.
func (s *Session) AcquireToken(holder ThreadID) bool {
	checkHolder(holder)
	return s.acquireToken(holder)
}

func (s *Session) acquireToken(holder ThreadID) bool {
	start := time.Now()

	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()

	if s.tokenHolder == holder {
		s.log.Debug().Uint64("holder", uint64(holder)).Msg("token already held")
		return false
	}

	waited := false
	for s.tokenHolder != 0 {
		s.log.Trace().
			Uint64("owner", uint64(s.tokenHolder)).
			Uint64("holder", uint64(holder)).
			Msg("unit in progress, waiting for token")
		waited = true
		s.tokenCond.Wait()
	}
	s.tokenHolder = holder

	if waited {
		s.log.Trace().Uint64("holder", uint64(holder)).Msg("token acquired")
	}
	observability.RecordTokenWait(time.Since(start))
	return true
}

// ReleaseToken gives up the token and wakes one waiter. Releasing a token
// owned by someone else, or not owned at all, is logged and still clears it.
func (s *Session) ReleaseToken(holder ThreadID) {
	checkHolder(holder)
	s.releaseToken(holder)
}

func (s *Session) releaseToken(holder ThreadID) {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()

	switch s.tokenHolder {
	case 0:
		s.log.Warn().Uint64("holder", uint64(holder)).Msg("release of unheld token")
	case holder:
	default:
		s.log.Warn().
			Uint64("owner", uint64(s.tokenHolder)).
			Uint64("holder", uint64(holder)).
			Msg("token released by non-owner")
	}
	s.tokenHolder = 0
	s.tokenCond.Signal()
}

// TokenHolder returns the current owner, or 0.
func (s *Session) TokenHolder() ThreadID {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()
	return s.tokenHolder
}
