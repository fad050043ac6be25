// Package gamesession groups connected players into capacity-bounded game
// sessions, assigns newcomers to an open session, and fans chat out to the
// members of a session.
package gamesession

import (
	"sync/atomic"

	"github.com/cyberinferno/gemcarry/logger"
	"github.com/cyberinferno/gemcarry/safemap"
)

// DefaultCapacity is the maximum number of players in one session.
const DefaultCapacity = 10

// Member is a player as seen by the registry. ID must be unique among live
// members; Deliver must be safe to call from any goroutine.
type Member interface {
	ID() uint32
	Deliver(payload []byte) error
}

// Session is one game session. Membership is changed only through the
// Registry that created it.
type Session struct {
	id        uint32
	capacity  int
	accepting atomic.Bool
	size      atomic.Int32
	members   *safemap.SafeMap[uint32, Member]
}

// Info is a point-in-time description of a session.
type Info struct {
	ID        uint32 `json:"id"`
	Players   int    `json:"players"`
	Capacity  int    `json:"capacity"`
	Accepting bool   `json:"accepting"`
}

func newSession(id uint32, capacity int) *Session {
	s := &Session{
		id:       id,
		capacity: capacity,
		members:  safemap.NewSafeMap[uint32, Member](),
	}
	s.accepting.Store(true)

	return s
}

// ID returns the session id.
func (s *Session) ID() uint32 {
	return s.id
}

// Capacity returns the maximum number of members.
func (s *Session) Capacity() int {
	return s.capacity
}

// Size returns the current number of members.
func (s *Session) Size() int {
	return int(s.size.Load())
}

// Accepting reports the "accepting new players" flag.
func (s *Session) Accepting() bool {
	return s.accepting.Load()
}

// SetAccepting sets the "accepting new players" flag. Existing members are
// not affected.
func (s *Session) SetAccepting(accepting bool) {
	s.accepting.Store(accepting)
}

// IsOpen reports whether matchmaking may place a new player here.
func (s *Session) IsOpen() bool {
	return s.Accepting() && s.Size() < s.capacity
}

// Has reports whether the member with id belongs to the session.
func (s *Session) Has(id uint32) bool {
	return s.members.Has(id)
}

// Members returns a snapshot of the current members in no particular order.
func (s *Session) Members() []Member {
	return s.members.Values()
}

// Info returns a snapshot description of the session.
func (s *Session) Info() Info {
	return Info{
		ID:        s.id,
		Players:   s.Size(),
		Capacity:  s.capacity,
		Accepting: s.Accepting(),
	}
}

// broadcast delivers payload to a snapshot of the members. A failed delivery
// is logged and the fan-out continues.
func (s *Session) broadcast(payload []byte, log logger.Logger) int {
	delivered := 0
	for _, m := range s.members.Values() {
		if err := m.Deliver(payload); err != nil {
			log.Warn("broadcast delivery failed",
				logger.SessionID(s.id), logger.ConnID(m.ID()), logger.Err(err))
			continue
		}

		delivered++
	}

	return delivered
}
