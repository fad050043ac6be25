package gamesession

import (
	"errors"
	"sync"

	"github.com/cyberinferno/gemcarry/idgenerator"
	"github.com/cyberinferno/gemcarry/logger"
	"github.com/cyberinferno/gemcarry/metrics"
	"github.com/cyberinferno/gemcarry/safemap"
)

// Errors returned by membership operations.
var (
	ErrSessionFull    = errors.New("gamesession: session is full")
	ErrSessionClosed  = errors.New("gamesession: session is not accepting players")
	ErrNotInSession   = errors.New("gamesession: player is not in a session")
	ErrUnknownSession = errors.New("gamesession: session is not tracked by this registry")
)

// Registry tracks every game session and which session each player is in.
// All membership changes are serialized by one mutex, so a player is never in
// two sessions and no session grows past its capacity. Lookups and broadcast
// read lock-free snapshots.
type Registry struct {
	mu       sync.Mutex
	capacity int
	sessions []*Session
	byID     *safemap.SafeMap[uint32, *Session]
	playerOf *safemap.SafeMap[uint32, *Session]
	ids      *idgenerator.IdGenerator
	log      logger.Logger
	metrics  *metrics.Metrics
}

// NewRegistry creates an empty registry.
//
// Parameters:
//   - capacity: Maximum players per session; DefaultCapacity when not positive
//   - log: Logger for session lifecycle and delivery failures
//   - m: Collectors to update; may be nil
//
// Returns:
//   - A new Registry
func NewRegistry(capacity int, log logger.Logger, m *metrics.Metrics) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Registry{
		capacity: capacity,
		byID:     safemap.NewSafeMap[uint32, *Session](),
		playerOf: safemap.NewSafeMap[uint32, *Session](),
		ids:      idgenerator.NewIdGenerator(0),
		log:      log,
		metrics:  m,
	}
}

// Capacity returns the per-session player limit.
func (r *Registry) Capacity() int {
	return r.capacity
}

// FindOrCreate returns an open session, creating one when none is open. When
// several sessions are open the most recently created one is chosen.
func (r *Registry) FindOrCreate() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.findOrCreateLocked()
}

// Join moves m into an open session as one atomic step: it leaves its
// current session, if any, then is added to the session FindOrCreate picks.
//
// Returns:
//   - The session m is now in
//   - An error only if no session could take the player
func (r *Registry) Join(m Member) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.leaveLocked(m)

	s := r.findOrCreateLocked()
	if err := r.addLocked(s, m); err != nil {
		// The flag of the chosen session can flip between the scan and the add.
		s = r.createLocked()
		if err := r.addLocked(s, m); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// AddPlayer puts m into s, leaving its previous session first. Adding a
// player to the session it is already in is a no-op.
//
// Returns:
//   - ErrUnknownSession, ErrSessionClosed or ErrSessionFull; on error the
//     player keeps its previous membership
func (r *Registry) AddPlayer(s *Session, m Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.byID.Load(s.id); !ok || cur != s {
		return ErrUnknownSession
	}

	if s.Has(m.ID()) {
		return nil
	}

	if err := admits(s); err != nil {
		return err
	}

	r.leaveLocked(m)
	return r.addLocked(s, m)
}

// RemovePlayer takes m out of s.
//
// Returns:
//   - true if m was a member of s
func (r *Registry) RemovePlayer(s *Session, m Member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.removeLocked(s, m.ID())
}

// Leave takes m out of whatever session it is in.
//
// Returns:
//   - The session m left, and true; or nil and false if it was in none
func (r *Registry) Leave(m Member) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.leaveLocked(m)
}

// SessionOf returns the session the player with id is in.
func (r *Registry) SessionOf(playerID uint32) (*Session, bool) {
	return r.playerOf.Load(playerID)
}

// Session returns the session with the given id.
func (r *Registry) Session(id uint32) (*Session, bool) {
	return r.byID.Load(id)
}

// Broadcast delivers payload to every member of the sender's session,
// the sender included. Delivery happens outside the registry lock.
//
// Returns:
//   - The number of members the payload was delivered to
//   - ErrNotInSession if from is not in a session
func (r *Registry) Broadcast(from Member, payload []byte) (int, error) {
	s, ok := r.SessionOf(from.ID())
	if !ok {
		return 0, ErrNotInSession
	}

	return s.broadcast(payload, r.log), nil
}

// Snapshot describes every session in creation order.
func (r *Registry) Snapshot() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Info())
	}

	return out
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.sessions)
}

func (r *Registry) findOrCreateLocked() *Session {
	var found *Session
	for _, s := range r.sessions {
		if s.IsOpen() {
			found = s
		}
	}

	if found != nil {
		return found
	}

	return r.createLocked()
}

func (r *Registry) createLocked() *Session {
	s := newSession(r.ids.Id(), r.capacity)
	r.sessions = append(r.sessions, s)
	r.byID.Store(s.id, s)
	r.metrics.SetGameSessions(len(r.sessions))

	r.log.Info("game session created", logger.SessionID(s.id))
	return s
}

func (r *Registry) addLocked(s *Session, m Member) error {
	if err := admits(s); err != nil {
		return err
	}

	s.members.Store(m.ID(), m)
	s.size.Add(1)
	r.playerOf.Store(m.ID(), s)

	r.log.Debug("player joined session",
		logger.SessionID(s.id), logger.ConnID(m.ID()), logger.Field{Key: "players", Value: s.Size()})
	return nil
}

func (r *Registry) removeLocked(s *Session, id uint32) bool {
	if _, ok := s.members.LoadAndDelete(id); !ok {
		return false
	}

	s.size.Add(-1)
	if cur, ok := r.playerOf.Load(id); ok && cur == s {
		r.playerOf.Delete(id)
	}

	r.log.Debug("player left session",
		logger.SessionID(s.id), logger.ConnID(id), logger.Field{Key: "players", Value: s.Size()})
	return true
}

func (r *Registry) leaveLocked(m Member) (*Session, bool) {
	s, ok := r.playerOf.Load(m.ID())
	if !ok {
		return nil, false
	}

	r.removeLocked(s, m.ID())
	return s, true
}

func admits(s *Session) error {
	if !s.Accepting() {
		return ErrSessionClosed
	}

	if s.Size() >= s.capacity {
		return ErrSessionFull
	}

	return nil
}
