// Package session tracks connected clients: their connection handle, auth
// state and liveness. The manager maps session ids and player ids to live
// sessions.
package session

import (
	"sync"
	"time"

	"github.com/highwizardry/gameserver/network"
)

type Session struct {
	ID    string
	Conn  network.Connection
	State *StateMachine

	mu                     sync.RWMutex
	playerID               string
	username               string
	token                  string
	alive                  bool
	needsEmailVerification bool
	deferredJoin           bool
	muteNoticeSent         bool

	SourceAddr string
	CreatedAt  time.Time
	LastActive time.Time
}

func NewSession(id string, conn network.Connection, sourceAddr string) *Session {
	now := time.Now()
	return &Session{
		ID:         id,
		Conn:       conn,
		State:      NewStateMachine(),
		alive:      true,
		SourceAddr: sourceAddr,
		CreatedAt:  now,
		LastActive: now,
	}
}

// Authenticate moves the session to AUTH and records its identity.
func (s *Session) Authenticate(playerID, username, token string, needsEmailVerification bool) error {
	if err := s.State.ChangeState(StateAuth); err != nil {
		return err
	}
	s.mu.Lock()
	s.playerID = playerID
	s.username = username
	s.token = token
	s.needsEmailVerification = needsEmailVerification
	// Joins announced after verification completes stay hidden until then.
	s.deferredJoin = needsEmailVerification
	s.mu.Unlock()
	return nil
}

func (s *Session) PlayerID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playerID
}

func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// MarkAlive records a pong; Expire consumes the liveness flag and reports
// whether the client answered since the previous ping round.
func (s *Session) MarkAlive() {
	s.mu.Lock()
	s.alive = true
	s.LastActive = time.Now()
	s.mu.Unlock()
}

func (s *Session) Expire() (wasAlive bool) {
	s.mu.Lock()
	wasAlive = s.alive
	s.alive = false
	s.mu.Unlock()
	return wasAlive
}

// CompleteVerification lifts the deferred-join flag, returning true if the
// join announcement was pending.
func (s *Session) CompleteVerification() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.needsEmailVerification = false
	pending := s.deferredJoin
	s.deferredJoin = false
	return pending
}

// MuteNoticeDue reports true exactly once per session: muted players get a
// single informational reply, then their chat drops silently.
func (s *Session) MuteNoticeDue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.muteNoticeSent {
		return false
	}
	s.muteNoticeSent = true
	return true
}

// JoinDeferred reports whether the player_connected broadcast is held back.
func (s *Session) JoinDeferred() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deferredJoin
}

func (s *Session) Send(v interface{}) error {
	return s.Conn.Send(v)
}

func (s *Session) Close() error {
	_ = s.State.ChangeState(StateClosed)
	return s.Conn.Close()
}

// Manager indexes live sessions by session id and player id.
type Manager struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	byPlayer  map[string]string // playerID -> sessionID
	perSource map[string]int
}

func NewManager() *Manager {
	return &Manager{
		sessions:  make(map[string]*Session),
		byPlayer:  make(map[string]string),
		perSource: make(map[string]int),
	}
}

func (m *Manager) Add(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	m.perSource[s.SourceAddr]++
}

// Bind associates an authenticated player id with the session. A previous
// session for the same player is returned so the caller can close it.
func (m *Manager) Bind(sessionID, playerID string) (evicted *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if oldID, ok := m.byPlayer[playerID]; ok && oldID != sessionID {
		evicted = m.sessions[oldID]
	}
	m.byPlayer[playerID] = sessionID
	return evicted
}

func (m *Manager) Remove(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	delete(m.sessions, sessionID)
	if m.perSource[s.SourceAddr] > 0 {
		m.perSource[s.SourceAddr]--
		if m.perSource[s.SourceAddr] == 0 {
			delete(m.perSource, s.SourceAddr)
		}
	}
	if pid := s.PlayerID(); pid != "" && m.byPlayer[pid] == sessionID {
		delete(m.byPlayer, pid)
	}
}

func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

func (m *Manager) GetByPlayer(playerID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byPlayer[playerID]
	if !ok {
		return nil, false
	}
	s, ok := m.sessions[id]
	return s, ok
}

// ForEach visits every session. The snapshot is taken under the lock; the
// visit happens outside it.
func (m *Manager) ForEach(fn func(*Session)) {
	m.mu.RLock()
	snapshot := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		snapshot = append(snapshot, s)
	}
	m.mu.RUnlock()

	for _, s := range snapshot {
		fn(s)
	}
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) CountBySource(addr string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.perSource[addr]
}
