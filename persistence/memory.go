package persistence

import (
	"strings"
	"sync"

	"github.com/highwizardry/gameserver/models"
)

// MemoryStore keeps everything in maps. It backs service tests and is not a
// production backend.
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[string]*models.User
	players map[string]*models.Player
	active  []*models.Auction
	history []*models.Auction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]*models.User),
		players: make(map[string]*models.Player),
	}
}

func (s *MemoryStore) GetUser(username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[strings.ToLower(username)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) CreateUser(user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(user.Username)
	if _, exists := s.users[key]; exists {
		return ErrDuplicate
	}
	cp := *user
	s.users[key] = &cp
	return nil
}

func (s *MemoryStore) UpdateUser(user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(user.Username)
	if _, exists := s.users[key]; !exists {
		return ErrNotFound
	}
	cp := *user
	s.users[key] = &cp
	return nil
}

func (s *MemoryStore) DeleteUser(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(username)
	if _, exists := s.users[key]; !exists {
		return ErrNotFound
	}
	delete(s.users, key)
	return nil
}

func (s *MemoryStore) GetUserByEmail(email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lower := strings.ToLower(email)
	for _, u := range s.users {
		if u.Email != "" && strings.ToLower(u.Email) == lower {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetUserByPlayerID(playerID string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.PlayerID == playerID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetAllUsers() ([]*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.User, 0, len(s.users))
	for _, u := range s.users {
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) GetPlayer(playerID string) (*models.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[playerID]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryStore) CreatePlayer(player *models.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.players[player.ID]; exists {
		return ErrDuplicate
	}
	s.players[player.ID] = player.Clone()
	return nil
}

func (s *MemoryStore) UpdatePlayer(player *models.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.players[player.ID] = player.Clone()
	return nil
}

func (s *MemoryStore) DeletePlayer(playerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.players[playerID]; !exists {
		return ErrNotFound
	}
	delete(s.players, playerID)
	return nil
}

func (s *MemoryStore) GetAllPlayers() ([]*models.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Player, 0, len(s.players))
	for _, p := range s.players {
		out = append(out, p.Clone())
	}
	return out, nil
}

func (s *MemoryStore) SaveAuctions(active, history []*models.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = append([]*models.Auction(nil), active...)
	s.history = append([]*models.Auction(nil), history...)
	return nil
}

func (s *MemoryStore) LoadAuctions() (active, history []*models.Auction, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*models.Auction(nil), s.active...), append([]*models.Auction(nil), s.history...), nil
}

func (s *MemoryStore) HealthCheck() error { return nil }
func (s *MemoryStore) Close() error       { return nil }
