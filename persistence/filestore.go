package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/highwizardry/gameserver/logger"
	"github.com/highwizardry/gameserver/models"
)

// FileStore is the file-per-entity backend. Layout:
//
//	<dir>/users.json                       map of lowercased username -> user
//	<dir>/players/<playerId>.json          one file per player
//	<dir>/auctions/active-auctions.json
//	<dir>/auctions/auction-history.json
//
// Every write goes to a temp file in the same directory followed by a
// rename, so readers never observe a torn file.
type FileStore struct {
	dir string

	mu    sync.RWMutex
	users map[string]*models.User
}

func NewFileStore(dir string) (*FileStore, error) {
	for _, sub := range []string{dir, filepath.Join(dir, "players"), filepath.Join(dir, "auctions")} {
		if err := os.MkdirAll(sub, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	s := &FileStore{dir: dir, users: make(map[string]*models.User)}
	if err := s.loadUsers(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) usersPath() string {
	return filepath.Join(s.dir, "users.json")
}

func (s *FileStore) playerPath(playerID string) string {
	return filepath.Join(s.dir, "players", playerID+".json")
}

func (s *FileStore) loadUsers() error {
	data, err := os.ReadFile(s.usersPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read users file: %w", err)
	}
	if err := json.Unmarshal(data, &s.users); err != nil {
		return fmt.Errorf("decode users file: %w", err)
	}
	return nil
}

// writeAtomic writes data via temp+rename, retrying once on failure.
func writeAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	write := func() error {
		tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
		if err != nil {
			return err
		}
		name := tmp.Name()
		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			os.Remove(name)
			return err
		}
		if err := tmp.Close(); err != nil {
			os.Remove(name)
			return err
		}
		return os.Rename(name, path)
	}

	if err := write(); err != nil {
		logger.Log.Warnf("write %s failed, retrying once: %v", path, err)
		return write()
	}
	return nil
}

func (s *FileStore) persistUsersLocked() error {
	return writeAtomic(s.usersPath(), s.users)
}

// --- users ---

func (s *FileStore) GetUser(username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[strings.ToLower(username)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *FileStore) CreateUser(user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(user.Username)
	if _, exists := s.users[key]; exists {
		return ErrDuplicate
	}
	cp := *user
	s.users[key] = &cp
	return s.persistUsersLocked()
}

func (s *FileStore) UpdateUser(user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(user.Username)
	if _, exists := s.users[key]; !exists {
		return ErrNotFound
	}
	cp := *user
	s.users[key] = &cp
	return s.persistUsersLocked()
}

func (s *FileStore) DeleteUser(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(username)
	if _, exists := s.users[key]; !exists {
		return ErrNotFound
	}
	delete(s.users, key)
	return s.persistUsersLocked()
}

func (s *FileStore) GetUserByEmail(email string) (*models.User, error) {
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

func (s *FileStore) GetUserByPlayerID(playerID string) (*models.User, error) {
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

func (s *FileStore) GetAllUsers() ([]*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.User, 0, len(s.users))
	for _, u := range s.users {
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

// --- players ---

func (s *FileStore) GetPlayer(playerID string) (*models.Player, error) {
	data, err := os.ReadFile(s.playerPath(playerID))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read player file: %w", err)
	}

	var p models.Player
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode player %s: %w", playerID, err)
	}
	return &p, nil
}

func (s *FileStore) CreatePlayer(player *models.Player) error {
	if _, err := os.Stat(s.playerPath(player.ID)); err == nil {
		return ErrDuplicate
	}
	return writeAtomic(s.playerPath(player.ID), player)
}

func (s *FileStore) UpdatePlayer(player *models.Player) error {
	return writeAtomic(s.playerPath(player.ID), player)
}

func (s *FileStore) DeletePlayer(playerID string) error {
	err := os.Remove(s.playerPath(playerID))
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	return err
}

func (s *FileStore) GetAllPlayers() ([]*models.Player, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, "players"))
	if err != nil {
		return nil, fmt.Errorf("read players dir: %w", err)
	}

	var players []*models.Player
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		p, err := s.GetPlayer(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			logger.Log.Warnf("skipping unreadable player file %s: %v", e.Name(), err)
			continue
		}
		players = append(players, p)
	}
	return players, nil
}

// --- auctions ---

func (s *FileStore) SaveAuctions(active, history []*models.Auction) error {
	if active == nil {
		active = []*models.Auction{}
	}
	if history == nil {
		history = []*models.Auction{}
	}
	if err := writeAtomic(filepath.Join(s.dir, "auctions", "active-auctions.json"), active); err != nil {
		return err
	}
	return writeAtomic(filepath.Join(s.dir, "auctions", "auction-history.json"), history)
}

func (s *FileStore) LoadAuctions() (active, history []*models.Auction, err error) {
	load := func(name string) ([]*models.Auction, error) {
		data, err := os.ReadFile(filepath.Join(s.dir, "auctions", name))
		if os.IsNotExist(err) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		var out []*models.Auction
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		return out, nil
	}

	if active, err = load("active-auctions.json"); err != nil {
		return nil, nil, err
	}
	if history, err = load("auction-history.json"); err != nil {
		return nil, nil, err
	}
	return active, history, nil
}

func (s *FileStore) HealthCheck() error {
	_, err := os.Stat(s.dir)
	return err
}

func (s *FileStore) Close() error {
	return nil
}
