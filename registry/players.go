// Package registry owns the authoritative mutable player records and the
// location index. Every other component mutates players through here.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/highwizardry/gameserver/logger"
	"github.com/highwizardry/gameserver/models"
	"github.com/highwizardry/gameserver/persistence"
)

// Players is a write-through cache in front of the storage adapter. Reads
// load on demand; every mutation clamps the numeric reserves and persists
// before returning.
type Players struct {
	store persistence.Store

	mu    sync.RWMutex
	cache map[string]*models.Player
}

func NewPlayers(store persistence.Store) *Players {
	return &Players{
		store: store,
		cache: make(map[string]*models.Player),
	}
}

// Get returns a copy of the player record, loading it from storage on a
// cache miss.
func (r *Players) Get(playerID string) (*models.Player, error) {
	r.mu.RLock()
	p, ok := r.cache[playerID]
	r.mu.RUnlock()
	if ok {
		return p.Clone(), nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.cache[playerID]; ok {
		return p.Clone(), nil
	}

	loaded, err := r.store.GetPlayer(playerID)
	if err != nil {
		return nil, err
	}
	r.cache[playerID] = loaded
	return loaded.Clone(), nil
}

// Create registers a brand-new player record and persists it.
func (r *Players) Create(player *models.Player) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.CreatePlayer(player); err != nil {
		return err
	}
	r.cache[player.ID] = player.Clone()
	return nil
}

// Update applies mutate to the player under the registry lock, clamps the
// reserves, stamps LastUpdate and persists. The returned record is a copy.
func (r *Players) Update(playerID string, mutate func(*models.Player)) (*models.Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.cache[playerID]
	if !ok {
		loaded, err := r.store.GetPlayer(playerID)
		if err != nil {
			return nil, err
		}
		p = loaded
		r.cache[playerID] = p
	}

	mutate(p)
	clamp(p)
	p.LastUpdate = time.Now().UTC()

	if err := r.store.UpdatePlayer(p); err != nil {
		return nil, fmt.Errorf("persist player %s: %w", playerID, err)
	}
	return p.Clone(), nil
}

// clamp keeps every reserve inside [0, max] and currency non-negative.
func clamp(p *models.Player) {
	p.Health = clampInt(p.Health, 0, p.MaxHealth)
	p.Energy = clampInt(p.Energy, 0, p.MaxEnergy)
	p.Mana = clampInt(p.Mana, 0, p.MaxMana)
	if p.Pennies < 0 {
		p.Pennies = 0
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Flush persists every cached record. Called on shutdown.
func (r *Players) Flush() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, p := range r.cache {
		if err := r.store.UpdatePlayer(p); err != nil {
			logger.Log.Errorf("flush player %s: %v", id, err)
		}
	}
}

// Evict drops a player from the cache. The durable record is untouched.
func (r *Players) Evict(playerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, playerID)
}
