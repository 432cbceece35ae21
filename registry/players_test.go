package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/highwizardry/gameserver/logger"
	"github.com/highwizardry/gameserver/models"
	"github.com/highwizardry/gameserver/persistence"
)

func init() {
	logger.InitNop()
}

func newTestPlayers(t *testing.T) (*Players, *persistence.MemoryStore) {
	t.Helper()
	store := persistence.NewMemoryStore()
	return NewPlayers(store), store
}

func TestUpdateClampsReserves(t *testing.T) {
	r, _ := newTestPlayers(t)
	p := models.NewPlayer("p1", "alice", "town-square")
	require.NoError(t, r.Create(p))

	updated, err := r.Update("p1", func(p *models.Player) {
		p.Health += 500
		p.Energy -= 500
		p.Mana = -3
		p.Pennies -= 10000
	})
	require.NoError(t, err)

	assert.Equal(t, p.MaxHealth, updated.Health, "health clamped to max")
	assert.Equal(t, 0, updated.Energy, "energy clamped to zero")
	assert.Equal(t, 0, updated.Mana, "mana clamped to zero")
	assert.Equal(t, int64(0), updated.Pennies, "pennies clamped to zero")
	assert.False(t, updated.LastUpdate.IsZero())
}

func TestUpdatePersistsThrough(t *testing.T) {
	r, store := newTestPlayers(t)
	require.NoError(t, r.Create(models.NewPlayer("p1", "alice", "town-square")))

	_, err := r.Update("p1", func(p *models.Player) { p.Pennies = 120 })
	require.NoError(t, err)

	stored, err := store.GetPlayer("p1")
	require.NoError(t, err)
	assert.Equal(t, int64(120), stored.Pennies)
}

func TestGetLoadsOnMissAndReturnsCopy(t *testing.T) {
	r, store := newTestPlayers(t)
	seed := models.NewPlayer("p1", "alice", "town-square")
	require.NoError(t, store.CreatePlayer(seed))

	got, err := r.Get("p1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)

	// Mutating the returned copy must not leak into the cache.
	got.Pennies = 999
	again, err := r.Get("p1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), again.Pennies)
}

func TestGetUnknownPlayer(t *testing.T) {
	r, _ := newTestPlayers(t)
	_, err := r.Get("nobody")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestUpdateUnknownPlayer(t *testing.T) {
	r, _ := newTestPlayers(t)
	_, err := r.Update("nobody", func(p *models.Player) {})
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestEvictDropsOnlyCache(t *testing.T) {
	r, store := newTestPlayers(t)
	require.NoError(t, r.Create(models.NewPlayer("p1", "alice", "town-square")))

	r.Evict("p1")

	_, err := store.GetPlayer("p1")
	assert.NoError(t, err, "durable record survives eviction")
	_, err = r.Get("p1")
	assert.NoError(t, err, "reload after eviction works")
}
