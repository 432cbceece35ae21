// Package events runs the world-event dispatcher: one-off events drained
// every tick, scheduled events ordered by execution time, and periodic
// events keyed by id. Handlers return per-player stat deltas which are
// applied through the player registry and announced over the broadcast
// fabric.
package events

import (
	"time"

	"github.com/highwizardry/gameserver/models"
)

type Scope string

const (
	ScopeGlobal   Scope = "global"
	ScopeLocation Scope = "location"
	ScopePlayer   Scope = "player"
	ScopePlayers  Scope = "players"
)

// StatDelta is what an event handler may do to one player.
type StatDelta struct {
	Health  int
	Energy  int
	Mana    int
	XP      int
	Pennies int64
}

// Context gives handlers read access to world state.
type Context struct {
	Now       time.Time
	EventData map[string]interface{}

	// PlayersAt resolves a location to the player ids currently there.
	PlayersAt func(locationID string) []string
	// Online lists every player id with a live session.
	Online func() []string
	// GetPlayer reads a player record (a copy).
	GetPlayer func(playerID string) (*models.Player, error)
}

// Handler computes per-player deltas. It must not mutate state itself.
type Handler func(ctx *Context) map[string]StatDelta

// Descriptor describes a world event.
type Descriptor struct {
	Name        string
	Description string
	Scope       Scope
	LocationID  string
	PlayerIDs   []string
	EventData   map[string]interface{}
	Handler     Handler
}

// HistoryEntry records one executed event in the ring buffer.
type HistoryEntry struct {
	Name       string    `json:"name"`
	ExecutedAt time.Time `json:"executedAt"`
	Affected   int       `json:"affected"`
	Error      string    `json:"error,omitempty"`
}
