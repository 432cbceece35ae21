package registry

import (
	"errors"
	"sync"

	"github.com/highwizardry/gameserver/models"
)

var ErrInvalidLocation = errors.New("invalid location")

// JailLocationID is where failed criminals end up.
const JailLocationID = "jail"

// World is the closed set of valid locations.
var World = map[string]models.Location{
	"town-square":  {ID: "town-square", Name: "Town Square", Actions: []string{"chat", "commit_crime"}},
	"market":       {ID: "market", Name: "The Grand Market", Actions: []string{"chat", "auction", "commit_crime"}},
	"forest":       {ID: "forest", Name: "Darkroot Forest", Actions: []string{"gather_resources"}},
	"mines":        {ID: "mines", Name: "Deep Mines", Actions: []string{"gather_resources"}},
	"wizard-tower": {ID: "wizard-tower", Name: "Wizard's Tower", Actions: []string{"train", "craft_item"}},
	"infirmary":    {ID: "infirmary", Name: "Infirmary", Actions: []string{"heal"}},
	"tavern":       {ID: "tavern", Name: "The Sleeping Dragon", Actions: []string{"chat"}},
	JailLocationID: {ID: JailLocationID, Name: "The Jail", Actions: []string{"chat"}},
}

// ValidLocation reports whether id names a configured location.
func ValidLocation(id string) bool {
	_, ok := World[id]
	return ok
}

// Locations is the bidirectional index between locations and the players
// currently in them.
type Locations struct {
	mu       sync.RWMutex
	byLoc    map[string]map[string]struct{}
	byPlayer map[string]string
}

func NewLocations() *Locations {
	return &Locations{
		byLoc:    make(map[string]map[string]struct{}),
		byPlayer: make(map[string]string),
	}
}

// Move removes the player from its current location set and inserts it into
// the target's, atomically with respect to queries. Unknown target ids fail.
func (l *Locations) Move(playerID, to string) error {
	if !ValidLocation(to) {
		return ErrInvalidLocation
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if from, ok := l.byPlayer[playerID]; ok {
		delete(l.byLoc[from], playerID)
		if len(l.byLoc[from]) == 0 {
			delete(l.byLoc, from)
		}
	}

	if l.byLoc[to] == nil {
		l.byLoc[to] = make(map[string]struct{})
	}
	l.byLoc[to][playerID] = struct{}{}
	l.byPlayer[playerID] = to
	return nil
}

// Remove scrubs the player from all sets, e.g. on disconnect.
func (l *Locations) Remove(playerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if from, ok := l.byPlayer[playerID]; ok {
		delete(l.byLoc[from], playerID)
		if len(l.byLoc[from]) == 0 {
			delete(l.byLoc, from)
		}
	}
	delete(l.byPlayer, playerID)
}

// PlayersAt returns the ids of every player currently at the location.
func (l *Locations) PlayersAt(locationID string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := make([]string, 0, len(l.byLoc[locationID]))
	for id := range l.byLoc[locationID] {
		ids = append(ids, id)
	}
	return ids
}

// LocationOf returns the player's current location, if tracked.
func (l *Locations) LocationOf(playerID string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	loc, ok := l.byPlayer[playerID]
	return loc, ok
}
