// Package broadcast maps logical scopes (global, location, single player)
// onto live sessions. Only the session gateway writes to sockets; every
// other component emits through this fabric.
package broadcast

import (
	"time"

	"github.com/highwizardry/gameserver/registry"
	"github.com/highwizardry/gameserver/session"
)

type Broadcaster interface {
	// Broadcast delivers msg to every authenticated client except exclude
	// (a player id; empty means no exclusion).
	Broadcast(msg map[string]interface{}, exclude string)
	// BroadcastToLocation delivers msg to the clients whose player is at
	// locationID at call time.
	BroadcastToLocation(locationID string, msg map[string]interface{}, exclude string)
	// SendTo delivers msg at most once if a live socket exists for the
	// player, else drops it silently.
	SendTo(playerID string, msg map[string]interface{}) bool
}

// Fabric implements Broadcaster over the session manager and the location
// registry.
type Fabric struct {
	sessions  *session.Manager
	locations *registry.Locations
	onFanout  func(time.Duration)
}

func NewFabric(sessions *session.Manager, locations *registry.Locations) *Fabric {
	return &Fabric{sessions: sessions, locations: locations}
}

// SetFanoutObserver installs a callback timing each global broadcast.
func (f *Fabric) SetFanoutObserver(fn func(time.Duration)) { f.onFanout = fn }

func (f *Fabric) Broadcast(msg map[string]interface{}, exclude string) {
	if f.onFanout != nil {
		start := time.Now()
		defer func() { f.onFanout(time.Since(start)) }()
	}
	f.sessions.ForEach(func(s *session.Session) {
		if !s.State.IsAuth() {
			return
		}
		if exclude != "" && s.PlayerID() == exclude {
			return
		}
		// Per-recipient order is the call order; drops are handled by the
		// connection's bounded queue.
		_ = s.Send(msg)
	})
}

func (f *Fabric) BroadcastToLocation(locationID string, msg map[string]interface{}, exclude string) {
	for _, playerID := range f.locations.PlayersAt(locationID) {
		if exclude != "" && playerID == exclude {
			continue
		}
		f.SendTo(playerID, msg)
	}
}

func (f *Fabric) SendTo(playerID string, msg map[string]interface{}) bool {
	s, ok := f.sessions.GetByPlayer(playerID)
	if !ok || !s.State.IsAuth() {
		return false
	}
	return s.Send(msg) == nil
}
