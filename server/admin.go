package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/highwizardry/gameserver/auth"
	"github.com/highwizardry/gameserver/events"
	"github.com/highwizardry/gameserver/logger"
)

// registerAdminRoutes wires the operator surface. Every route is guarded by
// the admin key and the HTTP rate limiter.
func (s *GameServer) registerAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/admin/events", s.requireAdmin(s.handleAdminEvents))
	mux.HandleFunc("/admin/ban", s.requireAdmin(s.handleAdminBan))
	mux.HandleFunc("/admin/mute", s.requireAdmin(s.handleAdminMute))
	mux.HandleFunc("/admin/backup", s.requireAdmin(s.handleAdminBackup))
	mux.HandleFunc("/admin/stats", s.requireAdmin(s.handleAdminStats))
}

func (s *GameServer) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limits.HTTP.IsAllowed(sourceAddr(r)) {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		key := r.Header.Get("X-Admin-Key")
		if s.cfg.Server.AdminKey == "" || !auth.ConstantTimeEqual(key, s.cfg.Server.AdminKey) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

type adminEventRequest struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Scope       string                 `json:"scope"`
	LocationID  string                 `json:"locationId"`
	PlayerIDs   []string               `json:"playerIds"`
	Data        map[string]interface{} `json:"data"`
	Delta       events.StatDelta       `json:"delta"`
	ExecuteAt   int64                  `json:"executeAt"` // unix ms; 0 means next tick
}

// handleAdminEvents injects or schedules a one-off world event whose stat
// delta applies to every player the scope selects.
func (s *GameServer) handleAdminEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req adminEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "event name required", http.StatusBadRequest)
		return
	}

	scope := events.Scope(req.Scope)
	switch scope {
	case events.ScopeGlobal, events.ScopeLocation, events.ScopePlayer, events.ScopePlayers:
	case "":
		scope = events.ScopeGlobal
	default:
		http.Error(w, "unknown scope", http.StatusBadRequest)
		return
	}

	delta := req.Delta
	desc := &events.Descriptor{
		Name:        req.Name,
		Description: req.Description,
		Scope:       scope,
		LocationID:  req.LocationID,
		PlayerIDs:   req.PlayerIDs,
		EventData:   req.Data,
		Handler: func(ctx *events.Context) map[string]events.StatDelta {
			deltas := make(map[string]events.StatDelta)
			for _, id := range eventTargets(ctx, scope, req.LocationID, req.PlayerIDs) {
				deltas[id] = delta
			}
			return deltas
		},
	}

	if req.ExecuteAt > 0 {
		s.dispatcher.Schedule(desc, time.UnixMilli(req.ExecuteAt))
	} else {
		s.dispatcher.Inject(desc)
	}

	logger.Log.Infof("admin injected event %s (scope %s)", req.Name, scope)
	writeJSON(w, map[string]interface{}{"accepted": true, "name": req.Name})
}

func eventTargets(ctx *events.Context, scope events.Scope, locationID string, playerIDs []string) []string {
	switch scope {
	case events.ScopeLocation:
		return ctx.PlayersAt(locationID)
	case events.ScopePlayer, events.ScopePlayers:
		return playerIDs
	default:
		return ctx.Online()
	}
}

func (s *GameServer) handleAdminBan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Username   string `json:"username"`
		Banned     bool   `json:"banned"`
		DurationMs int64  `json:"duration"`
		Reason     string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	res := s.authSvc.SetBanStatus(req.Username, req.Banned, time.Duration(req.DurationMs)*time.Millisecond, req.Reason)
	if !res.Success {
		http.Error(w, res.Message, http.StatusBadRequest)
		return
	}

	// A banned player with a live connection is cut immediately.
	if req.Banned {
		if sess, ok := s.sessions.GetByPlayer(playerIDForUsername(s, req.Username)); ok {
			_ = sess.Send(errorFrame("Your account has been banned."))
			_ = sess.Close()
		}
	}
	writeJSON(w, res.Data)
}

func (s *GameServer) handleAdminMute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Username   string `json:"username"`
		Muted      bool   `json:"muted"`
		DurationMs int64  `json:"duration"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	res := s.authSvc.SetMuteStatus(req.Username, req.Muted, time.Duration(req.DurationMs)*time.Millisecond)
	if !res.Success {
		http.Error(w, res.Message, http.StatusBadRequest)
		return
	}
	writeJSON(w, res.Data)
}

func (s *GameServer) handleAdminBackup(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		timestamp, err := s.backups.Create()
		if err != nil {
			logger.Log.Errorf("backup failed: %v", err)
			http.Error(w, "backup failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]interface{}{"timestamp": timestamp})
	case http.MethodGet:
		list, err := s.backups.List()
		if err != nil {
			http.Error(w, "list failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]interface{}{"backups": list})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *GameServer) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]interface{}{
		"sessions":       s.sessions.Count(),
		"onlinePlayers":  len(s.onlinePlayers()),
		"activeAuctions": len(s.house.ListActive()),
		"eventHistory":   s.dispatcher.History(20),
		"serverTime":     time.Now().UnixMilli(),
	})
}

func playerIDForUsername(s *GameServer, username string) string {
	user, err := s.store.GetUser(username)
	if err != nil {
		return ""
	}
	return user.PlayerID
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
