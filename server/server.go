// Package server is the session gateway: it terminates websocket
// connections, drives the per-client state machine, routes inbound frames
// to the services and owns the liveness and shutdown lifecycle.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/highwizardry/gameserver/auction"
	"github.com/highwizardry/gameserver/auth"
	"github.com/highwizardry/gameserver/backup"
	"github.com/highwizardry/gameserver/broadcast"
	"github.com/highwizardry/gameserver/config"
	"github.com/highwizardry/gameserver/events"
	"github.com/highwizardry/gameserver/game"
	"github.com/highwizardry/gameserver/logger"
	"github.com/highwizardry/gameserver/models"
	"github.com/highwizardry/gameserver/monitor"
	"github.com/highwizardry/gameserver/network"
	"github.com/highwizardry/gameserver/persistence"
	"github.com/highwizardry/gameserver/ratelimit"
	"github.com/highwizardry/gameserver/registry"
	"github.com/highwizardry/gameserver/session"
)

type GameServer struct {
	cfg      *config.Config
	upgrader websocket.Upgrader

	store       persistence.Store
	sessions    *session.Manager
	players     *registry.Players
	locations   *registry.Locations
	broadcaster broadcast.Broadcaster
	authSvc     *auth.Service
	logic       *game.Logic
	house       *auction.House
	dispatcher  *events.Dispatcher
	backups     *backup.Service
	limits      *ratelimit.Set
	metrics     *monitor.Metrics

	httpServer   *http.Server
	shutdownOnce sync.Once
	shutdownChan chan struct{}
}

func NewGameServer(cfg *config.Config, store persistence.Store) *GameServer {
	s := &GameServer{
		cfg:          cfg,
		store:        store,
		sessions:     session.NewManager(),
		locations:    registry.NewLocations(),
		limits:       ratelimit.DefaultSet(),
		metrics:      monitor.NewMetrics("highwizardry"),
		shutdownChan: make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // static client is served from anywhere
			},
		},
	}

	s.players = registry.NewPlayers(store)
	fabric := broadcast.NewFabric(s.sessions, s.locations)
	fabric.SetFanoutObserver(s.metrics.ObserveBroadcast)
	s.broadcaster = fabric
	s.authSvc = auth.NewService(store, s.players, cfg.Game.TokenLifetime, cfg.Game.StartLocationID)
	s.authSvc.UseResetLimiter(s.limits.PasswordReset)
	s.logic = game.NewLogic(s.players, s.locations)
	s.house = auction.NewHouse(store, s.players, s.broadcaster)
	s.house.SetHooks(s.metrics.AuctionsClosed.Inc, func(n int) {
		s.metrics.ActiveAuctions.Set(float64(n))
	})
	s.dispatcher = events.NewDispatcher(s.players, s.locations, s.broadcaster, s.onlinePlayers, cfg.Game.EventTick)
	s.dispatcher.SetOnExecuted(s.metrics.EventsExecuted.Inc)
	s.backups = backup.NewService(store, cfg.Backup.Dir, cfg.Backup.Retention)

	return s
}

// Start restores auction state, launches the background loops and serves
// HTTP until Shutdown.
func (s *GameServer) Start() error {
	if err := s.house.Load(); err != nil {
		return err
	}

	s.registerWorldEvents()
	s.dispatcher.Start()
	s.house.StartMonitor(s.cfg.Game.AuctionMonitor)
	go s.pingLoop()
	go s.limiterCleanupLoop()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", s.metrics.Handler())
	s.registerAdminRoutes(mux)

	s.httpServer = &http.Server{Addr: s.cfg.Server.HTTPAddress, Handler: mux}
	logger.Log.Infof("game server listening on %s", s.cfg.Server.HTTPAddress)

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains connections with a close frame, flushes player records
// and stops every background loop.
func (s *GameServer) Shutdown() {
	s.shutdownOnce.Do(func() {
		logger.Log.Info("shutting down")
		close(s.shutdownChan)

		s.dispatcher.Stop()
		s.house.StopMonitor()

		s.sessions.ForEach(func(sess *session.Session) {
			if ws, ok := sess.Conn.(*network.WSConnection); ok {
				_ = ws.CloseWithFrame("server shutting down")
			} else {
				_ = sess.Close()
			}
		})

		s.players.Flush()

		if s.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.httpServer.Shutdown(ctx)
		}
	})
}

func (s *GameServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.store.HealthCheck(); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  status,
		"online":  s.sessions.Count(),
		"updated": time.Now().UnixMilli(),
	})
}

func (s *GameServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	addr := sourceAddr(r)

	if s.sessions.Count() >= s.cfg.Server.MaxConnections {
		http.Error(w, "server full", http.StatusServiceUnavailable)
		return
	}
	if s.sessions.CountBySource(addr) >= s.cfg.Server.MaxConnsPerIP {
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infof("upgrade failed from %s: %v", addr, err)
		return
	}
	go s.handleConnection(conn, addr)
}

func (s *GameServer) handleConnection(conn *websocket.Conn, addr string) {
	wsConn := network.NewWSConnection(conn, s.metrics.MessagesDropped.Inc)
	sess := session.NewSession(uuid.New().String(), wsConn, addr)
	s.sessions.Add(sess)

	logger.Log.Infof("new connection from %s, session %s", addr, sess.ID)
	_ = sess.Send(models.Outbound(models.MsgConnected, map[string]interface{}{
		"serverTime": time.Now().UnixMilli(),
	}))

	defer func() {
		s.dropSession(sess)
		logger.Log.Infof("connection closed from %s, session %s", addr, sess.ID)
	}()

	for {
		select {
		case <-s.shutdownChan:
			return
		default:
		}

		frame, err := wsConn.ReadFrame()
		if err != nil {
			if errors.Is(err, network.ErrMalformedFrame) {
				_ = sess.Send(errorFrame("Malformed frame"))
				continue
			}
			return
		}
		s.metrics.MessagesReceived.Inc()
		s.dispatch(sess, frame)
	}
}

// dropSession tears down all per-connection state and announces the exit.
func (s *GameServer) dropSession(sess *session.Session) {
	playerID := sess.PlayerID()
	wasAuth := sess.State.IsAuth()
	deferred := sess.JoinDeferred()

	_ = sess.Close()
	s.sessions.Remove(sess.ID)

	if playerID == "" {
		return
	}

	loc, hasLoc := s.locations.LocationOf(playerID)
	s.locations.Remove(playerID)
	s.players.Evict(playerID)

	if wasAuth {
		s.metrics.OnlinePlayers.Dec()
		if !deferred {
			s.broadcaster.Broadcast(models.Outbound(models.MsgPlayerDisconnected, map[string]interface{}{
				"playerId": playerID,
				"username": sess.Username(),
			}), playerID)
			if hasLoc {
				s.broadcaster.BroadcastToLocation(loc, models.Outbound(models.MsgPlayerLeft, map[string]interface{}{
					"playerId": playerID,
					"username": sess.Username(),
				}), playerID)
			}
		}
	}
}

// pingLoop emits a ping every interval and reaps clients that missed the
// previous round trip.
func (s *GameServer) pingLoop() {
	ticker := time.NewTicker(s.cfg.Server.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdownChan:
			return
		case <-ticker.C:
			now := time.Now().UnixMilli()
			s.sessions.ForEach(func(sess *session.Session) {
				if !sess.Expire() {
					logger.Log.Infof("session %s missed heartbeat, closing", sess.ID)
					_ = sess.Close()
					return
				}
				_ = sess.Send(models.Outbound(models.MsgPing, map[string]interface{}{
					"serverTime": now,
				}))
			})
		}
	}
}

func (s *GameServer) limiterCleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.shutdownChan:
			return
		case <-ticker.C:
			s.limits.Auth.Cleanup()
			s.limits.Action.Cleanup()
			s.limits.Chat.Cleanup()
			s.limits.HTTP.Cleanup()
			s.authSvc.CleanupLimiters()
		}
	}
}

// onlinePlayers lists the player ids behind authenticated sessions, for the
// event dispatcher.
func (s *GameServer) onlinePlayers() []string {
	var ids []string
	s.sessions.ForEach(func(sess *session.Session) {
		if sess.State.IsAuth() {
			ids = append(ids, sess.PlayerID())
		}
	})
	return ids
}

// registerWorldEvents installs the built-in periodic world events.
func (s *GameServer) registerWorldEvents() {
	s.dispatcher.Register("energy-regen", time.Minute, &events.Descriptor{
		Name:        "energy-regen",
		Description: "The land restores your energy.",
		Scope:       events.ScopeGlobal,
		Handler: func(ctx *events.Context) map[string]events.StatDelta {
			deltas := make(map[string]events.StatDelta)
			for _, id := range ctx.Online() {
				deltas[id] = events.StatDelta{Energy: 5}
			}
			return deltas
		},
	})

	s.dispatcher.Register("mana-tide", 5*time.Minute, &events.Descriptor{
		Name:        "mana-tide",
		Description: "A tide of mana washes over the wizard's tower.",
		Scope:       events.ScopeLocation,
		LocationID:  "wizard-tower",
		Handler: func(ctx *events.Context) map[string]events.StatDelta {
			deltas := make(map[string]events.StatDelta)
			for _, id := range ctx.PlayersAt("wizard-tower") {
				deltas[id] = events.StatDelta{Mana: 10}
			}
			return deltas
		},
	})
}

func sourceAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func errorFrame(message string) map[string]interface{} {
	return models.Outbound(models.MsgError, map[string]interface{}{
		"message": message,
	})
}
