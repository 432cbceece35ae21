package server

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/highwizardry/gameserver/auction"
	"github.com/highwizardry/gameserver/logger"
	"github.com/highwizardry/gameserver/models"
	"github.com/highwizardry/gameserver/session"
	"github.com/highwizardry/gameserver/validate"
)

// dispatch routes one inbound frame. An unauthenticated session may only
// use the auth routes and pong; anything else gets a single error frame and
// the state does not advance.
func (s *GameServer) dispatch(sess *session.Session, frame *models.Frame) {
	switch frame.Type {
	case models.MsgPong:
		sess.MarkAlive()
		return
	case models.MsgRegister, models.MsgLogin, models.MsgAuthenticate,
		models.MsgRequestPasswordReset, models.MsgResetPassword:
		s.dispatchAuth(sess, frame)
		return
	}

	if !sess.State.IsAuth() {
		_ = sess.Send(errorFrame("Not authenticated"))
		return
	}

	switch frame.Type {
	case models.MsgChangeLocation:
		s.handleChangeLocation(sess, frame)
	case models.MsgChat:
		s.handleChat(sess, frame)
	case models.MsgAction:
		s.handleAction(sess, frame)
	case models.MsgVerifyEmail:
		s.handleVerifyEmail(sess, frame)
	case models.MsgResendVerification:
		s.handleResendVerification(sess, frame)
	case models.MsgAddEmail:
		s.handleAddEmail(sess, frame)
	case models.MsgAuctionCreate:
		s.handleAuctionCreate(sess, frame)
	case models.MsgAuctionBid:
		s.handleAuctionBid(sess, frame)
	case models.MsgAuctionCancel:
		s.handleAuctionCancel(sess, frame)
	case models.MsgAuctionGet:
		s.handleAuctionGet(sess, frame)
	default:
		_ = sess.Send(errorFrame("Unknown frame type"))
	}
}

// dispatchAuth handles the routes open to unauthenticated sessions. They are
// rate limited by source address. A session already bound to a player may
// not authenticate again; doing so would leave the socket acting as one
// player while holding another account's token.
func (s *GameServer) dispatchAuth(sess *session.Session, frame *models.Frame) {
	switch frame.Type {
	case models.MsgRegister, models.MsgLogin, models.MsgAuthenticate:
		if sess.State.IsAuth() {
			_ = sess.Send(errorFrame("Already authenticated"))
			return
		}
	}

	if !s.limits.Auth.IsAllowed(sess.SourceAddr) {
		_ = sess.Send(models.Outbound(models.MsgAuthFailed, map[string]interface{}{
			"success": false,
			"message": "Too many attempts. Try again later.",
		}))
		return
	}

	switch frame.Type {
	case models.MsgRegister:
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
			Email    string `json:"email"`
		}
		if !decode(sess, frame, &req) {
			return
		}
		s.finishAuth(sess, s.authSvc.Register(req.Username, req.Password, req.Email))

	case models.MsgLogin:
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if !decode(sess, frame, &req) {
			return
		}
		s.finishAuth(sess, s.authSvc.Login(req.Username, req.Password))

	case models.MsgAuthenticate:
		var req struct {
			Token string `json:"token"`
		}
		if !decode(sess, frame, &req) {
			return
		}
		s.finishAuth(sess, s.authSvc.Authenticate(req.Token))

	case models.MsgRequestPasswordReset:
		var req struct {
			UsernameOrEmail string `json:"usernameOrEmail"`
		}
		if !decode(sess, frame, &req) {
			return
		}
		res := s.authSvc.RequestPasswordReset(req.UsernameOrEmail, sess.SourceAddr)
		_ = sess.Send(models.Outbound(models.MsgActionResult, resultPayload(res)))

	case models.MsgResetPassword:
		var req struct {
			Token       string `json:"token"`
			NewPassword string `json:"newPassword"`
		}
		if !decode(sess, frame, &req) {
			return
		}
		res := s.authSvc.ResetPassword(req.Token, req.NewPassword)
		_ = sess.Send(models.Outbound(models.MsgActionResult, resultPayload(res)))
	}
}

// finishAuth binds a successful auth result to the session and announces the
// player, or relays the failure. A second login for the same player evicts
// the older session.
func (s *GameServer) finishAuth(sess *session.Session, res models.AuthResult) {
	if !res.Success {
		_ = sess.Send(models.Outbound(models.MsgAuthFailed, map[string]interface{}{
			"success": false,
			"message": res.Message,
		}))
		return
	}

	if err := sess.Authenticate(res.PlayerID, res.Username, res.Token, res.NeedsEmailVerification); err != nil {
		_ = sess.Send(errorFrame("Session is not in a connectable state"))
		return
	}

	if evicted := s.sessions.Bind(sess.ID, res.PlayerID); evicted != nil {
		logger.Log.Infof("player %s reconnected, evicting session %s", res.Username, evicted.ID)
		_ = evicted.Send(errorFrame("Logged in from another connection"))
		_ = evicted.Close()
		s.sessions.Remove(evicted.ID)
	}

	if res.PlayerData != nil {
		if err := s.locations.Move(res.PlayerID, res.PlayerData.Location); err != nil {
			logger.Log.Warnf("place player %s at %s: %v", res.Username, res.PlayerData.Location, err)
		}
	}

	s.metrics.OnlinePlayers.Inc()
	_ = sess.Send(authSuccessFrame(res))

	if !res.NeedsEmailVerification {
		s.announceJoin(sess, res.PlayerData)
	}
}

// announceJoin tells the world and the player's location about the arrival.
func (s *GameServer) announceJoin(sess *session.Session, player *models.Player) {
	playerID := sess.PlayerID()
	payload := map[string]interface{}{
		"playerId": playerID,
		"username": sess.Username(),
	}
	s.broadcaster.Broadcast(models.Outbound(models.MsgPlayerConnected, payload), playerID)
	if player != nil {
		s.broadcaster.BroadcastToLocation(player.Location, models.Outbound(models.MsgPlayerJoined, payload), playerID)
	}
}

func (s *GameServer) handleChangeLocation(sess *session.Session, frame *models.Frame) {
	var req struct {
		LocationID string `json:"locationId"`
		Location   string `json:"location"` // legacy alias
	}
	if !decode(sess, frame, &req) {
		return
	}
	if !s.limits.Action.IsAllowed(sess.PlayerID()) {
		_ = sess.Send(errorFrame("Too many actions. Slow down."))
		return
	}

	target := req.LocationID
	if target == "" {
		target = req.Location
	}

	playerID := sess.PlayerID()
	previous, _ := s.locations.LocationOf(playerID)

	updated, err := s.logic.ValidatePlayerUpdate(playerID, map[string]interface{}{
		"location": target,
	})
	if err != nil {
		_ = sess.Send(errorFrame(err.Error()))
		return
	}

	payload := map[string]interface{}{
		"playerId": playerID,
		"username": sess.Username(),
	}
	if previous != "" && previous != updated.Location {
		s.broadcaster.BroadcastToLocation(previous, models.Outbound(models.MsgPlayerLeft, payload), playerID)
	}
	s.broadcaster.BroadcastToLocation(updated.Location, models.Outbound(models.MsgPlayerJoined, payload), playerID)

	_ = sess.Send(models.Outbound(models.MsgLocationChanged, map[string]interface{}{
		"location": updated.Location,
	}))
}

// handleChat validates, sanitizes and routes a chat line. Muted players get
// one informational reply per session; after that their messages drop
// silently and are never broadcast.
func (s *GameServer) handleChat(sess *session.Session, frame *models.Frame) {
	var req struct {
		Channel string `json:"channel"`
		Message string `json:"message"`
		To      string `json:"to"`
	}
	if !decode(sess, frame, &req) {
		return
	}

	playerID := sess.PlayerID()
	if !s.limits.Chat.IsAllowed(playerID) {
		_ = sess.Send(errorFrame("Too many messages. Slow down."))
		return
	}

	if err := validate.Channel(req.Channel); err != nil {
		_ = sess.Send(errorFrame(err.Error()))
		return
	}
	clean, err := validate.ChatMessage(req.Message)
	if err != nil {
		_ = sess.Send(errorFrame(err.Error()))
		return
	}

	if s.authSvc.IsMuted(playerID) {
		if sess.MuteNoticeDue() {
			_ = sess.Send(errorFrame("You are muted and cannot chat."))
		}
		return
	}

	msg := models.Outbound(models.MsgChatMessage, map[string]interface{}{
		"channel":   req.Channel,
		"playerId":  playerID,
		"username":  sess.Username(),
		"message":   clean,
		"timestamp": time.Now().UnixMilli(),
	})

	switch req.Channel {
	case "global":
		s.broadcaster.Broadcast(msg, "")
	case "local":
		loc, ok := s.locations.LocationOf(playerID)
		if !ok {
			_ = sess.Send(errorFrame("You are nowhere; local chat is unavailable"))
			return
		}
		s.broadcaster.BroadcastToLocation(loc, msg, "")
	case "whisper":
		if req.To == "" {
			_ = sess.Send(errorFrame("Whisper requires a target player"))
			return
		}
		if !s.broadcaster.SendTo(req.To, msg) {
			_ = sess.Send(errorFrame("Player is not online"))
			return
		}
		_ = sess.Send(msg)
	default:
		// guild and party channels validate but have no membership rosters
		// yet.
		_ = sess.Send(errorFrame("Channel is not available"))
	}
}

func (s *GameServer) handleAction(sess *session.Session, frame *models.Frame) {
	var req struct {
		ActionType string                 `json:"actionType"`
		ActionData map[string]interface{} `json:"actionData"`
		Action     string                 `json:"action"` // legacy aliases
		Data       map[string]interface{} `json:"data"`
	}
	if !decode(sess, frame, &req) {
		return
	}

	playerID := sess.PlayerID()
	if !s.limits.Action.IsAllowed(playerID) {
		_ = sess.Send(models.Outbound(models.MsgActionResult, resultPayload(
			models.Fail(models.KindRateLimited, "Too many actions. Slow down."))))
		return
	}

	actionType := req.ActionType
	if actionType == "" {
		actionType = req.Action
	}
	actionData := req.ActionData
	if actionData == nil {
		actionData = req.Data
	}

	res := s.logic.ProcessAction(playerID, actionType, actionData)
	_ = sess.Send(models.Outbound(models.MsgActionResult, resultPayload(res)))

	if res.Success && res.PlayerUpdates != nil {
		if loc, ok := s.locations.LocationOf(playerID); ok {
			s.broadcaster.BroadcastToLocation(loc, models.Outbound(models.MsgPlayerUpdated, map[string]interface{}{
				"playerId": playerID,
				"updates":  res.PlayerUpdates,
			}), playerID)
		}
	}
}

func (s *GameServer) handleVerifyEmail(sess *session.Session, frame *models.Frame) {
	var req struct {
		Username string `json:"username"`
		Code     string `json:"code"`
	}
	if !decode(sess, frame, &req) {
		return
	}
	if req.Username != "" && req.Username != sess.Username() {
		_ = sess.Send(errorFrame("Username does not match this session"))
		return
	}

	res := s.authSvc.VerifyEmail(sess.Username(), req.Code)
	_ = sess.Send(models.Outbound(models.MsgActionResult, resultPayload(res)))

	if res.Success && sess.CompleteVerification() {
		player, err := s.players.Get(sess.PlayerID())
		if err != nil {
			logger.Log.Warnf("load player %s after verification: %v", sess.PlayerID(), err)
		}
		s.announceJoin(sess, player)
	}
}

func (s *GameServer) handleResendVerification(sess *session.Session, frame *models.Frame) {
	var req struct {
		Username string `json:"username"`
	}
	if !decode(sess, frame, &req) {
		return
	}
	if req.Username != "" && req.Username != sess.Username() {
		_ = sess.Send(errorFrame("Username does not match this session"))
		return
	}
	res := s.authSvc.ResendVerification(sess.Username(), sess.SourceAddr)
	_ = sess.Send(models.Outbound(models.MsgActionResult, resultPayload(res)))
}

func (s *GameServer) handleAddEmail(sess *session.Session, frame *models.Frame) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
	}
	if !decode(sess, frame, &req) {
		return
	}
	if req.Username != "" && req.Username != sess.Username() {
		_ = sess.Send(errorFrame("Username does not match this session"))
		return
	}
	res := s.authSvc.AddEmail(sess.Username(), req.Email)
	_ = sess.Send(models.Outbound(models.MsgActionResult, resultPayload(res)))
}

func (s *GameServer) handleAuctionCreate(sess *session.Session, frame *models.Frame) {
	var req struct {
		Item struct {
			ItemID  string `json:"itemId"`
			Pennies int64  `json:"pennies"`
		} `json:"item"`
		StartingBid int64 `json:"startingBid"`
		DurationMs  int64 `json:"duration"`
		Options     struct {
			Scope         string `json:"scope"`
			LocationID    string `json:"locationId"`
			GuildID       string `json:"guildId"`
			SnipingWindow int64  `json:"bidSnipingWindow"`
		} `json:"options"`
		// legacy flattened aliases
		ItemID        string `json:"itemId"`
		Pennies       int64  `json:"pennies"`
		Scope         string `json:"scope"`
		LocationID    string `json:"locationId"`
		GuildID       string `json:"guildId"`
		SnipingWindow int64  `json:"bidSnipingWindow"`
	}
	if !decode(sess, frame, &req) {
		return
	}
	if !s.limits.Action.IsAllowed(sess.PlayerID()) {
		_ = sess.Send(errorFrame("Too many actions. Slow down."))
		return
	}

	item := models.AuctionItem{ItemID: req.Item.ItemID, Pennies: req.Item.Pennies}
	if item.ItemID == "" && item.Pennies == 0 {
		item = models.AuctionItem{ItemID: req.ItemID, Pennies: req.Pennies}
	}
	scope := req.Options.Scope
	if scope == "" {
		scope = req.Scope
	}
	locationID := req.Options.LocationID
	if locationID == "" {
		locationID = req.LocationID
	}
	guildID := req.Options.GuildID
	if guildID == "" {
		guildID = req.GuildID
	}
	snipingWindow := req.Options.SnipingWindow
	if snipingWindow == 0 {
		snipingWindow = req.SnipingWindow
	}
	if err := validate.AuctionScope(scope); err != nil {
		_ = sess.Send(errorFrame(err.Error()))
		return
	}
	opts := auction.Options{
		Scope:         models.AuctionScope(scope),
		LocationID:    locationID,
		GuildID:       guildID,
		SnipingWindow: time.Duration(snipingWindow) * time.Millisecond,
	}

	a, err := s.house.CreateAuction(sess.PlayerID(), item, req.StartingBid, time.Duration(req.DurationMs)*time.Millisecond, opts)
	if err != nil {
		_ = sess.Send(auctionErrorFrame(err))
		return
	}
	_ = sess.Send(models.Outbound(models.MsgAuctionNew, map[string]interface{}{
		"auction": a,
		"mine":    true,
	}))
}

func (s *GameServer) handleAuctionBid(sess *session.Session, frame *models.Frame) {
	var req struct {
		AuctionID string `json:"auctionId"`
		BidAmount int64  `json:"bidAmount"`
		Amount    int64  `json:"amount"` // legacy alias
	}
	if !decode(sess, frame, &req) {
		return
	}
	if !s.limits.Action.IsAllowed(sess.PlayerID()) {
		_ = sess.Send(errorFrame("Too many actions. Slow down."))
		return
	}

	amount := req.BidAmount
	if amount == 0 {
		amount = req.Amount
	}

	a, err := s.house.PlaceBid(sess.PlayerID(), req.AuctionID, amount)
	if err != nil {
		_ = sess.Send(auctionErrorFrame(err))
		return
	}
	_ = sess.Send(models.Outbound(models.MsgAuctionBidPlaced, map[string]interface{}{
		"auctionId":  a.ID,
		"currentBid": a.CurrentBid,
		"endsAt":     a.EndsAt.UnixMilli(),
		"mine":       true,
	}))
}

func (s *GameServer) handleAuctionCancel(sess *session.Session, frame *models.Frame) {
	var req struct {
		AuctionID string `json:"auctionId"`
	}
	if !decode(sess, frame, &req) {
		return
	}

	a, err := s.house.CancelAuction(sess.PlayerID(), req.AuctionID)
	if err != nil {
		_ = sess.Send(auctionErrorFrame(err))
		return
	}
	_ = sess.Send(models.Outbound(models.MsgAuctionCancelled, map[string]interface{}{
		"auctionId": a.ID,
	}))
}

func (s *GameServer) handleAuctionGet(sess *session.Session, frame *models.Frame) {
	var req struct {
		AuctionID string `json:"auctionId"`
	}
	if !decode(sess, frame, &req) {
		return
	}

	if req.AuctionID == "" {
		_ = sess.Send(models.Outbound(models.MsgAuctionNew, map[string]interface{}{
			"auctions": s.house.ListActive(),
		}))
		return
	}

	a, err := s.house.GetAuction(req.AuctionID)
	if err != nil {
		_ = sess.Send(auctionErrorFrame(err))
		return
	}
	_ = sess.Send(models.Outbound(models.MsgAuctionNew, map[string]interface{}{
		"auction": a,
	}))
}

// decode unmarshals the frame body into req, answering with an error frame
// on malformed payloads.
func decode(sess *session.Session, frame *models.Frame, req interface{}) bool {
	if err := json.Unmarshal(frame.RawMessage, req); err != nil {
		_ = sess.Send(errorFrame("Malformed payload"))
		return false
	}
	return true
}

func authSuccessFrame(res models.AuthResult) map[string]interface{} {
	raw, _ := json.Marshal(res)
	var payload map[string]interface{}
	_ = json.Unmarshal(raw, &payload)
	return models.Outbound(models.MsgAuthSuccess, payload)
}

func resultPayload(res models.Result) map[string]interface{} {
	raw, _ := json.Marshal(res)
	var payload map[string]interface{}
	_ = json.Unmarshal(raw, &payload)
	return payload
}

// auctionErrorFrame maps house errors onto the error kinds clients fork on.
func auctionErrorFrame(err error) map[string]interface{} {
	kind := models.KindInternal
	switch {
	case errors.Is(err, auction.ErrAuctionNotFound):
		kind = models.KindNotFound
	case errors.Is(err, auction.ErrAuctionClosed), errors.Is(err, auction.ErrHasBids):
		kind = models.KindPreconditionFailed
	case errors.Is(err, auction.ErrBidTooLow), errors.Is(err, auction.ErrBadDuration),
		errors.Is(err, auction.ErrBadStartingBid), errors.Is(err, auction.ErrBadScope):
		kind = models.KindInvalidInput
	case errors.Is(err, auction.ErrSelfBid), errors.Is(err, auction.ErrNotSeller):
		kind = models.KindForbidden
	case errors.Is(err, auction.ErrInsufficientFunds), errors.Is(err, auction.ErrAssetMissing):
		kind = models.KindPreconditionFailed
	}
	return models.Outbound(models.MsgError, map[string]interface{}{
		"kind":    string(kind),
		"message": err.Error(),
	})
}
