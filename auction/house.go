// Package auction implements the auction house: escrowed listings, strictly
// increasing bids, anti-sniping extension and timed closure. All asset
// movement goes through the player registry; the house mutex makes each
// operation a single logical transaction across seller, bidder and auction.
package auction

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/highwizardry/gameserver/broadcast"
	"github.com/highwizardry/gameserver/logger"
	"github.com/highwizardry/gameserver/models"
	"github.com/highwizardry/gameserver/persistence"
	"github.com/highwizardry/gameserver/registry"
)

var (
	ErrAuctionNotFound   = errors.New("auction not found")
	ErrAuctionClosed     = errors.New("auction is closed")
	ErrBidTooLow         = errors.New("bid is too low")
	ErrSelfBid           = errors.New("sellers cannot bid on their own auction")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAssetMissing      = errors.New("seller does not own the offered asset")
	ErrNotSeller         = errors.New("only the seller may cancel")
	ErrHasBids           = errors.New("auction with bids cannot be cancelled")
	ErrBadDuration       = errors.New("duration must be between 5 minutes and 7 days")
	ErrBadStartingBid    = errors.New("starting bid must be positive")
	ErrBadScope          = errors.New("unknown auction scope")
)

const (
	MinDuration = 5 * time.Minute
	MaxDuration = 7 * 24 * time.Hour

	// HistoryLimit bounds the closed-auction list kept in memory and on
	// disk.
	HistoryLimit = 200
)

// Options tunes a new listing.
type Options struct {
	Scope         models.AuctionScope
	LocationID    string
	GuildID       string
	SnipingWindow time.Duration
}

// House owns every auction record.
type House struct {
	store       persistence.Store
	players     *registry.Players
	broadcaster broadcast.Broadcaster

	mu          sync.Mutex
	active      map[string]*models.Auction
	history     []*models.Auction
	playerIndex map[string]map[string]struct{}

	now      func() time.Time
	stop     chan struct{}
	done     chan struct{}
	onClosed func()
	onActive func(n int)
}

func NewHouse(store persistence.Store, players *registry.Players, b broadcast.Broadcaster) *House {
	return &House{
		store:       store,
		players:     players,
		broadcaster: b,
		active:      make(map[string]*models.Auction),
		playerIndex: make(map[string]map[string]struct{}),
		now:         time.Now,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// SetClock overrides the time source for tests.
func (h *House) SetClock(now func() time.Time) { h.now = now }

// SetHooks installs optional counters: onClosed fires per settled
// auction, onActive reports the active count after each change.
func (h *House) SetHooks(onClosed func(), onActive func(n int)) {
	h.onClosed = onClosed
	h.onActive = onActive
}

func (h *House) activeChangedLocked() {
	if h.onActive != nil {
		h.onActive(len(h.active))
	}
}

// Load restores auction state from storage at boot.
func (h *House) Load() error {
	active, history, err := h.store.LoadAuctions()
	if err != nil {
		return fmt.Errorf("load auctions: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, a := range active {
		h.active[a.ID] = a
		h.indexLocked(a)
	}
	h.history = history
	h.activeChangedLocked()
	return nil
}

// StartMonitor runs the periodic closer until StopMonitor.
func (h *House) StartMonitor(interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	go func() {
		defer close(h.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.CloseExpired()
			case <-h.stop:
				return
			}
		}
	}()
}

func (h *House) StopMonitor() {
	close(h.stop)
	<-h.done
}

// CreateAuction escrows the asset off the seller and opens the listing in
// one logical transaction: when the escrow fails, no auction exists.
func (h *House) CreateAuction(sellerID string, item models.AuctionItem, startingBid int64, duration time.Duration, opts Options) (*models.Auction, error) {
	if duration < MinDuration || duration > MaxDuration {
		return nil, ErrBadDuration
	}
	if startingBid <= 0 {
		return nil, ErrBadStartingBid
	}
	if item.ItemID == "" && item.Pennies <= 0 {
		return nil, ErrAssetMissing
	}
	if item.ItemID != "" && item.Pennies != 0 {
		return nil, ErrAssetMissing
	}
	switch opts.Scope {
	case "", models.ScopeGlobal, models.ScopeLocation, models.ScopeGuild:
	default:
		return nil, ErrBadScope
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.takeAsset(sellerID, item); err != nil {
		return nil, err
	}

	now := h.now().UTC()
	scope := opts.Scope
	if scope == "" {
		scope = models.ScopeGlobal
	}

	a := &models.Auction{
		ID:              uuid.New().String(),
		SellerID:        sellerID,
		Item:            item,
		StartingBid:     startingBid,
		CurrentBid:      startingBid,
		Bids:            []models.Bid{},
		Status:          models.AuctionActive,
		Scope:           scope,
		LocationID:      opts.LocationID,
		GuildID:         opts.GuildID,
		CreatedAt:       now,
		EndsAt:          now.Add(duration),
		SnipingWindowMs: opts.SnipingWindow.Milliseconds(),
	}

	h.active[a.ID] = a
	h.indexLocked(a)
	h.activeChangedLocked()
	h.persistLocked()

	h.announce(a, models.MsgAuctionNew, map[string]interface{}{
		"auction": a,
	}, sellerID)
	return cloneAuction(a), nil
}

// PlaceBid validates and applies a bid. The previous highest bidder's
// escrow is returned and the new bidder's pennies are taken in the same
// critical section. A bid that observes an expired auction closes it.
func (h *House) PlaceBid(bidderID, auctionID string, amount int64) (*models.Auction, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	a, ok := h.active[auctionID]
	if !ok {
		return nil, ErrAuctionNotFound
	}
	if a.Status != models.AuctionActive {
		return nil, ErrAuctionClosed
	}

	now := h.now().UTC()
	if !now.Before(a.EndsAt) {
		h.closeLocked(a, now)
		return nil, ErrAuctionClosed
	}

	if bidderID == a.SellerID {
		return nil, ErrSelfBid
	}
	if a.HighestBidderID == "" {
		if amount < a.StartingBid {
			return nil, ErrBidTooLow
		}
	} else if amount <= a.CurrentBid {
		return nil, ErrBidTooLow
	}

	// Take the new bidder's escrow first; only then release the old one.
	if err := h.takePennies(bidderID, amount); err != nil {
		return nil, err
	}

	previousBidder := a.HighestBidderID
	previousBid := a.CurrentBid
	if previousBidder != "" {
		h.returnPennies(previousBidder, previousBid)
	}

	a.CurrentBid = amount
	a.HighestBidderID = bidderID
	a.Bids = append(a.Bids, models.Bid{BidderID: bidderID, Amount: amount, At: now})
	h.indexPlayerLocked(bidderID, a.ID)

	// Anti-sniping: a late bid pushes EndsAt out by the full window.
	// EndsAt never decreases because the extension only fires when the
	// remaining time is shorter than the window.
	if a.SnipingWindowMs > 0 {
		window := time.Duration(a.SnipingWindowMs) * time.Millisecond
		if a.EndsAt.Sub(now) < window {
			a.EndsAt = now.Add(window)
		}
	}

	h.persistLocked()

	h.announce(a, models.MsgAuctionBidPlaced, map[string]interface{}{
		"auctionId":  a.ID,
		"currentBid": a.CurrentBid,
		"endsAt":     a.EndsAt.UnixMilli(),
	}, "")
	if previousBidder != "" {
		h.broadcaster.SendTo(previousBidder, models.Outbound(models.MsgAuctionOutbid, map[string]interface{}{
			"auctionId": a.ID,
			"newBid":    a.CurrentBid,
			"refunded":  previousBid,
		}))
	}

	return cloneAuction(a), nil
}

// CancelAuction is allowed only for the seller and only before any bid.
func (h *House) CancelAuction(playerID, auctionID string) (*models.Auction, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	a, ok := h.active[auctionID]
	if !ok {
		return nil, ErrAuctionNotFound
	}
	if a.SellerID != playerID {
		return nil, ErrNotSeller
	}
	if len(a.Bids) > 0 {
		return nil, ErrHasBids
	}

	h.returnAsset(a.SellerID, a.Item)

	now := h.now().UTC()
	a.Status = models.AuctionCancelled
	a.CompletedAt = &now
	h.retireLocked(a)
	h.persistLocked()

	h.broadcaster.SendTo(a.SellerID, models.Outbound(models.MsgAuctionCancelled, map[string]interface{}{
		"auctionId": a.ID,
	}))
	return cloneAuction(a), nil
}

// CloseAuction settles an auction regardless of its deadline. The monitor
// and expired-bid paths use closeLocked directly.
func (h *House) CloseAuction(auctionID string) (*models.Auction, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	a, ok := h.active[auctionID]
	if !ok {
		return nil, ErrAuctionNotFound
	}
	h.closeLocked(a, h.now().UTC())
	return cloneAuction(a), nil
}

// CloseExpired settles every active auction past its deadline.
func (h *House) CloseExpired() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now().UTC()
	var expired []*models.Auction
	for _, a := range h.active {
		if !now.Before(a.EndsAt) {
			expired = append(expired, a)
		}
	}
	for _, a := range expired {
		h.closeLocked(a, now)
	}
	return len(expired)
}

// closeLocked settles the auction: the asset goes to the winner and the
// escrowed bid to the seller, or everything returns to the seller when no
// bid arrived. If a counterparty record is gone, the surviving side gets
// whatever can be returned and the record is marked failed.
func (h *House) closeLocked(a *models.Auction, now time.Time) {
	a.Status = models.AuctionCompleted
	a.CompletedAt = &now

	if a.HighestBidderID == "" {
		h.returnAsset(a.SellerID, a.Item)
	} else {
		a.WinnerID = a.HighestBidderID

		if err := h.giveAsset(a.WinnerID, a.Item); err != nil {
			// Winner vanished: best effort, asset back to the seller.
			a.Status = models.AuctionFailed
			a.FailureReason = fmt.Sprintf("winner unavailable: %v", err)
			h.returnAsset(a.SellerID, a.Item)
			h.returnPennies(a.WinnerID, a.CurrentBid)
		} else if err := h.givePennies(a.SellerID, a.CurrentBid); err != nil {
			// Seller vanished: the winner keeps the asset, the payment is
			// marked failed.
			a.Status = models.AuctionFailed
			a.FailureReason = fmt.Sprintf("seller unavailable: %v", err)
		}
	}

	h.retireLocked(a)
	h.persistLocked()
	if h.onClosed != nil {
		h.onClosed()
	}

	h.broadcaster.SendTo(a.SellerID, models.Outbound(models.MsgAuctionClosed, map[string]interface{}{
		"auctionId": a.ID,
		"role":      "seller",
		"status":    string(a.Status),
		"winnerId":  a.WinnerID,
		"finalBid":  a.CurrentBid,
	}))
	if a.WinnerID != "" {
		h.broadcaster.SendTo(a.WinnerID, models.Outbound(models.MsgAuctionClosed, map[string]interface{}{
			"auctionId": a.ID,
			"role":      "winner",
			"status":    string(a.Status),
			"finalBid":  a.CurrentBid,
		}))
	}
}

// GetAuction returns a copy of an active or historical auction.
func (h *House) GetAuction(auctionID string) (*models.Auction, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if a, ok := h.active[auctionID]; ok {
		return cloneAuction(a), nil
	}
	for _, a := range h.history {
		if a.ID == auctionID {
			return cloneAuction(a), nil
		}
	}
	return nil, ErrAuctionNotFound
}

// ListActive returns copies of every active auction.
func (h *House) ListActive() []*models.Auction {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]*models.Auction, 0, len(h.active))
	for _, a := range h.active {
		out = append(out, cloneAuction(a))
	}
	return out
}

// --- asset movement (registry-mediated) ---

func (h *House) takeAsset(playerID string, item models.AuctionItem) error {
	if item.IsCurrency() {
		return h.takePennies(playerID, item.Pennies)
	}

	taken := false
	_, err := h.players.Update(playerID, func(p *models.Player) {
		for i, id := range p.Inventory {
			if id == item.ItemID {
				p.Inventory = append(p.Inventory[:i], p.Inventory[i+1:]...)
				taken = true
				return
			}
		}
	})
	if err != nil {
		return err
	}
	if !taken {
		return ErrAssetMissing
	}
	return nil
}

func (h *House) takePennies(playerID string, amount int64) error {
	enough := false
	_, err := h.players.Update(playerID, func(p *models.Player) {
		if p.Pennies >= amount {
			p.Pennies -= amount
			enough = true
		}
	})
	if err != nil {
		return err
	}
	if !enough {
		return ErrInsufficientFunds
	}
	return nil
}

func (h *House) giveAsset(playerID string, item models.AuctionItem) error {
	_, err := h.players.Update(playerID, func(p *models.Player) {
		if item.IsCurrency() {
			p.Pennies += item.Pennies
		} else {
			p.Inventory = append(p.Inventory, item.ItemID)
		}
	})
	return err
}

func (h *House) givePennies(playerID string, amount int64) error {
	_, err := h.players.Update(playerID, func(p *models.Player) {
		p.Pennies += amount
	})
	return err
}

// returnAsset and returnPennies are best-effort: a missing counterparty is
// logged, not fatal.
func (h *House) returnAsset(playerID string, item models.AuctionItem) {
	if err := h.giveAsset(playerID, item); err != nil {
		logger.Log.Errorf("return escrowed asset to %s: %v", playerID, err)
	}
}

func (h *House) returnPennies(playerID string, amount int64) {
	if err := h.givePennies(playerID, amount); err != nil {
		logger.Log.Errorf("return escrowed bid to %s: %v", playerID, err)
	}
}

// --- bookkeeping ---

func (h *House) indexLocked(a *models.Auction) {
	h.indexPlayerLocked(a.SellerID, a.ID)
	if a.HighestBidderID != "" {
		h.indexPlayerLocked(a.HighestBidderID, a.ID)
	}
}

func (h *House) indexPlayerLocked(playerID, auctionID string) {
	if h.playerIndex[playerID] == nil {
		h.playerIndex[playerID] = make(map[string]struct{})
	}
	h.playerIndex[playerID][auctionID] = struct{}{}
}

// retireLocked moves a settled auction out of the active map into the
// bounded history.
func (h *House) retireLocked(a *models.Auction) {
	delete(h.active, a.ID)
	for playerID, set := range h.playerIndex {
		delete(set, a.ID)
		if len(set) == 0 {
			delete(h.playerIndex, playerID)
		}
	}

	h.history = append(h.history, a)
	if len(h.history) > HistoryLimit {
		h.history = h.history[len(h.history)-HistoryLimit:]
	}
	h.activeChangedLocked()
}

func (h *House) persistLocked() {
	active := make([]*models.Auction, 0, len(h.active))
	for _, a := range h.active {
		active = append(active, a)
	}
	if err := h.store.SaveAuctions(active, h.history); err != nil {
		logger.Log.Errorf("persist auctions: %v", err)
	}
}

// announce routes a listing notification by its scope.
func (h *House) announce(a *models.Auction, msgType string, payload map[string]interface{}, exclude string) {
	msg := models.Outbound(msgType, payload)
	switch a.Scope {
	case models.ScopeLocation:
		h.broadcaster.BroadcastToLocation(a.LocationID, msg, exclude)
	default:
		h.broadcaster.Broadcast(msg, exclude)
	}
}

func cloneAuction(a *models.Auction) *models.Auction {
	cp := *a
	cp.Bids = append([]models.Bid(nil), a.Bids...)
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
