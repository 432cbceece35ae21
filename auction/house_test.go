package auction

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/highwizardry/gameserver/logger"
	"github.com/highwizardry/gameserver/models"
	"github.com/highwizardry/gameserver/persistence"
	"github.com/highwizardry/gameserver/registry"
)

// recordingBroadcaster captures outbound notifications for assertions.
type recordingBroadcaster struct {
	mu     sync.Mutex
	global []map[string]interface{}
	direct map[string][]map[string]interface{}
}

func newRecordingBroadcaster() *recordingBroadcaster {
	return &recordingBroadcaster{direct: make(map[string][]map[string]interface{})}
}

func (b *recordingBroadcaster) Broadcast(msg map[string]interface{}, exclude string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.global = append(b.global, msg)
}

func (b *recordingBroadcaster) BroadcastToLocation(locationID string, msg map[string]interface{}, exclude string) {
	b.Broadcast(msg, exclude)
}

func (b *recordingBroadcaster) SendTo(playerID string, msg map[string]interface{}) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.direct[playerID] = append(b.direct[playerID], msg)
	return true
}

func (b *recordingBroadcaster) sentTo(playerID string) []map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]map[string]interface{}(nil), b.direct[playerID]...)
}

type HouseSuite struct {
	suite.Suite
	store   *persistence.MemoryStore
	players *registry.Players
	cast    *recordingBroadcaster
	house   *House
	now     time.Time
}

func (s *HouseSuite) SetupTest() {
	logger.InitNop()
	s.store = persistence.NewMemoryStore()
	s.players = registry.NewPlayers(s.store)
	s.cast = newRecordingBroadcaster()
	s.house = NewHouse(s.store, s.players, s.cast)
	s.now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.house.SetClock(func() time.Time { return s.now })
}

func TestHouseSuite(t *testing.T) {
	suite.Run(t, new(HouseSuite))
}

func (s *HouseSuite) seed(id string, pennies int64, items ...string) {
	p := models.NewPlayer(id, id, "market")
	p.Pennies = pennies
	p.Inventory = append(p.Inventory, items...)
	s.Require().NoError(s.players.Create(p))
}

func (s *HouseSuite) pennies(id string) int64 {
	p, err := s.players.Get(id)
	s.Require().NoError(err)
	return p.Pennies
}

func (s *HouseSuite) inventory(id string) []string {
	p, err := s.players.Get(id)
	s.Require().NoError(err)
	return p.Inventory
}

func (s *HouseSuite) TestCreateEscrowsItem() {
	s.seed("seller", 0, "oak-staff")

	a, err := s.house.CreateAuction("seller", models.AuctionItem{ItemID: "oak-staff"}, 10, time.Hour, Options{})
	s.Require().NoError(err)
	s.Equal(models.AuctionActive, a.Status)
	s.Equal(int64(10), a.CurrentBid)
	s.Empty(s.inventory("seller"), "item held in escrow")
}

func (s *HouseSuite) TestCreateRejectsMissingAsset() {
	s.seed("seller", 0)
	_, err := s.house.CreateAuction("seller", models.AuctionItem{ItemID: "oak-staff"}, 10, time.Hour, Options{})
	s.ErrorIs(err, ErrAssetMissing)
	s.Empty(s.house.ListActive(), "failed escrow must not open an auction")
}

func (s *HouseSuite) TestCreateValidatesTerms() {
	s.seed("seller", 0, "oak-staff")
	item := models.AuctionItem{ItemID: "oak-staff"}

	_, err := s.house.CreateAuction("seller", item, 10, time.Minute, Options{})
	s.ErrorIs(err, ErrBadDuration)
	_, err = s.house.CreateAuction("seller", item, 10, 8*24*time.Hour, Options{})
	s.ErrorIs(err, ErrBadDuration)
	_, err = s.house.CreateAuction("seller", item, 0, time.Hour, Options{})
	s.ErrorIs(err, ErrBadStartingBid)
	_, err = s.house.CreateAuction("seller", item, 10, time.Hour, Options{Scope: "planetary"})
	s.ErrorIs(err, ErrBadScope)
	s.Equal([]string{"oak-staff"}, s.inventory("seller"), "rejected scope must not escrow the item")
}

func (s *HouseSuite) TestBiddingHappyPath() {
	s.seed("seller", 0, "oak-staff")
	s.seed("bidderA", 100)
	s.seed("bidderB", 100)

	a, err := s.house.CreateAuction("seller", models.AuctionItem{ItemID: "oak-staff"}, 10, time.Hour, Options{})
	s.Require().NoError(err)

	// First bid at exactly the starting price is allowed.
	_, err = s.house.PlaceBid("bidderA", a.ID, 10)
	s.Require().NoError(err)
	s.Equal(int64(90), s.pennies("bidderA"))

	_, err = s.house.PlaceBid("bidderB", a.ID, 15)
	s.Require().NoError(err)
	s.Equal(int64(100), s.pennies("bidderA"), "outbid escrow refunded")
	s.Equal(int64(85), s.pennies("bidderB"))

	_, err = s.house.PlaceBid("bidderA", a.ID, 20)
	s.Require().NoError(err)
	s.Equal(int64(80), s.pennies("bidderA"))
	s.Equal(int64(100), s.pennies("bidderB"))

	closed, err := s.house.CloseAuction(a.ID)
	s.Require().NoError(err)
	s.Equal(models.AuctionCompleted, closed.Status)
	s.Equal("bidderA", closed.WinnerID)

	s.Equal(int64(20), s.pennies("seller"), "seller receives the final bid")
	s.Contains(s.inventory("bidderA"), "oak-staff")
	s.Equal(int64(80), s.pennies("bidderA"))

	// Conservation: total pennies unchanged.
	total := s.pennies("seller") + s.pennies("bidderA") + s.pennies("bidderB")
	s.Equal(int64(200), total)

	s.NotEmpty(s.cast.sentTo("bidderB"), "outbid player was notified")
}

func (s *HouseSuite) TestBidRules() {
	s.seed("seller", 0, "oak-staff")
	s.seed("bidder", 100)

	a, err := s.house.CreateAuction("seller", models.AuctionItem{ItemID: "oak-staff"}, 10, time.Hour, Options{})
	s.Require().NoError(err)

	_, err = s.house.PlaceBid("bidder", a.ID, 9)
	s.ErrorIs(err, ErrBidTooLow, "first bid below starting price")

	_, err = s.house.PlaceBid("seller", a.ID, 50)
	s.ErrorIs(err, ErrSelfBid)

	_, err = s.house.PlaceBid("bidder", a.ID, 10)
	s.Require().NoError(err)

	// Equal to the current bid is no longer enough.
	_, err = s.house.PlaceBid("bidder", a.ID, 10)
	s.ErrorIs(err, ErrBidTooLow)

	_, err = s.house.PlaceBid("bidder", a.ID, 9999)
	s.ErrorIs(err, ErrInsufficientFunds)

	_, err = s.house.PlaceBid("bidder", "no-such-auction", 50)
	s.ErrorIs(err, ErrAuctionNotFound)
}

func (s *HouseSuite) TestAntiSnipingExtendsDeadline() {
	s.seed("seller", 0, "oak-staff")
	s.seed("bidder", 1000)

	window := 60000 * time.Millisecond
	a, err := s.house.CreateAuction("seller", models.AuctionItem{ItemID: "oak-staff"}, 10, time.Hour, Options{SnipingWindow: window})
	s.Require().NoError(err)
	originalEnd := a.EndsAt

	// An early bid leaves the deadline alone.
	s.now = s.now.Add(10 * time.Minute)
	mid, err := s.house.PlaceBid("bidder", a.ID, 10)
	s.Require().NoError(err)
	s.Equal(originalEnd, mid.EndsAt)

	// A bid inside the final window pushes the deadline to now+window.
	s.now = originalEnd.Add(-30 * time.Second)
	late, err := s.house.PlaceBid("bidder", a.ID, 20)
	s.Require().NoError(err)
	s.Equal(s.now.Add(window), late.EndsAt)
	s.True(late.EndsAt.After(originalEnd), "deadline never decreases")
}

func (s *HouseSuite) TestExpiredAuctionRejectsBidsAndCloses() {
	s.seed("seller", 0, "oak-staff")
	s.seed("bidder", 100)

	a, err := s.house.CreateAuction("seller", models.AuctionItem{ItemID: "oak-staff"}, 10, time.Hour, Options{})
	s.Require().NoError(err)

	s.now = s.now.Add(2 * time.Hour)
	_, err = s.house.PlaceBid("bidder", a.ID, 50)
	s.ErrorIs(err, ErrAuctionClosed)

	// The lazy close returned the unsold item to the seller.
	s.Contains(s.inventory("seller"), "oak-staff")
	s.Empty(s.house.ListActive())
}

func (s *HouseSuite) TestMonitorClosesExpired() {
	s.seed("seller", 0, "oak-staff")
	s.seed("bidder", 100)

	a, err := s.house.CreateAuction("seller", models.AuctionItem{ItemID: "oak-staff"}, 10, time.Hour, Options{})
	s.Require().NoError(err)
	_, err = s.house.PlaceBid("bidder", a.ID, 25)
	s.Require().NoError(err)

	s.now = s.now.Add(2 * time.Hour)
	s.Equal(1, s.house.CloseExpired())

	s.Equal(int64(25), s.pennies("seller"))
	s.Contains(s.inventory("bidder"), "oak-staff")

	got, err := s.house.GetAuction(a.ID)
	s.Require().NoError(err)
	s.Equal(models.AuctionCompleted, got.Status)
	s.Equal("bidder", got.WinnerID)
}

func (s *HouseSuite) TestCurrencyAuction() {
	s.seed("seller", 120)
	s.seed("bidder", 100)

	a, err := s.house.CreateAuction("seller", models.AuctionItem{Pennies: 120}, 10, time.Hour, Options{})
	s.Require().NoError(err)
	s.Equal(int64(0), s.pennies("seller"), "penny lot escrowed")

	_, err = s.house.PlaceBid("bidder", a.ID, 30)
	s.Require().NoError(err)

	s.now = s.now.Add(2 * time.Hour)
	s.house.CloseExpired()

	s.Equal(int64(30), s.pennies("seller"))
	s.Equal(int64(190), s.pennies("bidder"), "winner receives the penny lot")
}

func (s *HouseSuite) TestCancelRules() {
	s.seed("seller", 0, "oak-staff")
	s.seed("bidder", 100)

	a, err := s.house.CreateAuction("seller", models.AuctionItem{ItemID: "oak-staff"}, 10, time.Hour, Options{})
	s.Require().NoError(err)

	_, err = s.house.CancelAuction("bidder", a.ID)
	s.ErrorIs(err, ErrNotSeller)

	_, err = s.house.PlaceBid("bidder", a.ID, 10)
	s.Require().NoError(err)

	_, err = s.house.CancelAuction("seller", a.ID)
	s.ErrorIs(err, ErrHasBids)
}

func (s *HouseSuite) TestCancelReturnsEscrow() {
	s.seed("seller", 0, "oak-staff")

	a, err := s.house.CreateAuction("seller", models.AuctionItem{ItemID: "oak-staff"}, 10, time.Hour, Options{})
	s.Require().NoError(err)

	cancelled, err := s.house.CancelAuction("seller", a.ID)
	s.Require().NoError(err)
	s.Equal(models.AuctionCancelled, cancelled.Status)
	s.Contains(s.inventory("seller"), "oak-staff")
	s.Empty(s.house.ListActive())
}

func (s *HouseSuite) TestStatePersistsAcrossRestart() {
	s.seed("seller", 0, "oak-staff")
	s.seed("bidder", 100)

	a, err := s.house.CreateAuction("seller", models.AuctionItem{ItemID: "oak-staff"}, 10, time.Hour, Options{})
	s.Require().NoError(err)
	_, err = s.house.PlaceBid("bidder", a.ID, 25)
	s.Require().NoError(err)

	reloaded := NewHouse(s.store, s.players, s.cast)
	reloaded.SetClock(func() time.Time { return s.now })
	s.Require().NoError(reloaded.Load())

	got, err := reloaded.GetAuction(a.ID)
	s.Require().NoError(err)
	s.Equal(int64(25), got.CurrentBid)
	s.Equal("bidder", got.HighestBidderID)
	s.Len(got.Bids, 1)
}

func (s *HouseSuite) TestFailedSettlementKeepsReason() {
	s.seed("seller", 0, "oak-staff")
	s.seed("bidder", 100)

	a, err := s.house.CreateAuction("seller", models.AuctionItem{ItemID: "oak-staff"}, 10, time.Hour, Options{})
	s.Require().NoError(err)
	_, err = s.house.PlaceBid("bidder", a.ID, 25)
	s.Require().NoError(err)

	// Winner record vanishes before settlement.
	s.players.Evict("bidder")
	s.Require().NoError(s.store.DeletePlayer("bidder"))

	s.now = s.now.Add(2 * time.Hour)
	s.house.CloseExpired()

	got, err := s.house.GetAuction(a.ID)
	s.Require().NoError(err)
	s.Equal(models.AuctionFailed, got.Status)
	s.NotEmpty(got.FailureReason)
	s.Contains(s.inventory("seller"), "oak-staff", "asset returned to the surviving side")
}
