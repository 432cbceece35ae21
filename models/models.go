package models

import (
	"time"
)

// User is the durable account record, keyed by the case-folded username.
type User struct {
	PlayerID          string     `json:"playerId"`
	Username          string     `json:"username"`
	PasswordHash      string     `json:"passwordHash"`
	Email             string     `json:"email,omitempty"`
	EmailVerified     bool       `json:"emailVerified"`
	VerificationCode  string     `json:"verificationCode,omitempty"`
	ResetToken        string     `json:"resetToken,omitempty"`
	ResetTokenExpires *time.Time `json:"resetTokenExpires,omitempty"`
	Banned            bool       `json:"banned"`
	BanExpiresAt      *time.Time `json:"banExpiresAt,omitempty"`
	BanReason         string     `json:"banReason,omitempty"`
	Muted             bool       `json:"muted"`
	MuteExpiresAt     *time.Time `json:"muteExpiresAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
}

// Stats are the trainable attributes.
type Stats struct {
	Intelligence int `json:"intelligence"`
	Endurance    int `json:"endurance"`
	Charisma     int `json:"charisma"`
	Dexterity    int `json:"dexterity"`
}

// Player is the authoritative mutable game record, keyed by player id.
// All currency lives in Pennies; shillings are derived for display.
type Player struct {
	ID           string            `json:"id"`
	Username     string            `json:"username"`
	Level        int               `json:"level"`
	XP           int               `json:"xp"`
	Pennies      int64             `json:"pennies"`
	Health       int               `json:"health"`
	MaxHealth    int               `json:"maxHealth"`
	Energy       int               `json:"energy"`
	MaxEnergy    int               `json:"maxEnergy"`
	Mana         int               `json:"mana"`
	MaxMana      int               `json:"maxMana"`
	Location     string            `json:"location"`
	Stats        Stats             `json:"stats"`
	Inventory    []string          `json:"inventory"`
	Equipment    map[string]string `json:"equipment,omitempty"`
	InJail       bool              `json:"inJail,omitempty"`
	JailUntil    *time.Time        `json:"jailUntil,omitempty"`
	CraftedItems map[string]int    `json:"craftedItems,omitempty"`
	LastAction   string            `json:"lastAction,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	LastUpdate   time.Time         `json:"lastUpdate"`
}

// Clone returns a deep copy so callers cannot mutate registry state in place.
func (p *Player) Clone() *Player {
	cp := *p
	cp.Inventory = append([]string(nil), p.Inventory...)
	if p.Equipment != nil {
		cp.Equipment = make(map[string]string, len(p.Equipment))
		for k, v := range p.Equipment {
			cp.Equipment[k] = v
		}
	}
	if p.CraftedItems != nil {
		cp.CraftedItems = make(map[string]int, len(p.CraftedItems))
		for k, v := range p.CraftedItems {
			cp.CraftedItems[k] = v
		}
	}
	if p.JailUntil != nil {
		t := *p.JailUntil
		cp.JailUntil = &t
	}
	return &cp
}

// NewPlayer builds a fresh level-1 character at the given start location.
func NewPlayer(id, username, location string) *Player {
	now := time.Now().UTC()
	return &Player{
		ID:        id,
		Username:  username,
		Level:     1,
		Pennies:   0,
		Health:    100,
		MaxHealth: 100,
		Energy:    100,
		MaxEnergy: 100,
		Mana:      50,
		MaxMana:   50,
		Location:  location,
		Stats: Stats{
			Intelligence: 1,
			Endurance:    1,
			Charisma:     1,
			Dexterity:    1,
		},
		Inventory:    []string{},
		Equipment:    map[string]string{},
		CraftedItems: map[string]int{},
		CreatedAt:    now,
		LastUpdate:   now,
	}
}

// Location is static world configuration. The set of ids is closed.
type Location struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Actions []string `json:"actions"`
}

type AuctionStatus string

const (
	AuctionActive    AuctionStatus = "active"
	AuctionCompleted AuctionStatus = "completed"
	AuctionCancelled AuctionStatus = "cancelled"
	AuctionFailed    AuctionStatus = "failed"
)

type AuctionScope string

const (
	ScopeGlobal   AuctionScope = "global"
	ScopeLocation AuctionScope = "location"
	ScopeGuild    AuctionScope = "guild"
)

// AuctionItem is the escrowed asset: exactly one of ItemID or Pennies is set.
type AuctionItem struct {
	ItemID  string `json:"itemId,omitempty"`
	Pennies int64  `json:"pennies,omitempty"`
}

// IsCurrency reports whether the escrowed asset is a penny amount.
func (i AuctionItem) IsCurrency() bool {
	return i.ItemID == ""
}

// Bid is one entry in an auction's strictly increasing bid list.
type Bid struct {
	BidderID string    `json:"bidderId"`
	Amount   int64     `json:"amount"`
	At       time.Time `json:"at"`
}

// Auction is the durable auction record. While active, the item and the
// current bid amount are both held in escrow off the respective players.
type Auction struct {
	ID              string        `json:"id"`
	SellerID        string        `json:"sellerId"`
	Item            AuctionItem   `json:"item"`
	StartingBid     int64         `json:"startingBid"`
	CurrentBid      int64         `json:"currentBid"`
	HighestBidderID string        `json:"highestBidderId,omitempty"`
	Bids            []Bid         `json:"bids"`
	Status          AuctionStatus `json:"status"`
	Scope           AuctionScope  `json:"scope"`
	LocationID      string        `json:"locationId,omitempty"`
	GuildID         string        `json:"guildId,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	EndsAt          time.Time     `json:"endsAt"`
	SnipingWindowMs int64         `json:"bidSnipingWindow"`
	CompletedAt     *time.Time    `json:"completedAt,omitempty"`
	WinnerID        string        `json:"winnerId,omitempty"`
	FailureReason   string        `json:"failureReason,omitempty"`
}
