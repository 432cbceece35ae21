// Package persistence abstracts durable storage for users, players and
// auction state. Two production backends exist (file-per-entity and
// embedded sqlite) plus an in-memory one for tests.
package persistence

import (
	"errors"

	"github.com/highwizardry/gameserver/models"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

// Store is the uniform persistence interface. Usernames are case-folded by
// the implementation; callers may pass display case.
type Store interface {
	GetUser(username string) (*models.User, error)
	CreateUser(user *models.User) error
	UpdateUser(user *models.User) error
	DeleteUser(username string) error
	GetUserByEmail(email string) (*models.User, error)
	GetUserByPlayerID(playerID string) (*models.User, error)
	GetAllUsers() ([]*models.User, error)

	GetPlayer(playerID string) (*models.Player, error)
	CreatePlayer(player *models.Player) error
	UpdatePlayer(player *models.Player) error
	DeletePlayer(playerID string) error
	GetAllPlayers() ([]*models.Player, error)

	SaveAuctions(active, history []*models.Auction) error
	LoadAuctions() (active, history []*models.Auction, err error)

	HealthCheck() error
	Close() error
}
