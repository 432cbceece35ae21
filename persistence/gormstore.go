package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/highwizardry/gameserver/models"
)

// GormStore is the embedded-relational backend: one sqlite file, one table
// per entity kind, every multi-row mutation inside a transaction. Records
// are stored as JSON blobs next to the columns needed for lookups.
type GormStore struct {
	db *gorm.DB
}

type UserModel struct {
	ID        uint   `gorm:"primaryKey"`
	Username  string `gorm:"uniqueIndex;not null"` // lowercased
	Email     string `gorm:"index"`
	PlayerID  string `gorm:"index;not null"`
	Data      []byte `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type PlayerModel struct {
	ID        uint   `gorm:"primaryKey"`
	PlayerID  string `gorm:"uniqueIndex;not null"`
	Data      []byte `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type AuctionModel struct {
	ID        uint   `gorm:"primaryKey"`
	AuctionID string `gorm:"uniqueIndex;not null"`
	Active    bool   `gorm:"index"`
	Data      []byte `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewGormStore(path string) (*GormStore, error) {
	gormLogger := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold: time.Second,
			LogLevel:      gormlogger.Silent,
			Colorful:      false,
		},
	)

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.AutoMigrate(&UserModel{}, &PlayerModel{}, &AuctionModel{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &GormStore{db: db}, nil
}

func mapGormErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// --- users ---

func (s *GormStore) GetUser(username string) (*models.User, error) {
	var row UserModel
	if err := s.db.Where("username = ?", strings.ToLower(username)).First(&row).Error; err != nil {
		return nil, mapGormErr(err)
	}
	return decodeUser(row.Data)
}

func (s *GormStore) CreateUser(user *models.User) error {
	key := strings.ToLower(user.Username)
	return s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&UserModel{}).Where("username = ?", key).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicate
		}
		data, err := json.Marshal(user)
		if err != nil {
			return err
		}
		return tx.Create(&UserModel{
			Username: key,
			Email:    strings.ToLower(user.Email),
			PlayerID: user.PlayerID,
			Data:     data,
		}).Error
	})
}

func (s *GormStore) UpdateUser(user *models.User) error {
	key := strings.ToLower(user.Username)
	return s.db.Transaction(func(tx *gorm.DB) error {
		var row UserModel
		if err := tx.Where("username = ?", key).First(&row).Error; err != nil {
			return mapGormErr(err)
		}
		data, err := json.Marshal(user)
		if err != nil {
			return err
		}
		row.Email = strings.ToLower(user.Email)
		row.Data = data
		return tx.Save(&row).Error
	})
}

func (s *GormStore) DeleteUser(username string) error {
	res := s.db.Where("username = ?", strings.ToLower(username)).Delete(&UserModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) GetUserByEmail(email string) (*models.User, error) {
	var row UserModel
	if err := s.db.Where("email = ? AND email <> ''", strings.ToLower(email)).First(&row).Error; err != nil {
		return nil, mapGormErr(err)
	}
	return decodeUser(row.Data)
}

func (s *GormStore) GetUserByPlayerID(playerID string) (*models.User, error) {
	var row UserModel
	if err := s.db.Where("player_id = ?", playerID).First(&row).Error; err != nil {
		return nil, mapGormErr(err)
	}
	return decodeUser(row.Data)
}

func (s *GormStore) GetAllUsers() ([]*models.User, error) {
	var rows []UserModel
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*models.User, 0, len(rows))
	for _, row := range rows {
		u, err := decodeUser(row.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

func decodeUser(data []byte) (*models.User, error) {
	var u models.User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("decode user row: %w", err)
	}
	return &u, nil
}

// --- players ---

func (s *GormStore) GetPlayer(playerID string) (*models.Player, error) {
	var row PlayerModel
	if err := s.db.Where("player_id = ?", playerID).First(&row).Error; err != nil {
		return nil, mapGormErr(err)
	}
	var p models.Player
	if err := json.Unmarshal(row.Data, &p); err != nil {
		return nil, fmt.Errorf("decode player row: %w", err)
	}
	return &p, nil
}

func (s *GormStore) CreatePlayer(player *models.Player) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&PlayerModel{}).Where("player_id = ?", player.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicate
		}
		data, err := json.Marshal(player)
		if err != nil {
			return err
		}
		return tx.Create(&PlayerModel{PlayerID: player.ID, Data: data}).Error
	})
}

func (s *GormStore) UpdatePlayer(player *models.Player) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var row PlayerModel
		err := tx.Where("player_id = ?", player.ID).First(&row).Error
		data, merr := json.Marshal(player)
		if merr != nil {
			return merr
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&PlayerModel{PlayerID: player.ID, Data: data}).Error
		}
		if err != nil {
			return err
		}
		row.Data = data
		return tx.Save(&row).Error
	})
}

func (s *GormStore) DeletePlayer(playerID string) error {
	res := s.db.Where("player_id = ?", playerID).Delete(&PlayerModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) GetAllPlayers() ([]*models.Player, error) {
	var rows []PlayerModel
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*models.Player, 0, len(rows))
	for _, row := range rows {
		var p models.Player
		if err := json.Unmarshal(row.Data, &p); err != nil {
			return nil, fmt.Errorf("decode player row: %w", err)
		}
		out = append(out, &p)
	}
	return out, nil
}

// --- auctions ---

// SaveAuctions replaces the whole auction table in one transaction.
func (s *GormStore) SaveAuctions(active, history []*models.Auction) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&AuctionModel{}).Error; err != nil {
			return err
		}
		insert := func(auctions []*models.Auction, activeFlag bool) error {
			for _, a := range auctions {
				data, err := json.Marshal(a)
				if err != nil {
					return err
				}
				if err := tx.Create(&AuctionModel{AuctionID: a.ID, Active: activeFlag, Data: data}).Error; err != nil {
					return err
				}
			}
			return nil
		}
		if err := insert(active, true); err != nil {
			return err
		}
		return insert(history, false)
	})
}

func (s *GormStore) LoadAuctions() (active, history []*models.Auction, err error) {
	var rows []AuctionModel
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	for _, row := range rows {
		var a models.Auction
		if err := json.Unmarshal(row.Data, &a); err != nil {
			return nil, nil, fmt.Errorf("decode auction row: %w", err)
		}
		if row.Active {
			active = append(active, &a)
		} else {
			history = append(history, &a)
		}
	}
	return active, history, nil
}

func (s *GormStore) HealthCheck() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
