package persistence

import (
	"errors"
	"fmt"

	"github.com/highwizardry/gameserver/logger"
)

// Migrate batch-copies all durable state from src to dst. It is idempotent:
// records already present in dst are overwritten by key, never duplicated.
func Migrate(src, dst Store) error {
	users, err := src.GetAllUsers()
	if err != nil {
		return fmt.Errorf("read source users: %w", err)
	}
	for _, u := range users {
		if err := dst.CreateUser(u); err != nil {
			if !errors.Is(err, ErrDuplicate) {
				return fmt.Errorf("migrate user %s: %w", u.Username, err)
			}
			if err := dst.UpdateUser(u); err != nil {
				return fmt.Errorf("migrate user %s: %w", u.Username, err)
			}
		}
	}

	players, err := src.GetAllPlayers()
	if err != nil {
		return fmt.Errorf("read source players: %w", err)
	}
	for _, p := range players {
		if err := dst.UpdatePlayer(p); err != nil {
			return fmt.Errorf("migrate player %s: %w", p.ID, err)
		}
	}

	active, history, err := src.LoadAuctions()
	if err != nil {
		return fmt.Errorf("read source auctions: %w", err)
	}
	if err := dst.SaveAuctions(active, history); err != nil {
		return fmt.Errorf("migrate auctions: %w", err)
	}

	logger.Log.Infof("migrated %d users, %d players, %d active and %d historical auctions",
		len(users), len(players), len(active), len(history))
	return nil
}
