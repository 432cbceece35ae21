// Package game resolves player action requests into authoritative state
// deltas. The server never trusts client-supplied numeric outcomes; every
// roll uses the server-seeded generator and every currency mutation goes
// through the canonical penny count.
package game

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/highwizardry/gameserver/models"
	"github.com/highwizardry/gameserver/registry"
	"github.com/highwizardry/gameserver/validate"
)

// Rand is the subset of math/rand the logic needs; tests swap in a
// deterministic source.
type Rand interface {
	Intn(n int) int
}

type lockedRand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.Intn(n)
}

// Logic is the only component that turns action requests into player-state
// deltas.
type Logic struct {
	players   *registry.Players
	locations *registry.Locations
	rng       Rand
	now       func() time.Time
}

func NewLogic(players *registry.Players, locations *registry.Locations) *Logic {
	return &Logic{
		players:   players,
		locations: locations,
		rng:       &lockedRand{rng: rand.New(rand.NewSource(time.Now().UnixNano()))},
		now:       time.Now,
	}
}

// SetRand and SetClock override the randomness and time sources for tests.
func (l *Logic) SetRand(r Rand)                { l.rng = r }
func (l *Logic) SetClock(now func() time.Time) { l.now = now }

// ProcessAction dispatches an action request by type.
func (l *Logic) ProcessAction(playerID, actionType string, actionData map[string]interface{}) models.Result {
	actionData = validate.SanitizeObject(actionData, "recipeId", "crimeType", "amount", "stat")

	player, err := l.players.Get(playerID)
	if err != nil {
		return models.Fail(models.KindNotFound, "Unknown player")
	}

	if blocked, msg := l.jailed(player); blocked {
		return models.Fail(models.KindForbidden, msg)
	}

	switch actionType {
	case "gather_resources":
		return l.gather(playerID, player)
	case "craft_item":
		recipeID, _ := actionData["recipeId"].(string)
		return l.craft(playerID, player, recipeID)
	case "commit_crime":
		crimeType, _ := actionData["crimeType"].(string)
		return l.commitCrime(playerID, player, crimeType)
	case "heal":
		return l.heal(playerID, player, actionData["amount"])
	case "train":
		stat, _ := actionData["stat"].(string)
		return l.train(playerID, player, stat)
	default:
		return models.Fail(models.KindInvalidInput, fmt.Sprintf("Unknown action type %q", actionType))
	}
}

// jailed reports whether the player is still locked up, clearing an expired
// sentence lazily.
func (l *Logic) jailed(player *models.Player) (bool, string) {
	if !player.InJail {
		return false, ""
	}
	if player.JailUntil != nil && l.now().After(*player.JailUntil) {
		_, err := l.players.Update(player.ID, func(p *models.Player) {
			p.InJail = false
			p.JailUntil = nil
		})
		return err != nil, "Internal error"
	}
	return true, "You are in jail"
}

func (l *Logic) gather(playerID string, player *models.Player) models.Result {
	if player.Energy < GatherEnergyCost {
		return models.Fail(models.KindPreconditionFailed, "Insufficient energy")
	}

	resource := Resources[l.rng.Intn(len(Resources))]
	amount := 1 + l.rng.Intn(3)

	updated, err := l.players.Update(playerID, func(p *models.Player) {
		p.Energy -= GatherEnergyCost
		if p.CraftedItems == nil {
			p.CraftedItems = map[string]int{}
		}
		p.CraftedItems[resource] += amount
		p.LastAction = "gather_resources"
	})
	if err != nil {
		return models.Fail(models.KindTransient, "Could not save action")
	}

	return models.Result{
		Success: true,
		Data: map[string]interface{}{
			"resource": resource,
			"amount":   amount,
		},
		PlayerUpdates: playerSummary(updated),
	}
}

func (l *Logic) craft(playerID string, player *models.Player, recipeID string) models.Result {
	recipe, ok := Recipes[recipeID]
	if !ok {
		return models.Fail(models.KindInvalidInput, "Unknown recipe")
	}
	if player.Energy < recipe.EnergyCost {
		return models.Fail(models.KindPreconditionFailed, "Insufficient energy")
	}
	for material, need := range recipe.Materials {
		if player.CraftedItems[material] < need {
			return models.Fail(models.KindPreconditionFailed, fmt.Sprintf("Not enough %s", material))
		}
	}

	updated, err := l.players.Update(playerID, func(p *models.Player) {
		p.Energy -= recipe.EnergyCost
		p.XP += recipe.XPGain
		for material, need := range recipe.Materials {
			p.CraftedItems[material] -= need
			if p.CraftedItems[material] == 0 {
				delete(p.CraftedItems, material)
			}
		}
		p.Inventory = append(p.Inventory, recipe.ID)
		p.LastAction = "craft_item"
	})
	if err != nil {
		return models.Fail(models.KindTransient, "Could not save action")
	}

	return models.Result{
		Success:       true,
		Data:          map[string]interface{}{"crafted": recipe.ID, "xpGain": recipe.XPGain},
		PlayerUpdates: playerSummary(updated),
	}
}

func (l *Logic) commitCrime(playerID string, player *models.Player, crimeType string) models.Result {
	crime, ok := Crimes[crimeType]
	if !ok {
		return models.Fail(models.KindInvalidInput, "Unknown crime")
	}
	if player.Energy < crime.EnergyCost {
		return models.Fail(models.KindPreconditionFailed, "Insufficient energy")
	}

	roll := l.rng.Intn(100)
	success := roll < crime.SuccessRate

	var reward int64
	if success {
		span := crime.RewardMax - crime.RewardMin + 1
		reward = crime.RewardMin + int64(l.rng.Intn(int(span)))
	}

	updated, err := l.players.Update(playerID, func(p *models.Player) {
		p.Energy -= crime.EnergyCost
		p.LastAction = "commit_crime"
		if success {
			p.Pennies += reward
			p.XP += crime.XPGain
			return
		}
		until := l.now().Add(crime.JailDuration).UTC()
		p.InJail = true
		p.JailUntil = &until
		p.Location = registry.JailLocationID
	})
	if err != nil {
		return models.Fail(models.KindTransient, "Could not save action")
	}

	if !success {
		_ = l.locations.Move(playerID, registry.JailLocationID)
		shillings, pennies := models.SplitPennies(updated.Pennies)
		return models.Result{
			Success: true,
			Data: map[string]interface{}{
				"crime":     crime.ID,
				"succeeded": false,
				"jailUntil": updated.JailUntil,
				"shillings": shillings,
				"pennies":   pennies,
			},
			PlayerUpdates: playerSummary(updated),
		}
	}

	shillings, pennies := models.SplitPennies(updated.Pennies)
	return models.Result{
		Success: true,
		Data: map[string]interface{}{
			"crime":     crime.ID,
			"succeeded": true,
			"reward":    reward,
			"xpGain":    crime.XPGain,
			"shillings": shillings,
			"pennies":   pennies,
		},
		PlayerUpdates: playerSummary(updated),
	}
}

func (l *Logic) heal(playerID string, player *models.Player, amountRaw interface{}) models.Result {
	missing := player.MaxHealth - player.Health
	if missing <= 0 {
		return models.Fail(models.KindPreconditionFailed, "Already at full health")
	}

	var amount int
	switch v := amountRaw.(type) {
	case string:
		if v != "full" {
			return models.Fail(models.KindInvalidInput, "Amount must be a number or \"full\"")
		}
		amount = missing
	case float64:
		if err := validate.Number(v, validate.NumberBounds{Min: 1, Max: float64(player.MaxHealth), Integer: true}); err != nil {
			return models.Fail(models.KindInvalidInput, err.Error())
		}
		amount = int(v)
		if amount > missing {
			amount = missing
		}
	default:
		return models.Fail(models.KindInvalidInput, "Amount must be a number or \"full\"")
	}

	cost := int64(amount) * HealPenniesPerPoint
	if player.Pennies < cost {
		return models.Fail(models.KindPreconditionFailed, "Insufficient funds")
	}

	updated, err := l.players.Update(playerID, func(p *models.Player) {
		p.Pennies -= cost
		p.Health += amount
		p.LastAction = "heal"
	})
	if err != nil {
		return models.Fail(models.KindTransient, "Could not save action")
	}

	return models.Result{
		Success:       true,
		Data:          map[string]interface{}{"healed": amount, "cost": cost},
		PlayerUpdates: playerSummary(updated),
	}
}

func (l *Logic) train(playerID string, player *models.Player, stat string) models.Result {
	if _, ok := TrainableStats[stat]; !ok {
		return models.Fail(models.KindInvalidInput, "Unknown stat")
	}
	if player.Energy < TrainEnergyCost {
		return models.Fail(models.KindPreconditionFailed, "Insufficient energy")
	}
	if player.Pennies < TrainPennyCost {
		return models.Fail(models.KindPreconditionFailed, "Insufficient funds")
	}

	updated, err := l.players.Update(playerID, func(p *models.Player) {
		p.Energy -= TrainEnergyCost
		p.Pennies -= TrainPennyCost
		switch stat {
		case "intelligence":
			p.Stats.Intelligence++
		case "endurance":
			p.Stats.Endurance++
		case "charisma":
			p.Stats.Charisma++
		case "dexterity":
			p.Stats.Dexterity++
		}
		p.LastAction = "train"
	})
	if err != nil {
		return models.Fail(models.KindTransient, "Could not save action")
	}

	return models.Result{
		Success:       true,
		Data:          map[string]interface{}{"stat": stat, "stats": updated.Stats},
		PlayerUpdates: playerSummary(updated),
	}
}

// ValidatePlayerUpdate filters a client-driven patch down to the cosmetic
// whitelist and applies it. Disallowed keys are dropped without error.
func (l *Logic) ValidatePlayerUpdate(playerID string, patch map[string]interface{}) (*models.Player, error) {
	patch = validate.SanitizeObject(patch, "location", "lastAction")

	if loc, ok := patch["location"].(string); ok {
		if err := validate.LocationID(loc); err != nil {
			return nil, err
		}
		if !registry.ValidLocation(loc) {
			return nil, registry.ErrInvalidLocation
		}
	}

	updated, err := l.players.Update(playerID, func(p *models.Player) {
		if loc, ok := patch["location"].(string); ok {
			p.Location = loc
		}
		if la, ok := patch["lastAction"].(string); ok {
			p.LastAction = la
		}
	})
	if err != nil {
		return nil, err
	}

	if loc, ok := patch["location"].(string); ok {
		if err := l.locations.Move(playerID, loc); err != nil {
			return nil, err
		}
	}
	return updated, nil
}

// playerSummary is the compact player snapshot attached to action results.
func playerSummary(p *models.Player) map[string]interface{} {
	shillings, pennies := models.SplitPennies(p.Pennies)
	return map[string]interface{}{
		"level":     p.Level,
		"xp":        p.XP,
		"health":    p.Health,
		"energy":    p.Energy,
		"mana":      p.Mana,
		"shillings": shillings,
		"pennies":   pennies,
		"location":  p.Location,
		"inJail":    p.InJail,
	}
}
