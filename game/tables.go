package game

import "time"

// GatherEnergyCost is the fixed energy cost of one gather attempt.
const GatherEnergyCost = 10

// Resources a gather can yield; the roll is uniform over this set and the
// amount uniform in [1, 3].
var Resources = []string{"herb", "wood", "ore", "crystal", "essence"}

// Recipe is a static crafting entry.
type Recipe struct {
	ID         string
	EnergyCost int
	XPGain     int
	Materials  map[string]int
}

var Recipes = map[string]Recipe{
	"minor-potion": {
		ID:         "minor-potion",
		EnergyCost: 15,
		XPGain:     20,
		Materials:  map[string]int{"herb": 2},
	},
	"oak-staff": {
		ID:         "oak-staff",
		EnergyCost: 20,
		XPGain:     35,
		Materials:  map[string]int{"wood": 3, "crystal": 1},
	},
	"iron-amulet": {
		ID:         "iron-amulet",
		EnergyCost: 25,
		XPGain:     50,
		Materials:  map[string]int{"ore": 2, "essence": 1},
	},
	"scrying-orb": {
		ID:         "scrying-orb",
		EnergyCost: 40,
		XPGain:     90,
		Materials:  map[string]int{"crystal": 3, "essence": 2},
	},
}

// Crime is a static crime entry. SuccessRate is a percentage; a roll equal
// to the rate counts as failure.
type Crime struct {
	ID           string
	EnergyCost   int
	SuccessRate  int
	RewardMin    int64 // pennies
	RewardMax    int64 // pennies
	XPGain       int
	JailDuration time.Duration
}

var Crimes = map[string]Crime{
	"pickpocket": {
		ID:           "pickpocket",
		EnergyCost:   5,
		SuccessRate:  60,
		RewardMin:    5,
		RewardMax:    20,
		XPGain:       10,
		JailDuration: time.Minute,
	},
	"mugging": {
		ID:           "mugging",
		EnergyCost:   15,
		SuccessRate:  40,
		RewardMin:    20,
		RewardMax:    60,
		XPGain:       25,
		JailDuration: 5 * time.Minute,
	},
	"heist": {
		ID:           "heist",
		EnergyCost:   40,
		SuccessRate:  15,
		RewardMin:    120,
		RewardMax:    600,
		XPGain:       100,
		JailDuration: 15 * time.Minute,
	},
}

// TrainableStats is the whitelist for the train action.
var TrainableStats = map[string]struct{}{
	"intelligence": {},
	"endurance":    {},
	"charisma":     {},
	"dexterity":    {},
}

const (
	// TrainEnergyCost and TrainPennyCost apply per training session.
	TrainEnergyCost = 10
	TrainPennyCost  = 24

	// HealPenniesPerPoint prices healing; the server computes the cost,
	// never the client.
	HealPenniesPerPoint = 1
)
