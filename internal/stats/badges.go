package stats

import "github.com/sakif/progress-tracker/internal/model"

// DefaultEarlyHour is the local hour before which a goal completion earns
// the early-bird badge. The hour is configurable per client and badge rows
// are seeded by the server, so the early_bird description names no hour.
const DefaultEarlyHour = 9

// BadgeRule is one entry of the closed badge catalog.
type BadgeRule struct {
	ID          string
	Title       string
	Description string
	Icon        string
	XPValue     int
	Eligible    func(Aggregates) bool
}

// Catalog is the fixed badge catalog. Adding a badge means adding a rule here
// and seeding it for existing owners.
var Catalog = []BadgeRule{
	{
		ID:          "quick_starter",
		Title:       "Quick Starter",
		Description: "Earn your first 75 XP",
		Icon:        "rocket",
		XPValue:     25,
		Eligible:    func(a Aggregates) bool { return a.TotalXP >= 75 },
	},
	{
		ID:          "week_warrior",
		Title:       "Week Warrior",
		Description: "Keep a 7 day streak",
		Icon:        "flame",
		XPValue:     100,
		Eligible:    func(a Aggregates) bool { return a.StreakDays >= 7 },
	},
	{
		ID:          "early_bird",
		Title:       "Early Bird",
		Description: "Complete a daily goal early in the morning",
		Icon:        "sunrise",
		XPValue:     50,
		Eligible:    func(a Aggregates) bool { return a.EarlyCompletions > 0 },
	},
	{
		ID:          "xp_master",
		Title:       "XP Master",
		Description: "Reach 500 XP",
		Icon:        "trophy",
		XPValue:     150,
		Eligible:    func(a Aggregates) bool { return a.TotalXP >= 500 },
	},
}

// RuleFor looks up a catalog rule by badge_id.
func RuleFor(badgeID string) (BadgeRule, bool) {
	for _, r := range Catalog {
		if r.ID == badgeID {
			return r, true
		}
	}
	return BadgeRule{}, false
}

// EligibleBadges returns the locked badges whose predicate holds for agg.
// Unlocked badges are never returned, so a predicate that later becomes
// false can not re-lock anything and an unlocked badge is never re-fired.
func EligibleBadges(badges []model.Badge, agg Aggregates) []model.Badge {
	var out []model.Badge
	for _, b := range badges {
		if b.Unlocked {
			continue
		}
		rule, ok := RuleFor(b.BadgeID)
		if !ok {
			continue
		}
		if rule.Eligible(agg) {
			out = append(out, b)
		}
	}
	return out
}

// CatalogBadges returns a locked badge row per catalog rule for ownerID.
// Row ids are left empty for the persistence layer to assign.
func CatalogBadges(ownerID string) []model.Badge {
	out := make([]model.Badge, 0, len(Catalog))
	for _, r := range Catalog {
		out = append(out, model.Badge{
			UserID:      ownerID,
			BadgeID:     r.ID,
			Title:       r.Title,
			Description: r.Description,
			Icon:        r.Icon,
			XPValue:     r.XPValue,
		})
	}
	return out
}
