package store

import (
	"fmt"

	"github.com/sakif/progress-tracker/internal/model"
)

// slot is the untyped view of a Collection that Store uses to route changes.
type slot interface {
	upsertEntity(model.Entity) bool
	getEntity(id string) (model.Entity, bool)
	removeID(id string) bool
	versionOf() uint64
	clear()
}

// Store groups one Collection per tracked collection.
type Store struct {
	Projects   *Collection[model.Project]
	Profiles   *Collection[model.PortfolioProfile]
	Stats      *Collection[model.GamificationStats]
	Goals      *Collection[model.DailyGoal]
	Badges     *Collection[model.Badge]
	Challenges *Collection[model.WeeklyChallenge]

	slots map[model.Collection]slot
}

// New creates an empty store.
func New() *Store {
	s := &Store{
		Projects:   NewCollection(model.Project.Clone),
		Profiles:   NewCollection[model.PortfolioProfile](nil),
		Stats:      NewCollection[model.GamificationStats](nil),
		Goals:      NewCollection(cloneGoal),
		Badges:     NewCollection(cloneBadge),
		Challenges: NewCollection[model.WeeklyChallenge](nil),
	}
	s.slots = map[model.Collection]slot{
		model.CollectionProjects:   s.Projects,
		model.CollectionProfiles:   s.Profiles,
		model.CollectionStats:      s.Stats,
		model.CollectionGoals:      s.Goals,
		model.CollectionBadges:     s.Badges,
		model.CollectionChallenges: s.Challenges,
	}
	return s
}

// Version is the sum of every collection's version. It changes whenever any
// entity is written, including writes that leave derived stats unchanged.
func (s *Store) Version() uint64 {
	var v uint64
	for _, sl := range s.slots {
		v += sl.versionOf()
	}
	return v
}

// Get returns the entity for id in collection c.
func (s *Store) Get(c model.Collection, id string) (model.Entity, bool) {
	sl, ok := s.slots[c]
	if !ok {
		return nil, false
	}
	return sl.getEntity(id)
}

// Apply routes a normalized change to the right collection using the same
// Upsert/Remove primitives the mutation path uses. Deduplication is therefore
// structural: the same id always lands in the same slot.
func (s *Store) Apply(ch model.Change) error {
	sl, ok := s.slots[ch.Collection]
	if !ok {
		return fmt.Errorf("store: unknown collection %q", ch.Collection)
	}
	id := ch.ID
	if id == "" && ch.Entity != nil {
		id = ch.Entity.EntityID()
	}
	switch ch.Kind {
	case model.ChangeInsert, model.ChangeUpdate:
		if ch.Entity == nil {
			return fmt.Errorf("store: %s change for %s/%s has no entity", ch.Kind, ch.Collection, id)
		}
		if !sl.upsertEntity(ch.Entity) {
			return fmt.Errorf("store: entity %T does not belong in %s", ch.Entity, ch.Collection)
		}
	case model.ChangeDelete:
		sl.removeID(id)
	default:
		return fmt.Errorf("store: unknown change kind %q", ch.Kind)
	}
	return nil
}

// Reset empties every collection. Called on owner change.
func (s *Store) Reset() {
	for _, sl := range s.slots {
		sl.clear()
	}
}

func cloneGoal(g model.DailyGoal) model.DailyGoal {
	if g.CompletedAt != nil {
		at := *g.CompletedAt
		g.CompletedAt = &at
	}
	return g
}

func cloneBadge(b model.Badge) model.Badge {
	if b.UnlockedAt != nil {
		at := *b.UnlockedAt
		b.UnlockedAt = &at
	}
	return b
}
