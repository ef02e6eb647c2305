// Package model defines the entities tracked by the progress tracker and the
// small value types shared by every layer (collections, change kinds).
//
// Every entity belongs to exactly one owner. The owner id is carried on the
// entity itself so that push events, store slots and repository rows can all
// be filtered by owner without a join.
package model

import "fmt"

// Collection names one tracked entity set. The string values double as table
// names in the sqlite backend and as path segments in the HTTP API.
type Collection string

const (
	CollectionProjects   Collection = "projects"
	CollectionProfiles   Collection = "portfolios"
	CollectionStats      Collection = "gamification_stats"
	CollectionGoals      Collection = "daily_goals"
	CollectionBadges     Collection = "badges"
	CollectionChallenges Collection = "weekly_challenges"
)

// Collections lists every tracked collection in load order.
var Collections = []Collection{
	CollectionProjects,
	CollectionProfiles,
	CollectionStats,
	CollectionGoals,
	CollectionBadges,
	CollectionChallenges,
}

// Valid reports whether c is one of the known collections.
func (c Collection) Valid() bool {
	for _, known := range Collections {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCollection converts a path segment or flag value into a Collection.
func ParseCollection(s string) (Collection, error) {
	c := Collection(s)
	if !c.Valid() {
		return "", fmt.Errorf("model: unknown collection %q", s)
	}
	return c, nil
}

// Entity is implemented by every value held in the entity store.
//
// EntityID is the upsert key: two values with the same id occupy the same
// slot, whichever source (optimistic, confirmed, pushed) produced them.
type Entity interface {
	EntityID() string
	EntityOwner() string
}

// ChangeKind is the normalized kind of a change-feed event.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// Valid reports whether k is insert, update or delete.
func (k ChangeKind) Valid() bool {
	return k == ChangeInsert || k == ChangeUpdate || k == ChangeDelete
}

// Change is the common {kind, entity} shape every push event is normalized
// into before it touches the store. ID is always set; Entity is nil for
// deletes that only carry the id.
type Change struct {
	Kind       ChangeKind
	Collection Collection
	ID         string
	Entity     Entity
}
