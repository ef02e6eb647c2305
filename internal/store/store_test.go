package store

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/progress-tracker/internal/model"
)

func project(id, title string, xp int) model.Project {
	return model.Project{
		ID:           id,
		OwnerID:      "owner-1",
		Title:        title,
		Technologies: []string{"go"},
		Status:       model.ProjectInProgress,
		XPValue:      xp,
	}
}

// =========================================================================
// COLLECTION TESTS
// =========================================================================

func TestCollection_UpsertKeepsPosition(t *testing.T) {
	c := NewCollection(model.Project.Clone)
	c.Upsert(project("a", "first", 10))
	c.Upsert(project("b", "second", 20))
	c.Upsert(project("a", "first v2", 30))

	list := c.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "first v2", list[0].Title)
	assert.Equal(t, 30, list[0].XPValue)
	assert.Equal(t, "b", list[1].ID)
}

func TestCollection_RemoveIsIdempotent(t *testing.T) {
	c := NewCollection(model.Project.Clone)
	c.Upsert(project("a", "first", 10))

	removed, ok := c.Remove("a")
	require.True(t, ok)
	assert.Equal(t, "first", removed.Title)

	_, ok = c.Remove("a")
	assert.False(t, ok, "second remove should report absence")
	assert.Empty(t, c.List())
}

func TestCollection_ReplaceAllAdoptsOrder(t *testing.T) {
	c := NewCollection(model.Project.Clone)
	c.Upsert(project("stale", "gone after refresh", 1))

	c.ReplaceAll([]model.Project{project("z", "z", 1), project("y", "y", 2)})

	list := c.List()
	require.Len(t, list, 2)
	assert.Equal(t, "z", list[0].ID)
	assert.Equal(t, "y", list[1].ID)
	_, ok := c.Get("stale")
	assert.False(t, ok)
}

func TestCollection_ReadsAreIsolated(t *testing.T) {
	c := NewCollection(model.Project.Clone)
	c.Upsert(project("a", "first", 10))

	got, ok := c.Get("a")
	require.True(t, ok)
	got.Technologies[0] = "rust"

	again, _ := c.Get("a")
	assert.Equal(t, "go", again.Technologies[0], "mutating a read copy must not reach the store")
}

func TestCollection_First(t *testing.T) {
	c := NewCollection[model.PortfolioProfile](nil)
	_, ok := c.First()
	assert.False(t, ok)

	c.Upsert(model.PortfolioProfile{ID: "p1", UserID: "owner-1"})
	p, ok := c.First()
	require.True(t, ok)
	assert.Equal(t, "p1", p.ID)
}

// TestCollection_LastWriteWins drives random upsert/remove sequences and
// checks the collection against a trivially correct model: List never holds
// a removed id and always holds the latest value for a surviving id.
func TestCollection_LastWriteWins(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))

	for round := 0; round < 50; round++ {
		c := NewCollection(model.Project.Clone)
		want := map[string]model.Project{}

		for step := 0; step < 200; step++ {
			id := fmt.Sprintf("p%d", rng.IntN(8))
			if rng.IntN(3) == 0 {
				c.Remove(id)
				delete(want, id)
				continue
			}
			p := project(id, fmt.Sprintf("v%d", step), rng.IntN(500))
			c.Upsert(p)
			want[id] = p
		}

		list := c.List()
		require.Len(t, list, len(want), "round %d", round)
		for _, p := range list {
			expected, ok := want[p.ID]
			require.True(t, ok, "round %d: removed id %s still listed", round, p.ID)
			assert.Equal(t, expected, p, "round %d", round)
		}
	}
}

// =========================================================================
// STORE TESTS
// =========================================================================

func TestStore_ApplyRoutesByCollection(t *testing.T) {
	s := New()

	require.NoError(t, s.Apply(model.Change{
		Kind:       model.ChangeInsert,
		Collection: model.CollectionProjects,
		ID:         "a",
		Entity:     project("a", "pushed", 40),
	}))
	got, ok := s.Get(model.CollectionProjects, "a")
	require.True(t, ok)
	assert.Equal(t, "pushed", got.(model.Project).Title)

	require.NoError(t, s.Apply(model.Change{
		Kind:       model.ChangeDelete,
		Collection: model.CollectionProjects,
		ID:         "a",
	}))
	assert.Equal(t, 0, s.Projects.Len())
}

func TestStore_ApplyDeleteOfAbsentIDIsNoop(t *testing.T) {
	s := New()
	s.Projects.Upsert(project("keep", "keep", 5))
	before := s.Projects.List()

	require.NoError(t, s.Apply(model.Change{
		Kind:       model.ChangeDelete,
		Collection: model.CollectionProjects,
		ID:         "already-gone",
	}))
	assert.Equal(t, before, s.Projects.List())
}

func TestStore_ApplyRejectsMismatchedEntity(t *testing.T) {
	s := New()
	err := s.Apply(model.Change{
		Kind:       model.ChangeUpdate,
		Collection: model.CollectionBadges,
		ID:         "a",
		Entity:     project("a", "not a badge", 1),
	})
	assert.Error(t, err)
	assert.Equal(t, 0, s.Badges.Len())
}

func TestStore_ApplyRejectsUnknownKind(t *testing.T) {
	s := New()
	err := s.Apply(model.Change{Kind: "upsert", Collection: model.CollectionProjects, ID: "a"})
	assert.Error(t, err)
}

func TestStore_Reset(t *testing.T) {
	s := New()
	now := time.Now()
	s.Projects.Upsert(project("a", "a", 1))
	s.Badges.Upsert(model.Badge{ID: "b", UserID: "owner-1", Unlocked: true, UnlockedAt: &now})
	s.Stats.Upsert(model.GamificationStats{ID: "s", UserID: "owner-1", TotalXP: 10})

	s.Reset()

	assert.Equal(t, 0, s.Projects.Len())
	assert.Equal(t, 0, s.Badges.Len())
	assert.Equal(t, 0, s.Stats.Len())
}

// =========================================================================
// VERSION & RESTORE
// =========================================================================

func TestCollection_VersionCountsChangingWrites(t *testing.T) {
	c := NewCollection(model.Project.Clone)
	v0 := c.Version()

	c.Upsert(project("a", "first", 10))
	v1 := c.Version()
	assert.Greater(t, v1, v0)

	// A title-only edit changes no aggregate but is still a write.
	c.Upsert(project("a", "renamed", 10))
	v2 := c.Version()
	assert.Greater(t, v2, v1)

	c.Remove("missing")
	assert.Equal(t, v2, c.Version(), "removing an absent id changes nothing")

	c.Remove("a")
	assert.Greater(t, c.Version(), v2)
}

func TestStore_VersionSeesEveryCollection(t *testing.T) {
	s := New()
	v0 := s.Version()
	s.Challenges.Upsert(model.WeeklyChallenge{ID: "c1", UserID: "owner-1", Title: "old"})
	v1 := s.Version()
	assert.Greater(t, v1, v0)

	s.Reset()
	assert.Greater(t, s.Version(), v1)
}

func TestCollection_RestoreKeepsPosition(t *testing.T) {
	c := NewCollection(model.Project.Clone)
	c.Upsert(project("a", "first", 10))
	c.Upsert(project("b", "second", 20))
	c.Upsert(project("c", "third", 30))

	i := c.Index("b")
	require.Equal(t, 1, i)
	removed, ok := c.Remove("b")
	require.True(t, ok)
	assert.Equal(t, -1, c.Index("b"))

	c.Restore(i, removed)
	list := c.List()
	require.Len(t, list, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{list[0].ID, list[1].ID, list[2].ID})

	// Out of range appends; an existing id is replaced in place.
	c.Restore(99, project("d", "fourth", 0))
	c.Restore(0, project("c", "third v2", 30))
	list = c.List()
	require.Len(t, list, 4)
	assert.Equal(t, "d", list[3].ID)
	assert.Equal(t, "c", list[2].ID)
	assert.Equal(t, "third v2", list[2].Title)
}
