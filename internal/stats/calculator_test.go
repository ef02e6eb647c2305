package stats

import (
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/progress-tracker/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestComputeLevel(t *testing.T) {
	tests := []struct {
		xp   int
		want int
	}{
		{0, 1},
		{1, 1},
		{999, 1},
		{1000, 2},
		{1999, 2},
		{2000, 3},
		{12345, 13},
		{-50, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ComputeLevel(tt.xp), "ComputeLevel(%d)", tt.xp)
	}
}

func TestComputeLevel_Monotonic(t *testing.T) {
	prev := ComputeLevel(0)
	for xp := 1; xp <= 25000; xp++ {
		got := ComputeLevel(xp)
		require.GreaterOrEqual(t, got, prev, "level dropped at xp=%d", xp)
		require.Equal(t, xp/1000+1, got)
		prev = got
	}
}

func TestComputeProgressToNextLevel(t *testing.T) {
	assert.Equal(t, 0.0, ComputeProgressToNextLevel(0))
	assert.Equal(t, 50.0, ComputeProgressToNextLevel(500))
	assert.Equal(t, 0.0, ComputeProgressToNextLevel(1000))
	assert.InDelta(t, 99.9, ComputeProgressToNextLevel(1999), 0.0001)

	for xp := 0; xp < 5000; xp += 37 {
		p := ComputeProgressToNextLevel(xp)
		require.GreaterOrEqual(t, p, 0.0)
		require.Less(t, p, 100.0)
	}
}

func TestComputeProfileStats(t *testing.T) {
	projects := []model.Project{
		{ID: "a", XPValue: 100},
		{ID: "b", XPValue: 0},
		{ID: "c", XPValue: 250},
	}
	assert.Equal(t, ProfileStats{TotalProjects: 3, TotalXP: 350}, ComputeProfileStats(projects))
	assert.Equal(t, ProfileStats{}, ComputeProfileStats(nil))
}

func TestCompute_Idempotent(t *testing.T) {
	now := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	in := Inputs{
		Projects: []model.Project{{ID: "a", XPValue: 40}},
		Stats:    model.GamificationStats{TotalXP: 1500, StreakDays: 3},
		Goals: []model.DailyGoal{
			{ID: "g1", Status: model.GoalCompleted, CompletedAt: &now},
			{ID: "g2", Status: model.GoalPending},
		},
		Badges: []model.Badge{{ID: "b1", Unlocked: true}, {ID: "b2"}},
	}

	first := Compute(in)
	second := Compute(in)
	assert.Equal(t, first, second)
	assert.True(t, first == second, "Derived must be comparable for change detection")

	assert.Equal(t, 2, first.Level)
	assert.Equal(t, 50.0, first.ProgressToNextLevel)
	assert.Equal(t, 1, first.CompletedGoals)
	assert.Equal(t, 1, first.PendingGoals)
	assert.Equal(t, 1, first.UnlockedBadges)
	assert.Equal(t, ProfileStats{TotalProjects: 1, TotalXP: 40}, first.Profile)
}

func TestAggregatesFrom_EarlyCompletions(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	early := time.Date(2026, 10, 19, 6, 30, 0, 0, time.UTC)  // 08:30 local
	late := time.Date(2026, 10, 19, 7, 30, 0, 0, time.UTC)   // 09:30 local

	goals := []model.DailyGoal{
		{ID: "a", Status: model.GoalCompleted, CompletedAt: &early},
		{ID: "b", Status: model.GoalCompleted, CompletedAt: &late},
		{ID: "c", Status: model.GoalPending},
	}
	agg := AggregatesFrom(model.GamificationStats{TotalXP: 80, StreakDays: 2}, goals, DefaultEarlyHour, loc)

	assert.Equal(t, Aggregates{TotalXP: 80, StreakDays: 2, CompletedGoals: 2, EarlyCompletions: 1}, agg)
}

// =========================================================================
// BADGE ELIGIBILITY
// =========================================================================

func TestEligibleBadges(t *testing.T) {
	badges := CatalogBadges("owner-1")
	require.Len(t, badges, len(Catalog))

	got := EligibleBadges(badges, Aggregates{TotalXP: 75})
	require.Len(t, got, 1)
	assert.Equal(t, "quick_starter", got[0].BadgeID)

	got = EligibleBadges(badges, Aggregates{TotalXP: 74})
	assert.Empty(t, got)

	got = EligibleBadges(badges, Aggregates{TotalXP: 600, StreakDays: 7, EarlyCompletions: 1})
	assert.Len(t, got, 4)
}

func TestEligibleBadges_NeverRefiresUnlocked(t *testing.T) {
	unlockedAt := time.Now()
	badges := []model.Badge{
		{ID: "1", BadgeID: "quick_starter", Unlocked: true, UnlockedAt: &unlockedAt},
		{ID: "2", BadgeID: "xp_master"},
	}
	got := EligibleBadges(badges, Aggregates{TotalXP: 1000})
	require.Len(t, got, 1)
	assert.Equal(t, "xp_master", got[0].BadgeID)

	// Predicate false again: nothing is returned, and nothing could re-lock.
	assert.Empty(t, EligibleBadges(badges, Aggregates{TotalXP: 0}))
}

func TestCatalog_EarlyBirdNamesNoHour(t *testing.T) {
	rule, ok := RuleFor("early_bird")
	require.True(t, ok)
	assert.NotRegexp(t, `\d`, rule.Description, "the hour depends on client config")
}

func TestEligibleBadges_IgnoresUnknownCatalogKeys(t *testing.T) {
	badges := []model.Badge{{ID: "1", BadgeID: "retired_badge"}}
	assert.Empty(t, EligibleBadges(badges, Aggregates{TotalXP: 99999}))
}

// =========================================================================
// RECOMPUTER
// =========================================================================

func TestRecomputer_CoalescesTriggers(t *testing.T) {
	var computes atomic.Int32
	r := NewRecomputer(func() Derived {
		computes.Add(1)
		return Derived{TotalXP: 10}
	}, nil, discardLogger())

	for i := 0; i < 100; i++ {
		r.Trigger()
	}
	r.Flush()

	assert.Equal(t, int32(1), computes.Load(), "a burst of triggers must collapse into one pass")
	assert.Equal(t, 1, r.Passes())
}

func TestRecomputer_SuppressesUnchangedResults(t *testing.T) {
	xp := 0
	var published []Derived
	r := NewRecomputer(func() Derived {
		return Compute(Inputs{Stats: model.GamificationStats{TotalXP: xp}})
	}, func(d Derived) {
		published = append(published, d)
	}, discardLogger())

	r.Flush()
	r.Flush()
	require.Len(t, published, 1)

	xp = 1000
	r.Flush()
	require.Len(t, published, 2)
	assert.Equal(t, 2, published[1].Level)

	r.Reset()
	r.Flush()
	assert.Len(t, published, 3, "after Reset the next pass publishes even if unchanged")
}

func TestRecomputer_PublishesWhenVersionMoves(t *testing.T) {
	var version uint64 = 1
	var published []Derived
	r := NewRecomputer(func() Derived {
		return Derived{Level: 1}
	}, func(d Derived) {
		published = append(published, d)
	}, discardLogger())
	r.TrackVersion(func() uint64 { return version })

	r.Flush()
	r.Flush()
	require.Len(t, published, 1)

	// Same derived stats, but an entity was written.
	version++
	r.Flush()
	assert.Len(t, published, 2)

	r.Flush()
	assert.Len(t, published, 2)
}

func TestRecomputer_BackgroundWorker(t *testing.T) {
	var published atomic.Int32
	r := NewRecomputer(func() Derived {
		return Derived{Level: 1}
	}, func(Derived) {
		published.Add(1)
	}, discardLogger())
	r.Start()
	defer r.Stop()

	r.Trigger()
	require.Eventually(t, func() bool { return r.Passes() >= 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), published.Load())
}

func TestRecomputer_StopIsIdempotent(t *testing.T) {
	r := NewRecomputer(func() Derived { return Derived{} }, nil, discardLogger())
	r.Start()
	r.Stop()
	r.Stop()
}
