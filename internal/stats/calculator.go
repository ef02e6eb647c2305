// Package stats derives aggregate values from the entity store.
//
// Everything in calculator.go and badges.go is a pure function of its
// arguments: calling it twice on unchanged input returns identical output.
// Snapshot publishers rely on that to suppress re-renders when nothing moved.
package stats

import (
	"time"

	"github.com/sakif/progress-tracker/internal/model"
)

// XPPerLevel is the fixed level threshold.
const XPPerLevel = 1000

// ProfileStats are the PortfolioProfile aggregates derived from projects.
type ProfileStats struct {
	TotalProjects int `json:"total_projects"`
	TotalXP       int `json:"total_xp"`
}

// ComputeProfileStats counts projects and sums their xp_value.
func ComputeProfileStats(projects []model.Project) ProfileStats {
	ps := ProfileStats{TotalProjects: len(projects)}
	for _, p := range projects {
		ps.TotalXP += p.XPValue
	}
	return ps
}

// ComputeLevel returns floor(totalXP/1000)+1. Negative input is treated as 0.
func ComputeLevel(totalXP int) int {
	if totalXP < 0 {
		totalXP = 0
	}
	return totalXP/XPPerLevel + 1
}

// ComputeProgressToNextLevel returns how far totalXP is into its current
// level as a percentage in [0, 100).
func ComputeProgressToNextLevel(totalXP int) float64 {
	if totalXP < 0 {
		totalXP = 0
	}
	return float64(totalXP%XPPerLevel) / XPPerLevel * 100
}

// Inputs is the slice of the store the calculator reads.
type Inputs struct {
	Projects []model.Project
	Stats    model.GamificationStats
	Goals    []model.DailyGoal
	Badges   []model.Badge
}

// Derived is every derived value the UI projection shows. It is comparable,
// so publishers can skip an unchanged result with ==.
type Derived struct {
	Profile             ProfileStats `json:"profile"`
	TotalXP             int          `json:"total_xp"`
	Level               int          `json:"level"`
	ProgressToNextLevel float64      `json:"progress_to_next_level"`
	StreakDays          int          `json:"streak_days"`
	CompletedGoals      int          `json:"completed_goals"`
	PendingGoals        int          `json:"pending_goals"`
	UnlockedBadges      int          `json:"unlocked_badges"`
	// Rank is the owner's leaderboard position, filled in by the caller
	// because it comes from the server. 0 means unknown.
	Rank int `json:"rank,omitempty"`
}

// Compute derives every aggregate from in.
func Compute(in Inputs) Derived {
	d := Derived{
		Profile:             ComputeProfileStats(in.Projects),
		TotalXP:             in.Stats.TotalXP,
		Level:               ComputeLevel(in.Stats.TotalXP),
		ProgressToNextLevel: ComputeProgressToNextLevel(in.Stats.TotalXP),
		StreakDays:          in.Stats.StreakDays,
	}
	for _, g := range in.Goals {
		if g.Status == model.GoalCompleted {
			d.CompletedGoals++
		} else {
			d.PendingGoals++
		}
	}
	for _, b := range in.Badges {
		if b.Unlocked {
			d.UnlockedBadges++
		}
	}
	return d
}

// Aggregates are the values badge predicates are evaluated against.
type Aggregates struct {
	TotalXP          int
	StreakDays       int
	CompletedGoals   int
	EarlyCompletions int
}

// AggregatesFrom builds badge aggregates. A goal counts as an early
// completion when its completed_at, in loc, falls before earlyHour.
func AggregatesFrom(s model.GamificationStats, goals []model.DailyGoal, earlyHour int, loc *time.Location) Aggregates {
	if loc == nil {
		loc = time.Local
	}
	agg := Aggregates{TotalXP: s.TotalXP, StreakDays: s.StreakDays}
	for _, g := range goals {
		if g.Status != model.GoalCompleted {
			continue
		}
		agg.CompletedGoals++
		if g.CompletedAt != nil && g.CompletedAt.In(loc).Hour() < earlyHour {
			agg.EarlyCompletions++
		}
	}
	return agg
}
