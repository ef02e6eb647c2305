package repository

import (
	"time"

	"github.com/sakif/progress-tracker/internal/model"
)

// ChallengeLength is how long a seeded weekly challenge runs.
const ChallengeLength = 7 * 24 * time.Hour

// DefaultDailyGoals returns the goals seeded for an owner on day.
func DefaultDailyGoals(ownerID string, day time.Time) []model.DailyGoal {
	templates := []struct {
		title, description string
		reward             int
	}{
		{"Ship something", "Push a commit to any project", 50},
		{"Write it down", "Add an achievement or a note to a project", 25},
		{"Learn one thing", "Try a technology you have not used yet", 25},
	}

	goals := make([]model.DailyGoal, 0, len(templates))
	for _, t := range templates {
		goals = append(goals, model.DailyGoal{
			UserID:      ownerID,
			Title:       t.title,
			Description: t.description,
			RewardXP:    t.reward,
			Status:      model.GoalPending,
			GoalDate:    day,
		})
	}
	return goals
}

// DefaultWeeklyChallenge returns the challenge seeded for an owner that has
// no active one. It runs for ChallengeLength from now.
func DefaultWeeklyChallenge(ownerID string, now time.Time) model.WeeklyChallenge {
	return model.WeeklyChallenge{
		UserID:         ownerID,
		Title:          "Finish strong",
		Description:    "Complete five daily goals this week",
		RewardXP:       200,
		TargetProgress: 5,
		Deadline:       now.Add(ChallengeLength).UTC(),
		Status:         model.ChallengeActive,
	}
}
