package model

import "time"

// GamificationStats holds the owner's XP, level and streak.
// StreakDays is maintained outside this system and is read-only here.
type GamificationStats struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	TotalXP          int       `json:"total_xp"`
	Level            int       `json:"level"`
	StreakDays       int       `json:"streak_days"`
	LastActivityDate time.Time `json:"last_activity_date,omitzero"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (s GamificationStats) EntityID() string    { return s.ID }
func (s GamificationStats) EntityOwner() string { return s.UserID }

// GoalStatus is the state of a daily goal. pending -> completed happens once.
type GoalStatus string

const (
	GoalPending   GoalStatus = "pending"
	GoalCompleted GoalStatus = "completed"
)

// DailyGoal is created once per day by the scheduler and completed by the owner.
type DailyGoal struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	RewardXP    int        `json:"reward_xp"`
	Status      GoalStatus `json:"status"`
	GoalDate    time.Time  `json:"goal_date"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (g DailyGoal) EntityID() string    { return g.ID }
func (g DailyGoal) EntityOwner() string { return g.UserID }

// GoalCompletion is the authoritative result of completing a goal: the goal
// and the stats row are written together, so they are returned together.
type GoalCompletion struct {
	Goal  DailyGoal         `json:"goal"`
	Stats GamificationStats `json:"stats"`
}

// Badge is one entry of the owner's badge catalog.
// Unlocked only ever moves false -> true.
type Badge struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	BadgeID     string     `json:"badge_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Icon        string     `json:"icon"`
	XPValue     int        `json:"xp_value"`
	Unlocked    bool       `json:"unlocked"`
	UnlockedAt  *time.Time `json:"unlocked_at,omitempty"`
}

func (b Badge) EntityID() string    { return b.ID }
func (b Badge) EntityOwner() string { return b.UserID }

// ChallengeStatus is the state of a weekly challenge. completed and expired
// are terminal.
type ChallengeStatus string

const (
	ChallengeActive    ChallengeStatus = "active"
	ChallengeCompleted ChallengeStatus = "completed"
	ChallengeExpired   ChallengeStatus = "expired"
)

// WeeklyChallenge is a progress-towards-target challenge with a deadline.
type WeeklyChallenge struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	RewardXP       int             `json:"reward_xp"`
	Progress       int             `json:"progress"`
	TargetProgress int             `json:"target_progress"`
	Deadline       time.Time       `json:"deadline"`
	Status         ChallengeStatus `json:"status"`
}

func (c WeeklyChallenge) EntityID() string    { return c.ID }
func (c WeeklyChallenge) EntityOwner() string { return c.UserID }

// Resolve returns the status the challenge should have at now.
// Terminal statuses are returned unchanged.
func (c WeeklyChallenge) Resolve(now time.Time) ChallengeStatus {
	if c.Status == ChallengeCompleted || c.Status == ChallengeExpired {
		return c.Status
	}
	if c.Progress >= c.TargetProgress {
		return ChallengeCompleted
	}
	if !c.Deadline.IsZero() && now.After(c.Deadline) {
		return ChallengeExpired
	}
	return ChallengeActive
}

// LeaderboardEntry is one row of the XP leaderboard.
type LeaderboardEntry struct {
	Rank        int    `json:"rank"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	TotalXP     int    `json:"total_xp"`
	Level       int    `json:"level"`
}
