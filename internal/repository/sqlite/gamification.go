package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/progress-tracker/internal/apperror"
	"github.com/sakif/progress-tracker/internal/model"
	"github.com/sakif/progress-tracker/internal/repository"
	"github.com/sakif/progress-tracker/internal/stats"
)

const (
	selectStats = `SELECT id, user_id, total_xp, level, streak_days, last_activity_date, updated_at
		FROM gamification_stats`
	selectGoal = `SELECT id, user_id, title, description, reward_xp, status, goal_date, completed_at
		FROM daily_goals`
	selectBadge = `SELECT id, user_id, badge_id, title, description, icon, xp_value, unlocked, unlocked_at
		FROM badges`
	selectChallenge = `SELECT id, user_id, title, description, reward_xp, progress, target_progress, deadline, status
		FROM weekly_challenges`
)

// GetStats returns the owner's gamification row.
func (db *DB) GetStats(ctx context.Context, ownerID string) (*model.GamificationStats, error) {
	s, err := scanStats(db.conn.QueryRowContext(ctx, selectStats+` WHERE user_id = ?`, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("gamification_stats", ownerID)
	}
	return s, err
}

// ListGoals returns the owner's daily goals, newest day first.
func (db *DB) ListGoals(ctx context.Context, ownerID string) ([]model.DailyGoal, error) {
	rows, err := db.conn.QueryContext(ctx,
		selectGoal+` WHERE user_id = ? ORDER BY goal_date DESC, id ASC`, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing goals for %s: %w", ownerID, decodeErr(err))
	}
	defer rows.Close()

	goals := []model.DailyGoal{}
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		goals = append(goals, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating goals: %w", decodeErr(err))
	}
	return goals, nil
}

// CompleteGoal marks a pending goal completed and credits the goal's
// reward to the owner's stats in one transaction. The XP credited is the
// reward_xp stored on the goal row; rewardXP is the caller's view of it and
// must match, so a client can not choose its own reward. The goal
// transition is conditional on status = 'pending', so a second completion
// finds no row to update and returns the current state with awarded ==
// false.
func (db *DB) CompleteGoal(ctx context.Context, ownerID, goalID string, rewardXP int, at time.Time) (*model.GoalCompletion, bool, error) {
	if rewardXP < 0 {
		return nil, false, apperror.ValidationFailed("reward_xp", "reward XP must not be negative")
	}
	at = at.UTC()

	var result model.GoalCompletion
	awarded := false
	err := db.withinTx(ctx, func(tx *sql.Tx) error {
		if err := ownership(ctx, tx, "daily_goals", "user_id", "daily goal", goalID, ownerID); err != nil {
			return err
		}
		var reward int
		if err := tx.QueryRowContext(ctx,
			`SELECT reward_xp FROM daily_goals WHERE id = ?`, goalID,
		).Scan(&reward); err != nil {
			return fmt.Errorf("sqlite: reading reward of goal %s: %w", goalID, decodeErr(err))
		}
		if reward != rewardXP {
			return apperror.ValidationFailed("reward_xp",
				fmt.Sprintf("reward XP %d does not match the goal's reward of %d", rewardXP, reward))
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE daily_goals SET status = ?, completed_at = ?
			 WHERE id = ? AND user_id = ? AND status = ?`,
			model.GoalCompleted, at, goalID, ownerID, model.GoalPending,
		)
		if err != nil {
			return fmt.Errorf("sqlite: completing goal %s: %w", goalID, decodeErr(err))
		}
		n, err := rowsAffected(res)
		if err != nil {
			return err
		}
		awarded = n > 0

		if awarded {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO gamification_stats (id, user_id, total_xp, level, streak_days, updated_at)
				 VALUES (?, ?, 0, ?, 0, ?)`,
				xid.New().String(), ownerID, stats.ComputeLevel(0), at,
			); err != nil {
				return fmt.Errorf("sqlite: seeding stats for %s: %w", ownerID, decodeErr(err))
			}

			var current int
			if err := tx.QueryRowContext(ctx,
				`SELECT total_xp FROM gamification_stats WHERE user_id = ?`, ownerID,
			).Scan(&current); err != nil {
				return fmt.Errorf("sqlite: reading XP for %s: %w", ownerID, decodeErr(err))
			}
			total := current + reward
			if _, err := tx.ExecContext(ctx,
				`UPDATE gamification_stats SET total_xp = ?, level = ?, last_activity_date = ?, updated_at = ?
				 WHERE user_id = ?`,
				total, stats.ComputeLevel(total), at, at, ownerID,
			); err != nil {
				return fmt.Errorf("sqlite: crediting XP to %s: %w", ownerID, decodeErr(err))
			}
		}

		g, err := scanGoal(tx.QueryRowContext(ctx, selectGoal+` WHERE id = ?`, goalID))
		if err != nil {
			return err
		}
		result.Goal = *g

		s, err := scanStats(tx.QueryRowContext(ctx, selectStats+` WHERE user_id = ?`, ownerID))
		if errors.Is(err, sql.ErrNoRows) {
			result.Stats = model.GamificationStats{UserID: ownerID, Level: stats.ComputeLevel(0)}
			return nil
		}
		if err != nil {
			return err
		}
		result.Stats = *s
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if awarded {
		db.publisher.Publish(ownerID, model.Change{Kind: model.ChangeUpdate, Collection: model.CollectionGoals, ID: result.Goal.ID, Entity: result.Goal})
		db.publisher.Publish(ownerID, model.Change{Kind: model.ChangeUpdate, Collection: model.CollectionStats, ID: result.Stats.ID, Entity: result.Stats})
	}
	return &result, awarded, nil
}

// ListBadges returns the owner's badge catalog rows.
func (db *DB) ListBadges(ctx context.Context, ownerID string) ([]model.Badge, error) {
	rows, err := db.conn.QueryContext(ctx, selectBadge+` WHERE user_id = ? ORDER BY rowid ASC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing badges for %s: %w", ownerID, decodeErr(err))
	}
	defer rows.Close()

	badges := []model.Badge{}
	for rows.Next() {
		b, err := scanBadge(rows)
		if err != nil {
			return nil, err
		}
		badges = append(badges, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating badges: %w", decodeErr(err))
	}
	return badges, nil
}

// UnlockBadge flips a locked badge to unlocked. The update is conditional on
// unlocked = 0, so concurrent evaluators produce exactly one transition.
func (db *DB) UnlockBadge(ctx context.Context, ownerID, id string, at time.Time) (*model.Badge, bool, error) {
	var badge *model.Badge
	unlocked := false
	err := db.withinTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE badges SET unlocked = 1, unlocked_at = ? WHERE id = ? AND user_id = ? AND unlocked = 0`,
			at.UTC(), id, ownerID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: unlocking badge %s: %w", id, decodeErr(err))
		}
		n, err := rowsAffected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			if err := ownership(ctx, tx, "badges", "user_id", "badge", id, ownerID); err != nil {
				return err
			}
		}
		unlocked = n > 0

		badge, err = scanBadge(tx.QueryRowContext(ctx, selectBadge+` WHERE id = ?`, id))
		return err
	})
	if err != nil {
		return nil, false, err
	}

	if unlocked {
		db.publisher.Publish(ownerID, model.Change{Kind: model.ChangeUpdate, Collection: model.CollectionBadges, ID: badge.ID, Entity: *badge})
	}
	return badge, unlocked, nil
}

// ListChallenges returns the owner's weekly challenges, latest deadline first.
func (db *DB) ListChallenges(ctx context.Context, ownerID string) ([]model.WeeklyChallenge, error) {
	rows, err := db.conn.QueryContext(ctx,
		selectChallenge+` WHERE user_id = ? ORDER BY deadline DESC, id ASC`, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing challenges for %s: %w", ownerID, decodeErr(err))
	}
	defer rows.Close()

	challenges := []model.WeeklyChallenge{}
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, err
		}
		challenges = append(challenges, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating challenges: %w", decodeErr(err))
	}
	return challenges, nil
}

// UpdateChallenge records progress on an active challenge.
//
// Only c.Progress is taken from the caller. The status is decided here from
// the stored row: progress written after the deadline is not counted and
// the challenge expires; reaching the target completes it. Progress can
// only grow, and terminal challenges can not be moved: the write fails
// with Conflict. On success c holds the stored row.
func (db *DB) UpdateChallenge(ctx context.Context, c *model.WeeklyChallenge) error {
	if c.Progress < 0 {
		return apperror.ValidationFailed("progress", "progress must not be negative")
	}
	now := db.now()

	err := db.withinTx(ctx, func(tx *sql.Tx) error {
		if err := ownership(ctx, tx, "weekly_challenges", "user_id", "weekly challenge", c.ID, c.UserID); err != nil {
			return err
		}
		current, err := scanChallenge(tx.QueryRowContext(ctx, selectChallenge+` WHERE id = ?`, c.ID))
		if err != nil {
			return err
		}
		if current.Status != model.ChallengeActive {
			return apperror.Conflict("weekly challenge", c.ID)
		}
		if c.Progress < current.Progress {
			return apperror.ValidationFailed("progress",
				fmt.Sprintf("progress can not go back from %d to %d", current.Progress, c.Progress))
		}

		next := *current
		if current.Resolve(now) == model.ChallengeExpired {
			next.Status = model.ChallengeExpired
		} else {
			next.Progress = c.Progress
			next.Status = next.Resolve(now)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE weekly_challenges SET progress = ?, status = ?
			 WHERE id = ? AND user_id = ? AND status = ?`,
			next.Progress, next.Status, c.ID, c.UserID, model.ChallengeActive,
		)
		if err != nil {
			return fmt.Errorf("sqlite: updating challenge %s: %w", c.ID, decodeErr(err))
		}
		n, err := rowsAffected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return apperror.Conflict("weekly challenge", c.ID)
		}

		stored, err := scanChallenge(tx.QueryRowContext(ctx, selectChallenge+` WHERE id = ?`, c.ID))
		if err != nil {
			return err
		}
		*c = *stored
		return nil
	})
	if err != nil {
		return err
	}

	db.publisher.Publish(c.UserID, model.Change{Kind: model.ChangeUpdate, Collection: model.CollectionChallenges, ID: c.ID, Entity: *c})
	return nil
}

// Leaderboard returns owners ordered by total XP. Equal XP shares a rank and
// the next distinct XP skips ahead (1, 2, 2, 4).
func (db *DB) Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = repository.DefaultLeaderboardLimit
	}
	if limit > repository.MaxLeaderboardLimit {
		limit = repository.MaxLeaderboardLimit
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT s.user_id, COALESCE(p.display_name, ''), s.total_xp, s.level
		 FROM gamification_stats s
		 LEFT JOIN portfolios p ON p.user_id = s.user_id
		 ORDER BY s.total_xp DESC, s.user_id ASC
		 LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: reading leaderboard: %w", decodeErr(err))
	}
	defer rows.Close()

	entries := []model.LeaderboardEntry{}
	for rows.Next() {
		var e model.LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.DisplayName, &e.TotalXP, &e.Level); err != nil {
			return nil, fmt.Errorf("sqlite: scanning leaderboard row: %w", decodeErr(err))
		}
		e.Rank = len(entries) + 1
		if prev := len(entries) - 1; prev >= 0 && entries[prev].TotalXP == e.TotalXP {
			e.Rank = entries[prev].Rank
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating leaderboard: %w", decodeErr(err))
	}
	return entries, nil
}

func scanStats(s rowScanner) (*model.GamificationStats, error) {
	var st model.GamificationStats
	var last sql.NullTime
	err := s.Scan(&st.ID, &st.UserID, &st.TotalXP, &st.Level, &st.StreakDays, &last, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: scanning stats: %w", decodeErr(err))
	}
	if last.Valid {
		st.LastActivityDate = last.Time
	}
	return &st, nil
}

func scanGoal(s rowScanner) (*model.DailyGoal, error) {
	var g model.DailyGoal
	var day string
	var completed sql.NullTime
	err := s.Scan(&g.ID, &g.UserID, &g.Title, &g.Description, &g.RewardXP, &g.Status, &day, &completed)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scanning goal: %w", decodeErr(err))
	}
	if g.GoalDate, err = time.Parse(goalDateLayout, day); err != nil {
		return nil, fmt.Errorf("sqlite: parsing goal date %q: %w", day, err)
	}
	g.CompletedAt = nullTime(completed)
	return &g, nil
}

func scanBadge(s rowScanner) (*model.Badge, error) {
	var b model.Badge
	var unlockedAt sql.NullTime
	err := s.Scan(&b.ID, &b.UserID, &b.BadgeID, &b.Title, &b.Description, &b.Icon, &b.XPValue, &b.Unlocked, &unlockedAt)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scanning badge: %w", decodeErr(err))
	}
	b.UnlockedAt = nullTime(unlockedAt)
	return &b, nil
}

func scanChallenge(s rowScanner) (*model.WeeklyChallenge, error) {
	var c model.WeeklyChallenge
	err := s.Scan(&c.ID, &c.UserID, &c.Title, &c.Description, &c.RewardXP, &c.Progress, &c.TargetProgress, &c.Deadline, &c.Status)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scanning challenge: %w", decodeErr(err))
	}
	return &c, nil
}
