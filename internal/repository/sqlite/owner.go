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
	"github.com/sakif/progress-tracker/internal/stats"
)

// goalDateLayout is how daily_goals.goal_date is stored: a calendar day with
// no clock or zone, so "today" means the same thing to every query.
const goalDateLayout = "2006-01-02"

// UpsertOwner inserts or refreshes an owner keyed by GitHub id.
//
// An existing owner keeps their internal id; only the GitHub-sourced profile
// fields (login, email, avatar) are refreshed.
func (db *DB) UpsertOwner(ctx context.Context, o *model.Owner) error {
	var existingID string
	var createdAt time.Time
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, created_at FROM users WHERE github_id = ?`, o.GitHubID,
	).Scan(&existingID, &createdAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("sqlite: looking up owner by github_id %d: %w", o.GitHubID, decodeErr(err))
	}

	now := time.Now().UTC()
	if existingID != "" {
		o.ID = existingID
		o.CreatedAt = createdAt
		o.UpdatedAt = now
		_, err = db.conn.ExecContext(ctx,
			`UPDATE users SET login = ?, email = ?, avatar_url = ?, updated_at = ? WHERE id = ?`,
			o.Login, o.Email, o.AvatarURL, o.UpdatedAt, o.ID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: updating owner %s: %w", o.ID, decodeErr(err))
		}
		return nil
	}

	if o.ID == "" {
		o.ID = xid.New().String()
	}
	o.CreatedAt = now
	o.UpdatedAt = now
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO users (id, github_id, login, email, avatar_url, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.GitHubID, o.Login, o.Email, o.AvatarURL, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting owner (githubID=%d): %w", o.GitHubID, decodeErr(err))
	}
	return nil
}

// GetOwner returns the owner with the given internal id.
func (db *DB) GetOwner(ctx context.Context, id string) (*model.Owner, error) {
	var o model.Owner
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, github_id, login, email, avatar_url, created_at, updated_at
		 FROM users WHERE id = ?`, id,
	).Scan(&o.ID, &o.GitHubID, &o.Login, &o.Email, &o.AvatarURL, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("owner", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting owner %s: %w", id, decodeErr(err))
	}
	return &o, nil
}

// EnsureOwnerRows seeds the profile, the stats row and the locked badge
// catalog. Rows that already exist are left untouched (INSERT OR IGNORE on
// the per-owner unique keys), so calling it on every sign-in is harmless and
// new catalog entries reach existing owners.
func (db *DB) EnsureOwnerRows(ctx context.Context, ownerID, displayName string) error {
	now := time.Now().UTC()
	var changes []model.Change

	err := db.withinTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO portfolios (id, user_id, display_name, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?)`,
			xid.New().String(), ownerID, displayName, now, now,
		)
		if err != nil {
			return fmt.Errorf("sqlite: seeding profile for %s: %w", ownerID, decodeErr(err))
		}
		if n, _ := res.RowsAffected(); n > 0 {
			p, err := scanProfile(tx.QueryRowContext(ctx, selectProfile+` WHERE user_id = ?`, ownerID))
			if err != nil {
				return err
			}
			changes = append(changes, model.Change{Kind: model.ChangeInsert, Collection: model.CollectionProfiles, ID: p.ID, Entity: *p})
		}

		res, err = tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO gamification_stats (id, user_id, total_xp, level, streak_days, updated_at)
			 VALUES (?, ?, 0, ?, 0, ?)`,
			xid.New().String(), ownerID, stats.ComputeLevel(0), now,
		)
		if err != nil {
			return fmt.Errorf("sqlite: seeding stats for %s: %w", ownerID, decodeErr(err))
		}
		if n, _ := res.RowsAffected(); n > 0 {
			s, err := scanStats(tx.QueryRowContext(ctx, selectStats+` WHERE user_id = ?`, ownerID))
			if err != nil {
				return err
			}
			changes = append(changes, model.Change{Kind: model.ChangeInsert, Collection: model.CollectionStats, ID: s.ID, Entity: *s})
		}

		for _, b := range stats.CatalogBadges(ownerID) {
			b.ID = xid.New().String()
			res, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO badges (id, user_id, badge_id, title, description, icon, xp_value, unlocked)
				 VALUES (?, ?, ?, ?, ?, ?, ?, 0)`,
				b.ID, b.UserID, b.BadgeID, b.Title, b.Description, b.Icon, b.XPValue,
			)
			if err != nil {
				return fmt.Errorf("sqlite: seeding badge %s for %s: %w", b.BadgeID, ownerID, decodeErr(err))
			}
			if n, _ := res.RowsAffected(); n > 0 {
				changes = append(changes, model.Change{Kind: model.ChangeInsert, Collection: model.CollectionBadges, ID: b.ID, Entity: b})
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	db.publishAll(ownerID, changes)
	return nil
}

// EnsureDailyGoals inserts goals for date unless the owner already has goals
// on that calendar day.
func (db *DB) EnsureDailyGoals(ctx context.Context, ownerID string, date time.Time, goals []model.DailyGoal) error {
	day := date.Format(goalDateLayout)
	var changes []model.Change

	err := db.withinTx(ctx, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM daily_goals WHERE user_id = ? AND goal_date = ?`, ownerID, day,
		).Scan(&count); err != nil {
			return fmt.Errorf("sqlite: counting goals for %s on %s: %w", ownerID, day, decodeErr(err))
		}
		if count > 0 {
			return nil
		}

		for _, g := range goals {
			if g.ID == "" {
				g.ID = xid.New().String()
			}
			g.UserID = ownerID
			g.Status = model.GoalPending
			g.CompletedAt = nil
			g.GoalDate, _ = time.Parse(goalDateLayout, day)
			_, err := tx.ExecContext(ctx,
				`INSERT INTO daily_goals (id, user_id, title, description, reward_xp, status, goal_date)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				g.ID, g.UserID, g.Title, g.Description, g.RewardXP, g.Status, day,
			)
			if err != nil {
				return fmt.Errorf("sqlite: inserting goal %q: %w", g.Title, decodeErr(err))
			}
			changes = append(changes, model.Change{Kind: model.ChangeInsert, Collection: model.CollectionGoals, ID: g.ID, Entity: g})
		}
		return nil
	})
	if err != nil {
		return err
	}

	db.publishAll(ownerID, changes)
	return nil
}

// EnsureWeeklyChallenge inserts c unless the owner already has an active
// challenge.
func (db *DB) EnsureWeeklyChallenge(ctx context.Context, c *model.WeeklyChallenge) error {
	inserted := false
	err := db.withinTx(ctx, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM weekly_challenges WHERE user_id = ? AND status = ?`,
			c.UserID, model.ChallengeActive,
		).Scan(&count); err != nil {
			return fmt.Errorf("sqlite: counting challenges for %s: %w", c.UserID, decodeErr(err))
		}
		if count > 0 {
			return nil
		}

		if c.ID == "" {
			c.ID = xid.New().String()
		}
		if c.Status == "" {
			c.Status = model.ChallengeActive
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO weekly_challenges (id, user_id, title, description, reward_xp, progress, target_progress, deadline, status)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.UserID, c.Title, c.Description, c.RewardXP, c.Progress, c.TargetProgress, c.Deadline.UTC(), c.Status,
		)
		if err != nil {
			return fmt.Errorf("sqlite: inserting challenge %q: %w", c.Title, decodeErr(err))
		}
		inserted = true
		return nil
	})
	if err != nil {
		return err
	}

	if inserted {
		db.publisher.Publish(c.UserID, model.Change{Kind: model.ChangeInsert, Collection: model.CollectionChallenges, ID: c.ID, Entity: *c})
	}
	return nil
}

func (db *DB) publishAll(ownerID string, changes []model.Change) {
	for _, ch := range changes {
		db.publisher.Publish(ownerID, ch)
	}
}
