package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sakif/progress-tracker/internal/apperror"
	"github.com/sakif/progress-tracker/internal/model"
	"github.com/sakif/progress-tracker/internal/stats"
	"github.com/sakif/progress-tracker/internal/store"
)

// CompleteGoal marks a pending goal completed and credits rewardXP.
//
// Completing a goal that is already completed is a confirmed no-op: no
// remote call, no XP. Otherwise the goal and the stats row are updated
// optimistically (new total, new level), written in one remote call, and
// badge eligibility is evaluated against the new totals.
func (c *Coordinator) CompleteGoal(ctx context.Context, goalID string, rewardXP int) (*model.GoalCompletion, *Operation, error) {
	op, s, err := c.begin(KindCompleteGoal, goalID)
	if err != nil {
		return nil, op, err
	}
	if rewardXP < 0 {
		return nil, op, op.fail(apperror.ValidationFailed("reward_xp", "reward XP must not be negative"))
	}

	var goal model.DailyGoal
	var current model.GamificationStats
	var found, hasStats bool
	c.Apply(op.Epoch, func(st *store.Store) {
		goal, found = st.Goals.Get(goalID)
		current, hasStats = st.Stats.First()
	})
	if !found {
		return nil, op, op.fail(apperror.NotFound("daily goal", goalID))
	}
	if goal.Status == model.GoalCompleted {
		op.markNoOp()
		return &model.GoalCompletion{Goal: goal, Stats: current}, op, nil
	}

	at := c.now().UTC()
	nextGoal := goal
	nextGoal.Status = model.GoalCompleted
	nextGoal.CompletedAt = &at

	nextStats := current
	if hasStats {
		nextStats.TotalXP = current.TotalXP + rewardXP
		nextStats.Level = stats.ComputeLevel(nextStats.TotalXP)
		nextStats.LastActivityDate = at
		nextStats.UpdatedAt = at
	}

	if !c.optimistic(op, func(st *store.Store) {
		st.Goals.Upsert(nextGoal)
		if hasStats {
			st.Stats.Upsert(nextStats)
		}
	}) {
		return nil, op, op.Err()
	}

	result, awarded, err := c.remote.CompleteGoal(ctx, s.OwnerID, goalID, rewardXP, at)
	if err != nil {
		return nil, op, c.rollback(op, err, func(st *store.Store) {
			st.Goals.Upsert(goal)
			if hasStats {
				st.Stats.Upsert(current)
			}
		})
	}
	if !awarded {
		c.logger.Info("goal was already completed remotely",
			slog.String("id", goalID), slog.String("owner_id", s.OwnerID))
	}

	c.confirm(op, func(st *store.Store) {
		st.Goals.Upsert(result.Goal)
		if result.Stats.ID != "" {
			st.Stats.Upsert(result.Stats)
		}
	})

	// Badge checks run against the totals just confirmed, not the ones the
	// goal was completed from.
	if _, err := c.EvaluateBadges(ctx); err != nil {
		c.logger.Error("badge evaluation after goal completion failed",
			slog.String("owner_id", s.OwnerID), slog.String("error", err.Error()))
	}
	return result, op, nil
}

// EvaluateBadges unlocks every locked badge whose predicate holds for the
// current aggregates and returns the badges this call unlocked.
//
// A badge already being unlocked by an overlapping evaluation is skipped;
// the remote additionally only commits false -> true while the row is still
// locked, so two evaluators can never both fire an unlock.
func (c *Coordinator) EvaluateBadges(ctx context.Context) ([]model.Badge, error) {
	s, err := c.session.Require()
	if err != nil {
		return nil, err
	}

	var eligible []model.Badge
	c.Apply(s.Epoch, func(st *store.Store) {
		statsRow, _ := st.Stats.First()
		agg := stats.AggregatesFrom(statsRow, st.Goals.List(), c.earlyHour, c.loc)
		eligible = stats.EligibleBadges(st.Badges.List(), agg)
	})

	var unlocked []model.Badge
	var errs []error
	for _, b := range eligible {
		if !c.claimUnlock(b.ID) {
			continue
		}
		got, ok, err := c.unlockBadge(ctx, s.Epoch, b)
		c.releaseUnlock(b.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("unlock %s: %w", b.BadgeID, err))
			continue
		}
		if ok {
			unlocked = append(unlocked, got)
		}
	}
	return unlocked, errors.Join(errs...)
}

func (c *Coordinator) unlockBadge(ctx context.Context, epoch uint64, b model.Badge) (model.Badge, bool, error) {
	op := newOperation(KindUnlockBadge)
	op.EntityID = b.ID
	op.OwnerID = b.UserID
	op.Epoch = epoch

	at := c.now().UTC()
	next := b
	next.Unlocked = true
	next.UnlockedAt = &at
	if !c.optimistic(op, func(st *store.Store) { st.Badges.Upsert(next) }) {
		return model.Badge{}, false, op.Err()
	}

	got, unlocked, err := c.remote.UnlockBadge(ctx, b.UserID, b.ID, at)
	if err != nil {
		return model.Badge{}, false, c.rollback(op, err, func(st *store.Store) {
			st.Badges.Upsert(b)
		})
	}

	c.confirm(op, func(st *store.Store) { st.Badges.Upsert(*got) })
	if unlocked {
		c.logger.Info("badge unlocked",
			slog.String("badge_id", got.BadgeID), slog.String("owner_id", got.UserID))
	}
	return *got, unlocked, nil
}

func (c *Coordinator) claimUnlock(id string) bool {
	c.unlockMu.Lock()
	defer c.unlockMu.Unlock()
	if c.unlocking[id] {
		return false
	}
	c.unlocking[id] = true
	return true
}

func (c *Coordinator) releaseUnlock(id string) {
	c.unlockMu.Lock()
	defer c.unlockMu.Unlock()
	delete(c.unlocking, id)
}

// evaluateInBackground runs on the badge worker, kicked by push events that
// change XP, streak or goal completion.
func (c *Coordinator) evaluateInBackground() {
	if _, ok := c.session.OwnerID(); !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
	defer cancel()
	if _, err := c.EvaluateBadges(ctx); err != nil {
		c.logger.Error("background badge evaluation failed", slog.String("error", err.Error()))
	}
}

// RecordChallengeProgress adds delta to an active weekly challenge.
//
// The status is resolved after the addition: reaching the target completes
// the challenge. Progress recorded after the deadline is not counted and
// the challenge moves to expired instead. Terminal challenges reject the
// call with Conflict.
func (c *Coordinator) RecordChallengeProgress(ctx context.Context, id string, delta int) (model.WeeklyChallenge, *Operation, error) {
	op, _, err := c.begin(KindChallengeProgress, id)
	if err != nil {
		return model.WeeklyChallenge{}, op, err
	}
	if delta <= 0 {
		return model.WeeklyChallenge{}, op, op.fail(apperror.ValidationFailed("delta", "progress delta must be positive"))
	}

	var before model.WeeklyChallenge
	found := false
	c.Apply(op.Epoch, func(st *store.Store) {
		before, found = st.Challenges.Get(id)
	})
	if !found {
		return model.WeeklyChallenge{}, op, op.fail(apperror.NotFound("weekly challenge", id))
	}
	if before.Status != model.ChallengeActive {
		return before, op, op.fail(apperror.Conflict("weekly challenge", id))
	}

	now := c.now()
	next := before
	if before.Resolve(now) == model.ChallengeExpired {
		next.Status = model.ChallengeExpired
	} else {
		next.Progress += delta
		next.Status = next.Resolve(now)
	}

	if !c.optimistic(op, func(st *store.Store) { st.Challenges.Upsert(next) }) {
		return model.WeeklyChallenge{}, op, op.Err()
	}

	updated := next
	if err := c.remote.UpdateChallenge(ctx, &updated); err != nil {
		return model.WeeklyChallenge{}, op, c.rollback(op, err, func(st *store.Store) {
			st.Challenges.Upsert(before)
		})
	}

	c.confirm(op, func(st *store.Store) { st.Challenges.Upsert(updated) })
	return updated, op, nil
}
