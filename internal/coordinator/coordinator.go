// Package coordinator is the Mutation Coordinator: every write the core
// makes goes through here.
//
// Each operation follows the same shape:
//
//  1. fail fast with NotAuthenticated if nobody is signed in, and with a
//     ValidationError if the input is bad; the store is not touched
//  2. apply the change to the entity store optimistically
//  3. issue the remote write
//  4. on success upsert the authoritative entity under the same id; on
//     failure restore what the store held before and surface the error
//
// Steps 2 and 4 only ever touch the store if the session epoch captured in
// step 1 is still current. A result that arrives after the owner changed is
// logged and dropped, never applied to the new owner's store.
//
// After confirmed project changes the coordinator persists the derived
// profile totals back to the remote. That write is secondary: it runs in the
// background, at most one at a time, and its failures are logged only.
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sakif/progress-tracker/internal/apperror"
	"github.com/sakif/progress-tracker/internal/repository"
	"github.com/sakif/progress-tracker/internal/session"
	"github.com/sakif/progress-tracker/internal/stats"
	"github.com/sakif/progress-tracker/internal/store"
)

// DefaultWriteTimeout bounds the background writes the coordinator issues on
// its own (profile totals, badge unlocks from push events).
const DefaultWriteTimeout = 10 * time.Second

// Recompute is the trigger side of the derived-stats recomputer.
type Recompute interface {
	Trigger()
}

// Options tunes a Coordinator. The zero value is usable.
type Options struct {
	// EarlyHour is the local hour before which a completed goal counts for
	// the early-bird badge. Zero selects stats.DefaultEarlyHour.
	EarlyHour int
	// Location is the owner's local time zone. Nil selects time.Local.
	Location *time.Location
	// Now is the clock. Nil selects time.Now.
	Now func() time.Time
	// WriteTimeout bounds background writes. Zero selects DefaultWriteTimeout.
	WriteTimeout time.Duration
}

// Coordinator runs mutations against the store and the remote.
type Coordinator struct {
	store     *store.Store
	remote    repository.Remote
	session   *session.Manager
	recompute Recompute
	logger    *slog.Logger

	earlyHour    int
	loc          *time.Location
	now          func() time.Time
	writeTimeout time.Duration

	// applyMu serializes store writes with the epoch check, so a store reset
	// on owner change can never interleave with a late result being applied.
	applyMu sync.Mutex

	slugs singleflight.Group

	aggregates *serialWorker
	badges     *serialWorker

	unlockMu  sync.Mutex
	unlocking map[string]bool
}

// New creates a Coordinator.
func New(st *store.Store, remote repository.Remote, sess *session.Manager, rec Recompute, logger *slog.Logger, opts Options) *Coordinator {
	if opts.EarlyHour == 0 {
		opts.EarlyHour = stats.DefaultEarlyHour
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}

	c := &Coordinator{
		store:        st,
		remote:       remote,
		session:      sess,
		recompute:    rec,
		logger:       logger,
		earlyHour:    opts.EarlyHour,
		loc:          opts.Location,
		now:          opts.Now,
		writeTimeout: opts.WriteTimeout,
		unlocking:    make(map[string]bool),
	}
	c.aggregates = newSerialWorker(c.persistAggregates)
	c.badges = newSerialWorker(c.evaluateInBackground)
	return c
}

// Apply runs fn against the store if epoch is still the current session
// epoch, and reports whether it ran. Every store write made on behalf of an
// owner (coordinator results, merged push events) goes through here.
func (c *Coordinator) Apply(epoch uint64, fn func(st *store.Store)) bool {
	c.applyMu.Lock()
	defer c.applyMu.Unlock()
	if !c.session.IsCurrent(epoch) {
		return false
	}
	fn(c.store)
	return true
}

// Reset clears the store. It is called on owner change, after the session
// epoch moved, so no late result can land in the cleared store.
func (c *Coordinator) Reset() {
	c.applyMu.Lock()
	defer c.applyMu.Unlock()
	c.store.Reset()
}

// Wait blocks until the background writers are idle. Tests and shutdown use
// it to observe the final state.
func (c *Coordinator) Wait() {
	c.aggregates.Wait()
	c.badges.Wait()
}

// ScheduleBadgeEvaluation requests a background badge evaluation for the
// current owner. Overlapping requests collapse into one follow-up run.
func (c *Coordinator) ScheduleBadgeEvaluation() {
	c.badges.Kick()
}

// begin starts an operation for the current owner, or fails it with
// NotAuthenticated before anything is touched.
func (c *Coordinator) begin(kind Kind, entityID string) (*Operation, session.State, error) {
	op := newOperation(kind)
	op.EntityID = entityID
	s, err := c.session.Require()
	if err != nil {
		return op, s, op.fail(err)
	}
	op.OwnerID = s.OwnerID
	op.Epoch = s.Epoch
	return op, s, nil
}

// optimistic applies fn and moves op to optimistic-applied.
func (c *Coordinator) optimistic(op *Operation, fn func(st *store.Store)) bool {
	if !c.Apply(op.Epoch, fn) {
		op.markDiscarded()
		op.to(StateRolledBack)
		op.fail(apperror.NotAuthenticated())
		return false
	}
	op.to(StateOptimistic)
	c.recompute.Trigger()
	return true
}

// rollback restores the pre-operation state and records err.
func (c *Coordinator) rollback(op *Operation, err error, restore func(st *store.Store)) error {
	err = apperror.Classify(err)
	if !c.Apply(op.Epoch, restore) {
		op.markDiscarded()
		c.logger.Warn("discarding rollback for previous owner",
			slog.String("kind", string(op.Kind)),
			slog.String("id", op.EntityID),
		)
	}
	op.to(StateRolledBack)
	c.recompute.Trigger()
	c.logger.Info("mutation rolled back",
		slog.String("kind", string(op.Kind)),
		slog.String("id", op.EntityID),
		slog.String("error_kind", apperror.Kind(err)),
		slog.String("error", err.Error()),
	)
	return op.fail(err)
}

// confirm applies the authoritative result and moves op to confirmed.
func (c *Coordinator) confirm(op *Operation, fn func(st *store.Store)) {
	if !c.Apply(op.Epoch, fn) {
		op.markDiscarded()
		c.logger.Warn("discarding result for previous owner",
			slog.String("kind", string(op.Kind)),
			slog.String("id", op.EntityID),
			slog.String("owner_id", op.OwnerID),
		)
	}
	op.to(StateConfirmed)
	c.recompute.Trigger()
	c.logger.Info("mutation confirmed",
		slog.String("kind", string(op.Kind)),
		slog.String("id", op.EntityID),
	)
}

// persistAggregates writes the current owner's derived project totals to
// the profile. It runs on the aggregates worker.
func (c *Coordinator) persistAggregates() {
	s := c.session.Current()
	if !s.SignedIn() {
		return
	}

	var totals stats.ProfileStats
	if !c.Apply(s.Epoch, func(st *store.Store) {
		totals = stats.ComputeProfileStats(st.Projects.List())
	}) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
	defer cancel()

	p, err := c.remote.UpdateProfileStats(ctx, s.OwnerID, totals.TotalProjects, totals.TotalXP)
	if err != nil {
		c.logger.Error("failed to persist profile totals",
			slog.String("owner_id", s.OwnerID),
			slog.Int("total_projects", totals.TotalProjects),
			slog.Int("total_xp", totals.TotalXP),
			slog.String("error", err.Error()),
		)
		return
	}

	if !c.Apply(s.Epoch, func(st *store.Store) { st.Profiles.Upsert(*p) }) {
		c.logger.Warn("discarding profile totals for previous owner", slog.String("owner_id", s.OwnerID))
		return
	}
	c.recompute.Trigger()
}
