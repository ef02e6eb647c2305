// Package feed is the Change-Feed Adapter: it turns push events into store
// writes.
//
// A push event is applied with the same Upsert/Remove primitives the
// Mutation Coordinator uses, so an event for an id that is already in the
// store lands in the same slot; there is no event-identity dedup. Events for
// an id with an optimistic mutation in flight are applied anyway: the remote
// is authoritative, and a brief flicker is accepted.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sakif/progress-tracker/internal/apperror"
	"github.com/sakif/progress-tracker/internal/model"
	"github.com/sakif/progress-tracker/internal/realtime"
	"github.com/sakif/progress-tracker/internal/session"
	"github.com/sakif/progress-tracker/internal/store"
)

// Source opens a stream of push events for one (collection, owner) pair.
// The returned channel is closed when ctx is cancelled or the stream ends.
type Source interface {
	Open(ctx context.Context, collection model.Collection, ownerID string) (<-chan realtime.Event, error)
}

// Applier runs a store write if epoch is still the live session epoch.
type Applier interface {
	Apply(epoch uint64, fn func(st *store.Store)) bool
}

// Recompute is the trigger side of the derived-stats recomputer.
type Recompute interface {
	Trigger()
}

// BadgeScheduler requests a badge evaluation in the background.
type BadgeScheduler interface {
	ScheduleBadgeEvaluation()
}

// Adapter subscribes to push sources and merges their events.
type Adapter struct {
	source    Source
	session   *session.Manager
	applier   Applier
	recompute Recompute
	badges    BadgeScheduler
	logger    *slog.Logger
}

// New creates an Adapter. badges may be nil when no evaluation is wanted.
func New(source Source, sess *session.Manager, applier Applier, rec Recompute, badges BadgeScheduler, logger *slog.Logger) *Adapter {
	return &Adapter{
		source:    source,
		session:   sess,
		applier:   applier,
		recompute: rec,
		badges:    badges,
		logger:    logger,
	}
}

// Handle is a live subscription. Cancel stops it; calling Cancel twice is
// safe.
type Handle struct {
	Collection model.Collection
	OwnerID    string

	cancel   context.CancelFunc
	once     sync.Once
	canceled atomic.Bool
	done     chan struct{}

	release     chan struct{}
	releaseOnce sync.Once
}

// Cancel stops the subscription and waits for its delivery loop to exit.
// No onEvent call happens after Cancel returns.
func (h *Handle) Cancel() {
	h.once.Do(func() {
		h.canceled.Store(true)
		h.cancel()
	})
	<-h.done
}

// Canceled reports whether the subscription was stopped by Cancel. A Handle
// whose Done is closed without Canceled was ended by the source.
func (h *Handle) Canceled() bool {
	return h.canceled.Load()
}

// Done is closed when the delivery loop has exited, either because of
// Cancel or because the source ended the stream.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Release starts merging a held subscription. Events received while held
// are merged first, in arrival order. Release on a live Handle is a no-op.
func (h *Handle) Release() {
	h.releaseOnce.Do(func() { close(h.release) })
}

// Subscribe opens collection for ownerID and merges every event into the
// store. onEvent, if not nil, is called after each merged change. ownerID
// must be the signed-in owner.
func (a *Adapter) Subscribe(collection model.Collection, ownerID string, onEvent func(model.Change)) (*Handle, error) {
	h, err := a.SubscribeHeld(collection, ownerID, onEvent)
	if err != nil {
		return nil, err
	}
	h.Release()
	return h, nil
}

// SubscribeHeld opens the stream like Subscribe but queues events until
// Release. Opening before reading the collection and releasing after the
// read has landed means no change committed in between is lost.
func (a *Adapter) SubscribeHeld(collection model.Collection, ownerID string, onEvent func(model.Change)) (*Handle, error) {
	if !collection.Valid() {
		return nil, apperror.ValidationFailed("collection", fmt.Sprintf("unknown collection %q", collection))
	}
	s, err := a.session.Require()
	if err != nil {
		return nil, err
	}
	if s.OwnerID != ownerID {
		return nil, apperror.PermissionDenied("can only subscribe to the signed-in owner's rows")
	}

	ctx, cancel := context.WithCancel(context.Background())
	events, err := a.source.Open(ctx, collection, ownerID)
	if err != nil {
		cancel()
		return nil, apperror.Classify(err)
	}

	h := &Handle{
		Collection: collection,
		OwnerID:    ownerID,
		cancel:     cancel,
		done:       make(chan struct{}),
		release:    make(chan struct{}),
	}
	go a.deliver(ctx, h, s.Epoch, events, onEvent)
	return h, nil
}

func (a *Adapter) deliver(ctx context.Context, h *Handle, epoch uint64, events <-chan realtime.Event, onEvent func(model.Change)) {
	defer close(h.done)

	// held is nil once released; a nil channel never fires in select.
	held := h.release
	var pending []model.Change
	for {
		select {
		case <-ctx.Done():
			return
		case <-held:
			held = nil
			for _, ch := range pending {
				a.merge(ctx, epoch, ch, onEvent)
			}
			pending = nil
		case ev, ok := <-events:
			if !ok {
				a.logger.Debug("change feed closed by source",
					slog.String("collection", string(h.Collection)),
					slog.Int("unreleased", len(pending)))
				return
			}
			if ev.OwnerID != "" && ev.OwnerID != h.OwnerID {
				continue
			}
			ch, err := Decode(ev)
			if err != nil {
				a.logger.Warn("dropping undecodable push event",
					slog.String("collection", string(ev.Collection)),
					slog.String("id", ev.ID),
					slog.String("error", err.Error()))
				continue
			}
			if ch.Collection != h.Collection {
				continue
			}
			if held != nil {
				pending = append(pending, ch)
				continue
			}
			a.merge(ctx, epoch, ch, onEvent)
		}
	}
}

func (a *Adapter) merge(ctx context.Context, epoch uint64, ch model.Change, onEvent func(model.Change)) {
	var applyErr error
	applied := a.applier.Apply(epoch, func(st *store.Store) {
		if ctx.Err() != nil {
			return
		}
		applyErr = st.Apply(ch)
	})
	if !applied || ctx.Err() != nil {
		return
	}
	if applyErr != nil {
		a.logger.Warn("push event rejected by store",
			slog.String("collection", string(ch.Collection)),
			slog.String("id", ch.ID),
			slog.String("error", applyErr.Error()))
		return
	}

	a.logger.Debug("push event merged",
		slog.String("kind", string(ch.Kind)),
		slog.String("collection", string(ch.Collection)),
		slog.String("id", ch.ID))

	a.recompute.Trigger()
	if a.badges != nil && affectsBadges(ch.Collection) {
		a.badges.ScheduleBadgeEvaluation()
	}
	if onEvent != nil {
		onEvent(ch)
	}
}

// affectsBadges reports whether changes to c can move total_xp, streak_days
// or the completed-goal count.
func affectsBadges(c model.Collection) bool {
	return c == model.CollectionStats || c == model.CollectionGoals
}

// Decode converts a wire event into a typed change.
func Decode(ev realtime.Event) (model.Change, error) {
	if !ev.Kind.Valid() {
		return model.Change{}, fmt.Errorf("feed: unknown change kind %q", ev.Kind)
	}
	if !ev.Collection.Valid() {
		return model.Change{}, fmt.Errorf("feed: unknown collection %q", ev.Collection)
	}
	ch := model.Change{Kind: ev.Kind, Collection: ev.Collection, ID: ev.ID}
	if ev.Kind == model.ChangeDelete {
		if ch.ID == "" {
			return model.Change{}, fmt.Errorf("feed: delete event without id")
		}
		return ch, nil
	}
	if len(ev.Entity) == 0 {
		return model.Change{}, fmt.Errorf("feed: %s event without entity", ev.Kind)
	}

	var (
		e   model.Entity
		err error
	)
	switch ev.Collection {
	case model.CollectionProjects:
		e, err = decodeAs[model.Project](ev.Entity)
	case model.CollectionProfiles:
		e, err = decodeAs[model.PortfolioProfile](ev.Entity)
	case model.CollectionStats:
		e, err = decodeAs[model.GamificationStats](ev.Entity)
	case model.CollectionGoals:
		e, err = decodeAs[model.DailyGoal](ev.Entity)
	case model.CollectionBadges:
		e, err = decodeAs[model.Badge](ev.Entity)
	case model.CollectionChallenges:
		e, err = decodeAs[model.WeeklyChallenge](ev.Entity)
	}
	if err != nil {
		return model.Change{}, err
	}
	if ch.ID == "" {
		ch.ID = e.EntityID()
	}
	ch.Entity = e
	return ch, nil
}

func decodeAs[T model.Entity](raw json.RawMessage) (model.Entity, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("feed: decoding %T: %w", v, err)
	}
	return v, nil
}
