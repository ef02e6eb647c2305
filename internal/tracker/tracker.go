// Package tracker wires the reconciliation core together for one process.
//
// A Tracker owns the entity store, the derived-stats recomputer, the
// mutation coordinator and the change-feed subscriptions of the signed-in
// owner. It reacts to session changes:
//
//	sign in    load every collection, subscribe to every collection
//	sign out   cancel every subscription, clear the store
//	switch     both, in that order
//
// LOAD ORDER:
// Subscriptions are opened before the initial read and held. Events that
// arrive during the read are queued, then replayed once the read has been
// written to the store. Replaying an event the read already saw is
// harmless: it lands in the same slot with the same or a newer row.
//
// RESYNC:
// A stream can end without anyone cancelling it (the server restarts, the
// connection drops, the hub closes a subscriber that fell behind). Every
// event missed from then on is gone, so the tracker treats an ended stream
// as "the store may be stale": it drops all subscriptions, waits a
// backoff, and runs the sign-in path again for the same owner.
//
// Snapshots are published by the recomputer, so any number of store writes
// in a burst produce one snapshot. A write that changes no derived value
// (a renamed project, say) still publishes, because the recomputer also
// watches the store version.
package tracker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sakif/progress-tracker/internal/coordinator"
	"github.com/sakif/progress-tracker/internal/feed"
	"github.com/sakif/progress-tracker/internal/model"
	"github.com/sakif/progress-tracker/internal/repository"
	"github.com/sakif/progress-tracker/internal/session"
	"github.com/sakif/progress-tracker/internal/stats"
	"github.com/sakif/progress-tracker/internal/store"
)

// DefaultLoadTimeout bounds the initial collection load.
const DefaultLoadTimeout = 15 * time.Second

// DefaultResyncDelay is the first wait before reloading after a stream ends.
// Consecutive failures double it up to maxResyncDelay.
const DefaultResyncDelay = time.Second

const maxResyncDelay = 30 * time.Second

// Options tune a Tracker.
type Options struct {
	Coordinator coordinator.Options
	// LoadTimeout bounds the initial load. Zero selects DefaultLoadTimeout.
	LoadTimeout time.Duration
	// ResyncDelay is the first backoff after a stream ends. Zero selects
	// DefaultResyncDelay.
	ResyncDelay time.Duration
}

// Snapshot is the UI-facing view of the signed-in owner's data.
type Snapshot struct {
	OwnerID    string                  `json:"owner_id"`
	Profile    model.PortfolioProfile  `json:"profile"`
	Stats      model.GamificationStats `json:"stats"`
	Projects   []model.Project         `json:"projects"`
	Goals      []model.DailyGoal       `json:"goals"`
	Badges     []model.Badge           `json:"badges"`
	Challenges []model.WeeklyChallenge `json:"challenges"`
	Derived    stats.Derived           `json:"derived"`
}

// Tracker is the core facade.
type Tracker struct {
	remote  repository.Remote
	session *session.Manager
	store   *store.Store
	coord   *coordinator.Coordinator
	recomp  *stats.Recomputer
	feed    *feed.Adapter
	logger  *slog.Logger
	now     func() time.Time

	loadTimeout time.Duration
	resyncDelay time.Duration
	rank        atomic.Int64

	mu           sync.Mutex
	ctx          context.Context
	cancel       context.CancelFunc
	started      bool
	closed       bool
	handles      []*feed.Handle
	resyncing    bool
	backoff      time.Duration
	listeners    map[int]func(Snapshot)
	nextListener int
	unsubscribe  func()
	wg           sync.WaitGroup
}

// New builds a Tracker for sess. source delivers push events; remote is the
// persistence/query service.
func New(remote repository.Remote, source feed.Source, sess *session.Manager, logger *slog.Logger, opts Options) *Tracker {
	t := &Tracker{
		remote:      remote,
		session:     sess,
		store:       store.New(),
		logger:      logger,
		now:         opts.Coordinator.Now,
		loadTimeout: opts.LoadTimeout,
		resyncDelay: opts.ResyncDelay,
		listeners:   make(map[int]func(Snapshot)),
	}
	if t.now == nil {
		t.now = time.Now
	}
	if t.loadTimeout <= 0 {
		t.loadTimeout = DefaultLoadTimeout
	}
	if t.resyncDelay <= 0 {
		t.resyncDelay = DefaultResyncDelay
	}
	t.backoff = t.resyncDelay
	t.recomp = stats.NewRecomputer(t.compute, t.publish, logger)
	t.recomp.TrackVersion(t.store.Version)
	t.coord = coordinator.New(t.store, remote, sess, t.recomp, logger, opts.Coordinator)
	t.feed = feed.New(source, sess, t.coord, t.recomp, t.coord, logger)
	return t
}

// Coordinator exposes the mutation path.
func (t *Tracker) Coordinator() *coordinator.Coordinator {
	return t.coord
}

// Start begins following the session. If an owner is already signed in
// their data is loaded before Start returns.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = true
	t.ctx, t.cancel = context.WithCancel(context.WithoutCancel(ctx))
	t.mu.Unlock()

	t.recomp.Start()
	t.unsubscribe = t.session.OnChange(t.onSessionChange)

	if s := t.session.Current(); s.SignedIn() {
		t.activate(ctx, s)
	}
	return nil
}

// Close cancels every subscription and stops background work.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	cancel := t.cancel
	t.mu.Unlock()

	if t.unsubscribe != nil {
		t.unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	t.detach()
	t.wg.Wait()
	t.coord.Wait()
	t.recomp.Stop()
}

// OnSnapshot registers fn to receive every published snapshot and returns
// a function that unregisters it. fn runs on the recomputer goroutine and
// must not call Snapshot.
func (t *Tracker) OnSnapshot(fn func(Snapshot)) (cancel func()) {
	t.mu.Lock()
	id := t.nextListener
	t.nextListener++
	t.listeners[id] = fn
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.listeners, id)
			t.mu.Unlock()
		})
	}
}

// Snapshot recomputes and returns the current view.
func (t *Tracker) Snapshot() Snapshot {
	return t.build(t.recomp.Flush())
}

// PublicView reads the share view for slug. It never touches the store.
func (t *Tracker) PublicView(ctx context.Context, slug string) (*model.PublicPortfolio, error) {
	return t.remote.GetPublicPortfolio(ctx, slug)
}

// Leaderboard reads the top n owners by XP.
func (t *Tracker) Leaderboard(ctx context.Context, n int) ([]model.LeaderboardEntry, error) {
	return t.remote.Leaderboard(ctx, n)
}

func (t *Tracker) onSessionChange(prev, next session.State) {
	t.detach()
	t.coord.Reset()
	t.recomp.Reset()
	t.rank.Store(0)
	t.recomp.Trigger()

	if !next.SignedIn() {
		return
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	ctx := t.ctx
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		t.activate(ctx, next)
	}()
}

// detach cancels every live subscription.
func (t *Tracker) detach() {
	t.mu.Lock()
	handles := t.handles
	t.handles = nil
	t.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
}

func (t *Tracker) activate(ctx context.Context, s session.State) {
	handles, complete := t.subscribe(s)
	if !t.load(ctx, s) {
		for _, h := range handles {
			h.Cancel()
		}
		return
	}
	if !t.attach(s, handles) {
		return
	}
	for _, h := range handles {
		h.Release()
	}

	if complete {
		t.mu.Lock()
		t.backoff = t.resyncDelay
		t.mu.Unlock()
	} else {
		t.resync(s)
	}
	t.refreshRank(ctx, s)
	t.coord.ScheduleBadgeEvaluation()
}

// load fetches every collection in parallel. A failed read leaves that
// collection empty; it never fails the load.
func (t *Tracker) load(parent context.Context, s session.State) bool {
	ctx, cancel := context.WithTimeout(parent, t.loadTimeout)
	defer cancel()

	var (
		projects   []model.Project
		profile    []model.PortfolioProfile
		statsRow   []model.GamificationStats
		goals      []model.DailyGoal
		badges     []model.Badge
		challenges []model.WeeklyChallenge
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vs, err := t.remote.ListProjects(gctx, s.OwnerID)
		projects = orEmpty(t, model.CollectionProjects, s.OwnerID, vs, err)
		return nil
	})
	g.Go(func() error {
		p, err := t.remote.GetProfile(gctx, s.OwnerID)
		profile = orEmpty(t, model.CollectionProfiles, s.OwnerID, asList(p), err)
		return nil
	})
	g.Go(func() error {
		st, err := t.remote.GetStats(gctx, s.OwnerID)
		statsRow = orEmpty(t, model.CollectionStats, s.OwnerID, asList(st), err)
		return nil
	})
	g.Go(func() error {
		vs, err := t.remote.ListGoals(gctx, s.OwnerID)
		goals = orEmpty(t, model.CollectionGoals, s.OwnerID, vs, err)
		return nil
	})
	g.Go(func() error {
		vs, err := t.remote.ListBadges(gctx, s.OwnerID)
		badges = orEmpty(t, model.CollectionBadges, s.OwnerID, vs, err)
		return nil
	})
	g.Go(func() error {
		vs, err := t.remote.ListChallenges(gctx, s.OwnerID)
		challenges = orEmpty(t, model.CollectionChallenges, s.OwnerID, vs, err)
		return nil
	})
	_ = g.Wait()
	if parent.Err() != nil {
		// Shutting down: the empty results are not real reads.
		return false
	}

	applied := t.coord.Apply(s.Epoch, func(st *store.Store) {
		st.Projects.ReplaceAll(projects)
		st.Profiles.ReplaceAll(profile)
		st.Stats.ReplaceAll(statsRow)
		st.Goals.ReplaceAll(goals)
		st.Badges.ReplaceAll(badges)
		st.Challenges.ReplaceAll(challenges)
	})
	if !applied {
		t.logger.Warn("discarding initial load for previous owner", slog.String("owner_id", s.OwnerID))
		return false
	}
	t.logger.Info("initial load complete",
		slog.String("owner_id", s.OwnerID),
		slog.Int("projects", len(projects)),
		slog.Int("goals", len(goals)),
		slog.Int("badges", len(badges)),
	)
	t.recomp.Trigger()
	return true
}

// subscribe opens a held subscription per collection. complete is false if
// any collection could not be opened.
func (t *Tracker) subscribe(s session.State) (handles []*feed.Handle, complete bool) {
	complete = true
	for _, c := range model.Collections {
		h, err := t.feed.SubscribeHeld(c, s.OwnerID, t.onEvent)
		if err != nil {
			t.logger.Warn("change feed unavailable",
				slog.String("collection", string(c)),
				slog.String("error", err.Error()))
			complete = false
			continue
		}
		handles = append(handles, h)
	}
	return handles, complete
}

// attach records handles as the live subscriptions of s and starts a
// watcher on each. If s is no longer current the handles are cancelled.
func (t *Tracker) attach(s session.State, handles []*feed.Handle) bool {
	t.mu.Lock()
	if t.closed || !t.session.IsCurrent(s.Epoch) {
		t.mu.Unlock()
		for _, h := range handles {
			h.Cancel()
		}
		return false
	}
	t.handles = append(t.handles, handles...)
	t.wg.Add(len(handles))
	t.mu.Unlock()

	for _, h := range handles {
		go func() {
			defer t.wg.Done()
			<-h.Done()
			if h.Canceled() {
				return
			}
			t.logger.Warn("change feed ended, resyncing",
				slog.String("collection", string(h.Collection)),
				slog.String("owner_id", s.OwnerID))
			t.resync(s)
		}()
	}
	return true
}

// resync reloads s after a backoff. Concurrent requests collapse into one.
func (t *Tracker) resync(s session.State) {
	t.mu.Lock()
	if t.closed || t.resyncing || !t.session.IsCurrent(s.Epoch) {
		t.mu.Unlock()
		return
	}
	t.resyncing = true
	delay := t.backoff
	t.backoff = min(2*t.backoff, maxResyncDelay)
	ctx := t.ctx
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		t.detach()

		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
		}

		t.mu.Lock()
		t.resyncing = false
		t.mu.Unlock()
		if ctx.Err() != nil || !t.session.IsCurrent(s.Epoch) {
			return
		}
		t.activate(ctx, s)
	}()
}

func (t *Tracker) onEvent(ch model.Change) {
	if ch.Collection != model.CollectionStats {
		return
	}
	s := t.session.Current()
	t.mu.Lock()
	if t.closed || !s.SignedIn() {
		t.mu.Unlock()
		return
	}
	ctx := t.ctx
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		t.refreshRank(ctx, s)
	}()
}

// refreshRank looks the owner up on the leaderboard. Owners outside the
// largest page keep rank 0.
func (t *Tracker) refreshRank(ctx context.Context, s session.State) {
	entries, err := t.remote.Leaderboard(ctx, repository.MaxLeaderboardLimit)
	if err != nil {
		t.logger.Warn("leaderboard read failed", slog.String("error", err.Error()))
		return
	}
	if !t.session.IsCurrent(s.Epoch) {
		return
	}
	rank := 0
	for _, e := range entries {
		if e.UserID == s.OwnerID {
			rank = e.Rank
			break
		}
	}
	t.rank.Store(int64(rank))
	t.recomp.Trigger()
}

func (t *Tracker) compute() stats.Derived {
	statsRow, _ := t.store.Stats.First()
	d := stats.Compute(stats.Inputs{
		Projects: t.store.Projects.List(),
		Stats:    statsRow,
		Goals:    t.store.Goals.List(),
		Badges:   t.store.Badges.List(),
	})
	d.Rank = int(t.rank.Load())
	return d
}

func (t *Tracker) publish(d stats.Derived) {
	snap := t.build(d)
	t.mu.Lock()
	fns := make([]func(Snapshot), 0, len(t.listeners))
	for _, fn := range t.listeners {
		fns = append(fns, fn)
	}
	t.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

func (t *Tracker) build(d stats.Derived) Snapshot {
	s := Snapshot{
		OwnerID:    t.session.Current().OwnerID,
		Projects:   t.store.Projects.List(),
		Goals:      t.store.Goals.List(),
		Badges:     t.store.Badges.List(),
		Challenges: t.store.Challenges.List(),
		Derived:    d,
	}
	s.Profile, _ = t.store.Profiles.First()
	s.Stats, _ = t.store.Stats.First()

	now := t.now()
	for i := range s.Challenges {
		if s.Challenges[i].Status == model.ChallengeActive {
			s.Challenges[i].Status = s.Challenges[i].Resolve(now)
		}
	}
	return s
}

// orEmpty turns a failed read into an empty collection.
func orEmpty[T any](t *Tracker, c model.Collection, ownerID string, vs []T, err error) []T {
	if err != nil {
		t.logger.Warn("initial read failed, showing empty collection",
			slog.String("collection", string(c)),
			slog.String("owner_id", ownerID),
			slog.String("error", err.Error()))
		return nil
	}
	return vs
}

// asList adapts a single-row read to the list shape the store loads.
func asList[T any](v *T) []T {
	if v == nil {
		return nil
	}
	return []T{*v}
}
