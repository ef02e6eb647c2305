package stats

import (
	"log/slog"
	"sync"
)

// Recomputer coalesces recomputation triggers.
//
// Any number of Trigger calls that land before the worker wakes up collapse
// into a single pass: the trigger channel has room for exactly one pending
// signal and extra sends are dropped. A pass whose result equals the last
// published one is not republished, unless the tracked version (see
// TrackVersion) moved: an entity edit that changes no aggregate still has
// to reach the listeners.
//
// publish runs while the pass lock is held; it must not call Flush.
type Recomputer struct {
	compute func() Derived
	publish func(Derived)
	version func() uint64
	logger  *slog.Logger

	trigger chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once

	mu          sync.Mutex
	last        Derived
	lastVersion uint64
	hasLast     bool
	passes      int
}

// NewRecomputer creates a Recomputer. publish may be nil.
func NewRecomputer(compute func() Derived, publish func(Derived), logger *slog.Logger) *Recomputer {
	if publish == nil {
		publish = func(Derived) {}
	}
	return &Recomputer{
		compute: compute,
		publish: publish,
		logger:  logger,
		trigger: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// TrackVersion makes passes publish whenever version has moved since the
// last publish, even if the derived result is unchanged. Call it before
// Start.
func (r *Recomputer) TrackVersion(version func() uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.version = version
}

// Start launches the background worker. Calling it twice is harmless.
func (r *Recomputer) Start() {
	r.startOnce.Do(func() {
		r.wg.Add(1)
		go r.loop()
	})
}

// Stop shuts the worker down and waits for an in-progress pass to finish.
func (r *Recomputer) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
}

// Trigger requests a recomputation. It never blocks.
func (r *Recomputer) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
		// a pass is already pending; it will see the latest store state
	}
}

// Flush drops any pending trigger and runs one pass synchronously.
func (r *Recomputer) Flush() Derived {
	select {
	case <-r.trigger:
	default:
	}
	return r.pass()
}

// Last returns the most recently computed result.
func (r *Recomputer) Last() Derived {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Passes returns how many passes have run.
func (r *Recomputer) Passes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.passes
}

// Reset forgets the last result so the next pass always publishes.
func (r *Recomputer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = Derived{}
	r.hasLast = false
}

func (r *Recomputer) loop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			return
		case <-r.trigger:
			r.pass()
		}
	}
}

func (r *Recomputer) pass() Derived {
	r.mu.Lock()
	defer r.mu.Unlock()

	// The version is read before computing, so a write racing this pass
	// leaves the version ahead and the next pass publishes it.
	var v uint64
	if r.version != nil {
		v = r.version()
	}
	d := r.compute()
	r.passes++
	if r.hasLast && d == r.last && v == r.lastVersion {
		return d
	}
	r.last = d
	r.lastVersion = v
	r.hasLast = true
	r.logger.Debug("derived stats published",
		slog.Int("total_projects", d.Profile.TotalProjects),
		slog.Int("total_xp", d.TotalXP),
		slog.Int("level", d.Level),
	)
	r.publish(d)
	return d
}
