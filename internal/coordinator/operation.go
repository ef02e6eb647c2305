package coordinator

import (
	"slices"
	"sync"
)

// State is a step of the per-operation state machine:
//
//	idle -> optimistic-applied -> confirmed
//	                           -> rolled-back
//
// confirmed and rolled-back are terminal. An operation rejected before it
// touched the store (validation, no owner) stays idle.
type State string

const (
	StateIdle       State = "idle"
	StateOptimistic State = "optimistic-applied"
	StateConfirmed  State = "confirmed"
	StateRolledBack State = "rolled-back"
)

// Terminal reports whether s is confirmed or rolled-back.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateRolledBack
}

// Kind names the logical operation.
type Kind string

const (
	KindAddProject        Kind = "add_project"
	KindUpdateProject     Kind = "update_project"
	KindDeleteProject     Kind = "delete_project"
	KindCompleteGoal      Kind = "complete_goal"
	KindShareSlug         Kind = "share_slug"
	KindChallengeProgress Kind = "challenge_progress"
	KindUnlockBadge       Kind = "unlock_badge"
)

// Operation records the life of one mutation. It is returned to the caller
// for observability; the coordinator never reads it back.
type Operation struct {
	Kind     Kind
	EntityID string
	OwnerID  string
	Epoch    uint64

	mu        sync.Mutex
	history   []State
	err       error
	discarded bool
	noop      bool
}

func newOperation(kind Kind) *Operation {
	return &Operation{Kind: kind, history: []State{StateIdle}}
}

// State returns the current state.
func (o *Operation) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.history[len(o.history)-1]
}

// History returns every state the operation passed through, in order.
func (o *Operation) History() []State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.history)
}

// Err returns the failure that ended the operation, if any.
func (o *Operation) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// Discarded reports whether the remote result arrived after the owner
// changed and was therefore not applied.
func (o *Operation) Discarded() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.discarded
}

// NoOp reports whether the operation was satisfied without a remote write,
// e.g. completing an already completed goal.
func (o *Operation) NoOp() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.noop
}

func (o *Operation) to(s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.history[len(o.history)-1].Terminal() {
		return
	}
	o.history = append(o.history, s)
}

// fail records err. The state is left as is: a failure before the optimistic
// step stays idle, a failure after it is followed by to(StateRolledBack).
func (o *Operation) fail(err error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = err
	return err
}

func (o *Operation) markDiscarded() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.discarded = true
}

func (o *Operation) markNoOp() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.noop = true
	o.history = append(o.history, StateConfirmed)
}
