package coordinator

import "sync"

// serialWorker runs fn in the background with at most one run in flight.
// A Kick while a run is in progress marks the worker dirty and exactly one
// follow-up run starts when the current one returns, so the last Kick is
// always followed by a run that sees its effects.
type serialWorker struct {
	fn func()

	mu      sync.Mutex
	idle    *sync.Cond
	running bool
	dirty   bool
}

func newSerialWorker(fn func()) *serialWorker {
	w := &serialWorker{fn: fn}
	w.idle = sync.NewCond(&w.mu)
	return w
}

func (w *serialWorker) Kick() {
	w.mu.Lock()
	if w.running {
		w.dirty = true
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	go w.loop()
}

func (w *serialWorker) loop() {
	for {
		w.fn()

		w.mu.Lock()
		if w.dirty {
			w.dirty = false
			w.mu.Unlock()
			continue
		}
		w.running = false
		w.idle.Broadcast()
		w.mu.Unlock()
		return
	}
}

// Wait blocks until no run is in flight or pending.
func (w *serialWorker) Wait() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.running {
		w.idle.Wait()
	}
}
