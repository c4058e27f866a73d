// Package timer schedules heartbeat, nack-response, liveness, and
// fragment-reassembly deadlines on a single ETA-ordered tree and sweeps
// it with one goroutine rather than giving every writer/reader its own
// time.Timer.
package timer

import (
	"sync"
	"time"

	"gitlab.com/yawning/avl.git"

	"github.com/go-rtps/engine/rtpsnet/worker"
)

// Kind distinguishes what a Handle's callback is for; purely informational.
type Kind int

const (
	KindHeartbeat Kind = iota
	KindNackResponse
	KindLiveness
	KindReassembly
	KindAckNackResponse
	KindResend
)

// entry is the value stored at each AVL node; node is kept on the
// Handle so Cancel/Reset can locate and remove it in O(log n).
type entry struct {
	id   uint64
	eta  time.Time
	kind Kind
	fn   func()
	node *avl.Node
}

// Handle references one scheduled callback.
type Handle struct {
	sched *Scheduler
	e     *entry
}

// Cancel removes the callback if it has not yet fired. Safe to call
// more than once and after the callback has already fired.
func (h *Handle) Cancel() {
	if h == nil || h.e == nil {
		return
	}
	h.sched.remove(h.e)
	h.e = nil
}

// Reset reschedules the callback for a new ETA, leaving it in place if
// it was already cancelled or fired (returns false in that case).
func (h *Handle) Reset(eta time.Time) bool {
	if h == nil || h.e == nil || h.e.node == nil {
		return false
	}
	h.sched.remove(h.e)
	ne := h.sched.insert(h.e.id, eta, h.e.kind, h.e.fn)
	h.e = ne
	return true
}

// Scheduler sweeps one ETA-ordered AVL tree on a fixed poll interval,
// running each due callback inline on the sweep goroutine. Callbacks
// must not block.
type Scheduler struct {
	worker.Worker

	mu       sync.Mutex
	tree     *avl.Tree
	nextID   uint64
	interval time.Duration
}

// NewScheduler creates a Scheduler that checks for due callbacks every
// poll interval.
func NewScheduler(poll time.Duration) *Scheduler {
	s := &Scheduler{interval: poll}
	s.tree = avl.New(func(a, b interface{}) int {
		ea, eb := a.(*entry), b.(*entry)
		switch {
		case ea.eta.Before(eb.eta):
			return -1
		case ea.eta.After(eb.eta):
			return 1
		case ea.id < eb.id:
			return -1
		case ea.id > eb.id:
			return 1
		default:
			return 0
		}
	})
	return s
}

// Start launches the sweep loop.
func (s *Scheduler) Start() {
	s.Go(s.sweepLoop)
}

func (s *Scheduler) sweepLoop() {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-s.HaltCh():
			return
		case <-t.C:
			s.sweep()
		}
	}
}

func (s *Scheduler) sweep() {
	now := time.Now()
	var due []*entry
	s.mu.Lock()
	iter := s.tree.Iterator(avl.Forward)
	for node := iter.First(); node != nil; node = iter.Next() {
		e := node.Value.(*entry)
		if e.eta.After(now) {
			break
		}
		due = append(due, e)
	}
	for _, e := range due {
		s.tree.Remove(e.node)
		e.node = nil
	}
	s.mu.Unlock()

	for _, e := range due {
		e.fn()
	}
}

func (s *Scheduler) insert(id uint64, eta time.Time, kind Kind, fn func()) *entry {
	e := &entry{id: id, eta: eta, kind: kind, fn: fn}
	s.mu.Lock()
	e.node = s.tree.Insert(e)
	s.mu.Unlock()
	return e
}

func (s *Scheduler) remove(e *entry) {
	if e == nil || e.node == nil {
		return
	}
	s.mu.Lock()
	s.tree.Remove(e.node)
	e.node = nil
	s.mu.Unlock()
}

// Schedule arranges for fn to run at eta, returning a Handle the caller
// can Cancel or Reset.
func (s *Scheduler) Schedule(eta time.Time, kind Kind, fn func()) *Handle {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.mu.Unlock()
	e := s.insert(id, eta, kind, fn)
	return &Handle{sched: s, e: e}
}

// After is a convenience wrapper scheduling fn to run after d elapses.
func (s *Scheduler) After(d time.Duration, kind Kind, fn func()) *Handle {
	return s.Schedule(time.Now().Add(d), kind, fn)
}

// Len reports the number of outstanding scheduled callbacks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Len()
}
