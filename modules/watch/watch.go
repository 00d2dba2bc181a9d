// Package watch implements the Watch Coordinator: an in-memory registry
// of pending watchers, each keyed by the last revision the caller already
// observed and a path pattern, completed the first time a commit touches
// a path the pattern matches at a revision past that point.
package watch

import (
	"context"
	"sync"

	"github.com/line/centraldogma-sub001/modules/pathfilter"
	"github.com/line/centraldogma-sub001/modules/plumbing"
)

// Future is a one-shot result slot, the same external-worker-pool-facing
// shape the Repository Core uses for every asynchronous operation: a
// context-cancelable wait over a single buffered channel.
type Future struct {
	ch chan result
}

type result struct {
	revision int64
	err      error
}

// NewFuture returns a Future together with the function used to complete
// it exactly once.
func NewFuture() (*Future, func(revision int64, err error)) {
	ch := make(chan result, 1)
	complete := func(revision int64, err error) {
		select {
		case ch <- result{revision: revision, err: err}:
		default:
		}
	}
	return &Future{ch: ch}, complete
}

// Wait blocks until the future is completed or ctx is done.
func (f *Future) Wait(ctx context.Context) (int64, error) {
	select {
	case r := <-f.ch:
		return r.revision, r.err
	case <-ctx.Done():
		return 0, plumbing.RequestTimeout()
	}
}

// registration is one pending watcher.
type registration struct {
	id        uint64
	lastKnown int64
	pattern   *pathfilter.Filter
	complete  func(revision int64, err error)
}

// Coordinator tracks every pending registration for a single repository.
// All completions run outside the writer lock the Repository Core holds
// while committing, so watcher callbacks can never invert lock order
// against a commit in flight.
type Coordinator struct {
	mu       sync.Mutex
	nextID   uint64
	pending  map[uint64]*registration
	closed   bool
	closeErr error
}

// New returns an empty Coordinator.
func New() *Coordinator {
	return &Coordinator{pending: map[uint64]*registration{}}
}

// Cancel is returned by Register so the owner can give up a watch in O(1).
type Cancel func()

// Register adds a watcher for pattern that is satisfied by any revision
// strictly greater than lastKnown. If the coordinator is already closed,
// the returned future completes immediately with the configured close
// error.
func (c *Coordinator) Register(lastKnown int64, pattern *pathfilter.Filter) (*Future, Cancel) {
	future, complete := NewFuture()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		complete(0, c.closeErr)
		return future, func() {}
	}
	id := c.nextID
	c.nextID++
	reg := &registration{id: id, lastKnown: lastKnown, pattern: pattern, complete: complete}
	c.pending[id] = reg
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}
	return future, cancel
}

// Notify is called once per commit with the revision just published and
// the set of paths its diff touched (each change entry's path, plus the
// old path of a rename). Every registration whose pattern
// matches any of paths and whose lastKnown is below revision is completed
// and removed.
func (c *Coordinator) Notify(revision int64, paths []string) {
	var toComplete []*registration

	c.mu.Lock()
	for id, reg := range c.pending {
		if reg.lastKnown >= revision {
			continue
		}
		if matchesAny(reg.pattern, paths) {
			toComplete = append(toComplete, reg)
			delete(c.pending, id)
		}
	}
	c.mu.Unlock()

	for _, reg := range toComplete {
		reg.complete(revision, nil)
	}
}

func matchesAny(pattern *pathfilter.Filter, paths []string) bool {
	for _, p := range paths {
		if pattern.Matches(p) {
			return true
		}
	}
	return false
}

// Close completes every outstanding registration with closeErr (the
// configured "repository is closing" error) and rejects any future
// Register call the same way.
func (c *Coordinator) Close(closeErr error) {
	c.mu.Lock()
	c.closed = true
	c.closeErr = closeErr
	pending := c.pending
	c.pending = map[uint64]*registration{}
	c.mu.Unlock()

	for _, reg := range pending {
		reg.complete(0, closeErr)
	}
}

// Len reports the number of outstanding registrations, for tests and
// diagnostics.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
