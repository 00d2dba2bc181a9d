package repository

import (
	"context"

	"github.com/line/centraldogma-sub001/modules/cache"
	"github.com/line/centraldogma-sub001/modules/object"
	"github.com/line/centraldogma-sub001/modules/pathfilter"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// HistoryEntry pairs a commit's metadata with the diff that commit
// produced, restricted to the pattern the caller asked for.
type HistoryEntry struct {
	Revision int64
	Author   string
	Email    string
	Summary  string
	Detail   string
	Changes  map[string]object.Change
}

// History walks the revision range between from and to and returns every
// commit whose diff against its parent touches a path pattern matches,
// bounded by maxCommits (itself capped by the configured history limit).
// from/to may be given in either order: when from is the higher absolute
// revision (a "descending" request, e.g. from=-1,to=1 meaning "walk
// backward from head"), the kept commits are the maxCommits nearest to
// from and the result is returned newest-first; otherwise the kept commits
// are the maxCommits nearest to from and the result is returned
// oldest-first, matching §4.6's "ordering follows from→to direction".
func (r *Repository) History(ctx context.Context, from, to int64, pattern string, maxCommits int) *Future[[]HistoryEntry] {
	return submitAsync(ctx, r.pool, func() ([]HistoryEntry, error) {
		r.mu.RLock()
		defer r.mu.RUnlock()
		if err := r.checkOpenLocked(); err != nil {
			return nil, err
		}
		absFrom, _, err := r.treeOrEmptyLocked(from)
		if err != nil {
			return nil, err
		}
		absTo, _, err := r.treeOrEmptyLocked(to)
		if err != nil {
			return nil, err
		}
		descending := absFrom > absTo
		lo, hi := absFrom, absTo
		if descending {
			lo, hi = absTo, absFrom
		}
		limit := maxCommits
		if limit <= 0 || limit > r.maxHistoryCommits {
			limit = r.maxHistoryCommits
		}

		var revisions []int64
		for rev := lo; rev <= hi; rev++ {
			if _, ok := r.index.CommitID(rev); ok {
				revisions = append(revisions, rev)
			}
		}

		// Each revision's diff against its parent is an independent tree
		// walk, so the batch is materialized concurrently (bounded to
		// keep a wide history request from flooding the backend) and
		// re-assembled in ascending revision order afterward.
		diffs := make([][]object.Change, len(revisions))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(8)
		for i, rev := range revisions {
			i, rev := i, rev
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				changes, _, err := r.diffRevisionsLocked(rev-1, rev, pattern)
				if err != nil {
					return err
				}
				diffs[i] = changes
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		var candidates []HistoryEntry
		for i, rev := range revisions {
			changes := diffs[i]
			if len(changes) == 0 {
				continue
			}
			id, _ := r.index.CommitID(rev)
			c, err := r.backend.ReadCommit(id)
			if err != nil {
				return nil, err
			}
			candidates = append(candidates, HistoryEntry{
				Revision: rev,
				Author:   c.Author,
				Email:    c.Email,
				Summary:  c.Message.Summary,
				Detail:   c.Message.Detail,
				Changes:  changesToMap(changes),
			})
		}

		// candidates is ascending (oldest first). An ascending request
		// keeps the oldest limit commits, already in the right order. A
		// descending request keeps the newest limit commits (nearest hi,
		// i.e. nearest from) and reverses them to read newest-first.
		if !descending {
			if len(candidates) > limit {
				candidates = candidates[:limit]
			}
			return candidates, nil
		}
		start := len(candidates) - limit
		if start < 0 {
			start = 0
		}
		kept := candidates[start:]
		out := make([]HistoryEntry, len(kept))
		for i, e := range kept {
			out[len(kept)-1-i] = e
		}
		return out, nil
	})
}

// FindLatestRevision returns head if any commit after lastKnown touched a
// path pattern matches, or 0 if none does. The result is cached, keyed by
// the (lastKnown, head, pattern) triple, since repeated long-polling
// watchers ask this same question every time a sibling commit lands.
func (r *Repository) FindLatestRevision(ctx context.Context, lastKnown int64, pattern string) *Future[int64] {
	return submitAsync(ctx, r.pool, func() (int64, error) {
		r.mu.RLock()
		defer r.mu.RUnlock()
		if err := r.checkOpenLocked(); err != nil {
			return 0, err
		}
		return r.findLatestRevisionLocked(lastKnown, pattern)
	})
}

func (r *Repository) findLatestRevisionLocked(lastKnown int64, pattern string) (int64, error) {
	var absLastKnown int64
	if lastKnown == 0 {
		absLastKnown = 0
	} else {
		var err error
		absLastKnown, err = r.normalizeLocked(lastKnown)
		if err != nil {
			return 0, err
		}
	}
	head := r.head
	if absLastKnown >= head {
		return 0, nil
	}

	key := cache.Key{Repository: r.name, FromRevision: absLastKnown, ToRevision: head, Pattern: pattern, Query: "LATEST_REVISION"}
	compute := func() (any, error) {
		changes, _, err := r.diffRevisionsLocked(absLastKnown, head, pattern)
		if err != nil {
			return int64(0), err
		}
		if len(changes) == 0 {
			return int64(0), nil
		}
		return head, nil
	}
	if r.cache == nil {
		v, err := compute()
		if err != nil {
			return 0, err
		}
		return v.(int64), nil
	}
	v, err := r.cache.GetOrCompute(key, 1, compute)
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// Watch resolves as soon as a revision after lastKnown touches pattern. If
// one already exists, it completes synchronously; otherwise it registers
// with the Watch Coordinator and resolves the next time a matching commit
// lands, or when ctx's deadline passes, or when the repository closes.
func (r *Repository) Watch(ctx context.Context, lastKnown int64, pattern string) *Future[int64] {
	future, complete := newFuture[int64]()

	r.mu.RLock()
	if err := r.checkOpenLocked(); err != nil {
		r.mu.RUnlock()
		complete(0, err)
		return future
	}
	latest, err := r.findLatestRevisionLocked(lastKnown, pattern)
	if err != nil {
		r.mu.RUnlock()
		complete(0, err)
		return future
	}
	if latest != 0 {
		r.mu.RUnlock()
		complete(latest, nil)
		return future
	}
	filter := pathfilter.Compile(pattern)
	watchFuture, cancel := r.watches.Register(lastKnown, filter)
	r.mu.RUnlock()
	r.log.WithFields(logrus.Fields{"last_known": lastKnown, "pattern": pattern}).Debug("watch registered")

	go func() {
		rev, err := watchFuture.Wait(ctx)
		cancel()
		if err != nil {
			r.log.WithFields(logrus.Fields{"last_known": lastKnown, "pattern": pattern, "error": err}).Debug("watch ended without a match")
		} else {
			r.log.WithFields(logrus.Fields{"last_known": lastKnown, "pattern": pattern, "revision": rev}).Debug("watch resolved")
		}
		complete(rev, err)
	}()
	return future
}
