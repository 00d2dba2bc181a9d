package repository

import (
	"context"
	"time"

	"github.com/line/centraldogma-sub001/modules/compactor"
	"github.com/line/centraldogma-sub001/modules/diffengine"
	"github.com/line/centraldogma-sub001/modules/object"
	"github.com/line/centraldogma-sub001/modules/plumbing"

	"github.com/sirupsen/logrus"
)

// CommitRequest is the caller-supplied half of a commit: everything
// except the tree it will produce.
type CommitRequest struct {
	Base    int64
	When    time.Time
	Author  string
	Email   string
	Summary string
	Detail  string
	Markup  object.Markup
	Changes []object.Change
	// DirectExecution skips the base-must-equal-head check: the caller has
	// already reconciled the batch against the live head itself (e.g. via
	// a prior PreviewDiff) and wants it applied regardless of what else
	// landed since Base was read.
	DirectExecution bool
}

// Commit applies req.Changes against req.Base (the engine's one atomic,
// serialized write path: the writer lock is held for the in-memory apply,
// the object-store persistence, the ref compare-and-swap and the index
// update, then released before watchers are notified) and returns the new
// revision.
func (r *Repository) Commit(ctx context.Context, req CommitRequest) *Future[int64] {
	ctx = r.effectiveTimeout(ctx)
	return submitAsync(ctx, r.pool, func() (int64, error) {
		revision, paths, err := r.commitLocked(req)
		if err != nil {
			r.log.WithFields(logrus.Fields{"summary": req.Summary, "error": err}).Warn("commit failed")
			return 0, err
		}
		r.log.WithFields(logrus.Fields{"revision": revision, "summary": req.Summary, "paths": len(paths)}).Info("commit applied")
		r.watches.Notify(revision, paths)
		r.evaluateCompaction()
		return revision, nil
	})
}

// evaluateCompaction runs the Compactor's two threshold checks off the
// writer lock, per its own documented contract, kicking off Build/Promote
// in the background when a threshold trips. A nil compactor (compaction
// disabled for this repository) is a no-op.
func (r *Repository) evaluateCompaction() {
	if r.compactor == nil {
		return
	}
	if head, should, err := r.compactor.MaybeBeginBuild(); err != nil {
		r.log.WithField("error", err).Warn("compaction: evaluating primary retention failed")
	} else if should {
		go func() {
			if err := r.compactor.Build(head); err != nil {
				r.log.WithField("error", err).Warn("compaction: building secondary failed")
			}
		}()
	}
	if should, err := r.compactor.MaybeBeginPromotion(); err != nil {
		r.log.WithField("error", err).Warn("compaction: evaluating secondary retention failed")
	} else if should {
		go func() {
			if err := r.compactor.Promote(); err != nil {
				r.log.WithField("error", err).Warn("compaction: promoting secondary failed")
			}
		}()
	}
}

func (r *Repository) commitLocked(req CommitRequest) (int64, []string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkOpenLocked(); err != nil {
		return 0, nil, err
	}
	absBase, baseTree, err := r.treeOrEmptyLocked(req.Base)
	if err != nil {
		return 0, nil, err
	}
	if !req.DirectExecution && absBase != r.head {
		return 0, nil, plumbing.ChangeConflict("base revision is not the current head")
	}

	result, err := r.applier.Apply(baseTree, req.Changes)
	if err != nil {
		return 0, nil, err
	}
	if result.TreeID == baseTree {
		return 0, nil, plumbing.RedundantChange()
	}

	diff, err := diffengine.Diff(r.backend, baseTree, result.TreeID, nil)
	if err != nil {
		return 0, nil, err
	}

	newRevision := r.head + 1
	c := &object.Commit{
		Author:    req.Author,
		Email:     req.Email,
		When:      req.When,
		Parent:    r.headHash,
		HasParent: r.head > 0,
		Tree:      result.TreeID,
		Message: object.Message{
			Summary:  req.Summary,
			Detail:   req.Detail,
			Markup:   req.Markup,
			Revision: newRevision,
		},
	}
	newID, err := r.backend.PutCommit(c)
	if err != nil {
		return 0, nil, err
	}
	oldHead := r.headHash
	if err := r.backend.UpdateRef(&oldHead, newID); err != nil {
		return 0, nil, err
	}

	r.index.Put(newRevision, newID)
	r.head = newRevision
	r.headHash = newID

	if r.compactor != nil {
		lagged := compactor.LaggedCommit{
			Base:    absBase,
			When:    req.When,
			Author:  req.Author,
			Email:   req.Email,
			Summary: req.Summary,
			Detail:  req.Detail,
			Markup:  string(req.Markup),
			Changes: changesToAny(req.Changes),
		}
		if err := r.compactor.OnCommit(lagged); err != nil {
			return 0, nil, err
		}
	}

	return newRevision, pathsOf(diff), nil
}

func pathsOf(changes []object.Change) []string {
	paths := make([]string, 0, len(changes)*2)
	for _, c := range changes {
		if c.Type == object.Rename {
			paths = append(paths, c.OldPath)
		}
		paths = append(paths, c.Path)
	}
	return paths
}

func changesToAny(changes []object.Change) []any {
	out := make([]any, len(changes))
	for i, c := range changes {
		out[i] = c
	}
	return out
}
