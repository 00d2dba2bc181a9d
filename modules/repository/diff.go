package repository

import (
	"context"

	"github.com/line/centraldogma-sub001/modules/cache"
	"github.com/line/centraldogma-sub001/modules/diffengine"
	"github.com/line/centraldogma-sub001/modules/object"
	"github.com/line/centraldogma-sub001/modules/pathfilter"
	"github.com/line/centraldogma-sub001/modules/plumbing"
)

// changesToMap folds the Diff Engine's ordered change list into the
// path-keyed map the public contract returns. A RENAME is keyed by its
// OldPath rather than its new Path: the paired content-patch entry the
// Diff Engine emits right after it targets the same new Path, and keying
// both by Path would let the patch silently clobber the rename in the
// map.
func changesToMap(changes []object.Change) map[string]object.Change {
	out := make(map[string]object.Change, len(changes))
	for _, c := range changes {
		if c.Type == object.Rename {
			out[c.OldPath] = c
			continue
		}
		out[c.Path] = c
	}
	return out
}

// Diff computes the path-keyed change set between two revisions,
// restricted to pattern.
func (r *Repository) Diff(ctx context.Context, from, to int64, pattern string) *Future[map[string]object.Change] {
	return submitAsync(ctx, r.pool, func() (map[string]object.Change, error) {
		r.mu.RLock()
		defer r.mu.RUnlock()
		if err := r.checkOpenLocked(); err != nil {
			return nil, err
		}
		changes, _, err := r.diffRevisionsLocked(from, to, pattern)
		if err != nil {
			return nil, err
		}
		return changesToMap(changes), nil
	})
}

// treeOrEmptyLocked resolves revision the same way treeAtLocked does,
// except revision 0 is accepted and resolves to the empty tree -- the
// state of the world before the first commit, used as history's and
// diff's lower bound.
func (r *Repository) treeOrEmptyLocked(revision int64) (int64, plumbing.Hash, error) {
	if revision == 0 {
		return 0, plumbing.ZeroHash, nil
	}
	abs, err := r.normalizeLocked(revision)
	if err != nil {
		return 0, plumbing.ZeroHash, err
	}
	tree, err := r.treeAtLocked(abs)
	if err != nil {
		return 0, plumbing.ZeroHash, err
	}
	return abs, tree, nil
}

// diffRevisionsLocked is the shared implementation behind Diff, History
// and FindLatestRevision's slow path. Callers must hold at least the read
// lock.
func (r *Repository) diffRevisionsLocked(from, to int64, pattern string) ([]object.Change, [2]plumbing.Hash, error) {
	absFrom, fromTree, err := r.treeOrEmptyLocked(from)
	if err != nil {
		return nil, [2]plumbing.Hash{}, err
	}
	absTo, toTree, err := r.treeOrEmptyLocked(to)
	if err != nil {
		return nil, [2]plumbing.Hash{}, err
	}
	trees := [2]plumbing.Hash{fromTree, toTree}
	if fromTree == toTree {
		return nil, trees, nil
	}
	filter := pathfilter.Compile(pattern)
	key := cache.Key{Repository: r.name, FromRevision: absFrom, ToRevision: absTo, Pattern: pattern}
	if r.cache == nil {
		changes, err := diffengine.Diff(r.backend, fromTree, toTree, filter)
		return changes, trees, err
	}
	v, err := r.cache.GetOrCompute(key, 1, func() (any, error) {
		return diffengine.Diff(r.backend, fromTree, toTree, filter)
	})
	if err != nil {
		return nil, trees, err
	}
	return v.([]object.Change), trees, nil
}

// PreviewResult is the outcome of PreviewDiff: the change set a commit
// with these changes would produce against base, without persisting
// anything.
type PreviewResult struct {
	Changes     []object.Change
	WouldBeTree plumbing.Hash
}

// PreviewDiff applies changes against base in memory (without persisting
// the result) and returns the resulting diff, letting a caller validate a
// batch of changes before committing it.
func (r *Repository) PreviewDiff(ctx context.Context, base int64, changes []object.Change) *Future[PreviewResult] {
	return submitAsync(ctx, r.pool, func() (PreviewResult, error) {
		r.mu.RLock()
		defer r.mu.RUnlock()
		if err := r.checkOpenLocked(); err != nil {
			return PreviewResult{}, err
		}
		absBase, err := r.normalizeLocked(base)
		if err != nil {
			return PreviewResult{}, err
		}
		baseTree, err := r.treeAtLocked(absBase)
		if err != nil {
			return PreviewResult{}, err
		}
		result, err := r.applier.Apply(baseTree, changes)
		if err != nil {
			return PreviewResult{}, err
		}
		if result.TreeID == baseTree {
			return PreviewResult{}, plumbing.RedundantChange()
		}
		diff, err := diffengine.Diff(r.backend, baseTree, result.TreeID, nil)
		if err != nil {
			return PreviewResult{}, err
		}
		return PreviewResult{Changes: diff, WouldBeTree: result.TreeID}, nil
	})
}
