// Package repository implements the Repository Core: the atomic commit
// pipeline and every read operation (normalize, find, get, diff,
// previewDiff, history, findLatestRevision, watch), each running
// asynchronously on a bounded worker pool behind a reader/writer lock per
// repository, exactly as the teacher's zeta/backend.Database pairs a
// sync.RWMutex with context-scoped read/write methods.
package repository

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/line/centraldogma-sub001/modules/applier"
	"github.com/line/centraldogma-sub001/modules/cache"
	"github.com/line/centraldogma-sub001/modules/commitindex"
	"github.com/line/centraldogma-sub001/modules/compactor"
	"github.com/line/centraldogma-sub001/modules/object"
	"github.com/line/centraldogma-sub001/modules/plumbing"
	"github.com/line/centraldogma-sub001/modules/watch"

	"github.com/sirupsen/logrus"

	"sync"
)

// Backend is the storage surface one sub-repository's Repository Core
// needs: the full Object Store (applier.Backend's blob/tree read-write
// plus commit and ref access), satisfied directly by *storage.Store.
type Backend interface {
	applier.Backend
	commitindex.CommitReader
	ReadRef() (plumbing.Hash, bool, error)
	UpdateRef(expectedOld *plumbing.Hash, newID plumbing.Hash) error
	PutCommit(c *object.Commit) (plumbing.Hash, error)
}

// Repository is one sub-repository's live, lock-guarded view: an Object
// Store, its Commit Index, a Change Applier bound to the same store, an
// optional shared Computation Cache, and a Watch Coordinator. Every
// public method is asynchronous, returning a Future.
type Repository struct {
	name      string
	backend   Backend
	index     *commitindex.Index
	applier   *applier.Applier
	cache     *cache.Cache // may be nil: caching is optional
	watches   *watch.Coordinator
	pool      *workerpool
	compactor *compactor.Compactor // may be nil: compaction is optional
	log       *logrus.Entry

	mu                sync.RWMutex
	head              int64
	headHash          plumbing.Hash
	closed            bool
	requestTimeout    time.Duration
	maxHistoryCommits int
}

// Options configures a new Repository.
type Options struct {
	Cache             *cache.Cache
	NumWorkers        int
	RequestTimeout    time.Duration
	MaxHistoryCommits int
	Compactor         *compactor.Compactor
	// Logger receives one entry per commit and watch registration/
	// resolution. Defaults to logrus.StandardLogger() tagged with the
	// repository name.
	Logger *logrus.Entry
}

// Open rebuilds the Commit Index from backend's ref (per §9: "rebuild the
// index from the ref on open whenever the cached head disagrees") and
// returns a ready Repository.
func Open(name string, backend Backend, opts Options) (*Repository, error) {
	headID, _, err := backend.ReadRef()
	if err != nil {
		return nil, err
	}
	idx, err := commitindex.Rebuild(backend, headID)
	if err != nil {
		return nil, err
	}
	numWorkers := opts.NumWorkers
	if numWorkers <= 0 {
		numWorkers = 4
	}
	maxHistory := opts.MaxHistoryCommits
	if maxHistory <= 0 {
		maxHistory = 1000
	}
	log := opts.Logger
	if log == nil {
		log = logrus.WithField("repository", name)
	}
	return &Repository{
		name:              name,
		backend:           backend,
		index:             idx,
		applier:           applier.New(backend),
		cache:             opts.Cache,
		watches:           watch.New(),
		pool:              newWorkerPool(numWorkers),
		compactor:         opts.Compactor,
		log:               log,
		head:              idx.Head(),
		headHash:          headID,
		requestTimeout:    opts.RequestTimeout,
		maxHistoryCommits: maxHistory,
	}, nil
}

// HistorySummary reports the Commit Index's current bounds and the
// timestamp of the commit immediately after First, the two inputs the
// Compactor's retention policy evaluates. It implements the bulk of what a
// compactor.Host needs for PrimarySummary/SecondarySummary.
func (r *Repository) HistorySummary() (compactor.HistorySummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.checkOpenLocked(); err != nil {
		return compactor.HistorySummary{}, err
	}
	summary := compactor.HistorySummary{First: r.index.First(), Head: r.head}
	if second, ok := r.index.CommitID(summary.First + 1); ok {
		c, err := r.backend.ReadCommit(second)
		if err != nil {
			return compactor.HistorySummary{}, err
		}
		summary.SecondCommitTime = c.When
	}
	return summary, nil
}

// Close rejects every pending and future watch with the configured close
// error and stops the worker pool. It does not close the backend or the
// shared cache, which outlive individual repository instances.
func (r *Repository) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.watches.Close(plumbing.Cancelled())
	r.pool.Close()
}

func (r *Repository) checkOpenLocked() error {
	if r.closed {
		return plumbing.Cancelled()
	}
	return nil
}

// normalizeLocked converts revision to absolute against the currently
// held head, clamping below the first retained revision upward. Callers
// must hold at least the read lock.
func (r *Repository) normalizeLocked(revision int64) (int64, error) {
	if revision == 0 {
		return 0, plumbing.RevisionNotFound(revision)
	}
	var abs int64
	if revision > 0 {
		abs = revision
	} else {
		abs = r.head + revision + 1
	}
	if abs > r.head || abs < 1 {
		return 0, plumbing.RevisionNotFound(revision)
	}
	if first := r.index.First(); first > 0 && abs < first {
		abs = first
	}
	return abs, nil
}

// Normalize resolves revision (absolute or head-relative) to an absolute
// revision.
func (r *Repository) Normalize(ctx context.Context, revision int64) *Future[int64] {
	return submitAsync(ctx, r.pool, func() (int64, error) {
		r.mu.RLock()
		defer r.mu.RUnlock()
		if err := r.checkOpenLocked(); err != nil {
			return 0, err
		}
		return r.normalizeLocked(revision)
	})
}

func (r *Repository) treeAtLocked(revision int64) (plumbing.Hash, error) {
	id, ok := r.index.CommitID(revision)
	if !ok {
		return plumbing.ZeroHash, plumbing.RevisionNotFound(revision)
	}
	c, err := r.backend.ReadCommit(id)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	return c.Tree, nil
}

// pathEntry is one materialized tree-walk result: a full path paired with
// its originating TreeEntry.
type pathEntry struct {
	path  string
	entry object.TreeEntry
}

func walkTree(backend Backend, rootTree plumbing.Hash) ([]pathEntry, error) {
	var out []pathEntry
	var rec func(prefix string, id plumbing.Hash) error
	rec = func(prefix string, id plumbing.Hash) error {
		if id.IsZero() {
			return nil
		}
		t, err := backend.ReadTree(id)
		if err != nil {
			return err
		}
		for _, e := range t.Entries {
			path := prefix + "/" + e.Name
			out = append(out, pathEntry{path: path, entry: e})
			if e.Kind == object.KindTree {
				if err := rec(path, e.Hash); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := rec("", rootTree); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out, nil
}

// resolvePath navigates rootTree to path, returning (entry, true, nil) if
// present, (zero, false, nil) if absent, or a storage error.
func resolvePath(backend Backend, rootTree plumbing.Hash, path string) (object.TreeEntry, bool, error) {
	segs := splitAbsPath(path)
	if len(segs) == 0 {
		return object.TreeEntry{Kind: object.KindTree, Hash: rootTree}, true, nil
	}
	curHash := rootTree
	for i, seg := range segs {
		if curHash.IsZero() {
			return object.TreeEntry{}, false, nil
		}
		t, err := backend.ReadTree(curHash)
		if err != nil {
			return object.TreeEntry{}, false, err
		}
		e, ok := t.Find(seg)
		if !ok {
			return object.TreeEntry{}, false, nil
		}
		if i == len(segs)-1 {
			return e, true, nil
		}
		if e.Kind != object.KindTree {
			return object.TreeEntry{}, false, nil
		}
		curHash = e.Hash
	}
	return object.TreeEntry{}, false, nil
}

func splitAbsPath(path string) []string {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// entryType classifies a resolved tree entry the same way
// object.DetermineEntryType does for a plain path, except a KindTree
// entry is always DIRECTORY regardless of its name.
func entryType(path string, kind object.TreeEntryKind) object.EntryType {
	if kind == object.KindTree {
		return object.EntryDirectory
	}
	return object.DetermineEntryType(path)
}

func (r *Repository) effectiveTimeout(ctx context.Context) context.Context {
	if r.requestTimeout <= 0 {
		return ctx
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx
	}
	ctx, _ = context.WithTimeout(ctx, r.requestTimeout)
	return ctx
}
