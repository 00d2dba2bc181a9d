package manager

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/line/centraldogma-sub001/modules/applier"
	"github.com/line/centraldogma-sub001/modules/commitindex"
	"github.com/line/centraldogma-sub001/modules/compactor"
	"github.com/line/centraldogma-sub001/modules/object"
	"github.com/line/centraldogma-sub001/modules/plumbing"
	"github.com/line/centraldogma-sub001/modules/repository"
	"github.com/line/centraldogma-sub001/modules/storage"

	"github.com/sirupsen/logrus"
)

// compactionMaxEntries caps the single Find call BuildSecondary issues to
// materialize a repository's entire tree at the snapshot revision. Unlike
// an API-facing Find, there is no caller to honor a smaller cap for: the
// secondary's initial commit needs every entry that exists.
const compactionMaxEntries = 1 << 30

// repoHost is the Compactor's Host for one Manager-owned repository: it
// drives a real second storage.Store, materialized by BuildSecondary,
// mirrored commit-by-commit by ReplayIntoSecondary/MirrorCommit, and
// finally swapped in as the new primary directory by Promote, per §4.9.
// repo is set once by Manager right after repository.Open returns,
// breaking the construction cycle between a Repository and the Compactor
// it owns.
type repoHost struct {
	mgr     *Manager
	project string
	name    string
	repo    *repository.Repository

	mu        sync.Mutex
	secondary *secondaryHandle // non-nil from AttachSecondary through Promote
}

// secondaryHandle is the secondary sub-repository's live state: its own
// object store and a Commit Index tracking the revisions committed into
// it so far. It starts life not-yet-attached (returned by BuildSecondary)
// and becomes the attached secondary once AttachSecondary installs it.
type secondaryHandle struct {
	dir   string
	store *storage.Store
	index *commitindex.Index
}

func (h *repoHost) secondaryDir() string {
	return h.mgr.repoDir(h.project, h.name) + ".compacting"
}

// PrimarySummary reports the live primary's real Commit Index bounds, so
// MaybeBeginBuild evaluates the retention policy against live history.
func (h *repoHost) PrimarySummary() (compactor.HistorySummary, error) {
	return h.repo.HistorySummary()
}

// SecondarySummary reports the attached secondary's bounds, built the
// same way HistorySummary does for the primary but against the
// secondary's own Commit Index.
func (h *repoHost) SecondarySummary() (compactor.HistorySummary, error) {
	h.mu.Lock()
	sh := h.secondary
	h.mu.Unlock()
	if sh == nil {
		return compactor.HistorySummary{}, fmt.Errorf("dogma: no secondary attached")
	}
	summary := compactor.HistorySummary{First: sh.index.First(), Head: sh.index.Head()}
	if id, ok := sh.index.CommitID(summary.First + 1); ok {
		c, err := sh.store.ReadCommit(id)
		if err != nil {
			return compactor.HistorySummary{}, err
		}
		summary.SecondCommitTime = c.When
	}
	return summary, nil
}

// BuildSecondary runs off the writer lock: it reads the primary's full
// tree at headRevision via Find, replays it as a batch of upserts into a
// brand-new object store, and commits the result as a synthetic root
// commit whose revision is headRevision itself (not 1), so the secondary's
// numbering stays aligned with the primary's once promoted.
func (h *repoHost) BuildSecondary(headRevision int64) (any, error) {
	dir := h.secondaryDir()
	if err := os.RemoveAll(dir); err != nil {
		return nil, plumbing.StorageError(err)
	}
	store, err := storage.Open(dir)
	if err != nil {
		return nil, err
	}

	entries, err := h.repo.Find(context.Background(), headRevision, "/**", true, compactionMaxEntries).Wait(context.Background())
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	changes := make([]object.Change, 0, len(entries))
	for _, e := range entries {
		switch e.Type {
		case object.EntryJSON:
			changes = append(changes, object.UpsertJSONChange(e.Path, e.Content))
		case object.EntryText:
			text, _ := e.Content.(string)
			changes = append(changes, object.UpsertTextChange(e.Path, text))
		}
	}

	result, err := applier.New(store).Apply(plumbing.ZeroHash, changes)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	c := &object.Commit{
		Author:    "compactor",
		Email:     "compactor@dogma",
		When:      time.Now(),
		HasParent: false,
		Tree:      result.TreeID,
		Message:   object.Message{Summary: "Compact base revision", Markup: object.MarkupPlaintext, Revision: headRevision},
	}
	id, err := store.PutCommit(c)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	if err := store.UpdateRef(nil, id); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	idx := commitindex.New()
	idx.Put(headRevision, id)
	return &secondaryHandle{dir: dir, store: store, index: idx}, nil
}

// ReplayIntoSecondary applies one lagged primary commit to the
// not-yet-attached secondary, in order, advancing its Commit Index.
func (h *repoHost) ReplayIntoSecondary(handle any, commit compactor.LaggedCommit) error {
	sh, ok := handle.(*secondaryHandle)
	if !ok {
		return plumbing.StorageError(fmt.Errorf("compaction: unexpected secondary handle type %T", handle))
	}
	return appendSecondaryCommit(sh, commit)
}

// AttachSecondary makes handle the live secondary; subsequent primary
// commits are mirrored into it via MirrorCommit.
func (h *repoHost) AttachSecondary(handle any) error {
	sh, ok := handle.(*secondaryHandle)
	if !ok {
		return plumbing.StorageError(fmt.Errorf("compaction: unexpected secondary handle type %T", handle))
	}
	h.mu.Lock()
	h.secondary = sh
	h.mu.Unlock()
	return nil
}

// MirrorCommit applies one primary commit to the live secondary with an
// identical base/changes/message, per §4.9's mirroring contract.
func (h *repoHost) MirrorCommit(commit compactor.LaggedCommit) error {
	h.mu.Lock()
	sh := h.secondary
	h.mu.Unlock()
	if sh == nil {
		return fmt.Errorf("dogma: mirror called without an attached secondary")
	}
	return appendSecondaryCommit(sh, commit)
}

// appendSecondaryCommit applies commit against the secondary's current
// head tree and advances its Commit Index by one revision, the operation
// shared by ReplayIntoSecondary (pre-attach) and MirrorCommit (post-attach).
func appendSecondaryCommit(sh *secondaryHandle, commit compactor.LaggedCommit) error {
	parentRev := sh.index.Head()
	parentHash, ok := sh.index.CommitID(parentRev)
	if !ok {
		return plumbing.StorageError(fmt.Errorf("compaction: secondary has no recorded head"))
	}
	parentCommit, err := sh.store.ReadCommit(parentHash)
	if err != nil {
		return err
	}
	changes, err := changesFromAny(commit.Changes)
	if err != nil {
		return err
	}
	result, err := applier.New(sh.store).Apply(parentCommit.Tree, changes)
	if err != nil {
		return err
	}
	newRev := parentRev + 1
	c := &object.Commit{
		Author:    commit.Author,
		Email:     commit.Email,
		When:      commit.When,
		Parent:    parentHash,
		HasParent: true,
		Tree:      result.TreeID,
		Message:   object.Message{Summary: commit.Summary, Detail: commit.Detail, Markup: object.Markup(commit.Markup), Revision: newRev},
	}
	newID, err := sh.store.PutCommit(c)
	if err != nil {
		return err
	}
	if err := sh.store.UpdateRef(&parentHash, newID); err != nil {
		return err
	}
	sh.index.Put(newRev, newID)
	return nil
}

func changesFromAny(raw []any) ([]object.Change, error) {
	out := make([]object.Change, len(raw))
	for i, v := range raw {
		c, ok := v.(object.Change)
		if !ok {
			return nil, plumbing.StorageError(fmt.Errorf("compaction: lagged change %d has unexpected type %T", i, v))
		}
		out[i] = c
	}
	return out, nil
}

// DiscardSecondary deletes a partially built or attached secondary's
// on-disk store and, if it was the attached one, clears the pointer.
func (h *repoHost) DiscardSecondary(handle any) {
	sh, ok := handle.(*secondaryHandle)
	if !ok || sh == nil {
		return
	}
	os.RemoveAll(sh.dir)
	h.mu.Lock()
	if h.secondary == sh {
		h.secondary = nil
	}
	h.mu.Unlock()
}

// Promote swaps the attached secondary in as the new primary directory:
// the live Repository handle is closed, the primary directory is renamed
// aside and the secondary's directory renamed into its place, the old
// directory is deleted, and a fresh Repository/Compactor/Host is opened
// on what is now the primary and installed into the Manager's open map.
// Concurrent callers that cached the pre-promotion *repository.Repository
// see it as closed; they must re-resolve through the Manager to observe
// the promoted repository, the one coordination point this engine does
// not hide behind the old handle.
func (h *repoHost) Promote() error {
	h.mu.Lock()
	sh := h.secondary
	h.mu.Unlock()
	if sh == nil {
		return plumbing.ChangeConflict("promote called without an attached secondary")
	}

	m := h.mgr
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(h.project, h.name)
	if old, ok := m.open[k]; ok {
		old.Close()
	}

	primaryDir := m.repoDir(h.project, h.name)
	retiredDir := primaryDir + ".retired"
	os.RemoveAll(retiredDir)
	if err := os.Rename(primaryDir, retiredDir); err != nil {
		return plumbing.StorageError(err)
	}
	if err := os.Rename(sh.dir, primaryDir); err != nil {
		os.Rename(retiredDir, primaryDir)
		return plumbing.StorageError(err)
	}
	if err := os.RemoveAll(retiredDir); err != nil {
		m.log.WithFields(logrus.Fields{"project": h.project, "repository": h.name, "error": err}).Warn("compaction: failed to delete retired primary directory")
	}

	store, err := storage.Open(primaryDir)
	if err != nil {
		return err
	}
	newHost := &repoHost{mgr: m, project: h.project, name: h.name}
	r, err := repository.Open(k, store, repository.Options{
		Cache:             m.cache,
		NumWorkers:        m.cfg.NumRepositoryWorkers,
		RequestTimeout:    m.cfg.RequestTimeout(),
		MaxHistoryCommits: m.cfg.MaxNumCommitsPerHistory,
		Compactor:         compactor.New(compactor.Policy{MinRetentionCommits: m.cfg.MinRetentionCommits, MinRetentionDays: m.cfg.MinRetentionDays}, newHost),
		Logger:            m.log.WithFields(logrus.Fields{"project": h.project, "repository": h.name}),
	})
	if err != nil {
		return err
	}
	newHost.repo = r
	m.open[k] = r

	h.mu.Lock()
	h.secondary = nil
	h.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"project": h.project, "repository": h.name, "first_revision": sh.index.First(), "head_revision": sh.index.Head(),
	}).Info("compaction: secondary promoted")
	return nil
}
