// Package commitindex maintains the bidirectional mapping between revision
// numbers and commit ids for one sub-repository, and knows how to rebuild
// itself by walking the object store's linear history from the head ref.
package commitindex

import (
	"github.com/line/centraldogma-sub001/modules/object"
	"github.com/line/centraldogma-sub001/modules/plumbing"
)

// CommitReader is the subset of the Object Store the index needs to
// rebuild itself: read a commit by id.
type CommitReader interface {
	ReadCommit(id plumbing.Hash) (*object.Commit, error)
}

// Index is a dense, append-only revision<->commit id map plus the
// repository's first and head revision pointers.
type Index struct {
	byRevision map[int64]plumbing.Hash
	byHash     map[plumbing.Hash]int64
	first      int64
	head       int64
}

// New returns an empty index. Use Rebuild or Put to populate it.
func New() *Index {
	return &Index{byRevision: map[int64]plumbing.Hash{}, byHash: map[plumbing.Hash]int64{}}
}

// First returns the oldest retained revision, or 0 if the index is empty.
func (idx *Index) First() int64 { return idx.first }

// Head returns the newest revision, or 0 if the index is empty.
func (idx *Index) Head() int64 { return idx.head }

// CommitID returns the commit id for revision, if present.
func (idx *Index) CommitID(revision int64) (plumbing.Hash, bool) {
	id, ok := idx.byRevision[revision]
	return id, ok
}

// Revision returns the revision for a commit id, if present.
func (idx *Index) Revision(id plumbing.Hash) (int64, bool) {
	r, ok := idx.byHash[id]
	return r, ok
}

// Put records a new (revision, commit id) pair and advances Head/First.
// Revisions must be inserted in increasing order.
func (idx *Index) Put(revision int64, id plumbing.Hash) {
	idx.byRevision[revision] = id
	idx.byHash[id] = revision
	if idx.first == 0 || revision < idx.first {
		idx.first = revision
	}
	if revision > idx.head {
		idx.head = revision
	}
}

// Truncate discards every revision below newFirst, the bookkeeping side of
// compaction: the commits themselves are retained or discarded by the
// object store, this only updates what the index considers retained.
func (idx *Index) Truncate(newFirst int64) {
	for r := idx.first; r < newFirst; r++ {
		if id, ok := idx.byRevision[r]; ok {
			delete(idx.byRevision, r)
			delete(idx.byHash, id)
		}
	}
	idx.first = newFirst
}

// Rebuild discards the current contents and reconstructs the index by
// walking parent links from headID back to the initial commit. Used on
// open when the cached head disagrees with the ref, per §4.2/§6.
func Rebuild(reader CommitReader, headID plumbing.Hash) (*Index, error) {
	idx := New()
	if headID.IsZero() {
		return idx, nil
	}
	var chain []*object.Commit
	id := headID
	for {
		c, err := reader.ReadCommit(id)
		if err != nil {
			return nil, err
		}
		chain = append(chain, c)
		if !c.HasParent {
			break
		}
		id = c.Parent
	}
	// chain is head-to-root; replay root-to-head so Put sees increasing
	// revisions.
	for i := len(chain) - 1; i >= 0; i-- {
		c := chain[i]
		idx.Put(c.Message.Revision, c.Hash)
	}
	return idx, nil
}
