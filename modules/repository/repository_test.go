package repository

import (
	"context"
	"testing"
	"time"

	"github.com/line/centraldogma-sub001/modules/object"
	"github.com/line/centraldogma-sub001/modules/plumbing"
)

// memBackend is an in-memory Backend used by tests, the same pattern the
// applier and diffengine packages use for their own backend doubles.
type memBackend struct {
	blobs   map[plumbing.Hash][]byte
	trees   map[plumbing.Hash]*object.Tree
	commits map[plumbing.Hash]*object.Commit
	ref     plumbing.Hash
	hasRef  bool
}

func newMemBackend() *memBackend {
	return &memBackend{
		blobs:   map[plumbing.Hash][]byte{},
		trees:   map[plumbing.Hash]*object.Tree{},
		commits: map[plumbing.Hash]*object.Commit{},
	}
}

func (m *memBackend) ReadTree(id plumbing.Hash) (*object.Tree, error) {
	if id.IsZero() {
		return &object.Tree{}, nil
	}
	t, ok := m.trees[id]
	if !ok {
		return nil, plumbing.EntryNotFound(id.String())
	}
	return t, nil
}

func (m *memBackend) ReadBlob(id plumbing.Hash) (*object.Blob, error) {
	b, ok := m.blobs[id]
	if !ok {
		return nil, plumbing.EntryNotFound(id.String())
	}
	return &object.Blob{Data: b}, nil
}

func (m *memBackend) PutBlob(data []byte) (plumbing.Hash, error) {
	id := plumbing.SumBytes(data)
	m.blobs[id] = data
	return id, nil
}

func (m *memBackend) PutTree(entries []object.TreeEntry) (plumbing.Hash, error) {
	t := &object.Tree{Entries: entries}
	t.Sort()
	id := plumbing.SumBytes(t.Encode())
	m.trees[id] = t
	return id, nil
}

func (m *memBackend) ReadCommit(id plumbing.Hash) (*object.Commit, error) {
	c, ok := m.commits[id]
	if !ok {
		return nil, plumbing.EntryNotFound(id.String())
	}
	return c, nil
}

func (m *memBackend) PutCommit(c *object.Commit) (plumbing.Hash, error) {
	raw, err := c.Encode()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	id := plumbing.SumBytes(raw)
	c.Hash = id
	m.commits[id] = c
	return id, nil
}

func (m *memBackend) ReadRef() (plumbing.Hash, bool, error) {
	return m.ref, m.hasRef, nil
}

func (m *memBackend) UpdateRef(expectedOld *plumbing.Hash, newID plumbing.Hash) error {
	if expectedOld != nil {
		if m.hasRef != (*expectedOld != plumbing.ZeroHash) || m.ref != *expectedOld {
			return plumbing.StorageError(nil)
		}
	}
	m.ref = newID
	m.hasRef = true
	return nil
}

func mustOpen(t *testing.T) (*Repository, *memBackend) {
	t.Helper()
	be := newMemBackend()
	repo, err := Open("test", be, Options{NumWorkers: 2})
	if err != nil {
		t.Fatal(err)
	}
	return repo, be
}

func commitJSON(t *testing.T, repo *Repository, base int64, path string, v any, summary string) int64 {
	t.Helper()
	fut := repo.Commit(context.Background(), CommitRequest{
		Base:    base,
		When:    time.Unix(1700000000, 0).UTC(),
		Author:  "tester",
		Email:   "tester@example.com",
		Summary: summary,
		Markup:  object.MarkupPlaintext,
		Changes: []object.Change{object.UpsertJSONChange(path, v)},
	})
	rev, err := fut.Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return rev
}

func TestCommitAdvancesHeadAndPersistsContent(t *testing.T) {
	repo, _ := mustOpen(t)
	rev := commitJSON(t, repo, 0, "/a.json", map[string]any{"k": "v"}, "add a")
	if rev != 1 {
		t.Fatalf("expected revision 1, got %d", rev)
	}

	got, err := repo.Get(context.Background(), 1, Query{Kind: QueryIdentity, Path: "/a.json"}).Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	m, ok := got.Content.(map[string]any)
	if !ok || m["k"] != "v" {
		t.Fatalf("unexpected content: %#v", got.Content)
	}
}

func TestCommitStaleBaseConflicts(t *testing.T) {
	repo, _ := mustOpen(t)
	commitJSON(t, repo, 0, "/a.json", map[string]any{"k": "1"}, "add a")

	_, err := repo.Commit(context.Background(), CommitRequest{
		Base:    0,
		When:    time.Now(),
		Author:  "tester",
		Email:   "tester@example.com",
		Summary: "stale",
		Markup:  object.MarkupPlaintext,
		Changes: []object.Change{object.UpsertJSONChange("/b.json", map[string]any{})},
	}).Wait(context.Background())
	if !plumbing.IsChangeConflict(err) {
		t.Fatalf("expected ChangeConflict, got %v", err)
	}
}

func TestCommitRedundantChangeRejected(t *testing.T) {
	repo, _ := mustOpen(t)
	rev := commitJSON(t, repo, 0, "/a.json", map[string]any{"k": "v"}, "add a")

	_, err := repo.Commit(context.Background(), CommitRequest{
		Base:    rev,
		When:    time.Now(),
		Author:  "tester",
		Email:   "tester@example.com",
		Summary: "noop",
		Markup:  object.MarkupPlaintext,
		Changes: []object.Change{object.UpsertJSONChange("/a.json", map[string]any{"k": "v"})},
	}).Wait(context.Background())
	if !plumbing.IsRedundantChange(err) {
		t.Fatalf("expected RedundantChange, got %v", err)
	}
}

func TestFindListsEntriesMatchingPattern(t *testing.T) {
	repo, _ := mustOpen(t)
	rev := commitJSON(t, repo, 0, "/a/one.json", map[string]any{}, "add one")
	fut := repo.Commit(context.Background(), CommitRequest{
		Base:    rev,
		When:    time.Now(),
		Author:  "tester",
		Email:   "tester@example.com",
		Summary: "add two",
		Markup:  object.MarkupPlaintext,
		Changes: []object.Change{object.UpsertJSONChange("/b/two.json", map[string]any{})},
	})
	rev2, err := fut.Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	entries, err := repo.Find(context.Background(), rev2, "/a/**", true, 0).Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Path != "/a" || entries[1].Path != "/a/one.json" {
		t.Fatalf("unexpected entries: %#v", entries)
	}
}

func TestFindHonorsMaxEntries(t *testing.T) {
	repo, _ := mustOpen(t)
	rev := commitJSON(t, repo, 0, "/a/one.json", map[string]any{}, "add one")
	fut := repo.Commit(context.Background(), CommitRequest{
		Base:    rev,
		When:    time.Now(),
		Author:  "tester",
		Email:   "tester@example.com",
		Summary: "add two",
		Markup:  object.MarkupPlaintext,
		Changes: []object.Change{object.UpsertJSONChange("/a/two.json", map[string]any{})},
	})
	rev2, err := fut.Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	entries, err := repo.Find(context.Background(), rev2, "/a/**", true, 1).Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected maxEntries to cap results at 1, got %d: %#v", len(entries), entries)
	}
}

func TestHistoryOrdersByFromToDirection(t *testing.T) {
	repo, _ := mustOpen(t)
	rev1 := commitJSON(t, repo, 0, "/a.json", map[string]any{"k": "1"}, "add a")
	rev2 := commitJSON(t, repo, rev1, "/a.json", map[string]any{"k": "2"}, "update a")
	rev3 := commitJSON(t, repo, rev2, "/a.json", map[string]any{"k": "3"}, "update a again")

	ascending, err := repo.History(context.Background(), 0, rev3, "/a.json", 10).Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(ascending) != 3 || ascending[0].Revision != rev1 || ascending[2].Revision != rev3 {
		t.Fatalf("expected ascending [%d,%d,%d], got %#v", rev1, rev2, rev3, ascending)
	}

	descending, err := repo.History(context.Background(), -1, 1, "/a.json", 10).Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(descending) != 3 || descending[0].Revision != rev3 || descending[2].Revision != rev1 {
		t.Fatalf("expected descending [%d,%d,%d], got %#v", rev3, rev2, rev1, descending)
	}

	limited, err := repo.History(context.Background(), -1, 1, "/a.json", 1).Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].Revision != rev3 {
		t.Fatalf("expected the single newest commit %d, got %#v", rev3, limited)
	}
}

func TestDiffReportsAddedPath(t *testing.T) {
	repo, _ := mustOpen(t)
	rev1 := commitJSON(t, repo, 0, "/a.json", map[string]any{"k": "1"}, "add a")
	rev2 := commitJSON(t, repo, rev1, "/b.json", map[string]any{"k": "2"}, "add b")

	changes, err := repo.Diff(context.Background(), rev1, rev2, "/**").Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := changes["/b.json"]; !ok {
		t.Fatalf("expected diff to report /b.json, got %#v", changes)
	}
}

func TestWatchResolvesSynchronouslyWhenHistoryAlreadyMatches(t *testing.T) {
	repo, _ := mustOpen(t)
	rev := commitJSON(t, repo, 0, "/a.json", map[string]any{}, "add a")

	got, err := repo.Watch(context.Background(), 0, "/a.json").Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != rev {
		t.Fatalf("expected %d, got %d", rev, got)
	}
}

func TestWatchResolvesWhenMatchingCommitLandsLater(t *testing.T) {
	repo, _ := mustOpen(t)
	rev1 := commitJSON(t, repo, 0, "/a.json", map[string]any{}, "add a")

	fut := repo.Watch(context.Background(), rev1, "/b.json")

	done := make(chan int64, 1)
	errCh := make(chan error, 1)
	go func() {
		rev, err := fut.Wait(context.Background())
		done <- rev
		errCh <- err
	}()

	commitJSON(t, repo, rev1, "/b.json", map[string]any{}, "add b")

	select {
	case rev := <-done:
		if err := <-errCh; err != nil {
			t.Fatal(err)
		}
		if rev != rev1+1 {
			t.Fatalf("expected revision %d, got %d", rev1+1, rev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not resolve in time")
	}
}

func TestGetJSONPathEvaluatesExpression(t *testing.T) {
	repo, _ := mustOpen(t)
	commitJSON(t, repo, 0, "/a.json", map[string]any{"nested": map[string]any{"k": "v"}}, "add a")

	got, err := repo.Get(context.Background(), 1, Query{Kind: QueryJSONPath, Path: "/a.json", Expr: "nested.k"}).Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "v" {
		t.Fatalf("expected 'v', got %#v", got.Content)
	}
}

func TestCloseRejectsPendingWatch(t *testing.T) {
	repo, _ := mustOpen(t)
	commitJSON(t, repo, 0, "/a.json", map[string]any{}, "add a")

	fut := repo.Watch(context.Background(), 1, "/never.json")
	repo.Close()

	_, err := fut.Wait(context.Background())
	if !plumbing.IsCancelled(err) {
		t.Fatalf("expected Cancelled, got %v", err)
	}
}
