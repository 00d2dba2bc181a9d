package diffengine

import (
	"testing"

	"github.com/line/centraldogma-sub001/modules/object"
	"github.com/line/centraldogma-sub001/modules/pathfilter"
	"github.com/line/centraldogma-sub001/modules/plumbing"
)

type memBackend struct {
	blobs map[plumbing.Hash][]byte
	trees map[plumbing.Hash]*object.Tree
}

func newMemBackend() *memBackend {
	return &memBackend{blobs: map[plumbing.Hash][]byte{}, trees: map[plumbing.Hash]*object.Tree{}}
}

func (m *memBackend) ReadTree(id plumbing.Hash) (*object.Tree, error) {
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

func (m *memBackend) putBlob(data []byte) plumbing.Hash {
	id := plumbing.SumBytes(data)
	m.blobs[id] = data
	return id
}

func (m *memBackend) putTree(entries ...object.TreeEntry) plumbing.Hash {
	t := &object.Tree{Entries: entries}
	t.Sort()
	id := plumbing.SumBytes(t.Encode())
	m.trees[id] = t
	return id
}

func findByPath(changes []object.Change, path string) (object.Change, bool) {
	for _, c := range changes {
		if c.Path == path {
			return c, true
		}
	}
	return object.Change{}, false
}

func TestDiffDetectsAdd(t *testing.T) {
	be := newMemBackend()
	blobID := be.putBlob([]byte(`{"k":"v"}`))
	fromTree := be.putTree()
	toTree := be.putTree(object.TreeEntry{Name: "a.json", Kind: object.KindBlob, Hash: blobID})

	changes, err := Diff(be, fromTree, toTree, nil)
	if err != nil {
		t.Fatal(err)
	}
	c, ok := findByPath(changes, "/a.json")
	if !ok {
		t.Fatalf("expected change at /a.json, got %+v", changes)
	}
	if c.Type != object.UpsertJSON {
		t.Fatalf("expected UpsertJSON, got %s", c.Type)
	}
}

func TestDiffDetectsDelete(t *testing.T) {
	be := newMemBackend()
	blobID := be.putBlob([]byte("hello\n"))
	fromTree := be.putTree(object.TreeEntry{Name: "a.txt", Kind: object.KindBlob, Hash: blobID})
	toTree := be.putTree()

	changes, err := Diff(be, fromTree, toTree, nil)
	if err != nil {
		t.Fatal(err)
	}
	c, ok := findByPath(changes, "/a.txt")
	if !ok || c.Type != object.Remove {
		t.Fatalf("expected REMOVE at /a.txt, got %+v", changes)
	}
}

func TestDiffDetectsJSONModifyAsSafeReplacePatch(t *testing.T) {
	be := newMemBackend()
	oldBlob := be.putBlob([]byte(`{"k":"v","x":1}`))
	newBlob := be.putBlob([]byte(`{"k":"w","x":1}`))
	fromTree := be.putTree(object.TreeEntry{Name: "a.json", Kind: object.KindBlob, Hash: oldBlob})
	toTree := be.putTree(object.TreeEntry{Name: "a.json", Kind: object.KindBlob, Hash: newBlob})

	changes, err := Diff(be, fromTree, toTree, nil)
	if err != nil {
		t.Fatal(err)
	}
	c, ok := findByPath(changes, "/a.json")
	if !ok || c.Type != object.ApplyJSONPatch {
		t.Fatalf("expected ApplyJSONPatch at /a.json, got %+v", changes)
	}
	ops, ok := c.JSON.([]any)
	if !ok || len(ops) != 1 {
		t.Fatalf("expected exactly one patch op, got %v", c.JSON)
	}
	op := ops[0].(map[string]any)
	if op["path"] != "/k" || op["value"] != "w" {
		t.Fatalf("unexpected op: %+v", op)
	}
}

func TestDiffDetectsTextModify(t *testing.T) {
	be := newMemBackend()
	oldBlob := be.putBlob([]byte("hello\n"))
	newBlob := be.putBlob([]byte("world\n"))
	fromTree := be.putTree(object.TreeEntry{Name: "a.txt", Kind: object.KindBlob, Hash: oldBlob})
	toTree := be.putTree(object.TreeEntry{Name: "a.txt", Kind: object.KindBlob, Hash: newBlob})

	changes, err := Diff(be, fromTree, toTree, nil)
	if err != nil {
		t.Fatal(err)
	}
	c, ok := findByPath(changes, "/a.txt")
	if !ok || c.Type != object.ApplyTextPatch {
		t.Fatalf("expected ApplyTextPatch at /a.txt, got %+v", changes)
	}
	if c.OldText != "hello\n" || c.Text != "world\n" {
		t.Fatalf("unexpected patch content: %+v", c)
	}
	if c.UnifiedDiff == "" {
		t.Fatal("expected non-empty unified diff")
	}
}

func TestDiffDetectsPureRenameByExactHash(t *testing.T) {
	be := newMemBackend()
	blobID := be.putBlob([]byte("hello\n"))
	fromTree := be.putTree(object.TreeEntry{Name: "a.txt", Kind: object.KindBlob, Hash: blobID})
	toTree := be.putTree(object.TreeEntry{Name: "b.txt", Kind: object.KindBlob, Hash: blobID})

	changes, err := Diff(be, fromTree, toTree, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 {
		t.Fatalf("expected exactly 1 change, got %+v", changes)
	}
	c := changes[0]
	if c.Type != object.Rename || c.OldPath != "/a.txt" || c.Path != "/b.txt" {
		t.Fatalf("expected RENAME /a.txt -> /b.txt, got %+v", c)
	}
}

func TestDiffDetectsModifyAndRenameViaBasename(t *testing.T) {
	be := newMemBackend()
	oldBlob := be.putBlob([]byte("hello\n"))
	newBlob := be.putBlob([]byte("world\n"))
	fromTree := be.putTree(object.TreeEntry{Name: "dir1", Kind: object.KindTree, Hash: be.putTree(
		object.TreeEntry{Name: "a.txt", Kind: object.KindBlob, Hash: oldBlob},
	)})
	toTree := be.putTree(object.TreeEntry{Name: "dir2", Kind: object.KindTree, Hash: be.putTree(
		object.TreeEntry{Name: "a.txt", Kind: object.KindBlob, Hash: newBlob},
	)})

	changes, err := Diff(be, fromTree, toTree, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 2 {
		t.Fatalf("expected a RENAME followed by a content patch, got %+v", changes)
	}
	rn := changes[0]
	if rn.Type != object.Rename || rn.OldPath != "/dir1/a.txt" || rn.Path != "/dir2/a.txt" {
		t.Fatalf("expected rename entry first, got %+v", rn)
	}
	patch := changes[1]
	if patch.Type != object.ApplyTextPatch || patch.Path != "/dir2/a.txt" {
		t.Fatalf("expected content patch at new path second, got %+v", patch)
	}
	if patch.OldText != "hello\n" || patch.Text != "world\n" {
		t.Fatalf("unexpected patch content: %+v", patch)
	}
}

func TestDiffRespectsPathFilter(t *testing.T) {
	be := newMemBackend()
	blobA := be.putBlob([]byte("a\n"))
	blobB := be.putBlob([]byte("b\n"))
	fromTree := be.putTree()
	toTree := be.putTree(
		object.TreeEntry{Name: "keep.txt", Kind: object.KindBlob, Hash: blobA},
		object.TreeEntry{Name: "skip.txt", Kind: object.KindBlob, Hash: blobB},
	)

	changes, err := Diff(be, fromTree, toTree, pathfilter.Compile("/keep.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 {
		t.Fatalf("expected 1 filtered change, got %+v", changes)
	}
	if _, ok := findByPath(changes, "/keep.txt"); !ok {
		t.Fatalf("expected /keep.txt to survive the filter, got %+v", changes)
	}
}

func TestUnifiedLineDiffRendersAddAndRemove(t *testing.T) {
	out := UnifiedLineDiff("a\nb\nc\n", "a\nx\nc\n")
	if out == "" {
		t.Fatal("expected non-empty diff")
	}
}
