package storage

import (
	"testing"

	"github.com/line/centraldogma-sub001/modules/plumbing"
)

func TestBlobPutRead(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	id, err := s.PutBlob([]byte("hello world"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.ReadBlob(id)
	if err != nil {
		t.Fatal(err)
	}
	if string(b.Data) != "hello world" {
		t.Fatalf("got %q", b.Data)
	}
}

func TestPutBlobIsContentAddressed(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	id1, err := s.PutBlob([]byte("same"))
	if err != nil {
		t.Fatal(err)
	}
	id2, err := s.PutBlob([]byte("same"))
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Fatalf("expected identical ids for identical content, got %s vs %s", id1, id2)
	}
}

func TestRefCompareAndSwap(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok, err := s.ReadRef(); err != nil || ok {
		t.Fatalf("expected no ref yet, ok=%v err=%v", ok, err)
	}
	zero := plumbing.ZeroHash
	first := plumbing.NewHash("aa")
	if err := s.UpdateRef(&zero, first); err != nil {
		t.Fatal(err)
	}
	cur, ok, err := s.ReadRef()
	if err != nil || !ok || cur != first {
		t.Fatalf("got cur=%s ok=%v err=%v", cur, ok, err)
	}
	stale := plumbing.NewHash("bb")
	second := plumbing.NewHash("cc")
	if err := s.UpdateRef(&stale, second); err == nil {
		t.Fatal("expected CAS failure on stale expected-old")
	}
	if err := s.UpdateRef(&first, second); err != nil {
		t.Fatal(err)
	}
}

func TestOpenVerifiesFormatVersion(t *testing.T) {
	dir := t.TempDir()
	if _, err := Open(dir); err != nil {
		t.Fatal(err)
	}
	if err := writeTOML(dir+"/config.toml", config{RepositoryFormatVersion: 2}); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(dir); !plumbing.IsStorageError(err) {
		t.Fatalf("expected StorageError on format mismatch, got %v", err)
	}
}
