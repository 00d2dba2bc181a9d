package manager

import (
	"os"
	"testing"
	"time"

	"github.com/line/centraldogma-sub001/config"
	"github.com/line/centraldogma-sub001/modules/plumbing"
)

func mustManager(t *testing.T) *Manager {
	t.Helper()
	dir, err := os.MkdirTemp("", "dogma-manager-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	m, err := Open(dir, config.Default())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(m.Close)
	return m
}

func TestCreateThenOpenRoundTrips(t *testing.T) {
	m := mustManager(t)
	if err := m.Create("proj", "repo", "tester", "tester@example.com"); err != nil {
		t.Fatal(err)
	}
	r, err := m.OpenRepository("proj", "repo")
	if err != nil {
		t.Fatal(err)
	}
	if r == nil {
		t.Fatal("expected non-nil repository handle")
	}
}

func TestCreateTwiceRejected(t *testing.T) {
	m := mustManager(t)
	if err := m.Create("proj", "repo", "tester", "tester@example.com"); err != nil {
		t.Fatal(err)
	}
	err := m.Create("proj", "repo", "tester", "tester@example.com")
	if !plumbing.IsRepositoryExists(err) {
		t.Fatalf("expected RepositoryExists, got %v", err)
	}
}

func TestOpenUnknownRepositoryFails(t *testing.T) {
	m := mustManager(t)
	_, err := m.OpenRepository("proj", "nope")
	if !plumbing.IsRepositoryNotFound(err) {
		t.Fatalf("expected RepositoryNotFound, got %v", err)
	}
}

func TestRemoveThenListExcludesRepository(t *testing.T) {
	m := mustManager(t)
	if err := m.Create("proj", "repo", "tester", "tester@example.com"); err != nil {
		t.Fatal(err)
	}
	if err := m.Remove("proj", "repo"); err != nil {
		t.Fatal(err)
	}

	names, err := m.List("proj")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 0 {
		t.Fatalf("expected no active repositories, got %v", names)
	}

	removed, err := m.ListRemoved("proj")
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 1 || removed[0].Name != "repo" {
		t.Fatalf("expected repo in removed list, got %#v", removed)
	}

	if _, err := m.OpenRepository("proj", "repo"); !plumbing.IsRepositoryNotFound(err) {
		t.Fatalf("expected RepositoryNotFound for removed repository, got %v", err)
	}
}

func TestUnremoveRestoresRepository(t *testing.T) {
	m := mustManager(t)
	if err := m.Create("proj", "repo", "tester", "tester@example.com"); err != nil {
		t.Fatal(err)
	}
	if err := m.Remove("proj", "repo"); err != nil {
		t.Fatal(err)
	}
	if err := m.Unremove("proj", "repo"); err != nil {
		t.Fatal(err)
	}

	names, err := m.List("proj")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "repo" {
		t.Fatalf("expected repo restored to active list, got %v", names)
	}
}

func TestPurgeRequiresPriorRemove(t *testing.T) {
	m := mustManager(t)
	if err := m.Create("proj", "repo", "tester", "tester@example.com"); err != nil {
		t.Fatal(err)
	}
	if err := m.Purge("proj", "repo"); !plumbing.IsRepositoryNotFound(err) {
		t.Fatalf("expected RepositoryNotFound for non-removed purge, got %v", err)
	}
}

func TestMarkForPurgeThenPurgeDeletesTombstone(t *testing.T) {
	m := mustManager(t)
	if err := m.Create("proj", "repo", "tester", "tester@example.com"); err != nil {
		t.Fatal(err)
	}
	if err := m.Remove("proj", "repo"); err != nil {
		t.Fatal(err)
	}
	if err := m.MarkForPurge("proj", "repo", time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if err := m.Purge("proj", "repo"); err != nil {
		t.Fatal(err)
	}

	removed, err := m.ListRemoved("proj")
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 0 {
		t.Fatalf("expected no removed repositories after purge, got %#v", removed)
	}
	if _, err := os.Stat(m.repoDir("proj", "repo") + tombstoneSuffix); !os.IsNotExist(err) {
		t.Fatalf("expected tombstone directory to be gone, got err=%v", err)
	}
}

func TestInvalidNamesRejected(t *testing.T) {
	m := mustManager(t)
	if err := m.Create("proj", "metadata", "tester", "tester@example.com"); !plumbing.IsErrBadName(err) {
		t.Fatalf("expected ErrBadName for reserved name, got %v", err)
	}
}
