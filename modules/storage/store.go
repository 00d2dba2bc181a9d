// Package storage implements the content-addressed Object Store: durable,
// synchronous blob/tree/commit persistence and a single mutable ref per
// sub-repository, laid out on disk the way the teacher's zeta backend lays
// out its own object database.
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/line/centraldogma-sub001/modules/object"
	"github.com/line/centraldogma-sub001/modules/plumbing"
)

const (
	objectsDir   = "objects"
	refsHeadFile = "refs/heads/master"
	headFile     = "HEAD"
	headSymref   = "ref: refs/heads/master\n"
	configFile   = "config.toml"

	// RepoFormatVersion is stamped into every sub-repository's config and
	// verified on open; it guards against opening a layout this version
	// of the engine cannot read.
	RepoFormatVersion = 1
)

// config mirrors the fixed settings the spec requires every sub-repository
// to be configured with for deterministic, reproducible storage.
type config struct {
	RepositoryFormatVersion int    `toml:"repositoryformatversion"`
	CoreFilemode            bool   `toml:"core_filemode"`
	CoreSymlinks            bool   `toml:"core_symlinks"`
	CoreHideDotFiles        bool   `toml:"core_hidedotfiles"`
	CommitGPGSign           bool   `toml:"commit_gpgsign"`
	DiffAlgorithm           string `toml:"diff_algorithm"`
	DiffRenames             bool   `toml:"diff_renames"`
}

func defaultConfig() config {
	return config{
		RepositoryFormatVersion: RepoFormatVersion,
		CoreFilemode:            false,
		CoreSymlinks:            false,
		CoreHideDotFiles:        false,
		CommitGPGSign:           false,
		DiffAlgorithm:           "histogram",
		DiffRenames:             false,
	}
}

// Store is one sub-repository's content-addressed object database plus its
// single head ref. All methods are synchronous; callers are responsible for
// holding the repository's reader/writer lock as required by §5.
type Store struct {
	root string
}

// Open opens (and, if absent, initializes) the object store rooted at dir.
// The config is stamped on first open and verified on every subsequent
// open, failing with a StorageError on a format mismatch.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, objectsDir), 0o755); err != nil {
		return nil, plumbing.StorageError(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "refs", "heads"), 0o755); err != nil {
		return nil, plumbing.StorageError(err)
	}
	s := &Store{root: dir}
	if err := s.ensureConfig(); err != nil {
		return nil, err
	}
	if err := s.ensureHead(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureConfig() error {
	path := filepath.Join(s.root, configFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return writeTOML(path, defaultConfig())
	} else if err != nil {
		return plumbing.StorageError(err)
	}
	var c config
	if err := readTOML(path, &c); err != nil {
		return plumbing.StorageError(fmt.Errorf("read config: %w", err))
	}
	if c.RepositoryFormatVersion != RepoFormatVersion {
		return plumbing.StorageError(fmt.Errorf("unsupported repositoryformatversion %d", c.RepositoryFormatVersion))
	}
	return nil
}

func (s *Store) ensureHead() error {
	path := filepath.Join(s.root, headFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return atomicWriteFile(path, []byte(headSymref))
	} else if err != nil {
		return plumbing.StorageError(err)
	}
	return nil
}

// objectPath returns the file path under which an object's bytes are
// stored, git-style: the first two hex characters become a directory.
func (s *Store) objectPath(id plumbing.Hash) string {
	hex := id.String()
	return filepath.Join(s.root, objectsDir, hex[:2], hex[2:])
}

func (s *Store) writeObject(data []byte) (plumbing.Hash, error) {
	id := plumbing.SumBytes(data)
	path := s.objectPath(id)
	if _, err := os.Stat(path); err == nil {
		// Content-addressed: identical bytes already present.
		return id, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return id, plumbing.StorageError(err)
	}
	if err := atomicWriteFile(path, data); err != nil {
		return id, plumbing.StorageError(err)
	}
	return id, nil
}

func (s *Store) readObject(id plumbing.Hash) ([]byte, error) {
	data, err := os.ReadFile(s.objectPath(id))
	if os.IsNotExist(err) {
		return nil, plumbing.EntryNotFound(id.String())
	}
	if err != nil {
		return nil, plumbing.StorageError(err)
	}
	return data, nil
}

// PutBlob persists raw content and returns its id.
func (s *Store) PutBlob(data []byte) (plumbing.Hash, error) {
	b := &object.Blob{Data: data}
	return s.writeObject(b.Encode())
}

// ReadBlob reads back a blob by id.
func (s *Store) ReadBlob(id plumbing.Hash) (*object.Blob, error) {
	raw, err := s.readObject(id)
	if err != nil {
		return nil, err
	}
	b, err := object.DecodeBlob(raw)
	if err != nil {
		return nil, plumbing.StorageError(err)
	}
	return b, nil
}

// PutTree persists a (sorted) tree level and returns its id.
func (s *Store) PutTree(entries []object.TreeEntry) (plumbing.Hash, error) {
	t := &object.Tree{Entries: entries}
	t.Sort()
	return s.writeObject(t.Encode())
}

// ReadTree reads back a tree by id.
func (s *Store) ReadTree(id plumbing.Hash) (*object.Tree, error) {
	raw, err := s.readObject(id)
	if err != nil {
		return nil, err
	}
	t, err := object.DecodeTree(raw)
	if err != nil {
		return nil, plumbing.StorageError(err)
	}
	return t, nil
}

// PutCommit persists a commit and returns its id. c.Hash is set on return.
func (s *Store) PutCommit(c *object.Commit) (plumbing.Hash, error) {
	raw, err := c.Encode()
	if err != nil {
		return plumbing.ZeroHash, plumbing.StorageError(err)
	}
	id, err := s.writeObject(raw)
	if err != nil {
		return id, err
	}
	c.Hash = id
	return id, nil
}

// ReadCommit reads back a commit by id.
func (s *Store) ReadCommit(id plumbing.Hash) (*object.Commit, error) {
	raw, err := s.readObject(id)
	if err != nil {
		return nil, err
	}
	c, err := object.DecodeCommit(raw)
	if err != nil {
		return nil, plumbing.StorageError(err)
	}
	c.Hash = id
	return c, nil
}

// ReadRef returns the head ref's commit id, or (ZeroHash, false) if the ref
// has never been set (a brand new, not-yet-initialized sub-repository).
func (s *Store) ReadRef() (plumbing.Hash, bool, error) {
	path := filepath.Join(s.root, refsHeadFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return plumbing.ZeroHash, false, nil
	}
	if err != nil {
		return plumbing.ZeroHash, false, plumbing.StorageError(err)
	}
	id := plumbing.NewHash(trimNewline(string(data)))
	return id, true, nil
}

// UpdateRef swings the head ref to newID, failing with a StorageError if
// expectedOld is non-nil and does not match the ref's current value. The
// write is atomic (write-to-temp, rename).
func (s *Store) UpdateRef(expectedOld *plumbing.Hash, newID plumbing.Hash) error {
	if expectedOld != nil {
		cur, ok, err := s.ReadRef()
		if err != nil {
			return err
		}
		if ok != (*expectedOld != plumbing.ZeroHash) || cur != *expectedOld {
			return plumbing.StorageError(fmt.Errorf("ref compare-and-swap failed: expected %s, found %s", expectedOld, cur))
		}
	}
	path := filepath.Join(s.root, refsHeadFile)
	if err := atomicWriteFile(path, []byte(newID.String()+"\n")); err != nil {
		return plumbing.StorageError(err)
	}
	return nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func atomicWriteFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
