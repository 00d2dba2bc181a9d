package storage

import (
	"os"
	"path/filepath"

	"github.com/line/centraldogma-sub001/modules/plumbing"
)

// Metadata names the current primary (and, during compaction, secondary)
// sub-repository directory for a repository. It is the single piece of
// state that survives a promotion: everything else is derived from the
// object store + ref on open.
type Metadata struct {
	PrimaryRepoDir   string `toml:"primary_repo_dir"`
	SecondaryRepoDir string `toml:"secondary_repo_dir,omitempty"`
}

// MetadataPath returns the path to the metadata database file under a
// repository root.
func MetadataPath(repoRoot string) string {
	return filepath.Join(repoRoot, "metadata", "repository.toml")
}

// LoadMetadata reads the metadata database, or returns a freshly
// initialized one (primary "r1") if it does not exist yet.
func LoadMetadata(repoRoot string) (*Metadata, error) {
	path := MetadataPath(repoRoot)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &Metadata{PrimaryRepoDir: "r1"}, nil
	} else if err != nil {
		return nil, plumbing.StorageError(err)
	}
	var m Metadata
	if err := readTOML(path, &m); err != nil {
		return nil, plumbing.StorageError(err)
	}
	return &m, nil
}

// Save durably persists the metadata database.
func (m *Metadata) Save(repoRoot string) error {
	path := MetadataPath(repoRoot)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return plumbing.StorageError(err)
	}
	if err := writeTOML(path, m); err != nil {
		return plumbing.StorageError(err)
	}
	return nil
}
