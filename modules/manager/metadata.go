package manager

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// repoState is one repository's entry in a project's metadata database,
// stored at <root>/<project>/metadata/repository.toml, mirroring the
// teacher's TOML-encoded per-repository config.toml but scoped to the
// project level since it tracks every repository's lifecycle, not one
// repository's storage settings.
type repoState struct {
	Name       string    `toml:"name"`
	Removed    bool      `toml:"removed"`
	RemovedAt  time.Time `toml:"removed_at,omitempty"`
	PurgeAfter time.Time `toml:"purge_after,omitempty"`
	Encrypted  bool      `toml:"encrypted"`
}

// projectMetadata is the full decoded contents of one project's
// repository.toml.
type projectMetadata struct {
	Repositories []repoState `toml:"repository"`
}

func loadProjectMetadata(path string) (*projectMetadata, error) {
	var pm projectMetadata
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &projectMetadata{}, nil
	}
	if _, err := toml.DecodeFile(path, &pm); err != nil {
		return nil, err
	}
	return &pm, nil
}

func saveProjectMetadata(path string, pm *projectMetadata) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := toml.NewEncoder(f)
	if err := enc.Encode(pm); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (pm *projectMetadata) find(name string) (*repoState, int) {
	for i := range pm.Repositories {
		if pm.Repositories[i].Name == name {
			return &pm.Repositories[i], i
		}
	}
	return nil, -1
}

func (pm *projectMetadata) remove(index int) {
	pm.Repositories = append(pm.Repositories[:index], pm.Repositories[index+1:]...)
}
