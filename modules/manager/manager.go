// Package manager implements the Repository Manager: per-project,
// per-repository directory layout on top of the Object Store, repository
// lifecycle (create/open/remove/purge/markForPurge/unremove) and the
// project-level listing queries, mirroring the teacher's zeta backend's
// split between a Database (one repository) and the server-level registry
// that opens and tracks many of them.
package manager

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/line/centraldogma-sub001/config"
	"github.com/line/centraldogma-sub001/modules/cache"
	"github.com/line/centraldogma-sub001/modules/compactor"
	"github.com/line/centraldogma-sub001/modules/object"
	"github.com/line/centraldogma-sub001/modules/plumbing"
	"github.com/line/centraldogma-sub001/modules/repository"
	"github.com/line/centraldogma-sub001/modules/storage"

	"github.com/sirupsen/logrus"
)

const (
	metadataDir      = "metadata"
	repoMetadataFile = "repository.toml"
	tombstoneSuffix  = ".removed"
)

// Manager roots every project/repository this engine instance serves.
// It is the top-level object a server process constructs; everything else
// (Repository Core instances, the Computation Cache) is owned by it.
type Manager struct {
	root  string
	cfg   *config.Config
	cache *cache.Cache
	log   *logrus.Entry

	mu   sync.Mutex
	open map[string]*repository.Repository // "project/repo" -> live handle
}

// Open constructs a Manager rooted at dir, using cfg for every repository
// it opens. A single Computation Cache is shared across all of them, per
// §5's "cache key embeds repository identity" design.
func Open(dir string, cfg *config.Config) (*Manager, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, plumbing.StorageError(err)
	}
	c, err := cache.New(cache.Spec{
		NumCounters:  cfg.CacheSpecNumCounters,
		MaxCostBytes: cfg.CacheSpecMaxCostBytes,
		BufferItems:  cfg.CacheSpecBufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &Manager{
		root:  dir,
		cfg:   cfg,
		cache: c,
		log:   logrus.WithField("component", "manager"),
		open:  map[string]*repository.Repository{},
	}, nil
}

// Close closes every open repository and the shared cache.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, repo := range m.open {
		repo.Close()
		delete(m.open, key)
	}
	m.cache.Close()
}

func key(project, repo string) string { return project + "/" + repo }

func (m *Manager) projectDir(project string) string {
	return filepath.Join(m.root, project)
}

func (m *Manager) repoDir(project, repo string) string {
	return filepath.Join(m.projectDir(project), repo)
}

func (m *Manager) metadataPath(project string) string {
	return filepath.Join(m.projectDir(project), metadataDir, repoMetadataFile)
}

func validateNames(project, repo string) error {
	if err := plumbing.ValidateName(project); err != nil {
		return err
	}
	if err := plumbing.ValidateName(repo); err != nil {
		return err
	}
	return nil
}

// Create initializes a brand-new repository with a synthetic revision-1
// commit ("Create repository"), per the Lifecycle contract.
func (m *Manager) Create(project, repo string, author, email string) error {
	if err := validateNames(project, repo); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(filepath.Join(m.projectDir(project), metadataDir), 0o755); err != nil {
		return plumbing.StorageError(err)
	}
	metaPath := m.metadataPath(project)
	pm, err := loadProjectMetadata(metaPath)
	if err != nil {
		return plumbing.StorageError(err)
	}
	if st, _ := pm.find(repo); st != nil && !st.Removed {
		return plumbing.RepositoryExists(project, repo)
	}

	dir := m.repoDir(project, repo)
	if _, err := os.Stat(dir); err == nil {
		return plumbing.RepositoryExists(project, repo)
	}
	store, err := storage.Open(dir)
	if err != nil {
		return err
	}
	initial := &object.Commit{
		Author:  author,
		Email:   email,
		When:    time.Now(),
		Message: object.Message{Summary: "Create repository", Markup: object.MarkupPlaintext, Revision: 1},
	}
	initialID, err := store.PutCommit(initial)
	if err != nil {
		return err
	}
	if err := store.UpdateRef(nil, initialID); err != nil {
		return err
	}
	host := &repoHost{mgr: m, project: project, name: repo}
	r, err := repository.Open(key(project, repo), store, repository.Options{
		Cache:             m.cache,
		NumWorkers:        m.cfg.NumRepositoryWorkers,
		RequestTimeout:    m.cfg.RequestTimeout(),
		MaxHistoryCommits: m.cfg.MaxNumCommitsPerHistory,
		Compactor:         compactor.New(compactor.Policy{MinRetentionCommits: m.cfg.MinRetentionCommits, MinRetentionDays: m.cfg.MinRetentionDays}, host),
		Logger:            m.log.WithFields(logrus.Fields{"project": project, "repository": repo}),
	})
	if err != nil {
		return err
	}
	host.repo = r

	if st, idx := pm.find(repo); st != nil {
		pm.remove(idx)
	}
	pm.Repositories = append(pm.Repositories, repoState{Name: repo})
	if err := saveProjectMetadata(metaPath, pm); err != nil {
		r.Close()
		return plumbing.StorageError(err)
	}

	m.open[key(project, repo)] = r
	m.log.WithFields(logrus.Fields{"project": project, "repository": repo}).Info("repository created")
	return nil
}

// OpenRepository returns the live handle for project/repo, opening it off disk if
// it is not already held open by this Manager.
func (m *Manager) OpenRepository(project, repo string) (*repository.Repository, error) {
	if err := validateNames(project, repo); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(project, repo)
	if r, ok := m.open[k]; ok {
		return r, nil
	}

	pm, err := loadProjectMetadata(m.metadataPath(project))
	if err != nil {
		return nil, plumbing.StorageError(err)
	}
	st, _ := pm.find(repo)
	if st == nil || st.Removed {
		return nil, plumbing.RepositoryNotFound(project, repo)
	}

	store, err := storage.Open(m.repoDir(project, repo))
	if err != nil {
		return nil, err
	}
	host := &repoHost{mgr: m, project: project, name: repo}
	r, err := repository.Open(k, store, repository.Options{
		Cache:             m.cache,
		NumWorkers:        m.cfg.NumRepositoryWorkers,
		RequestTimeout:    m.cfg.RequestTimeout(),
		MaxHistoryCommits: m.cfg.MaxNumCommitsPerHistory,
		Compactor:         compactor.New(compactor.Policy{MinRetentionCommits: m.cfg.MinRetentionCommits, MinRetentionDays: m.cfg.MinRetentionDays}, host),
		Logger:            m.log.WithFields(logrus.Fields{"project": project, "repository": repo}),
	})
	if err != nil {
		return nil, err
	}
	host.repo = r
	m.open[k] = r
	return r, nil
}

// Remove tombstones project/repo: the handle is closed, the directory is
// renamed with a ".removed" suffix, and the project metadata records the
// removal time. The repository can still be restored with Unremove until
// it is purged.
func (m *Manager) Remove(project, repo string) error {
	if err := validateNames(project, repo); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	metaPath := m.metadataPath(project)
	pm, err := loadProjectMetadata(metaPath)
	if err != nil {
		return plumbing.StorageError(err)
	}
	st, _ := pm.find(repo)
	if st == nil || st.Removed {
		return plumbing.RepositoryNotFound(project, repo)
	}

	if r, ok := m.open[key(project, repo)]; ok {
		r.Close()
		delete(m.open, key(project, repo))
	}

	dir := m.repoDir(project, repo)
	tomb := dir + tombstoneSuffix
	if err := os.Rename(dir, tomb); err != nil {
		return plumbing.StorageError(err)
	}
	st.Removed = true
	st.RemovedAt = time.Now()
	if err := saveProjectMetadata(metaPath, pm); err != nil {
		return plumbing.StorageError(err)
	}
	m.log.WithFields(logrus.Fields{"project": project, "repository": repo}).Info("repository removed")
	return nil
}

// Unremove reverses a Remove that has not yet been purged.
func (m *Manager) Unremove(project, repo string) error {
	if err := validateNames(project, repo); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	metaPath := m.metadataPath(project)
	pm, err := loadProjectMetadata(metaPath)
	if err != nil {
		return plumbing.StorageError(err)
	}
	st, _ := pm.find(repo)
	if st == nil || !st.Removed {
		return plumbing.RepositoryNotFound(project, repo)
	}

	dir := m.repoDir(project, repo)
	tomb := dir + tombstoneSuffix
	if _, err := os.Stat(tomb); err != nil {
		return plumbing.RepositoryNotFound(project, repo)
	}
	if err := os.Rename(tomb, dir); err != nil {
		return plumbing.StorageError(err)
	}
	st.Removed = false
	st.RemovedAt = time.Time{}
	st.PurgeAfter = time.Time{}
	if err := saveProjectMetadata(metaPath, pm); err != nil {
		return plumbing.StorageError(err)
	}
	return nil
}

// MarkForPurge defers Purge until after, instead of deleting immediately.
// A background sweep (not part of this package's API surface; left to the
// process embedding it) is expected to call Purge once PurgeAfter elapses.
func (m *Manager) MarkForPurge(project, repo string, after time.Duration) error {
	if err := validateNames(project, repo); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	metaPath := m.metadataPath(project)
	pm, err := loadProjectMetadata(metaPath)
	if err != nil {
		return plumbing.StorageError(err)
	}
	st, _ := pm.find(repo)
	if st == nil || !st.Removed {
		return plumbing.RepositoryNotFound(project, repo)
	}
	st.PurgeAfter = time.Now().Add(after)
	return saveProjectMetadata(metaPath, pm)
}

// Purge irreversibly deletes a tombstoned repository's directory tree and
// its metadata entry. It refuses to run on a repository that has not been
// removed first.
func (m *Manager) Purge(project, repo string) error {
	if err := validateNames(project, repo); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	metaPath := m.metadataPath(project)
	pm, err := loadProjectMetadata(metaPath)
	if err != nil {
		return plumbing.StorageError(err)
	}
	st, idx := pm.find(repo)
	if st == nil || !st.Removed {
		return plumbing.RepositoryNotFound(project, repo)
	}

	tomb := m.repoDir(project, repo) + tombstoneSuffix
	if err := os.RemoveAll(tomb); err != nil {
		return plumbing.StorageError(err)
	}
	pm.remove(idx)
	if err := saveProjectMetadata(metaPath, pm); err != nil {
		return plumbing.StorageError(err)
	}
	m.log.WithFields(logrus.Fields{"project": project, "repository": repo}).Info("repository purged")
	return nil
}

// List returns the names of every active (non-removed) repository in
// project.
func (m *Manager) List(project string) ([]string, error) {
	pm, err := loadProjectMetadata(m.metadataPath(project))
	if err != nil {
		return nil, plumbing.StorageError(err)
	}
	var names []string
	for _, st := range pm.Repositories {
		if !st.Removed {
			names = append(names, st.Name)
		}
	}
	return names, nil
}

// RemovedRepository describes one tombstoned-but-not-yet-purged entry.
type RemovedRepository struct {
	Name       string
	RemovedAt  time.Time
	PurgeAfter time.Time
}

// ListRemoved returns every removed-but-not-yet-purged repository in
// project, so an operator can decide whether to Unremove or let it purge.
func (m *Manager) ListRemoved(project string) ([]RemovedRepository, error) {
	pm, err := loadProjectMetadata(m.metadataPath(project))
	if err != nil {
		return nil, plumbing.StorageError(err)
	}
	var out []RemovedRepository
	for _, st := range pm.Repositories {
		if st.Removed {
			out = append(out, RemovedRepository{Name: st.Name, RemovedAt: st.RemovedAt, PurgeAfter: st.PurgeAfter})
		}
	}
	return out, nil
}
