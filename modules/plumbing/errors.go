package plumbing

import "fmt"

// revisionNotFound is returned when a requested revision does not exist,
// or is out of the retained [first, head] range.
type revisionNotFound struct {
	revision int64
}

func (e *revisionNotFound) Error() string {
	return fmt.Sprintf("dogma: revision not found: %d", e.revision)
}

// RevisionNotFound wraps a missing-revision failure.
func RevisionNotFound(revision int64) error {
	return &revisionNotFound{revision: revision}
}

// IsRevisionNotFound reports whether err is a RevisionNotFound error.
func IsRevisionNotFound(err error) bool {
	_, ok := err.(*revisionNotFound)
	return ok
}

// entryNotFound is returned when a path does not exist at a revision.
type entryNotFound struct {
	path string
}

func (e *entryNotFound) Error() string {
	return fmt.Sprintf("dogma: entry not found: %s", e.path)
}

// EntryNotFound wraps a missing-path failure.
func EntryNotFound(path string) error {
	return &entryNotFound{path: path}
}

// IsEntryNotFound reports whether err is an EntryNotFound error.
func IsEntryNotFound(err error) bool {
	_, ok := err.(*entryNotFound)
	return ok
}

// changeConflict is returned when a commit's base revision is stale or a
// change fails to apply against the current tree.
type changeConflict struct {
	reason string
}

func (e *changeConflict) Error() string {
	return fmt.Sprintf("dogma: change conflict: %s", e.reason)
}

// ChangeConflict wraps a conflicting-change failure.
func ChangeConflict(reason string) error {
	return &changeConflict{reason: reason}
}

// IsChangeConflict reports whether err is a ChangeConflict error.
func IsChangeConflict(err error) bool {
	_, ok := err.(*changeConflict)
	return ok
}

// redundantChange is returned when a commit's changes produce no net
// modification to the tree.
type redundantChange struct{}

func (e *redundantChange) Error() string {
	return "dogma: redundant change: commit would not modify the tree"
}

// RedundantChange wraps a no-op-commit failure.
func RedundantChange() error {
	return &redundantChange{}
}

// IsRedundantChange reports whether err is a RedundantChange error.
func IsRedundantChange(err error) bool {
	_, ok := err.(*redundantChange)
	return ok
}

// repositoryExists is returned by create when the name is already taken.
type repositoryExists struct {
	project, repository string
}

func (e *repositoryExists) Error() string {
	return fmt.Sprintf("dogma: repository exists: %s/%s", e.project, e.repository)
}

// RepositoryExists wraps an already-exists failure.
func RepositoryExists(project, repository string) error {
	return &repositoryExists{project: project, repository: repository}
}

// IsRepositoryExists reports whether err is a RepositoryExists error.
func IsRepositoryExists(err error) bool {
	_, ok := err.(*repositoryExists)
	return ok
}

// repositoryNotFound is returned when a named repository is unknown, removed
// or purged.
type repositoryNotFound struct {
	project, repository string
}

func (e *repositoryNotFound) Error() string {
	return fmt.Sprintf("dogma: repository not found: %s/%s", e.project, e.repository)
}

// RepositoryNotFound wraps a missing-repository failure.
func RepositoryNotFound(project, repository string) error {
	return &repositoryNotFound{project: project, repository: repository}
}

// IsRepositoryNotFound reports whether err is a RepositoryNotFound error.
func IsRepositoryNotFound(err error) bool {
	_, ok := err.(*repositoryNotFound)
	return ok
}

// storageError wraps a fatal I/O or encoding failure from the object store.
// It is never recoverable within the same commit attempt.
type storageError struct {
	cause error
}

func (e *storageError) Error() string {
	return fmt.Sprintf("dogma: storage error: %v", e.cause)
}

func (e *storageError) Unwrap() error {
	return e.cause
}

// StorageError wraps a fatal storage-layer failure.
func StorageError(cause error) error {
	return &storageError{cause: cause}
}

// IsStorageError reports whether err is a StorageError error.
func IsStorageError(err error) bool {
	_, ok := err.(*storageError)
	return ok
}

// cancelled is returned when a repository is closing and rejects the op.
type cancelled struct{}

func (e *cancelled) Error() string {
	return "dogma: repository is closing"
}

// Cancelled is the configured "close" error completed on every pending and
// new operation once a repository begins closing.
func Cancelled() error {
	return &cancelled{}
}

// IsCancelled reports whether err is a Cancelled error.
func IsCancelled(err error) bool {
	_, ok := err.(*cancelled)
	return ok
}

// requestTimeout is returned when an ambient deadline expires before an
// operation begins a blocking step.
type requestTimeout struct{}

func (e *requestTimeout) Error() string {
	return "dogma: request timeout"
}

// RequestTimeout wraps a deadline-exceeded failure.
func RequestTimeout() error {
	return &requestTimeout{}
}

// IsRequestTimeout reports whether err is a RequestTimeout error.
func IsRequestTimeout(err error) bool {
	_, ok := err.(*requestTimeout)
	return ok
}

// encryptionKeyError is returned by encrypted repositories when the
// configured key cannot decrypt or encrypt an object.
type encryptionKeyError struct {
	reason string
}

func (e *encryptionKeyError) Error() string {
	return fmt.Sprintf("dogma: encryption key error: %s", e.reason)
}

// EncryptionKeyError wraps an encryption-key failure.
func EncryptionKeyError(reason string) error {
	return &encryptionKeyError{reason: reason}
}

// IsEncryptionKeyError reports whether err is an EncryptionKeyError error.
func IsEncryptionKeyError(err error) bool {
	_, ok := err.(*encryptionKeyError)
	return ok
}
