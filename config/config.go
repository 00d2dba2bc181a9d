// Package config loads and defaults the engine-wide configuration:
// worker pool sizing, the Computation Cache's spec, compaction
// thresholds, and the per-request timeout, following the teacher's
// zeta/config package shape (a plain struct with toml tags, an
// Overwrite defaulting helper, and a typed bad-key error).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// errBadConfigKey is returned by Validate when a key is out of its
// accepted range.
type errBadConfigKey struct {
	key string
}

func (e *errBadConfigKey) Error() string {
	return fmt.Sprintf("dogma: bad config key '%s'", e.key)
}

// IsErrBadConfigKey reports whether err is an errBadConfigKey.
func IsErrBadConfigKey(err error) bool {
	_, ok := err.(*errBadConfigKey)
	return ok
}

// Config is the on-disk engine configuration, conventionally stored at
// <data>/dogma.toml.
type Config struct {
	// CacheSpec sizes the Computation Cache.
	CacheSpecNumCounters  int64 `toml:"cache_spec_num_counters,omitempty"`
	CacheSpecMaxCostBytes int64 `toml:"cache_spec_max_cost_bytes,omitempty"`
	CacheSpecBufferItems  int64 `toml:"cache_spec_buffer_items,omitempty"`

	// NumRepositoryWorkers sizes the bounded worker pool every Repository
	// Core operation runs on.
	NumRepositoryWorkers int `toml:"num_repository_workers,omitempty"`

	// MaxNumCommitsPerHistory bounds Repository.History's max_commits.
	MaxNumCommitsPerHistory int `toml:"max_num_commits_per_history,omitempty"`

	// MinRetentionCommits and MinRetentionDays are the Compactor's two
	// exceeds() thresholds.
	MinRetentionCommits int64 `toml:"min_retention_commits,omitempty"`
	MinRetentionDays    int   `toml:"min_retention_days,omitempty"`

	// RequestTimeoutMillis bounds how long a caller's ambient deadline
	// may be before an operation begins its first blocking step.
	RequestTimeoutMillis int64 `toml:"request_timeout_millis,omitempty"`
}

// RequestTimeout returns RequestTimeoutMillis as a time.Duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMillis) * time.Millisecond
}

// Default returns the baseline configuration applied before any on-disk
// overrides are loaded.
func Default() *Config {
	return &Config{
		CacheSpecNumCounters:    1e6,
		CacheSpecMaxCostBytes:   64 << 20,
		CacheSpecBufferItems:    64,
		NumRepositoryWorkers:    8,
		MaxNumCommitsPerHistory: 1000,
		MinRetentionCommits:     5000,
		MinRetentionDays:        30,
		RequestTimeoutMillis:    10000,
	}
}

func overwriteInt(a, b int64) int64 {
	if b != 0 {
		return b
	}
	return a
}

// Overwrite merges non-zero fields of o onto c, matching the teacher's
// Core.Overwrite idiom: an explicit zero value in the override means "use
// the base", never "set to zero".
func (c *Config) Overwrite(o *Config) {
	c.CacheSpecNumCounters = overwriteInt(c.CacheSpecNumCounters, o.CacheSpecNumCounters)
	c.CacheSpecMaxCostBytes = overwriteInt(c.CacheSpecMaxCostBytes, o.CacheSpecMaxCostBytes)
	c.CacheSpecBufferItems = overwriteInt(c.CacheSpecBufferItems, o.CacheSpecBufferItems)
	if o.NumRepositoryWorkers > 0 {
		c.NumRepositoryWorkers = o.NumRepositoryWorkers
	}
	if o.MaxNumCommitsPerHistory > 0 {
		c.MaxNumCommitsPerHistory = o.MaxNumCommitsPerHistory
	}
	c.MinRetentionCommits = overwriteInt(c.MinRetentionCommits, o.MinRetentionCommits)
	if o.MinRetentionDays > 0 {
		c.MinRetentionDays = o.MinRetentionDays
	}
	c.RequestTimeoutMillis = overwriteInt(c.RequestTimeoutMillis, o.RequestTimeoutMillis)
}

// Validate rejects configuration values outside their accepted range.
func Validate(c *Config) error {
	switch {
	case c.NumRepositoryWorkers <= 0:
		return &errBadConfigKey{key: "num_repository_workers"}
	case c.MaxNumCommitsPerHistory <= 0:
		return &errBadConfigKey{key: "max_num_commits_per_history"}
	case c.MinRetentionCommits < 0:
		return &errBadConfigKey{key: "min_retention_commits"}
	case c.MinRetentionDays < 0:
		return &errBadConfigKey{key: "min_retention_days"}
	case c.RequestTimeoutMillis <= 0:
		return &errBadConfigKey{key: "request_timeout_millis"}
	}
	return nil
}

// Load reads path (a TOML file) and overlays it onto Default, returning
// Default unmodified if path does not exist.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	var override Config
	if _, err := toml.DecodeFile(path, &override); err != nil {
		return nil, fmt.Errorf("dogma: decoding config %s: %w", path, err)
	}
	cfg.Overwrite(&override)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
