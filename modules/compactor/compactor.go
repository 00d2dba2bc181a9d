// Package compactor implements online history truncation: a secondary
// sub-repository is built as a mirror starting at the primary's current
// head, kept in sync commit-by-commit, and then atomically promoted to
// replace the primary once it alone exceeds the retention thresholds.
package compactor

import (
	"sync"
	"time"

	"github.com/line/centraldogma-sub001/modules/plumbing"
)

// State is one node of the compaction state machine.
type State int

const (
	NoSecondary State = iota
	BuildingSecondary
	Mirroring
	PromotePending
)

func (s State) String() string {
	switch s {
	case NoSecondary:
		return "NO_SECONDARY"
	case BuildingSecondary:
		return "BUILDING_SECONDARY"
	case Mirroring:
		return "MIRRORING"
	case PromotePending:
		return "PROMOTE_PENDING"
	default:
		return "UNKNOWN"
	}
}

// HistorySummary is the minimal shape of a sub-repository's history the
// compactor needs to evaluate the retention thresholds and replay lag.
type HistorySummary struct {
	First int64
	Head  int64
	// SecondCommitTime is the timestamp of the commit at First+1 (the
	// first commit *after* the repository's synthetic creation commit),
	// the reference point exceeds() compares against min_retention_days.
	SecondCommitTime time.Time
}

// LaggedCommit is one primary commit applied while a secondary was being
// built or mirrored, replayed into the secondary verbatim once it is
// attached.
type LaggedCommit struct {
	Base    int64
	When    time.Time
	Author  string
	Email   string
	Summary string
	Detail  string
	Markup  string
	Changes []any
}

// Host is implemented by the Repository Core; it supplies the actual
// storage operations the state machine drives, so compactor itself holds
// no repository state beyond its own State and lag buffer.
type Host interface {
	// PrimarySummary and SecondarySummary report current history bounds.
	// SecondarySummary is only called while a secondary is attached.
	PrimarySummary() (HistorySummary, error)
	SecondarySummary() (HistorySummary, error)

	// BuildSecondary runs off the writer lock: it materializes the full
	// tree at headRevision as the initial commit of a brand-new secondary
	// sub-repository starting at that revision (not 1), and returns an
	// opaque handle the Host can use in AttachSecondary/ReplayIntoSecondary.
	BuildSecondary(headRevision int64) (any, error)

	// ReplayIntoSecondary applies one lagged commit to the
	// not-yet-attached secondary identified by handle, in order.
	ReplayIntoSecondary(handle any, commit LaggedCommit) error

	// AttachSecondary makes handle the live secondary under the writer
	// lock; subsequent primary commits are mirrored into it.
	AttachSecondary(handle any) error

	// MirrorCommit applies one primary commit to the live secondary with
	// identical base/changes/message. A failure here is fatal per spec:
	// the caller wraps it in StorageError.
	MirrorCommit(commit LaggedCommit) error

	// Promote flips the metadata database so the secondary becomes the
	// new primary, clears the secondary pointer, and schedules deletion
	// of the old primary directory. Runs under the writer lock.
	Promote() error

	// DiscardSecondary drops a partially built or attached secondary,
	// used when BuildSecondary or the first replay fails.
	DiscardSecondary(handle any)
}

// Policy holds the two retention thresholds.
type Policy struct {
	MinRetentionCommits int64
	MinRetentionDays    int
}

func (p Policy) exceeds(h HistorySummary) bool {
	if h.Head-h.First <= p.MinRetentionCommits {
		return false
	}
	if h.SecondCommitTime.IsZero() {
		return false
	}
	return h.SecondCommitTime.Before(time.Now().Add(-time.Duration(p.MinRetentionDays) * 24 * time.Hour))
}

// Compactor drives the NoSecondary -> BuildingSecondary -> Mirroring ->
// PromotePending -> NoSecondary cycle for one repository. All public
// methods are safe for concurrent use; MaybeBeginBuild/Build/Promote are meant
// to be invoked by the Repository Core's own writer-lock-holding and
// off-lock phases respectively, matching the spec's "under the writer
// lock" / "off-lock" step annotations.
type Compactor struct {
	mu     sync.Mutex
	state  State
	policy Policy
	host   Host
	lag    []LaggedCommit
	// buildingHandle is the not-yet-attached secondary handle while in
	// BuildingSecondary, nil otherwise.
	buildingHandle any
}

// New returns a Compactor in the NoSecondary state.
func New(policy Policy, host Host) *Compactor {
	return &Compactor{state: NoSecondary, policy: policy, host: host}
}

// State returns the current state machine node.
func (c *Compactor) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// MaybeBeginBuild checks the primary against the retention thresholds
// and, if exceeded and no secondary exists, snapshots the current head
// and transitions to BuildingSecondary. It is intended to run under the
// writer lock: the snapshot of headRevision must be taken atomically with
// the state transition so a concurrent commit cannot slip in between.
func (c *Compactor) MaybeBeginBuild() (headRevision int64, shouldBuild bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != NoSecondary {
		return 0, false, nil
	}
	summary, err := c.host.PrimarySummary()
	if err != nil {
		return 0, false, err
	}
	if !c.policy.exceeds(summary) {
		return 0, false, nil
	}
	c.state = BuildingSecondary
	return summary.Head, true, nil
}

// Build runs off the writer lock: it asks the Host to materialize the
// secondary at headRevision, then re-acquires internal bookkeeping to
// drain anything that lagged in during the build, attach the secondary,
// and transition to Mirroring. If building or the first attach fails the
// partial secondary is discarded and the state machine falls back to
// NoSecondary so the next MaybeBeginBuild retries from scratch.
func (c *Compactor) Build(headRevision int64) error {
	handle, err := c.host.BuildSecondary(headRevision)
	if err != nil {
		c.mu.Lock()
		c.state = NoSecondary
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.buildingHandle = handle
	lagged := c.lag
	c.lag = nil

	for _, commit := range lagged {
		if err := c.host.ReplayIntoSecondary(handle, commit); err != nil {
			c.buildingHandle = nil
			c.state = NoSecondary
			c.mu.Unlock()
			c.host.DiscardSecondary(handle)
			return plumbing.StorageError(err)
		}
	}

	if err := c.host.AttachSecondary(handle); err != nil {
		c.buildingHandle = nil
		c.state = NoSecondary
		c.mu.Unlock()
		c.host.DiscardSecondary(handle)
		return err
	}

	c.buildingHandle = nil
	c.state = Mirroring
	c.mu.Unlock()
	return nil
}

// OnCommit is called once per primary commit, regardless of state. While
// BuildingSecondary it appends to the lag buffer so Build can replay it
// in order once the secondary attaches. While Mirroring it immediately
// mirrors the commit into the secondary; a mirror failure is fatal.
func (c *Compactor) OnCommit(commit LaggedCommit) error {
	c.mu.Lock()
	state := c.state
	if state == BuildingSecondary {
		c.lag = append(c.lag, commit)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if state != Mirroring {
		return nil
	}
	if err := c.host.MirrorCommit(commit); err != nil {
		return plumbing.StorageError(err)
	}
	return nil
}

// MaybeBeginPromotion checks the secondary against the retention
// thresholds while Mirroring and transitions to PromotePending if
// exceeded.
func (c *Compactor) MaybeBeginPromotion() (shouldPromote bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Mirroring {
		return false, nil
	}
	summary, err := c.host.SecondarySummary()
	if err != nil {
		return false, err
	}
	if !c.policy.exceeds(summary) {
		return false, nil
	}
	c.state = PromotePending
	return true, nil
}

// Promote performs the atomic flip under the writer lock and returns the
// state machine to NoSecondary so the next MaybeBeginBuild re-evaluates
// thresholds against the new primary, per the source behavior this
// preserves: promotion never assumes there is more work queued.
func (c *Compactor) Promote() error {
	c.mu.Lock()
	if c.state != PromotePending {
		c.mu.Unlock()
		return plumbing.ChangeConflict("promote called outside PROMOTE_PENDING")
	}
	c.mu.Unlock()

	if err := c.host.Promote(); err != nil {
		return err
	}

	c.mu.Lock()
	c.state = NoSecondary
	c.mu.Unlock()
	return nil
}
