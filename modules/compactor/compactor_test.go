package compactor

import (
	"errors"
	"testing"
	"time"
)

type fakeHost struct {
	primary   HistorySummary
	secondary HistorySummary

	buildErr   error
	replayErr  error
	attachErr  error
	promoteErr error

	mirrored []LaggedCommit
	replayed []LaggedCommit
	attached bool
	promoted bool
	discards int
}

func (h *fakeHost) PrimarySummary() (HistorySummary, error)   { return h.primary, nil }
func (h *fakeHost) SecondarySummary() (HistorySummary, error) { return h.secondary, nil }

func (h *fakeHost) BuildSecondary(headRevision int64) (any, error) {
	if h.buildErr != nil {
		return nil, h.buildErr
	}
	return headRevision, nil
}

func (h *fakeHost) ReplayIntoSecondary(handle any, commit LaggedCommit) error {
	if h.replayErr != nil {
		return h.replayErr
	}
	h.replayed = append(h.replayed, commit)
	return nil
}

func (h *fakeHost) AttachSecondary(handle any) error {
	if h.attachErr != nil {
		return h.attachErr
	}
	h.attached = true
	return nil
}

func (h *fakeHost) MirrorCommit(commit LaggedCommit) error {
	h.mirrored = append(h.mirrored, commit)
	return nil
}

func (h *fakeHost) Promote() error {
	if h.promoteErr != nil {
		return h.promoteErr
	}
	h.promoted = true
	return nil
}

func (h *fakeHost) DiscardSecondary(handle any) {
	h.discards++
}

func oldTime() time.Time {
	return time.Now().Add(-365 * 24 * time.Hour)
}

func TestMaybeBeginBuildTransitionsWhenThresholdsExceeded(t *testing.T) {
	host := &fakeHost{primary: HistorySummary{First: 1, Head: 100, SecondCommitTime: oldTime()}}
	c := New(Policy{MinRetentionCommits: 10, MinRetentionDays: 30}, host)

	head, should, err := c.MaybeBeginBuild()
	if err != nil {
		t.Fatal(err)
	}
	if !should || head != 100 {
		t.Fatalf("expected build to start at head=100, got should=%v head=%d", should, head)
	}
	if c.State() != BuildingSecondary {
		t.Fatalf("expected BUILDING_SECONDARY, got %s", c.State())
	}
}

func TestMaybeBeginBuildNoOpBelowThreshold(t *testing.T) {
	host := &fakeHost{primary: HistorySummary{First: 1, Head: 5, SecondCommitTime: oldTime()}}
	c := New(Policy{MinRetentionCommits: 10, MinRetentionDays: 30}, host)

	_, should, err := c.MaybeBeginBuild()
	if err != nil {
		t.Fatal(err)
	}
	if should {
		t.Fatal("expected no build below the commit-count threshold")
	}
	if c.State() != NoSecondary {
		t.Fatalf("expected NO_SECONDARY, got %s", c.State())
	}
}

func TestFullCycleBuildMirrorPromote(t *testing.T) {
	host := &fakeHost{primary: HistorySummary{First: 1, Head: 100, SecondCommitTime: oldTime()}}
	c := New(Policy{MinRetentionCommits: 10, MinRetentionDays: 30}, host)

	head, should, err := c.MaybeBeginBuild()
	if err != nil || !should {
		t.Fatalf("expected build to start, err=%v should=%v", err, should)
	}

	// A commit lands while building; it must be buffered, not mirrored.
	lagged := LaggedCommit{Base: 100, Summary: "during build"}
	if err := c.OnCommit(lagged); err != nil {
		t.Fatal(err)
	}
	if len(host.mirrored) != 0 {
		t.Fatalf("expected no mirrored commits yet, got %+v", host.mirrored)
	}

	if err := c.Build(head); err != nil {
		t.Fatal(err)
	}
	if !host.attached {
		t.Fatal("expected secondary to be attached")
	}
	if len(host.replayed) != 1 || host.replayed[0].Summary != "during build" {
		t.Fatalf("expected the lagged commit to be replayed, got %+v", host.replayed)
	}
	if c.State() != Mirroring {
		t.Fatalf("expected MIRRORING, got %s", c.State())
	}

	// Now in Mirroring: commits mirror immediately.
	if err := c.OnCommit(LaggedCommit{Base: 101, Summary: "live"}); err != nil {
		t.Fatal(err)
	}
	if len(host.mirrored) != 1 || host.mirrored[0].Summary != "live" {
		t.Fatalf("expected the live commit to be mirrored, got %+v", host.mirrored)
	}

	host.secondary = HistorySummary{First: 100, Head: 200, SecondCommitTime: oldTime()}
	should, err = c.MaybeBeginPromotion()
	if err != nil || !should {
		t.Fatalf("expected promotion to begin, err=%v should=%v", err, should)
	}
	if c.State() != PromotePending {
		t.Fatalf("expected PROMOTE_PENDING, got %s", c.State())
	}

	if err := c.Promote(); err != nil {
		t.Fatal(err)
	}
	if !host.promoted {
		t.Fatal("expected Promote to have been called on the host")
	}
	if c.State() != NoSecondary {
		t.Fatalf("expected state to return to NO_SECONDARY after promotion, got %s", c.State())
	}
}

func TestBuildFailureDiscardsAndFallsBackToNoSecondary(t *testing.T) {
	host := &fakeHost{
		primary:  HistorySummary{First: 1, Head: 100, SecondCommitTime: oldTime()},
		buildErr: errors.New("disk full"),
	}
	c := New(Policy{MinRetentionCommits: 10, MinRetentionDays: 30}, host)

	head, should, err := c.MaybeBeginBuild()
	if err != nil || !should {
		t.Fatalf("expected build to start, err=%v should=%v", err, should)
	}
	if err := c.Build(head); err == nil {
		t.Fatal("expected Build to propagate the host's error")
	}
	if c.State() != NoSecondary {
		t.Fatalf("expected state to fall back to NO_SECONDARY, got %s", c.State())
	}
}

func TestReplayFailureDiscardsSecondary(t *testing.T) {
	host := &fakeHost{
		primary:   HistorySummary{First: 1, Head: 100, SecondCommitTime: oldTime()},
		replayErr: errors.New("corrupt lag entry"),
	}
	c := New(Policy{MinRetentionCommits: 10, MinRetentionDays: 30}, host)

	head, _, _ := c.MaybeBeginBuild()
	_ = c.OnCommit(LaggedCommit{Base: 100})
	if err := c.Build(head); err == nil {
		t.Fatal("expected Build to fail when replay fails")
	}
	if host.discards != 1 {
		t.Fatalf("expected the partial secondary to be discarded, got %d discards", host.discards)
	}
	if c.State() != NoSecondary {
		t.Fatalf("expected state to fall back to NO_SECONDARY, got %s", c.State())
	}
}

func TestPromoteOutsidePromotePendingIsRejected(t *testing.T) {
	host := &fakeHost{}
	c := New(Policy{MinRetentionCommits: 10, MinRetentionDays: 30}, host)
	if err := c.Promote(); err == nil {
		t.Fatal("expected an error promoting from NO_SECONDARY")
	}
}
