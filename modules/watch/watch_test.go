package watch

import (
	"context"
	"testing"
	"time"

	"github.com/line/centraldogma-sub001/modules/pathfilter"
	"github.com/line/centraldogma-sub001/modules/plumbing"
)

func TestNotifyCompletesMatchingRegistration(t *testing.T) {
	c := New()
	future, _ := c.Register(5, pathfilter.Compile("/a/**"))

	c.Notify(6, []string{"/b/x.json"})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := future.Wait(ctx); err == nil {
		t.Fatal("expected no completion for a non-matching path")
	}

	c.Notify(7, []string{"/a/b.json"})
	ctx2, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	rev, err := future.Wait(ctx2)
	if err != nil {
		t.Fatal(err)
	}
	if rev != 7 {
		t.Fatalf("expected revision 7, got %d", rev)
	}
}

func TestNotifyIgnoresRevisionAtOrBelowLastKnown(t *testing.T) {
	c := New()
	future, _ := c.Register(7, pathfilter.Compile("/a/**"))
	c.Notify(7, []string{"/a/b.json"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := future.Wait(ctx); err == nil {
		t.Fatal("expected no completion when revision == lastKnown")
	}
	if c.Len() != 1 {
		t.Fatalf("expected registration to remain pending, len=%d", c.Len())
	}
}

func TestCancelRemovesRegistration(t *testing.T) {
	c := New()
	_, cancel := c.Register(0, pathfilter.Compile("/**"))
	if c.Len() != 1 {
		t.Fatalf("expected 1 pending registration, got %d", c.Len())
	}
	cancel()
	if c.Len() != 0 {
		t.Fatalf("expected 0 pending registrations after cancel, got %d", c.Len())
	}
}

func TestCloseCompletesAllWithConfiguredError(t *testing.T) {
	c := New()
	f1, _ := c.Register(0, pathfilter.Compile("/**"))
	f2, _ := c.Register(0, pathfilter.Compile("/**"))

	c.Close(plumbing.Cancelled())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := f1.Wait(ctx); !plumbing.IsCancelled(err) {
		t.Fatalf("expected Cancelled, got %v", err)
	}
	if _, err := f2.Wait(ctx); !plumbing.IsCancelled(err) {
		t.Fatalf("expected Cancelled, got %v", err)
	}

	future, _ := c.Register(0, pathfilter.Compile("/**"))
	if _, err := future.Wait(ctx); !plumbing.IsCancelled(err) {
		t.Fatalf("expected Register after Close to complete immediately with Cancelled, got %v", err)
	}
}
