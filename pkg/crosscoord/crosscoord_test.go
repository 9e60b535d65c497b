package crosscoord

import (
	"context"
	"testing"
	"time"

	"conductor/pkg/orcherr"
	"conductor/pkg/registry"
)

func TestAcquireFreeResourceSucceeds(t *testing.T) {
	c := New(nil)
	c.Register("res-1", registry.ResourceKindPath)

	if err := c.Acquire(context.Background(), "res-1", "holder-a", registry.PriorityNormal, time.Time{}); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
}

func TestSecondAcquireWaitsThenGrantsOnRelease(t *testing.T) {
	c := New(nil)
	c.Register("res-1", registry.ResourceKindPath)

	if err := c.Acquire(context.Background(), "res-1", "holder-a", registry.PriorityNormal, time.Time{}); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- c.Acquire(context.Background(), "res-1", "holder-b", registry.PriorityNormal, time.Time{})
	}()

	time.Sleep(20 * time.Millisecond)
	if err := c.Release("res-1", "holder-a"); err != nil {
		t.Fatalf("Release: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected queued Acquire to succeed after Release, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for queued Acquire to be granted")
	}
}

func TestAcquireTimesOutWhenNotReleased(t *testing.T) {
	c := New(nil)
	c.Register("res-1", registry.ResourceKindPath)
	if err := c.Acquire(context.Background(), "res-1", "holder-a", registry.PriorityNormal, time.Time{}); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	err := c.Acquire(context.Background(), "res-1", "holder-b", registry.PriorityNormal, time.Now().Add(30*time.Millisecond))
	if kind, ok := orcherr.KindOf(err); !ok || kind != orcherr.KindAcquireTimeout {
		t.Fatalf("expected KindAcquireTimeout, got %v (ok=%v)", kind, ok)
	}
}

func TestPreemptibleResourceYieldsToHigherPriority(t *testing.T) {
	c := New(nil)
	c.Register("svc-1", registry.ResourceKindService)
	if err := c.Acquire(context.Background(), "svc-1", "low-holder", registry.PriorityLow, time.Time{}); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := c.Acquire(context.Background(), "svc-1", "critical-holder", registry.PriorityCritical, time.Time{}); err != nil {
		t.Fatalf("expected preemption to grant immediately, got %v", err)
	}
}

func TestNonPreemptibleResourceDoesNotYield(t *testing.T) {
	c := New(nil)
	c.Register("path-1", registry.ResourceKindPath)
	if err := c.Acquire(context.Background(), "path-1", "low-holder", registry.PriorityLow, time.Time{}); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	err := c.Acquire(context.Background(), "path-1", "critical-holder", registry.PriorityCritical, time.Now().Add(20*time.Millisecond))
	if kind, ok := orcherr.KindOf(err); !ok || kind != orcherr.KindAcquireTimeout {
		t.Fatalf("expected non-preemptible resource to make the waiter time out, got %v (ok=%v)", kind, ok)
	}
}

func TestInspectReportsHolderAndWaiters(t *testing.T) {
	c := New(nil)
	c.Register("res-1", registry.ResourceKindPath)
	if err := c.Acquire(context.Background(), "res-1", "holder-a", registry.PriorityNormal, time.Time{}); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	go c.Acquire(context.Background(), "res-1", "holder-b", registry.PriorityNormal, time.Now().Add(200*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	snaps := c.Inspect()
	if len(snaps) != 1 || snaps[0].Holder != "holder-a" || len(snaps[0].Waiters) != 1 {
		t.Fatalf("unexpected snapshot: %+v", snaps)
	}
}
