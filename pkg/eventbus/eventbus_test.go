package eventbus

import (
	"testing"
	"time"

	"conductor/pkg/proto"
)

func TestPublishControlDeliversSynchronously(t *testing.T) {
	b := New(nil)
	defer b.Stop()

	var got proto.Event
	unsub := b.Subscribe(func(e proto.Event) { got = e }, proto.EventKindSprintStarted)
	defer unsub()

	evt := proto.NewStateChangedEvent(proto.EventKindSprintStarted, "proj-1", proto.StateChangedPayload{OwnerID: "sprint-1"})
	published := b.PublishControl(evt)

	if got.Seq != published.Seq {
		t.Fatalf("expected synchronous delivery before PublishControl returns, got seq %d want %d", got.Seq, published.Seq)
	}
	if got.ProjectID != "proj-1" {
		t.Fatalf("unexpected project id %s", got.ProjectID)
	}
}

func TestSubscribeFiltersByKind(t *testing.T) {
	b := New(nil)
	defer b.Stop()

	var calls int
	unsub := b.Subscribe(func(proto.Event) { calls++ }, proto.EventKindSprintStarted)
	defer unsub()

	b.PublishControl(proto.NewStateChangedEvent(proto.EventKindSprintPlanned, "p", proto.StateChangedPayload{}))
	if calls != 0 {
		t.Fatalf("expected no delivery for unsubscribed kind, got %d calls", calls)
	}
	b.PublishControl(proto.NewStateChangedEvent(proto.EventKindSprintStarted, "p", proto.StateChangedPayload{}))
	if calls != 1 {
		t.Fatalf("expected one delivery, got %d", calls)
	}
}

func TestPublishDataDeliversAsynchronously(t *testing.T) {
	b := New(nil)
	defer b.Stop()

	done := make(chan struct{})
	unsub := b.Subscribe(func(proto.Event) { close(done) }, proto.EventKindQuotaRebalanced)
	defer unsub()

	b.PublishData(proto.NewQuotaRebalancedEvent(proto.QuotaRebalancedPayload{Strategy: "equal"}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for async data-plane delivery")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(nil)
	defer b.Stop()

	var calls int
	unsub := b.Subscribe(func(proto.Event) { calls++ }, proto.EventKindSprintStarted)
	unsub()

	b.PublishControl(proto.NewStateChangedEvent(proto.EventKindSprintStarted, "p", proto.StateChangedPayload{}))
	if calls != 0 {
		t.Fatalf("expected no delivery after unsubscribe, got %d", calls)
	}
}

func TestSequenceIdsStrictlyIncrease(t *testing.T) {
	b := New(nil)
	defer b.Stop()

	e1 := b.PublishControl(proto.NewStateChangedEvent(proto.EventKindSprintStarted, "p", proto.StateChangedPayload{}))
	e2 := b.PublishControl(proto.NewStateChangedEvent(proto.EventKindSprintStarted, "p", proto.StateChangedPayload{}))
	if e2.Seq <= e1.Seq {
		t.Fatalf("expected strictly increasing sequence ids, got %d then %d", e1.Seq, e2.Seq)
	}
}
