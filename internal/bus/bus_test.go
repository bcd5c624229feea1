package bus

import (
	"testing"
	"time"

	"github.com/agentlegible/orchestrator/pkg/types"
)

func event(t types.EventType) types.LineageEvent {
	return types.LineageEvent{
		EventID:    "01HTEST00000000000000000X",
		ArtifactID: "a1",
		EventType:  t,
		Timestamp:  time.Now().UTC(),
	}
}

func TestPublishFanout(t *testing.T) {
	n := NewNotifier(4)
	ch1 := n.SubscribeAutoID()
	ch2 := n.SubscribeAutoID()

	n.Publish(event(types.EventCreated), &types.Artifact{ID: "a1"}, nil)

	for i, ch := range []chan Notification{ch1, ch2} {
		select {
		case notif := <-ch:
			if notif.Event.ArtifactID != "a1" {
				t.Errorf("subscriber %d got %+v", i, notif)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d received nothing", i)
		}
	}
}

func TestSubscribeAutoID_DistinctSubscribersWithinSameInstant(t *testing.T) {
	n := NewNotifier(4)

	// Back-to-back subscriptions land in the same instant; each must get
	// its own registration, not replace the previous one.
	const subscribers = 10
	channels := make([]chan Notification, subscribers)
	for i := range channels {
		channels[i] = n.SubscribeAutoID()
	}

	n.Publish(event(types.EventCreated), &types.Artifact{ID: "a1"}, nil)

	for i, ch := range channels {
		select {
		case notif := <-ch:
			if notif.Event.ArtifactID != "a1" {
				t.Errorf("subscriber %d got %+v", i, notif)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d received nothing", i)
		}
	}
}

func TestGenerateSubscriberID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := generateSubscriberID()
		if seen[id] {
			t.Fatalf("duplicate subscriber ID %q after %d generations", id, i)
		}
		seen[id] = true
	}
}

func TestFilterByEventTypePrefix(t *testing.T) {
	n := NewNotifier(4)
	transitions := n.SubscribeAutoID("artifact.transitioned")
	everything := n.SubscribeAutoID("artifact.")

	n.Publish(event(types.EventCreated), nil, nil)
	n.Publish(event(types.EventTransitioned), nil, nil)

	select {
	case notif := <-transitions:
		if notif.Event.EventType != types.EventTransitioned {
			t.Errorf("filtered subscriber got %s", notif.Event.EventType)
		}
	case <-time.After(time.Second):
		t.Fatal("filtered subscriber received nothing")
	}
	select {
	case notif := <-transitions:
		t.Errorf("filtered subscriber got extra notification: %+v", notif)
	default:
	}

	if len(everything) != 2 {
		t.Errorf("prefix subscriber buffered %d notifications, want 2", len(everything))
	}
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	n := NewNotifier(1)
	ch := n.SubscribeAutoID()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			n.Publish(event(types.EventUpdated), nil, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber channel")
	}
	if len(ch) != 1 {
		t.Errorf("expected 1 buffered notification, got %d", len(ch))
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	n := NewNotifier(4)
	sub := n.Subscribe("exporter", nil)

	n.Unsubscribe("exporter")
	if _, open := <-sub.Ch; open {
		t.Error("channel still open after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	n.Publish(event(types.EventCreated), nil, nil)
}
