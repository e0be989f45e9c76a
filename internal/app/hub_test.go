package app

import (
	"context"
	"testing"

	"liveclass-service/internal/domain"
)

func insertFor(studentID, id string) domain.ChangeEvent {
	return domain.ChangeEvent{
		Kind:      domain.ChangeInsert,
		StudentID: studentID,
		New:       domain.Assignment{ID: id, StudentID: studentID},
	}
}

func TestHubDeliversToMatchingStudent(t *testing.T) {
	hub := NewHub(4)
	mine, cancelMine := hub.Subscribe("s1")
	defer cancelMine()
	other, cancelOther := hub.Subscribe("s2")
	defer cancelOther()

	if err := hub.Publish(context.Background(), insertFor("s1", "a1")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case ev := <-mine:
		if ev.New.ID != "a1" {
			t.Fatalf("unexpected event %+v", ev)
		}
	default:
		t.Fatalf("expected event for s1")
	}
	select {
	case ev := <-other:
		t.Fatalf("s2 should not see %+v", ev)
	default:
	}
}

func TestHubDropsLaggingSubscriber(t *testing.T) {
	hub := NewHub(1)
	ch, cancel := hub.Subscribe("s1")
	defer cancel()

	ctx := context.Background()
	_ = hub.Publish(ctx, insertFor("s1", "a1"))
	_ = hub.Publish(ctx, insertFor("s1", "a2"))

	if hub.Subscribers("s1") != 0 {
		t.Fatalf("expected lagging subscriber removed")
	}
	<-ch
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel closed after overflow")
	}
}

func TestHubCancelIsIdempotent(t *testing.T) {
	hub := NewHub(1)
	_, cancel := hub.Subscribe("s1")
	cancel()
	cancel()
	if hub.Subscribers("s1") != 0 {
		t.Fatalf("expected no subscribers")
	}
}
