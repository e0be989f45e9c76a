package session_test

import (
	"context"
	"testing"

	"liveclass-service/internal/infra/memory"
	"liveclass-service/internal/session"
)

func TestFlagsVisitsAndDismissals(t *testing.T) {
	ctx := context.Background()
	store := memory.NewKVStore()
	flags := session.NewFlags(store, "s1")

	for want := int64(1); want <= 3; want++ {
		n, err := flags.RecordVisit(ctx)
		if err != nil {
			t.Fatalf("record visit: %v", err)
		}
		if n != want {
			t.Fatalf("expected visit %d, got %d", want, n)
		}
	}

	dismissed, err := flags.Dismissed(ctx, "onboarding")
	if err != nil || dismissed {
		t.Fatalf("expected onboarding not dismissed, got %v %v", dismissed, err)
	}
	if err := flags.Dismiss(ctx, "onboarding"); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	dismissed, err = flags.Dismissed(ctx, "onboarding")
	if err != nil || !dismissed {
		t.Fatalf("expected onboarding dismissed, got %v %v", dismissed, err)
	}

	other := session.NewFlags(store, "s2")
	if n, _ := other.RecordVisit(ctx); n != 1 {
		t.Fatalf("expected visits scoped per student, got %d", n)
	}
}
