package reconciler

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"liveclass-service/internal/domain"
)

func TestBackoffDelays(t *testing.T) {
	cfg := DefaultSettings()
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second, 30 * time.Second}
	for n, w := range want {
		if got := cfg.Backoff(n); got != w {
			t.Fatalf("backoff(%d) = %v, want %v", n, got, w)
		}
	}
}

func TestInsertDeduplicates(t *testing.T) {
	cfg := DefaultSettings()
	s := connected(t, cfg)

	ids := []string{"a1", "a2", "a1", "a3", "a2", "a2"}
	for _, id := range ids {
		s, _ = Reduce(cfg, s, RowInserted{Assignment: quiz(id)})
	}
	if got := s.IDs(); !reflect.DeepEqual(got, []string{"a3", "a2", "a1"}) {
		t.Fatalf("expected each id once newest first, got %v", got)
	}
}

func TestNonCheckinInsertIsImmediate(t *testing.T) {
	cfg := DefaultSettings()
	s := NewState("s1")

	s, effects := Reduce(cfg, s, RowInserted{Assignment: quiz("a1")})
	if got := s.IDs(); !reflect.DeepEqual(got, []string{"a1"}) {
		t.Fatalf("expected [a1], got %v", got)
	}
	if len(effects) != 0 {
		t.Fatalf("expected no delayed effects, got %+v", effects)
	}
}

func TestCheckinInsertIsDelayed(t *testing.T) {
	cfg := DefaultSettings()
	s := NewState("s1")
	c := checkin("c1")

	s, effects := Reduce(cfg, s, RowInserted{Assignment: c})
	if len(s.Assignments) != 0 {
		t.Fatalf("check-in visible before delay: %v", s.IDs())
	}
	if !s.Incoming() {
		t.Fatalf("expected incoming state while check-in is pending")
	}
	sched, ok := effects[0].(Schedule)
	if !ok || sched.Task != CheckinTask("c1") || sched.After != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s check-in task, got %+v", effects)
	}

	s, effects = Reduce(cfg, s, sched.Event)
	if got := s.IDs(); !reflect.DeepEqual(got, []string{"c1"}) {
		t.Fatalf("expected [c1] after delay, got %v", got)
	}
	if s.Incoming() {
		t.Fatalf("expected incoming state cleared")
	}
	n := notifications(effects)
	if len(n) != 1 || n[0].Level != domain.LevelSuccess || n[0].AssignmentID != "c1" {
		t.Fatalf("expected one success notification, got %+v", n)
	}
}

func TestUpdateDuringCheckinDelayRevealsLatestRow(t *testing.T) {
	cfg := DefaultSettings()
	s := NewState("s1")
	c := checkin("c1")

	s, _ = Reduce(cfg, s, RowInserted{Assignment: c})
	saved := c
	saved.Saved = true
	s, effects := Reduce(cfg, s, RowUpdated{Old: &c, New: saved})

	var due *Schedule
	for _, e := range effects {
		if sched, ok := e.(Schedule); ok && sched.Task == CheckinTask("c1") {
			due = &sched
		}
	}
	if due == nil || due.After != cfg.CheckinDelay {
		t.Fatalf("expected check-in task rescheduled with the new image, got %+v", effects)
	}
	if len(s.Assignments) != 0 || !s.Incoming() {
		t.Fatalf("check-in must stay hidden until its delay elapses, got %v", s.IDs())
	}

	s, _ = Reduce(cfg, s, RefetchCompleted{Assignments: []domain.Assignment{saved}})
	s, _ = Reduce(cfg, s, due.Event)
	if len(s.Assignments) != 1 || !s.Assignments[0].Saved {
		t.Fatalf("expected revealed check-in to carry the update, got %+v", s.Assignments)
	}
}

func TestCheckinDueDoesNotDuplicate(t *testing.T) {
	cfg := DefaultSettings()
	s := NewState("s1")
	c := checkin("c1")

	s, _ = Reduce(cfg, s, RowInserted{Assignment: c})
	s, _ = Reduce(cfg, s, CheckinDue{Assignment: c})
	s, _ = Reduce(cfg, s, RowInserted{Assignment: c})
	s, _ = Reduce(cfg, s, CheckinDue{Assignment: c})
	if got := s.IDs(); !reflect.DeepEqual(got, []string{"c1"}) {
		t.Fatalf("expected c1 once, got %v", got)
	}
}

func TestRefetchHidesPendingCheckins(t *testing.T) {
	cfg := DefaultSettings()
	s := NewState("s1")
	s, _ = Reduce(cfg, s, RowInserted{Assignment: checkin("c1")})

	s, _ = Reduce(cfg, s, RefetchCompleted{Assignments: []domain.Assignment{checkin("c1"), quiz("a1")}})
	if got := s.IDs(); !reflect.DeepEqual(got, []string{"a1"}) {
		t.Fatalf("expected pending check-in hidden, got %v", got)
	}
}

func TestRefetchCountsNewAfterFirstLoad(t *testing.T) {
	cfg := DefaultSettings()
	s := NewState("s1")

	s, effects := Reduce(cfg, s, RefetchCompleted{Assignments: []domain.Assignment{quiz("a1"), quiz("a2")}})
	if len(notifications(effects)) != 0 {
		t.Fatalf("expected first load to be silent, got %+v", effects)
	}
	if !s.Loaded {
		t.Fatalf("expected loaded after first refetch")
	}

	rows := []domain.Assignment{quiz("a4"), quiz("a3"), quiz("a3"), quiz("a2"), quiz("a1")}
	s, effects = Reduce(cfg, s, RefetchCompleted{Assignments: rows})
	if got := s.IDs(); !reflect.DeepEqual(got, []string{"a4", "a3", "a2", "a1"}) {
		t.Fatalf("expected de-duplicated snapshot, got %v", got)
	}
	n := notifications(effects)
	if len(n) != 1 || n[0].Message != "2 new assignments" {
		t.Fatalf("expected \"2 new assignments\", got %+v", n)
	}
}

func TestRefetchErrorKeepsState(t *testing.T) {
	cfg := DefaultSettings()
	s := NewState("s1")
	s, _ = Reduce(cfg, s, RefetchCompleted{Assignments: []domain.Assignment{quiz("a1")}})

	next, effects := Reduce(cfg, s, RefetchCompleted{Err: errors.New("boom")})
	if got := next.IDs(); !reflect.DeepEqual(got, []string{"a1"}) {
		t.Fatalf("expected previous state kept, got %v", got)
	}
	if len(effects) != 0 {
		t.Fatalf("expected no effects, got %+v", effects)
	}
}

func TestGradePostedNotifiesOnce(t *testing.T) {
	cfg := DefaultSettings()
	s := NewState("s1")
	a := quiz("a1")
	s, _ = Reduce(cfg, s, RefetchCompleted{Assignments: []domain.Assignment{a}})

	graded := a
	graded.Grade = grade(87)
	s, effects := Reduce(cfg, s, RowUpdated{Old: &a, New: graded})
	n := notifications(effects)
	if len(n) != 1 || n[0].Message != "Grade posted: 87%" {
		t.Fatalf("expected one grade notification, got %+v", n)
	}
	if s.Assignments[0].Grade == nil || *s.Assignments[0].Grade != 87 {
		t.Fatalf("expected local grade 87, got %+v", s.Assignments[0].Grade)
	}
	if !hasSchedule(effects, TaskDebounce) {
		t.Fatalf("expected debounced refetch, got %+v", effects)
	}

	again := graded
	again.Completed = true
	_, effects = Reduce(cfg, s, RowUpdated{Old: &graded, New: again})
	if len(notifications(effects)) != 0 {
		t.Fatalf("expected no repeat grade notification, got %+v", effects)
	}
}

func TestReleaseNotifiesOnTransition(t *testing.T) {
	cfg := DefaultSettings()
	s := NewState("s1")
	a := quiz("a1")
	s, _ = Reduce(cfg, s, RefetchCompleted{Assignments: []domain.Assignment{a}})

	released := a
	released.AnswersReleased = true
	s, effects := Reduce(cfg, s, RowUpdated{Old: &a, New: released})
	if n := notifications(effects); len(n) != 1 || n[0].Level != domain.LevelInfo {
		t.Fatalf("expected release notification, got %+v", n)
	}
	_, effects = Reduce(cfg, s, RowUpdated{Old: &released, New: released})
	if n := notifications(effects); len(n) != 0 {
		t.Fatalf("expected no notification without transition, got %+v", n)
	}
}

func TestUpdateWithoutOldImageUsesLocalRow(t *testing.T) {
	cfg := DefaultSettings()
	s := NewState("s1")
	a := quiz("a1")
	a.Grade = grade(50)
	s, _ = Reduce(cfg, s, RefetchCompleted{Assignments: []domain.Assignment{a}})

	_, effects := Reduce(cfg, s, RowUpdated{New: a})
	if n := notifications(effects); len(n) != 0 {
		t.Fatalf("expected unchanged grade to stay quiet, got %+v", n)
	}
}

func TestConnectionLifecycle(t *testing.T) {
	cfg := DefaultSettings()
	s, effects := Reduce(cfg, NewState("s1"), Started{})
	if s.Status != StatusConnecting || s.Gen != 1 {
		t.Fatalf("expected connecting gen 1, got %s gen %d", s.Status, s.Gen)
	}
	if !hasEffect[Subscribe](effects) || !hasEffect[StartPolling](effects) || !hasEffect[Refetch](effects) {
		t.Fatalf("expected subscribe, refetch and polling on start, got %+v", effects)
	}

	s, effects = Reduce(cfg, s, ChannelAcked{Gen: 1})
	if s.Status != StatusConnected || s.Polling {
		t.Fatalf("expected connected without polling, got %+v", s)
	}
	if !hasEffect[StopPolling](effects) || !hasEffect[Refetch](effects) {
		t.Fatalf("expected stop polling and refetch on ack, got %+v", effects)
	}

	s, effects = Reduce(cfg, s, ChannelFailed{Gen: 1, Reason: ReasonTimeout})
	if s.Status != StatusError || !s.Polling || s.Retries != 1 {
		t.Fatalf("expected error with polling and one retry, got %+v", s)
	}
	if !hasSchedule(effects, TaskReconnect) {
		t.Fatalf("expected reconnect scheduled, got %+v", effects)
	}

	// a second failure report from the same channel is not a new attempt
	same, effects := Reduce(cfg, s, ChannelFailed{Gen: 1, Reason: ReasonClosed})
	if same.Retries != 1 || len(effects) != 0 {
		t.Fatalf("expected duplicate failure ignored, got retries %d effects %+v", same.Retries, effects)
	}

	s, effects = Reduce(cfg, s, ReconnectDue{})
	if s.Status != StatusConnecting || s.Gen != 2 || !hasEffect[Subscribe](effects) {
		t.Fatalf("expected resubscribe with gen 2, got %+v %+v", s, effects)
	}

	s, _ = Reduce(cfg, s, ChannelAcked{Gen: 2})
	if s.Retries != 0 {
		t.Fatalf("expected retries reset on ack, got %d", s.Retries)
	}
}

// Five reconnects are scheduled (1, 2, 4, 8, 16s); the failure after the fifth
// retry is the one that stops automatic retries and raises the notice.
func TestRetriesStopAfterMax(t *testing.T) {
	cfg := DefaultSettings()
	s, _ := Reduce(cfg, NewState("s1"), Started{})

	var delays []time.Duration
	for i := 0; i < cfg.MaxRetries; i++ {
		var effects []Effect
		s, effects = Reduce(cfg, s, ChannelFailed{Gen: s.Gen, Reason: ReasonError})
		for _, e := range effects {
			if sched, ok := e.(Schedule); ok && sched.Task == TaskReconnect {
				delays = append(delays, sched.After)
				s, _ = Reduce(cfg, s, sched.Event)
			}
		}
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	if !reflect.DeepEqual(delays, want) {
		t.Fatalf("expected delays %v, got %v", want, delays)
	}

	s, effects := Reduce(cfg, s, ChannelFailed{Gen: s.Gen, Reason: ReasonError})
	if hasSchedule(effects, TaskReconnect) {
		t.Fatalf("expected no further retry after %d attempts", cfg.MaxRetries)
	}
	n := notifications(effects)
	if len(n) != 1 || !n[0].Persistent || n[0].Message != ExhaustedMessage {
		t.Fatalf("expected persistent fallback notice, got %+v", n)
	}
	if !s.Exhausted || s.Status != StatusError {
		t.Fatalf("expected exhausted error state, got %+v", s)
	}

	s, effects = Reduce(cfg, s, AuthRenewed{Reason: domain.AuthTokenRefreshed})
	if s.Status != StatusConnecting || !hasEffect[Subscribe](effects) {
		t.Fatalf("expected auth refresh to resubscribe, got %+v %+v", s, effects)
	}
}

func TestStaleGenerationIgnored(t *testing.T) {
	cfg := DefaultSettings()
	s, _ := Reduce(cfg, NewState("s1"), Started{})
	s, _ = Reduce(cfg, s, AuthRenewed{Reason: domain.AuthSignedIn})

	next, effects := Reduce(cfg, s, ChannelAcked{Gen: 1})
	if next.Status != StatusConnecting || len(effects) != 0 {
		t.Fatalf("expected stale ack ignored, got %s %+v", next.Status, effects)
	}
	next, effects = Reduce(cfg, s, ChannelFailed{Gen: 1, Reason: ReasonError})
	if next.Status != StatusConnecting || len(effects) != 0 {
		t.Fatalf("expected stale failure ignored, got %s %+v", next.Status, effects)
	}
}

func TestPollTickRefetchesUntilConnected(t *testing.T) {
	cfg := DefaultSettings()
	s, _ := Reduce(cfg, NewState("s1"), Started{})

	_, effects := Reduce(cfg, s, PollTick{})
	if !hasEffect[Refetch](effects) {
		t.Fatalf("expected poll tick to refetch, got %+v", effects)
	}

	s, _ = Reduce(cfg, s, ChannelAcked{Gen: s.Gen})
	_, effects = Reduce(cfg, s, PollTick{})
	if hasEffect[Refetch](effects) {
		t.Fatalf("expected no refetch once connected, got %+v", effects)
	}
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	cfg := DefaultSettings()
	s := NewState("s1")
	s, _ = Reduce(cfg, s, RefetchCompleted{Assignments: []domain.Assignment{quiz("a1")}})

	_, _ = Reduce(cfg, s, RowInserted{Assignment: quiz("a2")})
	_, _ = Reduce(cfg, s, RowInserted{Assignment: checkin("c1")})
	if got := s.IDs(); !reflect.DeepEqual(got, []string{"a1"}) || s.Incoming() {
		t.Fatalf("expected input state untouched, got %v incoming=%v", got, s.Incoming())
	}
}

func connected(t *testing.T, cfg Settings) State {
	t.Helper()
	s, _ := Reduce(cfg, NewState("s1"), Started{})
	s, _ = Reduce(cfg, s, ChannelAcked{Gen: s.Gen})
	s, _ = Reduce(cfg, s, RefetchCompleted{})
	return s
}

func quiz(id string) domain.Assignment {
	return domain.Assignment{ID: id, StudentID: "s1", Title: "Quiz " + id, Type: domain.TypeQuiz}
}

func checkin(id string) domain.Assignment {
	return domain.Assignment{ID: id, StudentID: "s1", Title: "Check-in " + id, Type: domain.TypeLectureCheckin}
}

func grade(g float64) *float64 {
	return &g
}

func notifications(effects []Effect) []domain.Notification {
	var out []domain.Notification
	for _, e := range effects {
		if n, ok := e.(Notify); ok {
			out = append(out, n.Notification)
		}
	}
	return out
}

func hasSchedule(effects []Effect, task string) bool {
	for _, e := range effects {
		if s, ok := e.(Schedule); ok && s.Task == task {
			return true
		}
	}
	return false
}

func hasEffect[T Effect](effects []Effect) bool {
	for _, e := range effects {
		if _, ok := e.(T); ok {
			return true
		}
	}
	return false
}
