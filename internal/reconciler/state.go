package reconciler

import (
	"time"

	"liveclass-service/internal/domain"
)

// Status is the connection state of the push channel.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
	StatusError      Status = "error"
)

// Settings are the timing constants the reducer works with.
type Settings struct {
	CheckinDelay  time.Duration
	DebounceDelay time.Duration
	PollInterval  time.Duration
	MaxRetries    int
	BackoffBase   time.Duration
	BackoffMax    time.Duration
}

// DefaultSettings returns the production timings.
func DefaultSettings() Settings {
	return Settings{
		CheckinDelay:  1500 * time.Millisecond,
		DebounceDelay: 500 * time.Millisecond,
		PollInterval:  5 * time.Second,
		MaxRetries:    5,
		BackoffBase:   time.Second,
		BackoffMax:    30 * time.Second,
	}
}

// Backoff returns the reconnect delay for the given 0-indexed attempt:
// min(base * 2^attempt, max).
func (s Settings) Backoff(attempt int) time.Duration {
	d := s.BackoffBase
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= s.BackoffMax {
			return s.BackoffMax
		}
	}
	if d > s.BackoffMax {
		return s.BackoffMax
	}
	return d
}

// State is the reconciler's local view. It is only changed by Reduce.
type State struct {
	StudentID   string
	Status      Status
	Retries     int
	Gen         int
	Assignments []domain.Assignment
	Loaded      bool
	Pending     map[string]struct{}
	Polling     bool
	Exhausted   bool
}

// NewState returns the initial state for a student.
func NewState(studentID string) State {
	return State{
		StudentID: studentID,
		Status:    StatusConnecting,
		Pending:   make(map[string]struct{}),
	}
}

// Incoming reports whether a check-in is waiting out its reveal delay.
func (s State) Incoming() bool {
	return len(s.Pending) > 0
}

// IDs lists the visible assignment ids in display order.
func (s State) IDs() []string {
	ids := make([]string, 0, len(s.Assignments))
	for _, a := range s.Assignments {
		ids = append(ids, a.ID)
	}
	return ids
}

// clone copies the slices and maps so reductions never alias earlier states.
func (s State) clone() State {
	out := s
	out.Assignments = append([]domain.Assignment(nil), s.Assignments...)
	out.Pending = make(map[string]struct{}, len(s.Pending))
	for id := range s.Pending {
		out.Pending[id] = struct{}{}
	}
	return out
}

func (s State) indexOf(id string) int {
	for i := range s.Assignments {
		if s.Assignments[i].ID == id {
			return i
		}
	}
	return -1
}
