package reconciler

import (
	"time"

	"liveclass-service/internal/domain"
)

// Event is an input to Reduce.
type Event interface{ isEvent() }

// Started kicks off the first subscription.
type Started struct{}

// ChannelAcked means the push channel for generation Gen confirmed the subscription.
type ChannelAcked struct{ Gen int }

// FailureReason says how the push channel went down.
type FailureReason string

const (
	ReasonError   FailureReason = "error"
	ReasonTimeout FailureReason = "timeout"
	ReasonClosed  FailureReason = "closed"
)

// ChannelFailed means the push channel for generation Gen errored, timed out or closed.
type ChannelFailed struct {
	Gen    int
	Reason FailureReason
}

// RowInserted carries an insert from the change feed.
type RowInserted struct{ Assignment domain.Assignment }

// RowUpdated carries an update from the change feed with both row images.
type RowUpdated struct {
	Old *domain.Assignment
	New domain.Assignment
}

// CheckinDue fires when a check-in has waited out its reveal delay.
type CheckinDue struct{ Assignment domain.Assignment }

// DebounceElapsed fires when update activity has been quiet long enough to refetch.
type DebounceElapsed struct{}

// PollTick fires on every polling interval.
type PollTick struct{}

// ReconnectDue fires when a backoff delay has elapsed.
type ReconnectDue struct{}

// RefetchCompleted carries the outcome of a full refetch.
type RefetchCompleted struct {
	Assignments []domain.Assignment
	Err         error
}

// AuthRenewed means the client session was signed in again or its token refreshed.
type AuthRenewed struct{ Reason domain.AuthReason }

func (Started) isEvent()          {}
func (ChannelAcked) isEvent()     {}
func (ChannelFailed) isEvent()    {}
func (RowInserted) isEvent()      {}
func (RowUpdated) isEvent()       {}
func (CheckinDue) isEvent()       {}
func (DebounceElapsed) isEvent()  {}
func (PollTick) isEvent()         {}
func (ReconnectDue) isEvent()     {}
func (RefetchCompleted) isEvent() {}
func (AuthRenewed) isEvent()      {}

// Effect is an instruction from Reduce to the runtime.
type Effect interface{ isEffect() }

// Subscribe tears down any live channel and opens a new one tagged with Gen.
type Subscribe struct{ Gen int }

// Refetch pulls today's assignments.
type Refetch struct{}

// Schedule arms the named task; a pending task with the same name is replaced.
type Schedule struct {
	Task  string
	After time.Duration
	Event Event
}

// Cancel disarms the named task if it is pending.
type Cancel struct{ Task string }

// StartPolling arms the fallback poll ticker.
type StartPolling struct{ Interval time.Duration }

// StopPolling disarms the fallback poll ticker.
type StopPolling struct{}

// Notify raises a notification.
type Notify struct{ Notification domain.Notification }

func (Subscribe) isEffect()    {}
func (Refetch) isEffect()      {}
func (Schedule) isEffect()     {}
func (Cancel) isEffect()       {}
func (StartPolling) isEffect() {}
func (StopPolling) isEffect()  {}
func (Notify) isEffect()       {}

// Task names.
const (
	TaskReconnect = "reconnect"
	TaskDebounce  = "debounce"
)

// CheckinTask names the reveal task of one check-in.
func CheckinTask(id string) string {
	return "checkin:" + id
}
