package domain

// ChangeKind distinguishes row events on the change feed.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
)

// ChangeEvent is one row-level notification scoped to a student.
// Old is only set for updates.
type ChangeEvent struct {
	Kind      ChangeKind  `json:"kind"`
	StudentID string      `json:"studentId"`
	Old       *Assignment `json:"old,omitempty"`
	New       Assignment  `json:"new"`
}

// FeedMessageKind enumerates what a client-side subscription can report.
type FeedMessageKind string

const (
	FeedAck     FeedMessageKind = "ack"
	FeedChange  FeedMessageKind = "change"
	FeedError   FeedMessageKind = "error"
	FeedTimeout FeedMessageKind = "timeout"
	FeedClosed  FeedMessageKind = "closed"
)

// FeedMessage is delivered by a client subscription to its consumer.
type FeedMessage struct {
	Kind   FeedMessageKind
	Change *ChangeEvent
	Err    error
}

// AuthReason describes why the client session was renewed.
type AuthReason string

const (
	AuthSignedIn       AuthReason = "signed_in"
	AuthTokenRefreshed AuthReason = "token_refreshed"
)

// AuthEvent is emitted by the client session when it is renewed.
type AuthEvent struct {
	Reason AuthReason
	Token  string
}

// NotificationLevel sets how a notice is presented.
type NotificationLevel string

const (
	LevelInfo    NotificationLevel = "info"
	LevelSuccess NotificationLevel = "success"
	LevelWarning NotificationLevel = "warning"
)

// Notification is a user-facing notice raised by the reconciler.
type Notification struct {
	Level        NotificationLevel `json:"level"`
	Message      string            `json:"message"`
	AssignmentID string            `json:"assignmentId,omitempty"`
	Persistent   bool              `json:"persistent,omitempty"`
}
