package client

import (
	"context"

	"github.com/rs/zerolog"

	"liveclass-service/internal/domain"
)

// LogNotifier presents notifications as log lines.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "notifier").Logger()}
}

func (n *LogNotifier) Notify(_ context.Context, note domain.Notification) {
	var ev *zerolog.Event
	switch note.Level {
	case domain.LevelWarning:
		ev = n.log.Warn()
	default:
		ev = n.log.Info()
	}
	ev.Str("level_hint", string(note.Level)).
		Str("assignment_id", note.AssignmentID).
		Bool("persistent", note.Persistent).
		Msg(note.Message)
}
