package client

import (
	"context"
	"crypto/sha1"
	"encoding/hex"

	"github.com/rs/zerolog"

	"liveclass-service/internal/domain"
	"liveclass-service/internal/reconciler"
	"liveclass-service/internal/session"
)

// FlagNotifier suppresses persistent notices the student has dismissed.
// Every other notice passes through unchanged.
type FlagNotifier struct {
	next  reconciler.Notifier
	flags *session.Flags
	log   zerolog.Logger
}

func NewFlagNotifier(next reconciler.Notifier, flags *session.Flags, log zerolog.Logger) *FlagNotifier {
	return &FlagNotifier{next: next, flags: flags, log: log.With().Str("component", "flag_notifier").Logger()}
}

func (n *FlagNotifier) Notify(ctx context.Context, note domain.Notification) {
	if !note.Persistent {
		n.next.Notify(ctx, note)
		return
	}
	dismissed, err := n.flags.Dismissed(ctx, noticeKey(note.Message))
	if err != nil {
		n.log.Warn().Err(err).Msg("Read notice dismissal failed")
	}
	if dismissed {
		n.log.Debug().Str("message", note.Message).Msg("Persistent notice dismissed")
		return
	}
	n.next.Notify(ctx, note)
}

// Dismiss records that the student no longer wants to see the notice.
func (n *FlagNotifier) Dismiss(ctx context.Context, message string) error {
	return n.flags.Dismiss(ctx, noticeKey(message))
}

func noticeKey(message string) string {
	sum := sha1.Sum([]byte(message))
	return hex.EncodeToString(sum[:8])
}
