// Package session holds per-student client state that outlives a single run,
// such as visit counters and dismissed notices, behind an explicit store.
package session

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by a Store when the key has no value.
var ErrNotFound = errors.New("session key not found")

// Store is the key-value backend for session flags.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Incr(ctx context.Context, key string) (int64, error)
}

// Flags reads and writes the session state of one student.
type Flags struct {
	store     Store
	studentID string
}

func NewFlags(store Store, studentID string) *Flags {
	return &Flags{store: store, studentID: studentID}
}

// RecordVisit bumps the visit counter and returns the new count.
func (f *Flags) RecordVisit(ctx context.Context) (int64, error) {
	n, err := f.store.Incr(ctx, f.key("visits"))
	if err != nil {
		return 0, fmt.Errorf("record visit: %w", err)
	}
	return n, nil
}

// Dismissed reports whether the named notice was dismissed earlier.
func (f *Flags) Dismissed(ctx context.Context, notice string) (bool, error) {
	_, err := f.store.Get(ctx, f.key("dismissed:"+notice))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read dismissal: %w", err)
	}
	return true, nil
}

// Dismiss remembers that the named notice should not be shown again.
func (f *Flags) Dismiss(ctx context.Context, notice string) error {
	if err := f.store.Set(ctx, f.key("dismissed:"+notice), "1"); err != nil {
		return fmt.Errorf("dismiss notice: %w", err)
	}
	return nil
}

func (f *Flags) key(name string) string {
	return "session:" + f.studentID + ":" + name
}
