package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"liveclass-service/internal/domain"
)

// AssignmentRepository keeps assignment rows in process (useful for tests/demos).
type AssignmentRepository struct {
	mu   sync.RWMutex
	rows map[string]domain.Assignment
}

func NewAssignmentRepository() *AssignmentRepository {
	return &AssignmentRepository{rows: make(map[string]domain.Assignment)}
}

func (r *AssignmentRepository) Create(_ context.Context, a domain.Assignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[a.ID] = copyAssignment(a)
	return nil
}

func (r *AssignmentRepository) Get(_ context.Context, id string) (domain.Assignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.rows[id]
	if !ok {
		return domain.Assignment{}, domain.ErrAssignmentNotFound
	}
	return copyAssignment(a), nil
}

func (r *AssignmentRepository) ListSince(_ context.Context, studentID, instructorID string, since time.Time, limit int) ([]domain.Assignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Assignment, 0)
	for _, a := range r.rows {
		if a.StudentID != studentID || a.CreatedAt.Before(since) {
			continue
		}
		if instructorID != "" && a.InstructorID != instructorID {
			continue
		}
		out = append(out, copyAssignment(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *AssignmentRepository) Update(_ context.Context, id string, mutate func(*domain.Assignment) error) (domain.Assignment, domain.Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.rows[id]
	if !ok {
		return domain.Assignment{}, domain.Assignment{}, domain.ErrAssignmentNotFound
	}
	old := copyAssignment(current)
	next := copyAssignment(current)
	if err := mutate(&next); err != nil {
		return domain.Assignment{}, domain.Assignment{}, err
	}
	r.rows[id] = next
	return old, copyAssignment(next), nil
}

func (r *AssignmentRepository) DeleteExpiredCheckins(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	deleted := 0
	for id, a := range r.rows {
		if a.Type != domain.TypeLectureCheckin || a.Saved || a.AutoDeleteAt == nil {
			continue
		}
		if a.AutoDeleteAt.Before(now) {
			delete(r.rows, id)
			deleted++
		}
	}
	return deleted, nil
}

// copyAssignment detaches pointer and payload fields so callers cannot mutate stored rows.
func copyAssignment(a domain.Assignment) domain.Assignment {
	out := a
	out.Content = append(json.RawMessage(nil), a.Content...)
	out.Responses = append(json.RawMessage(nil), a.Responses...)
	if a.Grade != nil {
		g := *a.Grade
		out.Grade = &g
	}
	if a.OpenedAt != nil {
		t := *a.OpenedAt
		out.OpenedAt = &t
	}
	if a.AutoDeleteAt != nil {
		t := *a.AutoDeleteAt
		out.AutoDeleteAt = &t
	}
	return out
}
