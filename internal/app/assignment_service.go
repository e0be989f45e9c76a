package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"liveclass-service/internal/domain"
)

// MaxFetchLimit caps the rows returned by ListToday.
const MaxFetchLimit = 30

// AssignmentRepository abstracts how assignment rows are stored (in-memory, Postgres).
type AssignmentRepository interface {
	Create(ctx context.Context, a domain.Assignment) error
	Get(ctx context.Context, id string) (domain.Assignment, error)
	// ListSince returns the student's rows created at or after since, newest first.
	ListSince(ctx context.Context, studentID, instructorID string, since time.Time, limit int) ([]domain.Assignment, error)
	// Update applies mutate to the row and returns the images before and after.
	Update(ctx context.Context, id string, mutate func(*domain.Assignment) error) (domain.Assignment, domain.Assignment, error)
	// DeleteExpiredCheckins removes unsaved check-ins whose auto-delete time has passed.
	DeleteExpiredCheckins(ctx context.Context, now time.Time) (int, error)
}

// ChangePublisher delivers row events to the students' change feeds.
type ChangePublisher interface {
	Publish(ctx context.Context, ev domain.ChangeEvent) error
}

// AssignmentService contains the server-side assignment use cases.
type AssignmentService struct {
	repo       AssignmentRepository
	publisher  ChangePublisher
	checkinTTL time.Duration
	now        func() time.Time
	sf         singleflight.Group
	log        zerolog.Logger
}

func NewAssignmentService(repo AssignmentRepository, publisher ChangePublisher, checkinTTL time.Duration, log zerolog.Logger) *AssignmentService {
	return NewAssignmentServiceWithClock(repo, publisher, checkinTTL, log, time.Now)
}

// NewAssignmentServiceWithClock is test-only for deterministic timestamps.
func NewAssignmentServiceWithClock(repo AssignmentRepository, publisher ChangePublisher, checkinTTL time.Duration, log zerolog.Logger, now func() time.Time) *AssignmentService {
	return &AssignmentService{
		repo:       repo,
		publisher:  publisher,
		checkinTTL: checkinTTL,
		now:        now,
		log:        log.With().Str("component", "assignment_service").Logger(),
	}
}

// Create stores a new assignment for a student and pushes it to their feed.
func (s *AssignmentService) Create(ctx context.Context, in domain.NewAssignment) (domain.Assignment, error) {
	if !in.Type.Valid() {
		return domain.Assignment{}, domain.ErrInvalidAssignmentType
	}
	if in.Type.Gradable() {
		if _, err := domain.ParseQuestionSet(in.Content); err != nil {
			return domain.Assignment{}, err
		}
	}

	now := s.now()
	a := domain.Assignment{
		ID:           uuid.NewString(),
		StudentID:    in.StudentID,
		InstructorID: in.InstructorID,
		Title:        in.Title,
		Type:         in.Type,
		Content:      in.Content,
		CreatedAt:    now,
	}
	if in.Type == domain.TypeLectureCheckin && s.checkinTTL > 0 {
		expires := now.Add(s.checkinTTL)
		a.AutoDeleteAt = &expires
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return domain.Assignment{}, fmt.Errorf("create assignment: %w", err)
	}

	s.publish(ctx, domain.ChangeEvent{Kind: domain.ChangeInsert, StudentID: a.StudentID, New: a})
	return a, nil
}

// ListToday returns the student's assignments created since local midnight,
// newest first. Identical concurrent requests share one query.
func (s *AssignmentService) ListToday(ctx context.Context, studentID, instructorID string, limit int) ([]domain.Assignment, error) {
	if limit <= 0 || limit > MaxFetchLimit {
		limit = MaxFetchLimit
	}
	now := s.now()
	since := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	key := studentID + "|" + instructorID + "|" + strconv.Itoa(limit)
	// The shared query outlives the caller that started it.
	shared := context.WithoutCancel(ctx)
	result, err, _ := s.sf.Do(key, func() (interface{}, error) {
		return s.repo.ListSince(shared, studentID, instructorID, since, limit)
	})
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	return result.([]domain.Assignment), nil
}

// CleanupStaleCheckins purges expired check-ins the student never saved.
func (s *AssignmentService) CleanupStaleCheckins(ctx context.Context) (int, error) {
	n, err := s.repo.DeleteExpiredCheckins(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("cleanup check-ins: %w", err)
	}
	if n > 0 {
		s.log.Debug().Int("deleted", n).Msg("Stale check-ins removed")
	}
	return n, nil
}

// SubmitAnswers grades a quiz or check-in, stores the responses and marks it completed.
func (s *AssignmentService) SubmitAnswers(ctx context.Context, id string, answers []domain.Answer) (domain.Assignment, domain.GradingResult, error) {
	var result domain.GradingResult
	updated, err := s.update(ctx, id, func(a *domain.Assignment) error {
		if !a.Type.Gradable() {
			return domain.ErrNotGradable
		}
		set, err := domain.ParseQuestionSet(a.Content)
		if err != nil {
			return err
		}
		result, err = gradeAnswers(set, answers)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(domain.Submission{Answers: answers, Result: result})
		if err != nil {
			return err
		}
		grade := result.Grade
		a.Responses = payload
		a.Grade = &grade
		a.Completed = true
		return nil
	})
	return updated, result, err
}

// MarkOpened records the first time the student opened the assignment.
func (s *AssignmentService) MarkOpened(ctx context.Context, id string) (domain.Assignment, error) {
	return s.update(ctx, id, func(a *domain.Assignment) error {
		if a.OpenedAt == nil {
			now := s.now()
			a.OpenedAt = &now
		}
		return nil
	})
}

// MarkCompleted flags the assignment as done without grading it.
func (s *AssignmentService) MarkCompleted(ctx context.Context, id string) (domain.Assignment, error) {
	return s.update(ctx, id, func(a *domain.Assignment) error {
		a.Completed = true
		return nil
	})
}

// MarkSaved keeps a check-in from being purged after its auto-delete time.
func (s *AssignmentService) MarkSaved(ctx context.Context, id string) (domain.Assignment, error) {
	return s.update(ctx, id, func(a *domain.Assignment) error {
		a.Saved = true
		a.AutoDeleteAt = nil
		return nil
	})
}

// ReleaseAnswers lets the student see correctness feedback.
func (s *AssignmentService) ReleaseAnswers(ctx context.Context, id string) (domain.Assignment, error) {
	return s.update(ctx, id, func(a *domain.Assignment) error {
		a.AnswersReleased = true
		return nil
	})
}

// PostGrade sets the instructor's grade.
func (s *AssignmentService) PostGrade(ctx context.Context, id string, grade float64) (domain.Assignment, error) {
	return s.update(ctx, id, func(a *domain.Assignment) error {
		a.Grade = &grade
		return nil
	})
}

func (s *AssignmentService) update(ctx context.Context, id string, mutate func(*domain.Assignment) error) (domain.Assignment, error) {
	old, updated, err := s.repo.Update(ctx, id, mutate)
	if err != nil {
		return domain.Assignment{}, err
	}
	s.publish(ctx, domain.ChangeEvent{Kind: domain.ChangeUpdate, StudentID: updated.StudentID, Old: &old, New: updated})
	return updated, nil
}

// publish is best effort: the row is already stored and clients converge on refetch.
func (s *AssignmentService) publish(ctx context.Context, ev domain.ChangeEvent) {
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.log.Warn().Err(err).
			Str("student_id", ev.StudentID).
			Str("assignment_id", ev.New.ID).
			Str("kind", string(ev.Kind)).
			Msg("Publish change failed")
	}
}
