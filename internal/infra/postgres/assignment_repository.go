package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"liveclass-service/internal/domain"
)

const assignmentColumns = `id, student_id, instructor_id, title, type, content, completed, saved,
	grade, responses, answers_released, opened_at, auto_delete_at, created_at`

// AssignmentRepository stores assignment rows in Postgres.
type AssignmentRepository struct {
	pool *pgxpool.Pool
}

func NewAssignmentRepository(pool *pgxpool.Pool) *AssignmentRepository {
	return &AssignmentRepository{pool: pool}
}

func (r *AssignmentRepository) Create(ctx context.Context, a domain.Assignment) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO assignments (`+assignmentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		a.ID, a.StudentID, a.InstructorID, a.Title, string(a.Type), nullJSON(a.Content),
		a.Completed, a.Saved, a.Grade, nullJSON(a.Responses), a.AnswersReleased,
		a.OpenedAt, a.AutoDeleteAt, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert assignment: %w", err)
	}
	return nil
}

func (r *AssignmentRepository) Get(ctx context.Context, id string) (domain.Assignment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE id = $1`, id)
	a, err := scanAssignment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Assignment{}, domain.ErrAssignmentNotFound
	}
	if err != nil {
		return domain.Assignment{}, fmt.Errorf("load assignment: %w", err)
	}
	return a, nil
}

func (r *AssignmentRepository) ListSince(ctx context.Context, studentID, instructorID string, since time.Time, limit int) ([]domain.Assignment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+assignmentColumns+`
		 FROM assignments
		 WHERE student_id = $1
		   AND created_at >= $2
		   AND ($3 = '' OR instructor_id = $3)
		 ORDER BY created_at DESC, id DESC
		 LIMIT $4`,
		studentID, since, instructorID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query assignments: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Assignment, 0, limit)
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assignments: %w", err)
	}
	return out, nil
}

// Update locks the row, applies mutate and writes every mutable column back.
func (r *AssignmentRepository) Update(ctx context.Context, id string, mutate func(*domain.Assignment) error) (domain.Assignment, domain.Assignment, error) {
	var old, next domain.Assignment
	err := r.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE id = $1 FOR UPDATE`, id)
		current, err := scanAssignment(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrAssignmentNotFound
		}
		if err != nil {
			return fmt.Errorf("lock assignment: %w", err)
		}
		old = current
		next = current
		if err := mutate(&next); err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`UPDATE assignments
			 SET completed = $2, saved = $3, grade = $4, responses = $5,
			     answers_released = $6, opened_at = $7, auto_delete_at = $8
			 WHERE id = $1`,
			id, next.Completed, next.Saved, next.Grade, nullJSON(next.Responses),
			next.AnswersReleased, next.OpenedAt, next.AutoDeleteAt,
		)
		if err != nil {
			return fmt.Errorf("update assignment: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Assignment{}, domain.Assignment{}, err
	}
	return old, next, nil
}

func (r *AssignmentRepository) DeleteExpiredCheckins(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM assignments
		 WHERE type = $1 AND saved = FALSE
		   AND auto_delete_at IS NOT NULL AND auto_delete_at < $2`,
		string(domain.TypeLectureCheckin), now,
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired check-ins: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanAssignment(row pgx.Row) (domain.Assignment, error) {
	var (
		a         domain.Assignment
		typ       string
		content   []byte
		responses []byte
	)
	err := row.Scan(
		&a.ID, &a.StudentID, &a.InstructorID, &a.Title, &typ, &content,
		&a.Completed, &a.Saved, &a.Grade, &responses, &a.AnswersReleased,
		&a.OpenedAt, &a.AutoDeleteAt, &a.CreatedAt,
	)
	if err != nil {
		return domain.Assignment{}, err
	}
	a.Type = domain.AssignmentType(typ)
	a.Content = content
	a.Responses = responses
	return a, nil
}

// nullJSON maps an empty payload to SQL NULL instead of invalid JSONB.
func nullJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
