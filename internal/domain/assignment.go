package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// AssignmentType enumerates what kind of work an assignment carries.
type AssignmentType string

const (
	TypeQuiz           AssignmentType = "quiz"
	TypeLectureCheckin AssignmentType = "lecture_checkin"
	TypeLesson         AssignmentType = "lesson"
	TypeMiniProject    AssignmentType = "mini_project"
)

// Valid reports whether t is one of the known assignment types.
func (t AssignmentType) Valid() bool {
	switch t {
	case TypeQuiz, TypeLectureCheckin, TypeLesson, TypeMiniProject:
		return true
	default:
		return false
	}
}

// Gradable reports whether submissions for t are scored automatically.
func (t AssignmentType) Gradable() bool {
	return t == TypeQuiz || t == TypeLectureCheckin
}

// Assignment is one row of a student's work for the day.
type Assignment struct {
	ID              string          `json:"id"`
	StudentID       string          `json:"studentId"`
	InstructorID    string          `json:"instructorId"`
	Title           string          `json:"title"`
	Type            AssignmentType  `json:"type"`
	Content         json.RawMessage `json:"content,omitempty"`
	Completed       bool            `json:"completed"`
	Saved           bool            `json:"saved"`
	Grade           *float64        `json:"grade"`
	Responses       json.RawMessage `json:"responses,omitempty"`
	AnswersReleased bool            `json:"answersReleased"`
	OpenedAt        *time.Time      `json:"openedAt,omitempty"`
	AutoDeleteAt    *time.Time      `json:"autoDeleteAt,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// NewAssignment is the instructor-side input for creating an assignment.
type NewAssignment struct {
	StudentID    string          `json:"studentId" validate:"required"`
	InstructorID string          `json:"instructorId" validate:"required"`
	Title        string          `json:"title" validate:"required,max=200"`
	Type         AssignmentType  `json:"type" validate:"required"`
	Content      json.RawMessage `json:"content"`
}

// Option represents a possible answer for a question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question models an MCQ question with exactly one correct option.
type Question struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Options []Option `json:"options"`
}

// QuestionSet is the content payload of quizzes and lecture check-ins.
type QuestionSet struct {
	Questions []Question `json:"questions"`
}

// ParseQuestionSet decodes the content payload of a gradable assignment.
func ParseQuestionSet(raw json.RawMessage) (QuestionSet, error) {
	var set QuestionSet
	if len(raw) == 0 {
		return set, ErrInvalidContent
	}
	if err := json.Unmarshal(raw, &set); err != nil {
		return set, fmt.Errorf("%w: %v", ErrInvalidContent, err)
	}
	if len(set.Questions) == 0 {
		return set, ErrInvalidContent
	}
	return set, nil
}

// Answer is a student's choice for one question, with a confidence bet of 1 to 3.
type Answer struct {
	QuestionID string `json:"questionId" validate:"required"`
	OptionID   string `json:"optionId" validate:"required"`
	Confidence int    `json:"confidence" validate:"min=1,max=3"`
}

// GradingResult summarizes a graded submission.
type GradingResult struct {
	Grade      float64 `json:"grade"`
	Correct    int     `json:"correct"`
	Total      int     `json:"total"`
	XP         int     `json:"xp"`
	BestStreak int     `json:"bestStreak"`
}

// Submission is the response payload persisted on the assignment row.
type Submission struct {
	Answers []Answer      `json:"answers"`
	Result  GradingResult `json:"result"`
}
