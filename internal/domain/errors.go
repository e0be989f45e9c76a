package domain

import "errors"

var (
	// ErrAssignmentNotFound is returned when no assignment row matches the id.
	ErrAssignmentNotFound = errors.New("assignment not found")
	// ErrInvalidAssignmentType indicates an unknown assignment type.
	ErrInvalidAssignmentType = errors.New("invalid assignment type")
	// ErrNotGradable is returned when answers are submitted for a lesson or project.
	ErrNotGradable = errors.New("assignment type is not auto-graded")
	// ErrQuestionNotFound indicates a submitted question ID is invalid.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrInvalidContent indicates the content payload could not be parsed as a question set.
	ErrInvalidContent = errors.New("invalid assignment content")
)
