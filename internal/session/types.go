package session

import (
	"context"
	"errors"
)

// Status is the lifecycle state of a session checkpoint. The only legal
// transition is in_progress -> completed, exactly once.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Checkpoint is the persisted snapshot of session progress. It is the sole
// source of truth for resuming an interrupted session.
type Checkpoint struct {
	SessionID       string `json:"id"`
	CurrentQuestion int    `json:"current_question"`
	TimeRemaining   int    `json:"time_remaining"`
	Status          Status `json:"status"`
}

// Validation errors reported at the store boundary. Violations are surfaced
// to the caller, never silently coerced.
var (
	ErrAnswerTooLong    = errors.New("answer exceeds maximum length")
	ErrIndexOutOfRange  = errors.New("question index out of range")
	ErrAlreadyFinalized = errors.New("session already finalized")
	ErrNoActiveSession  = errors.New("no active session")
)

// Store persists and resumes exam session state against a remote
// collaborator. Writes are idempotent per (session, question) pair; the
// in-memory engine state stays authoritative when a write fails.
type Store interface {
	// CreateOrResume finds the user's single in_progress checkpoint and
	// reuses it verbatim, or creates a fresh one with the full time budget.
	// The returned answers slice is dense over [0, totalQuestions).
	CreateOrResume(ctx context.Context, totalQuestions int) (Checkpoint, []string, error)

	// SaveAnswer upserts the answer text for a question. Repeated calls
	// overwrite, never append.
	SaveAnswer(ctx context.Context, index int, text string) error

	// UpdateProgress records the current question index and remaining time
	UpdateProgress(ctx context.Context, index, timeRemaining int) error

	// Finalize transitions the checkpoint to completed. Exactly once;
	// repeated calls are a no-op.
	Finalize(ctx context.Context, timeRemaining int) error
}
