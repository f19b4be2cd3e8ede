package exam

import "context"

// QuestionKind distinguishes free-text from multiple-choice questions
type QuestionKind string

const (
	KindFreeText       QuestionKind = "text"
	KindMultipleChoice QuestionKind = "multiple-choice"
)

// Question is one exam question. Immutable once loaded.
type Question struct {
	Index   int          `json:"index" yaml:"index"`
	Prompt  string       `json:"prompt" yaml:"prompt"`
	Choices []string     `json:"choices,omitempty" yaml:"choices,omitempty"`
	Kind    QuestionKind `json:"kind" yaml:"kind"`
}

// Exam describes an exam attempt's shape: title and time budget
type Exam struct {
	ID              string `json:"id" yaml:"id"`
	Title           string `json:"title" yaml:"title"`
	DurationSeconds int    `json:"duration_seconds" yaml:"duration_seconds"`
}

// Provider supplies exams and their questions. Failures are fatal to the
// session; the engine cannot proceed without questions.
type Provider interface {
	FetchExam(ctx context.Context, examID string) (*Exam, error)
	FetchQuestions(ctx context.Context, examID string) ([]Question, error)
}
