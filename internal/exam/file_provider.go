package exam

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// examFixture is the YAML document shape for file-backed exams
type examFixture struct {
	Exams []fixtureExam `yaml:"exams"`
}

type fixtureExam struct {
	ID              string     `yaml:"id"`
	Title           string     `yaml:"title"`
	DurationSeconds int        `yaml:"duration_seconds"`
	Questions       []Question `yaml:"questions"`
}

// FileProvider serves exams from a local YAML fixture. Useful for
// development and for deployments without an exam API.
type FileProvider struct {
	exams map[string]fixtureExam
}

// NewFileProvider loads the fixture at path. The whole file is parsed and
// validated up front; a bad fixture fails construction, not the session.
func NewFileProvider(path string) (*FileProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read exam fixture %s: %w", path, err)
	}

	var fixture examFixture
	if err := yaml.Unmarshal(data, &fixture); err != nil {
		return nil, fmt.Errorf("failed to parse exam fixture %s: %w", path, err)
	}
	if len(fixture.Exams) == 0 {
		return nil, fmt.Errorf("exam fixture %s contains no exams", path)
	}

	exams := make(map[string]fixtureExam, len(fixture.Exams))
	for _, e := range fixture.Exams {
		if e.ID == "" {
			return nil, fmt.Errorf("exam fixture %s contains an exam without an id", path)
		}
		if e.DurationSeconds <= 0 {
			return nil, fmt.Errorf("exam %s has invalid duration %d", e.ID, e.DurationSeconds)
		}
		if len(e.Questions) == 0 {
			return nil, fmt.Errorf("exam %s has no questions", e.ID)
		}
		for i := range e.Questions {
			e.Questions[i].Index = i
			if e.Questions[i].Kind == "" {
				e.Questions[i].Kind = KindFreeText
			}
		}
		exams[e.ID] = e
	}

	return &FileProvider{exams: exams}, nil
}

// FetchExam returns exam metadata by ID
func (p *FileProvider) FetchExam(ctx context.Context, examID string) (*Exam, error) {
	e, ok := p.exams[examID]
	if !ok {
		return nil, fmt.Errorf("exam %s not found", examID)
	}
	return &Exam{ID: e.ID, Title: e.Title, DurationSeconds: e.DurationSeconds}, nil
}

// FetchQuestions returns the ordered question sequence for an exam
func (p *FileProvider) FetchQuestions(ctx context.Context, examID string) ([]Question, error) {
	e, ok := p.exams[examID]
	if !ok {
		return nil, fmt.Errorf("exam %s not found", examID)
	}
	questions := make([]Question, len(e.Questions))
	copy(questions, e.Questions)
	return questions, nil
}
