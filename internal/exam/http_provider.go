package exam

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/23331a4722/voice-ed-exams/internal/config"
)

// HTTPProvider fetches exams and questions from the exam REST collaborator
type HTTPProvider struct {
	baseURL    string
	httpClient *http.Client
}

// wireQuestion is the question shape on the wire, before the provider
// re-indexes it densely
type wireQuestion struct {
	QuestionNumber int      `json:"question_number"`
	QuestionText   string   `json:"question_text"`
	Options        []string `json:"options,omitempty"`
	QuestionType   string   `json:"question_type"`
}

// NewHTTPProvider creates a provider against the configured exam API
func NewHTTPProvider(cfg *config.Config) *HTTPProvider {
	return &HTTPProvider{
		baseURL:    cfg.ExamAPIURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// FetchExam fetches exam metadata by ID
func (p *HTTPProvider) FetchExam(ctx context.Context, examID string) (*Exam, error) {
	var exam Exam
	if err := p.getJSON(ctx, fmt.Sprintf("%s/exams/%s", p.baseURL, examID), &exam); err != nil {
		return nil, fmt.Errorf("failed to fetch exam %s: %w", examID, err)
	}
	if exam.DurationSeconds <= 0 {
		return nil, fmt.Errorf("exam %s has invalid duration %d", examID, exam.DurationSeconds)
	}
	return &exam, nil
}

// FetchQuestions fetches the ordered question sequence for an exam.
// Questions are sorted by their declared number and re-indexed densely
// from zero.
func (p *HTTPProvider) FetchQuestions(ctx context.Context, examID string) ([]Question, error) {
	var wire []wireQuestion
	if err := p.getJSON(ctx, fmt.Sprintf("%s/exams/%s/questions", p.baseURL, examID), &wire); err != nil {
		return nil, fmt.Errorf("failed to fetch questions for exam %s: %w", examID, err)
	}
	if len(wire) == 0 {
		return nil, fmt.Errorf("exam %s has no questions", examID)
	}

	sort.Slice(wire, func(i, j int) bool {
		return wire[i].QuestionNumber < wire[j].QuestionNumber
	})

	questions := make([]Question, len(wire))
	for i, q := range wire {
		kind := KindFreeText
		if QuestionKind(q.QuestionType) == KindMultipleChoice {
			kind = KindMultipleChoice
		}
		questions[i] = Question{
			Index:   i,
			Prompt:  q.QuestionText,
			Choices: q.Options,
			Kind:    kind,
		}
	}
	return questions, nil
}

func (p *HTTPProvider) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("not found")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
