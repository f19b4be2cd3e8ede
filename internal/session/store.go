package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/23331a4722/voice-ed-exams/internal/config"
	"github.com/23331a4722/voice-ed-exams/internal/observability"
	"github.com/23331a4722/voice-ed-exams/internal/resilience"
)

// HTTPStore persists checkpoints and answers through the session REST API.
// All writes go through a retry policy and a shared circuit breaker so a
// flapping collaborator cannot stall the exam loop.
type HTTPStore struct {
	baseURL    string
	apiKey     string
	userID     string
	examID     string
	maxAnswer  int
	duration   int
	httpClient *http.Client

	retryConfig    *resilience.RetryConfig
	circuitBreaker *resilience.CircuitBreaker
	logger         zerolog.Logger
	metrics        *observability.Metrics

	mu             sync.Mutex
	sessionID      string
	totalQuestions int
	finalized      bool
	savedAnswers   map[int]string
	lastIndex      int
	lastRemaining  int
	hasProgress    bool
}

// NewHTTPStore creates a store bound to one user and one exam. The store is
// inert until CreateOrResume establishes a session.
func NewHTTPStore(cfg *config.Config, userID, examID string, metrics *observability.Metrics) *HTTPStore {
	return &HTTPStore{
		baseURL:   cfg.SessionAPIURL,
		apiKey:    cfg.SessionAPIKey,
		userID:    userID,
		examID:    examID,
		maxAnswer: cfg.MaxAnswerLength,
		duration:  cfg.ExamDurationSeconds,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		retryConfig: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
		},
		circuitBreaker: resilience.NewCircuitBreaker(
			"session-api",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
		logger:       observability.GetLogger().With().Str("component", "session_store").Str("exam_id", examID).Logger(),
		metrics:      metrics,
		savedAnswers: make(map[int]string),
	}
}

type wireSession struct {
	ID              string `json:"id"`
	UserID          string `json:"user_id"`
	ExamID          string `json:"exam_id"`
	CurrentQuestion int    `json:"current_question"`
	TimeRemaining   int    `json:"time_remaining"`
	Status          string `json:"status"`
}

type wireAnswer struct {
	QuestionNumber int    `json:"question_number"`
	AnswerText     string `json:"answer_text"`
}

// CreateOrResume looks for the user's in_progress session for this exam and
// resumes it together with every saved answer. When none exists it creates a
// new session with the full time budget. At most one in_progress session per
// user and exam is ever live.
func (s *HTTPStore) CreateOrResume(ctx context.Context, totalQuestions int) (Checkpoint, []string, error) {
	s.mu.Lock()
	s.totalQuestions = totalQuestions
	s.mu.Unlock()

	existing, err := s.findInProgress(ctx)
	if err != nil {
		return Checkpoint{}, nil, fmt.Errorf("failed to look up session: %w", err)
	}

	answers := make([]string, totalQuestions)

	if existing != nil {
		cp := Checkpoint{
			SessionID:       existing.ID,
			CurrentQuestion: clampIndex(existing.CurrentQuestion, totalQuestions),
			TimeRemaining:   existing.TimeRemaining,
			Status:          StatusInProgress,
		}
		saved, err := s.fetchAnswers(ctx, existing.ID)
		if err != nil {
			return Checkpoint{}, nil, fmt.Errorf("failed to load saved answers: %w", err)
		}
		s.mu.Lock()
		s.sessionID = existing.ID
		for _, a := range saved {
			if a.QuestionNumber >= 0 && a.QuestionNumber < totalQuestions {
				answers[a.QuestionNumber] = a.AnswerText
				s.savedAnswers[a.QuestionNumber] = a.AnswerText
			}
		}
		s.lastIndex = cp.CurrentQuestion
		s.lastRemaining = cp.TimeRemaining
		s.hasProgress = true
		s.mu.Unlock()

		s.logger.Info().
			Str("session_id", existing.ID).
			Int("current_question", cp.CurrentQuestion).
			Int("time_remaining", cp.TimeRemaining).
			Int("saved_answers", len(saved)).
			Msg("Resumed in-progress session")
		return cp, answers, nil
	}

	created, err := s.createSession(ctx)
	if err != nil {
		return Checkpoint{}, nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.mu.Lock()
	s.sessionID = created.ID
	s.lastIndex = created.CurrentQuestion
	s.lastRemaining = created.TimeRemaining
	s.hasProgress = true
	s.mu.Unlock()

	s.logger.Info().
		Str("session_id", created.ID).
		Int("time_remaining", created.TimeRemaining).
		Msg("Created new session")

	return Checkpoint{
		SessionID:       created.ID,
		CurrentQuestion: created.CurrentQuestion,
		TimeRemaining:   created.TimeRemaining,
		Status:          StatusInProgress,
	}, answers, nil
}

// SaveAnswer upserts one answer. A write identical to the last persisted
// value for that question is suppressed so replayed commands do not produce
// duplicate traffic.
func (s *HTTPStore) SaveAnswer(ctx context.Context, index int, text string) error {
	s.mu.Lock()
	if s.sessionID == "" {
		s.mu.Unlock()
		return ErrNoActiveSession
	}
	if s.finalized {
		s.mu.Unlock()
		return ErrAlreadyFinalized
	}
	if index < 0 || index >= s.totalQuestions {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	if utf8.RuneCountInString(text) > s.maxAnswer {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d runes", ErrAnswerTooLong, utf8.RuneCountInString(text))
	}
	if prev, ok := s.savedAnswers[index]; ok && prev == text {
		s.mu.Unlock()
		return nil
	}
	sessionID := s.sessionID
	s.mu.Unlock()

	body := wireAnswer{QuestionNumber: index, AnswerText: text}
	url := fmt.Sprintf("%s/sessions/%s/answers/%d", s.baseURL, sessionID, index)
	err := s.doWrite(ctx, http.MethodPut, url, body)
	if s.metrics != nil {
		s.metrics.RecordCheckpointWrite("answer", err == nil)
	}
	if err != nil {
		s.logger.Warn().Err(err).Int("question", index).Msg("Answer write failed, keeping in-memory state")
		return err
	}

	s.mu.Lock()
	s.savedAnswers[index] = text
	s.mu.Unlock()
	return nil
}

// UpdateProgress records the live question index and remaining time. A call
// that matches the last persisted pair is suppressed.
func (s *HTTPStore) UpdateProgress(ctx context.Context, index, timeRemaining int) error {
	s.mu.Lock()
	if s.sessionID == "" {
		s.mu.Unlock()
		return ErrNoActiveSession
	}
	if s.finalized {
		s.mu.Unlock()
		return ErrAlreadyFinalized
	}
	if s.hasProgress && s.lastIndex == index && s.lastRemaining == timeRemaining {
		s.mu.Unlock()
		return nil
	}
	sessionID := s.sessionID
	s.mu.Unlock()

	body := map[string]interface{}{
		"current_question": index,
		"time_remaining":   timeRemaining,
	}
	url := fmt.Sprintf("%s/sessions/%s", s.baseURL, sessionID)
	err := s.doWrite(ctx, http.MethodPatch, url, body)
	if s.metrics != nil {
		s.metrics.RecordCheckpointWrite("progress", err == nil)
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("Progress write failed, keeping in-memory state")
		return err
	}

	s.mu.Lock()
	s.lastIndex = index
	s.lastRemaining = timeRemaining
	s.hasProgress = true
	s.mu.Unlock()
	return nil
}

// Finalize marks the session completed. Only the first call writes; later
// calls return nil without touching the collaborator, so the terminal state
// can never regress.
func (s *HTTPStore) Finalize(ctx context.Context, timeRemaining int) error {
	s.mu.Lock()
	if s.sessionID == "" {
		s.mu.Unlock()
		return ErrNoActiveSession
	}
	if s.finalized {
		s.mu.Unlock()
		return nil
	}
	sessionID := s.sessionID
	s.mu.Unlock()

	body := map[string]interface{}{
		"status":         string(StatusCompleted),
		"time_remaining": timeRemaining,
		"completed_at":   time.Now().UTC().Format(time.RFC3339),
	}
	url := fmt.Sprintf("%s/sessions/%s", s.baseURL, sessionID)
	err := s.doWrite(ctx, http.MethodPatch, url, body)
	if s.metrics != nil {
		s.metrics.RecordCheckpointWrite("finalize", err == nil)
	}
	if err != nil {
		return fmt.Errorf("failed to finalize session: %w", err)
	}

	s.mu.Lock()
	s.finalized = true
	s.mu.Unlock()

	s.logger.Info().Str("session_id", sessionID).Msg("Session finalized")
	return nil
}

func (s *HTTPStore) findInProgress(ctx context.Context) (*wireSession, error) {
	url := fmt.Sprintf("%s/users/%s/sessions?exam_id=%s&status=%s", s.baseURL, s.userID, s.examID, StatusInProgress)
	var sessions []wireSession
	if err := s.getJSON(ctx, url, &sessions); err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	if len(sessions) > 1 {
		s.logger.Warn().Int("count", len(sessions)).Msg("Multiple in-progress sessions found, resuming the first")
	}
	return &sessions[0], nil
}

func (s *HTTPStore) fetchAnswers(ctx context.Context, sessionID string) ([]wireAnswer, error) {
	url := fmt.Sprintf("%s/sessions/%s/answers", s.baseURL, sessionID)
	var answers []wireAnswer
	if err := s.getJSON(ctx, url, &answers); err != nil {
		return nil, err
	}
	return answers, nil
}

func (s *HTTPStore) createSession(ctx context.Context) (*wireSession, error) {
	body := map[string]interface{}{
		"user_id":          s.userID,
		"exam_id":          s.examID,
		"current_question": 0,
		"time_remaining":   s.duration,
		"status":           string(StatusInProgress),
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	var created wireSession
	err = s.withResilience(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/sessions", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		s.setHeaders(req)
		resp, err := s.httpClient.Do(req)
		if err != nil {
			return resilience.NewRetryableError(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return resilience.NewRetryableError(fmt.Errorf("session api returned %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			return fmt.Errorf("session api returned %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&created)
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (s *HTTPStore) getJSON(ctx context.Context, url string, out interface{}) error {
	return s.withResilience(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		s.setHeaders(req)
		resp, err := s.httpClient.Do(req)
		if err != nil {
			return resilience.NewRetryableError(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return resilience.NewRetryableError(fmt.Errorf("session api returned %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("session api returned %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(out)
	})
}

func (s *HTTPStore) doWrite(ctx context.Context, method, url string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return s.withResilience(func() error {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		s.setHeaders(req)
		resp, err := s.httpClient.Do(req)
		if err != nil {
			return resilience.NewRetryableError(err)
		}
		defer func() {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}()
		if resp.StatusCode >= 500 {
			return resilience.NewRetryableError(fmt.Errorf("session api returned %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
			return fmt.Errorf("session api returned %d", resp.StatusCode)
		}
		return nil
	})
}

func (s *HTTPStore) withResilience(fn func() error) error {
	return s.circuitBreaker.Call(func() error {
		return resilience.Retry(fn, s.retryConfig, resilience.IsRetryable)
	})
}

func (s *HTTPStore) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
}

func clampIndex(index, total int) int {
	if index < 0 {
		return 0
	}
	if index >= total {
		return total - 1
	}
	return index
}
