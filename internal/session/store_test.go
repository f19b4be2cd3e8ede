package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/23331a4722/voice-ed-exams/internal/config"
)

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		SessionAPIURL:              baseURL,
		SessionAPIKey:              "test-key",
		MaxAnswerLength:            50,
		ExamDurationSeconds:        3600,
		RetryMaxAttempts:           1,
		RetryInitialBackoff:        1,
		CircuitBreakerMaxFailures:  5,
		CircuitBreakerResetTimeout: 1,
	}
}

func TestCreateOrResumeNewSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/users/"):
			json.NewEncoder(w).Encode([]wireSession{})
		case r.Method == http.MethodPost && r.URL.Path == "/sessions":
			var body map[string]interface{}
			json.NewDecoder(r.Body).Decode(&body)
			if body["time_remaining"].(float64) != 3600 {
				t.Errorf("Expected full time budget on create, got %v", body["time_remaining"])
			}
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(wireSession{
				ID:              "sess-1",
				CurrentQuestion: 0,
				TimeRemaining:   3600,
				Status:          string(StatusInProgress),
			})
		default:
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	store := NewHTTPStore(testConfig(server.URL), "user-1", "exam-1", nil)
	cp, answers, err := store.CreateOrResume(context.Background(), 3)
	if err != nil {
		t.Fatalf("CreateOrResume failed: %v", err)
	}
	if cp.SessionID != "sess-1" {
		t.Errorf("Expected session sess-1, got %s", cp.SessionID)
	}
	if cp.CurrentQuestion != 0 || cp.TimeRemaining != 3600 {
		t.Errorf("Unexpected checkpoint: %+v", cp)
	}
	if len(answers) != 3 {
		t.Errorf("Expected 3 answer slots, got %d", len(answers))
	}
}

func TestCreateOrResumeExistingSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/users/"):
			json.NewEncoder(w).Encode([]wireSession{{
				ID:              "sess-2",
				CurrentQuestion: 7,
				TimeRemaining:   1200,
				Status:          string(StatusInProgress),
			}})
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/answers"):
			json.NewEncoder(w).Encode([]wireAnswer{
				{QuestionNumber: 0, AnswerText: "first answer"},
				{QuestionNumber: 2, AnswerText: "third answer"},
				{QuestionNumber: 99, AnswerText: "should be dropped"},
			})
		default:
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	store := NewHTTPStore(testConfig(server.URL), "user-1", "exam-1", nil)
	cp, answers, err := store.CreateOrResume(context.Background(), 3)
	if err != nil {
		t.Fatalf("CreateOrResume failed: %v", err)
	}
	if cp.SessionID != "sess-2" {
		t.Errorf("Expected resumed session sess-2, got %s", cp.SessionID)
	}
	// Index 7 from the checkpoint exceeds the question count and is clamped.
	if cp.CurrentQuestion != 2 {
		t.Errorf("Expected clamped index 2, got %d", cp.CurrentQuestion)
	}
	if cp.TimeRemaining != 1200 {
		t.Errorf("Expected remaining time 1200, got %d", cp.TimeRemaining)
	}
	if answers[0] != "first answer" || answers[1] != "" || answers[2] != "third answer" {
		t.Errorf("Unexpected answers: %v", answers)
	}
}

func TestSaveAnswerValidation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/users/"):
			json.NewEncoder(w).Encode([]wireSession{})
		case r.Method == http.MethodPost:
			json.NewEncoder(w).Encode(wireSession{ID: "sess-3", TimeRemaining: 3600})
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	store := NewHTTPStore(testConfig(server.URL), "user-1", "exam-1", nil)

	if err := store.SaveAnswer(context.Background(), 0, "early"); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("Expected ErrNoActiveSession before CreateOrResume, got %v", err)
	}

	if _, _, err := store.CreateOrResume(context.Background(), 3); err != nil {
		t.Fatalf("CreateOrResume failed: %v", err)
	}

	if err := store.SaveAnswer(context.Background(), -1, "x"); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("Expected ErrIndexOutOfRange for -1, got %v", err)
	}
	if err := store.SaveAnswer(context.Background(), 3, "x"); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("Expected ErrIndexOutOfRange for 3, got %v", err)
	}
	long := strings.Repeat("a", 51)
	if err := store.SaveAnswer(context.Background(), 0, long); !errors.Is(err, ErrAnswerTooLong) {
		t.Errorf("Expected ErrAnswerTooLong, got %v", err)
	}
	if err := store.SaveAnswer(context.Background(), 0, strings.Repeat("a", 50)); err != nil {
		t.Errorf("Answer at the limit should save, got %v", err)
	}
}

func TestSaveAnswerSuppressesDuplicateWrites(t *testing.T) {
	var puts int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/users/"):
			json.NewEncoder(w).Encode([]wireSession{})
		case r.Method == http.MethodPost:
			json.NewEncoder(w).Encode(wireSession{ID: "sess-4", TimeRemaining: 3600})
		case r.Method == http.MethodPut:
			atomic.AddInt64(&puts, 1)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	store := NewHTTPStore(testConfig(server.URL), "user-1", "exam-1", nil)
	if _, _, err := store.CreateOrResume(context.Background(), 3); err != nil {
		t.Fatalf("CreateOrResume failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := store.SaveAnswer(context.Background(), 1, "same text"); err != nil {
			t.Fatalf("SaveAnswer failed: %v", err)
		}
	}
	if got := atomic.LoadInt64(&puts); got != 1 {
		t.Errorf("Expected 1 write for repeated identical answer, got %d", got)
	}

	if err := store.SaveAnswer(context.Background(), 1, "new text"); err != nil {
		t.Fatalf("SaveAnswer failed: %v", err)
	}
	if got := atomic.LoadInt64(&puts); got != 2 {
		t.Errorf("Expected a second write after the answer changed, got %d", got)
	}
}

func TestUpdateProgressSuppressesDuplicateWrites(t *testing.T) {
	var patches int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/users/"):
			json.NewEncoder(w).Encode([]wireSession{})
		case r.Method == http.MethodPost:
			json.NewEncoder(w).Encode(wireSession{ID: "sess-5", TimeRemaining: 3600})
		case r.Method == http.MethodPatch:
			atomic.AddInt64(&patches, 1)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	store := NewHTTPStore(testConfig(server.URL), "user-1", "exam-1", nil)
	if _, _, err := store.CreateOrResume(context.Background(), 3); err != nil {
		t.Fatalf("CreateOrResume failed: %v", err)
	}

	// Matches the state recorded at creation time, so nothing is written.
	if err := store.UpdateProgress(context.Background(), 0, 3600); err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}
	if got := atomic.LoadInt64(&patches); got != 0 {
		t.Errorf("Expected no write for unchanged progress, got %d", got)
	}

	if err := store.UpdateProgress(context.Background(), 1, 3590); err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}
	if err := store.UpdateProgress(context.Background(), 1, 3590); err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}
	if got := atomic.LoadInt64(&patches); got != 1 {
		t.Errorf("Expected 1 write for changed progress, got %d", got)
	}
}

func TestFinalizeWritesOnce(t *testing.T) {
	var patches int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/users/"):
			json.NewEncoder(w).Encode([]wireSession{})
		case r.Method == http.MethodPost:
			json.NewEncoder(w).Encode(wireSession{ID: "sess-6", TimeRemaining: 3600})
		case r.Method == http.MethodPatch:
			atomic.AddInt64(&patches, 1)
			var body map[string]interface{}
			json.NewDecoder(r.Body).Decode(&body)
			if body["status"] != string(StatusCompleted) {
				t.Errorf("Expected completed status, got %v", body["status"])
			}
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	store := NewHTTPStore(testConfig(server.URL), "user-1", "exam-1", nil)
	if _, _, err := store.CreateOrResume(context.Background(), 3); err != nil {
		t.Fatalf("CreateOrResume failed: %v", err)
	}

	if err := store.Finalize(context.Background(), 120); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if err := store.Finalize(context.Background(), 100); err != nil {
		t.Errorf("Repeated Finalize should be a no-op, got %v", err)
	}
	if got := atomic.LoadInt64(&patches); got != 1 {
		t.Errorf("Expected 1 finalize write, got %d", got)
	}

	if err := store.SaveAnswer(context.Background(), 0, "late"); !errors.Is(err, ErrAlreadyFinalized) {
		t.Errorf("Expected ErrAlreadyFinalized after Finalize, got %v", err)
	}
	if err := store.UpdateProgress(context.Background(), 1, 90); !errors.Is(err, ErrAlreadyFinalized) {
		t.Errorf("Expected ErrAlreadyFinalized after Finalize, got %v", err)
	}
}
