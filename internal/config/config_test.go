package config

import (
	"os"
	"testing"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	os.Setenv("DEEPGRAM_API_KEY", "test-deepgram-key")
	os.Setenv("SPEECH_API_KEY", "test-speech-key")
	t.Cleanup(func() {
		os.Unsetenv("DEEPGRAM_API_KEY")
		os.Unsetenv("SPEECH_API_KEY")
	})
}

func TestLoad(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.DeepgramAPIKey != "test-deepgram-key" {
		t.Errorf("Expected DeepgramAPIKey 'test-deepgram-key', got '%s'", cfg.DeepgramAPIKey)
	}

	if cfg.SpeechAPIKey != "test-speech-key" {
		t.Errorf("Expected SpeechAPIKey 'test-speech-key', got '%s'", cfg.SpeechAPIKey)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	os.Unsetenv("DEEPGRAM_API_KEY")
	os.Unsetenv("SPEECH_API_KEY")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when required keys are missing")
	}
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}

	if cfg.DeepgramModel != "nova-2" {
		t.Errorf("Expected default DeepgramModel 'nova-2', got '%s'", cfg.DeepgramModel)
	}

	if cfg.DeepgramLanguage != "en" {
		t.Errorf("Expected default DeepgramLanguage 'en', got '%s'", cfg.DeepgramLanguage)
	}

	if cfg.SpeechVoiceID != "sonic-english" {
		t.Errorf("Expected default SpeechVoiceID 'sonic-english', got '%s'", cfg.SpeechVoiceID)
	}

	if cfg.ExamDurationSeconds != 3600 {
		t.Errorf("Expected default ExamDurationSeconds 3600, got %d", cfg.ExamDurationSeconds)
	}

	if cfg.CheckpointIntervalSeconds != 10 {
		t.Errorf("Expected default CheckpointIntervalSeconds 10, got %d", cfg.CheckpointIntervalSeconds)
	}

	if cfg.RecordGraceDelayMs != 500 {
		t.Errorf("Expected default RecordGraceDelayMs 500, got %d", cfg.RecordGraceDelayMs)
	}

	if cfg.MaxAnswerLength != 5000 {
		t.Errorf("Expected default MaxAnswerLength 5000, got %d", cfg.MaxAnswerLength)
	}

	if cfg.AudioBufferSize != 8192 {
		t.Errorf("Expected default AudioBufferSize 8192, got %d", cfg.AudioBufferSize)
	}

	if len(cfg.AlertThresholds) != 2 || cfg.AlertThresholds[0] != 300 || cfg.AlertThresholds[1] != 60 {
		t.Errorf("Expected default AlertThresholds [300 60], got %v", cfg.AlertThresholds)
	}
}

func TestLoad_CustomThresholds(t *testing.T) {
	setRequiredEnv(t)
	os.Setenv("ALERT_THRESHOLDS", "600,120,30")
	defer os.Unsetenv("ALERT_THRESHOLDS")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if len(cfg.AlertThresholds) != 3 {
		t.Fatalf("Expected 3 thresholds, got %v", cfg.AlertThresholds)
	}
	if cfg.AlertThresholds[0] != 600 || cfg.AlertThresholds[1] != 120 || cfg.AlertThresholds[2] != 30 {
		t.Errorf("Expected AlertThresholds [600 120 30], got %v", cfg.AlertThresholds)
	}
}

func TestValidate_BadThreshold(t *testing.T) {
	setRequiredEnv(t)
	os.Setenv("ALERT_THRESHOLDS", "4000")
	defer os.Unsetenv("ALERT_THRESHOLDS")

	_, err := Load()
	if err == nil {
		t.Error("Expected error for threshold beyond exam duration")
	}
}

func TestValidate_BadDuration(t *testing.T) {
	setRequiredEnv(t)
	os.Setenv("EXAM_DURATION_SECONDS", "0")
	defer os.Unsetenv("EXAM_DURATION_SECONDS")

	_, err := Load()
	if err == nil {
		t.Error("Expected error for zero exam duration")
	}
}

func TestConfig_ResilienceDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.CircuitBreakerMaxFailures != 5 {
		t.Errorf("Expected default CircuitBreakerMaxFailures 5, got %d", cfg.CircuitBreakerMaxFailures)
	}

	if cfg.CircuitBreakerResetTimeout != 30 {
		t.Errorf("Expected default CircuitBreakerResetTimeout 30, got %d", cfg.CircuitBreakerResetTimeout)
	}

	if cfg.RetryMaxAttempts != 3 {
		t.Errorf("Expected default RetryMaxAttempts 3, got %d", cfg.RetryMaxAttempts)
	}

	if cfg.RetryInitialBackoff != 100 {
		t.Errorf("Expected default RetryInitialBackoff 100, got %d", cfg.RetryInitialBackoff)
	}
}

func TestGetEnv(t *testing.T) {
	os.Setenv("TEST_KEY", "test-value")
	defer os.Unsetenv("TEST_KEY")

	value := GetEnv("TEST_KEY", "default")
	if value != "test-value" {
		t.Errorf("Expected 'test-value', got '%s'", value)
	}

	value = GetEnv("NON_EXISTENT_KEY", "default")
	if value != "default" {
		t.Errorf("Expected 'default', got '%s'", value)
	}
}
