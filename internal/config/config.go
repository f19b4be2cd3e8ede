package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the exam voice gateway service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Deepgram STT API configuration
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" required:"true"`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"` // nova-2, enhanced, base
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`  // Language code (en, es, fr, etc.)

	// Speech synthesis API configuration (question read-out)
	SpeechAPIKey  string `envconfig:"SPEECH_API_KEY" required:"true"`
	SpeechAPIURL  string `envconfig:"SPEECH_API_URL" default:"https://api.cartesia.ai/v1/tts"`
	SpeechVoiceID string `envconfig:"SPEECH_VOICE_ID" default:"sonic-english"`
	SpeechModelID string `envconfig:"SPEECH_MODEL_ID" default:"sonic"`

	// Exam/question provider. When EXAM_FILE is set, exams are loaded from a
	// local YAML fixture instead of the REST API.
	ExamAPIURL string `envconfig:"EXAM_API_URL" default:"http://localhost:9090"`
	ExamFile   string `envconfig:"EXAM_FILE" default:""`

	// Session persistence collaborator
	SessionAPIURL string `envconfig:"SESSION_API_URL" default:"http://localhost:9091"`
	SessionAPIKey string `envconfig:"SESSION_API_KEY" default:""`

	// Exam session behavior
	ExamDurationSeconds       int   `envconfig:"EXAM_DURATION_SECONDS" default:"3600"`
	AlertThresholds           []int `envconfig:"ALERT_THRESHOLDS" default:"300,60"` // seconds-remaining marks that trigger an alert
	CheckpointIntervalSeconds int   `envconfig:"CHECKPOINT_INTERVAL_SECONDS" default:"10"`
	RecordGraceDelayMs        int   `envconfig:"RECORD_GRACE_DELAY_MS" default:"500"` // delay between read-out end and recording start
	MaxAnswerLength           int   `envconfig:"MAX_ANSWER_LENGTH" default:"5000"`    // answer text length cap enforced at the store boundary

	// Audio processing configuration
	AudioBufferSize int `envconfig:"AUDIO_BUFFER_SIZE" default:"8192"` // Ring buffer size in bytes

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // Maximum reconnection attempts
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Reconnection backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks required fields and engine tunables
func (c *Config) Validate() error {
	if c.DeepgramAPIKey == "" {
		return fmt.Errorf("DEEPGRAM_API_KEY is required")
	}
	if c.SpeechAPIKey == "" {
		return fmt.Errorf("SPEECH_API_KEY is required")
	}
	if c.ExamDurationSeconds <= 0 {
		return fmt.Errorf("EXAM_DURATION_SECONDS must be positive, got %d", c.ExamDurationSeconds)
	}
	if c.CheckpointIntervalSeconds <= 0 {
		return fmt.Errorf("CHECKPOINT_INTERVAL_SECONDS must be positive, got %d", c.CheckpointIntervalSeconds)
	}
	if c.MaxAnswerLength <= 0 {
		return fmt.Errorf("MAX_ANSWER_LENGTH must be positive, got %d", c.MaxAnswerLength)
	}
	for _, threshold := range c.AlertThresholds {
		if threshold <= 0 || threshold >= c.ExamDurationSeconds {
			return fmt.Errorf("alert threshold %d outside exam duration %d", threshold, c.ExamDurationSeconds)
		}
	}
	return nil
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
