package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/23331a4722/voice-ed-exams/internal/config"
	"github.com/23331a4722/voice-ed-exams/internal/observability"
)

const synthesisSampleRate = 24000

// CartesiaClient implements Synthesizer using Cartesia's TTS API
type CartesiaClient struct {
	config     *config.Config
	apiKey     string
	apiURL     string
	voiceID    string
	httpClient *http.Client
	logger     zerolog.Logger

	mu       sync.Mutex
	isActive bool
	cancel   context.CancelFunc
}

// cartesiaRequest is the request payload for the Cartesia TTS API
type cartesiaRequest struct {
	Text         string `json:"text"`
	VoiceID      string `json:"voice_id"`
	ModelID      string `json:"model_id,omitempty"`
	OutputFormat string `json:"output_format,omitempty"`
	SampleRate   int    `json:"sample_rate,omitempty"`
}

// NewCartesiaClient creates a new Cartesia TTS client
func NewCartesiaClient(cfg *config.Config) *CartesiaClient {
	return &CartesiaClient{
		config:     cfg,
		apiKey:     cfg.SpeechAPIKey,
		apiURL:     cfg.SpeechAPIURL,
		voiceID:    cfg.SpeechVoiceID,
		httpClient: &http.Client{},
		logger:     observability.GetLogger().With().Str("component", "tts").Logger(),
	}
}

// Synthesize converts text to audio and streams it in chunks
func (c *CartesiaClient) Synthesize(ctx context.Context, text string) (<-chan AudioChunk, error) {
	c.mu.Lock()
	if c.isActive {
		c.mu.Unlock()
		return nil, fmt.Errorf("synthesis already in progress")
	}
	ctx, cancel := context.WithCancel(ctx)
	c.isActive = true
	c.cancel = cancel
	c.mu.Unlock()

	fail := func(err error) (<-chan AudioChunk, error) {
		cancel()
		c.mu.Lock()
		c.isActive = false
		c.cancel = nil
		c.mu.Unlock()
		return nil, err
	}

	reqBody := cartesiaRequest{
		Text:         text,
		VoiceID:      c.voiceID,
		ModelID:      c.config.SpeechModelID,
		OutputFormat: "pcm",
		SampleRate:   synthesisSampleRate,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return fail(fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fail(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fail(fmt.Errorf("failed to make request: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fail(fmt.Errorf("synthesis API returned status %d", resp.StatusCode))
	}

	audioChan := make(chan AudioChunk, 10)

	go func() {
		defer func() {
			resp.Body.Close()
			close(audioChan)
			c.mu.Lock()
			c.isActive = false
			c.cancel = nil
			c.mu.Unlock()
		}()

		buf := make([]byte, 4096)
		for {
			n, readErr := resp.Body.Read(buf)
			if n > 0 {
				chunk := AudioChunk{
					Data:       append([]byte(nil), buf[:n]...),
					SampleRate: synthesisSampleRate,
					Channels:   1,
				}
				select {
				case audioChan <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if readErr != nil {
				if readErr != io.EOF && ctx.Err() == nil {
					c.logger.Warn().Err(readErr).Msg("Error reading synthesis response")
				}
				return
			}
		}
	}()

	return audioChan, nil
}

// Stop aborts any ongoing synthesis
func (c *CartesiaClient) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isActive {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// Close releases the client and its resources
func (c *CartesiaClient) Close() error {
	return c.Stop()
}

// IsActive reports whether synthesis is in progress
func (c *CartesiaClient) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isActive
}
