package stt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/23331a4722/voice-ed-exams/internal/config"
	"github.com/23331a4722/voice-ed-exams/internal/observability"
	"github.com/23331a4722/voice-ed-exams/internal/resilience"
)

// lifecycleState tracks the capture session lifecycle. The explicit starting
// state is what guards against duplicate native sessions when Start is called
// twice in quick succession.
type lifecycleState int

const (
	lifecycleIdle lifecycleState = iota
	lifecycleStarting
	lifecycleActive
)

// messageCallbackHandler implements the LiveMessageCallback interface.
// It embeds the default handler and overrides only the methods we customize.
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	handler      func(*msginterfaces.MessageResponse)
	errorHandler func(*msginterfaces.ErrorResponse) error
}

func (m *messageCallbackHandler) Message(message *msginterfaces.MessageResponse) error {
	m.handler(message)
	return nil
}

func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	if m.errorHandler != nil {
		return m.errorHandler(errorResponse)
	}
	return m.DefaultCallbackHandler.Error(errorResponse)
}

// DeepgramClient implements Client using Deepgram's streaming API
type DeepgramClient struct {
	config *config.Config
	client *listenClient.WSCallback
	events chan Event

	mu             sync.RWMutex
	lifecycle      lifecycleState
	manualStopAt   time.Time
	ctx            context.Context
	cancel         context.CancelFunc
	circuitBreaker *resilience.CircuitBreaker
	logger         zerolog.Logger
}

// manualStopWindow is how long after a manual Stop() an aborted/connection
// error is treated as the expected echo of that stop and filtered out.
const manualStopWindow = 2 * time.Second

// NewDeepgramClient creates a new Deepgram streaming client
func NewDeepgramClient(cfg *config.Config) *DeepgramClient {
	ctx, cancel := context.WithCancel(context.Background())

	circuitBreaker := resilience.NewCircuitBreaker(
		"deepgram",
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)

	return &DeepgramClient{
		config:         cfg,
		events:         make(chan Event, 100),
		ctx:            ctx,
		cancel:         cancel,
		lifecycle:      lifecycleIdle,
		circuitBreaker: circuitBreaker,
		logger:         observability.GetLogger().With().Str("component", "stt").Logger(),
	}
}

// Start begins a new Deepgram streaming capture session. Calling Start while
// a session is active or starting is a no-op.
func (d *DeepgramClient) Start() error {
	d.mu.Lock()
	if d.lifecycle != lifecycleIdle {
		d.mu.Unlock()
		return nil
	}
	d.lifecycle = lifecycleStarting
	d.mu.Unlock()

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.config.DeepgramModel,
		Language:       d.config.DeepgramLanguage,
		Punctuate:      true,
		InterimResults: true,
		UtteranceEndMs: "1000", // End utterance after 1 second of silence
		VadEvents:      true,
		Encoding:       "linear16",
		Channels:       1,
		SampleRate:     16000,
	}

	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		handler:                d.handleMessage,
		errorHandler:           d.handleError,
	}

	client, err := listenClient.NewWSUsingCallback(
		d.ctx,
		d.config.DeepgramAPIKey,
		nil, // ClientOptions - nil uses defaults
		tOptions,
		callback,
	)
	if err != nil {
		d.mu.Lock()
		d.lifecycle = lifecycleIdle
		d.mu.Unlock()
		d.circuitBreaker.RecordResult(false)
		return fmt.Errorf("failed to create Deepgram client: %w", err)
	}

	d.mu.Lock()
	d.client = client
	d.lifecycle = lifecycleActive
	d.mu.Unlock()

	d.circuitBreaker.RecordResult(true)
	observability.UpdateCircuitBreakerState("deepgram", int(d.circuitBreaker.GetState()))

	d.logger.Info().
		Str("model", d.config.DeepgramModel).
		Str("language", d.config.DeepgramLanguage).
		Msg("Deepgram streaming client started")
	return nil
}

// handleMessage processes transcription messages from Deepgram
func (d *DeepgramClient) handleMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil {
		return
	}

	switch msg.Type {
	case "SpeechStarted":
		d.logger.Debug().Msg("Speech started")

	case "UtteranceEnd":
		d.logger.Debug().Msg("Utterance ended")

	case "Results", "Message":
		if len(msg.Channel.Alternatives) == 0 {
			return
		}
		alt := msg.Channel.Alternatives[0]
		if alt.Transcript == "" {
			return
		}

		kind := EventPartial
		if msg.IsFinal {
			kind = EventFinal
		}
		d.emit(Event{Kind: kind, Text: alt.Transcript, Confidence: alt.Confidence})

	default:
		d.logger.Debug().Str("type", msg.Type).Msg("Unhandled Deepgram message type")
	}
}

// handleError normalizes a Deepgram error into an Event and kicks off
// background reconnection when the session was not stopped on purpose.
func (d *DeepgramClient) handleError(errorResponse *msginterfaces.ErrorResponse) error {
	detail := fmt.Sprintf("%+v", errorResponse)
	kind := normalizeError(fmt.Errorf("%s", detail))

	d.mu.RLock()
	sinceStop := time.Since(d.manualStopAt)
	d.mu.RUnlock()

	// An aborted error right after a manual stop is the stop itself echoing
	// back, not a fault the caller should see.
	if kind == ErrorAborted && sinceStop < manualStopWindow {
		d.logger.Debug().Msg("Filtered aborted error following manual stop")
		return nil
	}

	d.logger.Warn().
		Str("detail", detail).
		Str("kind", string(kind)).
		Msg("Deepgram error")

	d.circuitBreaker.RecordResult(false)
	observability.UpdateCircuitBreakerState("deepgram", int(d.circuitBreaker.GetState()))
	observability.IncrementCircuitBreakerFailures("deepgram")

	d.emit(Event{Kind: EventError, Err: kind})

	select {
	case <-d.ctx.Done():
		return nil
	default:
		d.mu.Lock()
		d.lifecycle = lifecycleIdle
		d.mu.Unlock()

		if kind == ErrorNetwork {
			go d.attemptReconnect()
		}
	}
	return nil
}

// normalizeError maps a raw transport error onto the engine-facing taxonomy
func normalizeError(err error) ErrorKind {
	if err == nil {
		return ErrorNoSpeech
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden") || strings.Contains(msg, "permission"):
		return ErrorNotAllowed
	case strings.Contains(msg, "abort") || strings.Contains(msg, "going away") || strings.Contains(msg, "closed"):
		return ErrorAborted
	case strings.Contains(msg, "no audio") || strings.Contains(msg, "no speech"):
		return ErrorNoSpeech
	default:
		return ErrorNetwork
	}
}

// emit delivers an event without ever blocking the callback goroutine
func (d *DeepgramClient) emit(ev Event) {
	select {
	case d.events <- ev:
	default:
		d.logger.Warn().Msg("Event channel full, dropping recognition event")
	}
}

// SendAudio sends an audio chunk to Deepgram
func (d *DeepgramClient) SendAudio(audioData []byte) error {
	err := d.circuitBreaker.Call(func() error {
		d.mu.RLock()
		active := d.lifecycle == lifecycleActive
		client := d.client
		d.mu.RUnlock()

		if !active || client == nil {
			return fmt.Errorf("deepgram client is not active")
		}

		if _, err := client.Write(audioData); err != nil {
			go d.attemptReconnect()
			return fmt.Errorf("failed to send audio to Deepgram: %w", err)
		}
		return nil
	})

	observability.UpdateCircuitBreakerState("deepgram", int(d.circuitBreaker.GetState()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures("deepgram")
	}
	return err
}

// attemptReconnect re-establishes the streaming session in the background
func (d *DeepgramClient) attemptReconnect() {
	select {
	case <-d.ctx.Done():
		return
	default:
	}

	d.mu.RLock()
	idle := d.lifecycle == lifecycleIdle
	d.mu.RUnlock()
	if !idle {
		return // Already reconnected or reconnecting
	}

	reconnectConfig := &resilience.ReconnectConfig{
		MaxAttempts: d.config.ReconnectMaxAttempts,
		Backoff:     time.Duration(d.config.ReconnectBackoff) * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	}

	if err := resilience.Reconnect(d.ctx, d.Start, reconnectConfig); err != nil {
		d.logger.Error().Err(err).Msg("Failed to reconnect Deepgram client")
	}
}

// Events returns the recognition event stream
func (d *DeepgramClient) Events() <-chan Event {
	return d.events
}

// Stop ends the streaming capture session; safe to call when idle
func (d *DeepgramClient) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.manualStopAt = time.Now()
	if d.lifecycle == lifecycleIdle {
		return nil
	}

	if d.client != nil {
		d.client.Finish()
	}
	d.lifecycle = lifecycleIdle
	d.logger.Info().Msg("Deepgram streaming client stopped")
	return nil
}

// Close releases the client and its resources
func (d *DeepgramClient) Close() error {
	d.cancel() // Stop any reconnection attempts

	if err := d.Stop(); err != nil {
		return err
	}

	// Close the event channel after a short delay to let pending reads drain
	go func() {
		time.Sleep(100 * time.Millisecond)
		close(d.events)
	}()

	return nil
}

// IsActive reports whether a capture session is live
func (d *DeepgramClient) IsActive() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lifecycle == lifecycleActive
}
