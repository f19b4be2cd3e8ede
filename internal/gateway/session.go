// Package gateway binds a browser exam client to the voice engine over a
// WebSocket. Incoming audio is forwarded to speech recognition, synthesized
// audio and engine state flow back as JSON messages.
package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/23331a4722/voice-ed-exams/internal/audio"
	"github.com/23331a4722/voice-ed-exams/internal/config"
	"github.com/23331a4722/voice-ed-exams/internal/engine"
	"github.com/23331a4722/voice-ed-exams/internal/exam"
	"github.com/23331a4722/voice-ed-exams/internal/observability"
	"github.com/23331a4722/voice-ed-exams/internal/session"
	"github.com/23331a4722/voice-ed-exams/internal/stt"
	"github.com/23331a4722/voice-ed-exams/internal/tts"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict to the exam frontend origin before production
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// ExamSession holds the state of one connected exam client.
type ExamSession struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	sessionID string
	userID    string
	examID    string

	mu       sync.RWMutex
	isActive bool

	audioIn     chan []byte
	audioBuffer *audio.RingBuffer

	engine    *engine.Engine
	sttClient *stt.DeepgramClient
	speaker   *tts.Speaker

	config        *config.Config
	provider      exam.Provider
	correlationID string
	metrics       *observability.Metrics
	logger        zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewExamSession creates a session over an upgraded connection. The engine
// is not built until the client sends its start message.
func NewExamSession(conn *websocket.Conn, cfg *config.Config, provider exam.Provider) *ExamSession {
	correlationID := observability.NewCorrelationID()
	sessionID := "exam-" + uuid.New().String()

	logger := observability.WithCorrelationID(correlationID).
		With().
		Str("session_id", sessionID).
		Logger()

	return &ExamSession{
		conn:          conn,
		sessionID:     sessionID,
		isActive:      true,
		audioIn:       make(chan []byte, 100),
		audioBuffer:   audio.NewRingBuffer(cfg.AudioBufferSize),
		config:        cfg,
		provider:      provider,
		correlationID: correlationID,
		metrics:       observability.NewSessionMetrics(sessionID),
		logger:        logger,
		done:          make(chan struct{}),
	}
}

// HandleExamWS is the entry point for exam client WebSocket connections.
func HandleExamWS(cfg *config.Config, provider exam.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger := observability.GetLogger()
			logger.Error().Err(err).Msg("Failed to upgrade connection to WebSocket")
			return
		}
		defer conn.Close()

		sess := NewExamSession(conn, cfg, provider)
		sess.logger.Info().Msg("Exam client connected")

		sess.processIncomingMessages()

		<-sess.done
		sess.logger.Info().Msg("Exam session ended")
	}
}

// processIncomingMessages reads client messages until the connection closes
// or the client sends stop.
func (s *ExamSession) processIncomingMessages() {
	defer s.teardown()

	for {
		s.mu.RLock()
		active := s.isActive
		s.mu.RUnlock()
		if !active {
			return
		}

		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			s.logger.Error().Err(err).Msg("Failed to parse client message")
			continue
		}

		switch msg.Type {
		case MsgStart:
			if err := s.startExam(msg.UserID, msg.ExamID); err != nil {
				s.logger.Error().Err(err).Msg("Failed to start exam")
				s.send(map[string]interface{}{
					"type":    MsgError,
					"message": "Could not start the exam. Please try again.",
				})
				return
			}

		case MsgMedia:
			s.handleMedia(msg.Payload)

		case MsgCommand:
			if s.engine != nil {
				s.engine.HandleCommandText(msg.Text)
			}

		case MsgKey:
			if s.engine != nil {
				s.engine.HandleKey(msg.Key)
			}

		case MsgStop:
			s.logger.Info().Msg("Client requested stop")
			return

		default:
			s.logger.Debug().Str("type", msg.Type).Msg("Unknown client message type")
		}
	}
}

// startExam loads the exam, wires speech input and output, and launches the
// engine. Called once per connection; repeated starts are rejected.
func (s *ExamSession) startExam(userID, examID string) error {
	if s.engine != nil {
		s.logger.Warn().Msg("Ignoring duplicate start message")
		return nil
	}
	s.userID = userID
	s.examID = examID
	s.logger = s.logger.With().Str("user_id", userID).Str("exam_id", examID).Logger()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	examInfo, err := s.provider.FetchExam(ctx, examID)
	if err != nil {
		cancel()
		return err
	}
	questions, err := s.provider.FetchQuestions(ctx, examID)
	if err != nil {
		cancel()
		return err
	}

	s.sttClient = stt.NewDeepgramClient(s.config)
	synth := tts.NewCartesiaClient(s.config)
	s.speaker = tts.NewSpeaker(synth, func(chunk tts.AudioChunk) {
		s.sendAudio(chunk.Data)
	})
	store := session.NewHTTPStore(s.config, userID, examID, s.metrics)

	eng, err := engine.New(engine.Params{
		Config:    s.config,
		Exam:      examInfo,
		Questions: questions,
		Output:    s.speaker,
		Input:     s.sttClient,
		Store:     store,
		Callbacks: s.engineCallbacks(),
		Metrics:   s.metrics,
	})
	if err != nil {
		cancel()
		return err
	}
	s.engine = eng

	go s.processIncomingAudio(ctx)
	go func() {
		if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("Engine stopped with error")
			s.send(map[string]interface{}{
				"type":    MsgError,
				"message": "The exam session ended unexpectedly.",
			})
		}
		s.mu.Lock()
		s.isActive = false
		s.mu.Unlock()
	}()

	s.logger.Info().
		Str("title", examInfo.Title).
		Int("questions", len(questions)).
		Msg("Exam started")
	return nil
}

// engineCallbacks translates engine output into server messages.
func (s *ExamSession) engineCallbacks() engine.Callbacks {
	return engine.Callbacks{
		OnStateChange: func(state engine.State) {
			s.send(map[string]interface{}{"type": MsgState, "state": state.String()})
		},
		OnTranscript: func(text string, final bool) {
			s.send(map[string]interface{}{"type": MsgTranscript, "text": text, "final": final})
		},
		OnAnswerChange: func(index int, text string) {
			s.send(map[string]interface{}{"type": MsgAnswer, "index": index, "text": text})
		},
		OnQuestionChange: func(index int, q exam.Question) {
			s.send(map[string]interface{}{
				"type":    MsgQuestion,
				"index":   index,
				"prompt":  q.Prompt,
				"choices": q.Choices,
				"kind":    string(q.Kind),
			})
		},
		OnAlert: func(secondsRemaining int) {
			// The client plays the audible alert so it never competes with
			// question playback on the synthesis channel.
			s.send(map[string]interface{}{"type": MsgAlert, "seconds_remaining": secondsRemaining})
		},
		OnNotice: func(category, message string) {
			s.send(map[string]interface{}{"type": MsgNotice, "category": category, "message": message})
		},
		OnSubmitted: func() {
			s.send(map[string]interface{}{"type": MsgSubmitted})
		},
	}
}

// handleMedia decodes a base64 audio payload and queues it for recognition.
func (s *ExamSession) handleMedia(payload string) {
	if payload == "" {
		return
	}
	audioData, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to decode base64 audio")
		return
	}
	select {
	case s.audioIn <- audioData:
	default:
		s.logger.Warn().Msg("audioIn channel full, dropping audio chunk")
	}
}

// processIncomingAudio drains queued audio through the ring buffer into the
// recognition client.
func (s *ExamSession) processIncomingAudio(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case chunk := <-s.audioIn:
			if s.metrics != nil {
				s.metrics.RecordAudioBytes("in", int64(len(chunk)))
			}
			if !s.sttClient.IsActive() {
				// The client keeps streaming between turns; audio outside a
				// recording turn is discarded, not transcribed.
				s.audioBuffer.Clear()
				continue
			}

			written := s.audioBuffer.Write(chunk)
			if written < len(chunk) {
				s.logger.Warn().Int("dropped", len(chunk)-written).Msg("Audio buffer overflow")
			}

			data := make([]byte, s.audioBuffer.Available())
			read := s.audioBuffer.Read(data)
			if read == 0 {
				continue
			}
			if err := s.engine.SendAudio(data[:read]); err != nil {
				s.logger.Error().Err(err).Msg("Error sending audio to recognition")
				if s.metrics != nil {
					s.metrics.RecordError("stt_send_error", "gateway")
				}
			}
		}
	}
}

// sendAudio ships synthesized audio to the client as a base64 payload.
func (s *ExamSession) sendAudio(data []byte) {
	if s.metrics != nil {
		s.metrics.RecordAudioBytes("out", int64(len(data)))
	}
	s.send(map[string]interface{}{
		"type":    MsgAudio,
		"payload": base64.StdEncoding.EncodeToString(data),
	})
}

// send writes one JSON message. Engine callbacks, the speaker sink and the
// read loop all write, so the connection is guarded by a mutex.
func (s *ExamSession) send(v interface{}) {
	s.mu.RLock()
	active := s.isActive
	s.mu.RUnlock()
	if !active {
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(v); err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket write failed")
	}
}

func (s *ExamSession) teardown() {
	s.mu.Lock()
	s.isActive = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.sttClient != nil {
		if err := s.sttClient.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Error closing speech input")
		}
	}
	if s.speaker != nil {
		s.speaker.Cancel()
	}
	close(s.done)
}

// SessionID returns the gateway-assigned session identifier.
func (s *ExamSession) SessionID() string {
	return s.sessionID
}

// IsActive reports whether the session is still serving the client.
func (s *ExamSession) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isActive
}
