package tts

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/23331a4722/voice-ed-exams/internal/observability"
)

// ErrCancelled is returned from Speak when a newer utterance displaced it
var ErrCancelled = errors.New("utterance cancelled")

// Sink receives synthesized audio, typically forwarding it to the client
type Sink func(chunk AudioChunk)

// Speaker serializes utterances over a single Synthesizer. At most one
// utterance is active at any time: starting a new one cancels whatever is
// in flight first. Speak blocks until the utterance has been fully delivered
// to the sink, was cancelled, or failed.
type Speaker struct {
	synth  Synthesizer
	sink   Sink
	logger zerolog.Logger

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

// NewSpeaker creates a speaker that delivers synthesized audio to sink
func NewSpeaker(synth Synthesizer, sink Sink) *Speaker {
	return &Speaker{
		synth:  synth,
		sink:   sink,
		logger: observability.GetLogger().With().Str("component", "speaker").Logger(),
	}
}

// Speak reads text aloud. Any in-flight utterance is cancelled before this
// one starts. Returns ErrCancelled if a newer utterance displaced this one;
// other errors mean synthesis failed and the caller should proceed as if
// playback had ended.
func (s *Speaker) Speak(ctx context.Context, text string) error {
	s.mu.Lock()
	s.gen++
	myGen := s.gen
	if s.cancel != nil {
		s.cancel()
	}
	s.synth.Stop()
	uctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.gen == myGen {
			s.cancel = nil
		}
		s.mu.Unlock()
		cancel()
	}()

	chunks, err := s.synth.Synthesize(uctx, text)
	if err != nil {
		if uctx.Err() != nil {
			return ErrCancelled
		}
		return fmt.Errorf("synthesis failed: %w", err)
	}

	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return nil // Utterance fully delivered
			}
			if !s.current(myGen) {
				return ErrCancelled
			}
			s.sink(chunk)
		case <-uctx.Done():
			return ErrCancelled
		}
	}
}

// Cancel aborts any in-flight utterance; safe to call when idle
func (s *Speaker) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.synth.Stop()
}

func (s *Speaker) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}
