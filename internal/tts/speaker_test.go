package tts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeSynth streams a fixed number of chunks with an optional per-chunk delay
type fakeSynth struct {
	mu       sync.Mutex
	chunks   int
	delay    time.Duration
	failWith error
	active   bool
	stops    int
}

func (f *fakeSynth) Synthesize(ctx context.Context, text string) (<-chan AudioChunk, error) {
	f.mu.Lock()
	if f.failWith != nil {
		err := f.failWith
		f.mu.Unlock()
		return nil, err
	}
	f.active = true
	f.mu.Unlock()

	out := make(chan AudioChunk)
	go func() {
		defer func() {
			close(out)
			f.mu.Lock()
			f.active = false
			f.mu.Unlock()
		}()
		for i := 0; i < f.chunks; i++ {
			if f.delay > 0 {
				select {
				case <-time.After(f.delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- AudioChunk{Data: []byte{byte(i)}, SampleRate: synthesisSampleRate, Channels: 1}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (f *fakeSynth) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeSynth) Close() error { return nil }

func (f *fakeSynth) IsActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func TestSpeaker_DeliversAllChunks(t *testing.T) {
	synth := &fakeSynth{chunks: 3}
	var got [][]byte
	var mu sync.Mutex
	speaker := NewSpeaker(synth, func(chunk AudioChunk) {
		mu.Lock()
		got = append(got, chunk.Data)
		mu.Unlock()
	})

	if err := speaker.Speak(context.Background(), "hello"); err != nil {
		t.Fatalf("Speak() failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 {
		t.Errorf("Expected 3 chunks delivered, got %d", len(got))
	}
}

func TestSpeaker_SynthesisErrorReturned(t *testing.T) {
	synth := &fakeSynth{failWith: errors.New("device unavailable")}
	speaker := NewSpeaker(synth, func(AudioChunk) {})

	err := speaker.Speak(context.Background(), "hello")
	if err == nil {
		t.Fatal("Expected error from failed synthesis")
	}
	if errors.Is(err, ErrCancelled) {
		t.Error("Synthesis failure should not report as cancellation")
	}
}

func TestSpeaker_CancelStopsUtterance(t *testing.T) {
	synth := &fakeSynth{chunks: 100, delay: 10 * time.Millisecond}
	speaker := NewSpeaker(synth, func(AudioChunk) {})

	done := make(chan error, 1)
	go func() {
		done <- speaker.Speak(context.Background(), "a very long question")
	}()

	time.Sleep(25 * time.Millisecond)
	speaker.Cancel()

	select {
	case err := <-done:
		if !errors.Is(err, ErrCancelled) {
			t.Errorf("Expected ErrCancelled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Speak did not return after Cancel")
	}
}

func TestSpeaker_NewUtteranceDisplacesOld(t *testing.T) {
	synth := &fakeSynth{chunks: 100, delay: 10 * time.Millisecond}
	speaker := NewSpeaker(synth, func(AudioChunk) {})

	first := make(chan error, 1)
	go func() {
		first <- speaker.Speak(context.Background(), "first")
	}()

	time.Sleep(25 * time.Millisecond)

	second := make(chan error, 1)
	go func() {
		second <- speaker.Speak(context.Background(), "second")
	}()

	select {
	case err := <-first:
		if !errors.Is(err, ErrCancelled) {
			t.Errorf("Expected first utterance cancelled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("First utterance did not settle after displacement")
	}

	speaker.Cancel()
	select {
	case <-second:
	case <-time.After(time.Second):
		t.Fatal("Second utterance did not settle after Cancel")
	}
}

func TestSpeaker_CancelWhenIdleIsNoop(t *testing.T) {
	synth := &fakeSynth{chunks: 1}
	speaker := NewSpeaker(synth, func(AudioChunk) {})

	speaker.Cancel() // Nothing in flight

	if err := speaker.Speak(context.Background(), "hello"); err != nil {
		t.Errorf("Speak after idle Cancel failed: %v", err)
	}
}
