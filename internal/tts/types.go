package tts

import "context"

// AudioChunk is a chunk of synthesized audio ready for streaming to the client
type AudioChunk struct {
	Data       []byte // Raw PCM audio
	SampleRate int    // Sample rate in Hz
	Channels   int    // Number of channels (1 for mono)
}

// Synthesizer converts text into a stream of audio chunks
type Synthesizer interface {
	// Synthesize starts converting text to audio. The returned channel is
	// closed when synthesis completes or the context is cancelled.
	Synthesize(ctx context.Context, text string) (<-chan AudioChunk, error)

	// Stop aborts any ongoing synthesis; safe to call when idle
	Stop() error

	// Close releases the client and its resources
	Close() error

	// IsActive reports whether synthesis is in progress
	IsActive() bool
}
