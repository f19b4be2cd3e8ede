package stt

// ErrorKind classifies recognition faults the way the engine consumes them.
// The engine never sees raw errors from the capture layer, only these kinds.
type ErrorKind string

const (
	// ErrorNoSpeech means no speech was detected; benign, keep listening
	ErrorNoSpeech ErrorKind = "no-speech"
	// ErrorAudioCapture means no usable microphone; fatal for the turn
	ErrorAudioCapture ErrorKind = "audio-capture"
	// ErrorNotAllowed means microphone permission was denied
	ErrorNotAllowed ErrorKind = "not-allowed"
	// ErrorNetwork is a transient transport fault; log and continue
	ErrorNetwork ErrorKind = "network"
	// ErrorAborted is the expected result of a manual stop
	ErrorAborted ErrorKind = "aborted"
)

// Benign reports whether the fault should not interrupt the current turn
func (k ErrorKind) Benign() bool {
	return k == ErrorNoSpeech || k == ErrorNetwork || k == ErrorAborted
}

// FatalForTurn reports whether recording cannot continue this turn
func (k ErrorKind) FatalForTurn() bool {
	return k == ErrorAudioCapture || k == ErrorNotAllowed
}

// EventKind discriminates recognition events
type EventKind int

const (
	// EventPartial carries an interim transcript, a live preview that may
	// still be revised and is never persisted
	EventPartial EventKind = iota
	// EventFinal carries a finalized transcript segment
	EventFinal
	// EventError carries a normalized fault
	EventError
)

// Event is the tagged union delivered by a recognition session: a partial
// segment, a final segment, or a normalized error.
type Event struct {
	Kind       EventKind
	Text       string
	Err        ErrorKind
	Confidence float64
}

// Client is the interface for streaming speech-to-text clients
type Client interface {
	// Start begins a capture session. Starting while already active or
	// starting is a no-op.
	Start() error

	// SendAudio sends an audio chunk to the recognition service
	SendAudio(audioData []byte) error

	// Events returns the stream of recognition events
	Events() <-chan Event

	// Stop ends the capture session; safe to call when idle
	Stop() error

	// Close releases the client and its resources
	Close() error

	// IsActive reports whether a capture session is live
	IsActive() bool
}
