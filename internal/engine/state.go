package engine

// State is the engine's turn-taking phase. Exactly one state is active at
// any instant; transitions happen only inside the engine's event loop.
type State int

const (
	// StateAnnouncing reads the welcome and instructions once at session start.
	StateAnnouncing State = iota
	// StateSpeaking reads the current question aloud.
	StateSpeaking
	// StateRecording captures the user's spoken answer and commands.
	StateRecording
	// StateSubmitting finalizes the session against the store.
	StateSubmitting
	// StateSubmitted is terminal.
	StateSubmitted
)

func (s State) String() string {
	switch s {
	case StateAnnouncing:
		return "announcing"
	case StateSpeaking:
		return "speaking"
	case StateRecording:
		return "recording"
	case StateSubmitting:
		return "submitting"
	case StateSubmitted:
		return "submitted"
	default:
		return "unknown"
	}
}

// actionKind identifies a requested transition. Actions arrive from voice
// commands, keyboard fallbacks, and the timer.
type actionKind int

const (
	actionNone actionKind = iota
	actionNext
	actionPrevious
	actionRepeat
	actionClear
	actionStartRecording
	actionStopRecording
	actionToggleRecording
	actionSubmit
	actionHelp
)

func (a actionKind) String() string {
	switch a {
	case actionNext:
		return "next"
	case actionPrevious:
		return "previous"
	case actionRepeat:
		return "repeat"
	case actionClear:
		return "clear"
	case actionStartRecording:
		return "start_recording"
	case actionStopRecording:
		return "stop_recording"
	case actionToggleRecording:
		return "toggle_recording"
	case actionSubmit:
		return "submit"
	case actionHelp:
		return "help"
	default:
		return "none"
	}
}
