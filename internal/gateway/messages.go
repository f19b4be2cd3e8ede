package gateway

// ClientMessage is a message from the exam client. Type selects which
// fields are meaningful: "start" carries user and exam IDs, "media" carries
// base64 audio, "command" carries explicit command text, "key" carries a
// keyboard fallback key, "stop" ends the session.
type ClientMessage struct {
	Type    string `json:"type"`
	UserID  string `json:"user_id,omitempty"`
	ExamID  string `json:"exam_id,omitempty"`
	Payload string `json:"payload,omitempty"`
	Text    string `json:"text,omitempty"`
	Key     string `json:"key,omitempty"`
}

// Client message types
const (
	MsgStart   = "start"
	MsgMedia   = "media"
	MsgCommand = "command"
	MsgKey     = "key"
	MsgStop    = "stop"
)

// Server message types
const (
	MsgState      = "state"
	MsgTranscript = "transcript"
	MsgAnswer     = "answer"
	MsgQuestion   = "question"
	MsgAudio      = "audio"
	MsgAlert      = "alert"
	MsgNotice     = "notice"
	MsgSubmitted  = "submitted"
	MsgError      = "error"
)
