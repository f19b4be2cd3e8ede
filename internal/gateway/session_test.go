package gateway

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/23331a4722/voice-ed-exams/internal/config"
)

func gatewayTestConfig() *config.Config {
	return &config.Config{AudioBufferSize: 1024}
}

func TestClientMessageParsing(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want ClientMessage
	}{
		{
			name: "start",
			raw:  `{"type":"start","user_id":"u1","exam_id":"e1"}`,
			want: ClientMessage{Type: MsgStart, UserID: "u1", ExamID: "e1"},
		},
		{
			name: "media",
			raw:  `{"type":"media","payload":"AAAA"}`,
			want: ClientMessage{Type: MsgMedia, Payload: "AAAA"},
		},
		{
			name: "command",
			raw:  `{"type":"command","text":"next question"}`,
			want: ClientMessage{Type: MsgCommand, Text: "next question"},
		},
		{
			name: "key",
			raw:  `{"type":"key","key":"arrow-right"}`,
			want: ClientMessage{Type: MsgKey, Key: "arrow-right"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got ClientMessage
			if err := json.Unmarshal([]byte(tt.raw), &got); err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestHandleMediaQueuesDecodedAudio(t *testing.T) {
	sess := NewExamSession(nil, gatewayTestConfig(), nil)

	payload := base64.StdEncoding.EncodeToString([]byte("pcm-audio"))
	sess.handleMedia(payload)

	select {
	case chunk := <-sess.audioIn:
		if string(chunk) != "pcm-audio" {
			t.Errorf("Expected decoded audio, got %q", chunk)
		}
	default:
		t.Fatal("Expected a queued audio chunk")
	}

	sess.handleMedia("")
	sess.handleMedia("not-base64!!!")
	select {
	case chunk := <-sess.audioIn:
		t.Errorf("Empty or invalid payloads must not queue audio, got %q", chunk)
	default:
	}
}

func TestSessionLifecycleOverWebSocket(t *testing.T) {
	server := httptest.NewServer(HandleExamWS(gatewayTestConfig(), nil))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	// Unknown types and commands before start are ignored, not fatal.
	if err := conn.WriteJSON(ClientMessage{Type: "bogus"}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := conn.WriteJSON(ClientMessage{Type: MsgCommand, Text: "next"}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if err := conn.WriteJSON(ClientMessage{Type: MsgStop}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// The server closes the connection once the session tears down.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("Expected connection to close after stop")
	}
}

func TestUpgradeRejectsPlainHTTP(t *testing.T) {
	server := httptest.NewServer(HandleExamWS(gatewayTestConfig(), nil))
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for non-WebSocket request, got %d", resp.StatusCode)
	}
}
