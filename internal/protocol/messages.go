// Package protocol defines the JSON messages exchanged with chat clients
// over the WebSocket connection.
package protocol

import "github.com/saker-ai/chatkit-server/internal/render"

// Client command types.
const (
	CmdSendMessage     = "send-message"
	CmdFetchMessages   = "fetch-messages"
	CmdDeleteMessage   = "delete-message"
	CmdJoinChannel     = "join-channel"
	CmdSetView         = "set-view"
	CmdRecordingStart  = "recording-start"
	CmdRecordingPause  = "recording-pause"
	CmdRecordingResume = "recording-resume"
	CmdRecordingStop   = "recording-stop"
	CmdRecordingCancel = "recording-cancel"
	CmdRecordingAudio  = "recording-audio"
	CmdHeartbeat       = "heartbeat"
)

// Server event types.
const (
	EventMessages       = "messages"
	EventMessageNew     = "message-new"
	EventMessageDeleted = "message-deleted"
	EventPresence       = "presence"
	EventRecordingState = "recording-state"
	EventError          = "error"
)

// ClientCommand is a command sent by a chat client. Fields are used
// according to Type.
type ClientCommand struct {
	Type           string            `json:"type"`
	Channel        string            `json:"channel,omitempty"`
	Text           string            `json:"text,omitempty"`
	HTML           string            `json:"html,omitempty"`
	Translations   map[string]string `json:"translations,omitempty"`
	MentionedUsers []string          `json:"mentioned_users,omitempty"`
	MessageID      string            `json:"message_id,omitempty"`
	Limit          int               `json:"limit,omitempty"`
	View           *render.View      `json:"view,omitempty"`
	Audio          []float64         `json:"audio,omitempty"`
	AudioPCM       string            `json:"audio_pcm,omitempty"`
	AudioRate      int               `json:"audio_sample_rate,omitempty"`
}

// Event is a message pushed to a chat client.
type Event struct {
	Type      string            `json:"type"`
	Channel   string            `json:"channel,omitempty"`
	Message   *render.Rendered  `json:"message,omitempty"`
	Messages  []render.Rendered `json:"messages,omitempty"`
	MessageID string            `json:"message_id,omitempty"`
	Users     []string          `json:"users,omitempty"`
	State     string            `json:"state,omitempty"`
	ElapsedMs int64             `json:"elapsed_ms,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// ErrorEvent builds an error event.
func ErrorEvent(message string) Event {
	return Event{Type: EventError, Error: message}
}
