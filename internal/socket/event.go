package socket

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event names
const (
	EventPing   = "ping"
	EventPong   = "pong"
	EventWhoAmI = "whoami"
	EventError  = "error"

	EventConversationJoin   = "conversation:join"
	EventConversationJoined = "conversation:joined"
	EventMessageSend        = "message:send"
	EventMessageNew         = "message:new"
)

// Error codes sent in error events
const (
	CodeBadEvent     = "bad_event"
	CodeUnknownEvent = "unknown_event"
	CodeForbidden    = "forbidden"
	CodeInternal     = "internal_error"
)

// Event is a frame in both directions: {"event": "...", "data": {...}}
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

type errorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}

type pongData struct {
	Time time.Time `json:"time"`
}

type conversationData struct {
	ConversationID string `json:"conversationId"`
}

type messageSendData struct {
	ConversationID string `json:"conversationId"`
	Text           string `json:"text"`
}

type messageNewData struct {
	ConversationID string    `json:"conversationId"`
	From           uuid.UUID `json:"from"`
	Text           string    `json:"text"`
	SentAt         time.Time `json:"sentAt"`
}

func newEvent(name string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Name: name, Data: raw}, nil
}
