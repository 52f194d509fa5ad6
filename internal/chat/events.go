package chat

import "time"

// Client -> Server event payloads (spec §6). The transport layer decodes
// wire frames into these and calls the matching Orchestrator method.

// UserMessageEvent carries a new chat message from the user.
type UserMessageEvent struct {
	Message string `json:"message"`
}

// TypingStatusEvent reports a change in the user's typing state.
type TypingStatusEvent struct {
	IsTyping bool `json:"isTyping"`
}

// SetChatModeEvent switches the active prompt profile and optionally
// injects a first message.
type SetChatModeEvent struct {
	Mode           ChatMode `json:"mode"`
	InitialMessage string   `json:"initialMessage,omitempty"`
}

// Server -> Client event payloads.

// MessageReceivedEvent echoes a user message back as delivery confirmation.
type MessageReceivedEvent struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

// AIBlockEvent is one Pacer emission.
type AIBlockEvent struct {
	Text      string    `json:"text"`
	Group     int       `json:"group"`
	Timestamp time.Time `json:"timestamp"`
}

// AICompleteEvent signals the buffer drained or a stop was acknowledged.
type AICompleteEvent struct{}

// ErrorEvent reports a client-visible failure.
type ErrorEvent struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// DeliveryChannel is the bidirectional message channel the transport layer
// provides to the Orchestrator and Pacer. Both must validate IsLive before
// emitting; Send* calls on a dead channel are expected to fail, letting the
// caller bail out silently rather than treat it as a hard error.
type DeliveryChannel interface {
	IsLive() bool
	SendMessageReceived(MessageReceivedEvent) error
	SendAIBlock(AIBlockEvent) error
	SendAIComplete(AICompleteEvent) error
	SendError(ErrorEvent) error
}
