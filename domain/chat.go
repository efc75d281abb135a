package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

type Role string

const (
	UserRole      Role = "user"
	AssistantRole Role = "assistant"
	SystemRole    Role = "system"
)

// Valid reports whether r is a role the upstream accepts.
func (r Role) Valid() bool {
	switch r {
	case UserRole, AssistantRole, SystemRole:
		return true
	}
	return false
}

type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is one user utterance plus the turns that preceded it.
// Messages is ordered oldest first and always ends with the user turn.
type ChatRequest struct {
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

// UnmarshalJSON also accepts the older shape
// {"message": "...", "history": [...]} and converts it to Messages.
func (r *ChatRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		Messages    []ChatMessage `json:"messages"`
		Message     *string       `json:"message"`
		History     []ChatMessage `json:"history"`
		MaxTokens   *int          `json:"max_tokens"`
		Temperature *float64      `json:"temperature"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	msgs := raw.Messages
	if raw.Message != nil {
		if len(raw.Messages) > 0 {
			return errors.New("use either messages or message/history, not both")
		}
		msgs = make([]ChatMessage, 0, len(raw.History)+1)
		msgs = append(msgs, raw.History...)
		msgs = append(msgs, ChatMessage{Role: UserRole, Content: *raw.Message})
	}

	*r = ChatRequest{
		Messages:    msgs,
		MaxTokens:   raw.MaxTokens,
		Temperature: raw.Temperature,
	}
	return nil
}

// Latest returns the last message of the request, normally the user turn.
func (r ChatRequest) Latest() ChatMessage {
	if len(r.Messages) == 0 {
		return ChatMessage{}
	}
	return r.Messages[len(r.Messages)-1]
}

// History returns every message before the latest one.
func (r ChatRequest) History() []ChatMessage {
	if len(r.Messages) == 0 {
		return nil
	}
	return r.Messages[:len(r.Messages)-1]
}

type ChatResponse struct {
	Response   string `json:"response"`
	Model      string `json:"model"`
	TokensUsed int    `json:"tokens_used"`
}

// ConversationTurn is one entry of the client-side conversation.
type ConversationTurn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	// Error marks a turn recorded in place of a failed response.
	Error bool `json:"error,omitempty"`
}

// ChatRelay is the client's view of the relay service.
type ChatRelay interface {
	// Chat returns the whole reply at once.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// ChatStream calls onDelta for every fragment in arrival order and returns
	// once the end-of-stream marker is seen.
	ChatStream(ctx context.Context, req ChatRequest, onDelta func(string)) error
}
