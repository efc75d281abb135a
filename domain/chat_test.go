package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatRequest_UnmarshalMessages(t *testing.T) {
	var req ChatRequest
	err := json.Unmarshal([]byte(`{
		"messages": [
			{"role": "user", "content": "hi"},
			{"role": "assistant", "content": "hello"},
			{"role": "user", "content": "how are you?"}
		],
		"max_tokens": 80,
		"temperature": 0.2
	}`), &req)
	require.NoError(t, err)

	require.Len(t, req.Messages, 3)
	assert.Equal(t, ChatMessage{Role: UserRole, Content: "how are you?"}, req.Latest())
	assert.Len(t, req.History(), 2)
	require.NotNil(t, req.MaxTokens)
	assert.Equal(t, 80, *req.MaxTokens)
	require.NotNil(t, req.Temperature)
	assert.InDelta(t, 0.2, *req.Temperature, 1e-9)
}

func TestChatRequest_UnmarshalLegacyShape(t *testing.T) {
	var req ChatRequest
	err := json.Unmarshal([]byte(`{
		"message": "and now?",
		"history": [{"role": "user", "content": "hi"}, {"role": "assistant", "content": "hello"}]
	}`), &req)
	require.NoError(t, err)

	assert.Equal(t, []ChatMessage{
		{Role: UserRole, Content: "hi"},
		{Role: AssistantRole, Content: "hello"},
		{Role: UserRole, Content: "and now?"},
	}, req.Messages)
	assert.Nil(t, req.Temperature)
	assert.Nil(t, req.MaxTokens)
}

func TestChatRequest_UnmarshalKeepsExplicitZeroMaxTokens(t *testing.T) {
	var req ChatRequest
	err := json.Unmarshal([]byte(`{"messages":[{"role":"user","content":"hi"}],"max_tokens":0}`), &req)
	require.NoError(t, err)

	require.NotNil(t, req.MaxTokens)
	assert.Zero(t, *req.MaxTokens)
}

func TestChatRequest_UnmarshalRejectsBothShapes(t *testing.T) {
	var req ChatRequest
	err := json.Unmarshal([]byte(`{"message": "x", "messages": [{"role": "user", "content": "y"}]}`), &req)
	assert.Error(t, err)
}

func TestChatRequest_EmptyAccessors(t *testing.T) {
	var req ChatRequest
	assert.Equal(t, ChatMessage{}, req.Latest())
	assert.Nil(t, req.History())
}

func TestRole_Valid(t *testing.T) {
	assert.True(t, UserRole.Valid())
	assert.True(t, AssistantRole.Valid())
	assert.True(t, SystemRole.Valid())
	assert.False(t, Role("doll").Valid())
}
