package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waqar741/EchoAI/domain"
)

func texts(turns []domain.ConversationTurn) []string {
	out := make([]string, 0, len(turns))
	for _, t := range turns {
		out = append(out, string(t.Role)+":"+t.Text)
	}
	return out
}

func TestConversationStore_AppendSnapshotClear(t *testing.T) {
	s := NewConversationStore()
	first := s.Append(domain.UserRole, "hi", false)
	s.Append(domain.AssistantRole, "hello", false)

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.NotEmpty(t, first.ID)
	assert.NotEqual(t, snap[0].ID, snap[1].ID)
	assert.False(t, snap[1].Timestamp.Before(snap[0].Timestamp))

	snap[0].Text = "mutated"
	assert.Equal(t, "hi", s.Snapshot()[0].Text)

	s.Clear()
	assert.Zero(t, s.Len())
}

func TestChatClient_SendRecordsBothTurns(t *testing.T) {
	relay := &fakeRelay{fragments: []string{"Why", " not", "?"}}
	m := NewSpeechMachine("s")
	client := NewChatClient(relay, NewConversationStore(), m, ChatClientConfig{Streaming: true, MaxTokens: 100})

	var deltas []string
	turn, err := client.Send(context.Background(), "can I ask?", func(d string) { deltas = append(deltas, d) })
	require.NoError(t, err)

	assert.Equal(t, "Why not?", turn.Text)
	assert.Equal(t, []string{"Why", " not", "?"}, deltas)
	assert.Equal(t, []string{"user:can I ask?", "assistant:Why not?"}, texts(client.Store().Snapshot()))
	require.NotNil(t, relay.lastRequest().MaxTokens)
	assert.Equal(t, 100, *relay.lastRequest().MaxTokens)
}

func TestChatClient_RequestCarriesTurnsInOrder(t *testing.T) {
	relay := &fakeRelay{fragments: []string{"ok"}}
	client := NewChatClient(relay, NewConversationStore(), nil, ChatClientConfig{})

	for i := 0; i < 4; i++ {
		_, err := client.Send(context.Background(), fmt.Sprintf("q%d", i), nil)
		require.NoError(t, err)

		held := toMessages(client.Store().Snapshot())
		sent := relay.lastRequest().Messages
		// the request holds every turn up to and including this question
		assert.Equal(t, held[:len(held)-1], sent)
	}
}

func TestChatClient_NonStreamingUsesChat(t *testing.T) {
	relay := &fakeRelay{fragments: []string{"a", "b"}}
	client := NewChatClient(relay, NewConversationStore(), nil, ChatClientConfig{})

	var deltas []string
	turn, err := client.Send(context.Background(), "q", func(d string) { deltas = append(deltas, d) })
	require.NoError(t, err)
	assert.Equal(t, "ab", turn.Text)
	assert.Equal(t, []string{"ab"}, deltas)
}

func TestChatClient_FailureRecordsErrorMarkerOnly(t *testing.T) {
	relay := &fakeRelay{fragments: []string{"partial"}, err: fmt.Errorf("%w: connection reset", domain.ErrUpstream)}
	m := NewSpeechMachine("s")
	m.state = domain.StateThinking
	client := NewChatClient(relay, NewConversationStore(), m, ChatClientConfig{Streaming: true})

	_, err := client.Send(context.Background(), "q", nil)
	require.ErrorIs(t, err, domain.ErrUpstream)

	turns := client.Store().Snapshot()
	require.Len(t, turns, 2)
	assert.True(t, turns[1].Error)
	assert.NotContains(t, turns[1].Text, "partial")
	assert.Equal(t, domain.StateIdle, m.State())

	// error markers never reach the relay
	relay.err = nil
	_, err = client.Send(context.Background(), "retry", nil)
	require.NoError(t, err)
	for _, msg := range relay.lastRequest().Messages {
		assert.NotEqual(t, turns[1].Text, msg.Content)
	}
}

func TestChatClient_NewSendCancelsInFlight(t *testing.T) {
	relay := &fakeRelay{fragments: []string{"slow", " reply"}, block: make(chan struct{}), entered: make(chan struct{}, 4)}
	client := NewChatClient(relay, NewConversationStore(), nil, ChatClientConfig{Streaming: true})

	first := make(chan error, 1)
	go func() {
		_, err := client.Send(context.Background(), "first", nil)
		first <- err
	}()
	<-relay.entered

	done := make(chan error, 1)
	go func() {
		_, err := client.Send(context.Background(), "second", nil)
		done <- err
	}()

	assert.ErrorIs(t, <-first, context.Canceled)
	close(relay.block)
	require.NoError(t, <-done)

	assert.Equal(t, []string{"user:first", "user:second", "assistant:slow reply"}, texts(client.Store().Snapshot()))
	for _, turn := range client.Store().Snapshot() {
		assert.False(t, turn.Error)
	}
}

func TestChatClient_ResetDiscardsPendingReply(t *testing.T) {
	relay := &fakeRelay{fragments: []string{"never", " finished"}, block: make(chan struct{}), entered: make(chan struct{}, 1)}
	m := NewSpeechMachine("s")
	client := NewChatClient(relay, NewConversationStore(), m, ChatClientConfig{Streaming: true})
	_, _ = m.Fire(StartCapture)
	_, _ = m.Fire(FinalResult)

	result := make(chan error, 1)
	go func() {
		_, err := client.Send(context.Background(), "q", nil)
		result <- err
	}()
	<-relay.entered

	client.Reset()
	assert.ErrorIs(t, <-result, context.Canceled)
	assert.Zero(t, client.Store().Len())
	assert.Equal(t, domain.StateIdle, m.State())
}

func TestErrorText(t *testing.T) {
	assert.Contains(t, ErrorText(fmt.Errorf("%w: 401", domain.ErrAuthentication)), "API key")
	assert.Contains(t, ErrorText(fmt.Errorf("%w: retry", domain.ErrRateLimited)), "Too many requests")
	assert.Contains(t, ErrorText(errors.New("boom")), "boom")
}
