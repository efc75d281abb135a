package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waqar741/EchoAI/domain"
)

func sseUpstream(t *testing.T, fragments []string, seen *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		if seen != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant"}}]}`+"\n\n")
		for _, f := range fragments {
			b, _ := json.Marshal(f)
			fmt.Fprintf(w, `data: {"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":%s}}]}`+"\n\n", b)
			w.(http.Flusher).Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func drain(t *testing.T, s domain.DeltaStream) []string {
	t.Helper()
	defer s.Close()
	var out []string
	for {
		d, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, d)
	}
}

func TestOpenAIClient_StreamsFragmentsInOrder(t *testing.T) {
	var seen map[string]any
	srv := sseUpstream(t, []string{"Hel", "lo", " there", "!"}, &seen)
	defer srv.Close()

	client := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL + "/v1", Model: "Qwen2.5-1.5B-Instruct", Timeout: 5 * time.Second})
	defer client.Close()

	stream, err := client.Stream(context.Background(), domain.CompletionRequest{
		Messages: []domain.ChatMessage{
			{Role: domain.SystemRole, Content: "be brief"},
			{Role: domain.UserRole, Content: "hi"},
		},
		MaxTokens:   64,
		Temperature: 0.5,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Hel", "lo", " there", "!"}, drain(t, stream))
	assert.Equal(t, "Qwen2.5-1.5B-Instruct", seen["model"])
	assert.Equal(t, true, seen["stream"])
	assert.EqualValues(t, 64, seen["max_tokens"])
	msgs := seen["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "hi", msgs[1].(map[string]any)["content"])
}

func TestOpenAIClient_AcceptsFullCompletionsURL(t *testing.T) {
	srv := sseUpstream(t, []string{"ok"}, nil)
	defer srv.Close()

	client := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL + "/v1/chat/completions/", Model: "m", Timeout: 5 * time.Second})
	stream, err := client.Stream(context.Background(), domain.CompletionRequest{
		Messages: []domain.ChatMessage{{Role: domain.UserRole, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, drain(t, stream))
}

func TestOpenAIClient_UpstreamStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
	}))
	defer srv.Close()

	client := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL + "/v1", Model: "m", Timeout: 5 * time.Second})
	_, err := client.Stream(context.Background(), domain.CompletionRequest{
		Messages: []domain.ChatMessage{{Role: domain.UserRole, Content: "hi"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstream)

	var statusErr *domain.UpstreamStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
}

func TestOpenAIClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	client := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL + "/v1", Model: "m", Timeout: 100 * time.Millisecond})
	_, err := client.Stream(context.Background(), domain.CompletionRequest{
		Messages: []domain.ChatMessage{{Role: domain.UserRole, Content: "hi"}},
	})
	assert.ErrorIs(t, err, domain.ErrUpstreamTimeout)
}

func TestOpenAIClient_StallAfterFirstChunkTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant"}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"Hi"}}]}`+"\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL + "/v1", Model: "m", Timeout: 200 * time.Millisecond})
	defer client.Close()

	stream, err := client.Stream(context.Background(), domain.CompletionRequest{
		Messages: []domain.ChatMessage{{Role: domain.UserRole, Content: "hi"}},
	})
	require.NoError(t, err)
	defer stream.Close()

	first, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "Hi", first)

	done := make(chan error, 1)
	go func() {
		_, err := stream.Recv()
		done <- err
	}()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, domain.ErrUpstreamTimeout)
	case <-time.After(3 * time.Second):
		t.Fatal("Recv did not return after the upstream went quiet")
	}
}

func TestNormalizeBaseURL(t *testing.T) {
	assert.Equal(t, "https://api.example/v1", normalizeBaseURL("https://api.example/v1/"))
	assert.Equal(t, "https://api.example/v1", normalizeBaseURL("https://api.example/v1/chat/completions"))
	assert.Equal(t, "https://api.example", normalizeBaseURL(" https://api.example "))
}
