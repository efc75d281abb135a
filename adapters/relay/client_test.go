package relay

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waqar741/EchoAI/adapters/hasher"
	httpadapter "github.com/waqar741/EchoAI/adapters/http"
	"github.com/waqar741/EchoAI/adapters/ratelimit"
	"github.com/waqar741/EchoAI/domain"
	"github.com/waqar741/EchoAI/usecase"
)

type replayLlm struct{ fragments []string }

func (r replayLlm) Model() string { return "replay" }
func (r replayLlm) Close() error  { return nil }

func (r replayLlm) Stream(context.Context, domain.CompletionRequest) (domain.DeltaStream, error) {
	return &replayStream{items: append([]string(nil), r.fragments...)}, nil
}

type replayStream struct{ items []string }

func (s *replayStream) Recv() (string, error) {
	if len(s.items) == 0 {
		return "", io.EOF
	}
	d := s.items[0]
	s.items = s.items[1:]
	return d, nil
}

func (s *replayStream) Close() error { return nil }

// newRelay starts the real relay server in front of a replaying LLM.
func newRelay(t *testing.T, apiKey string, limit int, fragments ...string) *httptest.Server {
	t.Helper()
	store := ratelimit.NewMemoryStore(limit, time.Minute, nil)
	t.Cleanup(func() { _ = store.Close() })

	svc := usecase.NewChatService(replayLlm{fragments: fragments}, usecase.ChatDefaults{MaxTokens: 150, Temperature: 0.7, HistoryWindow: 6})
	guard := usecase.NewAccessGuard(usecase.AccessConfig{APIKey: apiKey}, store, hasher.New(""))
	e := httpadapter.NewServer(httpadapter.ServerConfig{}, httpadapter.NewChatHandler(svc, guard, 0), nil)

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv
}

func request(text string) domain.ChatRequest {
	return domain.ChatRequest{Messages: []domain.ChatMessage{{Role: domain.UserRole, Content: text}}}
}

func TestClient_StreamMatchesChat(t *testing.T) {
	srv := newRelay(t, "abc123", 10, "Line\none", " with \"quotes\"", " and more.")
	c := NewClient(Config{BaseURL: srv.URL, APIKey: "abc123"})

	var streamed []string
	require.NoError(t, c.ChatStream(context.Background(), request("hi"), func(d string) { streamed = append(streamed, d) }))

	resp, err := c.Chat(context.Background(), request("hi"))
	require.NoError(t, err)

	assert.Equal(t, []string{"Line\none", " with \"quotes\"", " and more."}, streamed)
	assert.Equal(t, strings.Join(streamed, ""), resp.Response)
	assert.Equal(t, "replay", resp.Model)
}

func TestClient_MapsRelayErrors(t *testing.T) {
	srv := newRelay(t, "abc123", 1, "ok")

	bad := NewClient(Config{BaseURL: srv.URL, APIKey: "xyz"})
	_, err := bad.Chat(context.Background(), request("hi"))
	assert.ErrorIs(t, err, domain.ErrAuthentication)

	good := NewClient(Config{BaseURL: srv.URL, APIKey: "abc123"})
	_, err = good.Chat(context.Background(), domain.ChatRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	err = good.ChatStream(context.Background(), request("hi"), func(string) {})
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestClient_StreamErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"delta\":\"par\"}\n\n")
		fmt.Fprint(w, "event: error\ndata: {\"error\":\"LLM service error\"}\n\n")
	}))
	defer srv.Close()

	var got []string
	err := NewClient(Config{BaseURL: srv.URL}).ChatStream(context.Background(), request("hi"), func(d string) { got = append(got, d) })
	assert.ErrorIs(t, err, domain.ErrUpstream)
	assert.Equal(t, []string{"par"}, got)
}

func TestClient_StreamWithoutDoneIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keep-alive\n\ndata: {\"delta\":\"cut\"}\n\n")
	}))
	defer srv.Close()

	err := NewClient(Config{BaseURL: srv.URL}).ChatStream(context.Background(), request("hi"), func(string) {})
	assert.ErrorIs(t, err, domain.ErrUpstream)
}

func TestClient_MalformedDeltaEndsTheStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"delta\":\"one\"}\n\n")
		fmt.Fprint(w, "data: {\"delta\": tw\n\n")
		fmt.Fprint(w, "data: {\"delta\":\"three\"}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	var got []string
	err := NewClient(Config{BaseURL: srv.URL}).ChatStream(context.Background(), request("hi"), func(d string) { got = append(got, d) })
	assert.ErrorIs(t, err, domain.ErrUpstream)
	assert.Contains(t, err.Error(), "malformed SSE event")
	assert.Equal(t, []string{"one"}, got)
}

func TestClient_UpstreamStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"error":"LLM returned 503"}`)
	}))
	defer srv.Close()

	_, err := NewClient(Config{BaseURL: srv.URL}).Chat(context.Background(), request("hi"))
	var status *domain.UpstreamStatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusBadGateway, status.StatusCode)
	assert.ErrorIs(t, err, domain.ErrUpstream)
}

func TestEventReader(t *testing.T) {
	r := newEventReader(strings.NewReader("data: a\ndata: b\n\n: comment\n\nevent: error\r\ndata: x\r\n\ndata: tail"))

	ev, err := r.next()
	require.NoError(t, err)
	assert.Equal(t, event{Name: "message", Data: "a\nb"}, ev)

	ev, err = r.next()
	require.NoError(t, err)
	assert.Equal(t, event{Name: "error", Data: "x"}, ev)

	ev, err = r.next()
	require.NoError(t, err)
	assert.Equal(t, "tail", ev.Data)

	_, err = r.next()
	assert.ErrorIs(t, err, io.EOF)
}
