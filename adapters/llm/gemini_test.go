package llm

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeminiClient_CloseReleasesPooledConnections(t *testing.T) {
	var closed atomic.Bool
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	srv.Config.ConnState = func(_ net.Conn, state http.ConnState) {
		if state == http.StateClosed {
			closed.Store(true)
		}
	}
	srv.Start()
	defer srv.Close()

	httpClient, transport := NewPooledHTTPClient(time.Second, false)
	client, err := NewGeminiClient(context.Background(), GeminiConfig{
		APIKey:     "test-key",
		HTTPClient: httpClient,
		Transport:  transport,
	})
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.0-flash-001", client.Model())

	resp, err := httpClient.Get(srv.URL)
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	assert.False(t, closed.Load())

	require.NoError(t, client.Close())
	assert.Eventually(t, closed.Load, time.Second, 10*time.Millisecond)
}
