// Package relay is the voice client's HTTP connection to the chat relay.
package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/waqar741/EchoAI/domain"
	"github.com/waqar741/EchoAI/utils/log"
)

const doneMarker = "[DONE]"

type Config struct {
	BaseURL string
	APIKey  string
	// Timeout bounds non-streaming calls. Streams run until the context ends.
	Timeout time.Duration
}

// Client implements domain.ChatRelay over the relay's HTTP API.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
		http:    &http.Client{},
	}
}

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field"`
}

func (c *Client) post(ctx context.Context, path string, req domain.ChatRequest, accept string) (*http.Response, error) {
	body, err := sonic.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", accept)
	if c.apiKey != "" {
		httpReq.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrUpstream, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp, nil
}

// statusError maps a relay error response onto the domain error taxonomy.
func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body errorBody
	if err := sonic.Unmarshal(raw, &body); err != nil || body.Error == "" {
		body.Error = http.StatusText(resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", domain.ErrAuthentication, body.Error)
	case http.StatusTooManyRequests:
		retry, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return fmt.Errorf("%w: %s (retry after %ds)", domain.ErrRateLimited, body.Error, retry)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		if body.Field != "" {
			return fmt.Errorf("%w: %s: %s", domain.ErrInvalidRequest, body.Field, body.Error)
		}
		return fmt.Errorf("%w: %s", domain.ErrInvalidRequest, body.Error)
	case http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %s", domain.ErrUpstreamTimeout, body.Error)
	}
	return fmt.Errorf("%w: %s", &domain.UpstreamStatusError{StatusCode: resp.StatusCode}, body.Error)
}

// Chat calls /api/chat.
func (c *Client) Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.post(ctx, "/api/chat", req, "application/json")
	if err != nil {
		return domain.ChatResponse{}, err
	}
	defer resp.Body.Close()

	var out domain.ChatResponse
	if err := sonic.ConfigStd.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.ChatResponse{}, fmt.Errorf("%w: malformed response: %w", domain.ErrUpstream, err)
	}
	return out, nil
}

// ChatStream calls /api/chat/stream and hands every fragment to onDelta.
// A stream that ends without the [DONE] marker is an error.
func (c *Client) ChatStream(ctx context.Context, req domain.ChatRequest, onDelta func(string)) error {
	resp, err := c.post(ctx, "/api/chat/stream", req, "text/event-stream")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	events := newEventReader(resp.Body)
	fragments := 0
	for {
		ev, err := events.next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("%w: stream ended after %d fragments without completion marker", domain.ErrUpstream, fragments)
			}
			return fmt.Errorf("%w: SSE read error: %w", domain.ErrUpstream, err)
		}

		if ev.Name == "error" {
			var body errorBody
			_ = sonic.UnmarshalString(ev.Data, &body)
			return fmt.Errorf("%w: %s", domain.ErrUpstream, body.Error)
		}
		if ev.Data == doneMarker {
			log.WithCtx(ctx).Debug("Relay stream completed", zap.Int("fragments", fragments))
			return nil
		}

		var delta struct {
			Delta string `json:"delta"`
		}
		if err := sonic.UnmarshalString(ev.Data, &delta); err != nil {
			log.WithCtx(ctx).Warn("Failed to parse SSE event", zap.Error(err), zap.String("data", ev.Data))
			return fmt.Errorf("%w: malformed SSE event after %d fragments: %w", domain.ErrUpstream, fragments, err)
		}
		fragments++
		onDelta(delta.Delta)
	}
}
