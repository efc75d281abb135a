package llm

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/waqar741/EchoAI/domain"
)

// OpenAIConfig points the client at any OpenAI-compatible endpoint.
type OpenAIConfig struct {
	// BaseURL may be the API root (".../v1") or the full chat completions URL.
	BaseURL            string
	APIKey             string
	Model              string
	Timeout            time.Duration
	InsecureSkipVerify bool
}

// OpenAIClient streams chat completions over one pooled HTTP client shared
// by every request.
type OpenAIClient struct {
	client    *openai.Client
	transport *http.Transport
	model     string
	timeout   time.Duration
}

// NewPooledHTTPClient builds the shared upstream HTTP client: 20 connections
// per host, 10 kept idle, 5s to connect and timeout to receive response
// headers. Reads of the body are bounded per read by the stream itself.
func NewPooledHTTPClient(timeout time.Duration, insecure bool) (*http.Client, *http.Transport) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: timeout,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: insecure}, //nolint:gosec // opt-in for self-signed upstreams
	}
	return &http.Client{Transport: transport}, transport
}

func NewOpenAIClient(cfg OpenAIConfig) domain.Llm {
	httpClient, transport := NewPooledHTTPClient(cfg.Timeout, cfg.InsecureSkipVerify)

	conf := openai.DefaultConfig(cfg.APIKey)
	conf.BaseURL = normalizeBaseURL(cfg.BaseURL)
	conf.HTTPClient = httpClient

	return &OpenAIClient{
		client:    openai.NewClientWithConfig(conf),
		transport: transport,
		model:     cfg.Model,
		timeout:   cfg.Timeout,
	}
}

// normalizeBaseURL strips the endpoint path that go-openai appends itself.
func normalizeBaseURL(u string) string {
	u = strings.TrimRight(strings.TrimSpace(u), "/")
	return strings.TrimSuffix(u, "/chat/completions")
}

func (c *OpenAIClient) Model() string { return c.model }

func (c *OpenAIClient) Stream(ctx context.Context, req domain.CompletionRequest) (domain.DeltaStream, error) {
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		}
	}

	deadline := newReadDeadline(ctx, c.timeout)
	stream, err := c.client.CreateChatCompletionStream(deadline.ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
		Stream:      true,
	})
	if err != nil {
		deadline.close()
		return nil, classify(ctx, err)
	}
	return &openAIStream{ctx: ctx, stream: stream, deadline: deadline}, nil
}

func (c *OpenAIClient) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}

type openAIStream struct {
	ctx      context.Context
	stream   *openai.ChatCompletionStream
	deadline *readDeadline
}

// Recv skips chunks that carry no content, such as the role preamble. A
// chunk that does not arrive within the read timeout is ErrUpstreamTimeout.
func (s *openAIStream) Recv() (string, error) {
	for {
		disarm := s.deadline.arm()
		resp, err := s.stream.Recv()
		disarm()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", io.EOF
			}
			if s.deadline.stalled() {
				return "", fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, errStalled)
			}
			return "", classify(s.ctx, err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if delta := resp.Choices[0].Delta.Content; delta != "" {
			return delta, nil
		}
	}
}

func (s *openAIStream) Close() error {
	defer s.deadline.close()
	return s.stream.Close()
}

// classify maps transport and API errors onto the domain taxonomy.
func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %s", &domain.UpstreamStatusError{StatusCode: apiErr.HTTPStatusCode}, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("%w: %v", &domain.UpstreamStatusError{StatusCode: reqErr.HTTPStatusCode}, reqErr.Err)
	}
	return fmt.Errorf("%w: %v", domain.ErrUpstream, err)
}
