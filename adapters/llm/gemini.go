package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/waqar741/EchoAI/domain"
)

type GeminiConfig struct {
	APIKey     string
	Model      string
	HTTPClient *http.Client
	// Transport is HTTPClient's pool, released by Close.
	Transport *http.Transport
	// Timeout bounds each read of a response stream.
	Timeout time.Duration
}

type GeminiClient struct {
	client    *genai.Client
	transport *http.Transport
	model     string
	timeout   time.Duration
}

func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (domain.Llm, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  cfg.HTTPClient,
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1beta"},
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	model := cfg.Model
	if model == "" || !strings.HasPrefix(model, "gemini") {
		model = "gemini-2.0-flash-001"
	}
	return &GeminiClient{client: client, transport: cfg.Transport, model: model, timeout: cfg.Timeout}, nil
}

func (g *GeminiClient) Model() string { return g.model }

// Stream splits system messages into the system instruction and maps the
// assistant role onto Gemini's model role.
func (g *GeminiClient) Stream(ctx context.Context, req domain.CompletionRequest) (domain.DeltaStream, error) {
	var system []*genai.Part
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case domain.SystemRole:
			system = append(system, &genai.Part{Text: msg.Content})
			continue
		case domain.UserRole:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		}
	}

	temperature := float32(req.Temperature)
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(req.MaxTokens),
		Temperature:     &temperature,
	}
	if len(system) > 0 {
		config.SystemInstruction = &genai.Content{Parts: system}
	}

	deadline := newReadDeadline(ctx, g.timeout)
	seq := g.client.Models.GenerateContentStream(deadline.ctx, g.model, contents, config)
	next, stop := iter.Pull2(seq)

	s := &geminiStream{next: next, stop: stop, deadline: deadline}
	// Surface connection and status errors before the caller commits to a
	// streaming response, the same way the OpenAI client does.
	first, err := s.Recv()
	if err != nil && !errors.Is(err, io.EOF) {
		s.Close()
		return nil, err
	}
	s.pending, s.pendingErr = first, err
	s.primed = true
	return s, nil
}

func (g *GeminiClient) Close() error {
	if g.transport != nil {
		g.transport.CloseIdleConnections()
	}
	return nil
}

type geminiStream struct {
	next     func() (*genai.GenerateContentResponse, error, bool)
	stop     func()
	deadline *readDeadline

	primed     bool
	pending    string
	pendingErr error
}

func (s *geminiStream) Recv() (string, error) {
	if s.primed {
		s.primed = false
		return s.pending, s.pendingErr
	}
	for {
		disarm := s.deadline.arm()
		resp, err, ok := s.next()
		disarm()
		if !ok {
			return "", io.EOF
		}
		if err != nil {
			if s.deadline.stalled() {
				return "", fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, errStalled)
			}
			return "", classifyGemini(err)
		}
		if text := resp.Text(); text != "" {
			return text, nil
		}
	}
}

func (s *geminiStream) Close() error {
	s.deadline.close()
	s.stop()
	return nil
}

func classifyGemini(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %s", &domain.UpstreamStatusError{StatusCode: apiErr.Code}, apiErr.Message)
	}
	return fmt.Errorf("%w: %v", domain.ErrUpstream, err)
}
