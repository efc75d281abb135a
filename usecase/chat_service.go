package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/waqar741/EchoAI/domain"
	"github.com/waqar741/EchoAI/utils/log"
	"github.com/waqar741/EchoAI/utils/metrics"
)

const (
	MaxContentLength = 4096
	MaxTokensCeiling = 1024
	MaxTemperature   = 2.0
)

// ChatDefaults are applied to requests that leave generation parameters unset.
type ChatDefaults struct {
	MaxTokens     int
	Temperature   float64
	SystemPrompt  string
	HistoryWindow int
}

// ChatService relays validated conversations to the upstream model.
type ChatService struct {
	llm      domain.Llm
	defaults ChatDefaults
}

func NewChatService(llm domain.Llm, defaults ChatDefaults) *ChatService {
	return &ChatService{llm: llm, defaults: defaults}
}

func (s *ChatService) Model() string { return s.llm.Model() }

// ValidationError describes the first offending field of a ChatRequest.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return domain.ErrInvalidRequest }

// Validate checks a request and fills in default generation parameters.
// Message order is never changed.
func (s *ChatService) Validate(req domain.ChatRequest) (domain.ChatRequest, error) {
	if len(req.Messages) == 0 {
		return req, &ValidationError{Field: "messages", Reason: "at least one message is required"}
	}
	for i, m := range req.Messages {
		field := fmt.Sprintf("messages[%d]", i)
		if !m.Role.Valid() {
			return req, &ValidationError{Field: field + ".role", Reason: "must be one of system, user, assistant"}
		}
		n := utf8.RuneCountInString(m.Content)
		if n < 1 || n > MaxContentLength {
			return req, &ValidationError{Field: field + ".content", Reason: fmt.Sprintf("length must be within 1..%d", MaxContentLength)}
		}
	}
	if req.Latest().Role != domain.UserRole {
		return req, &ValidationError{Field: "messages", Reason: "last message must come from the user"}
	}

	if req.MaxTokens == nil {
		n := s.defaults.MaxTokens
		req.MaxTokens = &n
	}
	if *req.MaxTokens < 1 || *req.MaxTokens > MaxTokensCeiling {
		return req, &ValidationError{Field: "max_tokens", Reason: fmt.Sprintf("must be within 1..%d", MaxTokensCeiling)}
	}
	if req.Temperature == nil {
		t := s.defaults.Temperature
		req.Temperature = &t
	}
	if *req.Temperature < 0 || *req.Temperature > MaxTemperature {
		return req, &ValidationError{Field: "temperature", Reason: "must be within 0..2"}
	}
	return req, nil
}

// UpstreamMessages builds the prompt sent upstream: the system prompt, the
// most recent HistoryWindow prior turns, then the current user turn.
// Caller-supplied system messages in the history are dropped in favour of the
// configured prompt.
func (s *ChatService) UpstreamMessages(req domain.ChatRequest) []domain.ChatMessage {
	history := lo.Filter(req.History(), func(m domain.ChatMessage, _ int) bool {
		return m.Role != domain.SystemRole
	})
	if w := s.defaults.HistoryWindow; len(history) > w {
		history = history[len(history)-w:]
	}

	msgs := make([]domain.ChatMessage, 0, len(history)+2)
	if s.defaults.SystemPrompt != "" {
		msgs = append(msgs, domain.ChatMessage{Role: domain.SystemRole, Content: s.defaults.SystemPrompt})
	}
	msgs = append(msgs, history...)
	return append(msgs, req.Latest())
}

// Stream opens the upstream completion for an already validated request.
func (s *ChatService) Stream(ctx context.Context, req domain.ChatRequest) (domain.DeltaStream, error) {
	start := time.Now()
	stream, err := s.llm.Stream(ctx, domain.CompletionRequest{
		Messages:    s.UpstreamMessages(req),
		MaxTokens:   *req.MaxTokens,
		Temperature: *req.Temperature,
	})
	if err != nil {
		recordUpstreamError(err)
		log.WithCtx(ctx).Error("Upstream completion failed", zap.Error(err))
		return nil, err
	}
	return &timedStream{DeltaStream: stream, start: start}, nil
}

// Complete aggregates the whole stream. The text equals the concatenation of
// the fragments Stream would have produced; TokensUsed counts fragments.
func (s *ChatService) Complete(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	stream, err := s.Stream(ctx, req)
	if err != nil {
		return domain.ChatResponse{}, err
	}
	defer stream.Close()

	var b strings.Builder
	parts := 0
	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			recordUpstreamError(err)
			log.WithCtx(ctx).Error("Upstream stream failed", zap.Error(err), zap.Int("fragments", parts))
			return domain.ChatResponse{}, err
		}
		b.WriteString(delta)
		parts++
	}

	return domain.ChatResponse{
		Response:   b.String(),
		Model:      s.llm.Model(),
		TokensUsed: parts,
	}, nil
}

// timedStream observes the latency of the first fragment.
type timedStream struct {
	domain.DeltaStream
	start    time.Time
	observed bool
}

func (t *timedStream) Recv() (string, error) {
	d, err := t.DeltaStream.Recv()
	if !t.observed {
		t.observed = true
		metrics.UpstreamLatency.Observe(time.Since(t.start).Seconds())
	}
	return d, err
}

func recordUpstreamError(err error) {
	switch {
	case errors.Is(err, context.Canceled):
		metrics.UpstreamErrors.WithLabelValues("canceled").Inc()
	case errors.Is(err, domain.ErrUpstreamTimeout):
		metrics.UpstreamErrors.WithLabelValues("timeout").Inc()
	default:
		metrics.UpstreamErrors.WithLabelValues("error").Inc()
	}
}
