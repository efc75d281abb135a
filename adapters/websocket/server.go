package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/waqar741/EchoAI/domain"
	"github.com/waqar741/EchoAI/usecase"
	"github.com/waqar741/EchoAI/utils/log"
	"github.com/waqar741/EchoAI/utils/metrics"
)

// Frame is every message the server writes to a websocket client.
type Frame struct {
	Type       string `json:"type"` // delta, done or error
	Delta      string `json:"delta,omitempty"`
	Response   string `json:"response,omitempty"`
	Model      string `json:"model,omitempty"`
	TokensUsed int    `json:"tokens_used,omitempty"`
	Error      string `json:"error,omitempty"`
	Code       int    `json:"code,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

type Server struct {
	upgrader    websocket.Upgrader
	chatService *usecase.ChatService
	guard       *usecase.AccessGuard
	hub         *Hub
}

// NewServer builds the websocket chat transport. allowOrigin decides which
// browser origins may connect.
func NewServer(chatService *usecase.ChatService, guard *usecase.AccessGuard, allowOrigin func(origin string) bool) *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowOrigin == nil || allowOrigin(origin)
			},
		},
		chatService: chatService,
		guard:       guard,
		hub:         NewHub(),
	}
}

func (s *Server) RunWebsocketHub() {
	s.hub.Run()
}

func (s *Server) GetHub() *Hub {
	return s.hub
}

// conversation serialises the requests of one client: a new request
// cancels the one in flight, and frames of consecutive requests never
// interleave.
type conversation struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *Server) onMessage(conv *conversation) func(c *Client, message []byte) {
	return func(c *Client, message []byte) {
		var req domain.ChatRequest
		if err := json.Unmarshal(message, &req); err != nil {
			s.sendFrame(c, Frame{Type: "error", Error: "malformed request: " + err.Error(), Code: http.StatusBadRequest})
			return
		}

		if _, err := s.guard.Admit(c.Context(), c.ClientIP()); err != nil {
			frame := Frame{Type: "error", Error: err.Error(), Code: http.StatusTooManyRequests}
			var rlErr *usecase.RateLimitError
			if errors.As(err, &rlErr) {
				frame.RetryAfter = int(math.Ceil(rlErr.RetryAfter.Seconds()))
			}
			s.sendFrame(c, frame)
			return
		}

		req, err := s.chatService.Validate(req)
		if err != nil {
			s.sendFrame(c, Frame{Type: "error", Error: err.Error(), Code: http.StatusUnprocessableEntity})
			return
		}

		conv.mu.Lock()
		if conv.cancel != nil {
			conv.cancel()
		}
		prev := conv.done
		ctx, cancel := context.WithCancel(c.Context())
		done := make(chan struct{})
		conv.cancel, conv.done = cancel, done
		conv.mu.Unlock()

		go func() {
			defer close(done)
			defer cancel()
			if prev != nil {
				<-prev
			}
			s.relay(ctx, c, req)
		}()
	}
}

func (s *Server) relay(ctx context.Context, c *Client, req domain.ChatRequest) {
	stream, err := s.chatService.Stream(ctx, req)
	if err != nil {
		if ctx.Err() == nil {
			s.sendFrame(c, upstreamErrorFrame(err))
		}
		return
	}
	defer stream.Close()

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	var full []byte
	parts := 0
	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			s.sendFrame(c, Frame{Type: "done", Response: string(full), Model: s.chatService.Model(), TokensUsed: parts})
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				log.WithCtx(ctx).Error("Websocket stream failed", zap.Error(err))
				s.sendFrame(c, upstreamErrorFrame(err))
			}
			return
		}
		full = append(full, delta...)
		parts++
		s.sendFrame(c, Frame{Type: "delta", Delta: delta})
	}
}

func upstreamErrorFrame(err error) Frame {
	if errors.Is(err, domain.ErrUpstreamTimeout) {
		return Frame{Type: "error", Error: "LLM service timed out. Please try again.", Code: http.StatusGatewayTimeout}
	}
	return Frame{Type: "error", Error: "LLM service error", Code: http.StatusBadGateway}
}

func (s *Server) sendFrame(c *Client, frame Frame) {
	b, err := json.Marshal(frame)
	if err != nil {
		log.WithCtx(c.Context()).Error("Failed to marshal frame", zap.Error(err))
		return
	}
	if err := c.SendMessage(b); err != nil {
		log.WithCtx(c.Context()).Debug("Dropped frame for closed client", zap.String("type", frame.Type))
	}
}
