package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/waqar741/EchoAI/domain"
	"github.com/waqar741/EchoAI/usecase"
	"github.com/waqar741/EchoAI/utils/log"
	"github.com/waqar741/EchoAI/utils/metrics"
)

const HeaderAPIKey = "X-API-Key"

type ChatHandler struct {
	chatService *usecase.ChatService
	guard       *usecase.AccessGuard
	streams     chan struct{}
}

type TokenResponse struct {
	Token     string    `json:"token"`
	Type      string    `json:"type"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewChatHandler wires the chat routes. maxStreams bounds how many streaming
// responses may be open at once; zero means unbounded.
func NewChatHandler(chatService *usecase.ChatService, guard *usecase.AccessGuard, maxStreams int) *ChatHandler {
	h := &ChatHandler{
		chatService: chatService,
		guard:       guard,
	}
	if maxStreams > 0 {
		h.streams = make(chan struct{}, maxStreams)
	}
	return h
}

func (h *ChatHandler) bindRequest(c echo.Context) (domain.ChatRequest, error) {
	var req domain.ChatRequest
	if err := c.Bind(&req); err != nil {
		return req, err
	}
	return h.chatService.Validate(req)
}

// Chat returns the full aggregated reply.
func (h *ChatHandler) Chat(c echo.Context) error {
	req, err := h.bindRequest(c)
	if err != nil {
		return err
	}

	resp, err := h.chatService.Complete(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// ChatStream relays upstream fragments as server-sent events. Upstream
// failures before the first byte become a normal error response; later
// failures end the stream with an error event and no [DONE] marker.
func (h *ChatHandler) ChatStream(c echo.Context) error {
	req, err := h.bindRequest(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	stream, err := h.chatService.Stream(ctx, req)
	if err != nil {
		return err
	}
	defer stream.Close()

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	sse := NewEventWriter(c.Response())
	sse.WriteHeader()

	fragments := 0
	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			log.WithCtx(ctx).Debug("Stream completed", zap.Int("fragments", fragments))
			return sse.Done()
		}
		if err != nil {
			if ctx.Err() != nil {
				log.WithCtx(ctx).Debug("Client closed stream", zap.Int("fragments", fragments))
				return nil
			}
			log.WithCtx(ctx).Error("Streaming failed", zap.Error(err), zap.Int("fragments", fragments))
			_, body := toHTTPError(err)
			return sse.Error(body.Error)
		}
		if err := sse.Delta(delta); err != nil {
			log.WithCtx(ctx).Debug("Failed to write fragment", zap.Error(err))
			return nil
		}
		fragments++
	}
}

// HealthCheck is a lightweight liveness probe.
func (h *ChatHandler) HealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"service":   "voice-avatar-relay",
	})
}

// IssueToken exchanges the API key for a bearer token.
func (h *ChatHandler) IssueToken(c echo.Context) error {
	if !h.guard.TokensEnabled() {
		return echo.NewHTTPError(http.StatusNotFound, "token issuing is disabled")
	}
	token, expires, err := h.guard.IssueToken(c.Request().Header.Get(HeaderAPIKey), c.RealIP())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, TokenResponse{Token: token, Type: "Bearer", ExpiresAt: expires})
}

// AuthMiddleware rejects requests without a valid API key or bearer token
// before any other work is done.
func (h *ChatHandler) AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header
		bearer := strings.TrimPrefix(header.Get(echo.HeaderAuthorization), "Bearer ")
		if bearer == header.Get(echo.HeaderAuthorization) {
			bearer = ""
		}
		if err := h.guard.Authenticate(header.Get(HeaderAPIKey), bearer); err != nil {
			log.WithCtx(c.Request().Context()).Info("Rejected unauthenticated request", zap.Error(err))
			return err
		}
		return next(c)
	}
}

// RateLimitMiddleware charges one request against the caller IP's budget.
func (h *ChatHandler) RateLimitMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		decision, err := h.guard.Admit(c.Request().Context(), c.RealIP())
		if decision.Limit > 0 {
			c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			c.Response().Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		}
		if err != nil {
			log.WithCtx(c.Request().Context()).Info("Rate limit exceeded", zap.Error(err))
			return err
		}
		return next(c)
	}
}

// StreamLimitMiddleware bounds concurrently open streams.
func (h *ChatHandler) StreamLimitMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.streams == nil {
			return next(c)
		}
		select {
		case h.streams <- struct{}{}:
			defer func() { <-h.streams }()
			return next(c)
		default:
			return echo.NewHTTPError(http.StatusServiceUnavailable, "Too many concurrent streams")
		}
	}
}
