package http

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/waqar741/EchoAI/domain"
	"github.com/waqar741/EchoAI/usecase"
	"github.com/waqar741/EchoAI/utils/log"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// toHTTPError maps domain errors onto status codes. Upstream details are
// logged, never returned to the caller.
func toHTTPError(err error) (int, ErrorResponse) {
	var (
		httpErr  *echo.HTTPError
		valErr   *usecase.ValidationError
		rlErr    *usecase.RateLimitError
		upstream *domain.UpstreamStatusError
	)
	switch {
	case errors.As(err, &httpErr):
		return httpErr.Code, ErrorResponse{Error: fmt.Sprint(httpErr.Message)}
	case errors.As(err, &valErr):
		return http.StatusUnprocessableEntity, ErrorResponse{Error: valErr.Reason, Field: valErr.Field}
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error()}
	case errors.Is(err, domain.ErrAuthentication):
		return http.StatusUnauthorized, ErrorResponse{Error: "invalid or missing API key"}
	case errors.As(err, &rlErr):
		return http.StatusTooManyRequests, ErrorResponse{Error: rlErr.Error()}
	case errors.Is(err, domain.ErrUpstreamTimeout):
		return http.StatusGatewayTimeout, ErrorResponse{Error: "LLM service timed out. Please try again."}
	case errors.As(err, &upstream):
		return http.StatusBadGateway, ErrorResponse{Error: fmt.Sprintf("LLM returned %d", upstream.StatusCode)}
	case errors.Is(err, domain.ErrUpstream):
		return http.StatusBadGateway, ErrorResponse{Error: "LLM service error"}
	}
	return http.StatusInternalServerError, ErrorResponse{Error: "internal server error"}
}

// ErrorHandler renders every error as {"error": ...}.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	if errors.Is(err, context.Canceled) {
		log.WithCtx(c.Request().Context()).Debug("Client went away", zap.Error(err))
		return
	}

	code, body := toHTTPError(err)
	var rlErr *usecase.RateLimitError
	if errors.As(err, &rlErr) {
		c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(rlErr)))
	}
	if code >= http.StatusInternalServerError {
		log.WithCtx(c.Request().Context()).Error("Request failed", zap.Int("status", code), zap.Error(err))
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, body)
	}
	if err != nil {
		log.WithCtx(c.Request().Context()).Error("Failed to write error response", zap.Error(err))
	}
}

func retryAfterSeconds(e *usecase.RateLimitError) int {
	s := int(math.Ceil(e.RetryAfter.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}
