package websocket

import (
	"context"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/waqar741/EchoAI/utils/log"
)

// Handler serves "/api/chat/ws". Browsers cannot set headers on a websocket
// handshake, so the API key and bearer token are also read from the
// api_key and token query parameters.
func (s *Server) Handler(c echo.Context) error {
	apiKey := c.Request().Header.Get("X-API-Key")
	if apiKey == "" {
		apiKey = c.QueryParam("api_key")
	}
	bearer := strings.TrimPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer ")
	if bearer == c.Request().Header.Get(echo.HeaderAuthorization) {
		bearer = c.QueryParam("token")
	}
	if err := s.guard.Authenticate(apiKey, bearer); err != nil {
		log.WithCtx(c.Request().Context()).Info("Rejected websocket handshake", zap.Error(err))
		return err
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	// The request context ends with the handler; the connection outlives it.
	ctx := context.WithoutCancel(c.Request().Context())
	client := NewClient(ctx, conn, c.RealIP())
	s.hub.Register(client)
	defer s.hub.Unregister(client)

	client.Run(s.onMessage(&conversation{}))

	// Wait for the client context to be done (connection closed)
	<-client.Context().Done()

	return nil
}
