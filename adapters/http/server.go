package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/waqar741/EchoAI/adapters/websocket"
	"github.com/waqar741/EchoAI/utils/log"
	"github.com/waqar741/EchoAI/utils/metrics"
)

type ServerConfig struct {
	CORSOrigins []string
	TrustProxy  bool
	BodyLimit   string
}

// AllowOrigin reports whether origin is on the CORS allow-list.
func (cfg ServerConfig) AllowOrigin(origin string) bool {
	return lo.Contains(cfg.CORSOrigins, "*") || lo.Contains(cfg.CORSOrigins, origin)
}

func isStreamingRoute(c echo.Context) bool {
	return strings.HasSuffix(c.Path(), "/stream") || strings.HasSuffix(c.Path(), "/ws")
}

// NewServer assembles the relay: middleware, chat routes, health and metrics.
func NewServer(cfg ServerConfig, chat *ChatHandler, ws *websocket.Server) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = SonicSerializer{}
	e.HTTPErrorHandler = ErrorHandler
	if cfg.TrustProxy {
		e.IPExtractor = echo.ExtractIPFromXFFHeader()
	} else {
		e.IPExtractor = echo.ExtractIPDirect()
	}
	if cfg.BodyLimit == "" {
		cfg.BodyLimit = "64K"
	}

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(requestContext)
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogError:     true,
		HandleError:  true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			log.WithCtx(c.Request().Context()).Info("request", fields...)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.Secure())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderAuthorization,
			HeaderAPIKey,
		},
		ExposeHeaders:    []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", echo.HeaderXRequestID},
		AllowCredentials: true,
		MaxAge:           86400,
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Skipper:   isStreamingRoute,
		MinLength: 500,
	}))
	e.Use(recordMetrics)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	api.GET("/health", chat.HealthCheck)
	api.POST("/auth/token", chat.IssueToken)

	chatGroup := api.Group("/chat")
	chatGroup.POST("", chat.Chat, chat.AuthMiddleware, chat.RateLimitMiddleware)
	chatGroup.POST("/stream", chat.ChatStream, chat.AuthMiddleware, chat.RateLimitMiddleware, chat.StreamLimitMiddleware)
	if ws != nil {
		chatGroup.GET("/ws", ws.Handler)
	}

	return e
}

// requestContext copies the request ID and client IP into the request
// context so log.WithCtx can attach them.
func requestContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		ctx = log.WithRequestID(ctx, c.Response().Header().Get(echo.HeaderXRequestID))
		ctx = log.WithClientIP(ctx, c.RealIP())
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

func recordMetrics(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)

		status := c.Response().Status
		if err != nil {
			status, _ = toHTTPError(err)
		}
		route := c.Path()
		if route == "" {
			route = "unmatched"
		}
		metrics.RequestCount.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).Inc()
		metrics.RequestDuration.WithLabelValues(c.Request().Method, route).Observe(time.Since(start).Seconds())
		return err
	}
}
