package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	httpadapter "github.com/waqar741/EchoAI/adapters/http"
	"github.com/waqar741/EchoAI/adapters/hasher"
	"github.com/waqar741/EchoAI/adapters/llm"
	"github.com/waqar741/EchoAI/adapters/ratelimit"
	"github.com/waqar741/EchoAI/adapters/websocket"
	"github.com/waqar741/EchoAI/domain"
	"github.com/waqar741/EchoAI/usecase"
	"github.com/waqar741/EchoAI/utils/config"
	"github.com/waqar741/EchoAI/utils/log"
)

func main() {
	_ = gotenv.Load()
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	upstream, err := newLlm(ctx, cfg.LLM)
	if err != nil {
		log.Fatal("Failed to create LLM client", zap.Error(err))
	}
	defer upstream.Close()

	store, closeStore := newRateLimitStore(cfg)
	defer closeStore()

	svc := usecase.NewChatService(upstream, usecase.ChatDefaults{
		MaxTokens:     cfg.LLM.MaxTokens,
		Temperature:   cfg.LLM.Temperature,
		SystemPrompt:  cfg.LLM.SystemPrompt,
		HistoryWindow: cfg.LLM.HistoryWindow,
	})
	guard := usecase.NewAccessGuard(usecase.AccessConfig{
		APIKey:    cfg.Security.APIKey,
		JWTSecret: cfg.Security.JWTSecret,
		JWTExpiry: cfg.Security.JWTExpiry,
	}, store, hasher.New(cfg.Security.JWTSecret))

	serverCfg := httpadapter.ServerConfig{
		CORSOrigins: cfg.Server.CORSOrigins,
		TrustProxy:  cfg.Server.TrustProxy,
	}
	ws := websocket.NewServer(svc, guard, serverCfg.AllowOrigin)
	ws.RunWebsocketHub()

	e := httpadapter.NewServer(serverCfg, httpadapter.NewChatHandler(svc, guard, cfg.Server.MaxConcurrentStreams), ws)

	if !guard.AuthRequired() {
		log.Warn("API_KEY is not set; the relay accepts unauthenticated requests")
	}
	log.Info("Starting relay",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("provider", cfg.LLM.Provider),
		zap.String("model", upstream.Model()),
		zap.Strings("cors_origins", cfg.Server.CORSOrigins),
		zap.Stringer("rate_limit", cfg.Security.RateLimit),
	)

	go func() {
		if err := e.Start(cfg.Server.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	ws.GetHub().Shutdown()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("Graceful shutdown failed", zap.Error(err))
	}
}

func newLlm(ctx context.Context, cfg config.LLMConfig) (domain.Llm, error) {
	if cfg.Provider == "gemini" {
		httpClient, transport := llm.NewPooledHTTPClient(cfg.Timeout, cfg.InsecureSkipVerify)
		return llm.NewGeminiClient(ctx, llm.GeminiConfig{
			APIKey:     cfg.GeminiAPIKey,
			Model:      cfg.Model,
			HTTPClient: httpClient,
			Transport:  transport,
			Timeout:    cfg.Timeout,
		})
	}
	return llm.NewOpenAIClient(llm.OpenAIConfig{
		BaseURL:            cfg.APIURL,
		APIKey:             cfg.APIKey,
		Model:              cfg.Model,
		Timeout:            cfg.Timeout,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}), nil
}

// newRateLimitStore shares counters through Redis when REDIS_ADDR is set and
// falls back to process memory otherwise.
func newRateLimitStore(cfg config.Config) (domain.RateLimitStore, func()) {
	rl := cfg.Security.RateLimit
	if cfg.Redis.Addr != "" {
		rdb, err := ratelimit.NewRedisClient(ratelimit.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err == nil {
			log.Info("Using Redis rate limit store", zap.String("addr", cfg.Redis.Addr))
			return ratelimit.NewRedisStore(rdb, rl.Requests, rl.Window, "relay:ratelimit:"), func() { _ = rdb.Close() }
		}
		log.Error("Redis unavailable, using in-memory rate limit store", zap.Error(err))
	}
	store := ratelimit.NewMemoryStore(rl.Requests, rl.Window, nil)
	return store, func() { _ = store.Close() }
}
