// Package config reads relay and client settings from the environment.
//
// Values come from process environment variables, optionally seeded from a
// .env file by the binaries before Load is called.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	LLM      LLMConfig
	Security SecurityConfig
	Redis    RedisConfig
	Debug    bool
}

type ServerConfig struct {
	Host                 string
	Port                 int
	CORSOrigins          []string
	TrustProxy           bool
	MaxConcurrentStreams int
	ShutdownTimeout      time.Duration
}

// Addr is the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LLMConfig struct {
	Provider           string // openai or gemini
	APIURL             string
	APIKey             string
	Model              string
	MaxTokens          int
	Temperature        float64
	SystemPrompt       string
	HistoryWindow      int
	Timeout            time.Duration
	InsecureSkipVerify bool
	GeminiAPIKey       string
}

type SecurityConfig struct {
	APIKey    string
	JWTSecret string
	JWTExpiry time.Duration
	RateLimit RateLimit
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RateLimit is a request budget per fixed window.
type RateLimit struct {
	Requests int
	Window   time.Duration
}

func (r RateLimit) String() string {
	return fmt.Sprintf("%d/%s", r.Requests, r.Window)
}

const defaultSystemPrompt = "You are a helpful voice assistant. Keep responses concise " +
	"(1-2 sentences max) for natural conversation. Be friendly and direct."

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("LLM_PROVIDER", "openai")
	v.SetDefault("LLM_MODEL", "Qwen2.5-1.5B-Instruct")
	v.SetDefault("LLM_MAX_TOKENS", 150)
	v.SetDefault("LLM_TEMPERATURE", 0.7)
	v.SetDefault("LLM_SYSTEM_PROMPT", defaultSystemPrompt)
	v.SetDefault("LLM_HISTORY_WINDOW", 6)
	v.SetDefault("LLM_TIMEOUT", "120s")
	v.SetDefault("HOST", "127.0.0.1")
	v.SetDefault("PORT", 8000)
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173,http://localhost:3000")
	v.SetDefault("RATE_LIMIT", "30/minute")
	v.SetDefault("JWT_EXPIRY", "1h")
	v.SetDefault("SHUTDOWN_TIMEOUT", "10s")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("RELAY_URL", "http://127.0.0.1:8000")
	v.SetDefault("AVATAR_FPS", 12)
	v.SetDefault("AVATAR_ASSET", "")
	v.SetDefault("CLIENT_LOG_FILE", "voice-client.log")
	return v
}

// Load reads the relay configuration.
func Load() (Config, error) {
	v := newViper()

	rl, err := ParseRateLimit(v.GetString("RATE_LIMIT"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Host:                 v.GetString("HOST"),
			Port:                 v.GetInt("PORT"),
			CORSOrigins:          splitList(v.GetString("CORS_ORIGINS")),
			TrustProxy:           v.GetBool("TRUST_PROXY"),
			MaxConcurrentStreams: v.GetInt("MAX_CONCURRENT_STREAMS"),
			ShutdownTimeout:      v.GetDuration("SHUTDOWN_TIMEOUT"),
		},
		LLM: LLMConfig{
			Provider:           strings.ToLower(v.GetString("LLM_PROVIDER")),
			APIURL:             v.GetString("LLM_API_URL"),
			APIKey:             v.GetString("LLM_API_KEY"),
			Model:              v.GetString("LLM_MODEL"),
			MaxTokens:          v.GetInt("LLM_MAX_TOKENS"),
			Temperature:        v.GetFloat64("LLM_TEMPERATURE"),
			SystemPrompt:       v.GetString("LLM_SYSTEM_PROMPT"),
			HistoryWindow:      v.GetInt("LLM_HISTORY_WINDOW"),
			Timeout:            v.GetDuration("LLM_TIMEOUT"),
			InsecureSkipVerify: v.GetBool("LLM_INSECURE_SKIP_VERIFY"),
			GeminiAPIKey:       v.GetString("GEMINI_API_KEY"),
		},
		Security: SecurityConfig{
			APIKey:    v.GetString("API_KEY"),
			JWTSecret: v.GetString("JWT_SECRET"),
			JWTExpiry: v.GetDuration("JWT_EXPIRY"),
			RateLimit: rl,
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Debug: v.GetBool("DEBUG"),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.LLM.Provider {
	case "openai":
		if c.LLM.APIURL == "" {
			return fmt.Errorf("LLM_API_URL environment variable is required")
		}
	case "gemini":
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLM.Provider)
	}
	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 1024 {
		return fmt.Errorf("LLM_MAX_TOKENS must be within 1..1024, got %d", c.LLM.MaxTokens)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("LLM_TEMPERATURE must be within 0..2, got %v", c.LLM.Temperature)
	}
	if c.LLM.HistoryWindow < 0 {
		return fmt.Errorf("LLM_HISTORY_WINDOW must not be negative")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", c.Server.Port)
	}
	return nil
}

// ParseRateLimit parses budgets such as "30/minute", "5/second" or "100/hour".
// A bare number is read as requests per minute.
func ParseRateLimit(s string) (RateLimit, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	count, unit, found := strings.Cut(s, "/")
	if !found {
		unit = "minute"
	}
	n, err := strconv.Atoi(strings.TrimSpace(count))
	if err != nil || n <= 0 {
		return RateLimit{}, fmt.Errorf("invalid RATE_LIMIT %q", s)
	}

	var window time.Duration
	switch strings.TrimSpace(unit) {
	case "s", "sec", "second":
		window = time.Second
	case "m", "min", "minute":
		window = time.Minute
	case "h", "hour":
		window = time.Hour
	case "d", "day":
		window = 24 * time.Hour
	default:
		return RateLimit{}, fmt.Errorf("invalid RATE_LIMIT unit %q", unit)
	}
	return RateLimit{Requests: n, Window: window}, nil
}

// ClientConfig configures the voice client binary.
type ClientConfig struct {
	RelayURL       string
	RelayAPIKey    string
	AvatarManifest string
	AvatarAsset    string
	AvatarFPS      int
	LogFile        string
	Debug          bool
}

// LoadClient reads the voice client configuration.
func LoadClient() ClientConfig {
	v := newViper()
	fps := v.GetInt("AVATAR_FPS")
	if fps <= 0 {
		fps = 12
	}
	return ClientConfig{
		RelayURL:       strings.TrimRight(v.GetString("RELAY_URL"), "/"),
		RelayAPIKey:    v.GetString("RELAY_API_KEY"),
		AvatarManifest: v.GetString("AVATAR_MANIFEST"),
		AvatarAsset:    v.GetString("AVATAR_ASSET"),
		AvatarFPS:      fps,
		LogFile:        v.GetString("CLIENT_LOG_FILE"),
		Debug:          v.GetBool("DEBUG"),
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
