package usecase

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/waqar741/EchoAI/domain"
	"github.com/waqar741/EchoAI/utils/log"
	"github.com/waqar741/EchoAI/utils/metrics"
)

const tokenIssuer = "voice-avatar-relay"

// AccessConfig holds the relay's caller policies. An empty APIKey disables
// authentication; an empty JWTSecret disables bearer tokens.
type AccessConfig struct {
	APIKey    string
	JWTSecret string
	JWTExpiry time.Duration
}

// AccessGuard authenticates callers and charges their rate-limit budget.
// Transports (HTTP middleware, websocket frames) share one guard.
type AccessGuard struct {
	cfg    AccessConfig
	store  domain.RateLimitStore
	hasher domain.Hasher
	now    func() time.Time
}

func NewAccessGuard(cfg AccessConfig, store domain.RateLimitStore, hasher domain.Hasher) *AccessGuard {
	if cfg.JWTExpiry <= 0 {
		cfg.JWTExpiry = time.Hour
	}
	return &AccessGuard{cfg: cfg, store: store, hasher: hasher, now: time.Now}
}

// AuthRequired reports whether callers must present a credential.
func (g *AccessGuard) AuthRequired() bool { return g.cfg.APIKey != "" }

// TokensEnabled reports whether API keys can be exchanged for bearer tokens.
func (g *AccessGuard) TokensEnabled() bool { return g.cfg.APIKey != "" && g.cfg.JWTSecret != "" }

type TokenClaims struct {
	ClientIP string `json:"client_ip,omitempty"`
	jwt.RegisteredClaims
}

// Authenticate accepts either the configured API key or a bearer token
// issued by IssueToken. It never consults the rate limiter.
func (g *AccessGuard) Authenticate(apiKey, bearer string) error {
	if !g.AuthRequired() {
		return nil
	}
	if apiKey != "" {
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(g.cfg.APIKey)) == 1 {
			return nil
		}
		metrics.AuthFailures.Inc()
		return fmt.Errorf("%w: invalid API key", domain.ErrAuthentication)
	}
	if bearer != "" && g.cfg.JWTSecret != "" {
		if err := g.verifyToken(bearer); err != nil {
			metrics.AuthFailures.Inc()
			return fmt.Errorf("%w: %v", domain.ErrAuthentication, err)
		}
		return nil
	}
	metrics.AuthFailures.Inc()
	return fmt.Errorf("%w: missing credentials", domain.ErrAuthentication)
}

// IssueToken exchanges a valid API key for a signed HS256 token.
func (g *AccessGuard) IssueToken(apiKey, clientIP string) (string, time.Time, error) {
	if !g.TokensEnabled() {
		return "", time.Time{}, errors.New("token issuing is disabled")
	}
	if subtle.ConstantTimeCompare([]byte(apiKey), []byte(g.cfg.APIKey)) != 1 {
		metrics.AuthFailures.Inc()
		return "", time.Time{}, fmt.Errorf("%w: invalid API key", domain.ErrAuthentication)
	}

	now := g.now()
	expires := now.Add(g.cfg.JWTExpiry)
	claims := &TokenClaims{
		ClientIP: clientIP,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   "chat",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(g.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return signed, expires, nil
}

func (g *AccessGuard) verifyToken(raw string) error {
	token, err := jwt.ParseWithClaims(raw, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(g.cfg.JWTSecret), nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithTimeFunc(g.now))
	if err != nil {
		return err
	}
	if !token.Valid {
		return errors.New("invalid token")
	}
	return nil
}

// RateLimitError is returned by Admit when the caller's budget is spent.
type RateLimitError struct {
	Decision   domain.RateLimitDecision
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit of %d requests exceeded, retry in %s", e.Decision.Limit, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error { return domain.ErrRateLimited }

// Admit charges one request to the caller's IP. When the counter store
// fails the request is admitted.
func (g *AccessGuard) Admit(ctx context.Context, clientIP string) (domain.RateLimitDecision, error) {
	key := g.hasher.Hash([]byte(clientIP))
	decision, err := g.store.Take(ctx, key)
	if err != nil {
		log.WithCtx(ctx).Warn("Rate limit store unavailable, admitting request", zap.Error(err))
		return domain.RateLimitDecision{Allowed: true}, nil
	}
	if !decision.Allowed {
		metrics.RateLimited.Inc()
		return decision, &RateLimitError{Decision: decision, RetryAfter: decision.RetryAfter(g.now())}
	}
	return decision, nil
}
