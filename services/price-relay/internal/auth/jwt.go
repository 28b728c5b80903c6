// services/price-relay/internal/auth/jwt.go

// Package auth проверяет bearer-токен, с которым браузер открывает WebSocket.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized — токен отсутствует или недействителен.
var ErrUnauthorized = errors.New("unauthorized")

// CloseUnauthorized — нестандартный код закрытия WebSocket при провале аутентификации.
const CloseUnauthorized = 4001

// Config задаёт параметры проверки HS256-токенов.
type Config struct {
	Enabled  bool          `mapstructure:"enabled"`
	Secret   string        `mapstructure:"secret" json:"-"`
	Issuer   string        `mapstructure:"issuer"`
	Audience string        `mapstructure:"audience"`
	Leeway   time.Duration `mapstructure:"leeway"`
}

// Validate проверяет, что при включённой аутентификации задан секрет.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Secret) < 16 {
		return fmt.Errorf("auth: secret must be at least 16 bytes when auth is enabled")
	}
	if c.Leeway < 0 {
		return fmt.Errorf("auth: leeway must be >= 0")
	}
	return nil
}

// Claims — полезная нагрузка access-токена.
type Claims struct {
	Username string   `json:"username,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Identity — аутентифицированный пользователь соединения.
type Identity struct {
	UserID   string
	Username string
	Roles    []string
}

// Anonymous возвращается, когда аутентификация выключена.
var Anonymous = Identity{UserID: "anonymous"}

// Verifier проверяет токены.
type Verifier struct {
	cfg    Config
	parser *jwt.Parser
}

// NewVerifier создаёт Verifier по конфигурации.
func NewVerifier(cfg Config) (*Verifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &Verifier{cfg: cfg, parser: jwt.NewParser(opts...)}, nil
}

// Enabled сообщает, требуется ли токен.
func (v *Verifier) Enabled() bool { return v.cfg.Enabled }

// Verify разбирает токен и возвращает пользователя. Все ошибки оборачивают ErrUnauthorized.
func (v *Verifier) Verify(raw string) (Identity, error) {
	if !v.cfg.Enabled {
		return Anonymous, nil
	}
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
	if raw == "" {
		return Identity{}, fmt.Errorf("%w: missing token", ErrUnauthorized)
	}

	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(v.cfg.Secret), nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !token.Valid {
		return Identity{}, fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", ErrUnauthorized)
	}
	return Identity{UserID: claims.Subject, Username: claims.Username, Roles: claims.Roles}, nil
}

// Issue подписывает токен для пользователя; используется в тестах и для отладки.
func Issue(cfg Config, userID string, ttl time.Duration, roles ...string) (string, error) {
	now := time.Now()
	claims := Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
}
