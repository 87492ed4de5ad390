package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-notify-engine/internal/models"
	appErrors "github.com/noah-isme/sma-notify-engine/pkg/errors"
)

const sessionTouchInterval = time.Minute

type sessionStore interface {
	LoadSession(ctx context.Context, username string) (*models.Session, error)
	SaveSession(ctx context.Context, session models.Session) error
}

// TokenConfig configures token verification.
type TokenConfig struct {
	Secret string
	Expiry time.Duration
	Issuer string
}

// TokenService verifies the bearer tokens that identify the acting user and
// keeps the per-user session record fresh.
type TokenService struct {
	config   TokenConfig
	sessions sessionStore
	logger   *zap.Logger
	now      func() time.Time
}

// NewTokenService constructs a TokenService. sessions may be nil.
func NewTokenService(config TokenConfig, sessions sessionStore, logger *zap.Logger) *TokenService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Expiry <= 0 {
		config.Expiry = 24 * time.Hour
	}
	return &TokenService{config: config, sessions: sessions, logger: logger, now: time.Now}
}

// IssueToken signs a token for the user. Production tokens come from the
// authentication layer; this serves tooling and tests.
func (s *TokenService) IssueToken(username string, role models.UserRole) (string, time.Time, error) {
	if strings.TrimSpace(username) == "" || !role.Valid() {
		return "", time.Time{}, appErrors.Clone(appErrors.ErrValidation, "username and a known role are required")
	}
	issuedAt := s.now().UTC()
	expiresAt := issuedAt.Add(s.config.Expiry)
	claims := &models.JWTClaims{
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.Secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateToken parses and validates an access token returning the claims.
func (s *TokenService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.Secret), nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid || claims.Username == "" || !claims.Role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}

	return claims, nil
}

// TouchSession records that the user was seen. Failures are logged only;
// a stale session record never blocks a request.
func (s *TokenService) TouchSession(ctx context.Context, claims *models.JWTClaims) {
	if s.sessions == nil || claims == nil {
		return
	}
	now := s.now().UTC()
	current, err := s.sessions.LoadSession(ctx, claims.Username)
	if err != nil {
		s.logger.Warn("session read failed", zap.String("username", claims.Username), zap.Error(err))
		return
	}
	if current != nil && current.Role == claims.Role && now.Sub(current.LastSeenAt) < sessionTouchInterval {
		return
	}
	session := models.Session{Username: claims.Username, Role: claims.Role, LastSeenAt: now}
	if err := s.sessions.SaveSession(ctx, session); err != nil {
		s.logger.Warn("session write failed", zap.String("username", claims.Username), zap.Error(err))
	}
}
