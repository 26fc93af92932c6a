// Package service holds the ledger business logic. AuthService issues and
// verifies principal tokens for the operator console and for seller sessions
// brokered by the marketplace.
package service

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"github.com/boddenberg/pix-marketplace-ledger-go/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var authTracer = otel.Tracer("service/auth")

const (
	maxFailedAttempts = 5
	lockDuration      = 15 * time.Minute
	tokenIssuer       = "pix-ledger"
)

// AuthService orchestrates authentication flows.
type AuthService struct {
	jwtSecret         []byte
	accessTTL         time.Duration
	adminLogin        string
	adminPasswordHash []byte
	logger            *zap.Logger

	mu          sync.Mutex
	failures    int
	lockedUntil time.Time
	now         func() time.Time
}

// NewAuthService creates a new auth service. An empty adminPasswordHash
// disables operator login.
func NewAuthService(jwtSecret string, accessTTL time.Duration, adminLogin, adminPasswordHash string, logger *zap.Logger) *AuthService {
	return &AuthService{
		jwtSecret:         []byte(jwtSecret),
		accessTTL:         accessTTL,
		adminLogin:        adminLogin,
		adminPasswordHash: []byte(adminPasswordHash),
		logger:            logger,
		now:               time.Now,
	}
}

// ============================================================
// Login: POST /v1/auth/login
// ============================================================

// Login checks operator credentials against the configured bcrypt hash and
// returns an admin token. Repeated failures lock the login for a while.
func (s *AuthService) Login(ctx context.Context, req *domain.LoginRequest) (*domain.TokenResponse, error) {
	_, span := authTracer.Start(ctx, "AuthService.Login")
	defer span.End()
	span.SetAttributes(attribute.String("login", req.Login))

	if len(s.adminPasswordHash) == 0 {
		return nil, &domain.ErrUnauthorized{Message: "Login de operador desabilitado"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lockedUntil.After(s.now()) {
		remaining := s.lockedUntil.Sub(s.now()).Minutes()
		s.logger.Warn("login: temporarily locked", zap.Float64("remaining_minutes", remaining))
		return nil, &domain.ErrUnauthorized{
			Message: fmt.Sprintf("Login temporariamente bloqueado. Tente novamente em %.0f minutos", remaining),
		}
	}

	loginOK := subtle.ConstantTimeCompare([]byte(req.Login), []byte(s.adminLogin)) == 1
	passErr := bcrypt.CompareHashAndPassword(s.adminPasswordHash, []byte(req.Password))
	if !loginOK || passErr != nil {
		s.failures++
		if s.failures >= maxFailedAttempts {
			s.lockedUntil = s.now().Add(lockDuration)
			s.failures = 0
			s.logger.Warn("login: locked after max attempts",
				zap.Int("attempts", maxFailedAttempts),
				zap.Duration("lock_duration", lockDuration),
			)
		} else {
			s.logger.Warn("login: failed attempt", zap.Int("attempts", s.failures), zap.Int("max", maxFailedAttempts))
		}
		return nil, &domain.ErrUnauthorized{Message: "Credenciais inválidas"}
	}
	s.failures = 0

	resp, err := s.IssueToken(domain.Principal{Subject: s.adminLogin, Role: domain.RoleAdmin})
	if err != nil {
		return nil, err
	}
	s.logger.Info("operator logged in", zap.String("login", s.adminLogin))
	return resp, nil
}

// ============================================================
// Tokens
// ============================================================

// JWTClaims represents the custom claims in access tokens.
type JWTClaims struct {
	Role string `json:"role"`
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// IssueToken signs an access token for p.
func (s *AuthService) IssueToken(p domain.Principal) (*domain.TokenResponse, error) {
	if p.Subject == "" {
		return nil, &domain.ErrValidation{Field: "subject", Message: "required"}
	}
	if p.Role != domain.RoleAdmin && p.Role != domain.RoleSeller {
		return nil, &domain.ErrValidation{Field: "role", Message: fmt.Sprintf("unknown role '%s'", p.Role)}
	}
	now := s.now()
	claims := JWTClaims{
		Role: string(p.Role),
		Type: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			Issuer:    tokenIssuer,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	return &domain.TokenResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.accessTTL.Seconds()),
		Subject:     p.Subject,
		Role:        p.Role,
	}, nil
}

// ValidateAccessToken verifies the token and returns the principal it names.
func (s *AuthService) ValidateAccessToken(tokenString string) (*domain.Principal, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, &domain.ErrUnauthorized{Message: "Token inválido ou expirado"}
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, &domain.ErrUnauthorized{Message: "Token inválido"}
	}
	if claims.Type != "access" {
		return nil, &domain.ErrUnauthorized{Message: "Tipo de token inválido"}
	}

	role := domain.Role(claims.Role)
	if claims.Subject == "" || (role != domain.RoleAdmin && role != domain.RoleSeller) {
		return nil, &domain.ErrUnauthorized{Message: "Token sem identidade válida"}
	}
	return &domain.Principal{Subject: claims.Subject, Role: role}, nil
}
