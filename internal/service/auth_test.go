package service_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/boddenberg/pix-marketplace-ledger-go/internal/domain"
	"github.com/boddenberg/pix-marketplace-ledger-go/internal/service"
)

const testSecret = "test-secret-with-enough-entropy"

func newAuth(t *testing.T) *service.AuthService {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3nha-forte"), bcrypt.MinCost)
	require.NoError(t, err)
	return service.NewAuthService(testSecret, 15*time.Minute, "ops", string(hash), zap.NewNop())
}

func TestAuth_LoginIssuesAdminToken(t *testing.T) {
	auth := newAuth(t)

	resp, err := auth.Login(context.Background(), &domain.LoginRequest{Login: "ops", Password: "s3nha-forte"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, int64(900), resp.ExpiresIn)

	p, err := auth.ValidateAccessToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "ops", p.Subject)
	assert.True(t, p.IsAdmin())
}

func TestAuth_LoginLocksAfterRepeatedFailures(t *testing.T) {
	auth := newAuth(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := auth.Login(ctx, &domain.LoginRequest{Login: "ops", Password: "errada"})
		var unauth *domain.ErrUnauthorized
		require.ErrorAs(t, err, &unauth)
	}

	_, err := auth.Login(ctx, &domain.LoginRequest{Login: "ops", Password: "s3nha-forte"})
	var unauth *domain.ErrUnauthorized
	require.ErrorAs(t, err, &unauth)
	assert.True(t, strings.HasPrefix(unauth.Message, "Login temporariamente bloqueado"), unauth.Message)
}

func TestAuth_LoginDisabledWithoutHash(t *testing.T) {
	auth := service.NewAuthService(testSecret, time.Minute, "ops", "", zap.NewNop())

	_, err := auth.Login(context.Background(), &domain.LoginRequest{Login: "ops", Password: "x"})
	var unauth *domain.ErrUnauthorized
	require.ErrorAs(t, err, &unauth)
}

func TestAuth_SellerToken(t *testing.T) {
	auth := newAuth(t)

	resp, err := auth.IssueToken(domain.Principal{Subject: sellerID, Role: domain.RoleSeller})
	require.NoError(t, err)

	p, err := auth.ValidateAccessToken(resp.AccessToken)
	require.NoError(t, err)
	assert.False(t, p.IsAdmin())
	assert.True(t, p.CanActFor(sellerID))
	assert.False(t, p.CanActFor(otherSeller))

	_, err = auth.IssueToken(domain.Principal{Subject: sellerID, Role: "root"})
	var validation *domain.ErrValidation
	require.ErrorAs(t, err, &validation)
}

func TestAuth_RejectsForeignTokens(t *testing.T) {
	auth := newAuth(t)

	tests := []struct {
		name   string
		secret string
		claims service.JWTClaims
	}{
		{
			name:   "wrong secret",
			secret: "another-secret",
			claims: service.JWTClaims{Role: "admin", Type: "access", RegisteredClaims: jwt.RegisteredClaims{
				Subject: "ops", Issuer: "pix-ledger", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			}},
		},
		{
			name:   "expired",
			secret: testSecret,
			claims: service.JWTClaims{Role: "admin", Type: "access", RegisteredClaims: jwt.RegisteredClaims{
				Subject: "ops", Issuer: "pix-ledger", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			}},
		},
		{
			name:   "refresh type",
			secret: testSecret,
			claims: service.JWTClaims{Role: "admin", Type: "refresh", RegisteredClaims: jwt.RegisteredClaims{
				Subject: "ops", Issuer: "pix-ledger", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			}},
		},
		{
			name:   "unknown role",
			secret: testSecret,
			claims: service.JWTClaims{Role: "owner", Type: "access", RegisteredClaims: jwt.RegisteredClaims{
				Subject: "ops", Issuer: "pix-ledger", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tt.claims).SignedString([]byte(tt.secret))
			require.NoError(t, err)

			_, err = auth.ValidateAccessToken(signed)
			var unauth *domain.ErrUnauthorized
			require.ErrorAs(t, err, &unauth)
		})
	}
}
