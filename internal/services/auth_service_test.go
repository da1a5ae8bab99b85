package services

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/glebrm/inspect-backend/internal/config"
	"github.com/glebrm/inspect-backend/internal/dto"
	"github.com/glebrm/inspect-backend/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newAuthService(t *testing.T) *AuthService {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.RefreshToken{}))

	cfg := &config.Config{
		JWTSecret:        "test-secret",
		JWTAccessExpiry:  15 * time.Minute,
		JWTRefreshExpiry: 24 * time.Hour,
	}
	return NewAuthService(db, cfg)
}

func register(t *testing.T, s *AuthService) *dto.AuthResponse {
	t.Helper()
	resp, err := s.Register(&dto.RegisterRequest{Email: "inspector@example.com", Password: "password123"})
	require.NoError(t, err)
	return resp
}

func TestRegister_IssuesTokenPair(t *testing.T) {
	s := newAuthService(t)
	resp := register(t, s)

	require.NotEmpty(t, resp.AccessToken)
	require.NotEmpty(t, resp.RefreshToken)
	require.Equal(t, "inspector@example.com", resp.User.Email)

	token, err := jwt.Parse(resp.AccessToken, func(*jwt.Token) (interface{}, error) {
		return []byte("test-secret"), nil
	})
	require.NoError(t, err)
	claims := token.Claims.(jwt.MapClaims)
	require.Equal(t, resp.User.ID.String(), claims["sub"])
}

func TestRegister_RejectsShortPassword(t *testing.T) {
	s := newAuthService(t)
	_, err := s.Register(&dto.RegisterRequest{Email: "a@b.c", Password: "short"})
	require.Error(t, err)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	s := newAuthService(t)
	register(t, s)
	_, err := s.Register(&dto.RegisterRequest{Email: "inspector@example.com", Password: "password123"})
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestLogin(t *testing.T) {
	s := newAuthService(t)
	register(t, s)

	resp, err := s.Login(&dto.LoginRequest{Email: "inspector@example.com", Password: "password123"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.AccessToken)

	_, err = s.Login(&dto.LoginRequest{Email: "inspector@example.com", Password: "wrong-password"})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = s.Login(&dto.LoginRequest{Email: "nobody@example.com", Password: "password123"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRefresh_RotatesToken(t *testing.T) {
	s := newAuthService(t)
	first := register(t, s)

	second, err := s.Refresh(&dto.RefreshRequest{RefreshToken: first.RefreshToken})
	require.NoError(t, err)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)

	// The old refresh token is revoked by the rotation.
	_, err = s.Refresh(&dto.RefreshRequest{RefreshToken: first.RefreshToken})
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestLogout_RevokesRefreshToken(t *testing.T) {
	s := newAuthService(t)
	resp := register(t, s)

	require.NoError(t, s.Logout(&dto.LogoutRequest{RefreshToken: resp.RefreshToken}))
	_, err := s.Refresh(&dto.RefreshRequest{RefreshToken: resp.RefreshToken})
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestDeleteAccount(t *testing.T) {
	s := newAuthService(t)
	resp := register(t, s)

	require.ErrorIs(t, s.DeleteAccount(resp.User.ID, "wrong-password"), ErrInvalidCredentials)
	require.NoError(t, s.DeleteAccount(resp.User.ID, "password123"))

	_, err := s.Login(&dto.LoginRequest{Email: "inspector@example.com", Password: "password123"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}
