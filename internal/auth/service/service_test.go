package service

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"fintrail/internal/auth/models"
	userstore "fintrail/internal/auth/store/user"
	"fintrail/pkg/domainerrors"
	"fintrail/pkg/requestcontext"
)

const testSecret = "test-secret-key-that-is-long-enough-000"

type AuthServiceSuite struct {
	suite.Suite
	store   *userstore.InMemoryStore
	service *Service
}

func TestAuthServiceSuite(t *testing.T) {
	suite.Run(t, new(AuthServiceSuite))
}

func (s *AuthServiceSuite) SetupTest() {
	s.store = userstore.NewInMemoryStore()
	s.service = New(s.store, nil, slog.Default(), testSecret, 24*time.Hour)
}

func (s *AuthServiceSuite) register(username, email string) models.Summary {
	summary, err := s.service.Register(context.Background(), models.RegisterRequest{
		Username: username,
		Email:    email,
		Password: "password123",
	})
	s.Require().NoError(err)
	return summary
}

func (s *AuthServiceSuite) TestRegisterHashesPassword() {
	summary := s.register("testuser", "test@example.com")

	stored, err := s.store.FindByID(context.Background(), summary.ID)
	s.Require().NoError(err)
	s.NotEqual("password123", stored.PasswordHash)
	s.NotContains(stored.PasswordHash, "password123")
}

func (s *AuthServiceSuite) TestRegisterDuplicateIsConflict() {
	s.register("testuser", "test@example.com")

	_, err := s.service.Register(context.Background(), models.RegisterRequest{
		Username: "testuser",
		Email:    "other@example.com",
		Password: "password123",
	})
	s.Require().Error(err)
	s.Equal(domainerrors.CodeConflict, domainerrors.CodeOf(err))
}

func (s *AuthServiceSuite) TestLoginRoundTrip() {
	s.register("testuser", "test@example.com")

	result, err := s.service.Login(context.Background(), models.LoginRequest{
		Username: "testuser",
		Password: "password123",
	})
	s.Require().NoError(err)
	s.Equal("Bearer", result.TokenType)
	s.Equal(int64((24 * time.Hour).Seconds()), result.ExpiresIn)
	s.Equal("testuser", result.User.Username)

	claims, err := s.service.ValidateToken(result.AccessToken)
	s.Require().NoError(err)
	s.Equal(result.User.ID.String(), claims.Sub)
	s.Equal("testuser", claims.Username)
	s.Equal("test@example.com", claims.Email)
	s.Greater(claims.Expires, claims.IssuedAt)
}

func (s *AuthServiceSuite) TestLoginWrongPassword() {
	s.register("testuser", "test@example.com")

	_, err := s.service.Login(context.Background(), models.LoginRequest{
		Username: "testuser",
		Password: "wrong",
	})
	s.Require().Error(err)
	s.Equal(domainerrors.CodeUnauthorized, domainerrors.CodeOf(err))
}

func (s *AuthServiceSuite) TestLoginUnknownUserSameAnswer() {
	_, err := s.service.Login(context.Background(), models.LoginRequest{
		Username: "ghost",
		Password: "password123",
	})
	s.Require().Error(err)
	s.Equal(domainerrors.CodeUnauthorized, domainerrors.CodeOf(err))
}

func (s *AuthServiceSuite) TestValidateTokenRejectsTampering() {
	s.register("testuser", "test@example.com")
	result, err := s.service.Login(context.Background(), models.LoginRequest{
		Username: "testuser",
		Password: "password123",
	})
	s.Require().NoError(err)

	_, err = s.service.ValidateToken(result.AccessToken + "x")
	s.Error(err)

	other := New(s.store, nil, slog.Default(), "another-secret-that-is-long-enough-1234", time.Hour)
	_, err = other.ValidateToken(result.AccessToken)
	s.Error(err)
}

func (s *AuthServiceSuite) TestMe() {
	summary := s.register("testuser", "test@example.com")

	ctx := requestcontext.WithClaims(context.Background(), requestcontext.Claims{Sub: summary.ID.String()})
	me, err := s.service.Me(ctx)
	s.Require().NoError(err)
	s.Equal(summary.ID, me.ID)
	s.Equal("testuser", me.Username)

	_, err = s.service.Me(context.Background())
	s.Require().Error(err)
	s.Equal(domainerrors.CodeUnauthorized, domainerrors.CodeOf(err))
}
