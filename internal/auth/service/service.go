// Package service implements registration, login, token validation, and the
// authenticated user lookup for the transaction service.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"fintrail/internal/auth/models"
	"fintrail/internal/platform/redis"
	"fintrail/pkg/domainerrors"
	"fintrail/pkg/platform/sentinel"
	"fintrail/pkg/requestcontext"
)

// UserStore is the persistence surface the auth service needs.
type UserStore interface {
	Create(ctx context.Context, u *models.User) error
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

const userCacheTTL = 5 * time.Minute

type Service struct {
	users     UserStore
	cache     *redis.Client // optional; nil when Redis is not configured
	logger    *slog.Logger
	secret    []byte
	expiresIn time.Duration
}

func New(users UserStore, cache *redis.Client, logger *slog.Logger, secret string, expiresIn time.Duration) *Service {
	return &Service{
		users:     users,
		cache:     cache,
		logger:    logger,
		secret:    []byte(secret),
		expiresIn: expiresIn,
	}
}

// Register creates a user with a bcrypt-hashed password.
func (s *Service) Register(ctx context.Context, req models.RegisterRequest) (models.Summary, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return models.Summary{}, domainerrors.Wrap(domainerrors.CodeInternal, "hash password", err)
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:           uuid.New(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return models.Summary{}, domainerrors.New(domainerrors.CodeConflict, "username or email already taken")
		}
		return models.Summary{}, domainerrors.Wrap(domainerrors.CodeDatabase, "create user", err)
	}
	return user.Summarize(), nil
}

// Login verifies credentials and issues a signed bearer token.
func (s *Service) Login(ctx context.Context, req models.LoginRequest) (models.TokenResult, error) {
	user, err := s.users.FindByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			// Same answer as a bad password; don't reveal which.
			return models.TokenResult{}, domainerrors.New(domainerrors.CodeUnauthorized, "invalid credentials")
		}
		return models.TokenResult{}, domainerrors.Wrap(domainerrors.CodeDatabase, "find user", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return models.TokenResult{}, domainerrors.New(domainerrors.CodeUnauthorized, "invalid credentials")
	}

	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub":      user.ID.String(),
		"username": user.Username,
		"email":    user.Email,
		"iat":      now.Unix(),
		"exp":      now.Add(s.expiresIn).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return models.TokenResult{}, domainerrors.Wrap(domainerrors.CodeInternal, "sign token", err)
	}

	return models.TokenResult{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.expiresIn.Seconds()),
		User:        user.Summarize(),
	}, nil
}

// ValidateToken implements middleware.TokenValidator.
func (s *Service) ValidateToken(tokenString string) (requestcontext.Claims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil {
		return requestcontext.Claims{}, fmt.Errorf("parse token: %w", err)
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return requestcontext.Claims{}, fmt.Errorf("unexpected claims type")
	}
	sub, _ := mapClaims["sub"].(string)
	if sub == "" {
		return requestcontext.Claims{}, fmt.Errorf("token missing sub")
	}
	username, _ := mapClaims["username"].(string)
	email, _ := mapClaims["email"].(string)
	iat, _ := mapClaims["iat"].(float64)
	exp, _ := mapClaims["exp"].(float64)

	return requestcontext.Claims{
		Sub:      sub,
		Username: username,
		Email:    email,
		IssuedAt: int64(iat),
		Expires:  int64(exp),
	}, nil
}

// Me returns the authenticated user's summary, read through the optional
// Redis cache. User records never change here, so the cache needs no
// invalidation beyond its TTL.
func (s *Service) Me(ctx context.Context) (models.Summary, error) {
	claims, ok := requestcontext.ClaimsFrom(ctx)
	if !ok {
		return models.Summary{}, domainerrors.New(domainerrors.CodeUnauthorized, "not authenticated")
	}
	userID, err := uuid.Parse(claims.Sub)
	if err != nil {
		return models.Summary{}, domainerrors.New(domainerrors.CodeUnauthorized, "invalid token subject")
	}

	if summary, ok := s.cachedSummary(ctx, userID); ok {
		return summary, nil
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.Summary{}, domainerrors.NotFound("user")
		}
		return models.Summary{}, domainerrors.Wrap(domainerrors.CodeDatabase, "find user", err)
	}

	summary := user.Summarize()
	s.cacheSummary(ctx, summary)
	return summary, nil
}

func userCacheKey(id uuid.UUID) string {
	return "user:summary:" + id.String()
}

func (s *Service) cachedSummary(ctx context.Context, id uuid.UUID) (models.Summary, bool) {
	if s.cache == nil {
		return models.Summary{}, false
	}
	raw, err := s.cache.Get(ctx, userCacheKey(id)).Bytes()
	if err != nil {
		return models.Summary{}, false
	}
	var summary models.Summary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return models.Summary{}, false
	}
	return summary, true
}

func (s *Service) cacheSummary(ctx context.Context, summary models.Summary) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(summary)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, userCacheKey(summary.ID), raw, userCacheTTL).Err(); err != nil {
		s.logger.WarnContext(ctx, "user cache write failed", "error", err)
	}
}
