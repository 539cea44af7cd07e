package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/apigate/gatewayd/internal/config"
	"github.com/apigate/gatewayd/internal/models"
	"github.com/apigate/gatewayd/internal/registry"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Default traffic profile for newly registered users. Admins adjust the
// limits afterwards through the management API.
const (
	defaultRateLimit          = 10
	defaultRateLimitDuration  = "minute"
	defaultThrottleLimit      = 5
	defaultThrottleDuration   = "second"
	defaultThrottleWait       = 0.5
	defaultThrottleWaitUnit   = "second"
	defaultThrottleQueueLimit = 10
)

type Service struct {
	store    *registry.Store
	resolver *registry.Resolver
	config   *config.AuthConfig
}

func NewService(store *registry.Store, resolver *registry.Resolver, cfg *config.AuthConfig) *Service {
	return &Service{store: store, resolver: resolver, config: cfg}
}

func (s *Service) GetJWTSecret() string {
	return s.config.JWTSecret
}

// Register creates a user with the default traffic profile and a
// bcrypt-hashed password.
func (s *Service) Register(ctx context.Context, username, password string, isAdmin bool) (*models.User, error) {
	hashed, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Username:             username,
		Password:             hashed,
		IsAdmin:              isAdmin,
		IsActive:             true,
		RateLimit:            defaultRateLimit,
		RateLimitDuration:    defaultRateLimitDuration,
		ThrottleLimit:        defaultThrottleLimit,
		ThrottleDuration:     defaultThrottleDuration,
		ThrottleWait:         defaultThrottleWait,
		ThrottleWaitDuration: defaultThrottleWaitUnit,
		ThrottleQueueLimit:   defaultThrottleQueueLimit,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// Login verifies credentials and issues an access token.
func (s *Service) Login(ctx context.Context, username, password string) (string, time.Time, *models.User, error) {
	user, err := s.store.GetUser(ctx, username)
	if err != nil {
		return "", time.Time{}, nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return "", time.Time{}, nil, fmt.Errorf("user account is inactive")
	}
	if err := VerifyPassword(user.Password, password); err != nil {
		return "", time.Time{}, nil, ErrInvalidCredentials
	}

	token, expiresAt, err := GenerateToken(user.Username, user.IsAdmin, s.config.JWTSecret, s.config.JWTExpiration)
	if err != nil {
		return "", time.Time{}, nil, err
	}
	return token, expiresAt, user, nil
}

// UpdateLimits replaces a user's traffic profile and drops the cached
// copy so the next request sees the new limits.
func (s *Service) UpdateLimits(ctx context.Context, user *models.User) error {
	if err := s.store.UpdateUserLimits(ctx, user); err != nil {
		return err
	}
	return s.resolver.InvalidateUser(ctx, user.Username)
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func VerifyPassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}
