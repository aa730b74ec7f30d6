package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/Erenimo3442/GroupChatting/internal/auth"
	"github.com/Erenimo3442/GroupChatting/internal/domain"
	"github.com/Erenimo3442/GroupChatting/internal/event"
	"github.com/Erenimo3442/GroupChatting/internal/repository"
	apperrors "github.com/Erenimo3442/GroupChatting/pkg/errors"
)

// bcryptCost is the cost factor for bcrypt password hashing.
const bcryptCost = 12

// minPasswordLength is the minimum password length required.
const minPasswordLength = 8

// UserService implements the business logic for user and auth operations.
type UserService struct {
	userRepo         repository.UserRepository
	refreshTokenRepo repository.RefreshTokenRepository
	jwtManager       *auth.JWTManager
	producer         *event.Producer
	logger           *slog.Logger
}

// NewUserService creates a new user service.
func NewUserService(
	userRepo repository.UserRepository,
	refreshTokenRepo repository.RefreshTokenRepository,
	jwtManager *auth.JWTManager,
	producer *event.Producer,
	logger *slog.Logger,
) *UserService {
	return &UserService{
		userRepo:         userRepo,
		refreshTokenRepo: refreshTokenRepo,
		jwtManager:       jwtManager,
		producer:         producer,
		logger:           logger,
	}
}

// RegisterInput holds the parameters for registering a new user.
type RegisterInput struct {
	Username string
	Password string
}

// LoginInput holds the parameters for user login.
type LoginInput struct {
	Username string
	Password string
}

// Register creates a new user account, hashes the password, and returns tokens.
func (s *UserService) Register(ctx context.Context, input RegisterInput) (*domain.User, *domain.TokenPair, error) {
	if input.Username == "" {
		return nil, nil, apperrors.InvalidInput("username is required")
	}
	if err := validatePassword(input.Password); err != nil {
		return nil, nil, err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcryptCost)
	if err != nil {
		return nil, nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	user := &domain.User{
		ID:           uuid.New().String(),
		Username:     input.Username,
		PasswordHash: string(hashedPassword),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, nil, fmt.Errorf("create user: %w", err)
	}

	tokens, err := s.generateTokenPair(ctx, user)
	if err != nil {
		return nil, nil, fmt.Errorf("generate tokens: %w", err)
	}

	// Publish registration event (non-blocking on failure).
	if err := s.producer.PublishUserRegistered(ctx, user); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.registered event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "user registered",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
	)

	return user, tokens, nil
}

// Login authenticates a user with username and password, returning tokens.
func (s *UserService) Login(ctx context.Context, input LoginInput) (*domain.User, *domain.TokenPair, error) {
	if input.Username == "" {
		return nil, nil, apperrors.InvalidInput("username is required")
	}
	if input.Password == "" {
		return nil, nil, apperrors.InvalidInput("password is required")
	}

	user, err := s.userRepo.GetByUsername(ctx, input.Username)
	if err != nil {
		return nil, nil, apperrors.Unauthorized("invalid username or password")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		return nil, nil, apperrors.Unauthorized("invalid username or password")
	}

	tokens, err := s.generateTokenPair(ctx, user)
	if err != nil {
		return nil, nil, fmt.Errorf("generate tokens: %w", err)
	}

	s.logger.InfoContext(ctx, "user logged in",
		slog.String("user_id", user.ID),
	)

	return user, tokens, nil
}

// RefreshToken validates a refresh token, rotates it, and returns a new
// token pair. The old token is revoked so each refresh token can be
// redeemed at most once.
func (s *UserService) RefreshToken(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	if refreshToken == "" {
		return nil, apperrors.InvalidInput("refresh token is required")
	}

	claims, err := s.jwtManager.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, apperrors.Unauthorized("invalid or expired refresh token")
	}

	tokenHash := hashToken(refreshToken)
	storedToken, err := s.refreshTokenRepo.GetByHash(ctx, tokenHash)
	if err != nil {
		return nil, apperrors.Unauthorized("refresh token not found")
	}

	if storedToken.RevokedAt != nil {
		return nil, apperrors.Unauthorized("refresh token has been revoked")
	}

	if time.Now().UTC().After(storedToken.ExpiresAt) {
		return nil, apperrors.Unauthorized("refresh token has expired")
	}

	if err := s.refreshTokenRepo.Revoke(ctx, tokenHash); err != nil {
		s.logger.ErrorContext(ctx, "failed to revoke old refresh token",
			slog.String("user_id", claims.UserID),
			slog.String("error", err.Error()),
		)
	}

	user, err := s.userRepo.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("get user for token refresh: %w", err)
	}

	tokens, err := s.generateTokenPair(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("generate tokens: %w", err)
	}

	s.logger.InfoContext(ctx, "tokens refreshed",
		slog.String("user_id", user.ID),
	)

	return tokens, nil
}

// GetProfile returns the user identified by id.
func (s *UserService) GetProfile(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// GetUsernames resolves usernames for a batch of user IDs.
func (s *UserService) GetUsernames(ctx context.Context, ids []string) (map[string]string, error) {
	names, err := s.userRepo.GetUsernames(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get usernames: %w", err)
	}
	return names, nil
}

// generateTokenPair creates an access/refresh token pair and stores the refresh token hash.
func (s *UserService) generateTokenPair(ctx context.Context, user *domain.User) (*domain.TokenPair, error) {
	accessToken, err := s.jwtManager.GenerateAccessToken(user.ID, user.Username)
	if err != nil {
		return nil, fmt.Errorf("generate access token: %w", err)
	}

	refreshToken, err := s.jwtManager.GenerateRefreshToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	tokenHash := hashToken(refreshToken)
	expiresAt := time.Now().UTC().Add(s.jwtManager.RefreshExpiry())

	if err := s.refreshTokenRepo.Create(ctx, user.ID, tokenHash, expiresAt); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

// hashToken returns the hex-encoded SHA-256 of a token. Only the hash is
// stored, so a database leak does not leak redeemable tokens.
func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// validatePassword enforces the minimum password policy.
func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return apperrors.InvalidInput(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}

	var hasUpper, hasLower, hasDigit bool
	for _, ch := range password {
		switch {
		case unicode.IsUpper(ch):
			hasUpper = true
		case unicode.IsLower(ch):
			hasLower = true
		case unicode.IsDigit(ch):
			hasDigit = true
		}
	}

	if !hasUpper || !hasLower || !hasDigit {
		return apperrors.InvalidInput("password must contain at least one uppercase letter, one lowercase letter, and one digit")
	}

	return nil
}
