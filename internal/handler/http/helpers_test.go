package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Erenimo3442/GroupChatting/internal/auth"
	"github.com/Erenimo3442/GroupChatting/internal/domain"
	"github.com/Erenimo3442/GroupChatting/internal/event"
	"github.com/Erenimo3442/GroupChatting/internal/repository"
	"github.com/Erenimo3442/GroupChatting/pkg/httputil"
	pkgkafka "github.com/Erenimo3442/GroupChatting/pkg/kafka"
	"github.com/Erenimo3442/GroupChatting/pkg/middleware"
)

// ============================================================================
// Mock Repositories
// ============================================================================

type mockUserRepo struct {
	mock.Mock
}

func (m *mockUserRepo) Create(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *mockUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepo) GetUsernames(ctx context.Context, ids []string) (map[string]string, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]string), args.Error(1)
}

type mockRefreshTokenRepo struct {
	mock.Mock
}

func (m *mockRefreshTokenRepo) Create(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	args := m.Called(ctx, userID, tokenHash, expiresAt)
	return args.Error(0)
}

func (m *mockRefreshTokenRepo) GetByHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error) {
	args := m.Called(ctx, tokenHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RefreshToken), args.Error(1)
}

func (m *mockRefreshTokenRepo) Revoke(ctx context.Context, tokenHash string) error {
	args := m.Called(ctx, tokenHash)
	return args.Error(0)
}

func (m *mockRefreshTokenRepo) RevokeByUserID(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

type mockGroupRepo struct {
	mock.Mock
}

func (m *mockGroupRepo) Create(ctx context.Context, group *domain.Group) error {
	args := m.Called(ctx, group)
	return args.Error(0)
}

func (m *mockGroupRepo) GetByID(ctx context.Context, id string) (*domain.Group, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Group), args.Error(1)
}

func (m *mockGroupRepo) ListByUserID(ctx context.Context, userID string) ([]domain.Group, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Group), args.Error(1)
}

type mockMembershipRepo struct {
	mock.Mock
}

func (m *mockMembershipRepo) TryInsert(ctx context.Context, membership *domain.Membership) error {
	args := m.Called(ctx, membership)
	return args.Error(0)
}

func (m *mockMembershipRepo) Get(ctx context.Context, userID, groupID string) (*domain.Membership, error) {
	args := m.Called(ctx, userID, groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Membership), args.Error(1)
}

func (m *mockMembershipRepo) UpdateStatus(ctx context.Context, userID, groupID, expectedStatus, newStatus string) error {
	args := m.Called(ctx, userID, groupID, expectedStatus, newStatus)
	return args.Error(0)
}

func (m *mockMembershipRepo) ListByGroupID(ctx context.Context, groupID string) ([]domain.Membership, error) {
	args := m.Called(ctx, groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Membership), args.Error(1)
}

type mockMessageRepo struct {
	mock.Mock
}

func (m *mockMessageRepo) Insert(ctx context.Context, msg *domain.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *mockMessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}

func (m *mockMessageRepo) Replace(ctx context.Context, msg *domain.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *mockMessageRepo) Query(ctx context.Context, q repository.MessageQuery) ([]domain.Message, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Message), args.Error(1)
}

// stubMembershipChecker answers membership checks from a fixed map keyed by
// "groupID:userID".
type stubMembershipChecker struct {
	allowed map[string]bool
}

func (s *stubMembershipChecker) IsActiveMember(_ context.Context, groupID, userID string) (bool, error) {
	return s.allowed[groupID+":"+userID], nil
}

// nopBroadcaster satisfies service.Broadcaster for handler tests that do not
// care about fan-out.
type nopBroadcaster struct{}

func (nopBroadcaster) BroadcastToGroup(string, string, any) {}

// ============================================================================
// Test Helpers
// ============================================================================

func handlerTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func handlerTestEventProducer() *event.Producer {
	logger := handlerTestLogger()
	kafkaCfg := pkgkafka.DefaultProducerConfig([]string{"localhost:9092"})
	return event.NewProducer(pkgkafka.NewProducer(kafkaCfg, logger), logger)
}

func handlerTestJWTManager() *auth.JWTManager {
	return auth.NewJWTManager("handler-test-secret", 15*time.Minute, 24*time.Hour)
}

// fakeTokenValidator returns a middleware.TokenValidator that always succeeds
// and injects the given userID into the request context.
func fakeTokenValidator(userID string) middleware.TokenValidator {
	return func(token string) (*middleware.Claims, error) {
		return &middleware.Claims{UserID: userID, Username: "tester"}, nil
	}
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) httputil.Response {
	t.Helper()
	var resp httputil.Response
	err := json.NewDecoder(rec.Body).Decode(&resp)
	require.NoError(t, err)
	return resp
}

const (
	testUserID  = "550e8400-e29b-41d4-a716-446655440001"
	testGroupID = "550e8400-e29b-41d4-a716-446655440002"
	testOtherID = "550e8400-e29b-41d4-a716-446655440003"
)

func sampleUser() *domain.User {
	now := time.Now().UTC()
	return &domain.User{
		ID:           testUserID,
		Username:     "alice",
		PasswordHash: "$2a$12$hashedpassword",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func sampleGroup() *domain.Group {
	return &domain.Group{
		ID:        testGroupID,
		Name:      "platform-team",
		IsPublic:  false,
		CreatedBy: testUserID,
		CreatedAt: time.Now().UTC(),
	}
}
