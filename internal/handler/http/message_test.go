package http

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Erenimo3442/GroupChatting/internal/domain"
	"github.com/Erenimo3442/GroupChatting/internal/repository"
	"github.com/Erenimo3442/GroupChatting/internal/service"
	"github.com/Erenimo3442/GroupChatting/internal/storage"
	"github.com/Erenimo3442/GroupChatting/internal/storage/memory"
	apperrors "github.com/Erenimo3442/GroupChatting/pkg/errors"
	"github.com/Erenimo3442/GroupChatting/pkg/middleware"
)

const testMaxUploadSize = 10 << 20

type messageHandlerFixture struct {
	messageRepo *mockMessageRepo
	userRepo    *mockUserRepo
	checker     *stubMembershipChecker
	store       *memory.Storage
	handler     *MessageHandler
}

func newMessageHandlerFixture() *messageHandlerFixture {
	logger := handlerTestLogger()
	f := &messageHandlerFixture{
		messageRepo: new(mockMessageRepo),
		userRepo:    new(mockUserRepo),
		checker:     &stubMembershipChecker{allowed: map[string]bool{}},
		store:       memory.New("/api/v1/files"),
	}
	svc := service.NewMessageService(
		f.messageRepo, f.userRepo, f.checker, f.store,
		nopBroadcaster{}, handlerTestEventProducer(), logger,
	)
	f.handler = NewMessageHandler(svc, testMaxUploadSize, logger)
	return f
}

func (f *messageHandlerFixture) allow(groupID, userID string) {
	f.checker.allowed[groupID+":"+userID] = true
}

func setupMessageRouter(handler *MessageHandler, userID string) *chi.Mux {
	r := chi.NewRouter()
	r.Route("/api/v1/groups", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(middleware.Auth(fakeTokenValidator(userID)))

		r.Post("/{id}/messages", handler.Send)
		r.Get("/{id}/messages", handler.List)
	})
	r.Route("/api/v1/messages", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(middleware.Auth(fakeTokenValidator(userID)))

		r.Put("/{id}", handler.Update)
		r.Delete("/{id}", handler.Delete)
		r.Get("/{id}/file", handler.Download)
	})
	r.Route("/api/v1/files", func(r chi.Router) {
		r.Use(middleware.Auth(fakeTokenValidator(userID)))

		r.Post("/", handler.Upload)
	})
	return r
}

func sampleMessage(senderID string) *domain.Message {
	return &domain.Message{
		ID:        uuid.NewString(),
		GroupID:   testGroupID,
		SenderID:  senderID,
		Content:   "hello",
		Timestamp: time.Now().UTC(),
	}
}

func TestSendMessage_Success(t *testing.T) {
	f := newMessageHandlerFixture()
	f.allow(testGroupID, testUserID)
	router := setupMessageRouter(f.handler, testUserID)

	f.messageRepo.On("Insert", mock.Anything, mock.MatchedBy(func(m *domain.Message) bool {
		return m.GroupID == testGroupID && m.SenderID == testUserID && m.Content == "hello"
	})).Return(nil)
	f.userRepo.On("GetByID", mock.Anything, testUserID).Return(sampleUser(), nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/v1/groups/"+testGroupID+"/messages", `{"content":"hello"}`))

	assert.Equal(t, http.StatusCreated, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Nil(t, resp.Error)
	f.messageRepo.AssertExpectations(t)
}

func TestSendMessage_NonMemberForbidden(t *testing.T) {
	f := newMessageHandlerFixture()
	router := setupMessageRouter(f.handler, testUserID)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/v1/groups/"+testGroupID+"/messages", `{"content":"hello"}`))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	f.messageRepo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestSendMessage_EmptyRejected(t *testing.T) {
	f := newMessageHandlerFixture()
	f.allow(testGroupID, testUserID)
	router := setupMessageRouter(f.handler, testUserID)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/v1/groups/"+testGroupID+"/messages", `{}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListMessages_ForwardsSearchAndPagination(t *testing.T) {
	f := newMessageHandlerFixture()
	f.allow(testGroupID, testUserID)
	router := setupMessageRouter(f.handler, testUserID)

	f.messageRepo.On("Query", mock.Anything, repository.MessageQuery{
		GroupID:    testGroupID,
		SearchText: "deploy",
		Page:       2,
		PageSize:   20,
	}).Return([]domain.Message{*sampleMessage(testUserID)}, nil)
	f.userRepo.On("GetUsernames", mock.Anything, []string{testUserID}).
		Return(map[string]string{testUserID: "alice"}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet,
		"/api/v1/groups/"+testGroupID+"/messages?search=deploy&page=2&page_size=20", ""))

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Nil(t, resp.Error)
	f.messageRepo.AssertExpectations(t)
}

func TestUpdateMessage_SenderEdits(t *testing.T) {
	f := newMessageHandlerFixture()
	router := setupMessageRouter(f.handler, testUserID)

	msg := sampleMessage(testUserID)
	f.messageRepo.On("GetByID", mock.Anything, msg.ID).Return(msg, nil)
	f.messageRepo.On("Replace", mock.Anything, mock.MatchedBy(func(m *domain.Message) bool {
		return m.Content == "edited" && m.LastEditedAt != nil
	})).Return(nil)
	f.userRepo.On("GetByID", mock.Anything, testUserID).Return(sampleUser(), nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPut, "/api/v1/messages/"+msg.ID, `{"content":"edited"}`))

	assert.Equal(t, http.StatusOK, rec.Code)
	f.messageRepo.AssertExpectations(t)
}

func TestUpdateMessage_NonSenderNotFound(t *testing.T) {
	f := newMessageHandlerFixture()
	router := setupMessageRouter(f.handler, testOtherID)

	msg := sampleMessage(testUserID)
	f.messageRepo.On("GetByID", mock.Anything, msg.ID).Return(msg, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPut, "/api/v1/messages/"+msg.ID, `{"content":"edited"}`))

	// Existence must not leak: a non-sender sees the same 404 as for a
	// message that was never there.
	assert.Equal(t, http.StatusNotFound, rec.Code)
	f.messageRepo.AssertNotCalled(t, "Replace", mock.Anything, mock.Anything)
}

func TestUpdateMessage_UnknownNotFound(t *testing.T) {
	f := newMessageHandlerFixture()
	router := setupMessageRouter(f.handler, testUserID)

	id := uuid.NewString()
	f.messageRepo.On("GetByID", mock.Anything, id).Return(nil, apperrors.NotFound("message", id))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPut, "/api/v1/messages/"+id, `{"content":"edited"}`))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteMessage_Success(t *testing.T) {
	f := newMessageHandlerFixture()
	router := setupMessageRouter(f.handler, testUserID)

	msg := sampleMessage(testUserID)
	f.messageRepo.On("GetByID", mock.Anything, msg.ID).Return(msg, nil)
	f.messageRepo.On("Replace", mock.Anything, mock.MatchedBy(func(m *domain.Message) bool {
		return m.IsDeleted && m.Content == "hello"
	})).Return(nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodDelete, "/api/v1/messages/"+msg.ID, ""))

	assert.Equal(t, http.StatusOK, rec.Code)
	f.messageRepo.AssertExpectations(t)
}

func TestUploadFile_Success(t *testing.T) {
	f := newMessageHandlerFixture()
	router := setupMessageRouter(f.handler, testUserID)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = io.Copy(part, strings.NewReader("attachment body"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/files/", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer test-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Nil(t, resp.Error)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	fileURL, _ := data["file_url"].(string)
	assert.True(t, strings.HasSuffix(fileURL, ".txt"))
}

func TestUploadFile_MissingFile(t *testing.T) {
	f := newMessageHandlerFixture()
	router := setupMessageRouter(f.handler, testUserID)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	require.NoError(t, writer.WriteField("note", "no file here"))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/files/", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer test-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDownloadFile_Success(t *testing.T) {
	f := newMessageHandlerFixture()
	f.allow(testGroupID, testUserID)
	router := setupMessageRouter(f.handler, testUserID)

	key := storeTestFile(t, f.store, "report.pdf", "application/pdf", "pdf bytes")
	msg := sampleMessage(testOtherID)
	msg.Content = ""
	msg.FileURL = key
	msg.MimeType = "application/pdf"
	f.messageRepo.On("GetByID", mock.Anything, msg.ID).Return(msg, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/messages/"+msg.ID+"/file", ""))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "pdf bytes", rec.Body.String())
}

func TestDownloadFile_NoAttachmentNotFound(t *testing.T) {
	f := newMessageHandlerFixture()
	f.allow(testGroupID, testUserID)
	router := setupMessageRouter(f.handler, testUserID)

	msg := sampleMessage(testOtherID)
	f.messageRepo.On("GetByID", mock.Anything, msg.ID).Return(msg, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/messages/"+msg.ID+"/file", ""))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownloadFile_NonMemberForbidden(t *testing.T) {
	f := newMessageHandlerFixture()
	router := setupMessageRouter(f.handler, testUserID)

	key := storeTestFile(t, f.store, "report.pdf", "application/pdf", "pdf bytes")
	msg := sampleMessage(testOtherID)
	msg.Content = ""
	msg.FileURL = key
	msg.MimeType = "application/pdf"
	f.messageRepo.On("GetByID", mock.Anything, msg.ID).Return(msg, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/messages/"+msg.ID+"/file", ""))

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func storeTestFile(t *testing.T, store *memory.Storage, key, contentType, body string) string {
	t.Helper()
	res, err := store.Upload(context.Background(), &storage.UploadInput{
		Key:         key,
		ContentType: contentType,
		Size:        int64(len(body)),
		Data:        strings.NewReader(body),
	})
	require.NoError(t, err)
	return res.Key
}
