package http

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Erenimo3442/GroupChatting/internal/service"
	"github.com/Erenimo3442/GroupChatting/pkg/httputil"
	"github.com/Erenimo3442/GroupChatting/pkg/middleware"
	"github.com/Erenimo3442/GroupChatting/pkg/pagination"
	"github.com/Erenimo3442/GroupChatting/pkg/validator"
)

// MessageHandler handles HTTP requests for message and attachment endpoints.
type MessageHandler struct {
	service       *service.MessageService
	maxUploadSize int64
	logger        *slog.Logger
}

// NewMessageHandler creates a new message HTTP handler.
func NewMessageHandler(svc *service.MessageService, maxUploadSize int64, logger *slog.Logger) *MessageHandler {
	return &MessageHandler{
		service:       svc,
		maxUploadSize: maxUploadSize,
		logger:        logger,
	}
}

// --- Request DTOs ---

// SendMessageRequest is the JSON request body for sending a message. Either
// content or a previously uploaded file reference must be present.
type SendMessageRequest struct {
	Content  string `json:"content" validate:"max=4096"`
	FileURL  string `json:"file_url" validate:"omitempty,max=512"`
	MimeType string `json:"mime_type" validate:"omitempty,max=255"`
}

// UpdateMessageRequest is the JSON request body for editing a message.
type UpdateMessageRequest struct {
	Content string `json:"content" validate:"required,max=4096"`
}

// --- Handlers ---

// Send handles POST /api/v1/groups/{id}/messages
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	groupID, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	view, err := h.service.SendMessage(r.Context(), userID, service.SendMessageInput{
		GroupID:  groupID.String(),
		Content:  req.Content,
		FileURL:  req.FileURL,
		MimeType: req.MimeType,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: view})
}

// List handles GET /api/v1/groups/{id}/messages with optional ?search=,
// ?page= and ?page_size= query parameters. Results are newest first.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	groupID, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	search := r.URL.Query().Get("search")
	params := pagination.FromRequest(r)

	views, err := h.service.GetMessages(r.Context(), userID, groupID.String(), search, params)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: views})
}

// Update handles PUT /api/v1/messages/{id}
func (h *MessageHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	messageID, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit

	var req UpdateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	view, err := h.service.UpdateMessage(r.Context(), userID, messageID.String(), req.Content)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: view})
}

// Delete handles DELETE /api/v1/messages/{id}
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	messageID, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	if err := h.service.DeleteMessage(r.Context(), userID, messageID.String()); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]string{"id": messageID.String(), "status": "deleted"},
	})
}

// Upload handles POST /api/v1/files (multipart/form-data). The stored file
// key is referenced from a subsequent send-message request.
func (h *MessageHandler) Upload(w http.ResponseWriter, r *http.Request) {
	// Allow some overhead for the multipart form fields.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize+(1<<20))

	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "failed to parse multipart form: " + err.Error()},
		})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "file is required: " + err.Error()},
		})
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	result, err := h.service.UploadFile(r.Context(), service.UploadInput{
		Filename:    header.Filename,
		ContentType: contentType,
		Size:        header.Size,
		Data:        file,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: result})
}

// Download handles GET /api/v1/messages/{id}/file and streams the message's
// attachment to the caller.
func (h *MessageHandler) Download(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	messageID, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	file, err := h.service.DownloadFile(r.Context(), userID, messageID.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	defer file.Content.Close()

	w.Header().Set("Content-Type", file.ContentType)
	if file.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(file.Size, 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, file.Content); err != nil {
		h.logger.WarnContext(r.Context(), "attachment stream interrupted",
			slog.String("message_id", messageID.String()),
			slog.String("error", err.Error()),
		)
	}
}
