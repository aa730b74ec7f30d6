package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/Erenimo3442/GroupChatting/internal/domain"
	"github.com/Erenimo3442/GroupChatting/internal/event"
	"github.com/Erenimo3442/GroupChatting/internal/repository"
	"github.com/Erenimo3442/GroupChatting/internal/storage"
	apperrors "github.com/Erenimo3442/GroupChatting/pkg/errors"
	"github.com/Erenimo3442/GroupChatting/pkg/pagination"
)

// Broadcaster pushes realtime events to the active subscribers of a
// group. Implementations must not block the caller.
type Broadcaster interface {
	BroadcastToGroup(groupID, eventName string, payload any)
}

// MembershipChecker answers active-membership questions. Satisfied by
// GroupService.
type MembershipChecker interface {
	IsActiveMember(ctx context.Context, groupID, userID string) (bool, error)
}

// MessageService implements the message pipeline: persist first, then
// broadcast to live subscribers. A message is never pushed before it is
// durably stored, so history and the realtime stream cannot disagree.
type MessageService struct {
	messageRepo repository.MessageRepository
	userRepo    repository.UserRepository
	membership  MembershipChecker
	store       storage.Storage
	broadcaster Broadcaster
	producer    *event.Producer
	logger      *slog.Logger
}

// NewMessageService creates a new message service.
func NewMessageService(
	messageRepo repository.MessageRepository,
	userRepo repository.UserRepository,
	membership MembershipChecker,
	store storage.Storage,
	broadcaster Broadcaster,
	producer *event.Producer,
	logger *slog.Logger,
) *MessageService {
	return &MessageService{
		messageRepo: messageRepo,
		userRepo:    userRepo,
		membership:  membership,
		store:       store,
		broadcaster: broadcaster,
		producer:    producer,
		logger:      logger,
	}
}

// SendMessageInput holds the parameters for sending a message.
type SendMessageInput struct {
	GroupID  string
	Content  string
	FileURL  string
	MimeType string
}

// UploadInput holds the parameters for uploading a message attachment.
type UploadInput struct {
	Filename    string
	ContentType string
	Size        int64
	Data        io.Reader
}

// UploadResult holds the stored attachment's key and content type, to be
// referenced from a subsequent SendMessage call.
type UploadResult struct {
	FileURL  string `json:"file_url"`
	MimeType string `json:"mime_type"`
}

// SendMessage persists a message and then broadcasts it to the group's
// subscribers. The sender must be an active member of the group.
func (s *MessageService) SendMessage(ctx context.Context, senderID string, input SendMessageInput) (*domain.MessageView, error) {
	active, err := s.membership.IsActiveMember(ctx, input.GroupID, senderID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, apperrors.Forbidden("not an active member of this group")
	}

	msg, err := domain.NewMessage(input.GroupID, senderID, input.Content, input.FileURL, input.MimeType)
	if err != nil {
		return nil, err
	}

	if err := s.messageRepo.Insert(ctx, msg); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	view := msg.View(s.resolveUsername(ctx, senderID))

	// Broadcast only after the insert succeeded.
	s.broadcaster.BroadcastToGroup(msg.GroupID, domain.EventReceiveMessage, view)

	if err := s.producer.PublishMessageSent(ctx, msg); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish message.sent event",
			slog.String("message_id", msg.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "message sent",
		slog.String("message_id", msg.ID),
		slog.String("group_id", msg.GroupID),
	)

	return &view, nil
}

// GetMessages returns a page of a group's history, newest first, with
// sender usernames resolved in one batch. Deleted messages stay in the
// results with their deletion flag set.
func (s *MessageService) GetMessages(ctx context.Context, callerID, groupID, searchText string, page pagination.Params) ([]domain.MessageView, error) {
	active, err := s.membership.IsActiveMember(ctx, groupID, callerID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, apperrors.Forbidden("not an active member of this group")
	}

	messages, err := s.messageRepo.Query(ctx, repository.MessageQuery{
		GroupID:    groupID,
		SearchText: searchText,
		Page:       page.Page,
		PageSize:   page.PageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}

	senderIDs := make([]string, 0, len(messages))
	seen := make(map[string]struct{}, len(messages))
	for _, m := range messages {
		if _, ok := seen[m.SenderID]; ok {
			continue
		}
		seen[m.SenderID] = struct{}{}
		senderIDs = append(senderIDs, m.SenderID)
	}

	names, err := s.userRepo.GetUsernames(ctx, senderIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve sender usernames: %w", err)
	}

	views := make([]domain.MessageView, 0, len(messages))
	for i := range messages {
		views = append(views, messages[i].View(names[messages[i].SenderID]))
	}

	return views, nil
}

// UpdateMessage edits a message's content. Only the original sender may
// edit, regardless of group role, and deleted messages cannot be edited.
// A non-sender gets NotFound, exactly as if the message did not exist,
// so existence never leaks across the ownership boundary.
func (s *MessageService) UpdateMessage(ctx context.Context, callerID, messageID, newContent string) (*domain.MessageView, error) {
	msg, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}

	if msg.SenderID != callerID {
		return nil, apperrors.NotFound("message", messageID)
	}
	if msg.IsDeleted {
		return nil, apperrors.Conflict("message has been deleted")
	}
	if newContent == "" && !msg.HasFile() {
		return nil, apperrors.InvalidInput("message must have content or a file attachment")
	}

	now := time.Now().UTC()
	msg.Content = newContent
	msg.LastEditedAt = &now

	if err := s.messageRepo.Replace(ctx, msg); err != nil {
		return nil, fmt.Errorf("replace message: %w", err)
	}

	view := msg.View(s.resolveUsername(ctx, msg.SenderID))
	s.broadcaster.BroadcastToGroup(msg.GroupID, domain.EventMessageUpdated, view)

	s.logger.InfoContext(ctx, "message updated",
		slog.String("message_id", msg.ID),
		slog.String("group_id", msg.GroupID),
	)

	return &view, nil
}

// DeleteMessage soft-deletes a message. Only the original sender may
// delete; a non-sender gets NotFound just like for a missing message.
// The content is retained; readers see the deletion flag.
func (s *MessageService) DeleteMessage(ctx context.Context, callerID, messageID string) error {
	msg, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return err
	}

	if msg.SenderID != callerID {
		return apperrors.NotFound("message", messageID)
	}
	if msg.IsDeleted {
		return nil
	}

	msg.IsDeleted = true

	if err := s.messageRepo.Replace(ctx, msg); err != nil {
		return fmt.Errorf("replace message: %w", err)
	}

	// Deletions broadcast the ID only.
	s.broadcaster.BroadcastToGroup(msg.GroupID, domain.EventMessageDeleted, map[string]string{"id": msg.ID})

	s.logger.InfoContext(ctx, "message deleted",
		slog.String("message_id", msg.ID),
		slog.String("group_id", msg.GroupID),
	)

	return nil
}

// UploadFile stores an attachment and returns its key for use in a
// subsequent SendMessage call.
func (s *MessageService) UploadFile(ctx context.Context, input UploadInput) (*UploadResult, error) {
	if input.Size <= 0 {
		return nil, apperrors.InvalidInput("empty upload")
	}

	key := uuid.New().String() + filepath.Ext(input.Filename)

	res, err := s.store.Upload(ctx, &storage.UploadInput{
		Key:         key,
		ContentType: input.ContentType,
		Size:        input.Size,
		Data:        input.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("upload file: %w", err)
	}

	s.logger.InfoContext(ctx, "file uploaded",
		slog.String("key", res.Key),
		slog.Int64("size", input.Size),
	)

	return &UploadResult{FileURL: res.Key, MimeType: input.ContentType}, nil
}

// DownloadFile opens the attachment of a message. A missing message or a
// message without a file reports not found before any authorization
// check; only then is the caller's membership verified.
func (s *MessageService) DownloadFile(ctx context.Context, callerID, messageID string) (*storage.File, error) {
	msg, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if !msg.HasFile() {
		return nil, apperrors.NotFound("file", messageID)
	}

	active, err := s.membership.IsActiveMember(ctx, msg.GroupID, callerID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, apperrors.Forbidden("not an active member of this group")
	}

	file, err := s.store.Open(ctx, msg.FileURL)
	if err != nil {
		return nil, err
	}
	if msg.MimeType != "" {
		file.ContentType = msg.MimeType
	}

	return file, nil
}

// resolveUsername looks up a single username, falling back to the bare
// ID when the lookup fails. Broadcasts should not fail over a display
// name.
func (s *MessageService) resolveUsername(ctx context.Context, userID string) string {
	names, err := s.userRepo.GetUsernames(ctx, []string{userID})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to resolve username",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return userID
	}
	if name, ok := names[userID]; ok {
		return name
	}
	return userID
}
