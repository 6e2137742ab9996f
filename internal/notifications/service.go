// Package notifications records social events and pushes them to live connections.
package notifications

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/murmur/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/realtime"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingRecipient  = errors.New("recipient identifier is required")
	errMissingSender     = errors.New("sender identifier is required")
	errUnknownType       = errors.New("unknown notification type")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew = "notifications.service.new"
	opRecord     = "notifications.record"
	opDeliver    = "notifications.deliver"
	opList       = "notifications.list"
	opMarkRead   = "notifications.mark_read"
	opPurge      = "notifications.purge"
)

// Publisher pushes an event to the live connections of a user.
type Publisher interface {
	Publish(message realtime.Message)
}

// ServiceConfig describes the dependencies of the notification log.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Publisher  Publisher
	Logger     *zap.Logger
}

// Service appends notifications and reads them back for their recipient.
type Service struct {
	db         *gorm.DB
	now        func() time.Time
	idProvider ids.Provider
	publisher  Publisher
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperr.DependencyFailure(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, apperr.DependencyFailure(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		now:        clock,
		idProvider: cfg.IDProvider,
		publisher:  cfg.Publisher,
		logger:     logger,
	}, nil
}

// Record appends a notification inside tx. A sender notifying themself records nothing
// and returns nil.
func (s *Service) Record(tx *gorm.DB, entry Entry) (*Notification, error) {
	recipientID := strings.TrimSpace(entry.RecipientID)
	senderID := strings.TrimSpace(entry.SenderID)
	if recipientID == "" {
		return nil, apperr.InvalidInput(opRecord, "missing_recipient", errMissingRecipient)
	}
	if senderID == "" {
		return nil, apperr.InvalidInput(opRecord, "missing_sender", errMissingSender)
	}
	if !entry.Type.valid() {
		return nil, apperr.InvalidInput(opRecord, "unknown_type", errUnknownType)
	}
	if recipientID == senderID {
		return nil, nil
	}

	notificationID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opRecord, "id_generation_failed", err)
		return nil, apperr.DependencyFailure(opRecord, "id_generation_failed", err)
	}
	notification := Notification{
		ID:          notificationID,
		RecipientID: recipientID,
		SenderID:    senderID,
		Type:        entry.Type,
		Comment:     entry.Comment,
		CreatedAt:   s.now().UTC(),
	}
	if postID := strings.TrimSpace(entry.PostID); postID != "" {
		notification.PostID = &postID
	}
	if err := tx.Omit("Sender", "Post").Create(&notification).Error; err != nil {
		s.logError(opRecord, "insert_failed", err,
			zap.String("recipient_id", recipientID),
			zap.String("type", string(entry.Type)))
		return nil, apperr.DependencyFailure(opRecord, "insert_failed", err)
	}
	return &notification, nil
}

// Deliver resolves the sender and post of a committed notification and pushes it to the
// recipient's live connections. Nil notifications and missing publishers are ignored.
func (s *Service) Deliver(ctx context.Context, notification *Notification) {
	if notification == nil || s.publisher == nil {
		return
	}
	var resolved Notification
	err := s.db.WithContext(ctx).
		Preload("Sender").
		Preload("Post").
		Where("id = ?", notification.ID).
		Take(&resolved).Error
	if err != nil {
		// the notification is stored; the push is best effort
		s.logger.Warn("notification delivery skipped",
			zap.String("operation", opDeliver),
			zap.String("notification_id", notification.ID),
			zap.Error(err))
		resolved = *notification
	}
	s.publisher.Publish(realtime.Message{
		UserID:    resolved.RecipientID,
		EventType: realtime.EventNotification,
		Payload:   resolved,
	})
}

// List returns the recipient's full notification history newest first with sender and post resolved.
func (s *Service) List(ctx context.Context, recipientID string) ([]Notification, error) {
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return nil, apperr.InvalidInput(opList, "missing_recipient", errMissingRecipient)
	}
	var notifications []Notification
	if err := s.db.WithContext(ctx).
		Preload("Sender").
		Preload("Post").
		Where("recipient_id = ?", recipientID).
		Order("created_at DESC, id DESC").
		Find(&notifications).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("recipient_id", recipientID))
		return nil, apperr.DependencyFailure(opList, "query_failed", err)
	}
	return notifications, nil
}

// MarkAllRead stamps every unread notification of the recipient and returns how many changed.
func (s *Service) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return 0, apperr.InvalidInput(opMarkRead, "missing_recipient", errMissingRecipient)
	}
	result := s.db.WithContext(ctx).
		Model(&Notification{}).
		Where("recipient_id = ? AND read_at IS NULL", recipientID).
		Update("read_at", s.now().UTC())
	if result.Error != nil {
		s.logError(opMarkRead, "update_failed", result.Error, zap.String("recipient_id", recipientID))
		return 0, apperr.DependencyFailure(opMarkRead, "update_failed", result.Error)
	}
	return result.RowsAffected, nil
}

// PurgeUser removes notifications the user sent or received.
func (s *Service) PurgeUser(tx *gorm.DB, userID string) (func(context.Context), error) {
	if err := tx.Where("recipient_id = ? OR sender_id = ?", userID, userID).Delete(&Notification{}).Error; err != nil {
		s.logError(opPurge, "user_delete_failed", err, zap.String("user_id", userID))
		return nil, apperr.DependencyFailure(opPurge, "user_delete_failed", err)
	}
	return nil, nil
}

// PurgePosts removes notifications that reference any of postIDs.
func (s *Service) PurgePosts(tx *gorm.DB, postIDs ...string) error {
	if len(postIDs) == 0 {
		return nil
	}
	if err := tx.Where("post_id IN ?", postIDs).Delete(&Notification{}).Error; err != nil {
		s.logError(opPurge, "post_delete_failed", err, zap.Int("posts", len(postIDs)))
		return apperr.DependencyFailure(opPurge, "post_delete_failed", err)
	}
	return nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("notifications service error", attrs...)
}
