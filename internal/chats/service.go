// Package chats stores one-to-one conversations and relays new messages to live connections.
package chats

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/murmur/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/realtime"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingUserID     = errors.New("user identifier is required")
	errMissingChatID     = errors.New("chat identifier is required")
	errMissingContent    = errors.New("message content is required")
	errContentTooLong    = errors.New("message exceeds 2000 characters")
	errSelfChat          = errors.New("a chat needs two distinct users")
	errUserMissing       = errors.New("user not found")
	errChatMissing       = errors.New("chat not found")
	errNotParticipant    = errors.New("user does not take part in this chat")
	errChatConflict      = errors.New("chat for this pair could not be created")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew    = "chats.service.new"
	opAccess        = "chats.access"
	opList          = "chats.list"
	opSend          = "chats.send_message"
	opListMessages  = "chats.list_messages"
	opPurgeUser     = "chats.purge_user"
	maxContentRunes = 2000
)

// Publisher pushes an event to the live connections of a user.
type Publisher interface {
	Publish(message realtime.Message)
}

// ServiceConfig describes the dependencies of the chat store.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Publisher  Publisher
	Logger     *zap.Logger
}

// Service manages chats and their messages.
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

// Access returns the chat between actorID and otherID, creating it when absent. created
// reports whether this call created it.
func (s *Service) Access(ctx context.Context, actorID, otherID string) (chat Chat, created bool, err error) {
	actorID = strings.TrimSpace(actorID)
	otherID = strings.TrimSpace(otherID)
	if actorID == "" {
		return Chat{}, false, apperr.Unauthorized(opAccess, "missing_actor", errMissingUserID)
	}
	if otherID == "" {
		return Chat{}, false, apperr.InvalidInput(opAccess, "missing_user_id", errMissingUserID)
	}
	if actorID == otherID {
		return Chat{}, false, apperr.InvalidInput(opAccess, "self_chat", errSelfChat)
	}
	key := pairKey(actorID, otherID)

	var chatID string
	for attempt := 0; ; attempt++ {
		chatID, created, err = s.findOrCreate(ctx, key, actorID, otherID)
		if err == nil {
			break
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return Chat{}, false, err
		}
		// a concurrent access for the same pair won the insert; one retry reads its chat
		if attempt > 0 {
			return Chat{}, false, apperr.Conflict(opAccess, "chat_insert_conflict", errChatConflict)
		}
	}

	chat, err = s.load(ctx, opAccess, chatID)
	if err != nil {
		return Chat{}, false, err
	}
	if created {
		s.logger.Info("chat created", zap.String("chat_id", chat.ID))
	}
	return chat, created, nil
}

// findOrCreate returns the chat id stored for key, creating the chat and its two participants
// when the pair has none yet.
func (s *Service) findOrCreate(ctx context.Context, key, actorID, otherID string) (chatID string, created bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&users.User{}).Where("id = ?", otherID).Count(&count).Error; err != nil {
			s.logError(opAccess, "user_lookup_failed", err, zap.String("user_id", otherID))
			return apperr.DependencyFailure(opAccess, "user_lookup_failed", err)
		}
		if count == 0 {
			return apperr.NotFound(opAccess, "user_missing", errUserMissing)
		}

		var existing Chat
		err := tx.Select("id").Where("pair_key = ?", key).Take(&existing).Error
		if err == nil {
			chatID = existing.ID
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logError(opAccess, "chat_lookup_failed", err)
			return apperr.DependencyFailure(opAccess, "chat_lookup_failed", err)
		}

		newID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opAccess, "id_generation_failed", err)
			return apperr.DependencyFailure(opAccess, "id_generation_failed", err)
		}
		now := s.now().UTC()
		fresh := Chat{ID: newID, PairKey: key, CreatedAt: now, UpdatedAt: now}
		if err := tx.Omit("Participants", "LatestMessage").Create(&fresh).Error; err != nil {
			s.logError(opAccess, "chat_insert_failed", err)
			return apperr.DependencyFailure(opAccess, "chat_insert_failed", err)
		}
		participants := []Participant{{ChatID: newID, UserID: actorID}, {ChatID: newID, UserID: otherID}}
		if err := tx.Omit("User").Create(&participants).Error; err != nil {
			s.logError(opAccess, "participant_insert_failed", err)
			return apperr.DependencyFailure(opAccess, "participant_insert_failed", err)
		}
		chatID = newID
		created = true
		return nil
	})
	return chatID, created, err
}

// List returns the user's chats, most recently active first.
func (s *Service) List(ctx context.Context, userID string) ([]Chat, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperr.Unauthorized(opList, "missing_user_id", errMissingUserID)
	}
	db := s.db.WithContext(ctx)
	memberships := db.Model(&Participant{}).Select("chat_id").Where("user_id = ?", userID)
	chats := []Chat{}
	if err := db.
		Scopes(withDetails).
		Where("id IN (?)", memberships).
		Order("updated_at DESC, id DESC").
		Find(&chats).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("user_id", userID))
		return nil, apperr.DependencyFailure(opList, "query_failed", err)
	}
	return chats, nil
}

// SendMessage appends a message to a chat the sender takes part in and pushes it to the
// other participants.
func (s *Service) SendMessage(ctx context.Context, senderID, chatID, content string) (Message, error) {
	senderID = strings.TrimSpace(senderID)
	chatID = strings.TrimSpace(chatID)
	content = strings.TrimSpace(content)
	switch {
	case senderID == "":
		return Message{}, apperr.Unauthorized(opSend, "missing_sender", errMissingUserID)
	case chatID == "":
		return Message{}, apperr.InvalidInput(opSend, "missing_chat_id", errMissingChatID)
	case content == "":
		return Message{}, apperr.InvalidInput(opSend, "missing_content", errMissingContent)
	case utf8.RuneCountInString(content) > maxContentRunes:
		return Message{}, apperr.InvalidInput(opSend, "content_too_long", errContentTooLong)
	}

	var (
		message    Message
		recipients []string
	)
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		participants, err := s.participants(tx, opSend, chatID)
		if err != nil {
			return err
		}
		member := false
		for _, participant := range participants {
			if participant.UserID == senderID {
				member = true
				continue
			}
			recipients = append(recipients, participant.UserID)
		}
		if !member {
			return apperr.Unauthorized(opSend, "not_participant", errNotParticipant)
		}

		messageID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opSend, "id_generation_failed", err)
			return apperr.DependencyFailure(opSend, "id_generation_failed", err)
		}
		now := s.now().UTC()
		message = Message{ID: messageID, ChatID: chatID, SenderID: senderID, Content: content, CreatedAt: now}
		if err := tx.Omit("Sender").Create(&message).Error; err != nil {
			s.logError(opSend, "insert_failed", err, zap.String("chat_id", chatID))
			return apperr.DependencyFailure(opSend, "insert_failed", err)
		}
		if err := tx.Model(&Chat{}).Where("id = ?", chatID).Updates(map[string]interface{}{
			"latest_message_id": messageID,
			"updated_at":        now,
		}).Error; err != nil {
			s.logError(opSend, "chat_update_failed", err, zap.String("chat_id", chatID))
			return apperr.DependencyFailure(opSend, "chat_update_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return Message{}, txErr
	}

	if err := s.db.WithContext(ctx).Preload("Sender").Where("id = ?", message.ID).Take(&message).Error; err != nil {
		s.logError(opSend, "reload_failed", err, zap.String("message_id", message.ID))
	}
	if s.publisher != nil {
		for _, recipient := range recipients {
			s.publisher.Publish(realtime.Message{
				UserID:    recipient,
				EventType: realtime.EventNewMessage,
				Payload:   message,
			})
		}
	}
	return message, nil
}

// ListMessages returns the chat's messages oldest first. Only participants may read them.
func (s *Service) ListMessages(ctx context.Context, userID, chatID string) ([]Message, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperr.Unauthorized(opListMessages, "missing_user_id", errMissingUserID)
	}
	db := s.db.WithContext(ctx)
	participants, err := s.participants(db, opListMessages, chatID)
	if err != nil {
		return nil, err
	}
	member := false
	for _, participant := range participants {
		if participant.UserID == userID {
			member = true
			break
		}
	}
	if !member {
		return nil, apperr.Unauthorized(opListMessages, "not_participant", errNotParticipant)
	}

	messages := []Message{}
	if err := db.
		Preload("Sender").
		Where("chat_id = ?", strings.TrimSpace(chatID)).
		Order("created_at ASC, id ASC").
		Find(&messages).Error; err != nil {
		s.logError(opListMessages, "query_failed", err, zap.String("chat_id", chatID))
		return nil, apperr.DependencyFailure(opListMessages, "query_failed", err)
	}
	return messages, nil
}

// PurgeUser deletes every chat the user takes part in together with its messages.
func (s *Service) PurgeUser(tx *gorm.DB, userID string) (func(context.Context), error) {
	var chatIDs []string
	if err := tx.Model(&Participant{}).Where("user_id = ?", userID).Pluck("chat_id", &chatIDs).Error; err != nil {
		s.logError(opPurgeUser, "chat_select_failed", err, zap.String("user_id", userID))
		return nil, apperr.DependencyFailure(opPurgeUser, "chat_select_failed", err)
	}
	if len(chatIDs) == 0 {
		return nil, nil
	}
	for _, step := range []struct {
		reason string
		model  interface{}
		query  string
	}{
		{"message_delete_failed", &Message{}, "chat_id IN ?"},
		{"participant_delete_failed", &Participant{}, "chat_id IN ?"},
		{"chat_delete_failed", &Chat{}, "id IN ?"},
	} {
		if err := tx.Where(step.query, chatIDs).Delete(step.model).Error; err != nil {
			s.logError(opPurgeUser, step.reason, err, zap.String("user_id", userID))
			return nil, apperr.DependencyFailure(opPurgeUser, step.reason, err)
		}
	}
	return nil, nil
}

func (s *Service) participants(db *gorm.DB, operation, chatID string) ([]Participant, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return nil, apperr.InvalidInput(operation, "missing_chat_id", errMissingChatID)
	}
	var participants []Participant
	if err := db.Where("chat_id = ?", chatID).Find(&participants).Error; err != nil {
		s.logError(operation, "participant_select_failed", err, zap.String("chat_id", chatID))
		return nil, apperr.DependencyFailure(operation, "participant_select_failed", err)
	}
	if len(participants) == 0 {
		return nil, apperr.NotFound(operation, "chat_missing", errChatMissing)
	}
	return participants, nil
}

func (s *Service) load(ctx context.Context, operation, chatID string) (Chat, error) {
	var chat Chat
	err := s.db.WithContext(ctx).Scopes(withDetails).Where("id = ?", chatID).Take(&chat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Chat{}, apperr.NotFound(operation, "chat_missing", errChatMissing)
	}
	if err != nil {
		s.logError(operation, "chat_select_failed", err, zap.String("chat_id", chatID))
		return Chat{}, apperr.DependencyFailure(operation, "chat_select_failed", err)
	}
	return chat, nil
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
	s.logger.Error("chats service error", attrs...)
}

func withDetails(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Participants").
		Preload("Participants.User").
		Preload("LatestMessage").
		Preload("LatestMessage.Sender")
}
