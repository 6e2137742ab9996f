package chats

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/murmur/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/realtime"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/users"
	"github.com/brianvoe/gofakeit/v7"
	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type recordingPublisher struct {
	mu       sync.Mutex
	messages []realtime.Message
}

func (p *recordingPublisher) Publish(message realtime.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message)
}

func newTestService(t *testing.T) (*Service, *gorm.DB, *recordingPublisher) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "chats.db")), &gorm.Config{
		TranslateError:                           true,
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&users.User{}, &Chat{}, &Participant{}, &Message{}))

	current := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	publisher := &recordingPublisher{}
	service, err := NewService(ServiceConfig{
		Database:   db,
		IDProvider: ids.NewUUIDProvider(),
		Publisher:  publisher,
		Clock: func() time.Time {
			current = current.Add(time.Second)
			return current
		},
	})
	require.NoError(t, err)
	return service, db, publisher
}

func createUser(t *testing.T, db *gorm.DB) users.User {
	t.Helper()
	username := gofakeit.Username()
	user := users.User{
		ID:           gofakeit.UUID(),
		Name:         gofakeit.Name(),
		Username:     username + gofakeit.DigitN(4),
		Email:        gofakeit.Email(),
		PasswordHash: "hash",
	}
	require.NoError(t, db.Create(&user).Error)
	return user
}

func TestAccessCreatesOnceThenReturnsExisting(t *testing.T) {
	service, db, _ := newTestService(t)
	ctx := context.Background()
	alice := createUser(t, db)
	bob := createUser(t, db)

	chat, created, err := service.Access(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	require.True(t, created)
	require.Len(t, chat.Participants, 2)
	require.True(t, chat.HasParticipant(alice.ID))
	require.True(t, chat.HasParticipant(bob.ID))
	for _, participant := range chat.Participants {
		require.NotNil(t, participant.User)
	}

	again, created, err := service.Access(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, chat.ID, again.ID)

	var count int64
	require.NoError(t, db.Model(&Chat{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestAccessValidatesCounterpart(t *testing.T) {
	service, db, _ := newTestService(t)
	ctx := context.Background()
	alice := createUser(t, db)

	_, _, err := service.Access(ctx, alice.ID, "")
	require.True(t, apperr.Is(err, apperr.KindInvalidInput), "got %v", err)
	_, _, err = service.Access(ctx, alice.ID, alice.ID)
	require.True(t, apperr.Is(err, apperr.KindInvalidInput), "got %v", err)
	_, _, err = service.Access(ctx, alice.ID, "ghost")
	require.True(t, apperr.Is(err, apperr.KindNotFound), "got %v", err)
}

type fixedIDProvider struct {
	id string
}

func (p fixedIDProvider) NewID() (string, error) {
	return p.id, nil
}

func TestAccessSurfacesConflictWhenInsertKeepsColliding(t *testing.T) {
	_, db, _ := newTestService(t)
	ctx := context.Background()
	alice := createUser(t, db)
	bob := createUser(t, db)
	carol := createUser(t, db)

	service, err := NewService(ServiceConfig{Database: db, IDProvider: fixedIDProvider{id: gofakeit.UUID()}})
	require.NoError(t, err)

	_, created, err := service.Access(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	require.True(t, created)

	_, _, err = service.Access(ctx, alice.ID, carol.ID)
	require.True(t, apperr.Is(err, apperr.KindConflict), "got %v", err)

	var count int64
	require.NoError(t, db.Model(&Chat{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestSendMessageUpdatesLatestAndNotifiesCounterpart(t *testing.T) {
	service, db, publisher := newTestService(t)
	ctx := context.Background()
	alice := createUser(t, db)
	bob := createUser(t, db)
	carol := createUser(t, db)

	chat, _, err := service.Access(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	message, err := service.SendMessage(ctx, alice.ID, chat.ID, "  hello bob  ")
	require.NoError(t, err)
	require.Equal(t, "hello bob", message.Content)
	require.NotNil(t, message.Sender)
	require.Equal(t, alice.Username, message.Sender.Username)

	require.Len(t, publisher.messages, 1)
	require.Equal(t, bob.ID, publisher.messages[0].UserID)
	require.Equal(t, realtime.EventNewMessage, publisher.messages[0].EventType)

	listed, err := service.List(ctx, bob.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.NotNil(t, listed[0].LatestMessage)
	require.Equal(t, message.ID, listed[0].LatestMessage.ID)
	require.NotNil(t, listed[0].LatestMessage.Sender)

	_, err = service.SendMessage(ctx, carol.ID, chat.ID, "let me in")
	require.True(t, apperr.Is(err, apperr.KindUnauthorized), "got %v", err)
	_, err = service.SendMessage(ctx, alice.ID, chat.ID, " ")
	require.True(t, apperr.Is(err, apperr.KindInvalidInput), "got %v", err)
	_, err = service.SendMessage(ctx, alice.ID, "no-such-chat", "hi")
	require.True(t, apperr.Is(err, apperr.KindNotFound), "got %v", err)
}

func TestListOrdersByRecentActivity(t *testing.T) {
	service, db, _ := newTestService(t)
	ctx := context.Background()
	alice := createUser(t, db)
	bob := createUser(t, db)
	carol := createUser(t, db)

	withBob, _, err := service.Access(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	withCarol, _, err := service.Access(ctx, alice.ID, carol.ID)
	require.NoError(t, err)

	listed, err := service.List(ctx, alice.ID)
	require.NoError(t, err)
	require.Equal(t, []string{withCarol.ID, withBob.ID}, chatIDs(listed))

	_, err = service.SendMessage(ctx, bob.ID, withBob.ID, "ping")
	require.NoError(t, err)

	listed, err = service.List(ctx, alice.ID)
	require.NoError(t, err)
	require.Equal(t, []string{withBob.ID, withCarol.ID}, chatIDs(listed))

	carolChats, err := service.List(ctx, carol.ID)
	require.NoError(t, err)
	require.Equal(t, []string{withCarol.ID}, chatIDs(carolChats))
}

func TestListMessagesRestrictedToParticipants(t *testing.T) {
	service, db, _ := newTestService(t)
	ctx := context.Background()
	alice := createUser(t, db)
	bob := createUser(t, db)
	carol := createUser(t, db)

	chat, _, err := service.Access(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	first, err := service.SendMessage(ctx, alice.ID, chat.ID, "one")
	require.NoError(t, err)
	second, err := service.SendMessage(ctx, bob.ID, chat.ID, "two")
	require.NoError(t, err)

	messages, err := service.ListMessages(ctx, bob.ID, chat.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.Equal(t, first.ID, messages[0].ID)
	require.Equal(t, second.ID, messages[1].ID)

	_, err = service.ListMessages(ctx, carol.ID, chat.ID)
	require.True(t, apperr.Is(err, apperr.KindUnauthorized), "got %v", err)
	_, err = service.ListMessages(ctx, alice.ID, "no-such-chat")
	require.True(t, apperr.Is(err, apperr.KindNotFound), "got %v", err)
}

func TestPurgeUserRemovesChats(t *testing.T) {
	service, db, _ := newTestService(t)
	ctx := context.Background()
	alice := createUser(t, db)
	bob := createUser(t, db)
	carol := createUser(t, db)

	leaving, _, err := service.Access(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	_, err = service.SendMessage(ctx, alice.ID, leaving.ID, "bye")
	require.NoError(t, err)
	staying, _, err := service.Access(ctx, bob.ID, carol.ID)
	require.NoError(t, err)

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		_, err := service.PurgeUser(tx, alice.ID)
		return err
	}))

	bobChats, err := service.List(ctx, bob.ID)
	require.NoError(t, err)
	require.Equal(t, []string{staying.ID}, chatIDs(bobChats))

	var messages int64
	require.NoError(t, db.Model(&Message{}).Count(&messages).Error)
	require.Zero(t, messages)
}

func chatIDs(chats []Chat) []string {
	identifiers := make([]string, 0, len(chats))
	for _, chat := range chats {
		identifiers = append(identifiers, chat.ID)
	}
	return identifiers
}
