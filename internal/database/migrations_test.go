package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/murmur/backend/internal/chats"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/notifications"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/posts"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/users"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

func openTestDatabase(testContext *testing.T) *gorm.DB {
	testContext.Helper()
	database, err := Open(Config{Driver: DriverSQLite, Path: filepath.Join(testContext.TempDir(), "murmur.db")}, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		testContext.Fatalf("failed to access sql handle: %v", err)
	}
	testContext.Cleanup(func() { _ = sqlDB.Close() })
	return database
}

func mustCreate(testContext *testing.T, database *gorm.DB, values ...interface{}) {
	testContext.Helper()
	for _, value := range values {
		if err := database.Create(value).Error; err != nil {
			testContext.Fatalf("failed to insert %T: %v", value, err)
		}
	}
}

func countRows(testContext *testing.T, database *gorm.DB, model interface{}) int64 {
	testContext.Helper()
	var total int64
	if err := database.Model(model).Count(&total).Error; err != nil {
		testContext.Fatalf("failed to count %T: %v", model, err)
	}
	return total
}

func TestOpenRecordsReconcileMigration(testContext *testing.T) {
	database := openTestDatabase(testContext)

	var record migrationRecord
	if err := database.Where("name = ?", migrationReconcileSocialGraph).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}

	for _, model := range Models() {
		if !database.Migrator().HasTable(model) {
			testContext.Fatalf("expected table for %T", model)
		}
	}
}

func TestApplyMigrationsSkipsRecordedMigrations(testContext *testing.T) {
	database := openTestDatabase(testContext)
	core, logs := observer.New(zap.InfoLevel)

	if err := applyMigrations(database, zap.New(core)); err != nil {
		testContext.Fatalf("failed to re-apply migrations: %v", err)
	}
	if logs.FilterMessage("database migration applied").Len() != 0 {
		testContext.Fatalf("expected recorded migration to be skipped")
	}
	if countRows(testContext, database, &migrationRecord{}) != 1 {
		testContext.Fatalf("expected exactly one migration record")
	}
}

func TestOpenRejectsUnknownDriver(testContext *testing.T) {
	if _, err := Open(Config{Driver: "mongodb"}, nil); err == nil {
		testContext.Fatalf("expected unknown driver to fail")
	}
	if _, err := Open(Config{Driver: DriverSQLite}, nil); err == nil {
		testContext.Fatalf("expected missing sqlite path to fail")
	}
	if _, err := Open(Config{Driver: DriverPostgres}, nil); err == nil {
		testContext.Fatalf("expected missing postgres dsn to fail")
	}
}

func TestReconcileRemovesDanglingReferences(testContext *testing.T) {
	database := openTestDatabase(testContext)
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	ghostPost := "post-ghost"

	mustCreate(testContext, database,
		&users.User{ID: "user-a", Name: "Alice", Username: "alice", Email: "alice@example.com", PasswordHash: "x"},
		&users.User{ID: "user-b", Name: "Bobby", Username: "bobby", Email: "bobby@example.com", PasswordHash: "x"},
		&users.Follow{FollowerID: "user-a", FolloweeID: "user-b"},
		&users.Follow{FollowerID: "user-a", FolloweeID: "user-a"},
		&users.Follow{FollowerID: "user-gone", FolloweeID: "user-b"},
		&posts.Post{ID: "post-1", OwnerID: "user-b", ImageURL: "/assets/posts/1.png", CreatedAt: now, UpdatedAt: now},
		&posts.Post{ID: "post-orphan", OwnerID: "user-gone", ImageURL: "/assets/posts/2.png", CreatedAt: now, UpdatedAt: now},
		&posts.Comment{ID: "comment-1", PostID: "post-1", AuthorID: "user-a", Text: "hi", CreatedAt: now},
		&posts.Comment{ID: "comment-orphan", PostID: "post-orphan", AuthorID: "user-a", Text: "lost", CreatedAt: now},
		&posts.Like{PostID: "post-1", UserID: "user-a", CreatedAt: now},
		&posts.Like{PostID: "post-1", UserID: "user-gone", CreatedAt: now},
		&notifications.Notification{ID: "n-1", RecipientID: "user-b", SenderID: "user-a", Type: notifications.TypeFollow, CreatedAt: now},
		&notifications.Notification{ID: "n-orphan", RecipientID: "user-b", SenderID: "user-a", Type: notifications.TypeLike, PostID: &ghostPost, CreatedAt: now},
		&chats.Chat{ID: "chat-1", PairKey: "user-a:user-b", CreatedAt: now, UpdatedAt: now},
		&chats.Chat{ID: "chat-orphan", PairKey: "user-a:user-gone", CreatedAt: now, UpdatedAt: now},
		&chats.Participant{ChatID: "chat-1", UserID: "user-a"},
		&chats.Participant{ChatID: "chat-1", UserID: "user-b"},
		&chats.Participant{ChatID: "chat-orphan", UserID: "user-a"},
		&chats.Participant{ChatID: "chat-orphan", UserID: "user-gone"},
		&chats.Message{ID: "m-1", ChatID: "chat-1", SenderID: "user-a", Content: "hey", CreatedAt: now},
		&chats.Message{ID: "m-orphan", ChatID: "chat-orphan", SenderID: "user-a", Content: "anyone?", CreatedAt: now},
	)

	report, err := Reconcile(database, zap.NewNop())
	if err != nil {
		testContext.Fatalf("reconcile failed: %v", err)
	}

	expected := map[string]int64{
		"self_follows":          1,
		"orphan_follows":        1,
		"orphan_posts":          1,
		"orphan_comments":       1,
		"orphan_likes":          1,
		"orphan_notifications":  1,
		"orphan_participants":   1,
		"orphan_chats":          1,
		"detached_participants": 1,
		"orphan_messages":       1,
	}
	for step, removed := range expected {
		if report[step] != removed {
			testContext.Fatalf("expected %s to remove %d rows, got %d (report %v)", step, removed, report[step], report)
		}
	}

	for model, remaining := range map[interface{}]int64{
		&users.Follow{}:               1,
		&posts.Post{}:                 1,
		&posts.Comment{}:              1,
		&posts.Like{}:                 1,
		&notifications.Notification{}: 1,
		&chats.Chat{}:                 1,
		&chats.Participant{}:          2,
		&chats.Message{}:              1,
	} {
		if got := countRows(testContext, database, model); got != remaining {
			testContext.Fatalf("expected %d rows of %T, got %d", remaining, model, got)
		}
	}

	again, err := Reconcile(database, zap.NewNop())
	if err != nil {
		testContext.Fatalf("second reconcile failed: %v", err)
	}
	if again.Total() != 0 {
		testContext.Fatalf("expected second reconcile to remove nothing, got %v", again)
	}
}
