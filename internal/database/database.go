package database

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/murmur/backend/internal/chats"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/notifications"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/posts"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	postgresMaxOpenConns    = 25
	postgresStatementCache  = 256
	postgresConnMaxIdleTime = 5 * time.Minute
	postgresConnMaxLifetime = time.Hour
)

var (
	errUnknownDriver = errors.New("unknown database driver")
	errMissingPath   = errors.New("database path is required")
	errMissingDSN    = errors.New("database dsn is required")
)

// Config selects the backing store.
type Config struct {
	Driver string
	Path   string
	DSN    string
}

// Models lists every persisted type in migration order.
func Models() []interface{} {
	return []interface{}{
		&users.User{},
		&users.Follow{},
		&posts.Post{},
		&posts.Comment{},
		&posts.Like{},
		&notifications.Notification{},
		&chats.Chat{},
		&chats.Participant{},
		&chats.Message{},
		&migrationRecord{},
	}
}

// Open connects to the configured store, migrates the schema and applies pending named
// migrations.
func Open(cfg Config, logger *zap.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	gormConfig := &gorm.Config{
		TranslateError:                           true,
		DisableForeignKeyConstraintWhenMigrating: true,
	}

	var (
		db  *gorm.DB
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverSQLite:
		db, err = openSQLite(cfg.Path, gormConfig)
	case DriverPostgres:
		db, err = openPostgres(cfg.DSN, gormConfig)
	default:
		return nil, fmt.Errorf("%w: %s", errUnknownDriver, cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(Models()...); err != nil {
		return nil, err
	}
	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	logger.Info("database initialized", zap.String("driver", db.Dialector.Name()))
	return db, nil
}

func openSQLite(path string, gormConfig *gorm.Config) (*gorm.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errMissingPath
	}
	db, err := gorm.Open(sqlite.Open(path), gormConfig)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

func openPostgres(dsn string, gormConfig *gorm.Config) (*gorm.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errMissingDSN
	}
	connConfig, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	connConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheStatement
	connConfig.StatementCacheCapacity = postgresStatementCache

	sqlDB := stdlib.OpenDB(*connConfig)
	sqlDB.SetMaxOpenConns(postgresMaxOpenConns)
	sqlDB.SetConnMaxIdleTime(postgresConnMaxIdleTime)
	sqlDB.SetConnMaxLifetime(postgresConnMaxLifetime)

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), gormConfig)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}
