// Package graph applies the two-sided social mutations: follow edges and post likes. Each
// mutation and the notification it produces commit together.
package graph

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/murmur/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/notifications"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/posts"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingNotifier = errors.New("notifier is required")
	errMissingActor    = errors.New("acting user identifier is required")
	errMissingTarget   = errors.New("target identifier is required")
	errSelfFollow      = errors.New("users cannot follow themselves")
	errUserMissing     = errors.New("user not found")
	errPostMissing     = errors.New("post not found")
	noOpLogger         = zap.NewNop()
)

const (
	opMutatorNew = "graph.mutator.new"
	opFollow     = "graph.follow"
	opLike       = "graph.like"
)

// Notifier records notifications inside a transaction and delivers them after commit.
type Notifier interface {
	Record(tx *gorm.DB, entry notifications.Entry) (*notifications.Notification, error)
	Deliver(ctx context.Context, notification *notifications.Notification)
}

// MutatorConfig describes the dependencies of the graph mutator.
type MutatorConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Notifier Notifier
	Logger   *zap.Logger
}

// Mutator toggles follow edges and likes.
type Mutator struct {
	db       *gorm.DB
	now      func() time.Time
	notifier Notifier
	logger   *zap.Logger
}

func NewMutator(cfg MutatorConfig) (*Mutator, error) {
	if cfg.Database == nil {
		return nil, apperr.DependencyFailure(opMutatorNew, "missing_database", errMissingDatabase)
	}
	if cfg.Notifier == nil {
		return nil, apperr.DependencyFailure(opMutatorNew, "missing_notifier", errMissingNotifier)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Mutator{db: cfg.Database, now: clock, notifier: cfg.Notifier, logger: logger}, nil
}

// Change reports the state a mutation left behind.
type Change struct {
	// Active is true when the edge or like exists after the call.
	Active bool `json:"active"`
	// Changed is false when the call found the requested state already in place.
	Changed bool `json:"changed"`
}

// ToggleFollow follows target when actor does not follow it yet and unfollows otherwise.
func (m *Mutator) ToggleFollow(ctx context.Context, actorID, targetID string) (Change, error) {
	return m.follow(ctx, actorID, targetID, nil)
}

// SetFollow makes the follow edge match want. Repeating a call changes nothing.
func (m *Mutator) SetFollow(ctx context.Context, actorID, targetID string, want bool) (Change, error) {
	return m.follow(ctx, actorID, targetID, &want)
}

// ToggleLike likes the post when actor has not liked it yet and unlikes it otherwise.
func (m *Mutator) ToggleLike(ctx context.Context, actorID, postID string) (Change, error) {
	return m.like(ctx, actorID, postID, nil)
}

// SetLike makes the like match want. Repeating a call changes nothing.
func (m *Mutator) SetLike(ctx context.Context, actorID, postID string, want bool) (Change, error) {
	return m.like(ctx, actorID, postID, &want)
}

func (m *Mutator) follow(ctx context.Context, actorID, targetID string, want *bool) (Change, error) {
	actorID = strings.TrimSpace(actorID)
	targetID = strings.TrimSpace(targetID)
	if actorID == "" {
		return Change{}, apperr.Unauthorized(opFollow, "missing_actor", errMissingActor)
	}
	if targetID == "" {
		return Change{}, apperr.InvalidInput(opFollow, "missing_target", errMissingTarget)
	}
	if actorID == targetID {
		return Change{}, apperr.InvalidInput(opFollow, "self_follow", errSelfFollow)
	}

	var (
		change       Change
		notification *notifications.Notification
	)
	txErr := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := m.requireRow(tx, opFollow, &users.User{}, "user_missing", errUserMissing, targetID); err != nil {
			return err
		}
		edge := users.Follow{FollowerID: actorID, FolloweeID: targetID}
		present, err := m.present(tx, opFollow, &users.Follow{}, "follower_id = ? AND followee_id = ?", actorID, targetID)
		if err != nil {
			return err
		}
		change = decide(present, want)
		if !change.Changed {
			return nil
		}
		if !change.Active {
			if err := tx.Where("follower_id = ? AND followee_id = ?", actorID, targetID).Delete(&users.Follow{}).Error; err != nil {
				m.logError(opFollow, "delete_failed", err, zap.String("actor_id", actorID), zap.String("target_id", targetID))
				return apperr.DependencyFailure(opFollow, "delete_failed", err)
			}
			return nil
		}
		edge.CreatedAt = m.now().UTC()
		inserted := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&edge)
		if inserted.Error != nil {
			m.logError(opFollow, "insert_failed", inserted.Error, zap.String("actor_id", actorID), zap.String("target_id", targetID))
			return apperr.DependencyFailure(opFollow, "insert_failed", inserted.Error)
		}
		if inserted.RowsAffected == 0 {
			// a concurrent request created the edge first
			change.Changed = false
			return nil
		}
		notification, err = m.notifier.Record(tx, notifications.Entry{
			Type:        notifications.TypeFollow,
			RecipientID: targetID,
			SenderID:    actorID,
		})
		return err
	})
	if txErr != nil {
		return Change{}, txErr
	}
	m.notifier.Deliver(ctx, notification)
	if change.Changed {
		m.logger.Debug("follow edge changed",
			zap.String("actor_id", actorID),
			zap.String("target_id", targetID),
			zap.Bool("following", change.Active))
	}
	return change, nil
}

func (m *Mutator) like(ctx context.Context, actorID, postID string, want *bool) (Change, error) {
	actorID = strings.TrimSpace(actorID)
	postID = strings.TrimSpace(postID)
	if actorID == "" {
		return Change{}, apperr.Unauthorized(opLike, "missing_actor", errMissingActor)
	}
	if postID == "" {
		return Change{}, apperr.InvalidInput(opLike, "missing_post_id", errMissingTarget)
	}

	var (
		change       Change
		notification *notifications.Notification
	)
	txErr := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var post posts.Post
		err := tx.Select("id", "owner_id").Where("id = ?", postID).Take(&post).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound(opLike, "post_missing", errPostMissing)
		}
		if err != nil {
			m.logError(opLike, "post_select_failed", err, zap.String("post_id", postID))
			return apperr.DependencyFailure(opLike, "post_select_failed", err)
		}
		present, err := m.present(tx, opLike, &posts.Like{}, "post_id = ? AND user_id = ?", postID, actorID)
		if err != nil {
			return err
		}
		change = decide(present, want)
		if !change.Changed {
			return nil
		}
		if !change.Active {
			if err := tx.Where("post_id = ? AND user_id = ?", postID, actorID).Delete(&posts.Like{}).Error; err != nil {
				m.logError(opLike, "delete_failed", err, zap.String("post_id", postID), zap.String("actor_id", actorID))
				return apperr.DependencyFailure(opLike, "delete_failed", err)
			}
			return nil
		}
		like := posts.Like{PostID: postID, UserID: actorID, CreatedAt: m.now().UTC()}
		inserted := tx.Clauses(clause.OnConflict{DoNothing: true}).Omit("User").Create(&like)
		if inserted.Error != nil {
			m.logError(opLike, "insert_failed", inserted.Error, zap.String("post_id", postID), zap.String("actor_id", actorID))
			return apperr.DependencyFailure(opLike, "insert_failed", inserted.Error)
		}
		if inserted.RowsAffected == 0 {
			change.Changed = false
			return nil
		}
		notification, err = m.notifier.Record(tx, notifications.Entry{
			Type:        notifications.TypeLike,
			RecipientID: post.OwnerID,
			SenderID:    actorID,
			PostID:      postID,
		})
		return err
	})
	if txErr != nil {
		return Change{}, txErr
	}
	m.notifier.Deliver(ctx, notification)
	return change, nil
}

// decide maps the current state and an optional target state to the resulting change.
// A nil want toggles.
func decide(present bool, want *bool) Change {
	target := !present
	if want != nil {
		target = *want
	}
	return Change{Active: target, Changed: target != present}
}

func (m *Mutator) present(tx *gorm.DB, operation string, model interface{}, query string, args ...interface{}) (bool, error) {
	var count int64
	if err := tx.Model(model).Where(query, args...).Count(&count).Error; err != nil {
		m.logError(operation, "lookup_failed", err)
		return false, apperr.DependencyFailure(operation, "lookup_failed", err)
	}
	return count > 0, nil
}

func (m *Mutator) requireRow(tx *gorm.DB, operation string, model interface{}, reason string, missing error, id string) error {
	exists, err := m.present(tx, operation, model, "id = ?", id)
	if err != nil {
		return err
	}
	if !exists {
		return apperr.NotFound(operation, reason, missing)
	}
	return nil
}

func (m *Mutator) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	m.logger.Error("graph mutator error", attrs...)
}
