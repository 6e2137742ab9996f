package database

import (
	"sort"

	"github.com/MarcoPoloResearchLab/murmur/backend/internal/chats"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/notifications"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/posts"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReconcileReport counts the rows removed by each repair step.
type ReconcileReport map[string]int64

// Total sums the removed rows.
func (r ReconcileReport) Total() int64 {
	var total int64
	for _, removed := range r {
		total += removed
	}
	return total
}

type repairStep struct {
	name  string
	model interface{}
	where func(tx *gorm.DB) *gorm.DB
}

// Reconcile removes follow edges a user holds to themself, chats left with fewer than two
// participants, and every row that references a user, post or chat that no longer exists.
// Running it again on a repaired store removes nothing.
func Reconcile(db *gorm.DB, logger *zap.Logger) (ReconcileReport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	report := ReconcileReport{}
	err := db.Transaction(func(tx *gorm.DB) error {
		userIDs := tx.Model(&users.User{}).Select("id")
		postIDs := tx.Model(&posts.Post{}).Select("id")
		chatIDs := tx.Model(&chats.Chat{}).Select("id")
		pairedChatIDs := tx.Model(&chats.Participant{}).Select("chat_id").Group("chat_id").Having("COUNT(*) >= ?", 2)

		steps := []repairStep{
			{name: "self_follows", model: &users.Follow{}, where: func(tx *gorm.DB) *gorm.DB {
				return tx.Where("follower_id = followee_id")
			}},
			{name: "orphan_follows", model: &users.Follow{}, where: func(tx *gorm.DB) *gorm.DB {
				return tx.Where("follower_id NOT IN (?) OR followee_id NOT IN (?)", userIDs, userIDs)
			}},
			{name: "orphan_posts", model: &posts.Post{}, where: func(tx *gorm.DB) *gorm.DB {
				return tx.Where("owner_id NOT IN (?)", userIDs)
			}},
			{name: "orphan_comments", model: &posts.Comment{}, where: func(tx *gorm.DB) *gorm.DB {
				return tx.Where("post_id NOT IN (?) OR author_id NOT IN (?)", postIDs, userIDs)
			}},
			{name: "orphan_likes", model: &posts.Like{}, where: func(tx *gorm.DB) *gorm.DB {
				return tx.Where("post_id NOT IN (?) OR user_id NOT IN (?)", postIDs, userIDs)
			}},
			{name: "orphan_notifications", model: &notifications.Notification{}, where: func(tx *gorm.DB) *gorm.DB {
				return tx.Where("recipient_id NOT IN (?) OR sender_id NOT IN (?) OR (post_id IS NOT NULL AND post_id NOT IN (?))",
					userIDs, userIDs, postIDs)
			}},
			{name: "orphan_participants", model: &chats.Participant{}, where: func(tx *gorm.DB) *gorm.DB {
				return tx.Where("user_id NOT IN (?)", userIDs)
			}},
			{name: "orphan_chats", model: &chats.Chat{}, where: func(tx *gorm.DB) *gorm.DB {
				return tx.Where("id NOT IN (?)", pairedChatIDs)
			}},
			{name: "detached_participants", model: &chats.Participant{}, where: func(tx *gorm.DB) *gorm.DB {
				return tx.Where("chat_id NOT IN (?)", chatIDs)
			}},
			{name: "orphan_messages", model: &chats.Message{}, where: func(tx *gorm.DB) *gorm.DB {
				return tx.Where("chat_id NOT IN (?)", chatIDs)
			}},
		}

		for _, step := range steps {
			result := step.where(tx).Delete(step.model)
			if result.Error != nil {
				logger.Error("reconcile step failed", zap.String("step", step.name), zap.Error(result.Error))
				return result.Error
			}
			if result.RowsAffected > 0 {
				report[step.name] = result.RowsAffected
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(report))
	for name := range report {
		names = append(names, name)
	}
	sort.Strings(names)
	fields := []zap.Field{zap.Int64("rows_removed", report.Total())}
	for _, name := range names {
		fields = append(fields, zap.Int64(name, report[name]))
	}
	logger.Info("reconcile finished", fields...)
	return report, nil
}
