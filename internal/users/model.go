package users

import (
	"strings"
	"time"
)

// User is a registered account. The password hash never leaves the store.
type User struct {
	ID             string    `gorm:"column:id;primaryKey;size:36;not null" json:"id"`
	Name           string    `gorm:"column:name;size:64;not null" json:"name"`
	Username       string    `gorm:"column:username;size:64;not null;uniqueIndex:idx_users_username" json:"username"`
	Email          string    `gorm:"column:email;size:320;not null;uniqueIndex:idx_users_email" json:"email"`
	PasswordHash   string    `gorm:"column:password_hash;size:128;not null" json:"-"`
	ProfilePicture string    `gorm:"column:profile_picture;size:512" json:"profilePicture"`
	Bio            string    `gorm:"column:bio;size:256" json:"bio"`
	IsAdmin        bool      `gorm:"column:is_admin;not null;default:false" json:"isAdmin"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// TableName exposes the table backing user accounts.
func (User) TableName() string {
	return "users"
}

// Follow is a directed edge of the follow graph: FollowerID follows FolloweeID.
// The composite key keeps followers and followings free of duplicates.
type Follow struct {
	FollowerID string    `gorm:"column:follower_id;primaryKey;size:36;not null"`
	FolloweeID string    `gorm:"column:followee_id;primaryKey;size:36;not null;index:idx_follows_followee"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing follow edges.
func (Follow) TableName() string {
	return "follows"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
