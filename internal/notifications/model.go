package notifications

import "time"

// Type names the social action that produced a notification.
type Type string

const (
	TypeLike    Type = "like"
	TypeComment Type = "comment"
	TypeFollow  Type = "follow"
)

func (t Type) valid() bool {
	switch t {
	case TypeLike, TypeComment, TypeFollow:
		return true
	}
	return false
}

// Notification is an append-only record of a social event addressed to RecipientID.
// ReadAt is the only field written after creation.
type Notification struct {
	ID          string     `gorm:"column:id;primaryKey;size:36;not null" json:"id"`
	RecipientID string     `gorm:"column:recipient_id;size:36;not null;index:idx_notifications_recipient_created,priority:1" json:"recipientId"`
	SenderID    string     `gorm:"column:sender_id;size:36;not null;index:idx_notifications_sender" json:"senderId"`
	Type        Type       `gorm:"column:type;size:16;not null" json:"type"`
	PostID      *string    `gorm:"column:post_id;size:36;index:idx_notifications_post" json:"postId,omitempty"`
	Comment     string     `gorm:"column:comment;size:2200" json:"comment,omitempty"`
	ReadAt      *time.Time `gorm:"column:read_at" json:"readAt"`
	CreatedAt   time.Time  `gorm:"column:created_at;not null;index:idx_notifications_recipient_created,priority:2" json:"createdAt"`

	Sender *Sender `gorm:"-:migration;foreignKey:SenderID;references:ID" json:"sender,omitempty"`
	Post   *Post   `gorm:"-:migration;foreignKey:PostID;references:ID" json:"post,omitempty"`
}

// TableName exposes the table backing notifications.
func (Notification) TableName() string {
	return "notifications"
}

// Sender is the slice of a user record needed to render a notification.
type Sender struct {
	ID             string `gorm:"column:id;primaryKey" json:"id"`
	Username       string `gorm:"column:username" json:"username"`
	ProfilePicture string `gorm:"column:profile_picture" json:"profilePicture"`
}

func (Sender) TableName() string {
	return "users"
}

// Post is the slice of a post record needed to render a notification.
type Post struct {
	ID       string `gorm:"column:id;primaryKey" json:"id"`
	OwnerID  string `gorm:"column:owner_id" json:"ownerId"`
	ImageURL string `gorm:"column:image_url" json:"imageUrl"`
}

func (Post) TableName() string {
	return "posts"
}

// Entry describes a notification to record.
type Entry struct {
	Type        Type
	RecipientID string
	SenderID    string
	PostID      string
	Comment     string
}
