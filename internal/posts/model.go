package posts

import (
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/murmur/backend/internal/users"
)

// Post is an image with a caption owned by one user.
type Post struct {
	ID        string    `gorm:"column:id;primaryKey;size:36;not null" json:"id"`
	OwnerID   string    `gorm:"column:owner_id;size:36;not null;index:idx_posts_owner_created,priority:1" json:"ownerId"`
	ImageURL  string    `gorm:"column:image_url;size:512;not null" json:"imageUrl"`
	Caption   string    `gorm:"column:caption;size:2200" json:"caption"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index:idx_posts_owner_created,priority:2;index:idx_posts_created" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null" json:"updatedAt"`

	Owner    *users.User `gorm:"-:migration;foreignKey:OwnerID;references:ID" json:"owner,omitempty"`
	Comments []Comment   `gorm:"-:migration;foreignKey:PostID;references:ID" json:"comments"`
	Likes    []Like      `gorm:"-:migration;foreignKey:PostID;references:ID" json:"likes"`
}

// TableName exposes the table backing posts.
func (Post) TableName() string {
	return "posts"
}

// LikedBy reports whether userID is in the post's loaded like set.
func (p Post) LikedBy(userID string) bool {
	for _, like := range p.Likes {
		if like.UserID == userID {
			return true
		}
	}
	return false
}

// Comment belongs to exactly one post. Comments are addressed by ID, never by position.
type Comment struct {
	ID        string    `gorm:"column:id;primaryKey;size:36;not null" json:"id"`
	PostID    string    `gorm:"column:post_id;size:36;not null;index:idx_post_comments_post" json:"postId"`
	AuthorID  string    `gorm:"column:author_id;size:36;not null;index:idx_post_comments_author" json:"authorId"`
	Text      string    `gorm:"column:text;size:2200;not null" json:"text"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"createdAt"`

	Author *users.User `gorm:"-:migration;foreignKey:AuthorID;references:ID" json:"author,omitempty"`
}

func (Comment) TableName() string {
	return "post_comments"
}

// Like records that UserID likes PostID. The composite key admits each pair once.
type Like struct {
	PostID    string    `gorm:"column:post_id;primaryKey;size:36;not null" json:"postId"`
	UserID    string    `gorm:"column:user_id;primaryKey;size:36;not null;index:idx_post_likes_user" json:"userId"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"createdAt"`

	User *users.User `gorm:"-:migration;foreignKey:UserID;references:ID" json:"user,omitempty"`
}

func (Like) TableName() string {
	return "post_likes"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
