package chats

import (
	"sort"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/murmur/backend/internal/users"
)

// Chat is a one-to-one conversation. PairKey holds the sorted participant identifiers so a
// pair of users shares at most one chat.
type Chat struct {
	ID              string    `gorm:"column:id;primaryKey;size:36;not null" json:"id"`
	PairKey         string    `gorm:"column:pair_key;size:80;not null;uniqueIndex:idx_chats_pair" json:"-"`
	LatestMessageID *string   `gorm:"column:latest_message_id;size:36" json:"latestMessageId,omitempty"`
	CreatedAt       time.Time `gorm:"column:created_at;not null" json:"createdAt"`
	UpdatedAt       time.Time `gorm:"column:updated_at;not null;index:idx_chats_updated" json:"updatedAt"`

	Participants  []Participant `gorm:"-:migration;foreignKey:ChatID;references:ID" json:"participants"`
	LatestMessage *Message      `gorm:"-:migration;foreignKey:LatestMessageID;references:ID" json:"latestMessage,omitempty"`
}

func (Chat) TableName() string {
	return "chats"
}

// HasParticipant reports whether userID takes part in the loaded chat.
func (c Chat) HasParticipant(userID string) bool {
	for _, participant := range c.Participants {
		if participant.UserID == userID {
			return true
		}
	}
	return false
}

// Participant links a user to a chat.
type Participant struct {
	ChatID string `gorm:"column:chat_id;primaryKey;size:36;not null" json:"chatId"`
	UserID string `gorm:"column:user_id;primaryKey;size:36;not null;index:idx_chat_participants_user" json:"userId"`

	User *users.User `gorm:"-:migration;foreignKey:UserID;references:ID" json:"user,omitempty"`
}

func (Participant) TableName() string {
	return "chat_participants"
}

// Message is one entry of a chat.
type Message struct {
	ID        string    `gorm:"column:id;primaryKey;size:36;not null" json:"id"`
	ChatID    string    `gorm:"column:chat_id;size:36;not null;index:idx_chat_messages_chat_created,priority:1" json:"chatId"`
	SenderID  string    `gorm:"column:sender_id;size:36;not null;index:idx_chat_messages_sender" json:"senderId"`
	Content   string    `gorm:"column:content;size:2000;not null" json:"content"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index:idx_chat_messages_chat_created,priority:2" json:"createdAt"`

	Sender *users.User `gorm:"-:migration;foreignKey:SenderID;references:ID" json:"sender,omitempty"`
}

func (Message) TableName() string {
	return "chat_messages"
}

func pairKey(first, second string) string {
	members := []string{first, second}
	sort.Strings(members)
	return strings.Join(members, ":")
}
