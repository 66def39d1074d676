package domain

import (
	"time"
)

type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

func (s MessageStatus) Valid() bool {
	switch s {
	case StatusSent, StatusDelivered, StatusRead:
		return true
	}
	return false
}

type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
	ContentVideo ContentType = "video"
)

// User is the persisted profile owned by the identity subsystem. The relay
// only reads display fields and writes the presence columns.
type User struct {
	ID             string
	Username       string
	ProfilePicture string
	IsOnline       bool
	LastSeen       *time.Time
}

func (u *User) Summary() UserSummary {
	if u == nil {
		return UserSummary{}
	}
	return UserSummary{
		ID:             u.ID,
		Username:       u.Username,
		ProfilePicture: u.ProfilePicture,
	}
}

// UserSummary holds the display fields attached to relayed messages.
type UserSummary struct {
	ID             string `json:"id"`
	Username       string `json:"username,omitempty"`
	ProfilePicture string `json:"profilePicture,omitempty"`
}

// Conversation is a one-to-one chat between two participants.
type Conversation struct {
	ID            string
	Participants  [2]string
	LastMessageID string
	UnreadCount   int
	UpdatedAt     time.Time
}

type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	ReceiverID     string
	Content        string
	MediaURL       string
	ContentType    ContentType
	Status         MessageStatus
	Reactions      []Reaction
	CreatedAt      time.Time
}

// Reaction is one user's emoji on a message. A message carries at most one
// reaction per user.
type Reaction struct {
	UserID    string    `json:"userId"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"createdAt"`
}

// UserStatus answers get_user_status and is broadcast as user_status.
type UserStatus struct {
	UserID   string     `json:"userId"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen"`
}
