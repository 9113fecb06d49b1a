package store

import (
	"errors"
	"time"

	"whisperchat/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ExpiredMessage is the minimal projection the burn sweeper needs: enough to
// delete the row, its file payload, and notify the chat's members.
type ExpiredMessage struct {
	MessageID int64
	ChatID    int64
	Type      models.MessageType
}

type Store interface {
	// User operations
	CreateUser(user *models.User) error
	GetUserByUsername(username string) (*models.User, error)
	GetUserByID(id int64) (*models.User, error)
	SearchUsers(query string) ([]models.User, error)
	SetSignature(userID int64, signature string) error
	AddDonation(userID int64, amount int64) error

	// Friendship operations
	AddFriend(a, b int64) error
	RemoveFriend(a, b int64) error
	AreFriends(a, b int64) (bool, error)
	GetFriends(userID int64) ([]models.User, error)

	// Chat operations
	CreateChat(name string, ownerID int64, private bool) (int64, error)
	GetChat(chatID int64) (*models.Chat, error)
	IsChatOwner(chatID, userID int64) (bool, error)
	RenameChat(chatID int64, newName string) error
	TouchChat(chatID int64) error
	SetBurnTime(chatID int64, burnMillis *int64) error
	DeleteChat(chatID int64) error
	FindPrivateChat(a, b int64) (*models.Chat, error)
	GetOrCreateMomentChat(ownerID int64, ownerName string) (int64, error)
	GetMomentChatByOwner(ownerID int64) (*models.Chat, error)

	// Membership operations
	AddMember(chatID, userID int64, encryptedKey string) error
	RemoveMember(chatID, userID int64) error
	IsMember(chatID, userID int64) (bool, error)
	GetMemberIDs(chatID int64) ([]int64, error)
	GetChatMembers(chatID int64) ([]models.ChatMember, error)
	GetUserChats(userID int64) ([]models.ChatSummary, error)
	IncrementUnread(chatID, senderID int64) error
	ResetUnread(chatID, userID int64) error
	SetMentionMarker(chatID, userID int64) error
	GetUnread(chatID, userID int64) (count int, mentioned bool, err error)
	SetDoNotDisturb(chatID, userID int64, dnd bool) (bool, error)
	GetMemberKey(chatID, userID int64) (string, error)

	// Message operations
	AddMessage(chatID, senderID int64, content string, typ models.MessageType, replyTo *int64) (int64, error)
	AddSystemMessage(chatID int64, content string) (int64, error)
	GetMessage(messageID int64) (*models.Message, error)
	UpdateMessage(messageID int64, newContent *string) error
	MarkRead(messageID int64, readAt time.Time, burnAt *time.Time) error
	ToggleReaction(messageID, userID int64, emoji string) error
	GetChatMessages(chatID int64, beforeTime *int64, count int) ([]models.Message, error)
	GetMomentFeed(userID int64, offset int64, count int) ([]models.MomentPost, error)
	GetMomentComments(momentMessageID int64) ([]models.Message, error)
	GetFileMessageIDs(chatID int64) ([]int64, error)
	ExpiredMessages(now time.Time) ([]ExpiredMessage, error)
	DeleteMessage(messageID int64) error
	DeleteChatMessages(chatID int64) error
	TopActiveUsers(after time.Time) ([]models.ActivityCount, error)
	TopActiveChats(after time.Time) ([]models.ActivityCount, error)
}
