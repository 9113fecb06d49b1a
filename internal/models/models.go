package models

import "time"

// MessageType mirrors the message "type" column. Non-TEXT payloads live in
// file storage keyed by message id; the content column stays empty for them.
type MessageType string

const (
	TypeText   MessageType = "TEXT"
	TypeImage  MessageType = "IMAGE"
	TypeVideo  MessageType = "VIDEO"
	TypeFile   MessageType = "FILE"
	TypeSystem MessageType = "SYSTEM"
)

func (t MessageType) Valid() bool {
	switch t {
	case TypeText, TypeImage, TypeVideo, TypeFile, TypeSystem:
		return true
	}
	return false
}

// HasFile reports whether the message body lives in external file storage.
func (t MessageType) HasFile() bool {
	return t == TypeImage || t == TypeVideo || t == TypeFile
}

type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Password  string `json:"-"`
	PublicKey string `json:"public_key"`
	Signature string `json:"signature"`
	IsDonor   bool   `json:"isDonor"`
}

type Chat struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	OwnerID    int64     `json:"owner"`
	Private    bool      `json:"private"`
	IsMoment   bool      `json:"isMoment"`
	BurnTime   *int64    `json:"burnTime"` // milliseconds, nil = burn disabled
	LastChatAt time.Time `json:"lastChatAt"`
}

// ChatMember is the membership row projection used in chat details.
type ChatMember struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	IsDonor bool   `json:"isDonor"`
}

// ChatSummary is one entry of a user's chat list. Name is resolved per viewer:
// for private chats it is the other participant's username.
type ChatSummary struct {
	ChatID           int64        `json:"chatId"`
	Name             string       `json:"name"`
	Key              string       `json:"key"`
	Members          []ChatMember `json:"members"`
	IsPrivate        bool         `json:"isPrivate"`
	UnreadCount      int          `json:"unreadCount"`
	Mentioned        bool         `json:"mentioned"`
	DoNotDisturb     bool         `json:"doNotDisturb"`
	BurnTime         *int64       `json:"burnTime"`
	OtherUserIsDonor bool         `json:"otherUserIsDonor"`
}

// ReplyInfo is the denormalized preview of the message a message replies to.
type ReplyInfo struct {
	MessageID  int64       `json:"messageId"`
	Content    string      `json:"content"`
	SenderID   int64       `json:"senderId"`
	SenderName string      `json:"senderName"`
	Type       MessageType `json:"type"`
}

type Reaction struct {
	UserID int64  `json:"userId"`
	Emoji  string `json:"emoji"`
}

// Message is the hydrated message shape sent to clients. SenderID is nil for
// system messages. Time, ReadAt and Burn are epoch milliseconds on the wire.
type Message struct {
	ID            int64       `json:"id"`
	Content       string      `json:"content"`
	Type          MessageType `json:"type"`
	ChatID        int64       `json:"chatId"`
	SenderID      *int64      `json:"senderId"`
	SenderName    *string     `json:"senderName"`
	Time          int64       `json:"time"`
	ReplyTo       *ReplyInfo  `json:"replyTo"`
	ReadAt        *int64      `json:"readAt"`
	Burn          *int64      `json:"burn"` // burn deadline, set once the message is read
	SenderIsDonor bool        `json:"senderIsDonor"`
	Reactions     []Reaction  `json:"reactions"`
}

// MomentPost is one entry of the moment feed: a root message of a moment chat
// annotated with the viewer's own decryption key for that chat.
type MomentPost struct {
	MessageID    int64       `json:"messageId"`
	Content      string      `json:"content"`
	Type         MessageType `json:"type"`
	OwnerID      int64       `json:"ownerId"`
	OwnerName    string      `json:"ownerName"`
	Time         int64       `json:"time"`
	Key          string      `json:"key"`
	OwnerIsDonor bool        `json:"ownerIsDonor"`
}

// ActivityCount is a (name, message count) aggregate row for the weekly summary.
type ActivityCount struct {
	Name  string
	Count int64
}
