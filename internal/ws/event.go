package ws

import (
	"encoding/json"

	"whisperchat/internal/models"
)

// Event is one outbound packet. The "packet" field names the event; the rest
// of the contract is which fields each event carries and whether it is silent
// (view refresh only) or chat-list-affecting.
type Event map[string]interface{}

func (e Event) encode() ([]byte, error) {
	return json.Marshal(e)
}

func errorEvent(reason string) Event {
	return Event{"packet": "error", "error": reason}
}

func successEvent(message string) Event {
	return Event{"packet": "success", "message": message}
}

func chatsListEvent(chats []models.ChatSummary) Event {
	if chats == nil {
		chats = []models.ChatSummary{}
	}
	return Event{"packet": "chats_list", "chats": chats}
}

func messagesListEvent(chatID int64, messages []models.Message) Event {
	if messages == nil {
		messages = []models.Message{}
	}
	return Event{"packet": "messages_list", "chatId": chatID, "messages": messages}
}

func receiveMessageEvent(msg *models.Message, silent bool) Event {
	return Event{"packet": "receive_message", "message": msg, "silent": silent}
}

func unreadCountEvent(chatID int64, unread int, mentioned bool) Event {
	return Event{"packet": "unread_count", "chatId": chatID, "unread": unread, "mentioned": mentioned}
}

func chatDetailsEvent(chat *models.Chat, members []models.ChatMember) Event {
	return Event{"packet": "chat_details", "chat": chat, "members": members}
}

func messageDeletedEvent(chatID, messageID int64) Event {
	return Event{"packet": "message_deleted", "chatId": chatID, "messageId": messageID}
}

func momentsListEvent(moments []models.MomentPost) Event {
	if moments == nil {
		moments = []models.MomentPost{}
	}
	return Event{"packet": "moments_list", "moments": moments}
}

func momentEditedEvent(messageID int64, content string, reactions []models.Reaction) Event {
	if reactions == nil {
		reactions = []models.Reaction{}
	}
	return Event{"packet": "moment_edited", "messageId": messageID, "content": content, "reactions": reactions}
}
