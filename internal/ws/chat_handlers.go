package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"whisperchat/internal/models"
	"whisperchat/internal/store"
)

func (rt *Router) handleGetChats(user *models.User, data json.RawMessage) ([]Event, error) {
	chats, err := rt.store.GetUserChats(user.ID)
	if err != nil {
		return nil, err
	}
	return []Event{chatsListEvent(chats)}, nil
}

func (rt *Router) handleGetMessages(user *models.User, data json.RawMessage) ([]Event, error) {
	var req struct {
		ChatID int64  `json:"chatId"`
		Before *int64 `json:"before"`
		Count  int    `json:"count"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.Count <= 0 {
		return nil, errValidation("Get messages failed: Invalid packet format")
	}

	ok, err := rt.store.IsMember(req.ChatID, user.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errAuth("Get messages failed: You are not a member of this chat")
	}

	msgs, err := rt.store.GetChatMessages(req.ChatID, req.Before, req.Count)
	if err != nil {
		return nil, err
	}

	events := []Event{messagesListEvent(req.ChatID, msgs)}
	// Opening the newest page counts as reading the chat.
	if req.Before == nil {
		if err := rt.store.ResetUnread(req.ChatID, user.ID); err != nil {
			return nil, err
		}
		events = append(events, unreadCountEvent(req.ChatID, 0, false))
	}
	return events, nil
}

func (rt *Router) handleSendMessage(user *models.User, data json.RawMessage) ([]Event, error) {
	var req struct {
		ChatID    int64              `json:"chatId"`
		Message   string             `json:"message"`
		Type      models.MessageType `json:"type"`
		ReplyTo   *int64             `json:"replyTo"`
		AtUserIDs []int64            `json:"atUserIds"`
	}
	if err := json.Unmarshal(data, &req); err != nil || !req.Type.Valid() || req.Type == models.TypeSystem {
		return nil, errValidation("Send message failed: Invalid packet format")
	}

	chat, err := rt.store.GetChat(req.ChatID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errValidation("Send message failed: Chat not found")
	}
	if err != nil {
		return nil, err
	}
	// Viewers comment on moments by replying; root posts are owner-only.
	if chat.IsMoment && chat.OwnerID != user.ID && req.ReplyTo == nil {
		return nil, errAuth("Send message failed: Only the owner can post to their moments")
	}
	ok, err := rt.store.IsMember(req.ChatID, user.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errAuth("Send message failed: You are not a member of this chat")
	}

	if req.ReplyTo != nil {
		replied, err := rt.store.GetMessage(*req.ReplyTo)
		if errors.Is(err, store.ErrNotFound) || (err == nil && (replied.ChatID != req.ChatID || replied.SenderID == nil)) {
			return nil, errValidation("Send message failed: Replied message not found or not in this chat or is a system message")
		}
		if err != nil {
			return nil, err
		}
	}

	content := req.Message
	if req.Type != models.TypeText {
		content = "" // payload goes to file storage, keyed by the new id
	}
	msgID, err := rt.store.AddMessage(req.ChatID, user.ID, content, req.Type, req.ReplyTo)
	if err != nil {
		return nil, err
	}
	full, err := rt.store.GetMessage(msgID)
	if err != nil {
		return nil, err
	}

	if err := rt.store.TouchChat(req.ChatID); err != nil {
		return nil, err
	}
	if err := rt.store.IncrementUnread(req.ChatID, user.ID); err != nil {
		return nil, err
	}
	for _, atUserID := range req.AtUserIDs {
		if err := rt.store.SetMentionMarker(req.ChatID, atUserID); err != nil {
			log.Printf("ws: mention marker for user %d in chat %d: %v", atUserID, req.ChatID, err)
		}
	}

	rt.DistributeMessage(full, false)
	return []Event{receiveMessageEvent(full, false)}, nil
}

func (rt *Router) handleEditMessage(user *models.User, data json.RawMessage) ([]Event, error) {
	var req struct {
		MessageID int64   `json:"messageId"`
		Message   *string `json:"message"`
		AtUserIDs []int64 `json:"atUserIds"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errValidation("Edit message failed: Invalid packet format")
	}

	original, err := rt.store.GetMessage(req.MessageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errValidation("Edit message failed: Message not found")
	}
	if err != nil {
		return nil, err
	}
	if original.SenderID == nil || *original.SenderID != user.ID {
		return nil, errAuth("Edit message failed: You can only edit your own messages")
	}
	ok, err := rt.store.IsMember(original.ChatID, user.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errAuth("Edit message failed: You are not a member of this chat")
	}

	if req.Message == nil {
		if err := rt.files.DeleteFile(req.MessageID); err != nil {
			log.Printf("ws: delete file for message %d: %v", req.MessageID, err)
		}
	}
	if err := rt.store.UpdateMessage(req.MessageID, req.Message); err != nil {
		return nil, err
	}
	for _, atUserID := range req.AtUserIDs {
		if err := rt.store.SetMentionMarker(original.ChatID, atUserID); err != nil {
			log.Printf("ws: mention marker for user %d in chat %d: %v", atUserID, original.ChatID, err)
		}
	}

	// Distribute a copy reflecting the edit. For deletions the content goes
	// empty and the type falls back to TEXT, which clients render as removed.
	updated := *original
	if req.Message == nil {
		updated.Content = ""
		updated.Type = models.TypeText
	} else {
		updated.Content = *req.Message
	}
	rt.DistributeMessage(&updated, true)
	return nil, nil
}

func (rt *Router) handleMarkMessageRead(user *models.User, data json.RawMessage) ([]Event, error) {
	var req struct {
		MessageID int64 `json:"messageId"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errValidation("Mark message read failed: Invalid packet format")
	}

	msg, err := rt.store.GetMessage(req.MessageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	chat, err := rt.store.GetChat(msg.ChatID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ok, err := rt.store.IsMember(msg.ChatID, user.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	// Read receipts only apply to the recipient side of a private chat, once.
	if (msg.SenderID != nil && *msg.SenderID == user.ID) || msg.ReadAt != nil || !chat.Private {
		return nil, nil
	}

	now := time.Now()
	var burnAt *time.Time
	if chat.BurnTime != nil {
		deadline := now.Add(time.Duration(*chat.BurnTime) * time.Millisecond)
		burnAt = &deadline
	}
	if err := rt.store.MarkRead(req.MessageID, now, burnAt); err != nil {
		return nil, err
	}
	updated, err := rt.store.GetMessage(req.MessageID)
	if err != nil {
		return nil, err
	}
	rt.DistributeMessage(updated, true)
	return nil, nil
}

func (rt *Router) handleToggleReaction(user *models.User, data json.RawMessage) ([]Event, error) {
	var req struct {
		MessageID int64  `json:"messageId"`
		Emoji     string `json:"emoji"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.Emoji == "" {
		return nil, errValidation("Toggle reaction failed: Invalid packet format")
	}

	msg, err := rt.store.GetMessage(req.MessageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errValidation("Toggle reaction failed: Message not found")
	}
	if err != nil {
		return nil, err
	}
	chat, err := rt.store.GetChat(msg.ChatID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errValidation("Toggle reaction failed: Chat not found")
	}
	if err != nil {
		return nil, err
	}
	ok, err := rt.store.IsMember(msg.ChatID, user.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errAuth("Toggle reaction failed: You are not a member of this chat")
	}

	if err := rt.store.ToggleReaction(req.MessageID, user.ID, req.Emoji); err != nil {
		return nil, err
	}
	updated, err := rt.store.GetMessage(req.MessageID)
	if err != nil {
		return nil, err
	}

	if chat.IsMoment {
		// Moment viewers get a targeted edit event instead of a chat message.
		memberIDs, err := rt.store.GetMemberIDs(chat.ID)
		if err != nil {
			return nil, err
		}
		ev := momentEditedEvent(updated.ID, updated.Content, updated.Reactions)
		for _, uid := range memberIDs {
			rt.deliver(uid, ev)
		}
		return nil, nil
	}
	rt.DistributeMessage(updated, true)
	return nil, nil
}

func (rt *Router) handleSetBurnTime(user *models.User, data json.RawMessage) ([]Event, error) {
	var req struct {
		ChatID   int64  `json:"chatId"`
		BurnTime *int64 `json:"burnTime"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errValidation("Set burn time failed: Invalid packet format")
	}
	if req.BurnTime != nil && *req.BurnTime <= 0 {
		return nil, errValidation("Set burn time failed: Burn time must be positive")
	}

	ok, err := rt.store.IsMember(req.ChatID, user.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errAuth("Set burn time failed: You are not a member of this chat")
	}
	chat, err := rt.store.GetChat(req.ChatID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errValidation("Set burn time failed: Chat not found")
	}
	if err != nil {
		return nil, err
	}
	if !chat.Private {
		return nil, errValidation("Set burn time failed: Burn after read is only available for private chats")
	}

	if err := rt.store.SetBurnTime(req.ChatID, req.BurnTime); err != nil {
		return nil, err
	}

	memberIDs, err := rt.store.GetMemberIDs(req.ChatID)
	if err != nil {
		return nil, err
	}
	rt.pushChatListAll(memberIDs)

	if req.BurnTime != nil {
		return []Event{successEvent(fmt.Sprintf("Burn time set to %d seconds", *req.BurnTime/1000))}, nil
	}
	return []Event{successEvent("Burn after read disabled")}, nil
}

func (rt *Router) handleSetDoNotDisturb(user *models.User, data json.RawMessage) ([]Event, error) {
	var req struct {
		ChatID       int64 `json:"chatId"`
		DoNotDisturb bool  `json:"doNotDisturb"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errValidation("Set do not disturb failed: Invalid packet format")
	}

	ok, err := rt.store.SetDoNotDisturb(req.ChatID, user.ID, req.DoNotDisturb)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errAuth("You are not a member of this chat")
	}
	chats, err := rt.store.GetUserChats(user.ID)
	if err != nil {
		return nil, err
	}
	return []Event{
		successEvent(fmt.Sprintf("Do Not Disturb set to %t", req.DoNotDisturb)),
		chatsListEvent(chats),
	}, nil
}

func (rt *Router) handleGetChatDetails(user *models.User, data json.RawMessage) ([]Event, error) {
	var req struct {
		ChatID int64 `json:"chatId"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errValidation("Get chat details failed: Invalid packet format")
	}

	ok, err := rt.store.IsMember(req.ChatID, user.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errAuth("Get chat details failed: You are not a member of this chat")
	}
	chat, err := rt.store.GetChat(req.ChatID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errValidation("Get chat details failed: Chat not found")
	}
	if err != nil {
		return nil, err
	}
	members, err := rt.store.GetChatMembers(req.ChatID)
	if err != nil {
		return nil, err
	}
	return []Event{chatDetailsEvent(chat, members)}, nil
}

func (rt *Router) handleRenameChat(user *models.User, data json.RawMessage) ([]Event, error) {
	var req struct {
		ChatID  int64  `json:"chatId"`
		NewName string `json:"newName"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.NewName == "" {
		return nil, errValidation("Rename chat failed: Invalid packet format")
	}

	ok, err := rt.store.IsChatOwner(req.ChatID, user.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errAuth("Only owner can rename chat")
	}
	if err := rt.store.RenameChat(req.ChatID, req.NewName); err != nil {
		return nil, err
	}

	sysID, err := rt.store.AddSystemMessage(req.ChatID, fmt.Sprintf("%s changed the chat name to %q", user.Username, req.NewName))
	if err != nil {
		return nil, err
	}

	memberIDs, err := rt.store.GetMemberIDs(req.ChatID)
	if err != nil {
		return nil, err
	}
	rt.pushChatListAll(memberIDs)

	// Non-silent so every member's session shows the rename immediately.
	if sysMsg, err := rt.store.GetMessage(sysID); err == nil {
		rt.DistributeMessage(sysMsg, false)
	}
	return []Event{successEvent("Chat renamed successfully")}, nil
}
