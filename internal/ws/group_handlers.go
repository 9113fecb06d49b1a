package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"whisperchat/internal/models"
	"whisperchat/internal/store"
)

func (rt *Router) handleCreateGroup(user *models.User, data json.RawMessage) ([]Event, error) {
	var req struct {
		Name            string            `json:"name"`
		MemberUsernames []string          `json:"memberUsernames"`
		EncryptedKeys   map[string]string `json:"encryptedKeys"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.EncryptedKeys == nil {
		return nil, errValidation("Create group failed: Invalid packet format")
	}
	if req.Name == "" {
		req.Name = "New Group"
	}

	memberUsers := make([]*models.User, 0, len(req.MemberUsernames))
	for _, username := range req.MemberUsernames {
		u, err := rt.store.GetUserByUsername(username)
		if errors.Is(err, store.ErrNotFound) {
			return nil, errValidation("Create group failed: One or more users not found")
		}
		if err != nil {
			return nil, err
		}
		memberUsers = append(memberUsers, u)
	}

	var missing []string
	for _, username := range req.MemberUsernames {
		if _, ok := req.EncryptedKeys[username]; !ok {
			missing = append(missing, username)
		}
	}
	if len(missing) > 0 {
		return nil, errValidation("Create group failed: Missing keys for: %s", strings.Join(missing, ", "))
	}

	chatID, err := rt.store.CreateChat(req.Name, user.ID, false)
	if err != nil {
		return nil, err
	}
	if key, ok := req.EncryptedKeys[user.Username]; ok {
		if err := rt.store.AddMember(chatID, user.ID, key); err != nil {
			return nil, err
		}
	}
	for _, u := range memberUsers {
		if u.ID == user.ID {
			continue
		}
		if err := rt.store.AddMember(chatID, u.ID, req.EncryptedKeys[u.Username]); err != nil {
			return nil, err
		}
	}

	notified := map[int64]bool{user.ID: true}
	rt.pushChatList(user.ID)
	for _, u := range memberUsers {
		if !notified[u.ID] {
			notified[u.ID] = true
			rt.pushChatList(u.ID)
		}
	}
	return []Event{successEvent("Group created successfully")}, nil
}

func (rt *Router) handleAddMemberToChat(user *models.User, data json.RawMessage) ([]Event, error) {
	var req struct {
		ChatID       int64  `json:"chatId"`
		Username     string `json:"username"`
		EncryptedKey string `json:"encryptedKey"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.Username == "" {
		return nil, errValidation("Invalid packet format")
	}

	chat, err := rt.store.GetChat(req.ChatID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errValidation("Chat not found")
	}
	if err != nil {
		return nil, err
	}
	if chat.IsMoment && chat.OwnerID != user.ID {
		return nil, errAuth("Only the owner can invite viewers to their moments")
	}
	// A private chat is always exactly its two participants.
	if chat.Private {
		return nil, errConflict("Cannot add members to a private chat")
	}
	ok, err := rt.store.IsMember(req.ChatID, user.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errAuth("You are not a member of this chat")
	}

	target, err := rt.store.GetUserByUsername(req.Username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errValidation("User not found: %s", req.Username)
	}
	if err != nil {
		return nil, err
	}
	alreadyMember, err := rt.store.IsMember(req.ChatID, target.ID)
	if err != nil {
		return nil, err
	}
	if alreadyMember {
		return nil, errValidation("%s is already a member", req.Username)
	}

	if err := rt.store.AddMember(req.ChatID, target.ID, req.EncryptedKey); err != nil {
		return nil, err
	}

	members, err := rt.store.GetChatMembers(req.ChatID)
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		rt.deliver(m.ID, chatDetailsEvent(chat, members))
	}
	rt.pushChatList(target.ID)

	sysID, err := rt.store.AddSystemMessage(req.ChatID, fmt.Sprintf("%s invited %s to the chat", user.Username, target.Username))
	if err != nil {
		return nil, err
	}
	if sysMsg, err := rt.store.GetMessage(sysID); err == nil {
		rt.DistributeMessage(sysMsg, true)
	}
	return []Event{successEvent("Member added successfully")}, nil
}

func (rt *Router) handleKickMemberFromChat(user *models.User, data json.RawMessage) ([]Event, error) {
	var req struct {
		ChatID   int64  `json:"chatId"`
		Username string `json:"username"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.Username == "" {
		return nil, errValidation("Invalid packet format")
	}

	chat, err := rt.store.GetChat(req.ChatID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errValidation("Chat not found")
	}
	if err != nil {
		return nil, err
	}
	if chat.IsMoment && chat.OwnerID != user.ID {
		return nil, errAuth("Only the owner can remove viewers from their moments")
	}
	isOwner, err := rt.store.IsChatOwner(req.ChatID, user.ID)
	if err != nil {
		return nil, err
	}

	// Leaving a private chat, or the owner leaving their own group, deletes
	// the whole chat.
	if chat.Private || (isOwner && user.Username == req.Username) {
		members, err := rt.store.GetChatMembers(req.ChatID)
		if err != nil {
			return nil, err
		}
		isMember := false
		for _, m := range members {
			if m.ID == user.ID {
				isMember = true
			}
		}
		if !isMember {
			return nil, errAuth("You are not a member of this chat")
		}
		if err := rt.deleteChatCascade(req.ChatID); err != nil {
			return nil, err
		}
		for _, m := range members {
			rt.pushChatList(m.ID)
		}
		return []Event{successEvent("Chat deleted successfully")}, nil
	}

	if !isOwner && user.Username != req.Username {
		return nil, errAuth("Only owner can kick members")
	}

	target, err := rt.store.GetUserByUsername(req.Username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errValidation("User not found: %s", req.Username)
	}
	if err != nil {
		return nil, err
	}

	members, err := rt.store.GetChatMembers(req.ChatID)
	if err != nil {
		return nil, err
	}
	remaining := make([]models.ChatMember, 0, len(members))
	for _, m := range members {
		if m.ID != target.ID {
			remaining = append(remaining, m)
		}
	}
	if len(remaining) <= 2 {
		return nil, errConflict("Cannot kick member: Chat must have at least 3 members")
	}

	if err := rt.store.RemoveMember(req.ChatID, target.ID); err != nil {
		return nil, err
	}

	for _, m := range remaining {
		rt.deliver(m.ID, chatDetailsEvent(chat, remaining))
	}
	rt.pushChatList(target.ID)

	sysID, err := rt.store.AddSystemMessage(req.ChatID, fmt.Sprintf("%s removed %s from the chat", user.Username, target.Username))
	if err != nil {
		return nil, err
	}
	if sysMsg, err := rt.store.GetMessage(sysID); err == nil {
		rt.DistributeMessage(sysMsg, true)
	}
	return []Event{successEvent("Member kicked successfully")}, nil
}

// deleteChatCascade removes a chat together with its messages, reactions,
// stored file payloads and group avatar.
func (rt *Router) deleteChatCascade(chatID int64) error {
	fileMessageIDs, err := rt.store.GetFileMessageIDs(chatID)
	if err != nil {
		return err
	}
	for _, msgID := range fileMessageIDs {
		if err := rt.files.DeleteFile(msgID); err != nil {
			log.Printf("ws: delete file for message %d: %v", msgID, err)
		}
	}
	if err := rt.files.DeleteGroupAvatar(chatID); err != nil {
		log.Printf("ws: delete avatar for chat %d: %v", chatID, err)
	}
	if err := rt.store.DeleteChatMessages(chatID); err != nil {
		return err
	}
	return rt.store.DeleteChat(chatID)
}
