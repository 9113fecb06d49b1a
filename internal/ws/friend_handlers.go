package ws

import (
	"encoding/json"
	"errors"

	"whisperchat/internal/models"
	"whisperchat/internal/store"
)

// Friendship creates the private chat on first contact; ending it tears the
// chat down again.

func (rt *Router) handleAddFriend(user *models.User, data json.RawMessage) ([]Event, error) {
	var req struct {
		Username  string `json:"username"`
		MyKey     string `json:"myKey"`
		FriendKey string `json:"friendKey"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.Username == "" {
		return nil, errValidation("Add friend failed: Invalid packet format")
	}
	if req.Username == user.Username {
		return nil, errValidation("Add friend failed: You cannot add yourself")
	}

	target, err := rt.store.GetUserByUsername(req.Username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errValidation("Add friend failed: User not found: %s", req.Username)
	}
	if err != nil {
		return nil, err
	}

	already, err := rt.store.AreFriends(user.ID, target.ID)
	if err != nil {
		return nil, err
	}
	if already {
		return nil, errValidation("Add friend failed: %s is already your friend", req.Username)
	}

	if err := rt.store.AddFriend(user.ID, target.ID); err != nil {
		return nil, err
	}

	// First contact: a private chat already existing means a stale friendship
	// row was removed without its chat; reuse it instead of duplicating.
	if _, err := rt.store.FindPrivateChat(user.ID, target.ID); errors.Is(err, store.ErrNotFound) {
		chatID, err := rt.store.CreateChat("", user.ID, true)
		if err != nil {
			return nil, err
		}
		if err := rt.store.AddMember(chatID, user.ID, req.MyKey); err != nil {
			return nil, err
		}
		if err := rt.store.AddMember(chatID, target.ID, req.FriendKey); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	rt.pushChatList(user.ID)
	rt.pushChatList(target.ID)
	return []Event{successEvent("Friend added successfully")}, nil
}

func (rt *Router) handleRemoveFriend(user *models.User, data json.RawMessage) ([]Event, error) {
	var req struct {
		FriendID int64 `json:"friendId"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errValidation("Remove friend failed: Invalid packet format")
	}

	areFriends, err := rt.store.AreFriends(user.ID, req.FriendID)
	if err != nil {
		return nil, err
	}
	if !areFriends {
		return nil, errValidation("Remove friend failed: User is not your friend")
	}

	if err := rt.store.RemoveFriend(user.ID, req.FriendID); err != nil {
		return nil, err
	}

	chat, err := rt.store.FindPrivateChat(user.ID, req.FriendID)
	if err == nil {
		if err := rt.deleteChatCascade(chat.ID); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	// Revoke moment access in both directions.
	if momentChat, err := rt.store.GetMomentChatByOwner(user.ID); err == nil {
		if err := rt.store.RemoveMember(momentChat.ID, req.FriendID); err != nil {
			return nil, err
		}
	}
	if momentChat, err := rt.store.GetMomentChatByOwner(req.FriendID); err == nil {
		if err := rt.store.RemoveMember(momentChat.ID, user.ID); err != nil {
			return nil, err
		}
	}

	rt.pushChatList(user.ID)
	rt.pushChatList(req.FriendID)
	return []Event{successEvent("Friend removed successfully")}, nil
}

func (rt *Router) handleGetFriends(user *models.User, data json.RawMessage) ([]Event, error) {
	friends, err := rt.store.GetFriends(user.ID)
	if err != nil {
		return nil, err
	}
	if friends == nil {
		friends = []models.User{}
	}
	return []Event{{"packet": "friends_list", "friends": friends}}, nil
}
