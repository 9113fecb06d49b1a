package ws

import (
	"encoding/json"
	"errors"

	"whisperchat/internal/models"
	"whisperchat/internal/store"
)

func (rt *Router) handleGetMoments(user *models.User, data json.RawMessage) ([]Event, error) {
	var req struct {
		Offset int64 `json:"offset"`
		Count  int   `json:"count"`
	}
	_ = json.Unmarshal(data, &req)
	if req.Count <= 0 {
		req.Count = 50
	}

	moments, err := rt.store.GetMomentFeed(user.ID, req.Offset, req.Count)
	if err != nil {
		return nil, err
	}
	return []Event{momentsListEvent(moments)}, nil
}

func (rt *Router) handlePostMoment(user *models.User, data json.RawMessage) ([]Event, error) {
	var req struct {
		Content string             `json:"content"`
		Type    models.MessageType `json:"type"`
		Key     *string            `json:"key"`
	}
	if err := json.Unmarshal(data, &req); err != nil || !req.Type.Valid() || req.Type == models.TypeSystem {
		return nil, errValidation("Post moment failed: Invalid packet format")
	}

	momentChatID, err := rt.store.GetOrCreateMomentChat(user.ID, user.Username)
	if err != nil {
		return nil, err
	}

	isMember, err := rt.store.IsMember(momentChatID, user.ID)
	if err != nil {
		return nil, err
	}
	if !isMember {
		if req.Key == nil {
			return nil, errValidation("Post moment failed: Key required for first moment")
		}
		if err := rt.store.AddMember(momentChatID, user.ID, *req.Key); err != nil {
			return nil, err
		}
	}

	content := req.Content
	if req.Type != models.TypeText {
		content = ""
	}
	msgID, err := rt.store.AddMessage(momentChatID, user.ID, content, req.Type, nil)
	if err != nil {
		return nil, err
	}
	if err := rt.store.TouchChat(momentChatID); err != nil {
		return nil, err
	}

	return []Event{
		{"packet": "moment_posted", "messageId": msgID, "chatId": momentChatID},
		successEvent("Moment posted successfully"),
	}, nil
}

func (rt *Router) handleGetUserMoments(user *models.User, data json.RawMessage) ([]Event, error) {
	var req struct {
		UserID int64  `json:"userId"`
		Before *int64 `json:"before"`
		Count  int    `json:"count"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errValidation("Get user moments failed: Invalid packet format")
	}
	if req.Count <= 0 {
		req.Count = 50
	}

	target, err := rt.store.GetUserByID(req.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errValidation("Get user moments failed: User not found")
	}
	if err != nil {
		return nil, err
	}

	momentChat, err := rt.store.GetMomentChatByOwner(req.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return []Event{{
			"packet":   "user_moments_list",
			"userId":   req.UserID,
			"username": target.Username,
			"moments":  []models.MomentPost{},
		}}, nil
	}
	if err != nil {
		return nil, err
	}

	key, err := rt.store.GetMemberKey(momentChat.ID, user.ID)
	if errors.Is(err, store.ErrNotFound) {
		if req.UserID != user.ID {
			return nil, errAuth("You are not a viewer of this user's moments")
		}
		key = ""
	} else if err != nil {
		return nil, err
	}

	msgs, err := rt.store.GetChatMessages(momentChat.ID, req.Before, req.Count)
	if err != nil {
		return nil, err
	}
	moments := make([]models.MomentPost, 0, len(msgs))
	for _, m := range msgs {
		moments = append(moments, models.MomentPost{
			MessageID:    m.ID,
			Content:      m.Content,
			Type:         m.Type,
			OwnerID:      req.UserID,
			OwnerName:    target.Username,
			Time:         m.Time,
			Key:          key,
			OwnerIsDonor: target.IsDonor,
		})
	}
	return []Event{{
		"packet":   "user_moments_list",
		"userId":   req.UserID,
		"username": target.Username,
		"moments":  moments,
	}}, nil
}

func (rt *Router) handleGetMomentComments(user *models.User, data json.RawMessage) ([]Event, error) {
	var req struct {
		MessageID int64 `json:"messageId"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errValidation("Get moment comments failed: Invalid packet format")
	}

	moment, err := rt.store.GetMessage(req.MessageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errValidation("Get moment comments failed: Moment not found")
	}
	if err != nil {
		return nil, err
	}
	ok, err := rt.store.IsMember(moment.ChatID, user.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errAuth("Get moment comments failed: You are not a viewer of these moments")
	}

	comments, err := rt.store.GetMomentComments(req.MessageID)
	if err != nil {
		return nil, err
	}
	if comments == nil {
		comments = []models.Message{}
	}
	return []Event{{"packet": "moment_comments", "messageId": req.MessageID, "comments": comments}}, nil
}

func (rt *Router) handleToggleMomentPermission(user *models.User, data json.RawMessage) ([]Event, error) {
	var req struct {
		FriendID int64 `json:"friendId"`
		CanView  bool  `json:"canView"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errValidation("Toggle moment permission failed: Invalid packet format")
	}

	areFriends, err := rt.store.AreFriends(user.ID, req.FriendID)
	if err != nil {
		return nil, err
	}
	if !areFriends {
		return nil, errValidation("User is not your friend")
	}

	if !req.CanView {
		momentChat, err := rt.store.GetMomentChatByOwner(user.ID)
		if err == nil {
			if err := rt.store.RemoveMember(momentChat.ID, req.FriendID); err != nil {
				return nil, err
			}
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	// Enabling requires the per-friend encrypted key; clients grant access via
	// get_moment_permission with encryptedKey set.

	return []Event{{
		"packet":   "moment_permission_updated",
		"friendId": req.FriendID,
		"canView":  req.CanView,
	}}, nil
}

func (rt *Router) handleGetMomentPermission(user *models.User, data json.RawMessage) ([]Event, error) {
	var req struct {
		FriendID     int64   `json:"friendId"`
		EncryptedKey *string `json:"encryptedKey"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errValidation("Get moment permission failed: Invalid packet format")
	}

	areFriends, err := rt.store.AreFriends(user.ID, req.FriendID)
	if err != nil {
		return nil, err
	}
	if !areFriends {
		return nil, errValidation("User is not your friend")
	}

	// Providing a key grants the friend viewer access.
	if req.EncryptedKey != nil {
		momentChatID, err := rt.store.GetOrCreateMomentChat(user.ID, user.Username)
		if err != nil {
			return nil, err
		}
		if err := rt.store.AddMember(momentChatID, req.FriendID, *req.EncryptedKey); err != nil {
			return nil, err
		}
	}

	canFriendViewMine := false
	if myChat, err := rt.store.GetMomentChatByOwner(user.ID); err == nil {
		if canFriendViewMine, err = rt.store.IsMember(myChat.ID, req.FriendID); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	canIViewFriends := false
	if friendChat, err := rt.store.GetMomentChatByOwner(req.FriendID); err == nil {
		if canIViewFriends, err = rt.store.IsMember(friendChat.ID, user.ID); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	return []Event{{
		"packet":            "moment_permission_status",
		"friendId":          req.FriendID,
		"canFriendViewMine": canFriendViewMine,
		"canIViewFriends":   canIViewFriends,
	}}, nil
}

func (rt *Router) handleGetMyMomentKey(user *models.User, data json.RawMessage) ([]Event, error) {
	momentChat, err := rt.store.GetMomentChatByOwner(user.ID)
	if errors.Is(err, store.ErrNotFound) {
		return []Event{{"packet": "my_moment_key", "exists": false, "key": nil}}, nil
	}
	if err != nil {
		return nil, err
	}

	key, err := rt.store.GetMemberKey(momentChat.ID, user.ID)
	if errors.Is(err, store.ErrNotFound) {
		return []Event{{"packet": "my_moment_key", "exists": true, "chatId": momentChat.ID, "key": nil}}, nil
	}
	if err != nil {
		return nil, err
	}
	return []Event{{"packet": "my_moment_key", "exists": true, "chatId": momentChat.ID, "key": key}}, nil
}
