package ws

import (
	"encoding/json"
	"errors"
	"log"

	"whisperchat/internal/files"
	"whisperchat/internal/models"
	"whisperchat/internal/session"
	"whisperchat/internal/store"
)

// HandlerFunc processes one inbound packet for an authenticated user and
// returns the ordered events to send back on the caller's session. Events for
// other users go through the router's distribution helpers.
type HandlerFunc func(rt *Router, user *models.User, data json.RawMessage) ([]Event, error)

// Router dispatches inbound packets by name and owns message distribution to
// the session registry.
type Router struct {
	store    store.Store
	registry *session.Registry
	files    *files.Storage
	handlers map[string]HandlerFunc
}

func NewRouter(st store.Store, registry *session.Registry, storage *files.Storage) *Router {
	rt := &Router{
		store:    st,
		registry: registry,
		files:    storage,
	}
	rt.handlers = map[string]HandlerFunc{
		"get_chats":                (*Router).handleGetChats,
		"get_messages":             (*Router).handleGetMessages,
		"send_message":             (*Router).handleSendMessage,
		"edit_message":             (*Router).handleEditMessage,
		"mark_message_read":        (*Router).handleMarkMessageRead,
		"toggle_reaction":          (*Router).handleToggleReaction,
		"set_burn_time":            (*Router).handleSetBurnTime,
		"set_do_not_disturb":       (*Router).handleSetDoNotDisturb,
		"get_chat_details":         (*Router).handleGetChatDetails,
		"rename_chat":              (*Router).handleRenameChat,
		"create_group":             (*Router).handleCreateGroup,
		"add_member_to_chat":       (*Router).handleAddMemberToChat,
		"kick_member_from_chat":    (*Router).handleKickMemberFromChat,
		"add_friend":               (*Router).handleAddFriend,
		"remove_friend":            (*Router).handleRemoveFriend,
		"get_friends":              (*Router).handleGetFriends,
		"get_moments":              (*Router).handleGetMoments,
		"post_moment":              (*Router).handlePostMoment,
		"get_user_moments":         (*Router).handleGetUserMoments,
		"get_moment_comments":      (*Router).handleGetMomentComments,
		"toggle_moment_permission": (*Router).handleToggleMomentPermission,
		"get_moment_permission":    (*Router).handleGetMomentPermission,
		"get_my_moment_key":        (*Router).handleGetMyMomentKey,
	}
	return rt
}

// Handle routes one inbound packet. It never returns an error: failures become
// error events on the caller's session, keeping the connection alive.
func (rt *Router) Handle(user *models.User, packetName string, data json.RawMessage) []Event {
	h, ok := rt.handlers[packetName]
	if !ok {
		return []Event{errorEvent("Unknown packet: " + packetName)}
	}
	events, err := h(rt, user, data)
	if err != nil {
		var opErr *OpError
		if errors.As(err, &opErr) {
			return append(events, errorEvent(opErr.Reason))
		}
		log.Printf("ws: %s failed for user %d: %v", packetName, user.ID, err)
		return append(events, errorEvent("Internal error"))
	}
	return events
}

// deliver sends an event to every live session of one user. Dead or slow
// sessions are skipped; the fan-out never aborts.
func (rt *Router) deliver(userID int64, ev Event) {
	data, err := ev.encode()
	if err != nil {
		log.Printf("ws: encode event: %v", err)
		return
	}
	rt.registry.ForEach(userID, func(c session.Conn) {
		if err := c.Send(data); err != nil {
			log.Printf("ws: drop event for user %d: %v", userID, err)
		}
	})
}

// DistributeMessage pushes a message event to the chat's members. A non-silent
// event is a new message: every member except the sender also gets its fresh
// unread count, and the sender's sessions are skipped (the send handler
// already answered them). Silent events refresh open views for everyone and
// never touch unread state.
func (rt *Router) DistributeMessage(msg *models.Message, silent bool) {
	memberIDs, err := rt.store.GetMemberIDs(msg.ChatID)
	if err != nil {
		log.Printf("ws: distribute message %d: %v", msg.ID, err)
		return
	}
	for _, uid := range memberIDs {
		isSender := msg.SenderID != nil && *msg.SenderID == uid
		if !silent && isSender {
			continue
		}
		rt.deliver(uid, receiveMessageEvent(msg, silent))
		if !silent {
			count, mentioned, err := rt.store.GetUnread(msg.ChatID, uid)
			if err != nil {
				continue
			}
			rt.deliver(uid, unreadCountEvent(msg.ChatID, count, mentioned))
		}
	}
}

// pushChatList refreshes one user's chat list on all their sessions.
func (rt *Router) pushChatList(userID int64) {
	chats, err := rt.store.GetUserChats(userID)
	if err != nil {
		log.Printf("ws: chat list for user %d: %v", userID, err)
		return
	}
	rt.deliver(userID, chatsListEvent(chats))
}

func (rt *Router) pushChatListAll(userIDs []int64) {
	for _, uid := range userIDs {
		rt.pushChatList(uid)
	}
}

// NotifyMessageDeleted tells the chat's members a message is gone, so open
// views drop it. Used by the burn sweeper.
func (rt *Router) NotifyMessageDeleted(chatID, messageID int64) {
	memberIDs, err := rt.store.GetMemberIDs(chatID)
	if err != nil {
		log.Printf("ws: notify deletion of message %d: %v", messageID, err)
		return
	}
	for _, uid := range memberIDs {
		rt.deliver(uid, messageDeletedEvent(chatID, messageID))
	}
}

// Broadcast sends an event to every connected session of every user.
func (rt *Router) Broadcast(ev Event) {
	data, err := ev.encode()
	if err != nil {
		log.Printf("ws: encode broadcast: %v", err)
		return
	}
	rt.registry.ForAll(func(userID int64, c session.Conn) {
		if err := c.Send(data); err != nil {
			log.Printf("ws: drop broadcast for user %d: %v", userID, err)
		}
	})
}
