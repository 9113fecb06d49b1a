package ws

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"whisperchat/internal/files"
	"whisperchat/internal/models"
	"whisperchat/internal/session"
	"whisperchat/internal/store"
	"whisperchat/internal/store/sqlstore"
)

// fakeConn records every event delivered to one session.
type fakeConn struct {
	mu     sync.Mutex
	events []map[string]interface{}
}

func (c *fakeConn) Send(data []byte) error {
	var ev map[string]interface{}
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *fakeConn) count(packet string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ev := range c.events {
		if ev["packet"] == packet {
			n++
		}
	}
	return n
}

func (c *fakeConn) last(packet string) map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if c.events[i]["packet"] == packet {
			return c.events[i]
		}
	}
	return nil
}

func newTestRouter(t *testing.T) (*Router, store.Store, *session.Registry) {
	t.Helper()
	st, err := sqlstore.New("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	storage, err := files.NewStorage(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create file storage: %v", err)
	}
	registry := session.NewRegistry()
	return NewRouter(st, registry, storage), st, registry
}

func newWsUser(t *testing.T, st store.Store, username string) *models.User {
	t.Helper()
	u := &models.User{Username: username, Password: "hash", PublicKey: "pk-" + username}
	if err := st.CreateUser(u); err != nil {
		t.Fatalf("Failed to create user %s: %v", username, err)
	}
	return u
}

func connect(registry *session.Registry, userID int64) *fakeConn {
	c := &fakeConn{}
	registry.Add(userID, c)
	return c
}

// newGroup creates a group with every given user as member.
func newGroup(t *testing.T, st store.Store, name string, owner *models.User, members ...*models.User) int64 {
	t.Helper()
	chatID, err := st.CreateChat(name, owner.ID, false)
	if err != nil {
		t.Fatalf("Failed to create chat: %v", err)
	}
	for _, u := range append([]*models.User{owner}, members...) {
		if err := st.AddMember(chatID, u.ID, "key-"+u.Username); err != nil {
			t.Fatalf("Failed to add member %s: %v", u.Username, err)
		}
	}
	return chatID
}

func lastError(events []Event) string {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i]["packet"] == "error" {
			return events[i]["error"].(string)
		}
	}
	return ""
}

func TestUnknownPacket(t *testing.T) {
	rt, st, _ := newTestRouter(t)
	alice := newWsUser(t, st, "alice")

	events := rt.Handle(alice, "bogus", json.RawMessage(`{}`))
	if lastError(events) == "" {
		t.Error("Expected an error event for an unknown packet")
	}
}

func TestSendMessageFanout(t *testing.T) {
	rt, st, registry := newTestRouter(t)
	alice := newWsUser(t, st, "alice")
	bob := newWsUser(t, st, "bob")
	carol := newWsUser(t, st, "carol")
	chatID := newGroup(t, st, "Group", alice, bob, carol)

	aliceConn := connect(registry, alice.ID)
	bobConn := connect(registry, bob.ID)
	carolConn := connect(registry, carol.ID)

	req := fmt.Sprintf(`{"chatId":%d,"message":"hello","type":"TEXT"}`, chatID)
	events := rt.Handle(alice, "send_message", json.RawMessage(req))

	if lastError(events) != "" {
		t.Fatalf("send_message failed: %s", lastError(events))
	}
	if len(events) != 1 || events[0]["packet"] != "receive_message" {
		t.Errorf("Expected the sender to get the message back directly, got %+v", events)
	}

	// The sender's other sessions are not re-notified.
	if len(aliceConn.events) != 0 {
		t.Errorf("Sender's sessions must be skipped, got %+v", aliceConn.events)
	}

	for name, conn := range map[string]*fakeConn{"bob": bobConn, "carol": carolConn} {
		if conn.count("receive_message") != 1 {
			t.Errorf("Expected %s to receive the message once, got %d", name, conn.count("receive_message"))
		}
		unread := conn.last("unread_count")
		if unread == nil {
			t.Fatalf("Expected %s to get an unread_count event", name)
		}
		if unread["unread"].(float64) != 1 || unread["mentioned"].(bool) {
			t.Errorf("Expected %s unread (1, not mentioned), got %v", name, unread)
		}
	}
}

func TestSendMessageMention(t *testing.T) {
	rt, st, registry := newTestRouter(t)
	alice := newWsUser(t, st, "alice")
	bob := newWsUser(t, st, "bob")
	carol := newWsUser(t, st, "carol")
	chatID := newGroup(t, st, "Group", alice, bob, carol)

	bobConn := connect(registry, bob.ID)
	carolConn := connect(registry, carol.ID)

	req := fmt.Sprintf(`{"chatId":%d,"message":"@bob hi","type":"TEXT","atUserIds":[%d]}`, chatID, bob.ID)
	rt.Handle(alice, "send_message", json.RawMessage(req))

	if !bobConn.last("unread_count")["mentioned"].(bool) {
		t.Error("Expected bob to be mentioned")
	}
	if carolConn.last("unread_count")["mentioned"].(bool) {
		t.Error("Expected carol not to be mentioned")
	}
}

func TestSendMessageNonMember(t *testing.T) {
	rt, st, _ := newTestRouter(t)
	alice := newWsUser(t, st, "alice")
	bob := newWsUser(t, st, "bob")
	mallory := newWsUser(t, st, "mallory")
	chatID := newGroup(t, st, "Group", alice, bob)

	req := fmt.Sprintf(`{"chatId":%d,"message":"hi","type":"TEXT"}`, chatID)
	events := rt.Handle(mallory, "send_message", json.RawMessage(req))
	if lastError(events) == "" {
		t.Error("Expected an error for a non-member sender")
	}

	msgs, _ := st.GetChatMessages(chatID, nil, 10)
	if len(msgs) != 0 {
		t.Errorf("No message should be stored, got %d", len(msgs))
	}
}

func TestReplyToMessageInAnotherChat(t *testing.T) {
	rt, st, _ := newTestRouter(t)
	alice := newWsUser(t, st, "alice")
	bob := newWsUser(t, st, "bob")
	chat1 := newGroup(t, st, "One", alice, bob)
	chat2 := newGroup(t, st, "Two", alice, bob)

	otherID, _ := st.AddMessage(chat2, bob.ID, "elsewhere", models.TypeText, nil)

	req := fmt.Sprintf(`{"chatId":%d,"message":"reply","type":"TEXT","replyTo":%d}`, chat1, otherID)
	events := rt.Handle(alice, "send_message", json.RawMessage(req))
	if lastError(events) == "" {
		t.Error("Expected an error for a cross-chat reply")
	}
}

func TestReplyToSystemMessage(t *testing.T) {
	rt, st, _ := newTestRouter(t)
	alice := newWsUser(t, st, "alice")
	bob := newWsUser(t, st, "bob")
	chatID := newGroup(t, st, "Group", alice, bob)

	sysID, _ := st.AddSystemMessage(chatID, "chat renamed")

	req := fmt.Sprintf(`{"chatId":%d,"message":"reply","type":"TEXT","replyTo":%d}`, chatID, sysID)
	events := rt.Handle(alice, "send_message", json.RawMessage(req))
	if lastError(events) == "" {
		t.Error("Expected an error for a reply to a system message")
	}
}

func TestGetMessagesResetsUnread(t *testing.T) {
	rt, st, registry := newTestRouter(t)
	alice := newWsUser(t, st, "alice")
	bob := newWsUser(t, st, "bob")
	chatID := newGroup(t, st, "Group", alice, bob)
	connect(registry, bob.ID)

	req := fmt.Sprintf(`{"chatId":%d,"message":"hi","type":"TEXT"}`, chatID)
	rt.Handle(alice, "send_message", json.RawMessage(req))

	count, _, _ := st.GetUnread(chatID, bob.ID)
	if count != 1 {
		t.Fatalf("Expected unread 1, got %d", count)
	}

	events := rt.Handle(bob, "get_messages", json.RawMessage(fmt.Sprintf(`{"chatId":%d,"count":50}`, chatID)))
	if lastError(events) != "" {
		t.Fatalf("get_messages failed: %s", lastError(events))
	}

	count, mentioned, _ := st.GetUnread(chatID, bob.ID)
	if count != 0 || mentioned {
		t.Errorf("Expected unread reset, got (%d, %v)", count, mentioned)
	}

	// Scroll-back pages must not reset the counter.
	rt.Handle(alice, "send_message", json.RawMessage(req))
	rt.Handle(bob, "get_messages", json.RawMessage(fmt.Sprintf(`{"chatId":%d,"before":1,"count":50}`, chatID)))
	count, _, _ = st.GetUnread(chatID, bob.ID)
	if count != 1 {
		t.Errorf("Expected unread to survive scroll-back, got %d", count)
	}
}

func TestMarkMessageRead(t *testing.T) {
	rt, st, registry := newTestRouter(t)
	alice := newWsUser(t, st, "alice")
	bob := newWsUser(t, st, "bob")

	chatID, _ := st.CreateChat("", alice.ID, true)
	st.AddMember(chatID, alice.ID, "key-a")
	st.AddMember(chatID, bob.ID, "key-b")
	burn := int64(5000)
	st.SetBurnTime(chatID, &burn)

	aliceConn := connect(registry, alice.ID)
	bobConn := connect(registry, bob.ID)

	msgID, _ := st.AddMessage(chatID, alice.ID, "secret", models.TypeText, nil)

	events := rt.Handle(bob, "mark_message_read", json.RawMessage(fmt.Sprintf(`{"messageId":%d}`, msgID)))
	if lastError(events) != "" {
		t.Fatalf("mark_message_read failed: %s", lastError(events))
	}

	msg, _ := st.GetMessage(msgID)
	if msg.ReadAt == nil {
		t.Fatal("Expected read timestamp")
	}
	if msg.Burn == nil || *msg.Burn != *msg.ReadAt+5000 {
		t.Errorf("Expected burn deadline at readAt+5000, got %v", msg.Burn)
	}

	// The receipt reaches both sides as a silent refresh.
	for name, conn := range map[string]*fakeConn{"alice": aliceConn, "bob": bobConn} {
		ev := conn.last("receive_message")
		if ev == nil || ev["silent"] != true {
			t.Errorf("Expected a silent receipt for %s, got %v", name, ev)
		}
	}

	// Re-reading changes nothing and emits nothing.
	before := bobConn.count("receive_message")
	rt.Handle(bob, "mark_message_read", json.RawMessage(fmt.Sprintf(`{"messageId":%d}`, msgID)))
	if bobConn.count("receive_message") != before {
		t.Error("Repeated mark_message_read must not distribute again")
	}
}

func TestMarkOwnMessageReadIgnored(t *testing.T) {
	rt, st, _ := newTestRouter(t)
	alice := newWsUser(t, st, "alice")
	bob := newWsUser(t, st, "bob")

	chatID, _ := st.CreateChat("", alice.ID, true)
	st.AddMember(chatID, alice.ID, "key-a")
	st.AddMember(chatID, bob.ID, "key-b")

	msgID, _ := st.AddMessage(chatID, alice.ID, "secret", models.TypeText, nil)
	rt.Handle(alice, "mark_message_read", json.RawMessage(fmt.Sprintf(`{"messageId":%d}`, msgID)))

	msg, _ := st.GetMessage(msgID)
	if msg.ReadAt != nil {
		t.Error("Senders must not mark their own messages read")
	}
}

func TestKickMemberBelowMinimum(t *testing.T) {
	rt, st, _ := newTestRouter(t)
	alice := newWsUser(t, st, "alice")
	bob := newWsUser(t, st, "bob")
	carol := newWsUser(t, st, "carol")
	chatID := newGroup(t, st, "Group", alice, bob, carol)

	req := fmt.Sprintf(`{"chatId":%d,"username":"bob"}`, chatID)
	events := rt.Handle(alice, "kick_member_from_chat", json.RawMessage(req))

	if lastError(events) != "Cannot kick member: Chat must have at least 3 members" {
		t.Errorf("Expected the minimum-size conflict, got %q", lastError(events))
	}
	isMember, _ := st.IsMember(chatID, bob.ID)
	if !isMember {
		t.Error("Bob must still be a member")
	}
}

func TestKickMemberFromLargerGroup(t *testing.T) {
	rt, st, registry := newTestRouter(t)
	alice := newWsUser(t, st, "alice")
	bob := newWsUser(t, st, "bob")
	carol := newWsUser(t, st, "carol")
	dave := newWsUser(t, st, "dave")
	chatID := newGroup(t, st, "Group", alice, bob, carol, dave)

	daveConn := connect(registry, dave.ID)

	req := fmt.Sprintf(`{"chatId":%d,"username":"dave"}`, chatID)
	events := rt.Handle(alice, "kick_member_from_chat", json.RawMessage(req))
	if lastError(events) != "" {
		t.Fatalf("kick failed: %s", lastError(events))
	}

	isMember, _ := st.IsMember(chatID, dave.ID)
	if isMember {
		t.Error("Dave should be removed")
	}
	if daveConn.count("chats_list") != 1 {
		t.Error("Expected the kicked user's chat list to refresh")
	}
}

func TestNonOwnerCannotKick(t *testing.T) {
	rt, st, _ := newTestRouter(t)
	alice := newWsUser(t, st, "alice")
	bob := newWsUser(t, st, "bob")
	carol := newWsUser(t, st, "carol")
	dave := newWsUser(t, st, "dave")
	chatID := newGroup(t, st, "Group", alice, bob, carol, dave)

	req := fmt.Sprintf(`{"chatId":%d,"username":"carol"}`, chatID)
	events := rt.Handle(bob, "kick_member_from_chat", json.RawMessage(req))
	if lastError(events) == "" {
		t.Error("Expected an error when a non-owner kicks someone else")
	}
}

func TestAddMemberToGroup(t *testing.T) {
	rt, st, registry := newTestRouter(t)
	alice := newWsUser(t, st, "alice")
	bob := newWsUser(t, st, "bob")
	carol := newWsUser(t, st, "carol")
	chatID := newGroup(t, st, "Group", alice, bob)
	carolConn := connect(registry, carol.ID)

	req := fmt.Sprintf(`{"chatId":%d,"username":"carol","encryptedKey":"key-carol"}`, chatID)
	events := rt.Handle(alice, "add_member_to_chat", json.RawMessage(req))
	if lastError(events) != "" {
		t.Fatalf("add_member_to_chat failed: %s", lastError(events))
	}

	isMember, _ := st.IsMember(chatID, carol.ID)
	if !isMember {
		t.Error("Expected carol to be a member")
	}
	if carolConn.count("chats_list") == 0 {
		t.Error("Expected carol's chat list to refresh")
	}
}

func TestAddMemberToPrivateChatRejected(t *testing.T) {
	rt, st, _ := newTestRouter(t)
	alice := newWsUser(t, st, "alice")
	bob := newWsUser(t, st, "bob")
	carol := newWsUser(t, st, "carol")

	chatID, _ := st.CreateChat("", alice.ID, true)
	st.AddMember(chatID, alice.ID, "key-a")
	st.AddMember(chatID, bob.ID, "key-b")

	req := fmt.Sprintf(`{"chatId":%d,"username":"carol","encryptedKey":"key-c"}`, chatID)
	events := rt.Handle(alice, "add_member_to_chat", json.RawMessage(req))
	if lastError(events) != "Cannot add members to a private chat" {
		t.Errorf("Expected the private chat rejection, got %q", lastError(events))
	}

	isMember, _ := st.IsMember(chatID, carol.ID)
	if isMember {
		t.Error("A private chat must keep exactly its two participants")
	}
}

func TestRenameChatNotifiesMembers(t *testing.T) {
	rt, st, registry := newTestRouter(t)
	alice := newWsUser(t, st, "alice")
	bob := newWsUser(t, st, "bob")
	carol := newWsUser(t, st, "carol")
	chatID := newGroup(t, st, "Old Name", alice, bob, carol)
	bobConn := connect(registry, bob.ID)

	req := fmt.Sprintf(`{"chatId":%d,"newName":"New Name"}`, chatID)
	events := rt.Handle(alice, "rename_chat", json.RawMessage(req))
	if lastError(events) != "" {
		t.Fatalf("rename_chat failed: %s", lastError(events))
	}

	chat, _ := st.GetChat(chatID)
	if chat.Name != "New Name" {
		t.Errorf("Expected the new name, got %q", chat.Name)
	}

	// The rename system message reaches members as a regular, non-silent
	// message so open views show it right away.
	ev := bobConn.last("receive_message")
	if ev == nil {
		t.Fatal("Expected bob to receive the rename system message")
	}
	if ev["silent"] != false {
		t.Errorf("Expected a non-silent delivery, got silent=%v", ev["silent"])
	}
	if bobConn.count("unread_count") == 0 {
		t.Error("Expected an unread count alongside the non-silent message")
	}
}

func TestNonOwnerCannotRename(t *testing.T) {
	rt, st, _ := newTestRouter(t)
	alice := newWsUser(t, st, "alice")
	bob := newWsUser(t, st, "bob")
	chatID := newGroup(t, st, "Group", alice, bob)

	req := fmt.Sprintf(`{"chatId":%d,"newName":"Hijacked"}`, chatID)
	events := rt.Handle(bob, "rename_chat", json.RawMessage(req))
	if lastError(events) != "Only owner can rename chat" {
		t.Errorf("Expected the owner-only rejection, got %q", lastError(events))
	}
}

func TestOwnerSelfKickDeletesChat(t *testing.T) {
	rt, st, _ := newTestRouter(t)
	alice := newWsUser(t, st, "alice")
	bob := newWsUser(t, st, "bob")
	carol := newWsUser(t, st, "carol")
	chatID := newGroup(t, st, "Group", alice, bob, carol)
	st.AddMessage(chatID, alice.ID, "bye", models.TypeText, nil)

	req := fmt.Sprintf(`{"chatId":%d,"username":"alice"}`, chatID)
	events := rt.Handle(alice, "kick_member_from_chat", json.RawMessage(req))
	if lastError(events) != "" {
		t.Fatalf("owner self-kick failed: %s", lastError(events))
	}

	if _, err := st.GetChat(chatID); err != store.ErrNotFound {
		t.Errorf("Expected the chat to be deleted, got %v", err)
	}
}

func TestAddFriendCreatesPrivateChat(t *testing.T) {
	rt, st, _ := newTestRouter(t)
	alice := newWsUser(t, st, "alice")
	bob := newWsUser(t, st, "bob")

	req := `{"username":"bob","myKey":"key-a","friendKey":"key-b"}`
	events := rt.Handle(alice, "add_friend", json.RawMessage(req))
	if lastError(events) != "" {
		t.Fatalf("add_friend failed: %s", lastError(events))
	}

	areFriends, _ := st.AreFriends(alice.ID, bob.ID)
	if !areFriends {
		t.Error("Expected a friendship row")
	}
	chat, err := st.FindPrivateChat(alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("Expected a private chat: %v", err)
	}
	key, _ := st.GetMemberKey(chat.ID, bob.ID)
	if key != "key-b" {
		t.Errorf("Expected bob's key, got '%s'", key)
	}

	// Adding again is rejected.
	events = rt.Handle(alice, "add_friend", json.RawMessage(req))
	if lastError(events) == "" {
		t.Error("Expected an error for a duplicate friendship")
	}
}

func TestRemoveFriendTearsDownChat(t *testing.T) {
	rt, st, _ := newTestRouter(t)
	alice := newWsUser(t, st, "alice")
	bob := newWsUser(t, st, "bob")

	rt.Handle(alice, "add_friend", json.RawMessage(`{"username":"bob","myKey":"a","friendKey":"b"}`))
	chat, _ := st.FindPrivateChat(alice.ID, bob.ID)

	events := rt.Handle(alice, "remove_friend", json.RawMessage(fmt.Sprintf(`{"friendId":%d}`, bob.ID)))
	if lastError(events) != "" {
		t.Fatalf("remove_friend failed: %s", lastError(events))
	}

	areFriends, _ := st.AreFriends(alice.ID, bob.ID)
	if areFriends {
		t.Error("Expected the friendship to be gone")
	}
	if _, err := st.GetChat(chat.ID); err != store.ErrNotFound {
		t.Errorf("Expected the private chat to be deleted, got %v", err)
	}
}

func TestMomentFlow(t *testing.T) {
	rt, st, _ := newTestRouter(t)
	alice := newWsUser(t, st, "alice")
	bob := newWsUser(t, st, "bob")
	rt.Handle(alice, "add_friend", json.RawMessage(`{"username":"bob","myKey":"a","friendKey":"b"}`))

	// First post creates the moment chat; it needs the owner's key.
	events := rt.Handle(alice, "post_moment", json.RawMessage(`{"content":"first!","type":"TEXT","key":"owner-key"}`))
	if lastError(events) != "" {
		t.Fatalf("post_moment failed: %s", lastError(events))
	}

	// Bob cannot see the feed until alice grants access.
	events = rt.Handle(bob, "get_moments", json.RawMessage(`{}`))
	if len(events[0]["moments"].([]models.MomentPost)) != 0 {
		t.Error("Expected an empty feed before permission is granted")
	}

	events = rt.Handle(alice, "get_moment_permission", json.RawMessage(fmt.Sprintf(`{"friendId":%d,"encryptedKey":"bob-key"}`, bob.ID)))
	if lastError(events) != "" {
		t.Fatalf("get_moment_permission failed: %s", lastError(events))
	}
	if events[0]["canFriendViewMine"] != true {
		t.Errorf("Expected access to be granted, got %v", events[0])
	}

	events = rt.Handle(bob, "get_moments", json.RawMessage(`{}`))
	moments := events[0]["moments"].([]models.MomentPost)
	if len(moments) != 1 {
		t.Fatalf("Expected 1 moment, got %d", len(moments))
	}
	if moments[0].Key != "bob-key" || moments[0].OwnerName != "alice" {
		t.Errorf("Unexpected moment entry: %+v", moments[0])
	}

	// Revoking hides the feed again.
	rt.Handle(alice, "toggle_moment_permission", json.RawMessage(fmt.Sprintf(`{"friendId":%d,"canView":false}`, bob.ID)))
	events = rt.Handle(bob, "get_moments", json.RawMessage(`{}`))
	if len(events[0]["moments"].([]models.MomentPost)) != 0 {
		t.Error("Expected an empty feed after revocation")
	}
}

func TestOnlyOwnerPostsToMomentChat(t *testing.T) {
	rt, st, _ := newTestRouter(t)
	alice := newWsUser(t, st, "alice")
	bob := newWsUser(t, st, "bob")

	momentID, _ := st.GetOrCreateMomentChat(alice.ID, alice.Username)
	st.AddMember(momentID, alice.ID, "owner-key")
	st.AddMember(momentID, bob.ID, "viewer-key")

	req := fmt.Sprintf(`{"chatId":%d,"message":"hijack","type":"TEXT"}`, momentID)
	events := rt.Handle(bob, "send_message", json.RawMessage(req))
	if lastError(events) == "" {
		t.Error("Expected an error when a viewer posts a root message")
	}

	// Viewers may still comment by replying to a post.
	postID, _ := st.AddMessage(momentID, alice.ID, "post", models.TypeText, nil)
	req = fmt.Sprintf(`{"chatId":%d,"message":"nice","type":"TEXT","replyTo":%d}`, momentID, postID)
	events = rt.Handle(bob, "send_message", json.RawMessage(req))
	if lastError(events) != "" {
		t.Errorf("Expected viewers to be able to comment, got %q", lastError(events))
	}

	comments, _ := st.GetMomentComments(postID)
	if len(comments) != 1 || comments[0].Content != "nice" {
		t.Errorf("Expected the comment to be stored, got %+v", comments)
	}
}
