package sqlstore

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"whisperchat/internal/models"
	"whisperchat/internal/store"
)

// messageSelect hydrates each message with its sender and, via self-join, a
// preview of the message it replies to. Sender joins are LEFT because system
// messages have no sender.
const messageSelect = `
	SELECT m.id, m.content, m.type, m.chat_id, m.sender_id, su.username, su.donation_amount,
	       m.time, m.read_at, m.burn_at,
	       r.id, r.content, r.sender_id, ru.username, r.type
	FROM messages m
	LEFT JOIN users su ON m.sender_id = su.id
	LEFT JOIN messages r ON m.reply_to = r.id
	LEFT JOIN users ru ON r.sender_id = ru.id
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var m models.Message
	var senderID, readAt, burnAt, donation sql.NullInt64
	var senderName sql.NullString
	var replyID, replySender sql.NullInt64
	var replyContent, replySenderName, replyType sql.NullString

	err := row.Scan(&m.ID, &m.Content, &m.Type, &m.ChatID, &senderID, &senderName, &donation,
		&m.Time, &readAt, &burnAt,
		&replyID, &replyContent, &replySender, &replySenderName, &replyType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if senderID.Valid {
		m.SenderID = &senderID.Int64
	}
	if senderName.Valid {
		m.SenderName = &senderName.String
	}
	m.SenderIsDonor = donation.Valid && donation.Int64 > 0
	if readAt.Valid {
		m.ReadAt = &readAt.Int64
	}
	if burnAt.Valid {
		m.Burn = &burnAt.Int64
	}
	if replyID.Valid && replySender.Valid {
		m.ReplyTo = &models.ReplyInfo{
			MessageID:  replyID.Int64,
			Content:    replyContent.String,
			SenderID:   replySender.Int64,
			SenderName: replySenderName.String,
			Type:       models.MessageType(replyType.String),
		}
	}
	m.Reactions = []models.Reaction{}
	return &m, nil
}

func (s *SQLStore) AddMessage(chatID, senderID int64, content string, typ models.MessageType, replyTo *int64) (int64, error) {
	var id int64
	var reply interface{}
	if replyTo != nil {
		reply = *replyTo
	}
	query := s.rebind("INSERT INTO messages (content, type, chat_id, sender_id, time, reply_to) VALUES (?, ?, ?, ?, ?, ?) RETURNING id")
	err := s.db.QueryRow(query, content, string(typ), chatID, senderID, nowMillis(), reply).Scan(&id)
	return id, err
}

func (s *SQLStore) AddSystemMessage(chatID int64, content string) (int64, error) {
	var id int64
	query := s.rebind("INSERT INTO messages (content, type, chat_id, sender_id, time) VALUES (?, ?, ?, NULL, ?) RETURNING id")
	err := s.db.QueryRow(query, content, string(models.TypeSystem), chatID, nowMillis()).Scan(&id)
	return id, err
}

func (s *SQLStore) GetMessage(messageID int64) (*models.Message, error) {
	query := s.rebind(messageSelect + " WHERE m.id = ?")
	m, err := scanMessage(s.db.QueryRow(query, messageID))
	if err != nil {
		return nil, err
	}
	if err := s.attachReactions([]*models.Message{m}); err != nil {
		return nil, err
	}
	return m, nil
}

// UpdateMessage replaces the content, or deletes the row when newContent is nil.
func (s *SQLStore) UpdateMessage(messageID int64, newContent *string) error {
	if newContent == nil {
		return s.DeleteMessage(messageID)
	}
	query := s.rebind("UPDATE messages SET content = ? WHERE id = ?")
	_, err := s.db.Exec(query, *newContent, messageID)
	return err
}

// MarkRead sets the read timestamp and burn deadline exactly once. The
// read_at IS NULL guard makes repeated calls no-ops.
func (s *SQLStore) MarkRead(messageID int64, readAt time.Time, burnAt *time.Time) error {
	var burn interface{}
	if burnAt != nil {
		burn = burnAt.UnixMilli()
	}
	query := s.rebind("UPDATE messages SET read_at = ?, burn_at = ? WHERE id = ? AND read_at IS NULL")
	_, err := s.db.Exec(query, readAt.UnixMilli(), burn, messageID)
	return err
}

// ToggleReaction implements one-reaction-per-user semantics: re-toggling the
// same emoji removes it, a different emoji replaces the old one.
func (s *SQLStore) ToggleReaction(messageID, userID int64, emoji string) error {
	var current string
	query := s.rebind("SELECT emoji FROM message_reactions WHERE message_id = ? AND user_id = ?")
	err := s.db.QueryRow(query, messageID, userID).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		query = s.rebind("INSERT INTO message_reactions (message_id, user_id, emoji) VALUES (?, ?, ?)")
		_, err = s.db.Exec(query, messageID, userID, emoji)
	case err != nil:
	case current == emoji:
		query = s.rebind("DELETE FROM message_reactions WHERE message_id = ? AND user_id = ?")
		_, err = s.db.Exec(query, messageID, userID)
	default:
		query = s.rebind("UPDATE message_reactions SET emoji = ? WHERE message_id = ? AND user_id = ?")
		_, err = s.db.Exec(query, emoji, messageID, userID)
	}
	return err
}

// GetChatMessages returns one page, newest page first but oldest-first within
// the page. Paging and display order follow the monotonic message id, not wall
// clock; beforeTime narrows the page for scroll-back.
func (s *SQLStore) GetChatMessages(chatID int64, beforeTime *int64, count int) ([]models.Message, error) {
	query := messageSelect + " WHERE m.chat_id = ?"
	args := []interface{}{chatID}
	if beforeTime != nil {
		query += " AND m.time < ?"
		args = append(args, *beforeTime)
	}
	query += " ORDER BY m.id DESC LIMIT ?"
	args = append(args, count)

	rows, err := s.db.Query(s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var page []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		page = append(page, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.attachReactions(page); err != nil {
		return nil, err
	}

	out := make([]models.Message, len(page))
	for i, m := range page {
		out[len(page)-1-i] = *m
	}
	return out, nil
}

func (s *SQLStore) attachReactions(msgs []*models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	byID := make(map[int64]*models.Message, len(msgs))
	args := make([]interface{}, len(msgs))
	for i, m := range msgs {
		byID[m.ID] = m
		args[i] = m.ID
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(msgs)), ", ")
	query := s.rebind("SELECT message_id, user_id, emoji FROM message_reactions WHERE message_id IN (" + placeholders + ")")
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var messageID int64
		var r models.Reaction
		if err := rows.Scan(&messageID, &r.UserID, &r.Emoji); err != nil {
			return err
		}
		if m := byID[messageID]; m != nil {
			m.Reactions = append(m.Reactions, r)
		}
	}
	return rows.Err()
}

// GetMomentFeed joins membership, the moment flag and the sender-is-owner
// constraint into one chronological feed of root posts across every moment
// chat the user can see, each carrying the viewer's own decryption key.
func (s *SQLStore) GetMomentFeed(userID int64, offset int64, count int) ([]models.MomentPost, error) {
	query := s.rebind(`
		SELECT m.id, m.content, m.type, c.owner, u.username, m.time, cm.key, u.donation_amount
		FROM chat_members cm
		JOIN chats c ON cm.chat_id = c.id
		JOIN messages m ON m.chat_id = c.id
		JOIN users u ON c.owner = u.id
		WHERE cm.user_id = ? AND c.is_moment AND m.reply_to IS NULL AND m.sender_id = c.owner
		ORDER BY m.id DESC
		LIMIT ? OFFSET ?
	`)
	rows, err := s.db.Query(query, userID, count, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []models.MomentPost
	for rows.Next() {
		var p models.MomentPost
		var donation int64
		if err := rows.Scan(&p.MessageID, &p.Content, &p.Type, &p.OwnerID, &p.OwnerName, &p.Time, &p.Key, &donation); err != nil {
			return nil, err
		}
		p.OwnerIsDonor = donation > 0
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func (s *SQLStore) GetMomentComments(momentMessageID int64) ([]models.Message, error) {
	query := s.rebind(messageSelect + " WHERE m.reply_to = ? ORDER BY m.id ASC")
	rows, err := s.db.Query(query, momentMessageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var comments []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		comments = append(comments, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.attachReactions(comments); err != nil {
		return nil, err
	}
	out := make([]models.Message, len(comments))
	for i, m := range comments {
		out[i] = *m
	}
	return out, nil
}

// GetFileMessageIDs lists messages in a chat whose payload lives in file
// storage, for cascade deletion.
func (s *SQLStore) GetFileMessageIDs(chatID int64) ([]int64, error) {
	query := s.rebind("SELECT id FROM messages WHERE chat_id = ? AND type IN (?, ?, ?)")
	rows, err := s.db.Query(query, chatID, string(models.TypeImage), string(models.TypeVideo), string(models.TypeFile))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ExpiredMessages finds messages whose burn deadline has passed. The deadline
// is persisted at read time, so the scan is a single indexed comparison.
func (s *SQLStore) ExpiredMessages(now time.Time) ([]store.ExpiredMessage, error) {
	query := s.rebind(`
		SELECT m.id, m.chat_id, m.type
		FROM messages m
		JOIN chats c ON m.chat_id = c.id
		WHERE c.private AND c.burn_time IS NOT NULL AND m.burn_at IS NOT NULL AND m.burn_at < ?
	`)
	rows, err := s.db.Query(query, now.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var expired []store.ExpiredMessage
	for rows.Next() {
		var e store.ExpiredMessage
		if err := rows.Scan(&e.MessageID, &e.ChatID, &e.Type); err != nil {
			return nil, err
		}
		expired = append(expired, e)
	}
	return expired, rows.Err()
}

func (s *SQLStore) DeleteMessage(messageID int64) error {
	query := s.rebind("DELETE FROM message_reactions WHERE message_id = ?")
	if _, err := s.db.Exec(query, messageID); err != nil {
		return err
	}
	query = s.rebind("DELETE FROM messages WHERE id = ?")
	_, err := s.db.Exec(query, messageID)
	return err
}

func (s *SQLStore) DeleteChatMessages(chatID int64) error {
	query := s.rebind("DELETE FROM message_reactions WHERE message_id IN (SELECT id FROM messages WHERE chat_id = ?)")
	if _, err := s.db.Exec(query, chatID); err != nil {
		return err
	}
	query = s.rebind("DELETE FROM messages WHERE chat_id = ?")
	_, err := s.db.Exec(query, chatID)
	return err
}

func (s *SQLStore) TopActiveUsers(after time.Time) ([]models.ActivityCount, error) {
	query := s.rebind(`
		SELECT u.username, COUNT(m.id)
		FROM messages m
		JOIN users u ON m.sender_id = u.id
		WHERE m.time > ?
		GROUP BY m.sender_id, u.username
		ORDER BY COUNT(m.id) DESC
		LIMIT 10
	`)
	return s.queryActivity(query, after)
}

func (s *SQLStore) TopActiveChats(after time.Time) ([]models.ActivityCount, error) {
	query := s.rebind(`
		SELECT c.name, COUNT(m.id)
		FROM messages m
		JOIN chats c ON m.chat_id = c.id
		WHERE m.time > ? AND NOT c.private AND NOT c.is_moment
		GROUP BY m.chat_id, c.name
		ORDER BY COUNT(m.id) DESC
		LIMIT 10
	`)
	return s.queryActivity(query, after)
}

func (s *SQLStore) queryActivity(query string, after time.Time) ([]models.ActivityCount, error) {
	rows, err := s.db.Query(query, after.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []models.ActivityCount
	for rows.Next() {
		var c models.ActivityCount
		if err := rows.Scan(&c.Name, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}
