package sqlstore

import (
	"database/sql"
	"errors"
	"sort"
	"strings"

	"whisperchat/internal/models"
	"whisperchat/internal/store"
)

// AddMember is an idempotent insert; adding an existing member is a no-op.
func (s *SQLStore) AddMember(chatID, userID int64, encryptedKey string) error {
	query := s.rebind("INSERT INTO chat_members (chat_id, user_id, key) VALUES (?, ?, ?) ON CONFLICT (chat_id, user_id) DO NOTHING")
	_, err := s.db.Exec(query, chatID, userID, encryptedKey)
	return err
}

func (s *SQLStore) RemoveMember(chatID, userID int64) error {
	query := s.rebind("DELETE FROM chat_members WHERE chat_id = ? AND user_id = ?")
	_, err := s.db.Exec(query, chatID, userID)
	return err
}

func (s *SQLStore) IsMember(chatID, userID int64) (bool, error) {
	var exists bool
	query := s.rebind("SELECT EXISTS(SELECT 1 FROM chat_members WHERE chat_id = ? AND user_id = ?)")
	err := s.db.QueryRow(query, chatID, userID).Scan(&exists)
	return exists, err
}

func (s *SQLStore) GetMemberIDs(chatID int64) ([]int64, error) {
	query := s.rebind("SELECT user_id FROM chat_members WHERE chat_id = ?")
	rows, err := s.db.Query(query, chatID)
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

func (s *SQLStore) GetChatMembers(chatID int64) ([]models.ChatMember, error) {
	query := s.rebind(`
		SELECT u.id, u.username, u.donation_amount
		FROM chat_members cm
		JOIN users u ON cm.user_id = u.id
		WHERE cm.chat_id = ?
	`)
	rows, err := s.db.Query(query, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []models.ChatMember
	for rows.Next() {
		var m models.ChatMember
		var donation int64
		if err := rows.Scan(&m.ID, &m.Name, &donation); err != nil {
			return nil, err
		}
		m.IsDonor = donation > 0
		members = append(members, m)
	}
	return members, rows.Err()
}

// GetUserChats builds the viewer's chat list: name resolved per viewer, unread
// state, burn time and donor badge, newest activity first. Moment chats are
// excluded; they surface through the moment feed instead.
func (s *SQLStore) GetUserChats(userID int64) ([]models.ChatSummary, error) {
	query := s.rebind(`
		SELECT cm.chat_id, cm.key, cm.unread, cm.mentioned, cm.do_not_disturb,
		       c.name, c.private, c.burn_time
		FROM chat_members cm
		JOIN chats c ON cm.chat_id = c.id
		WHERE cm.user_id = ? AND NOT c.is_moment
		ORDER BY c.last_chat_at DESC
	`)
	rows, err := s.db.Query(query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []models.ChatSummary
	for rows.Next() {
		var cs models.ChatSummary
		var burn sql.NullInt64
		if err := rows.Scan(&cs.ChatID, &cs.Key, &cs.UnreadCount, &cs.Mentioned, &cs.DoNotDisturb,
			&cs.Name, &cs.IsPrivate, &burn); err != nil {
			return nil, err
		}
		if burn.Valid {
			cs.BurnTime = &burn.Int64
		}
		summaries = append(summaries, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	members, err := s.membersByChat(userID)
	if err != nil {
		return nil, err
	}

	for i := range summaries {
		cs := &summaries[i]
		cs.Members = members[cs.ChatID]
		others := make([]models.ChatMember, 0, len(cs.Members))
		for _, m := range cs.Members {
			if m.ID != userID {
				others = append(others, m)
			}
		}
		if cs.IsPrivate {
			if len(others) > 0 {
				cs.Name = others[0].Name
				cs.OtherUserIsDonor = others[0].IsDonor
			} else {
				cs.Name = "Private Chat"
			}
		} else if cs.Name == "" {
			names := make([]string, len(others))
			for j, m := range others {
				names[j] = m.Name
			}
			sort.Strings(names)
			cs.Name = strings.Join(names, ", ")
		}
	}
	return summaries, nil
}

// membersByChat fetches the members of every non-moment chat the user belongs
// to in one query, grouped by chat id.
func (s *SQLStore) membersByChat(userID int64) (map[int64][]models.ChatMember, error) {
	query := s.rebind(`
		SELECT cm.chat_id, u.id, u.username, u.donation_amount
		FROM chat_members cm
		JOIN chats c ON cm.chat_id = c.id
		JOIN users u ON cm.user_id = u.id
		WHERE c.id IN (SELECT chat_id FROM chat_members WHERE user_id = ?) AND NOT c.is_moment
	`)
	rows, err := s.db.Query(query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	grouped := make(map[int64][]models.ChatMember)
	for rows.Next() {
		var chatID, donation int64
		var m models.ChatMember
		if err := rows.Scan(&chatID, &m.ID, &m.Name, &donation); err != nil {
			return nil, err
		}
		m.IsDonor = donation > 0
		grouped[chatID] = append(grouped[chatID], m)
	}
	return grouped, rows.Err()
}

// IncrementUnread bumps the unread counter of every member except the sender
// in one atomic statement. The mentioned flag is untouched, so mention state
// survives ordinary traffic.
func (s *SQLStore) IncrementUnread(chatID, senderID int64) error {
	query := s.rebind("UPDATE chat_members SET unread = unread + 1 WHERE chat_id = ? AND user_id <> ?")
	_, err := s.db.Exec(query, chatID, senderID)
	return err
}

// ResetUnread zeroes the counter and clears the mention flag; reading implies
// the mention was seen.
func (s *SQLStore) ResetUnread(chatID, userID int64) error {
	query := s.rebind("UPDATE chat_members SET unread = 0, mentioned = FALSE WHERE chat_id = ? AND user_id = ?")
	_, err := s.db.Exec(query, chatID, userID)
	return err
}

func (s *SQLStore) SetMentionMarker(chatID, userID int64) error {
	query := s.rebind("UPDATE chat_members SET mentioned = TRUE WHERE chat_id = ? AND user_id = ?")
	_, err := s.db.Exec(query, chatID, userID)
	return err
}

func (s *SQLStore) GetUnread(chatID, userID int64) (int, bool, error) {
	var count int
	var mentioned bool
	query := s.rebind("SELECT unread, mentioned FROM chat_members WHERE chat_id = ? AND user_id = ?")
	err := s.db.QueryRow(query, chatID, userID).Scan(&count, &mentioned)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, store.ErrNotFound
	}
	return count, mentioned, err
}

// SetDoNotDisturb returns false when the user is not a member of the chat.
func (s *SQLStore) SetDoNotDisturb(chatID, userID int64, dnd bool) (bool, error) {
	query := s.rebind("UPDATE chat_members SET do_not_disturb = ? WHERE chat_id = ? AND user_id = ?")
	res, err := s.db.Exec(query, dnd, chatID, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLStore) GetMemberKey(chatID, userID int64) (string, error) {
	var key string
	query := s.rebind("SELECT key FROM chat_members WHERE chat_id = ? AND user_id = ?")
	err := s.db.QueryRow(query, chatID, userID).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	return key, err
}
