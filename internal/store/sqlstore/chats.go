package sqlstore

import (
	"database/sql"
	"errors"
	"time"

	"whisperchat/internal/models"
	"whisperchat/internal/store"
)

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

const chatColumns = "id, name, owner, private, is_moment, burn_time, last_chat_at"

func scanChat(row *sql.Row) (*models.Chat, error) {
	var c models.Chat
	var burn sql.NullInt64
	var lastChatAt int64
	err := row.Scan(&c.ID, &c.Name, &c.OwnerID, &c.Private, &c.IsMoment, &burn, &lastChatAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if burn.Valid {
		c.BurnTime = &burn.Int64
	}
	c.LastChatAt = time.UnixMilli(lastChatAt)
	return &c, nil
}

func (s *SQLStore) CreateChat(name string, ownerID int64, private bool) (int64, error) {
	var id int64
	query := s.rebind("INSERT INTO chats (name, owner, private, last_chat_at) VALUES (?, ?, ?, ?) RETURNING id")
	err := s.db.QueryRow(query, name, ownerID, private, nowMillis()).Scan(&id)
	return id, err
}

func (s *SQLStore) GetChat(chatID int64) (*models.Chat, error) {
	query := s.rebind("SELECT " + chatColumns + " FROM chats WHERE id = ?")
	return scanChat(s.db.QueryRow(query, chatID))
}

func (s *SQLStore) IsChatOwner(chatID, userID int64) (bool, error) {
	var exists bool
	query := s.rebind("SELECT EXISTS(SELECT 1 FROM chats WHERE id = ? AND owner = ?)")
	err := s.db.QueryRow(query, chatID, userID).Scan(&exists)
	return exists, err
}

func (s *SQLStore) RenameChat(chatID int64, newName string) error {
	query := s.rebind("UPDATE chats SET name = ? WHERE id = ?")
	_, err := s.db.Exec(query, newName, chatID)
	return err
}

// TouchChat bumps the chat's last-activity timestamp used for list ordering.
func (s *SQLStore) TouchChat(chatID int64) error {
	query := s.rebind("UPDATE chats SET last_chat_at = ? WHERE id = ?")
	_, err := s.db.Exec(query, nowMillis(), chatID)
	return err
}

func (s *SQLStore) SetBurnTime(chatID int64, burnMillis *int64) error {
	query := s.rebind("UPDATE chats SET burn_time = ? WHERE id = ?")
	var v interface{}
	if burnMillis != nil {
		v = *burnMillis
	}
	_, err := s.db.Exec(query, v, chatID)
	return err
}

func (s *SQLStore) DeleteChat(chatID int64) error {
	// Reactions cascade with messages; members and messages cascade with the
	// chat, but delete them explicitly so sqlite builds without foreign_keys
	// pragma behave the same.
	query := s.rebind("DELETE FROM message_reactions WHERE message_id IN (SELECT id FROM messages WHERE chat_id = ?)")
	if _, err := s.db.Exec(query, chatID); err != nil {
		return err
	}
	query = s.rebind("DELETE FROM messages WHERE chat_id = ?")
	if _, err := s.db.Exec(query, chatID); err != nil {
		return err
	}
	query = s.rebind("DELETE FROM chat_members WHERE chat_id = ?")
	if _, err := s.db.Exec(query, chatID); err != nil {
		return err
	}
	query = s.rebind("DELETE FROM chats WHERE id = ?")
	_, err := s.db.Exec(query, chatID)
	return err
}

// FindPrivateChat returns the private chat shared by two users, or ErrNotFound.
func (s *SQLStore) FindPrivateChat(a, b int64) (*models.Chat, error) {
	query := s.rebind(`
		SELECT ` + chatColumns + ` FROM chats
		WHERE private
		  AND id IN (SELECT chat_id FROM chat_members WHERE user_id = ?)
		  AND id IN (SELECT chat_id FROM chat_members WHERE user_id = ?)
	`)
	return scanChat(s.db.QueryRow(query, a, b))
}

// GetOrCreateMomentChat returns the user's broadcast feed chat, creating it on
// first use. The partial unique index on chats(owner) keeps it at most one.
func (s *SQLStore) GetOrCreateMomentChat(ownerID int64, ownerName string) (int64, error) {
	var id int64
	query := s.rebind("SELECT id FROM chats WHERE owner = ? AND is_moment")
	err := s.db.QueryRow(query, ownerID).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	query = s.rebind("INSERT INTO chats (name, owner, private, is_moment, last_chat_at) VALUES (?, ?, FALSE, TRUE, ?) RETURNING id")
	err = s.db.QueryRow(query, ownerName+"'s Moments", ownerID, nowMillis()).Scan(&id)
	if err != nil {
		// Lost a race against a concurrent first post; the unique index
		// guarantees the existing row is the one to use.
		query = s.rebind("SELECT id FROM chats WHERE owner = ? AND is_moment")
		if err2 := s.db.QueryRow(query, ownerID).Scan(&id); err2 == nil {
			return id, nil
		}
		return 0, err
	}
	return id, nil
}

func (s *SQLStore) GetMomentChatByOwner(ownerID int64) (*models.Chat, error) {
	query := s.rebind("SELECT " + chatColumns + " FROM chats WHERE owner = ? AND is_moment")
	return scanChat(s.db.QueryRow(query, ownerID))
}
