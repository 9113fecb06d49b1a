// Package files is the file-storage collaborator: message payloads for
// IMAGE/VIDEO/FILE messages keyed by message id, plus user and group avatars.
// The bytes are ciphertext; this layer never inspects them.
package files

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

type Storage struct {
	chatFilesDir   string
	userAvatarDir  string
	groupAvatarDir string
}

func NewStorage(rootDir string) (*Storage, error) {
	s := &Storage{
		chatFilesDir:   filepath.Join(rootDir, "chat_files"),
		userAvatarDir:  filepath.Join(rootDir, "user_avatars"),
		groupAvatarDir: filepath.Join(rootDir, "group_avatars"),
	}
	for _, dir := range []string{s.chatFilesDir, s.userAvatarDir, s.groupAvatarDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return s, nil
}

func (s *Storage) chatFilePath(messageID int64) string {
	return filepath.Join(s.chatFilesDir, strconv.FormatInt(messageID, 10))
}

func (s *Storage) SaveFile(messageID int64, data []byte) error {
	return os.WriteFile(s.chatFilePath(messageID), data, 0o644)
}

func (s *Storage) GetFile(messageID int64) ([]byte, error) {
	return os.ReadFile(s.chatFilePath(messageID))
}

// DeleteFile is a no-op for messages without a stored payload.
func (s *Storage) DeleteFile(messageID int64) error {
	err := os.Remove(s.chatFilePath(messageID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *Storage) SetUserAvatar(userID int64, data []byte) error {
	return os.WriteFile(filepath.Join(s.userAvatarDir, strconv.FormatInt(userID, 10)+".png"), data, 0o644)
}

func (s *Storage) GetUserAvatar(userID int64) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.userAvatarDir, strconv.FormatInt(userID, 10)+".png"))
}

func (s *Storage) SetGroupAvatar(chatID int64, data []byte) error {
	return os.WriteFile(filepath.Join(s.groupAvatarDir, strconv.FormatInt(chatID, 10)+".png"), data, 0o644)
}

func (s *Storage) GetGroupAvatar(chatID int64) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.groupAvatarDir, strconv.FormatInt(chatID, 10)+".png"))
}

func (s *Storage) DeleteGroupAvatar(chatID int64) error {
	err := os.Remove(filepath.Join(s.groupAvatarDir, strconv.FormatInt(chatID, 10)+".png"))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
