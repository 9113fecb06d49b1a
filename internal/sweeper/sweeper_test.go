package sweeper

import (
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"whisperchat/internal/files"
	"whisperchat/internal/models"
	"whisperchat/internal/store"
	"whisperchat/internal/store/sqlstore"
)

type recordingNotifier struct {
	deleted []int64
}

func (n *recordingNotifier) NotifyMessageDeleted(chatID, messageID int64) {
	n.deleted = append(n.deleted, messageID)
}

func setup(t *testing.T) (*Sweeper, store.Store, *files.Storage, *recordingNotifier) {
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
	notifier := &recordingNotifier{}
	return New(st, storage, notifier, time.Second), st, storage, notifier
}

func TestSweepDeletesExpired(t *testing.T) {
	sw, st, _, notifier := setup(t)

	alice := &models.User{Username: "alice", Password: "hash", PublicKey: "pk"}
	st.CreateUser(alice)
	chatID, _ := st.CreateChat("", alice.ID, true)
	burn := int64(5000)
	st.SetBurnTime(chatID, &burn)

	readID, _ := st.AddMessage(chatID, alice.ID, "read me", models.TypeText, nil)
	unreadID, _ := st.AddMessage(chatID, alice.ID, "not yet", models.TypeText, nil)

	readAt := time.Now().Add(-time.Minute)
	deadline := readAt.Add(5 * time.Second)
	st.MarkRead(readID, readAt, &deadline)

	sw.Sweep(time.Now())

	if _, err := st.GetMessage(readID); err != store.ErrNotFound {
		t.Errorf("Expected the read message to burn, got %v", err)
	}
	if _, err := st.GetMessage(unreadID); err != nil {
		t.Errorf("The unread message must survive, got %v", err)
	}
	if len(notifier.deleted) != 1 || notifier.deleted[0] != readID {
		t.Errorf("Expected one deletion notice for %d, got %v", readID, notifier.deleted)
	}
}

func TestSweepRemovesFilePayload(t *testing.T) {
	sw, st, storage, _ := setup(t)

	alice := &models.User{Username: "alice", Password: "hash", PublicKey: "pk"}
	st.CreateUser(alice)
	chatID, _ := st.CreateChat("", alice.ID, true)
	burn := int64(1000)
	st.SetBurnTime(chatID, &burn)

	msgID, _ := st.AddMessage(chatID, alice.ID, "", models.TypeImage, nil)
	storage.SaveFile(msgID, []byte("ciphertext"))

	readAt := time.Now().Add(-time.Minute)
	deadline := readAt.Add(time.Second)
	st.MarkRead(msgID, readAt, &deadline)

	sw.Sweep(time.Now())

	if _, err := storage.GetFile(msgID); err == nil {
		t.Error("Expected the file payload to be removed")
	}
}

func TestSweepBeforeDeadline(t *testing.T) {
	sw, st, _, notifier := setup(t)

	alice := &models.User{Username: "alice", Password: "hash", PublicKey: "pk"}
	st.CreateUser(alice)
	chatID, _ := st.CreateChat("", alice.ID, true)
	burn := int64(60000)
	st.SetBurnTime(chatID, &burn)

	msgID, _ := st.AddMessage(chatID, alice.ID, "fresh", models.TypeText, nil)
	readAt := time.Now()
	deadline := readAt.Add(time.Minute)
	st.MarkRead(msgID, readAt, &deadline)

	sw.Sweep(time.Now())

	if _, err := st.GetMessage(msgID); err != nil {
		t.Errorf("Message must survive until its deadline, got %v", err)
	}
	if len(notifier.deleted) != 0 {
		t.Errorf("Expected no deletion notices, got %v", notifier.deleted)
	}
}
