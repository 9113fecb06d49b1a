package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gorilla/mux"

	"whisperchat/internal/files"
	"whisperchat/internal/middleware"
	"whisperchat/internal/models"
	"whisperchat/internal/store"
	"whisperchat/internal/store/sqlstore"
)

func newFileHandler(t *testing.T) (*FileHandler, store.Store) {
	t.Helper()
	st, err := sqlstore.New("sqlite3", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	storage, err := files.NewStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return &FileHandler{Store: st, Files: storage}, st
}

// asUser simulates the auth middleware having run.
func asUser(req *http.Request, userID int64) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), middleware.UserIDKey, userID))
}

func TestFileUploadAndDownload(t *testing.T) {
	handler, st := newFileHandler(t)

	alice := &models.User{Username: "alice", Password: "hash", PublicKey: "pk"}
	bob := &models.User{Username: "bob", Password: "hash", PublicKey: "pk"}
	st.CreateUser(alice)
	st.CreateUser(bob)
	chatID, _ := st.CreateChat("Group", alice.ID, false)
	st.AddMember(chatID, alice.ID, "key")
	st.AddMember(chatID, bob.ID, "key")
	msgID, _ := st.AddMessage(chatID, alice.ID, "", models.TypeImage, nil)

	payload := []byte("encrypted-bytes")
	req := httptest.NewRequest("POST", "/files/"+strconv.FormatInt(msgID, 10), bytes.NewReader(payload))
	req = mux.SetURLVars(asUser(req, alice.ID), map[string]string{"messageId": strconv.FormatInt(msgID, 10)})
	rr := httptest.NewRecorder()
	handler.Upload(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("upload returned wrong status code: got %v want %v", rr.Code, http.StatusCreated)
	}

	req = httptest.NewRequest("GET", "/files/"+strconv.FormatInt(msgID, 10), nil)
	req = mux.SetURLVars(asUser(req, bob.ID), map[string]string{"messageId": strconv.FormatInt(msgID, 10)})
	rr = httptest.NewRecorder()
	handler.Download(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("download returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	if !bytes.Equal(rr.Body.Bytes(), payload) {
		t.Error("Downloaded payload does not match upload")
	}
}

func TestFileUploadOnlyBySender(t *testing.T) {
	handler, st := newFileHandler(t)

	alice := &models.User{Username: "alice", Password: "hash", PublicKey: "pk"}
	bob := &models.User{Username: "bob", Password: "hash", PublicKey: "pk"}
	st.CreateUser(alice)
	st.CreateUser(bob)
	chatID, _ := st.CreateChat("Group", alice.ID, false)
	st.AddMember(chatID, alice.ID, "key")
	st.AddMember(chatID, bob.ID, "key")
	msgID, _ := st.AddMessage(chatID, alice.ID, "", models.TypeImage, nil)

	req := httptest.NewRequest("POST", "/files/1", bytes.NewReader([]byte("x")))
	req = mux.SetURLVars(asUser(req, bob.ID), map[string]string{"messageId": strconv.FormatInt(msgID, 10)})
	rr := httptest.NewRecorder()
	handler.Upload(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Errorf("upload by non-sender returned wrong status code: got %v want %v",
			rr.Code, http.StatusForbidden)
	}
}

func TestFileDownloadRequiresMembership(t *testing.T) {
	handler, st := newFileHandler(t)

	alice := &models.User{Username: "alice", Password: "hash", PublicKey: "pk"}
	mallory := &models.User{Username: "mallory", Password: "hash", PublicKey: "pk"}
	st.CreateUser(alice)
	st.CreateUser(mallory)
	chatID, _ := st.CreateChat("Group", alice.ID, false)
	st.AddMember(chatID, alice.ID, "key")
	msgID, _ := st.AddMessage(chatID, alice.ID, "", models.TypeFile, nil)
	handler.Files.SaveFile(msgID, []byte("secret"))

	req := httptest.NewRequest("GET", "/files/1", nil)
	req = mux.SetURLVars(asUser(req, mallory.ID), map[string]string{"messageId": strconv.FormatInt(msgID, 10)})
	rr := httptest.NewRecorder()
	handler.Download(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Errorf("download by non-member returned wrong status code: got %v want %v",
			rr.Code, http.StatusForbidden)
	}
}

func TestGetAvatarDefault(t *testing.T) {
	st, err := sqlstore.New("sqlite3", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	storage, _ := files.NewStorage(t.TempDir())
	handler := &UserHandler{Store: st, Files: storage}

	req := httptest.NewRequest("GET", "/users/1/avatar", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "1"})
	rr := httptest.NewRecorder()
	handler.GetAvatar(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("avatar returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	if rr.Header().Get("ETag") != `"default_avatar"` {
		t.Errorf("Expected the default avatar ETag, got %q", rr.Header().Get("ETag"))
	}

	// Matching If-None-Match short-circuits.
	req = httptest.NewRequest("GET", "/users/1/avatar", nil)
	req.Header.Set("If-None-Match", `"default_avatar"`)
	req = mux.SetURLVars(req, map[string]string{"id": "1"})
	rr = httptest.NewRecorder()
	handler.GetAvatar(rr, req)

	if rr.Code != http.StatusNotModified {
		t.Errorf("Expected 304 for a matching ETag, got %v", rr.Code)
	}
}
