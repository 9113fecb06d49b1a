package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"whisperchat/internal/files"
	"whisperchat/internal/middleware"
	"whisperchat/internal/store"
)

// maxFileSize caps message payload uploads at 32 MiB.
const maxFileSize = 32 << 20

// FileHandler stores and serves the encrypted payloads of IMAGE, VIDEO and
// FILE messages. The message row is created over the websocket first; the
// payload is then uploaded here keyed by the message id.
type FileHandler struct {
	Store store.Store
	Files *files.Storage
}

func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)

	messageID, err := strconv.ParseInt(mux.Vars(r)["messageId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid message id", http.StatusBadRequest)
		return
	}

	msg, err := h.Store.GetMessage(messageID)
	if err == store.ErrNotFound {
		http.Error(w, "Message not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if msg.SenderID == nil || *msg.SenderID != userID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	if !msg.Type.HasFile() {
		http.Error(w, "Message has no file payload", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxFileSize+1))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(data) == 0 || len(data) > maxFileSize {
		http.Error(w, "Payload must be between 1 byte and 32 MiB", http.StatusBadRequest)
		return
	}

	if err := h.Files.SaveFile(messageID, data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *FileHandler) Download(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)

	messageID, err := strconv.ParseInt(mux.Vars(r)["messageId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid message id", http.StatusBadRequest)
		return
	}

	msg, err := h.Store.GetMessage(messageID)
	if err == store.ErrNotFound {
		http.Error(w, "Message not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	isMember, err := h.Store.IsMember(msg.ChatID, userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !isMember {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	data, err := h.Files.GetFile(messageID)
	if err != nil {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	// Payloads are client-side ciphertext, never renderable as-is.
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}

// UploadGroupAvatar sets a group chat's avatar. Owner only.
func (h *FileHandler) UploadGroupAvatar(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)

	chatID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid chat id", http.StatusBadRequest)
		return
	}

	isOwner, err := h.Store.IsChatOwner(chatID, userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !isOwner {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxAvatarSize+1))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(data) == 0 || len(data) > maxAvatarSize {
		http.Error(w, "Avatar must be between 1 byte and 2 MiB", http.StatusBadRequest)
		return
	}

	if err := h.Files.SetGroupAvatar(chatID, data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *FileHandler) GetGroupAvatar(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)

	chatID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid chat id", http.StatusBadRequest)
		return
	}

	isMember, err := h.Store.IsMember(chatID, userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !isMember {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=300")

	data, err := h.Files.GetGroupAvatar(chatID)
	if err != nil {
		serveWithETag(w, r, []byte(defaultAvatarSVG), `"default_avatar"`, "image/svg+xml")
		return
	}
	serveWithETag(w, r, data, contentETag(data), "image/png")
}
