package handlers

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"whisperchat/internal/files"
	"whisperchat/internal/middleware"
	"whisperchat/internal/store"
)

// maxAvatarSize caps avatar uploads at 2 MiB.
const maxAvatarSize = 2 << 20

const defaultAvatarSVG = `<svg width="100" height="100" viewBox="0 0 64 64" xmlns="http://www.w3.org/2000/svg">
  <rect x="0" y="0" width="64" height="64" rx="16" fill="#E3F2FD"/>
  <g fill="#42A5F5">
    <circle cx="32" cy="24" r="10"/>
    <path d="M32 38C22 38 14 44 12 52C12 52 12 54 14 54H50C52 54 52 52 52 52C50 44 42 38 32 38Z"/>
  </g>
</svg>`

type UserHandler struct {
	Store store.Store
	Files *files.Storage
}

// GetInfo serves the public profile fields of a user.
func (h *UserHandler) GetInfo(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid user id", http.StatusBadRequest)
		return
	}

	user, err := h.Store.GetUserByID(id)
	if err == store.ErrNotFound {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":        user.ID,
		"username":  user.Username,
		"signature": user.Signature,
		"isDonor":   user.IsDonor,
	})
}

// GetPublicKey resolves a username to its public key, used when starting an
// encrypted conversation with a user found via search.
func (h *UserHandler) GetPublicKey(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	if username == "" {
		http.Error(w, "Missing username", http.StatusBadRequest)
		return
	}

	user, err := h.Store.GetUserByUsername(username)
	if err == store.ErrNotFound {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"publicKey": user.PublicKey})
}

func (h *UserHandler) SetSignature(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)

	var req struct {
		Signature string `json:"signature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Signature) > 256 {
		http.Error(w, "Signature too long", http.StatusBadRequest)
		return
	}

	if err := h.Store.SetSignature(userID, req.Signature); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *UserHandler) Donate(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)

	var req struct {
		Amount int64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Amount <= 0 {
		http.Error(w, "Amount must be positive", http.StatusBadRequest)
		return
	}

	if err := h.Store.AddDonation(userID, req.Amount); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *UserHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)

	data, err := io.ReadAll(io.LimitReader(r.Body, maxAvatarSize+1))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(data) == 0 || len(data) > maxAvatarSize {
		http.Error(w, "Avatar must be between 1 byte and 2 MiB", http.StatusBadRequest)
		return
	}

	if err := h.Files.SetUserAvatar(userID, data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetAvatar serves a user's avatar with an ETag so clients can cache it. Users
// without an uploaded avatar get a generated placeholder.
func (h *UserHandler) GetAvatar(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid user id", http.StatusBadRequest)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=300")

	data, err := h.Files.GetUserAvatar(id)
	if err != nil {
		serveWithETag(w, r, []byte(defaultAvatarSVG), `"default_avatar"`, "image/svg+xml")
		return
	}
	serveWithETag(w, r, data, contentETag(data), "image/png")
}

func contentETag(data []byte) string {
	hash := fnv.New64a()
	hash.Write(data)
	return fmt.Sprintf("%q", strconv.FormatUint(hash.Sum64(), 16))
}

func serveWithETag(w http.ResponseWriter, r *http.Request, data []byte, etag, contentType string) {
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}
