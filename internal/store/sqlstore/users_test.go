package sqlstore

import (
	"testing"

	"whisperchat/internal/models"
	"whisperchat/internal/store"
)

func TestCreateUser(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()

	user := createTestUser(t, "alice")
	if user.ID == 0 {
		t.Error("Expected non-zero user ID")
	}

	got, err := testStore.GetUserByUsername("alice")
	if err != nil {
		t.Errorf("GetUserByUsername failed: %v", err)
	}
	if got.ID != user.ID || got.PublicKey != "pk-alice" {
		t.Errorf("Unexpected user: %+v", got)
	}
}

func TestCreateUserDuplicate(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()

	createTestUser(t, "alice")
	err := testStore.CreateUser(&models.User{Username: "alice", Password: "other", PublicKey: "pk"})
	if err == nil {
		t.Error("Expected error for duplicate username")
	}
}

func TestGetUserNotFound(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()

	if _, err := testStore.GetUserByUsername("ghost"); err != store.ErrNotFound {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := testStore.GetUserByID(42); err != store.ErrNotFound {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSearchUsers(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()

	createTestUser(t, "alice")
	createTestUser(t, "alicia")
	createTestUser(t, "bob")

	users, err := testStore.SearchUsers("ali")
	if err != nil {
		t.Errorf("SearchUsers failed: %v", err)
	}
	if len(users) != 2 {
		t.Errorf("Expected 2 results, got %d", len(users))
	}
	for _, u := range users {
		if u.Password != "" {
			t.Error("Search results must not carry password hashes")
		}
	}
}

func TestSetSignature(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()

	user := createTestUser(t, "alice")
	if err := testStore.SetSignature(user.ID, "hello world"); err != nil {
		t.Errorf("SetSignature failed: %v", err)
	}

	got, _ := testStore.GetUserByID(user.ID)
	if got.Signature != "hello world" {
		t.Errorf("Expected signature 'hello world', got '%s'", got.Signature)
	}
}

func TestAddDonation(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()

	user := createTestUser(t, "alice")
	if user.IsDonor {
		t.Error("New user should not be a donor")
	}

	if err := testStore.AddDonation(user.ID, 500); err != nil {
		t.Errorf("AddDonation failed: %v", err)
	}

	got, _ := testStore.GetUserByID(user.ID)
	if !got.IsDonor {
		t.Error("Expected donor flag after donation")
	}
}
