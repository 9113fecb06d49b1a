package sqlstore

import (
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"whisperchat/internal/models"
)

var testStore *SQLStore

func SetupTestDB(t *testing.T) {
	var err error
	testStore, err = New("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
}

func TeardownTestDB() {
	testStore.db.Close()
}

func createTestUser(t *testing.T, username string) *models.User {
	t.Helper()
	u := &models.User{Username: username, Password: "hash", PublicKey: "pk-" + username}
	if err := testStore.CreateUser(u); err != nil {
		t.Fatalf("Failed to create user %s: %v", username, err)
	}
	return u
}
